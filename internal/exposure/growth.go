package exposure

import (
	"math"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/refdata"
)

// DefaultGrowthRate is the annual growth used for countries without data.
const DefaultGrowthRate = 0.0117

const (
	// GrowthWarnYears is the population age that triggers a warning.
	GrowthWarnYears = 10
	// GrowthMaxYears is the population age beyond which growth is refused.
	GrowthMaxYears = 20
)

// US sub-regions share the national rates.
var usRegionCodes = []int{902, 903, 904}

const usCode = 840

// RatePeriod is one interval of a country's growth series.
type RatePeriod struct {
	Start int
	End   int
	Rate  float64
}

// Growth projects population counts between years with per-country annual
// rates.
type Growth struct {
	Default float64
	rates   map[int][]RatePeriod
}

// NewGrowth returns a Growth with the given series. A zero default uses
// DefaultGrowthRate.
func NewGrowth(rates map[int][]RatePeriod, def float64) *Growth {
	if def == 0 {
		def = DefaultGrowthRate
	}
	if rates == nil {
		rates = make(map[int][]RatePeriod)
	}
	return &Growth{Default: def, rates: rates}
}

// Rate returns the annual rate for a country and year. Years before the
// first period use the first rate, years after the last use the last rate,
// otherwise the period whose end year is closest wins.
func (g *Growth) Rate(code, year int) float64 {
	periods, ok := g.rates[code]
	if !ok || len(periods) == 0 {
		return g.Default
	}
	minStart, maxEnd := periods[0].Start, periods[0].End
	for _, p := range periods {
		minStart = min(minStart, p.Start)
		maxEnd = max(maxEnd, p.End)
	}
	switch {
	case year < minStart:
		return periods[0].Rate
	case year > maxEnd:
		return periods[len(periods)-1].Rate
	}
	best, bestDist := 0, math.MaxInt
	for i, p := range periods {
		d := year - p.End
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return periods[best].Rate
}

// Factor returns the multiplier that carries population from popYear to
// eventYear, compounding one year at a time.
func (g *Growth) Factor(code, popYear, eventYear int) float64 {
	f := 1.0
	switch {
	case popYear < eventYear:
		for y := popYear; y < eventYear; y++ {
			f *= 1 + g.Rate(code, y)
		}
	case popYear > eventYear:
		for y := popYear; y > eventYear; y-- {
			f /= 1 + g.Rate(code, y)
		}
	}
	return f
}

// Apply scales aligned population in place from popYear to eventYear.
func (g *Growth) Apply(a *grid.Aligned, popYear, eventYear int) error {
	age := eventYear - popYear
	if age > GrowthMaxYears {
		return eris.Errorf("exposure: population data from %d is more than %d years older than event year %d", popYear, GrowthMaxYears, eventYear)
	}
	if age > GrowthWarnYears {
		zap.L().Warn("exposure: population data is old",
			zap.String("event_id", a.Event.ID),
			zap.Int("population_year", popYear),
			zap.Int("event_year", eventYear),
		)
	}
	if age == 0 {
		return nil
	}

	factors := make(map[int]float64)
	for i := range a.Population {
		if !a.Valid[i] {
			continue
		}
		code := a.Country[i]
		f, ok := factors[code]
		if !ok {
			f = g.Factor(code, popYear, eventYear)
			factors[code] = f
		}
		a.Population[i] *= f
	}
	return nil
}

var periodHeader = regexp.MustCompile(`^\s*(\d{4})\s*-\s*(\d{4})\s*$`)

// GrowthXLSXOptions locates the UN growth-rate table in a workbook.
type GrowthXLSXOptions struct {
	HeaderRow  int    // UN WPP sheets put the header on row 16
	CodeColumn string // default "Country code"
}

// LoadGrowthXLSX reads UN World Population Prospects growth rates (percent
// per year, one column per "YYYY-YYYY" period).
func LoadGrowthXLSX(path string, opts GrowthXLSXOptions) (*Growth, error) {
	if opts.CodeColumn == "" {
		opts.CodeColumn = "Country code"
	}
	sheet, err := refdata.ReadXLSX(path, refdata.XLSXOptions{HeaderRow: opts.HeaderRow})
	if err != nil {
		return nil, eris.Wrap(err, "exposure: read growth workbook")
	}
	return growthFromSheet(sheet, opts.CodeColumn)
}

func growthFromSheet(sheet *refdata.Sheet, codeColumn string) (*Growth, error) {
	codeCol := sheet.Col(codeColumn)
	if codeCol < 0 {
		return nil, eris.Errorf("exposure: growth sheet has no %q column", codeColumn)
	}

	type periodCol struct {
		col        int
		start, end int
	}
	var cols []periodCol
	for i, h := range sheet.Header {
		m := periodHeader.FindStringSubmatch(h)
		if m == nil {
			continue
		}
		s, _ := strconv.Atoi(m[1])
		e, _ := strconv.Atoi(m[2])
		cols = append(cols, periodCol{col: i, start: s, end: e})
	}
	if len(cols) == 0 {
		return nil, eris.New("exposure: growth sheet has no period columns")
	}

	rates := make(map[int][]RatePeriod)
	for _, row := range sheet.Rows {
		code, ok := refdata.Int(row, codeCol)
		if !ok {
			continue
		}
		periods := make([]RatePeriod, 0, len(cols))
		for _, c := range cols {
			pct, ok := refdata.Float(row, c.col)
			if !ok {
				continue
			}
			periods = append(periods, RatePeriod{Start: c.start, End: c.end, Rate: pct / 100})
		}
		if len(periods) > 0 {
			rates[code] = periods
		}
	}
	if us, ok := rates[usCode]; ok {
		for _, c := range usRegionCodes {
			rates[c] = us
		}
	}
	return NewGrowth(rates, DefaultGrowthRate), nil
}
