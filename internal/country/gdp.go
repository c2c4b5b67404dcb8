package country

import (
	"math"
	"regexp"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quakeloss/internal/refdata"
)

// GlobalGDP is the per-capita gross world product in USD, used when a
// country has no GDP series.
const GlobalGDP = 16100.0

// GDP holds per-capita GDP series keyed by ISO3 code.
type GDP struct {
	registry *Registry
	years    []int
	series   map[string][]float64
}

// NewGDP builds a GDP table from ISO3 → year → value. The registry maps
// numeric codes onto ISO3.
func NewGDP(reg *Registry, values map[string]map[int]float64) *GDP {
	yearSet := make(map[int]struct{})
	for _, byYear := range values {
		for y := range byYear {
			yearSet[y] = struct{}{}
		}
	}
	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	slices.Sort(years)

	series := make(map[string][]float64, len(values))
	for iso3, byYear := range values {
		s := make([]float64, len(years))
		for i, y := range years {
			v, ok := byYear[y]
			if !ok {
				v = math.NaN()
			}
			s[i] = v
		}
		series[iso3] = s
	}
	return &GDP{registry: reg, years: years, series: series}
}

// PerCapita returns per-capita GDP for a numeric country code and year and
// the ISO code the value belongs to ("" for the global fallback). US
// sub-regions use the US series. Years before the series use the earliest
// value; later or missing years use the latest non-missing value.
func (g *GDP) PerCapita(code, year int) (float64, string) {
	c, ok := g.registry.ByCode(code)
	if !ok {
		return GlobalGDP, ""
	}
	iso3, outCode := c.ISO3, c.ISO3
	if USRegion(code) || c.ISO2 == "XF" || c.ISO2 == "EU" || c.ISO2 == "WU" {
		iso3, outCode = "USA", "US"
	}
	s, ok := g.series[iso3]
	if !ok || len(g.years) == 0 {
		return GlobalGDP, ""
	}

	if i, found := slices.BinarySearch(g.years, year); found && !math.IsNaN(s[i]) {
		return s[i], outCode
	}
	if year < g.years[0] {
		for _, v := range s {
			if !math.IsNaN(v) {
				return v, outCode
			}
		}
		return GlobalGDP, ""
	}
	for i := len(s) - 1; i >= 0; i-- {
		if !math.IsNaN(s[i]) {
			return s[i], outCode
		}
	}
	return GlobalGDP, ""
}

var yearHeader = regexp.MustCompile(`^\s*(\d{4})\s*$`)

// LoadGDPXLSX reads the World Bank NY.GDP.PCAP.CD workbook ("Data" sheet,
// header on row 3, one column per year).
func LoadGDPXLSX(path string, reg *Registry) (*GDP, error) {
	sheet, err := refdata.ReadXLSX(path, refdata.XLSXOptions{SheetName: "Data", HeaderRow: 3})
	if err != nil {
		return nil, eris.Wrap(err, "country: read gdp workbook")
	}
	return gdpFromSheet(sheet, reg)
}

func gdpFromSheet(sheet *refdata.Sheet, reg *Registry) (*GDP, error) {
	codeCol := sheet.Col("Country Code")
	if codeCol < 0 {
		return nil, eris.New(`country: gdp sheet has no "Country Code" column`)
	}
	yearCols := make(map[int]int)
	for i, h := range sheet.Header {
		if m := yearHeader.FindStringSubmatch(h); m != nil {
			y, _ := strconv.Atoi(m[1])
			yearCols[i] = y
		}
	}
	values := make(map[string]map[int]float64, len(sheet.Rows))
	for _, row := range sheet.Rows {
		iso3 := refdata.Cell(row, codeCol)
		if iso3 == "" {
			continue
		}
		byYear := make(map[int]float64)
		for col, y := range yearCols {
			if v, ok := refdata.Float(row, col); ok {
				byYear[y] = v
			}
		}
		values[iso3] = byYear
	}
	return NewGDP(reg, values), nil
}
