package exposure

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/quakeloss/internal/model"
)

// UnknownCountry is the reserved key for cells without a country code. It
// counts toward global totals but is excluded from country-level rows.
const UnknownCountry = 0

// Levels holds population exposed at bins 1..10 (index 0 is bin 1).
type Levels [NumBins]float64

// Sum returns the population over every bin.
func (l Levels) Sum() float64 {
	return floats.SumCompensated(l[:])
}

// From returns the population at bins >= minBin.
func (l Levels) From(minBin int) float64 {
	if minBin < 1 {
		minBin = 1
	}
	if minBin > NumBins {
		return 0
	}
	return floats.SumCompensated(l[minBin-1:])
}

// Table is population exposed per (country, bin). Values are unrounded;
// rounding happens only in Rows.
type Table struct {
	Event        model.Event
	MaxBorderMMI float64
	// Unexposed is valid population at intensities below MinReportable.
	Unexposed float64
	countries map[int]*Levels
}

// NewTable returns an empty table for an event.
func NewTable(ev model.Event) *Table {
	return &Table{Event: ev, MaxBorderMMI: math.NaN(), countries: make(map[int]*Levels)}
}

// Add accumulates population for (code, bin). Bins outside [1,10] and
// non-finite or negative populations are ignored.
func (t *Table) Add(code, bin int, pop float64) {
	if bin < 1 || bin > NumBins || math.IsNaN(pop) || math.IsInf(pop, 0) || pop < 0 {
		return
	}
	lv, ok := t.countries[code]
	if !ok {
		lv = &Levels{}
		t.countries[code] = lv
	}
	lv[bin-1] += pop
}

// Codes returns the country codes present, ascending, including
// UnknownCountry when present.
func (t *Table) Codes() []int {
	codes := make([]int, 0, len(t.countries))
	for c := range t.countries {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

// Countries returns the known country codes, ascending.
func (t *Table) Countries() []int {
	codes := t.Codes()
	return slices.DeleteFunc(codes, func(c int) bool { return c == UnknownCountry })
}

// Exposure returns a copy of the levels for a country.
func (t *Table) Exposure(code int) (Levels, bool) {
	lv, ok := t.countries[code]
	if !ok {
		return Levels{}, false
	}
	return *lv, true
}

// CountryTotal returns the exposure of a country at bins >= minBin.
func (t *Table) CountryTotal(code, minBin int) float64 {
	lv, ok := t.countries[code]
	if !ok {
		return 0
	}
	return lv.From(minBin)
}

// BinTotals returns exposure per bin across every country, unknown included.
func (t *Table) BinTotals() Levels {
	var cols [NumBins][]float64
	for _, code := range t.Codes() {
		lv := t.countries[code]
		for b := range NumBins {
			cols[b] = append(cols[b], lv[b])
		}
	}
	var out Levels
	for b := range NumBins {
		out[b] = floats.SumCompensated(cols[b])
	}
	return out
}

// Total returns the grand total over every country and bin.
func (t *Table) Total() float64 {
	return t.BinTotals().Sum()
}

// Collapsed returns a country's exposure per ReportingLevels entry.
func (t *Table) Collapsed(code int) []float64 {
	lv, _ := t.Exposure(code)
	out := make([]float64, len(ReportingLevels))
	for i, rl := range ReportingLevels {
		for _, b := range rl.Bins {
			out[i] += lv[b-1]
		}
	}
	return out
}

// Row is one presentation row of the table.
type Row struct {
	Country    int   `json:"country"`
	Bin        int   `json:"bin"`
	Population int64 `json:"population"`
}

// Rows returns rounded rows for every known country and bin 1..10, in
// country then bin order.
func (t *Table) Rows() []Row {
	codes := t.Countries()
	rows := make([]Row, 0, len(codes)*NumBins)
	for _, code := range codes {
		lv := t.countries[code]
		for b := range NumBins {
			rows = append(rows, Row{Country: code, Bin: b + 1, Population: int64(math.Round(lv[b]))})
		}
	}
	return rows
}
