// Package exposure bins shaking intensity and aggregates population exposed
// per country and intensity level.
package exposure

import "math"

// NumBins is the number of intensity levels (MMI I through X+).
const NumBins = 10

// MinReportable is the lower edge of bin 1. Intensities below it are not
// exposed.
const MinReportable = 0.5

// Bin maps a continuous intensity to its level in [1, NumBins]. Bin n covers
// [n-0.5, n+0.5) and bin 10 is open-ended. ok is false for NaN and for
// values below MinReportable.
func Bin(v float64) (bin int, ok bool) {
	if math.IsNaN(v) || v < MinReportable {
		return 0, false
	}
	if v >= NumBins-0.5 {
		return NumBins, true
	}
	return int(math.Floor(v + 0.5)), true
}

// ReportingLevel is one row of the published exposure summary. Levels II
// and III are reported together.
type ReportingLevel struct {
	Label string `json:"label"`
	Bins  []int  `json:"bins"`
}

// ReportingLevels lists the published levels in ascending order.
var ReportingLevels = []ReportingLevel{
	{Label: "I", Bins: []int{1}},
	{Label: "II-III", Bins: []int{2, 3}},
	{Label: "IV", Bins: []int{4}},
	{Label: "V", Bins: []int{5}},
	{Label: "VI", Bins: []int{6}},
	{Label: "VII", Bins: []int{7}},
	{Label: "VIII", Bins: []int{8}},
	{Label: "IX", Bins: []int{9}},
	{Label: "X+", Bins: []int{10}},
}

// Roman returns the roman numeral of a bin, "" when out of range.
func Roman(bin int) string {
	numerals := [...]string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X"}
	if bin < 1 || bin > NumBins {
		return ""
	}
	return numerals[bin-1]
}
