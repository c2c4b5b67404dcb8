// Package report writes event results as JSON, CSV and plain-text
// summaries.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quakeloss/internal/engine"
	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/loss"
	"github.com/sells-group/quakeloss/internal/model"
	"github.com/sells-group/quakeloss/internal/shapes"
)

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "report: encode json")
}

var exposureHeader = []string{"country", "iso2", "bin", "mmi", "population"}

// WriteExposureCSV writes one row per country and intensity bin.
// iso2 may be nil.
func WriteExposureCSV(w io.Writer, rows []exposure.Row, iso2 func(int) string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exposureHeader); err != nil {
		return eris.Wrap(err, "report: write header")
	}
	for _, r := range rows {
		code := ""
		if iso2 != nil {
			code = iso2(r.Country)
		}
		rec := []string{
			strconv.Itoa(r.Country),
			code,
			strconv.Itoa(r.Bin),
			exposure.Roman(r.Bin),
			strconv.FormatInt(r.Population, 10),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "report: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteShapeLossCSV writes per-polygon loss totals.
func WriteShapeLossCSV(w io.Writer, rows []shapes.ShapeLoss) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "cells", "loss"}); err != nil {
		return eris.Wrap(err, "report: write header")
	}
	for _, r := range rows {
		rec := []string{r.ID, strconv.Itoa(r.Cells), strconv.FormatFloat(r.Loss, 'f', 2, 64)}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "report: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// FormatSummary renders a plain-text summary of one event.
func FormatSummary(res *engine.Result) string {
	var b strings.Builder

	ev := res.Event
	fmt.Fprintf(&b, "# %s M%.1f %s\n", ev.ID, ev.Magnitude, ev.Location)
	fmt.Fprintf(&b, "Origin: %s (%.3f, %.3f) depth %.1f km\n", ev.Time.UTC().Format("2006-01-02 15:04:05 MST"), ev.Lat, ev.Lon, ev.Depth)
	if res.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", res.RunID)
	}
	b.WriteString("\n")

	b.WriteString("## Alert\n")
	fmt.Fprintf(&b, "- Summary: %s (%s)\n", strings.ToUpper(res.Alert.Level.String()), res.Alert.Kind)
	for _, a := range res.Alerts {
		fmt.Fprintf(&b, "- %s: %s (p=%.2f)\n", a.Kind, a.Level, a.Probability)
	}
	b.WriteString("\n")

	b.WriteString("## Estimates\n")
	if res.Fatality != nil {
		fmt.Fprintf(&b, "- Fatalities: median %s, sigma %.2f\n", FormatCount(res.Fatality.Median), res.Fatality.Sigma)
	}
	if res.Economic != nil {
		fmt.Fprintf(&b, "- Economic losses: median %s, sigma %.2f\n", FormatDollars(res.Economic.Median), res.Economic.Sigma)
	}
	b.WriteString("\n")

	if res.Exposure != nil {
		b.WriteString("## Population exposure\n")
		bins := res.Exposure.BinTotals()
		for _, lvl := range exposure.ReportingLevels {
			var n float64
			for _, bin := range lvl.Bins {
				n += bins[bin-1]
			}
			fmt.Fprintf(&b, "- MMI %s: %s\n", lvl.Label, FormatCount(n))
		}
		if res.Summary.MaxBorderMMI >= 6 {
			fmt.Fprintf(&b, "- Warning: MMI %.1f on the grid edge, exposure may be underestimated\n", res.Summary.MaxBorderMMI)
		}
		b.WriteString("\n")
	}

	if len(res.Countries) > 0 {
		b.WriteString("## Countries\n")
		for _, c := range res.Countries {
			line := fmt.Sprintf("- %s (%d): %s exposed at MMI V+", c.ISO2, c.Code, FormatCount(c.Exposure.From(5)))
			if c.Fatality != nil {
				line += ", fatalities " + FormatCount(c.Fatality.Median)
			}
			if c.Economic != nil {
				line += ", losses " + FormatDollars(c.Economic.Median)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	writeStructures(&b, res.Models)

	if len(res.Summary.Abstentions) > 0 {
		b.WriteString("## Abstentions\n")
		for _, a := range res.Summary.Abstentions {
			fmt.Fprintf(&b, "- %s: %s\n", abstentionScope(a), a.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Phases\n")
	for _, p := range res.Summary.Phases {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", p.Name, p.Status, p.Duration)
		if p.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", p.Error)
		}
	}
	return b.String()
}

// topBuildings is how many building types a structures line lists.
const topBuildings = 3

// writeStructures lists the building types behind each country's
// fatalities, for models that break losses down by building.
func writeStructures(b *strings.Builder, ests []*loss.Estimate) {
	var lines []string
	for _, e := range ests {
		if e == nil {
			continue
		}
		for _, c := range e.Countries {
			top := c.Buildings.Top(topBuildings)
			if len(top) == 0 {
				continue
			}
			parts := make([]string, len(top))
			for i, s := range top {
				parts[i] = fmt.Sprintf("%s %.0f%%", s.Type, 100*s.Share)
			}
			lines = append(lines, fmt.Sprintf("- %s (%d, %s): %s", c.ISO2, c.Code, e.Model, strings.Join(parts, ", ")))
		}
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("## Structures\n")
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n")
}

func abstentionScope(a model.Abstention) string {
	if a.Country == 0 {
		return a.Model
	}
	return fmt.Sprintf("%s/%d", a.Model, a.Country)
}

// FormatCount formats a number rounded to an integer with thousands
// separators, e.g. "1,234,567".
func FormatCount(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "n/a"
	}
	intVal := int64(math.Round(n))
	negative := intVal < 0
	if negative {
		intVal = -intVal
	}

	s := strconv.FormatInt(intVal, 10)
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if negative {
		return "-" + string(result)
	}
	return string(result)
}

// FormatDollars formats a USD amount as "$1,234,567".
func FormatDollars(n float64) string {
	s := FormatCount(n)
	if strings.HasPrefix(s, "-") {
		return "-$" + s[1:]
	}
	if s == "n/a" {
		return s
	}
	return "$" + s
}
