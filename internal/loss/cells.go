package loss

import (
	"github.com/sells-group/quakeloss/internal/calibration"
	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/model"
)

// CellLosses applies the empirical curve of kind to every valid cell of an
// aligned grid. Intensities above IX use the IX rate and cells below V or
// without a curve get zero. For economic losses gdp values each person
// (nil uses the global figure).
func CellLosses(a *grid.Aligned, cal calibration.Source, kind model.LossKind, gdp GDPSource) []float64 {
	out := make([]float64, a.Len())
	year := a.Event.Time.Year()
	curves := make(map[int]*curve)
	scales := make(map[int]float64)

	for i := range out {
		if !a.Valid[i] {
			continue
		}
		b, ok := exposure.Bin(a.MMI[i])
		if !ok || b < 5 {
			continue
		}
		b = min(b, 9)

		code := a.Country[i]
		c, seen := curves[code]
		if !seen {
			if found, ok := resolveCurve(cal, code, kind); ok {
				c = &found
			}
			curves[code] = c
			scale := 1.0
			if c != nil && kind == model.LossEconomic {
				scale = perCapita(gdp, code, year) * c.ln.Alpha
			}
			scales[code] = scale
		}
		if c == nil {
			continue
		}
		out[i] = a.Population[i] * scales[code] * c.rate(b)
	}
	return out
}
