package grid

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/model"
)

// Aligned holds the shaking, population and country rasters co-registered
// on the shaking grid's geometry. Cells with Valid[i] false are excluded
// from every downstream aggregation.
type Aligned struct {
	GeoDict
	Event      model.Event
	MMI        []float64
	Population []float64
	Country    []int
	Valid      []bool
}

// Align resamples the population and country rasters onto the shaking grid.
// Population uses an area-conserving method, country codes use nearest
// neighbour. A shaking grid with no overlap with either reference grid fails
// with *model.GridMismatchError.
func Align(shake ShakeGrid, pop, country *Grid, r Resampler) (*Aligned, error) {
	for _, g := range []*Grid{shake.MMI, pop, country} {
		if g == nil {
			return nil, &model.InvariantViolationError{Check: "align", Detail: "nil grid"}
		}
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	if r == nil {
		r = DefaultResampler{}
	}

	target := shake.MMI.GeoDict
	footprint := target.Bounds()
	if OverlapArea(footprint, pop.Bounds()) == 0 {
		return nil, &model.GridMismatchError{Grid: "population"}
	}
	if OverlapArea(footprint, country.Bounds()) == 0 {
		return nil, &model.GridMismatchError{Grid: "country"}
	}

	var popOnTarget, isoOnTarget *Grid
	if pop.GeoDict.Equal(target) {
		popOnTarget = pop.Clone()
	} else {
		popOnTarget = r.AreaWeighted(pop, target)
	}
	if country.GeoDict.Equal(target) {
		isoOnTarget = country.Clone()
	} else {
		isoOnTarget = r.Nearest(country, target)
	}

	n := target.NX * target.NY
	a := &Aligned{
		GeoDict:    target,
		Event:      shake.Event,
		MMI:        make([]float64, n),
		Population: make([]float64, n),
		Country:    make([]int, n),
		Valid:      make([]bool, n),
	}
	copy(a.MMI, shake.MMI.Data)

	var valid int
	for row := 0; row < target.NY; row++ {
		for col := 0; col < target.NX; col++ {
			i := row*target.NX + col
			x, y := target.CellCenter(row, col)

			p := popOnTarget.Data[i]
			if math.IsNaN(p) || p < 0 {
				p = 0
			}
			a.Population[i] = p

			code := isoOnTarget.Data[i]
			if !math.IsNaN(code) {
				a.Country[i] = int(math.Round(code))
			}

			a.Valid[i] = !math.IsNaN(a.MMI[i]) && pop.Contains(x, y) && country.Contains(x, y)
			if a.Valid[i] {
				valid++
			}
		}
	}

	zap.L().Debug("grid: aligned reference rasters",
		zap.String("event_id", shake.Event.ID),
		zap.Int("cells", n),
		zap.Int("valid_cells", valid),
		zap.Bool("population_resampled", !pop.GeoDict.Equal(target)),
		zap.Bool("country_resampled", !country.GeoDict.Equal(target)),
	)

	return a, nil
}

// Len returns the number of cells.
func (a *Aligned) Len() int {
	return len(a.MMI)
}

// ValidPopulation returns the population of every valid cell, in cell order.
func (a *Aligned) ValidPopulation() []float64 {
	out := make([]float64, 0, len(a.Population))
	for i, ok := range a.Valid {
		if ok {
			out = append(out, a.Population[i])
		}
	}
	return out
}

// MaxBorderMMI returns the largest intensity along any edge of the grid.
// A high value means the shaking footprint may be clipped.
func (a *Aligned) MaxBorderMMI() float64 {
	best := math.NaN()
	take := func(v float64) {
		if math.IsNaN(v) {
			return
		}
		if math.IsNaN(best) || v > best {
			best = v
		}
	}
	for col := 0; col < a.NX; col++ {
		take(a.MMI[col])
		take(a.MMI[(a.NY-1)*a.NX+col])
	}
	for row := 0; row < a.NY; row++ {
		take(a.MMI[row*a.NX])
		take(a.MMI[row*a.NX+a.NX-1])
	}
	return best
}
