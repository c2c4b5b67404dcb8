package exposure

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/model"
)

// conservationTolerance is the relative slack allowed between the table
// total and the exposed population.
const conservationTolerance = 1e-9

type cellKey struct {
	country int
	bin     int
}

// Aggregate sums aligned population per (country, bin) over valid cells.
// Each accumulator is sorted before a compensated sum, so the result does
// not depend on the order cells are visited.
func Aggregate(a *grid.Aligned) (*Table, error) {
	if a == nil {
		return nil, &model.InvariantViolationError{Check: "aggregate", Detail: "nil aligned grids"}
	}
	n := a.Len()
	if len(a.Population) != n || len(a.Country) != n || len(a.Valid) != n {
		return nil, &model.InvariantViolationError{
			Check:  "aggregate",
			Detail: fmt.Sprintf("layer lengths differ: mmi=%d pop=%d country=%d valid=%d", n, len(a.Population), len(a.Country), len(a.Valid)),
		}
	}

	acc := make(map[cellKey][]float64)
	var exposed, unexposed []float64
	for i := range n {
		if !a.Valid[i] {
			continue
		}
		pop := a.Population[i]
		b, ok := Bin(a.MMI[i])
		if !ok {
			unexposed = append(unexposed, pop)
			continue
		}
		k := cellKey{country: a.Country[i], bin: b}
		acc[k] = append(acc[k], pop)
		exposed = append(exposed, pop)
	}

	t := NewTable(a.Event)
	t.MaxBorderMMI = a.MaxBorderMMI()
	t.Unexposed = sortedSum(unexposed)
	for k, vals := range acc {
		t.Add(k.country, k.bin, sortedSum(vals))
	}

	want := sortedSum(exposed)
	got := t.Total()
	if math.Abs(got-want) > conservationTolerance*math.Max(1, want) {
		return nil, &model.InvariantViolationError{
			Check:  "exposure conservation",
			Detail: fmt.Sprintf("table total %.6f != exposed population %.6f", got, want),
		}
	}

	zap.L().Debug("exposure: aggregated",
		zap.String("event_id", a.Event.ID),
		zap.Int("countries", len(t.Countries())),
		zap.Float64("total_exposed", got),
		zap.Float64("unexposed", t.Unexposed),
	)
	return t, nil
}

func sortedSum(vals []float64) float64 {
	slices.Sort(vals)
	return floats.SumCompensated(vals)
}
