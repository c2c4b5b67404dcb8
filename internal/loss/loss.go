// Package loss implements the fatality and economic loss models. Models are
// pure functions of an exposure table and a calibration source.
package loss

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/quakeloss/internal/calibration"
	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/model"
)

// Model names as used in configured weights.
const (
	NameEmpirical     = "empirical"
	NameSemiEmpirical = "semi-empirical"
	NameEconomic      = "economic"
)

// MaxSigma caps the combined log-residual norm of a multi-country estimate.
const MaxSigma = 2.5

// Model estimates one kind of loss from exposure.
type Model interface {
	Name() string
	Kind() model.LossKind
	Estimate(t *exposure.Table, cal calibration.Source) (*Estimate, error)
}

// CountryLoss is one country's share of an estimate. Buildings is set by
// models that work per building type.
type CountryLoss struct {
	Code      int             `json:"code"`
	ISO2      string          `json:"iso2"`
	Value     float64         `json:"value"`
	Sigma     float64         `json:"sigma"`
	Buildings *BuildingLosses `json:"buildings,omitempty"`
}

// BuildingLosses are fatalities by building type, split between people
// in residential and non-residential buildings.
type BuildingLosses struct {
	Residential    map[string]float64 `json:"residential"`
	NonResidential map[string]float64 `json:"non_residential"`
}

// BuildingShare is one building type's fatalities and its fraction of the
// country's building fatalities.
type BuildingShare struct {
	Type       string  `json:"type"`
	Fatalities float64 `json:"fatalities"`
	Share      float64 `json:"share"`
}

func newBuildingLosses() *BuildingLosses {
	return &BuildingLosses{Residential: map[string]float64{}, NonResidential: map[string]float64{}}
}

// Total sums both occupancies.
func (b *BuildingLosses) Total() float64 {
	if b == nil {
		return 0
	}
	var t float64
	for _, m := range []map[string]float64{b.Residential, b.NonResidential} {
		for _, v := range m {
			t += v
		}
	}
	return t
}

// Top returns up to n building types with fatalities, largest first, with
// residential and non-residential losses added together. Ties sort by type.
func (b *BuildingLosses) Top(n int) []BuildingShare {
	total := b.Total()
	if total <= 0 || n <= 0 {
		return nil
	}
	byType := map[string]float64{}
	for _, m := range []map[string]float64{b.Residential, b.NonResidential} {
		for k, v := range m {
			byType[k] += v
		}
	}
	out := make([]BuildingShare, 0, len(byType))
	for k, v := range byType {
		if v > 0 {
			out = append(out, BuildingShare{Type: k, Fatalities: v, Share: v / total})
		}
	}
	slices.SortFunc(out, func(x, y BuildingShare) int {
		if x.Fatalities != y.Fatalities {
			if x.Fatalities > y.Fatalities {
				return -1
			}
			return 1
		}
		return strings.Compare(x.Type, y.Type)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Estimate is a model's median loss and log-space sigma, with per-country
// detail and the countries it abstained on.
type Estimate struct {
	Model     string             `json:"model"`
	Kind      model.LossKind     `json:"kind"`
	Value     float64            `json:"value"`
	Sigma     float64            `json:"sigma"`
	Countries []CountryLoss      `json:"countries"`
	Abstained []model.Abstention `json:"abstained,omitempty"`
}

// Country returns the loss for one country.
func (e *Estimate) Country(code int) (CountryLoss, bool) {
	for _, c := range e.Countries {
		if c.Code == code {
			return c, true
		}
	}
	return CountryLoss{}, false
}

// AbstainedFor reports whether the model declined to estimate a country.
func (e *Estimate) AbstainedFor(code int) bool {
	return slices.ContainsFunc(e.Abstained, func(a model.Abstention) bool { return a.Country == code })
}

func (e *Estimate) abstain(code int, reason string) {
	e.Abstained = append(e.Abstained, model.Abstention{Model: e.Model, Country: code, Reason: reason})
}

// finish totals the country losses, or reports an event-level abstention
// when every exposed country was declined.
func (e *Estimate) finish() (*Estimate, error) {
	if len(e.Countries) == 0 && len(e.Abstained) > 0 {
		return nil, &model.InsufficientDataError{Model: e.Model, Reason: "no usable data for any exposed country"}
	}
	vals := make([]float64, len(e.Countries))
	for i, c := range e.Countries {
		vals[i] = c.Value
	}
	slices.Sort(vals)
	e.Value = floats.SumCompensated(vals)
	return e, nil
}

// combinedG returns min(MaxSigma, sqrt(Σ g²)) over countries with a
// non-zero loss, or over every country when the total loss is zero.
func combinedG(countries []CountryLoss, g func(CountryLoss) float64) float64 {
	var total float64
	for _, c := range countries {
		total += c.Value
	}
	var sq []float64
	for _, c := range countries {
		if total > 0 && c.Value <= 0 {
			continue
		}
		v := g(c)
		sq = append(sq, v*v)
	}
	if len(sq) == 0 {
		return calibration.DefaultL2G
	}
	return math.Min(MaxSigma, math.Sqrt(floats.Sum(sq)))
}

// foldHigh returns exposure at MMI 5..9 with bin 10 folded into 9.
func foldHigh(lv exposure.Levels) [5]float64 {
	var out [5]float64
	copy(out[:], lv[4:9])
	out[4] += lv[9]
	return out
}

// Outcome is one model's result in a RunAll call. Err is nil or an
// abstention.
type Outcome struct {
	Model    string
	Kind     model.LossKind
	Estimate *Estimate
	Err      error
}

// Abstained reports whether the model declined the whole event.
func (o Outcome) Abstained() bool {
	return o.Estimate == nil && model.IsAbstention(o.Err)
}

// RunAll evaluates every model concurrently and waits for all of them.
// Abstentions are returned in the outcome; any other model error fails
// the call.
func RunAll(ctx context.Context, models []Model, t *exposure.Table, cal calibration.Source) ([]Outcome, error) {
	outs := make([]Outcome, len(models))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range models {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "loss: cancelled")
			}
			est, err := m.Estimate(t, cal)
			outs[i] = Outcome{Model: m.Name(), Kind: m.Kind(), Estimate: est, Err: err}
			if err != nil && !model.IsAbstention(err) {
				return eris.Wrapf(err, "loss: model %s", m.Name())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, o := range outs {
		switch {
		case o.Abstained():
			zap.L().Info("loss: model abstained",
				zap.String("event_id", t.Event.ID),
				zap.String("model", o.Model),
				zap.Error(o.Err),
			)
		case o.Estimate != nil:
			zap.L().Debug("loss: model estimate",
				zap.String("event_id", t.Event.ID),
				zap.String("model", o.Model),
				zap.Float64("value", o.Estimate.Value),
				zap.Float64("sigma", o.Estimate.Sigma),
				zap.Int("abstained_countries", len(o.Estimate.Abstained)),
			)
		}
	}
	return outs, nil
}

// Estimates returns the non-abstaining estimates of one kind.
func Estimates(outs []Outcome, kind model.LossKind) []*Estimate {
	var out []*Estimate
	for _, o := range outs {
		if o.Kind == kind && o.Estimate != nil {
			out = append(out, o.Estimate)
		}
	}
	return out
}
