// Package combine merges loss model estimates into one lognormal mixture
// and reports its median, spread and order-of-magnitude probabilities.
package combine

import (
	"encoding/json"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/quakeloss/internal/loss"
	"github.com/sells-group/quakeloss/internal/model"
)

const (
	// EventScope is the Country value of an event-level estimate.
	EventScope = 0

	// When bracketing, a median below 1 pins a sigma above
	// smallSigmaLimit to smallSigma as in the empirical models.
	smallSigmaLimit = 1.7
	smallSigma      = 1.7613

	minSigma = 1e-6
	bisectN  = 200
)

// EconomicUnit converts USD into the USD millions used by brackets.
const EconomicUnit = 1e6

// Bracket is one order-of-magnitude loss range [Low, High) and its
// probability mass. Economic bounds are in USD millions.
type Bracket struct {
	Label       string  `json:"label"`
	Low         float64 `json:"low"`
	High        float64 `json:"high"`
	Probability float64 `json:"probability"`
}

// MarshalJSON writes the open upper bound of the last bracket as null.
func (b Bracket) MarshalJSON() ([]byte, error) {
	out := struct {
		Label       string   `json:"label"`
		Low         float64  `json:"low"`
		High        *float64 `json:"high"`
		Probability float64  `json:"probability"`
	}{Label: b.Label, Low: b.Low, Probability: b.Probability}
	if !math.IsInf(b.High, 1) {
		h := b.High
		out.High = &h
	}
	return json.Marshal(out)
}

// bracketBounds are the lower bounds of the standard ranges.
var bracketBounds = []float64{0, 1, 10, 100, 1000, 10000, 100000}

var bracketLabels = []string{"0-1", "1-10", "10-100", "100-1,000", "1,000-10,000", "10,000-100,000", "100,000+"}

// Component is one model's contribution to a combined estimate.
// SigmaClamped is set when a positive median came with a sigma that is
// not positive and minSigma was used instead.
type Component struct {
	Model        string  `json:"model"`
	Weight       float64 `json:"weight"`
	Median       float64 `json:"median"`
	Sigma        float64 `json:"sigma"`
	SigmaClamped bool    `json:"sigma_clamped,omitempty"`
}

// Estimate is a combined loss distribution. Median is in fatalities or USD.
type Estimate struct {
	Kind       model.LossKind `json:"kind"`
	Country    int            `json:"country"`
	Median     float64        `json:"median"`
	Sigma      float64        `json:"sigma"`
	Components []Component    `json:"components"`
	Brackets   []Bracket      `json:"brackets"`
}

// Exceedance returns the probability mass of brackets whose lower bound is
// at or above lower (in bracket units).
func (e *Estimate) Exceedance(lower float64) float64 {
	var p float64
	for _, b := range e.Brackets {
		if b.Low >= lower {
			p += b.Probability
		}
	}
	return p
}

// Unit returns the bracket unit of a loss kind.
func Unit(kind model.LossKind) float64 {
	if kind == model.LossEconomic {
		return EconomicUnit
	}
	return 1
}

// part is a mixture component in bracket units and log space. A zero part
// is a point mass at no loss.
type part struct {
	weight float64
	mu     float64
	sigma  float64
	zero   bool
}

func newPart(weight, median, sigma float64) part {
	if median <= 0 {
		return part{weight: weight, sigma: sigma, zero: true}
	}
	return part{weight: weight, mu: math.Log(median), sigma: sigma}
}

// forBrackets applies the small-median widening.
func (p part) forBrackets() part {
	if !p.zero && p.mu < 0 && p.sigma > smallSigmaLimit {
		p.sigma = smallSigma
	}
	return p
}

func (p part) cdf(lnx float64) float64 {
	if p.zero {
		return 1
	}
	return distuv.UnitNormal.CDF((lnx - p.mu) / p.sigma)
}

func mixtureCDF(parts []part, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if math.IsInf(x, 1) {
		return 1
	}
	lnx := math.Log(x)
	var f float64
	for _, p := range parts {
		f += p.weight * p.cdf(lnx)
	}
	return f
}

// Combine merges the estimates of one kind at event scope. Estimates of
// other kinds are ignored. A model that abstained on some countries takes
// the combined median of the other models for those countries, so it
// still contributes; a model with no country left is dropped.
func Combine(kind model.LossKind, ests []*loss.Estimate, w Weights) (*Estimate, error) {
	var usable []*loss.Estimate
	for _, e := range ests {
		if e == nil || e.Kind != kind || (len(e.Countries) == 0 && len(e.Abstained) > 0) {
			continue
		}
		usable = append(usable, e)
	}

	var picked []input
	fill := map[int]float64{}
	for _, e := range usable {
		value := e.Value
		seen := map[int]bool{}
		for _, a := range e.Abstained {
			if _, ok := e.Country(a.Country); ok || seen[a.Country] {
				continue
			}
			seen[a.Country] = true
			v, ok := fill[a.Country]
			if !ok {
				v = countryMedian(a.Country, kind, usable, w)
				fill[a.Country] = v
			}
			value += v
		}
		picked = append(picked, input{model: e.Model, value: value, sigma: e.Sigma})
	}
	return mix(kind, EventScope, picked, w)
}

// countryMedian is the combined median of the models that covered a
// country, or 0 when none did.
func countryMedian(code int, kind model.LossKind, ests []*loss.Estimate, w Weights) float64 {
	c, err := CombineCountry(code, kind, ests, w)
	if err != nil {
		return 0
	}
	return c.Median
}

// CombineCountry merges the estimates of one kind for a single country.
// Models that abstained on that country are dropped.
func CombineCountry(code int, kind model.LossKind, ests []*loss.Estimate, w Weights) (*Estimate, error) {
	var picked []input
	for _, e := range ests {
		if e == nil || e.Kind != kind || e.AbstainedFor(code) {
			continue
		}
		c, ok := e.Country(code)
		if !ok {
			continue
		}
		picked = append(picked, input{model: e.Model, value: c.Value, sigma: c.Sigma})
	}
	return mix(kind, code, picked, w)
}

type input struct {
	model string
	value float64
	sigma float64
}

func mix(kind model.LossKind, scope int, in []input, w Weights) (*Estimate, error) {
	weights := w.normalize(modelNames(in))
	if len(weights) == 0 {
		return nil, &model.NoModelsAvailableError{Kind: kind}
	}

	unit := Unit(kind)
	out := &Estimate{Kind: kind, Country: scope}
	var parts []part
	used := make(map[string]bool, len(in))
	for _, i := range in {
		wt := weights[i.model]
		if wt <= 0 || used[i.model] {
			continue
		}
		used[i.model] = true
		comp := Component{Model: i.model, Weight: wt, Median: i.value, Sigma: i.sigma}
		s := i.sigma
		if !(s > 0) {
			if i.value > 0 {
				comp.SigmaClamped = true
				zap.L().Debug("combine: non-positive sigma",
					zap.String("model", i.model),
					zap.Int("country", scope),
					zap.Float64("median", i.value),
					zap.Float64("sigma", i.sigma),
				)
			}
			s = minSigma
		}
		parts = append(parts, newPart(wt, i.value/unit, s))
		out.Components = append(out.Components, comp)
	}

	if len(out.Components) == 1 {
		out.Median = math.Max(0, out.Components[0].Median)
		out.Sigma = parts[0].sigma
	} else {
		out.Median = medianOf(parts) * unit
		out.Sigma = logStdDev(parts)
	}

	widened := make([]part, len(parts))
	for k, p := range parts {
		widened[k] = p.forBrackets()
	}
	out.Brackets = brackets(widened)
	return out, nil
}

func modelNames(in []input) []string {
	names := make([]string, len(in))
	for i, x := range in {
		names[i] = x.model
	}
	return names
}

// medianOf bisects the mixture CDF in log space for F(x) = 0.5. It is 0
// when zero parts carry at least half the weight.
func medianOf(parts []part) float64 {
	var zeroWeight float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range parts {
		if p.zero {
			zeroWeight += p.weight
			continue
		}
		lo = math.Min(lo, p.mu-10*p.sigma)
		hi = math.Max(hi, p.mu+10*p.sigma)
	}
	if zeroWeight >= 0.5 || math.IsInf(lo, 1) {
		return 0
	}
	f := func(lnx float64) float64 {
		v := zeroWeight
		for _, p := range parts {
			if !p.zero {
				v += p.weight * p.cdf(lnx)
			}
		}
		return v
	}
	for range bisectN {
		mid := (lo + hi) / 2
		if f(mid) < 0.5 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return math.Exp((lo + hi) / 2)
}

// logStdDev is the standard deviation of ln(loss) over the parts with a
// loss, reweighted among themselves. With no such part it is the weighted
// mean sigma.
func logStdDev(parts []part) float64 {
	var total, mean, second, meanSigma float64
	for _, p := range parts {
		meanSigma += p.weight * p.sigma
		if p.zero {
			continue
		}
		total += p.weight
		mean += p.weight * p.mu
		second += p.weight * (p.sigma*p.sigma + p.mu*p.mu)
	}
	if total == 0 {
		return meanSigma
	}
	mean /= total
	second /= total
	return math.Sqrt(math.Max(0, second-mean*mean))
}

func brackets(parts []part) []Bracket {
	out := make([]Bracket, len(bracketBounds))
	for i, low := range bracketBounds {
		high := math.Inf(1)
		if i+1 < len(bracketBounds) {
			high = bracketBounds[i+1]
		}
		p := mixtureCDF(parts, high) - mixtureCDF(parts, low)
		out[i] = Bracket{Label: bracketLabels[i], Low: low, High: high, Probability: math.Max(0, p)}
	}
	return out
}

// Weights maps model names to relative weights. Models without an entry
// weigh 1.
type Weights map[string]float64

// With returns a copy of w overridden by a country's weights.
func (w Weights) With(override map[string]float64) Weights {
	out := make(Weights, len(w)+len(override))
	for k, v := range w {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// normalize returns weights for the named models summing to 1, or nil
// when no model has positive weight. A repeated name counts once.
func (w Weights) normalize(names []string) map[string]float64 {
	raw := make(map[string]float64, len(names))
	var total float64
	for _, n := range names {
		v, ok := w[n]
		if !ok {
			v = 1
		}
		if v <= 0 || math.IsNaN(v) {
			continue
		}
		if _, dup := raw[n]; dup {
			continue
		}
		raw[n] = v
		total += v
	}
	if total == 0 {
		return nil
	}
	for k, v := range raw {
		raw[k] = v / total
	}
	return raw
}
