package loss

import (
	"math"

	"github.com/sells-group/quakeloss/internal/calibration"
	"github.com/sells-group/quakeloss/internal/country"
	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/model"
)

// GDPSource returns per-capita GDP in USD for a country and year.
type GDPSource interface {
	PerCapita(code, year int) (float64, string)
}

// Empirical is the country-calibrated lognormal fatality model.
type Empirical struct{}

// Name implements Model.
func (Empirical) Name() string { return NameEmpirical }

// Kind implements Model.
func (Empirical) Kind() model.LossKind { return model.LossFatality }

// Estimate implements Model.
func (Empirical) Estimate(t *exposure.Table, cal calibration.Source) (*Estimate, error) {
	return estimateCurve(NameEmpirical, model.LossFatality, t, cal, nil)
}

// Economic applies the economic lognormal curve to exposure valued at
// per-capita GDP times the country's alpha. Losses are in USD.
type Economic struct {
	GDP GDPSource
}

// Name implements Model.
func (Economic) Name() string { return NameEconomic }

// Kind implements Model.
func (Economic) Kind() model.LossKind { return model.LossEconomic }

// Estimate implements Model.
func (e Economic) Estimate(t *exposure.Table, cal calibration.Source) (*Estimate, error) {
	year := t.Event.Time.Year()
	return estimateCurve(NameEconomic, model.LossEconomic, t, cal, func(code int) float64 {
		return perCapita(e.GDP, code, year)
	})
}

func perCapita(src GDPSource, code, year int) float64 {
	if src == nil {
		return country.GlobalGDP
	}
	v, _ := src.PerCapita(code, year)
	return v
}

// curve is a resolved loss-rate function for one country and kind.
type curve struct {
	iso2  string
	ln    calibration.Lognormal
	rates []float64
}

// rate returns the loss rate at an integer intensity.
func (c curve) rate(mmi int) float64 {
	if len(c.rates) == exposure.NumBins {
		return c.rates[mmi-1]
	}
	return c.ln.Rate(float64(mmi))
}

// resolveCurve finds the country's curve for kind, falling back to the
// source's default record. ok is false when neither exists.
func resolveCurve(cal calibration.Source, code int, kind model.LossKind) (curve, bool) {
	rec, found := cal.Lookup(code)
	pick := func(r calibration.CountryCalibration) (*calibration.Lognormal, []float64) {
		if kind == model.LossEconomic {
			return r.Economic, r.EconomicRates
		}
		return r.Fatality, r.FatalityRates
	}

	c := curve{iso2: rec.ISO2}
	var ln *calibration.Lognormal
	if found {
		ln, c.rates = pick(rec)
	}
	if ln == nil {
		if def, ok := cal.Default(); ok {
			ln, _ = pick(def)
		}
	}
	switch {
	case ln != nil:
		c.ln = *ln
	case len(c.rates) == exposure.NumBins:
		c.ln = calibration.Lognormal{L2G: calibration.DefaultL2G, Alpha: calibration.DefaultAlpha}
	default:
		return curve{}, false
	}
	return c, true
}

// estimateCurve runs a lognormal rate model over every known country.
// value, when non-nil, scales exposure per person (per-capita GDP for
// economic losses); alpha is applied with it.
func estimateCurve(name string, kind model.LossKind, t *exposure.Table, cal calibration.Source, value func(code int) float64) (*Estimate, error) {
	est := &Estimate{Model: name, Kind: kind}
	for _, code := range t.Countries() {
		c, ok := resolveCurve(cal, code, kind)
		if !ok {
			est.abstain(code, "no calibrated or default curve")
			continue
		}
		scale := 1.0
		if value != nil {
			scale = value(code) * c.ln.Alpha
		}
		lv, _ := t.Exposure(code)
		exp := foldHigh(lv)
		var l float64
		for i, pop := range exp {
			l += pop * scale * c.rate(i+5)
		}
		est.Countries = append(est.Countries, CountryLoss{
			Code:  code,
			ISO2:  c.iso2,
			Value: l,
			Sigma: math.Min(MaxSigma, c.ln.L2G),
		})
	}
	if _, err := est.finish(); err != nil {
		return nil, err
	}
	est.Sigma = combinedG(est.Countries, func(c CountryLoss) float64 { return c.Sigma })
	return est, nil
}
