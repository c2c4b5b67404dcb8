package loss

import (
	"math"
	"slices"
	"time"

	"github.com/sells-group/quakeloss/internal/calibration"
	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/model"
)

// DefaultSemiSigma is used when a country's building data carries no
// uncertainty.
const DefaultSemiSigma = 1.0

// TimeOfDay is the local occupancy period of an event.
type TimeOfDay string

// Occupancy periods.
const (
	Day     TimeOfDay = "day"
	Transit TimeOfDay = "transit"
	Night   TimeOfDay = "night"
)

// LocalTimeOfDay shifts a UTC origin time by longitude/15 hours and
// classifies the local hour: day 10-16, night 22-05, transit otherwise.
func LocalTimeOfDay(utc time.Time, lon float64) TimeOfDay {
	offset := time.Duration(lon / 15 * float64(time.Hour))
	h := utc.UTC().Add(offset).Hour()
	switch {
	case h >= 22 || h <= 5:
		return Night
	case h >= 10 && h < 17:
		return Day
	default:
		return Transit
	}
}

// share is the fraction of each population group present in a location:
// non-workers, then industrial, service and agricultural workers.
type share struct {
	nonWorker, industrial, services, agricultural float64
}

// occupancy splits population between residential buildings,
// non-residential buildings and outdoors. school adds non-workers to
// non-residential buildings.
type occupancy struct {
	residential, nonResidential, outdoor share
	school                               float64
}

var occupancyTable = map[calibration.Density]map[TimeOfDay]occupancy{
	calibration.Urban: {
		Day: {
			residential:    share{0.40, 0.01, 0.01, 0.01},
			nonResidential: share{0, 0.89, 0.89, 0.34},
			outdoor:        share{0.35, 0.1, 0.1, 0.65},
			school:         0.25,
		},
		Transit: {
			residential:    share{0.75, 0.20, 0.25, 0.45},
			nonResidential: share{0, 0.25, 0.25, 0.01},
			outdoor:        share{0.25, 0.55, 0.50, 0.54},
		},
		Night: {
			residential:    share{0.999, 0.84, 0.89, 0.998},
			nonResidential: share{0, 0.15, 0.1, 0.001},
			outdoor:        share{0.001, 0.01, 0.01, 0.001},
		},
	},
	calibration.Rural: {
		Day: {
			residential:    share{0.40, 0.05, 0.05, 0.01},
			nonResidential: share{0, 0.85, 0.85, 0.04},
			outdoor:        share{0.35, 0.1, 0.1, 0.95},
			school:         0.25,
		},
		Transit: {
			residential:    share{0.80, 0.10, 0.15, 0.65},
			nonResidential: share{0, 0.20, 0.20, 0.01},
			outdoor:        share{0.20, 0.70, 0.65, 0.34},
		},
		Night: {
			residential:    share{0.999, 0.89, 0.89, 0.998},
			nonResidential: share{0, 0.1, 0.1, 0.001},
			outdoor:        share{0.001, 0.01, 0.01, 0.001},
		},
	},
}

func (s share) apply(wf calibration.Workforce) float64 {
	nonWorker := 1 - wf.Total
	return s.nonWorker*nonWorker +
		s.industrial*wf.Total*wf.Industrial +
		s.services*wf.Total*wf.Services +
		s.agricultural*wf.Total*wf.Agricultural
}

// distribute returns the residential, non-residential and outdoor
// population for pop people of one density class.
func distribute(pop float64, wf calibration.Workforce, tod TimeOfDay, d calibration.Density) (res, nonRes, out float64) {
	o := occupancyTable[d][tod]
	res = pop * o.residential.apply(wf)
	nonRes = pop * (o.nonResidential.apply(wf) + o.school*(1-wf.Total))
	out = pop * o.outdoor.apply(wf)
	return res, nonRes, out
}

// SemiEmpirical estimates fatalities from building inventories, collapse
// rates and casualty rates at MMI 6 through 9.
type SemiEmpirical struct{}

// Name implements Model.
func (SemiEmpirical) Name() string { return NameSemiEmpirical }

// Kind implements Model.
func (SemiEmpirical) Kind() model.LossKind { return model.LossFatality }

// Estimate implements Model. A country without workforce, inventory,
// collapse or casualty data is an abstention.
func (SemiEmpirical) Estimate(t *exposure.Table, cal calibration.Source) (*Estimate, error) {
	est := &Estimate{Model: NameSemiEmpirical, Kind: model.LossFatality}
	tod := LocalTimeOfDay(t.Event.Time, t.Event.Lon)

	for _, code := range t.Countries() {
		rec, ok := cal.Lookup(code)
		if !ok || rec.Semi == nil || rec.Semi.Workforce == nil {
			est.abstain(code, "no workforce data")
			continue
		}
		s := rec.Semi
		if reason := semiGap(s); reason != "" {
			est.abstain(code, reason)
			continue
		}

		lv, _ := t.Exposure(code)
		exp := foldHigh(lv)
		var fat float64
		bl := newBuildingLosses()
		// exp[1:] covers MMI 6..9.
		for i, pop := range exp[1:] {
			for _, d := range []calibration.Density{calibration.Urban, calibration.Rural} {
				frac := s.UrbanFraction
				if d == calibration.Rural {
					frac = 1 - frac
				}
				if frac == 0 || pop == 0 {
					continue
				}
				res, nonRes, _ := distribute(pop*frac, *s.Workforce, tod, d)
				inv := s.Inventory[d]
				fat += buildingLoss(res, inv.Residential, s, i, tod, bl.Residential)
				fat += buildingLoss(nonRes, inv.NonResidential, s, i, tod, bl.NonResidential)
			}
		}

		sigma := math.Sqrt(s.InventorySigma*s.InventorySigma + s.CollapseSigma*s.CollapseSigma)
		if sigma == 0 {
			sigma = DefaultSemiSigma
		}
		est.Countries = append(est.Countries, CountryLoss{Code: code, ISO2: rec.ISO2, Value: fat, Sigma: sigma, Buildings: bl})
	}

	if _, err := est.finish(); err != nil {
		return nil, err
	}
	est.Sigma = weightedSigma(est.Countries)
	return est, nil
}

// buildingLoss spreads indoor population over building types and applies
// collapse (index 0 is MMI 6) and casualty-given-collapse rates. Each
// type's fatalities are added to byType.
func buildingLoss(pop float64, inventory map[string]float64, s *calibration.Semi, mmiIdx int, tod TimeOfDay, byType map[string]float64) float64 {
	codes := make([]string, 0, len(inventory))
	for b := range inventory {
		codes = append(codes, b)
	}
	slices.Sort(codes)

	var total float64
	for _, b := range codes {
		frac := inventory[b]
		if frac <= 0 || math.IsNaN(frac) {
			continue
		}
		cas := s.Casualty[b].Day
		if tod == Night {
			cas = s.Casualty[b].Night
		}
		f := pop * frac * s.Collapse[b][mmiIdx] * cas
		if f > 0 {
			byType[b] += f
		}
		total += f
	}
	return total
}

// semiGap names the first missing piece of building data, "" when the
// record is complete for its urban/rural split.
func semiGap(s *calibration.Semi) string {
	var needed []calibration.Density
	if s.UrbanFraction > 0 {
		needed = append(needed, calibration.Urban)
	}
	if s.UrbanFraction < 1 {
		needed = append(needed, calibration.Rural)
	}
	for _, d := range needed {
		inv, ok := s.Inventory[d]
		if !ok || (len(inv.Residential) == 0 && len(inv.NonResidential) == 0) {
			return "no " + string(d) + " building inventory"
		}
		for _, m := range []map[string]float64{inv.Residential, inv.NonResidential} {
			for b, frac := range m {
				if frac <= 0 {
					continue
				}
				if len(s.Collapse[b]) != 4 {
					return "no collapse rates for building type " + b
				}
				if _, ok := s.Casualty[b]; !ok {
					return "no casualty rates for building type " + b
				}
			}
		}
	}
	return ""
}

// weightedSigma is the loss-weighted mean of country sigmas, or their
// maximum when no country has a loss.
func weightedSigma(countries []CountryLoss) float64 {
	var num, den, maxSigma float64
	for _, c := range countries {
		num += c.Value * c.Sigma
		den += c.Value
		maxSigma = math.Max(maxSigma, c.Sigma)
	}
	if den > 0 {
		return num / den
	}
	if maxSigma == 0 {
		return DefaultSemiSigma
	}
	return maxSigma
}
