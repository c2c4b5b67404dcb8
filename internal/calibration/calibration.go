// Package calibration holds the per-country parameters that drive the loss
// models. Records are immutable once a Catalog is built.
package calibration

import (
	"maps"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Default empirical curve used for countries without a calibrated model.
const (
	DefaultTheta = 16.0
	DefaultBeta  = 0.15
	DefaultL2G   = 1.0
	DefaultAlpha = 1.0
)

// Lognormal is an empirical loss-rate curve rate(mmi) = Φ(ln(mmi/θ)/β).
// L2G is the model's log-residual norm and Alpha the economic correction
// factor (1 for fatality models).
type Lognormal struct {
	Theta float64 `json:"theta" yaml:"theta"`
	Beta  float64 `json:"beta" yaml:"beta"`
	L2G   float64 `json:"l2g" yaml:"l2g"`
	Alpha float64 `json:"alpha" yaml:"alpha"`
}

// DefaultLognormal returns the global fallback curve.
func DefaultLognormal() Lognormal {
	return Lognormal{Theta: DefaultTheta, Beta: DefaultBeta, L2G: DefaultL2G, Alpha: DefaultAlpha}
}

// Rate returns the loss rate at an intensity.
func (l Lognormal) Rate(mmi float64) float64 {
	if mmi <= 0 || l.Theta <= 0 || l.Beta <= 0 {
		return 0
	}
	return distuv.UnitNormal.CDF(math.Log(mmi/l.Theta) / l.Beta)
}

// Valid reports whether the curve parameters are usable.
func (l Lognormal) Valid() bool {
	return l.Theta > 0 && l.Beta > 0 && l.L2G >= 0 && !math.IsNaN(l.Theta+l.Beta+l.L2G)
}

// Density is an urban/rural class.
type Density string

// Density classes.
const (
	Urban Density = "urban"
	Rural Density = "rural"
)

// Workforce holds the fraction of population in the workforce and the
// split of that workforce by sector.
type Workforce struct {
	Total        float64 `json:"total" yaml:"total"`
	Agricultural float64 `json:"agricultural" yaml:"agricultural"`
	Industrial   float64 `json:"industrial" yaml:"industrial"`
	Services     float64 `json:"services" yaml:"services"`
}

// Inventory is the fraction of residential and non-residential occupants
// per building type code.
type Inventory struct {
	Residential    map[string]float64 `json:"residential" yaml:"residential"`
	NonResidential map[string]float64 `json:"non_residential" yaml:"non_residential"`
}

// Casualty is the fatality rate given collapse, by time of day. Transit
// uses the day rate.
type Casualty struct {
	Day   float64 `json:"day" yaml:"day"`
	Night float64 `json:"night" yaml:"night"`
}

// Semi holds building-stock data for the semi-empirical model.
type Semi struct {
	UrbanFraction float64               `json:"urban_fraction" yaml:"urban_fraction"`
	Workforce     *Workforce            `json:"workforce,omitempty" yaml:"workforce"`
	Inventory     map[Density]Inventory `json:"inventory,omitempty" yaml:"inventory"`
	// Collapse rates per building type at MMI 6, 7, 8 and 9.
	Collapse       map[string][]float64 `json:"collapse,omitempty" yaml:"collapse"`
	Casualty       map[string]Casualty  `json:"casualty,omitempty" yaml:"casualty"`
	InventorySigma float64              `json:"inventory_sigma" yaml:"inventory_sigma"`
	CollapseSigma  float64              `json:"collapse_sigma" yaml:"collapse_sigma"`
}

// CountryCalibration is everything the loss models know about one country.
type CountryCalibration struct {
	Code     int        `json:"code"`
	ISO2     string     `json:"iso2"`
	Fatality *Lognormal `json:"fatality,omitempty"`
	Economic *Lognormal `json:"economic,omitempty"`
	// Rate overrides at MMI 1..10; when set they replace the lognormal curve.
	FatalityRates []float64          `json:"fatality_rates,omitempty"`
	EconomicRates []float64          `json:"economic_rates,omitempty"`
	Semi          *Semi              `json:"semi,omitempty"`
	Weights       map[string]float64 `json:"weights,omitempty"`
}

// clone returns a copy that shares no maps with c.
func (c CountryCalibration) clone() CountryCalibration {
	out := c
	if c.Fatality != nil {
		f := *c.Fatality
		out.Fatality = &f
	}
	if c.Economic != nil {
		e := *c.Economic
		out.Economic = &e
	}
	out.FatalityRates = append([]float64(nil), c.FatalityRates...)
	out.EconomicRates = append([]float64(nil), c.EconomicRates...)
	out.Weights = maps.Clone(c.Weights)
	if c.Semi != nil {
		s := *c.Semi
		if c.Semi.Workforce != nil {
			w := *c.Semi.Workforce
			s.Workforce = &w
		}
		s.Inventory = make(map[Density]Inventory, len(c.Semi.Inventory))
		for d, inv := range c.Semi.Inventory {
			s.Inventory[d] = Inventory{
				Residential:    maps.Clone(inv.Residential),
				NonResidential: maps.Clone(inv.NonResidential),
			}
		}
		s.Collapse = make(map[string][]float64, len(c.Semi.Collapse))
		for code, rates := range c.Semi.Collapse {
			s.Collapse[code] = append([]float64(nil), rates...)
		}
		s.Casualty = maps.Clone(c.Semi.Casualty)
		out.Semi = &s
	}
	return out
}

// Source resolves calibration records by ISO numeric code.
type Source interface {
	Lookup(code int) (CountryCalibration, bool)
	Default() (CountryCalibration, bool)
}

// Catalog is an in-memory Source.
type Catalog struct {
	byCode     map[int]CountryCalibration
	def        CountryCalibration
	hasDefault bool
}

// NewCatalog builds a catalog. A nil def means no default curve.
func NewCatalog(def *CountryCalibration, entries ...CountryCalibration) *Catalog {
	c := &Catalog{byCode: make(map[int]CountryCalibration, len(entries))}
	if def != nil {
		c.def = def.clone()
		c.hasDefault = true
	}
	for _, e := range entries {
		c.byCode[e.Code] = e.clone()
	}
	return c
}

// Lookup returns a copy of a country's record.
func (c *Catalog) Lookup(code int) (CountryCalibration, bool) {
	e, ok := c.byCode[code]
	if !ok {
		return CountryCalibration{}, false
	}
	return e.clone(), true
}

// Default returns the fallback record.
func (c *Catalog) Default() (CountryCalibration, bool) {
	if !c.hasDefault {
		return CountryCalibration{}, false
	}
	return c.def.clone(), true
}

// Len returns the number of country records.
func (c *Catalog) Len() int { return len(c.byCode) }

// DefaultRecord is the global fallback: default empirical curves for both
// loss kinds and no semi-empirical data.
func DefaultRecord() CountryCalibration {
	f := DefaultLognormal()
	e := DefaultLognormal()
	return CountryCalibration{ISO2: "default", Fatality: &f, Economic: &e}
}
