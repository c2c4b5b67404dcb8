package calibration

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// File is the YAML calibration document carrying semi-empirical building
// data, per-country weights and rate overrides.
type File struct {
	Countries []CountryEntry `yaml:"countries"`
}

// CountryEntry is one country block of a calibration File. Code is the
// ISO numeric code; ISO2 is resolved from the registry when blank.
type CountryEntry struct {
	Code          int                `yaml:"code"`
	Weights       map[string]float64 `yaml:"weights"`
	FatalityRates []float64          `yaml:"fatality_rates"`
	EconomicRates []float64          `yaml:"economic_rates"`
	Semi          *Semi              `yaml:"semi"`
}

// LoadYAML decodes and validates a calibration File.
func LoadYAML(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &File{}, nil
		}
		return nil, eris.Wrap(err, "calibration: parse yaml")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks rate vector lengths, fractions and weights.
func (f *File) Validate() error {
	seen := make(map[int]bool, len(f.Countries))
	for _, c := range f.Countries {
		if c.Code <= 0 {
			return eris.Errorf("calibration: country code must be positive, got %d", c.Code)
		}
		if seen[c.Code] {
			return eris.Errorf("calibration: country %d listed twice", c.Code)
		}
		seen[c.Code] = true
		for name, rates := range map[string][]float64{"fatality_rates": c.FatalityRates, "economic_rates": c.EconomicRates} {
			if len(rates) != 0 && len(rates) != 10 {
				return eris.Errorf("calibration: country %d %s must have 10 values, got %d", c.Code, name, len(rates))
			}
		}
		for name, w := range c.Weights {
			if w < 0 {
				return eris.Errorf("calibration: country %d weight %q is negative", c.Code, name)
			}
		}
		if c.Semi != nil {
			if err := c.Semi.validate(); err != nil {
				return eris.Wrapf(err, "calibration: country %d", c.Code)
			}
		}
	}
	return nil
}

func (s *Semi) validate() error {
	if s.UrbanFraction < 0 || s.UrbanFraction > 1 {
		return eris.Errorf("urban_fraction %v outside [0,1]", s.UrbanFraction)
	}
	if w := s.Workforce; w != nil {
		for _, v := range []float64{w.Total, w.Agricultural, w.Industrial, w.Services} {
			if v < 0 || v > 1 {
				return eris.Errorf("workforce fraction %v outside [0,1]", v)
			}
		}
	}
	for code, rates := range s.Collapse {
		if len(rates) != 4 {
			return eris.Errorf("collapse rates for %s must cover MMI 6-9, got %d values", code, len(rates))
		}
	}
	for d := range s.Inventory {
		if d != Urban && d != Rural {
			return eris.Errorf("unknown inventory density %q", d)
		}
	}
	return nil
}
