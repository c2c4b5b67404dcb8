package calibration

import (
	"go.uber.org/zap"

	"github.com/sells-group/quakeloss/internal/country"
)

// Build merges the registry, the empirical model sets and an optional YAML
// file into a Catalog. Every registry country gets a record; countries
// missing from a model set keep a nil curve for that kind and fall back to
// the default record at estimation time. Eastern and western US regions
// without their own building data inherit the national record.
func Build(reg *country.Registry, fatality, economic *ModelSet, file *File) *Catalog {
	entries := make(map[int]CountryCalibration)
	codes := make([]int, 0)

	for _, code := range registryCodes(reg) {
		c, _ := reg.ByCode(code)
		rec := CountryCalibration{Code: code, ISO2: c.ISO2}
		if fatality != nil {
			if m, ok := fatality.Models[c.ISO2]; ok {
				rec.Fatality = &m
			}
		}
		if economic != nil {
			if m, ok := economic.Models[c.ISO2]; ok {
				rec.Economic = &m
			}
		}
		entries[code] = rec
		codes = append(codes, code)
	}

	if file != nil {
		for _, fc := range file.Countries {
			rec, ok := entries[fc.Code]
			if !ok {
				rec = CountryCalibration{Code: fc.Code, ISO2: iso2(reg, fc.Code)}
				codes = append(codes, fc.Code)
			}
			if fc.Weights != nil {
				rec.Weights = fc.Weights
			}
			if fc.FatalityRates != nil {
				rec.FatalityRates = fc.FatalityRates
			}
			if fc.EconomicRates != nil {
				rec.EconomicRates = fc.EconomicRates
			}
			if fc.Semi != nil {
				rec.Semi = fc.Semi
			}
			entries[fc.Code] = rec
		}
	}

	if us, ok := entries[country.USCode]; ok && us.Semi != nil {
		for _, code := range []int{903, 904} {
			if rec, ok := entries[code]; ok && rec.Semi == nil {
				rec.Semi = us.Semi
				entries[code] = rec
			}
		}
	}

	list := make([]CountryCalibration, 0, len(codes))
	for _, code := range codes {
		list = append(list, entries[code])
	}
	def := DefaultRecord()
	cat := NewCatalog(&def, list...)

	zap.L().Info("calibration: catalog built",
		zap.Int("countries", cat.Len()),
		zap.Int("fatality_models", modelCount(fatality)),
		zap.Int("economic_models", modelCount(economic)),
	)
	return cat
}

func registryCodes(reg *country.Registry) []int {
	if reg == nil {
		return nil
	}
	return reg.Codes()
}

func iso2(reg *country.Registry, code int) string {
	if reg == nil {
		return country.Unknown.ISO2
	}
	return reg.ISO2(code)
}

func modelCount(s *ModelSet) int {
	if s == nil {
		return 0
	}
	return len(s.Models)
}
