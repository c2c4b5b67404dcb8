package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quakeloss/internal/calibration"
	"github.com/sells-group/quakeloss/internal/config"
	"github.com/sells-group/quakeloss/internal/country"
	"github.com/sells-group/quakeloss/internal/exposure"
	"github.com/sells-group/quakeloss/internal/gridio"
	"github.com/sells-group/quakeloss/internal/loss"
)

// unGrowthHeaderRow is the zero-based header row of UN WPP growth sheets.
const unGrowthHeaderRow = 16

// LoadData reads every reference file named in cfg. Grids come through
// cache so repeated loads share one copy.
func LoadData(ctx context.Context, cfg config.DataConfig, eng config.EngineConfig, cache *gridio.Cache) (Data, *country.Registry, error) {
	if cache == nil {
		cache = gridio.NewCache(gridio.LoadASCII)
	}
	data := Data{PopulationYear: cfg.PopulationYear}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pop, err := cache.Get(gctx, cfg.PopulationGrid)
		data.Population = pop
		return eris.Wrap(err, "engine: population grid")
	})
	g.Go(func() error {
		iso, err := cache.Get(gctx, cfg.CountryGrid)
		data.Countries = iso
		return eris.Wrap(err, "engine: country grid")
	})

	var reg *country.Registry
	var fatality, economic *calibration.ModelSet
	var calFile *calibration.File
	g.Go(func() error {
		var err error
		reg, err = LoadRegistry(cfg.Countries)
		return err
	})
	g.Go(func() error {
		var err error
		fatality, err = loadModels(cfg.FatalityModels)
		return eris.Wrap(err, "engine: fatality models")
	})
	g.Go(func() error {
		var err error
		economic, err = loadModels(cfg.EconomicModels)
		return eris.Wrap(err, "engine: economic models")
	})
	g.Go(func() error {
		var err error
		calFile, err = loadCalibrationFile(cfg.Calibration)
		return err
	})
	if eng.ApplyGrowth {
		g.Go(func() error {
			if cfg.Growth == "" {
				data.Growth = exposure.NewGrowth(nil, eng.GrowthRate)
				return nil
			}
			gr, err := exposure.LoadGrowthXLSX(cfg.Growth, exposure.GrowthXLSXOptions{HeaderRow: unGrowthHeaderRow})
			if err != nil {
				return eris.Wrap(err, "engine: growth rates")
			}
			if eng.GrowthRate != 0 {
				gr.Default = eng.GrowthRate
			}
			data.Growth = gr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Data{}, nil, err
	}

	data.Calibration = calibration.Build(reg, fatality, economic, calFile)
	data.ISO2 = reg.ISO2

	if cfg.GDP != "" {
		gdp, err := country.LoadGDPXLSX(cfg.GDP, reg)
		if err != nil {
			return Data{}, nil, eris.Wrap(err, "engine: gdp")
		}
		data.GDP = gdp
	}

	zap.L().Info("engine: reference data loaded",
		zap.Int("countries", reg.Len()),
		zap.Int("population_year", data.PopulationYear),
		zap.Bool("growth", data.Growth != nil),
		zap.Bool("gdp", data.GDP != nil),
	)
	return data, reg, nil
}

// LoadRegistry reads the country list from a .xlsx workbook or a CSV file.
func LoadRegistry(path string) (*country.Registry, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		reg, err := country.LoadXLSX(path)
		return reg, eris.Wrap(err, "engine: countries")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: open countries %s", path)
	}
	defer f.Close() //nolint:errcheck
	reg, err := country.LoadCSV(f)
	return reg, eris.Wrap(err, "engine: countries")
}

func loadModels(path string) (*calibration.ModelSet, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return calibration.LoadModelsXML(f)
}

func loadCalibrationFile(path string) (*calibration.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: open calibration %s", path)
	}
	defer f.Close() //nolint:errcheck
	file, err := calibration.LoadYAML(f)
	return file, eris.Wrap(err, "engine: calibration")
}

// BuildModels returns the named loss models. gdp may be nil.
func BuildModels(names []string, gdp loss.GDPSource) ([]loss.Model, error) {
	models := make([]loss.Model, 0, len(names))
	for _, n := range names {
		switch n {
		case loss.NameEmpirical:
			models = append(models, loss.Empirical{})
		case loss.NameSemiEmpirical:
			models = append(models, loss.SemiEmpirical{})
		case loss.NameEconomic:
			models = append(models, loss.Economic{GDP: gdp})
		default:
			return nil, eris.Errorf("engine: unknown model %q", n)
		}
	}
	return models, nil
}
