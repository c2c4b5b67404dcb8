package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data   DataConfig   `yaml:"data" mapstructure:"data"`
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// DataConfig points at the reference data files.
type DataConfig struct {
	PopulationGrid string `yaml:"population_grid" mapstructure:"population_grid"`
	PopulationYear int    `yaml:"population_year" mapstructure:"population_year"`
	CountryGrid    string `yaml:"country_grid" mapstructure:"country_grid"`
	Countries      string `yaml:"countries" mapstructure:"countries"`
	GDP            string `yaml:"gdp" mapstructure:"gdp"`
	Growth         string `yaml:"growth" mapstructure:"growth"`
	FatalityModels string `yaml:"fatality_models" mapstructure:"fatality_models"`
	EconomicModels string `yaml:"economic_models" mapstructure:"economic_models"`
	Calibration    string `yaml:"calibration" mapstructure:"calibration"`
}

// EngineConfig tunes the loss computation.
type EngineConfig struct {
	Models              []string           `yaml:"models" mapstructure:"models"`
	Weights             map[string]float64 `yaml:"weights" mapstructure:"weights"`
	AlertThreshold      float64            `yaml:"alert_threshold" mapstructure:"alert_threshold"`
	MaxConcurrentEvents int                `yaml:"max_concurrent_events" mapstructure:"max_concurrent_events"`
	ApplyGrowth         bool               `yaml:"apply_growth" mapstructure:"apply_growth"`
	GrowthRate          float64            `yaml:"growth_rate" mapstructure:"growth_rate"`
}

// StoreConfig configures the result store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the results API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// FetchConfig controls how remote ShakeMap grids are downloaded.
type FetchConfig struct {
	Dir           string  `yaml:"dir" mapstructure:"dir"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	GridName      string  `yaml:"grid_name" mapstructure:"grid_name"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// KnownModels lists the loss model names the engine can run.
var KnownModels = []string{"empirical", "semi-empirical", "economic"}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("QUAKELOSS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.population_grid", "data/landscan.asc")
	v.SetDefault("data.population_year", 2016)
	v.SetDefault("data.country_grid", "data/isogrid.asc")
	v.SetDefault("data.countries", "data/countries.csv")
	v.SetDefault("data.gdp", "")
	v.SetDefault("data.growth", "")
	v.SetDefault("data.fatality_models", "data/fatality.xml")
	v.SetDefault("data.economic_models", "data/economy.xml")
	v.SetDefault("data.calibration", "")
	v.SetDefault("engine.models", KnownModels)
	v.SetDefault("engine.weights", map[string]float64{"empirical": 1, "semi-empirical": 1, "economic": 1})
	v.SetDefault("engine.alert_threshold", 0.10)
	v.SetDefault("engine.max_concurrent_events", 4)
	v.SetDefault("engine.apply_growth", true)
	v.SetDefault("engine.growth_rate", 0.0117)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "quakeloss.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("fetch.dir", "")
	v.SetDefault("fetch.user_agent", "quakeloss/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.rate_per_second", 2.0)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.grid_name", "grid.xml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "run", "serve" and "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	switch mode {
	case "run":
		errs = append(errs, c.validateEngine()...)
		errs = append(errs, c.validateData()...)
		errs = append(errs, c.validateFetch()...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateEngine() []string {
	var errs []string
	e := c.Engine
	if e.AlertThreshold <= 0 || e.AlertThreshold >= 1 {
		errs = append(errs, "engine.alert_threshold must be between 0 and 1 (exclusive)")
	}
	if e.MaxConcurrentEvents < 1 || e.MaxConcurrentEvents > 64 {
		errs = append(errs, "engine.max_concurrent_events must be between 1 and 64")
	}
	if e.GrowthRate < -0.1 || e.GrowthRate > 0.1 {
		errs = append(errs, "engine.growth_rate must be between -0.1 and 0.1")
	}
	if len(e.Models) == 0 {
		errs = append(errs, "engine.models must name at least one model")
	}
	for _, m := range e.Models {
		if !slices.Contains(KnownModels, m) {
			errs = append(errs, "engine.models: unknown model "+m)
		}
	}
	for name, w := range e.Weights {
		if w < 0 {
			errs = append(errs, "engine.weights values must be >= 0 ("+name+")")
		}
	}
	return errs
}

func (c *Config) validateData() []string {
	var errs []string
	d := c.Data
	for key, val := range map[string]string{
		"data.population_grid": d.PopulationGrid,
		"data.country_grid":    d.CountryGrid,
		"data.countries":       d.Countries,
		"data.fatality_models": d.FatalityModels,
		"data.economic_models": d.EconomicModels,
	} {
		if val == "" {
			errs = append(errs, key+" is required")
		}
	}
	if d.PopulationYear < 1900 || d.PopulationYear > 2200 {
		errs = append(errs, "data.population_year looks wrong")
	}
	slices.Sort(errs)
	return errs
}

func (c *Config) validateFetch() []string {
	var errs []string
	f := c.Fetch
	if f.TimeoutSecs < 0 {
		errs = append(errs, "fetch.timeout_secs must be >= 0")
	}
	if f.RatePerSecond < 0 {
		errs = append(errs, "fetch.rate_per_second must be >= 0")
	}
	if f.MaxRetries < 0 || f.MaxRetries > 10 {
		errs = append(errs, "fetch.max_retries must be between 0 and 10")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
