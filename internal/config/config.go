package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration.
type Config struct {
	Backend     BackendConfig     `yaml:"backend" mapstructure:"backend"`
	EarthEngine EarthEngineConfig `yaml:"earthengine" mapstructure:"earthengine"`
	Analysis    AnalysisConfig    `yaml:"analysis" mapstructure:"analysis"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Lang        string            `yaml:"lang" mapstructure:"lang"`
}

// BackendConfig selects where reductions run: "remote" (Earth Engine) or
// "local" (an in-memory grid loaded from Fixture).
type BackendConfig struct {
	Kind    string `yaml:"kind" mapstructure:"kind"`
	Fixture string `yaml:"fixture" mapstructure:"fixture"`
}

// EarthEngineConfig holds compute service settings.
type EarthEngineConfig struct {
	Project   string        `yaml:"project" mapstructure:"project"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	Token     string        `yaml:"token" mapstructure:"token"`
	Asset     string        `yaml:"asset" mapstructure:"asset"`
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retry     RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker   BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// RetryConfig bounds retries of transient compute service errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig tunes the compute service circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// AnalysisConfig tunes area aggregation.
type AnalysisConfig struct {
	ScaleM       float64 `yaml:"scale_m" mapstructure:"scale_m"`
	MaxPixels    int64   `yaml:"max_pixels" mapstructure:"max_pixels"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	FailFast     bool    `yaml:"fail_fast" mapstructure:"fail_fast"`
	StrictLookup bool    `yaml:"strict_lookup" mapstructure:"strict_lookup"`
	FirstYear    int     `yaml:"first_year" mapstructure:"first_year"`
	LastYear     int     `yaml:"last_year" mapstructure:"last_year"`
}

// Timeout is the per-reduction wait.
func (a AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// StoreConfig selects the run cache: "none", "sqlite", or "postgres".
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// CacheTTL is how long cached runs stay valid.
func (s StoreConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLHours) * time.Hour
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	LayerCacheSize    int      `yaml:"layer_cache_size" mapstructure:"layer_cache_size"`
	LayerCacheTTLMins int      `yaml:"layer_cache_ttl_mins" mapstructure:"layer_cache_ttl_mins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory (if present), then
// applies MAPBIOMAS_* environment overrides on top of defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MAPBIOMAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend.kind", "remote")
	v.SetDefault("earthengine.base_url", "https://earthengine.googleapis.com")
	v.SetDefault("earthengine.asset", "projects/mapbiomas-public/assets/brazil/lulc/collection9/mapbiomas_collection90_integration_v1")
	v.SetDefault("earthengine.rate_limit", 10)
	v.SetDefault("earthengine.retry.max_attempts", 3)
	v.SetDefault("earthengine.retry.initial_backoff_ms", 500)
	v.SetDefault("earthengine.retry.max_backoff_ms", 10000)
	v.SetDefault("earthengine.breaker.failure_threshold", 5)
	v.SetDefault("earthengine.breaker.cooldown_secs", 30)
	v.SetDefault("analysis.scale_m", 30)
	v.SetDefault("analysis.max_pixels", int64(1_000_000_000))
	v.SetDefault("analysis.timeout_secs", 60)
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("analysis.first_year", 1985)
	v.SetDefault("analysis.last_year", 2023)
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.cache_ttl_hours", 24)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.layer_cache_size", 256)
	v.SetDefault("server.layer_cache_ttl_mins", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("lang", "pt-BR")

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

// Validate checks the settings a command mode needs: "analyze" for any
// command that evaluates the raster, "serve" for the HTTP server, "store"
// for run cache maintenance.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "analyze":
		errs = append(errs, c.validateAnalysis()...)
	case "serve":
		errs = append(errs, c.validateAnalysis()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "store":
		switch c.Store.Driver {
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAnalysis() []string {
	var errs []string

	switch c.Backend.Kind {
	case "remote":
		if c.EarthEngine.Project == "" {
			errs = append(errs, "earthengine.project is required")
		}
		if c.EarthEngine.Token == "" {
			errs = append(errs, "earthengine.token is required")
		}
	case "local":
		if c.Backend.Fixture == "" {
			errs = append(errs, "backend.fixture is required for the local backend")
		}
	default:
		errs = append(errs, "backend.kind must be remote or local")
	}

	a := c.Analysis
	if a.ScaleM <= 0 {
		errs = append(errs, "analysis.scale_m must be > 0")
	}
	if a.MaxPixels <= 0 {
		errs = append(errs, "analysis.max_pixels must be > 0")
	}
	if a.Concurrency < 1 || a.Concurrency > 64 {
		errs = append(errs, "analysis.concurrency must be between 1 and 64")
	}
	if a.FirstYear > a.LastYear {
		errs = append(errs, "analysis.first_year must be <= analysis.last_year")
	}

	switch c.Store.Driver {
	case "", "none":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, "store.driver must be none, sqlite or postgres")
	}
	return errs
}

// InitLogger replaces the global zap logger.
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
