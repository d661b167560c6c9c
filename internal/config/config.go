package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProvidersConfig holds per-provider endpoints and credentials.
type ProvidersConfig struct {
	WorldBank     ProviderConfig `yaml:"worldbank" mapstructure:"worldbank"`
	RESTCountries ProviderConfig `yaml:"restcountries" mapstructure:"restcountries"`
	GeoNames      ProviderConfig `yaml:"geonames" mapstructure:"geonames"`
	OpenAQ        OpenAQConfig   `yaml:"openaq" mapstructure:"openaq"`
	OpenMeteo     ProviderConfig `yaml:"openmeteo" mapstructure:"openmeteo"`
	NASAPower     ProviderConfig `yaml:"nasapower" mapstructure:"nasapower"`
	Ookla         ProviderConfig `yaml:"ookla" mapstructure:"ookla"`
}

// ProviderConfig holds the settings shared by every provider client.
// Username is only meaningful for GeoNames; BaseURL for Ookla names the
// mirror endpoint serving the open connectivity dataset.
type ProviderConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Username     string  `yaml:"username" mapstructure:"username"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// OpenAQConfig extends ProviderConfig with the OpenAQ key and the station
// measurement lookback window.
type OpenAQConfig struct {
	ProviderConfig `yaml:",inline" mapstructure:",squash"`
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	DaysBack       int    `yaml:"days_back" mapstructure:"days_back"`
}

// RetryConfig configures per-call retry for provider requests.
type RetryConfig struct {
	MaxAttempts        int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs int `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
}

// EnrichConfig configures batch scheduling and the fallback resolver.
type EnrichConfig struct {
	PageSize          int  `yaml:"page_size" mapstructure:"page_size"`
	Concurrency       int  `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts       int  `yaml:"max_attempts" mapstructure:"max_attempts"`
	InterCallDelayMS  int  `yaml:"inter_call_delay_ms" mapstructure:"inter_call_delay_ms"`
	CacheTTLMinutes   int  `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	CacheSize         int  `yaml:"cache_size" mapstructure:"cache_size"`
	RetryExhausted    bool `yaml:"retry_exhausted" mapstructure:"retry_exhausted"`
	SuperviseInterval int  `yaml:"supervise_interval_secs" mapstructure:"supervise_interval_secs"`
}

// InterCallDelay returns the courtesy delay between sequential provider
// calls as a duration.
func (c EnrichConfig) InterCallDelay() time.Duration {
	return time.Duration(c.InterCallDelayMS) * time.Millisecond
}

// CacheTTL returns the national-lookup cache TTL as a duration.
func (c EnrichConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration for the given run mode. Modes: "batch"
// (batch/region/score/seed commands), "serve" (HTTP server), "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "batch", "migrate":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "batch" || mode == "serve" {
		if c.Enrich.PageSize < 1 {
			problems = append(problems, "enrich.page_size must be >= 1")
		}
		if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 32 {
			problems = append(problems, "enrich.concurrency must be between 1 and 32")
		}
		if c.Enrich.MaxAttempts < 1 {
			problems = append(problems, "enrich.max_attempts must be >= 1")
		}
		if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
			problems = append(problems, "retry.max_attempts must be between 1 and 10")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_secs", 1)
	v.SetDefault("enrich.page_size", 10)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.max_attempts", 5)
	v.SetDefault("enrich.inter_call_delay_ms", 200)
	v.SetDefault("enrich.cache_ttl_minutes", 60)
	v.SetDefault("enrich.cache_size", 1024)
	v.SetDefault("enrich.retry_exhausted", false)
	v.SetDefault("enrich.supervise_interval_secs", 30)
	v.SetDefault("providers.worldbank.base_url", "https://api.worldbank.org/v2")
	v.SetDefault("providers.worldbank.rate_limit_rps", 5)
	v.SetDefault("providers.restcountries.base_url", "https://restcountries.com/v3.1")
	v.SetDefault("providers.restcountries.rate_limit_rps", 2)
	v.SetDefault("providers.geonames.base_url", "https://secure.geonames.org")
	v.SetDefault("providers.geonames.username", "demo")
	v.SetDefault("providers.geonames.rate_limit_rps", 1)
	v.SetDefault("providers.openaq.base_url", "https://api.openaq.org/v2")
	v.SetDefault("providers.openaq.rate_limit_rps", 2)
	v.SetDefault("providers.openaq.days_back", 7)
	v.SetDefault("providers.openmeteo.base_url", "https://archive-api.open-meteo.com/v1")
	v.SetDefault("providers.openmeteo.rate_limit_rps", 5)
	v.SetDefault("providers.nasapower.base_url", "https://power.larc.nasa.gov/api")
	v.SetDefault("providers.nasapower.rate_limit_rps", 2)
	// No public default mirror; the Ookla client reports no data when unset.
	v.SetDefault("providers.ookla.base_url", "")
	v.SetDefault("providers.ookla.rate_limit_rps", 1)

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
