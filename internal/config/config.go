package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/listing-sync/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Routes    RoutesConfig     `yaml:"routes" mapstructure:"routes"`
	Fetch     FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Providers []ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Units     []UnitConfig     `yaml:"units" mapstructure:"units"`
	Upsert    UpsertConfig     `yaml:"upsert" mapstructure:"upsert"`
	Run       RunConfig        `yaml:"run" mapstructure:"run"`
	Notify    NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RedisConfig holds the connection for shared route state.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// RoutesConfig configures the egress route pool.
type RoutesConfig struct {
	File                string `yaml:"file" mapstructure:"file"`
	StateBackend        string `yaml:"state_backend" mapstructure:"state_backend"`
	KeyPrefix           string `yaml:"key_prefix" mapstructure:"key_prefix"`
	MaxFailures         int    `yaml:"max_failures" mapstructure:"max_failures"`
	RotateEveryRequests int    `yaml:"rotate_every_requests" mapstructure:"rotate_every_requests"`
	RotateEverySecs     int    `yaml:"rotate_every_secs" mapstructure:"rotate_every_secs"`
}

// FetchConfig configures page retries, pagination and pacing.
type FetchConfig struct {
	MaxAttempts          int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs     int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs         int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	RateLimitWaitMs      int     `yaml:"rate_limit_wait_ms" mapstructure:"rate_limit_wait_ms"`
	MalformedMax         int     `yaml:"malformed_max" mapstructure:"malformed_max"`
	MaxPages             int     `yaml:"max_pages" mapstructure:"max_pages"`
	CircuitThreshold     int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	RequestTimeoutSecs   int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RequestsPerSec       float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	PolitenessMinMs      int     `yaml:"politeness_min_ms" mapstructure:"politeness_min_ms"`
	PolitenessMaxMs      int     `yaml:"politeness_max_ms" mapstructure:"politeness_max_ms"`
	LongPauseProbability float64 `yaml:"long_pause_probability" mapstructure:"long_pause_probability"`
	LongPauseMinMs       int     `yaml:"long_pause_min_ms" mapstructure:"long_pause_min_ms"`
	LongPauseMaxMs       int     `yaml:"long_pause_max_ms" mapstructure:"long_pause_max_ms"`
	UserAgent            string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ProviderConfig describes one upstream listing source. Providers are tried
// in the order they are listed.
type ProviderConfig struct {
	Name      string        `yaml:"name" mapstructure:"name"`
	Kind      string        `yaml:"kind" mapstructure:"kind"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	ItemsPath string        `yaml:"items_path" mapstructure:"items_path"`
	TotalPath string        `yaml:"total_path" mapstructure:"total_path"`
	PagesPath string        `yaml:"pages_path" mapstructure:"pages_path"`
	PerPage   int           `yaml:"per_page" mapstructure:"per_page"`
	Selectors HTMLSelectors `yaml:"selectors" mapstructure:"selectors"`
}

// HTMLSelectors are the generic CSS selectors used by html_cards providers.
type HTMLSelectors struct {
	Card       string `yaml:"card" mapstructure:"card"`
	Link       string `yaml:"link" mapstructure:"link"`
	Image      string `yaml:"image" mapstructure:"image"`
	TotalPages string `yaml:"total_pages" mapstructure:"total_pages"`
}

// UnitConfig is one collection unit (city). Bounds, when set, is
// [min_lng, min_lat, max_lng, max_lat].
type UnitConfig struct {
	Name    string    `yaml:"name" mapstructure:"name"`
	Region  string    `yaml:"region" mapstructure:"region"`
	Country string    `yaml:"country" mapstructure:"country"`
	Bounds  []float64 `yaml:"bounds" mapstructure:"bounds"`
}

// Unit converts the config entry to a model.Unit.
func (u UnitConfig) Unit() model.Unit {
	unit := model.Unit{Name: u.Name, Region: u.Region, Country: u.Country}
	if len(u.Bounds) == 4 {
		unit.Bounds = model.NewBounds(u.Bounds[0], u.Bounds[1], u.Bounds[2], u.Bounds[3])
	}
	return unit
}

// UpsertConfig configures batched listing writes.
type UpsertConfig struct {
	ChunkSize    int `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxAttempts  int `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs int `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// RunConfig configures the run engine.
type RunConfig struct {
	Concurrency     int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxDurationMins int    `yaml:"max_duration_mins" mapstructure:"max_duration_mins"`
	Region          string `yaml:"region" mapstructure:"region"`
	UnseenStatus    string `yaml:"unseen_status" mapstructure:"unseen_status"`
	DefaultCountry  string `yaml:"default_country" mapstructure:"default_country"`
}

// NotifyConfig configures the run result notifier.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from a .env file, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real env vars take precedence over its values.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LISTINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("routes.file", "routes.yaml")
	v.SetDefault("routes.state_backend", "memory")
	v.SetDefault("routes.key_prefix", "listing-sync:route:")
	v.SetDefault("routes.max_failures", 3)
	v.SetDefault("routes.rotate_every_requests", 25)
	v.SetDefault("routes.rotate_every_secs", 300)
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.initial_backoff_ms", 1000)
	v.SetDefault("fetch.max_backoff_ms", 30000)
	v.SetDefault("fetch.rate_limit_wait_ms", 60000)
	v.SetDefault("fetch.malformed_max", 2)
	v.SetDefault("fetch.max_pages", 50)
	v.SetDefault("fetch.circuit_threshold", 3)
	v.SetDefault("fetch.request_timeout_secs", 30)
	v.SetDefault("fetch.requests_per_sec", 2.0)
	v.SetDefault("fetch.politeness_min_ms", 1500)
	v.SetDefault("fetch.politeness_max_ms", 4000)
	v.SetDefault("fetch.long_pause_probability", 0.1)
	v.SetDefault("fetch.long_pause_min_ms", 8000)
	v.SetDefault("fetch.long_pause_max_ms", 15000)
	v.SetDefault("fetch.user_agent", "listing-sync/1.0")
	v.SetDefault("upsert.chunk_size", 200)
	v.SetDefault("upsert.max_attempts", 3)
	v.SetDefault("upsert.retry_delay_ms", 1000)
	v.SetDefault("run.concurrency", 3)
	v.SetDefault("run.max_duration_mins", 120)
	v.SetDefault("run.unseen_status", string(model.StatusSold))
	v.SetDefault("run.default_country", "US")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate reports configuration errors that make a run impossible.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Routes.StateBackend {
	case "", "memory", "redis":
	default:
		return eris.Errorf("config: unknown routes.state_backend %q", c.Routes.StateBackend)
	}

	switch model.ListingStatus(c.Run.UnseenStatus) {
	case "", model.StatusSold, model.StatusOffMarket:
	default:
		return eris.Errorf("config: run.unseen_status must be sold or off_market, got %q", c.Run.UnseenStatus)
	}

	if len(c.Providers) == 0 {
		return eris.New("config: no providers configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return eris.Errorf("config: provider %d has no name", i)
		}
		if seen[p.Name] {
			return eris.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			return eris.Errorf("config: provider %q has no base_url", p.Name)
		}
		switch model.ProviderKind(p.Kind) {
		case model.KindSearchAPI, model.KindHTMLCards:
		default:
			return eris.Errorf("config: provider %q has unknown kind %q", p.Name, p.Kind)
		}
	}

	if len(c.Units) == 0 {
		return eris.New("config: no units configured")
	}
	for i, u := range c.Units {
		if u.Name == "" {
			return eris.Errorf("config: unit %d has no name", i)
		}
		if len(u.Bounds) != 0 && len(u.Bounds) != 4 {
			return eris.Errorf("config: unit %q bounds must have 4 values", u.Name)
		}
	}
	return nil
}

// SelectUnits returns the configured units, filtered to names when given.
// Names are matched case-insensitively; an unknown name is an error.
func (c *Config) SelectUnits(names []string) ([]model.Unit, error) {
	if len(names) == 0 {
		out := make([]model.Unit, len(c.Units))
		for i, u := range c.Units {
			out[i] = u.Unit()
		}
		return out, nil
	}
	var out []model.Unit
	for _, name := range names {
		found := false
		for _, u := range c.Units {
			if strings.EqualFold(u.Name, strings.TrimSpace(name)) {
				out = append(out, u.Unit())
				found = true
				break
			}
		}
		if !found {
			return nil, eris.Errorf("config: unknown unit %q", name)
		}
	}
	return out, nil
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
