package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // market timezone must resolve in minimal images

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	} `yaml:"log"`
	HTTP struct {
		Addr string `yaml:"addr" default:":8080"`
	} `yaml:"http"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" default:"data/tickervault.db"`
	} `yaml:"database"`
	Provider struct {
		Kind    string        `yaml:"kind" default:"yahoo" validate:"oneof=yahoo rest mock"`
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"provider"`
	RateLimit struct {
		MaxConcurrent int           `yaml:"max_concurrent" default:"1" validate:"min=1"`
		Interval      time.Duration `yaml:"interval" default:"500ms"`
	} `yaml:"rate_limit"`
	Retry struct {
		MaxAttempts int `yaml:"max_attempts" default:"3" validate:"min=1"`
	} `yaml:"retry"`
	Batch struct {
		Size        int           `yaml:"size" default:"5" validate:"min=1"`
		SymbolDelay time.Duration `yaml:"symbol_delay" default:"500ms"`
		BatchDelay  time.Duration `yaml:"batch_delay" default:"2s"`
		RegionDelay time.Duration `yaml:"region_delay" default:"5s"`
	} `yaml:"batch"`
	Market struct {
		Timezone string `yaml:"timezone" default:"America/New_York"`
		Open     string `yaml:"open" default:"09:30"`
		Close    string `yaml:"close" default:"16:00"`
	} `yaml:"market"`
	Regions    []Region               `yaml:"regions" validate:"dive"`
	Benchmarks []Benchmark            `yaml:"benchmarks" validate:"dive"`
	Jobs       map[string]JobOverride `yaml:"jobs"`
	Telegram   struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Proxy      string `yaml:"proxy"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// Region is a market region and the symbols tracked in it.
type Region struct {
	Name    string   `yaml:"name" validate:"required"`
	Symbols []string `yaml:"symbols"`
}

// Benchmark is an index proxy used as a performance baseline.
type Benchmark struct {
	Symbol string `yaml:"symbol" validate:"required"`
	Region string `yaml:"region" validate:"required"`
}

// JobOverride replaces the catalog defaults for one job.
type JobOverride struct {
	Schedule string `yaml:"schedule"`
	Enabled  *bool  `yaml:"enabled"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error; defaults fill the gaps.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = []Region{{Name: "USD", Symbols: []string{"AAPL", "MSFT", "GOOGL"}}}
	}
	if len(cfg.Benchmarks) == 0 {
		cfg.Benchmarks = []Benchmark{{Symbol: "SPY", Region: "USD"}}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
		if cfg.Provider.Kind == "" {
			cfg.Provider.Kind = "rest"
		}
	}
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("MARKET_TIMEZONE"); v != "" {
		cfg.Market.Timezone = v
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RunOnStart = b
		}
	}
}

// Validate checks field constraints and the cross-field rules struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.Market.Open); err != nil {
		return fmt.Errorf("market.open: %w", err)
	}
	if _, err := time.Parse("15:04", c.Market.Close); err != nil {
		return fmt.Errorf("market.close: %w", err)
	}
	if c.Provider.Kind == "rest" && c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required for the rest provider")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	seen := make(map[string]bool)
	for _, r := range c.Regions {
		if seen[r.Name] {
			return fmt.Errorf("region %q declared twice", r.Name)
		}
		seen[r.Name] = true
	}
	benchmarked := make(map[string]string)
	for _, b := range c.Benchmarks {
		if !seen[b.Region] {
			return fmt.Errorf("benchmark %s references unknown region %q", b.Symbol, b.Region)
		}
		if other, ok := benchmarked[b.Region]; ok {
			return fmt.Errorf("region %q has two benchmarks: %s and %s", b.Region, other, b.Symbol)
		}
		benchmarked[b.Region] = b.Symbol
	}
	for id, o := range c.Jobs {
		if o.Schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(o.Schedule); err != nil {
			return fmt.Errorf("jobs.%s.schedule: %w", id, err)
		}
	}
	return nil
}

// Location returns the market timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Market.Timezone)
}

// BenchmarkSet returns the benchmark symbols for quick lookup.
func (c *Config) BenchmarkSet() map[string]bool {
	out := make(map[string]bool, len(c.Benchmarks))
	for _, b := range c.Benchmarks {
		out[b.Symbol] = true
	}
	return out
}
