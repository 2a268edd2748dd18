package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/itswale/api-utils/internal/pagecheck"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address        string   `yaml:"address" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds storage settings. ":memory:" keeps saved tests for the
// lifetime of the process only.
type StorageConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

type ProberConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// BrowserConfig selects and tunes the page driver.
type BrowserConfig struct {
	Driver            string   `yaml:"driver" validate:"oneof=chrome static"`
	ExecPath          string   `yaml:"exec_path"`
	RemoteURL         string   `yaml:"remote_url" validate:"omitempty,url"`
	Headful           bool     `yaml:"headful"`
	NavigationTimeout Duration `yaml:"navigation_timeout"`
	SlowThreshold     Duration `yaml:"slow_threshold"`
}

// RedisConfig enables the shared result cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// CacheConfig holds page check result cache settings. Size 0 disables the
// in-process cache.
type CacheConfig struct {
	Size  int         `yaml:"size" validate:"gte=0"`
	TTL   Duration    `yaml:"ttl"`
	Redis RedisConfig `yaml:"redis"`
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url" validate:"omitempty,url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ReplayConfig controls periodic re-runs of saved tests. Zero disables it.
type ReplayConfig struct {
	Interval Duration `yaml:"interval"`
}

// TestSeed is a saved test created at startup. Kind "api" uses Method,
// Headers and Body; kind "ui" uses Checks, SearchText and CustomSelector.
type TestSeed struct {
	Kind           string            `yaml:"kind" validate:"oneof=api ui"`
	URL            string            `yaml:"url" validate:"required,url"`
	Method         string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT DELETE get post put delete"`
	Headers        map[string]string `yaml:"headers"`
	Body           string            `yaml:"body"`
	Checks         []string          `yaml:"checks"`
	SearchText     string            `yaml:"search_text"`
	CustomSelector string            `yaml:"custom_selector"`
}

// Config is the root application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Prober  ProberConfig  `yaml:"prober"`
	Browser BrowserConfig `yaml:"browser"`
	Cache   CacheConfig   `yaml:"cache"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Replay  ReplayConfig  `yaml:"replay"`
	Tests   []TestSeed    `yaml:"tests" validate:"dive"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Address: ":8080"},
		Storage: StorageConfig{Path: ":memory:"},
		Log:     LogConfig{Level: "info"},
		Prober:  ProberConfig{Timeout: Duration{10 * time.Second}},
		Browser: BrowserConfig{
			Driver:            "chrome",
			NavigationTimeout: Duration{30 * time.Second},
			SlowThreshold:     Duration{5 * time.Second},
		},
		Cache: CacheConfig{
			Size: 128,
			TTL:  Duration{5 * time.Minute},
		},
		Alerts: AlertsConfig{
			Webhook: WebhookConfig{Cooldown: Duration{5 * time.Minute}},
		},
	}
}

// Load reads and parses the config file at path. Values missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewViper returns a viper instance reading APIUTILS_* environment
// variables, e.g. APIUTILS_SERVER_ADDRESS for server.address.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("APIUTILS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyEnv overrides cfg with every value set in v and revalidates.
func (c *Config) ApplyEnv(v *viper.Viper) error {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	dur := func(key string, dst *Duration) {
		if v.IsSet(key) {
			dst.Duration = v.GetDuration(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	str("server.address", &c.Server.Address)
	if v.IsSet("server.allowed_origins") {
		c.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"))
	}
	str("storage.path", &c.Storage.Path)
	str("log.level", &c.Log.Level)
	dur("prober.timeout", &c.Prober.Timeout)
	str("browser.driver", &c.Browser.Driver)
	str("browser.exec_path", &c.Browser.ExecPath)
	str("browser.remote_url", &c.Browser.RemoteURL)
	if v.IsSet("browser.headful") {
		c.Browser.Headful = v.GetBool("browser.headful")
	}
	dur("browser.navigation_timeout", &c.Browser.NavigationTimeout)
	dur("browser.slow_threshold", &c.Browser.SlowThreshold)
	num("cache.size", &c.Cache.Size)
	dur("cache.ttl", &c.Cache.TTL)
	str("cache.redis.addr", &c.Cache.Redis.Addr)
	str("cache.redis.username", &c.Cache.Redis.Username)
	str("cache.redis.password", &c.Cache.Redis.Password)
	num("cache.redis.db", &c.Cache.Redis.DB)
	str("alerts.webhook.url", &c.Alerts.Webhook.URL)
	dur("alerts.webhook.cooldown", &c.Alerts.Webhook.Cooldown)
	dur("replay.interval", &c.Replay.Interval)

	return c.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks field constraints and the saved test seeds.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if c.Prober.Timeout.Duration <= 0 {
		return errors.New("prober.timeout must be positive")
	}
	if c.Browser.NavigationTimeout.Duration <= 0 {
		return errors.New("browser.navigation_timeout must be positive")
	}
	if c.Browser.SlowThreshold.Duration <= 0 {
		return errors.New("browser.slow_threshold must be positive")
	}
	if c.Cache.TTL.Duration < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	if c.Replay.Interval.Duration < 0 {
		return errors.New("replay.interval must not be negative")
	}

	for i, t := range c.Tests {
		if t.Kind != "ui" {
			continue
		}
		if len(t.Checks) == 0 {
			return fmt.Errorf("tests[%d]: at least one check is required", i)
		}
		if _, err := pagecheck.ParseKinds(t.Checks); err != nil {
			return fmt.Errorf("tests[%d]: %w", i, err)
		}
	}
	return nil
}
