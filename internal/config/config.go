// Package config loads the repscan YAML configuration.
//
// Precedence, lowest first: built-in defaults, <name>.yaml, <name>.local.yaml,
// then REPSCAN_* environment variables for secrets and deployment specifics.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvIPInfoToken    = "REPSCAN_IPINFO_TOKEN"
	EnvProfilePath    = "REPSCAN_PROFILE_PATH"
	EnvStorageDSN     = "REPSCAN_STORAGE_DSN"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
)

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "repscan.yaml"

// Config is the complete repscan configuration.
type Config struct {
	// ProfilePath is the browser user-data directory for webdriver sessions.
	ProfilePath string `yaml:"profile_path"`
	// TargetBaseURL is the reputation lookup page; the identifier is sent as
	// the "search" query parameter.
	TargetBaseURL string `yaml:"target_base_url"`
	// APIBaseURL is the geolocation API endpoint.
	APIBaseURL string `yaml:"api_base_url"`
	// APIToken is sent to the geolocation API. Prefer REPSCAN_IPINFO_TOKEN.
	APIToken string `yaml:"api_token,omitempty"`
	// SettleDelay is the wait between navigation and extraction.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// QueryTimeout bounds one identifier's full lookup.
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// LocatorsFile replaces the built-in locator table when set (JSON5).
	LocatorsFile string `yaml:"locators_file,omitempty"`
	// Output is the default result format: listing, table or json.
	Output string `yaml:"output"`

	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// SessionConfig selects the page session implementation.
type SessionConfig struct {
	// Kind is "http" (fetch and parse, no script execution) or "webdriver".
	Kind string `yaml:"kind"`
	// WebDriverURL is the chromedriver endpoint.
	WebDriverURL string `yaml:"webdriver_url"`
	// Headless starts the browser without a window.
	Headless bool `yaml:"headless"`
	// Timeout bounds each HTTP or WebDriver request.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects where results are persisted. An empty kind or
// "none" disables persistence.
type StorageConfig struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

// MetricsConfig selects the metrics backend. An empty backend or "none"
// disables metrics.
type MetricsConfig struct {
	Backend        string        `yaml:"backend"`
	Job            string        `yaml:"job"`
	Tags           []string      `yaml:"tags,omitempty"`
	PushgatewayURL string        `yaml:"pushgateway_url,omitempty"`
	FlushEvery     time.Duration `yaml:"flush_every"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with working defaults for every field.
func Default() Config {
	return Config{
		TargetBaseURL: "https://talosintelligence.com/reputation_center/lookup",
		APIBaseURL:    "https://ipinfo.io",
		SettleDelay:   5 * time.Second,
		QueryTimeout:  60 * time.Second,
		Output:        "listing",
		Session: SessionConfig{
			Kind:         "http",
			WebDriverURL: "http://localhost:9515",
			Timeout:      30 * time.Second,
		},
		Storage: StorageConfig{
			Kind: "file",
			DSN:  "results",
		},
		Metrics: MetricsConfig{
			Backend:    "none",
			Job:        "repscan",
			FlushEvery: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path and its optional "<name>.local.<ext>" sibling, fills
// unset fields from Default and applies environment overrides.
//
// A missing path is not an error when allowMissing is set; the defaults
// (plus environment) are returned instead.
func Load(path string, allowMissing bool) (Config, error) {
	var cfg Config
	found := false

	if err := readYAML(path, &cfg); err == nil {
		found = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	local := LocalPath(path)
	var override Config
	if err := readYAML(local, &override); err == nil {
		if err := mergo.Merge(&cfg, override, mergo.WithOverride); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", local, err)
		}
		slog.Debug("merging config with local overrides", "local", local)
		found = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	if !found && !allowMissing {
		return Config{}, fmt.Errorf("read config %s: %w", path, os.ErrNotExist)
	}

	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("apply defaults: %w", err)
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

// LocalPath returns the override file next to path, e.g. repscan.local.yaml.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		// An empty file is a valid, all-defaults config.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvIPInfoToken); v != "" {
		cfg.APIToken = v
	}
	if v := getenv(EnvProfilePath); v != "" {
		cfg.ProfilePath = v
	}
	if v := getenv(EnvStorageDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := getenv(EnvPushgatewayURL); v != "" && cfg.Metrics.PushgatewayURL == "" {
		cfg.Metrics.PushgatewayURL = v
	}
}

const defaultHeader = `# repscan configuration.
# Secrets belong in the environment: REPSCAN_IPINFO_TOKEN.
# Machine specific overrides can go in a sibling *.local.yaml file.
`

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(defaultHeader + string(data)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}
