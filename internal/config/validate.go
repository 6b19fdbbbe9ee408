package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// Severity classifies an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the YAML key, e.g. "session.kind".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Accepted enum values.
var (
	SessionKinds   = []string{"http", "webdriver"}
	StorageKinds   = []string{"", "none", "file", "sqlite", "postgres", "mssql", "nats"}
	MetricsKinds   = []string{"", "none", "datadog", "pushgateway"}
	OutputFormats  = []string{"listing", "table", "json"}
	LogLevels      = []string{"debug", "info", "warn", "error"}
	LogFormats     = []string{"text", "json"}
	dsnRequiredFor = []string{"sqlite", "postgres", "mssql"}
)

// Validate reports every problem found in cfg. It never stops at the first
// one. Callers treat any SeverityError as fatal.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if err := checkHTTPURL(cfg.TargetBaseURL); err != nil {
		add(SeverityError, "target_base_url", "%v", err)
	}
	if err := checkHTTPURL(cfg.APIBaseURL); err != nil {
		add(SeverityError, "api_base_url", "%v", err)
	}
	if cfg.APIToken == "" {
		add(SeverityWarning, "api_token", "not set; geolocation requests are rate limited (set %s)", EnvIPInfoToken)
	}

	if cfg.SettleDelay < 0 {
		add(SeverityError, "settle_delay", "must not be negative, got %s", cfg.SettleDelay)
	}
	if cfg.QueryTimeout <= 0 {
		add(SeverityError, "query_timeout", "must be positive, got %s", cfg.QueryTimeout)
	} else if cfg.SettleDelay >= cfg.QueryTimeout {
		add(SeverityWarning, "settle_delay", "%s leaves no time for extraction within query_timeout %s", cfg.SettleDelay, cfg.QueryTimeout)
	}

	if cfg.LocatorsFile != "" {
		if _, err := os.Stat(cfg.LocatorsFile); err != nil {
			add(SeverityError, "locators_file", "%v", err)
		}
	}
	if !slices.Contains(OutputFormats, cfg.Output) {
		add(SeverityError, "output", "unknown format %q (want one of %s)", cfg.Output, strings.Join(OutputFormats, ", "))
	}

	switch cfg.Session.Kind {
	case "webdriver":
		if err := checkHTTPURL(cfg.Session.WebDriverURL); err != nil {
			add(SeverityError, "session.webdriver_url", "%v", err)
		}
		if cfg.ProfilePath == "" {
			add(SeverityWarning, "profile_path", "not set; the browser starts with a fresh profile")
		}
	case "http":
		if cfg.Session.Headless {
			add(SeverityWarning, "session.headless", "ignored for session kind http")
		}
	default:
		add(SeverityError, "session.kind", "unknown kind %q (want one of %s)", cfg.Session.Kind, strings.Join(SessionKinds, ", "))
	}
	if cfg.Session.Timeout < 0 {
		add(SeverityError, "session.timeout", "must not be negative, got %s", cfg.Session.Timeout)
	}

	if !slices.Contains(StorageKinds, cfg.Storage.Kind) {
		add(SeverityError, "storage.kind", "unknown kind %q", cfg.Storage.Kind)
	} else if slices.Contains(dsnRequiredFor, cfg.Storage.Kind) && strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "required for storage kind %s", cfg.Storage.Kind)
	}

	switch cfg.Metrics.Backend {
	case "pushgateway":
		if err := checkHTTPURL(cfg.Metrics.PushgatewayURL); err != nil {
			add(SeverityError, "metrics.pushgateway_url", "%v", err)
		}
	case "datadog":
		if os.Getenv("DD_API_KEY") == "" {
			add(SeverityWarning, "metrics.backend", "datadog selected but DD_API_KEY is not set")
		}
		if cfg.Metrics.FlushEvery <= 0 {
			add(SeverityError, "metrics.flush_every", "must be positive, got %s", cfg.Metrics.FlushEvery)
		}
	case "", "none":
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want one of %s)", cfg.Metrics.Backend, strings.Join(MetricsKinds[1:], ", "))
	}
	for i, tag := range cfg.Metrics.Tags {
		if !strings.Contains(tag, ":") {
			add(SeverityWarning, fmt.Sprintf("metrics.tags[%d]", i), "%q is not key:value", tag)
		}
	}

	if !slices.Contains(LogLevels, strings.ToLower(cfg.Log.Level)) {
		add(SeverityError, "log.level", "unknown level %q", cfg.Log.Level)
	}
	if !slices.Contains(LogFormats, cfg.Log.Format) {
		add(SeverityError, "log.format", "unknown format %q", cfg.Log.Format)
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	return slices.ContainsFunc(issues, func(i Issue) bool { return i.Severity == SeverityError })
}

func checkHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
