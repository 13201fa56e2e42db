// Package config loads the server configuration from a YAML file with
// GANTRY_-prefixed environment overrides.
package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file consulted when no path is given. It is
// fine for it not to exist; environment variables and defaults apply.
const DefaultPath = "gantry.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Storage   StorageConfig   `koanf:"storage"`
	Plugins   PluginsConfig   `koanf:"plugins"`
	Apps      []AppConfig     `koanf:"apps"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// MaxBodyBytes caps how much of a request body the receive pipeline
	// will read.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// GuardUpstreams blocks upstream routes from dialing loopback,
	// private and link-local addresses. Off by default: upstreams
	// normally come from the operator, and local backends are common in
	// development.
	GuardUpstreams bool `koanf:"guard_upstreams"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PluginsConfig switches the built-in plugins on or off for every app.
// Individual apps can add to this set but not remove from it.
type PluginsConfig struct {
	CallID     CallIDConfig     `koanf:"callid"`
	CallLog    CallLogConfig    `koanf:"calllog"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Throttle   ThrottleConfig   `koanf:"throttle"`
	FaultPages FaultPagesConfig `koanf:"faultpages"`
	Recorder   RecorderConfig   `koanf:"recorder"`
	Tracing    TracingConfig    `koanf:"tracing"`
}

type CallIDConfig struct {
	Enabled bool   `koanf:"enabled"`
	Header  string `koanf:"header"`
}

type CallLogConfig struct {
	Enabled bool `koanf:"enabled"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type ThrottleConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

type FaultPagesConfig struct {
	Enabled bool `koanf:"enabled"`
}

type RecorderConfig struct {
	Enabled bool `koanf:"enabled"`
	// RetentionDays prunes records older than this many days at startup.
	// Zero keeps everything.
	RetentionDays int `koanf:"retention_days"`
}

type TracingConfig struct {
	Enabled bool `koanf:"enabled"`
}

// AppConfig declares one application: a path prefix, its routes, and any
// per-app plugin settings.
type AppConfig struct {
	Name string `koanf:"name"`
	// Path is the URL prefix the app is mounted under, e.g. "/api".
	Path string `koanf:"path"`
	// Auth, when present, requires every call to the app to carry one of
	// the listed API keys.
	Auth *AuthConfig `koanf:"auth"`
	// Throttle overrides the global throttle settings for this app.
	Throttle *ThrottleConfig `koanf:"throttle"`
	Routes   []RouteConfig   `koanf:"routes"`
}

// AuthConfig holds the accepted API keys as SHA-256 hex hashes, so the
// file never contains a usable credential.
type AuthConfig struct {
	// Header is where clients present the key. Empty means Authorization.
	Header string         `koanf:"header"`
	Keys   []APIKeyConfig `koanf:"keys"`
}

type APIKeyConfig struct {
	// Name identifies the client in logs.
	Name string `koanf:"name"`
	Hash string `koanf:"hash"`
}

type RouteConfig struct {
	Method string `koanf:"method"`
	Path   string `koanf:"path"`
	// Kind selects the handler: static serves the configured body, echo
	// reflects the request back, upstream proxies to another server.
	Kind        string `koanf:"kind"`
	Status      int    `koanf:"status"`
	ContentType string `koanf:"content_type"`
	Body        string `koanf:"body"`
	Upstream    string `koanf:"upstream"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the configuration from path, then applies environment
// overrides and defaults. An empty path falls back to DefaultPath, which
// is allowed to be absent; a path given explicitly must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	optional := path == ""
	if optional {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !optional || !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// Environment variables override file config: GANTRY_SERVER__PORT
	// maps to server.port.
	if err := k.Load(env.Provider("GANTRY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GANTRY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)
	for i := range cfg.Apps {
		for j := range cfg.Apps[i].Routes {
			cfg.Apps[i].Routes[j].Upstream = substituteEnvVars(cfg.Apps[i].Routes[j].Upstream)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                8080,
		"server.max_body_bytes":      int64(4 << 20),
		"log.level":                  "info",
		"log.format":                 "json",
		"telemetry.service_name":     "gantry",
		"storage.type":               "sqlite",
		"storage.sqlite.path":        "gantry.db",
		"plugins.callid.enabled":     true,
		"plugins.calllog.enabled":    true,
		"plugins.metrics.enabled":    true,
		"plugins.faultpages.enabled": true,
		"plugins.throttle.rps":       10.0,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate rejects configurations the runtime could not start with.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i := range c.Apps {
		app := &c.Apps[i]
		if app.Name == "" {
			return fmt.Errorf("apps[%d]: name is required", i)
		}
		if seen[app.Name] {
			return fmt.Errorf("app %q is declared twice", app.Name)
		}
		seen[app.Name] = true
		if app.Path == "" || !strings.HasPrefix(app.Path, "/") {
			return fmt.Errorf("app %q: path must start with /", app.Name)
		}
		for j := range app.Routes {
			if err := app.Routes[j].validate(); err != nil {
				return fmt.Errorf("app %q route %d: %w", app.Name, j, err)
			}
		}
		if app.Throttle != nil && app.Throttle.Enabled && app.Throttle.RPS <= 0 {
			return fmt.Errorf("app %q: throttle rps must be positive", app.Name)
		}
		if app.Auth != nil {
			if len(app.Auth.Keys) == 0 {
				return fmt.Errorf("app %q: auth requires at least one key", app.Name)
			}
			for _, key := range app.Auth.Keys {
				if key.Hash == "" {
					return fmt.Errorf("app %q: auth key %q has no hash", app.Name, key.Name)
				}
			}
		}
	}
	if c.Plugins.Throttle.Enabled && c.Plugins.Throttle.RPS <= 0 {
		return fmt.Errorf("throttle rps must be positive")
	}
	if c.Plugins.Recorder.Enabled && c.Storage.Type != "sqlite" {
		return fmt.Errorf("recorder requires sqlite storage, have %q", c.Storage.Type)
	}
	return nil
}

// knownMethods is what the router accepts; an empty method matches all of
// them.
var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true,
}

func (r *RouteConfig) validate() error {
	if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if r.Method != "" && !knownMethods[strings.ToUpper(r.Method)] {
		return fmt.Errorf("unknown method %q", r.Method)
	}
	switch r.Kind {
	case "", "static", "echo":
	case "upstream":
		if r.Upstream == "" {
			return fmt.Errorf("upstream route needs an upstream URL")
		}
	default:
		return fmt.Errorf("unknown route kind %q", r.Kind)
	}
	return nil
}
