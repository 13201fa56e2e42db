package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Option is a functional option for configuring a Gantry.
type Option func(*Gantry) error

// WithConfigFile points the instance at a config file. The file is loaded
// at startup, watched, and reloaded on change.
func WithConfigFile(path string) Option {
	return func(g *Gantry) error {
		if path == "" {
			return fmt.Errorf("config file path cannot be empty")
		}
		g.configPath = path
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gantry) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithPlugin installs an additional plugin into the base pipeline set, so
// every app's fork carries it. Useful for embedding custom behavior
// without forking the runtime.
func WithPlugin(p *plugin.Plugin) Option {
	return func(g *Gantry) error {
		if p == nil {
			return fmt.Errorf("plugin cannot be nil")
		}
		g.extra = append(g.extra, p)
		return nil
	}
}

// WithUpstreamClient sets the HTTP client upstream routes proxy through.
func WithUpstreamClient(client *http.Client) Option {
	return func(g *Gantry) error {
		if client == nil {
			return fmt.Errorf("upstream client cannot be nil")
		}
		g.upstream = client
		return nil
	}
}

// WithMetricsRegistry supplies the Prometheus registry the call collectors
// register with. Useful when embedding gantry next to other instrumented
// code that shares one registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(g *Gantry) error {
		if reg == nil {
			return fmt.Errorf("metrics registry cannot be nil")
		}
		g.registry = reg
		return nil
	}
}
