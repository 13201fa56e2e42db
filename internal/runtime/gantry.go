// Package runtime assembles and runs a gantry instance: it loads the
// configuration, builds a pipeline set per app with the enabled plugins,
// mounts everything on the router, and swaps the whole routing generation
// on config reload.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/gantry/internal/config"
	"github.com/tjfontaine/gantry/internal/plugins/apikey"
	"github.com/tjfontaine/gantry/internal/plugins/callid"
	"github.com/tjfontaine/gantry/internal/plugins/calllog"
	"github.com/tjfontaine/gantry/internal/plugins/callmetrics"
	"github.com/tjfontaine/gantry/internal/plugins/faultpages"
	"github.com/tjfontaine/gantry/internal/plugins/recorder"
	"github.com/tjfontaine/gantry/internal/plugins/throttle"
	"github.com/tjfontaine/gantry/internal/plugins/tracing"
	"github.com/tjfontaine/gantry/internal/safehttp"
	"github.com/tjfontaine/gantry/internal/server"
	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Gantry is the running instance. It can be embedded in a larger program
// or run standalone through cmd/gantry.
type Gantry struct {
	logger     *slog.Logger
	configPath string
	upstream   *http.Client
	registry   *prometheus.Registry
	extra      []*plugin.Plugin

	provider *config.Provider
	server   *server.Server
	store    *recorder.Store
	metrics  *callmetrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

const upstreamTimeout = 30 * time.Second

// New creates a Gantry with the given options.
func New(opts ...Option) (*Gantry, error) {
	g := &Gantry{
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	return g, nil
}

// Start loads the configuration, builds the first routing generation and
// begins serving. It returns once the listener is up; use Shutdown to stop.
func (g *Gantry) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(ctx)

	cfg, err := g.loadInitial()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	handler, err := g.buildHandler(cfg)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	g.server = server.New(cfg.Server.Port, g.logger)
	g.server.Swap(handler)

	go func() {
		if err := g.server.Start(); err != nil {
			g.logger.Error("server failed", slog.String("error", err.Error()))
		}
	}()

	if g.provider != nil {
		if err := g.provider.Watch(g.ctx, g.reload); err != nil {
			g.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gantry started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("apps", len(cfg.Apps)))
	return nil
}

// Shutdown drains the server and closes resources.
func (g *Gantry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down")

	if g.cancel != nil {
		g.cancel()
	}
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shut down server", slog.String("error", err.Error()))
			return err
		}
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close call store", slog.String("error", err.Error()))
		}
	}
	if g.provider != nil {
		if err := g.provider.Close(); err != nil {
			g.logger.Error("failed to close config provider", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("shutdown complete")
	return nil
}

// Handler returns the handler currently serving requests. It is the whole
// routing generation; embedders can serve it on their own listener.
func (g *Gantry) Handler() http.Handler {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server == nil {
		return nil
	}
	return g.server.Handler()
}

// loadInitial resolves the config source. An explicit path must exist and
// is watched; without one the default path is used when present, and
// built-in defaults otherwise.
func (g *Gantry) loadInitial() (*config.Config, error) {
	p := g.configPath
	if p == "" {
		if _, err := os.Stat(config.DefaultPath); err != nil {
			g.logger.Info("no config file found, using defaults")
			return config.Load("")
		}
		p = config.DefaultPath
	}

	provider, err := config.NewProvider(p, g.logger)
	if err != nil {
		return nil, err
	}
	cfg, err := provider.Load()
	if err != nil {
		return nil, err
	}
	g.provider = provider
	return cfg, nil
}

// reload builds a fresh routing generation from the new configuration and
// swaps it in. A failed build keeps the previous generation serving.
func (g *Gantry) reload(cfg *config.Config) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil && cfg.Server.Port != g.server.Port {
		g.logger.Warn("port change requires a restart",
			slog.Int("running", g.server.Port),
			slog.Int("configured", cfg.Server.Port))
	}

	handler, err := g.buildHandler(cfg)
	if err != nil {
		g.logger.Error("reload failed, keeping previous configuration",
			slog.String("error", err.Error()))
		return
	}

	g.server.Swap(handler)
	g.logger.Info("reload complete", slog.Int("apps", len(cfg.Apps)))
}

// buildHandler constructs one complete routing generation: the base
// pipeline set, a fork per app with its plugins, and the chi router the
// routes mount on.
func (g *Gantry) buildHandler(cfg *config.Config) (http.Handler, error) {
	if err := g.initResources(cfg); err != nil {
		return nil, err
	}

	base := call.NewPipelines()
	if err := server.InstallHost(base, server.HostConfig{
		Logger:       g.logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}); err != nil {
		return nil, fmt.Errorf("install host: %w", err)
	}

	if cfg.Plugins.CallID.Enabled {
		if err := callid.New(cfg.Plugins.CallID.Header).Install(base); err != nil {
			return nil, fmt.Errorf("install callid: %w", err)
		}
	}
	for _, p := range g.extra {
		if err := p.Install(base); err != nil {
			return nil, fmt.Errorf("install plugin %s: %w", p.Name(), err)
		}
	}

	var gatherer prometheus.Gatherer
	if cfg.Plugins.Metrics.Enabled {
		gatherer = g.registry
	}
	r := server.NewRouter(cfg.Telemetry.ServiceName, gatherer)

	for i := range cfg.Apps {
		if err := g.mountApp(r, base, &cfg.Apps[i], cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// initResources opens the process-wide resources a generation needs. They
// are created once and shared by every later generation: collectors cannot
// register twice and the call store should not reopen per reload.
func (g *Gantry) initResources(cfg *config.Config) error {
	if g.upstream == nil {
		if cfg.Server.GuardUpstreams {
			g.upstream = safehttp.Client(upstreamTimeout)
		} else {
			g.upstream = &http.Client{Timeout: upstreamTimeout}
		}
	}

	if cfg.Plugins.Metrics.Enabled && g.metrics == nil {
		g.metrics = callmetrics.NewMetrics(g.registry)
	}

	if cfg.Plugins.Recorder.Enabled && g.store == nil {
		store, err := recorder.Open(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open call store: %w", err)
		}
		g.store = store
		g.logger.Info("call store opened", slog.String("path", cfg.Storage.SQLite.Path))

		if days := cfg.Plugins.Recorder.RetentionDays; days > 0 {
			cutoff := time.Now().AddDate(0, 0, -days)
			purged, err := store.PurgeOlderThan(g.ctx, cutoff)
			if err != nil {
				g.logger.Error("failed to purge old call records", slog.String("error", err.Error()))
			} else if purged > 0 {
				g.logger.Info("purged old call records", slog.Int64("count", purged))
			}
		}
	}
	return nil
}

// mountApp forks the base pipeline set for one app, installs its plugins
// and mounts its routes. The fault boundary installs last so it renders
// failures before the outer observers record the call.
func (g *Gantry) mountApp(r *chi.Mux, base *call.Pipelines, app *config.AppConfig, cfg *config.Config) error {
	pipes := base.Fork()

	install := func(p *plugin.Plugin) error {
		if err := p.Install(pipes); err != nil {
			return fmt.Errorf("app %s: install %s: %w", app.Name, p.Name(), err)
		}
		return nil
	}

	if cfg.Plugins.CallLog.Enabled {
		if err := install(calllog.New(g.logger.With(slog.String("app", app.Name)))); err != nil {
			return err
		}
	}
	if cfg.Plugins.Metrics.Enabled {
		if err := install(callmetrics.New(g.metrics, app.Name)); err != nil {
			return err
		}
	}
	if cfg.Plugins.Tracing.Enabled {
		if err := install(tracing.New(app.Name)); err != nil {
			return err
		}
	}
	if cfg.Plugins.Recorder.Enabled && g.store != nil {
		if err := install(recorder.New(g.store, app.Name, g.logger)); err != nil {
			return err
		}
	}

	thr := cfg.Plugins.Throttle
	if app.Throttle != nil {
		thr = *app.Throttle
	}
	if thr.Enabled {
		if err := install(throttle.New(throttle.Config{RPS: thr.RPS, Burst: thr.Burst})); err != nil {
			return err
		}
	}

	if app.Auth != nil {
		keys := make([]apikey.Key, len(app.Auth.Keys))
		for i, k := range app.Auth.Keys {
			keys[i] = apikey.Key{Name: k.Name, Hash: k.Hash}
		}
		if err := install(apikey.New(apikey.Config{Header: app.Auth.Header, Keys: keys})); err != nil {
			return err
		}
	}

	if cfg.Plugins.FaultPages.Enabled {
		if err := install(faultpages.New(faultpages.Config{Logger: g.logger})); err != nil {
			return err
		}
	}

	for _, rt := range app.Routes {
		h, err := server.BuildRouteHandler(rt, g.upstream)
		if err != nil {
			return fmt.Errorf("app %s route %s: %w", app.Name, rt.Path, err)
		}
		pattern := path.Join(app.Path, rt.Path)
		hf := server.Handler(pipes, g.logger, h)
		if rt.Method == "" {
			r.Handle(pattern, hf)
		} else {
			r.Method(strings.ToUpper(rt.Method), pattern, hf)
		}
		g.logger.Info("registered route",
			slog.String("app", app.Name),
			slog.String("method", rt.Method),
			slog.String("pattern", pattern))
	}

	// Unmatched paths under the app prefix still run the app's pipeline,
	// so its fallback answers them.
	r.Handle(path.Join(app.Path, "*"), server.Handler(pipes, g.logger, nil))

	return nil
}
