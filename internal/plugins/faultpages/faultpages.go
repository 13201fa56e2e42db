// Package faultpages is the error boundary of the call pipeline: it
// catches failures from downstream handlers and converts them into
// classified error responses, so unhandled errors never escape to the
// transport as naked failures.
//
// Cancellation is exempt: a cancelled call is not an application error and
// is re-propagated untouched.
package faultpages

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
	"github.com/tjfontaine/gantry/pkg/pipeline"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "faultpages"

// Renderer produces the response for a classified failure. Implementations
// respond on the call; returning an error abandons the page and propagates
// the original failure.
type Renderer func(ctx context.Context, c *call.Call, kind *fault.Kind, message string, status int) error

// Config configures the boundary.
type Config struct {
	Logger *slog.Logger
	// Renderer overrides the default JSON error body.
	Renderer Renderer
	// Pages map kinds to dedicated renderers. A fault uses the page of
	// the nearest kind in its ancestry; kinds without one fall back to
	// Renderer.
	Pages map[*fault.Kind]Renderer
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func renderJSON(ctx context.Context, c *call.Call, kind *fault.Kind, message string, status int) error {
	body, err := json.Marshal(errorBody{Error: errorDetail{Kind: kind.Name(), Message: message}})
	if err != nil {
		return err
	}
	return c.Respond(ctx, &call.OutgoingContent{
		Status:      status,
		ContentType: "application/json",
		Body:        body,
	})
}

// New creates the fault-boundary plugin. It registers in the monitoring
// phase; install it after logging and metrics so those observe the
// rendered status rather than the raw failure.
func New(cfg Config) *plugin.Plugin {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	render := cfg.Renderer
	if render == nil {
		render = renderJSON
	}
	return plugin.New(Name, func(b *plugin.Builder) {
		b.InterceptCall(call.PhaseMonitoring, func(ctx context.Context, e *call.Execution) error {
			_, err := e.Proceed()
			if err == nil {
				return nil
			}
			if pipeline.IsCancelled(err) {
				return err
			}
			c := e.Call()
			if c.Responded() {
				// Too late to render a page; let the caller see the failure.
				return err
			}

			kind, message, status := classify(err)
			logger.LogAttrs(ctx, slog.LevelError, "call faulted",
				slog.String("kind", kind.Name()),
				slog.Int("status", status),
				slog.String("error", err.Error()),
			)
			if rerr := pageFor(cfg.Pages, render, kind)(ctx, c, kind, message, status); rerr != nil {
				logger.LogAttrs(ctx, slog.LevelError, "fault page render failed",
					slog.String("error", rerr.Error()),
				)
				return err
			}
			return nil
		})
	})
}

// pageFor picks the renderer for kind, walking up the kind hierarchy to
// the nearest registered page.
func pageFor(pages map[*fault.Kind]Renderer, fallback Renderer, kind *fault.Kind) Renderer {
	for k := kind; k != nil; k = k.Parent() {
		if r, ok := pages[k]; ok {
			return r
		}
	}
	return fallback
}

// classify maps an error to the kind, client-safe message and status used
// for the page. Unclassified errors render as internal without leaking
// their text.
func classify(err error) (*fault.Kind, string, int) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.Kind, fe.Message, fe.HTTPStatusCode()
	}
	return fault.KindInternal, "internal error", http.StatusInternalServerError
}
