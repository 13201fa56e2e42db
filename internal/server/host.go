package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
	"github.com/tjfontaine/gantry/pkg/pipeline"
)

// RouteHandler produces the response for a matched route. Handlers respond
// through the call; a handler that neither responds nor fails lets the
// pipeline continue to its fallback.
type RouteHandler func(ctx context.Context, c *call.Call) error

type writerKey struct{}
type routeKey struct{}

// HostConfig configures the transport collaborators InstallHost wires in.
type HostConfig struct {
	Logger *slog.Logger
	// MaxBodyBytes caps how many request body bytes the receive pipeline
	// reads. Zero means the 4 MiB default.
	MaxBodyBytes int64
}

// InstallHost wires the transport into a pipeline set: materializing
// request bodies on receive, rendering response values to wire content,
// writing them out, dispatching the bound route handler, and answering 404
// when nothing else responds. Every pipeline set served over HTTP needs
// this installed exactly once, before any forks are taken.
func InstallHost(pipes *call.Pipelines, cfg HostConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 4 << 20
	}

	err := pipes.Receive.Intercept(call.ReceiveTransform, func(ctx context.Context, e *call.Execution) error {
		raw, ok := e.Subject().(*call.RawContent)
		if !ok {
			_, err := e.Proceed()
			return err
		}
		if raw.Body == nil {
			_, err := e.ProceedWith([]byte(nil))
			return err
		}
		data, err := io.ReadAll(io.LimitReader(raw.Body, maxBody+1))
		if err != nil {
			return fault.Wrap(fault.KindBadRequest, "read request body", err)
		}
		if int64(len(data)) > maxBody {
			return fault.Newf(fault.KindBadRequest, "request body exceeds %d bytes", maxBody)
		}
		_, perr := e.ProceedWith(data)
		return perr
	})
	if err != nil {
		return err
	}

	err = pipes.Respond.Intercept(call.RespondRender, func(ctx context.Context, e *call.Execution) error {
		out, err := render(e.Subject())
		if err != nil {
			return err
		}
		_, perr := e.ProceedWith(out)
		return perr
	})
	if err != nil {
		return err
	}

	err = pipes.Respond.Intercept(call.RespondEngine, func(ctx context.Context, e *call.Execution) error {
		out, ok := e.Subject().(*call.OutgoingContent)
		if !ok {
			return fault.Newf(fault.KindInternal, "respond pipeline produced %T, not wire content", e.Subject())
		}
		c := e.Call()
		status := out.StatusOrDefault()
		c.Response.Status = status
		c.Response.Bytes = int64(len(out.Body))

		v, bound := c.Attrs.Get(writerKey{})
		if !bound {
			return nil
		}
		w := v.(http.ResponseWriter)
		for k, vals := range c.Response.Header {
			for _, hv := range vals {
				w.Header().Add(k, hv)
			}
		}
		if out.ContentType != "" {
			w.Header().Set("Content-Type", out.ContentType)
		}
		w.WriteHeader(status)
		if len(out.Body) > 0 {
			if _, err := w.Write(out.Body); err != nil {
				// Headers are on the wire; the response counts as sent.
				logger.Debug("response write failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = pipes.Call.Intercept(call.PhaseCall, func(ctx context.Context, e *call.Execution) error {
		c := e.Call()
		if v, ok := c.Attrs.Get(routeKey{}); ok {
			if err := v.(RouteHandler)(ctx, c); err != nil {
				return err
			}
			if c.Responded() {
				e.Finish()
				return nil
			}
		}
		_, err := e.Proceed()
		return err
	})
	if err != nil {
		return err
	}

	return pipes.Call.Intercept(call.PhaseFallback, func(ctx context.Context, e *call.Execution) error {
		c := e.Call()
		if c.Responded() {
			_, err := e.Proceed()
			return err
		}
		return c.Respond(ctx, &call.OutgoingContent{
			Status:      http.StatusNotFound,
			ContentType: "application/json",
			Body:        []byte(`{"error":{"kind":"not_found","message":"no route matched"}}`),
		})
	})
}

// render converts a handler's response value into wire content. Strings and
// bytes pass through with sensible content types; everything else is
// encoded as JSON.
func render(subject any) (*call.OutgoingContent, error) {
	switch v := subject.(type) {
	case *call.OutgoingContent:
		return v, nil
	case string:
		return &call.OutgoingContent{ContentType: "text/plain; charset=utf-8", Body: []byte(v)}, nil
	case []byte:
		return &call.OutgoingContent{ContentType: "application/octet-stream", Body: v}, nil
	case nil:
		return &call.OutgoingContent{}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, "encode response", err)
		}
		return &call.OutgoingContent{ContentType: "application/json", Body: data}, nil
	}
}

// Handler bridges one route into an http.HandlerFunc: each request becomes
// a call bound to the response writer and the given route handler, then
// runs the pipeline to completion.
func Handler(pipes *call.Pipelines, logger *slog.Logger, handler RouteHandler) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c := call.New(pipes, &call.Request{
			Method:     r.Method,
			Path:       r.URL.Path,
			Host:       r.Host,
			RemoteAddr: r.RemoteAddr,
			Header:     r.Header,
			Query:      r.URL.Query(),
			Body:       r.Body,
		})
		c.Attrs.Set(writerKey{}, w)
		if handler != nil {
			c.Attrs.Set(routeKey{}, handler)
		}

		if _, err := pipes.Call.Execute(r.Context(), c, c); err != nil {
			if pipeline.IsCancelled(err) {
				return
			}
			if !c.Responded() {
				status := http.StatusInternalServerError
				var fe *fault.Error
				if errors.As(err, &fe) {
					status = fe.HTTPStatusCode()
				}
				logger.Error("unhandled call failure",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				http.Error(w, http.StatusText(status), status)
			}
		}
	}
}
