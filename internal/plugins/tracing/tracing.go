// Package tracing annotates the OpenTelemetry span opened by the transport
// with call-level detail. It creates no spans of its own; without an active
// span it does nothing.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/gantry/internal/plugins/callid"
	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
	"github.com/tjfontaine/gantry/pkg/pipeline"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "tracing"

// New creates the tracing plugin for one app.
func New(app string) *plugin.Plugin {
	return plugin.New(Name, func(b *plugin.Builder) {
		b.InterceptCall(call.PhaseMonitoring, func(ctx context.Context, e *call.Execution) error {
			span := trace.SpanFromContext(ctx)
			if !span.IsRecording() {
				_, err := e.Proceed()
				return err
			}

			c := e.Call()
			span.SetAttributes(
				attribute.String("gantry.app", app),
				attribute.String("gantry.call_id", callid.FromCall(c)),
			)

			_, err := e.Proceed()

			if c.Response.Status != 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", c.Response.Status))
			}
			switch {
			case err == nil:
			case pipeline.IsCancelled(err):
				span.SetStatus(codes.Error, "cancelled")
			default:
				span.RecordError(err)
				span.SetStatus(codes.Error, fault.KindOf(err).Name())
			}
			return err
		})
	})
}
