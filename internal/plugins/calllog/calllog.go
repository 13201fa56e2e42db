// Package calllog logs every call with structured start and completion
// records, including whatever fields later handlers attached through
// AddField.
package calllog

import (
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/gantry/internal/plugins/callid"
	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "calllog"

type fieldsKey struct{}

// New creates the call-logging plugin. It wraps the rest of the call in
// the monitoring phase, so the completion record observes the final status
// and the full duration.
func New(logger *slog.Logger) *plugin.Plugin {
	return plugin.New(Name, func(b *plugin.Builder) {
		b.InterceptCall(call.PhaseMonitoring, func(ctx context.Context, e *call.Execution) error {
			c := e.Call()
			fields := make(map[string]string)
			c.Attrs.Set(fieldsKey{}, fields)

			start := time.Now()
			logger.Info("call started",
				slog.String("call_id", callid.FromCall(c)),
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.Path),
				slog.String("remote_addr", c.Request.RemoteAddr),
			)

			_, err := e.Proceed()

			attrs := []slog.Attr{
				slog.String("call_id", callid.FromCall(c)),
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.Path),
				slog.Int("status", c.Response.Status),
				slog.Duration("duration", time.Since(start)),
			}
			for k, v := range fields {
				attrs = append(attrs, slog.String(k, v))
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "call failed", attrs...)
				return err
			}
			logger.LogAttrs(ctx, slog.LevelInfo, "call completed", attrs...)
			return nil
		})
	})
}

// AddField attaches a key/value pair to the call's completion log record.
// Handlers use it to surface routing or backend detail without logging
// themselves.
func AddField(c *call.Call, key, value string) {
	if v, ok := c.Attrs.Get(fieldsKey{}); ok {
		if fields, ok := v.(map[string]string); ok {
			fields[key] = value
		}
	}
}
