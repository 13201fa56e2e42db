// Package recorder persists a row per completed call to SQLite, giving an
// operator a queryable history without standing up an external system.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/gantry/internal/plugins/callid"
	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "recorder"

const persistTimeout = 5 * time.Second

// renderedTypeKey carries the rendered content type from the respond
// pipeline to the monitoring interceptor.
type renderedTypeKey struct{}

// New creates the recorder plugin for one app. A respond hook notes the
// content type the call was rendered with, and the record is written from
// the monitoring phase; install it before the fault boundary so failures
// are recorded with their rendered status. A failed insert is logged and
// never fails the call.
func New(store *Store, app string, logger *slog.Logger) *plugin.Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return plugin.New(Name, func(b *plugin.Builder) {
		b.OnCallRespondAfter(func(ctx context.Context, c *call.Call, payload any) (any, error) {
			if out, ok := payload.(*call.OutgoingContent); ok {
				c.Attrs.Set(renderedTypeKey{}, out.ContentType)
			}
			return nil, nil
		})
		b.InterceptCall(call.PhaseMonitoring, func(ctx context.Context, e *call.Execution) error {
			c := e.Call()
			start := time.Now()

			_, err := e.Proceed()

			rec := &CallRecord{
				ID:         callid.FromCall(c),
				App:        app,
				Method:     c.Request.Method,
				Path:       c.Request.Path,
				Status:     c.Response.Status,
				Bytes:      c.Response.Bytes,
				DurationNS: time.Since(start).Nanoseconds(),
			}
			if v, ok := c.Attrs.Get(renderedTypeKey{}); ok {
				rec.ContentType, _ = v.(string)
			}
			if rec.ID == "" {
				rec.ID = uuid.New().String()
			}
			if rec.Status == 0 && err == nil {
				rec.Status = 200
			}
			if err != nil {
				rec.FaultKind = fault.KindOf(err).Name()
				rec.FaultMessage = err.Error()
			}
			// Persist on a detached context so records survive client
			// disconnects and cancelled calls.
			persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if ierr := store.InsertCall(persistCtx, rec); ierr != nil {
				logger.Error("call record failed",
					slog.String("call_id", rec.ID),
					slog.String("error", ierr.Error()),
				)
			}
			return err
		})
	})
}
