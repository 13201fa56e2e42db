// Package callmetrics exports Prometheus metrics for call processing:
// totals and latency by method and status, plus an in-flight gauge.
package callmetrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "callmetrics"

const namespace = "gantry"

// Metrics holds the collectors the plugin writes to. One Metrics value can
// back several pipeline sets; the app label tells them apart.
type Metrics struct {
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	callsInFlight *prometheus.GaugeVec
	callErrors    *prometheus.CounterVec
}

// NewMetrics registers the call collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "total",
			Help:      "Count of calls processed, by app, method and status.",
		}, []string{"app", "method", "status"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Call processing latency, by app and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"app", "method"}),
		callsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "in_flight",
			Help:      "Calls currently being processed, by app.",
		}, []string{"app"}),
		callErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "errors_total",
			Help:      "Count of calls that failed with an unhandled error, by app.",
		}, []string{"app"}),
	}
}

// New creates the metrics plugin for one app. It wraps the call in the
// monitoring phase so the observed status and latency are final.
func New(m *Metrics, app string) *plugin.Plugin {
	return plugin.New(Name, func(b *plugin.Builder) {
		b.InterceptCall(call.PhaseMonitoring, func(ctx context.Context, e *call.Execution) error {
			c := e.Call()
			m.callsInFlight.WithLabelValues(app).Inc()
			start := time.Now()

			_, err := e.Proceed()

			m.callsInFlight.WithLabelValues(app).Dec()
			m.callDuration.WithLabelValues(app, c.Request.Method).Observe(time.Since(start).Seconds())
			status := c.Response.Status
			if status == 0 {
				status = 200
			}
			m.callsTotal.WithLabelValues(app, c.Request.Method, strconv.Itoa(status)).Inc()
			if err != nil {
				m.callErrors.WithLabelValues(app).Inc()
			}
			return err
		})
	})
}
