// Package throttle rejects calls that exceed a per-client rate, applying a
// token bucket per remote address.
package throttle

import (
	"context"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "throttle"

// Config sets the per-client budget.
type Config struct {
	// RPS is the sustained request rate allowed per client.
	RPS float64
	// Burst is the instantaneous burst allowed per client.
	Burst int
	// IdleTTL bounds how long an inactive client keeps its bucket.
	// Zero means 10 minutes.
	IdleTTL time.Duration
}

// limiter applies a token bucket per key and evicts idle entries while
// serving, so the map does not grow with one entry per client forever.
type limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*bucket
	hits  uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiter(cfg Config) *limiter {
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &limiter{
		limit:   rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
		idleTTL: idle,
		byKey:   make(map[string]*bucket),
	}
}

func (l *limiter) allow(key string, now time.Time) bool {
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// clientKey reduces a remote address to its host so one client keeps one
// bucket across connections.
func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// retrySeconds is how long a client should wait for one token, rounded up
// to the whole seconds Retry-After requires.
func retrySeconds(rps float64) int {
	secs := int(math.Ceil(1 / rps))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// New creates the throttle plugin. Calls over budget fail with a throttled
// fault before any routing work happens; the rejection carries a
// Retry-After hint sized to the configured rate.
func New(cfg Config) *plugin.Plugin {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RPS)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	l := newLimiter(cfg)
	retryAfter := strconv.Itoa(retrySeconds(cfg.RPS))
	return plugin.New(Name, func(b *plugin.Builder) {
		b.OnCall(func(ctx context.Context, c *call.Call) error {
			if !l.allow(clientKey(c.Request.RemoteAddr), time.Now()) {
				c.Response.Header.Set("Retry-After", retryAfter)
				return fault.New(fault.KindThrottled, "rate limit exceeded")
			}
			return nil
		})
	})
}
