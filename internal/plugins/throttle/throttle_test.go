package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
)

func runCall(pipes *call.Pipelines, remote string) error {
	c := call.New(pipes, &call.Request{Method: "GET", Path: "/x", RemoteAddr: remote})
	_, err := pipes.Call.Execute(context.Background(), c, c)
	return err
}

func TestThrottle_AllowsWithinBudget(t *testing.T) {
	pipes := call.NewPipelines()
	if err := New(Config{RPS: 100, Burst: 2}).Install(pipes); err != nil {
		t.Fatalf("install: %v", err)
	}

	if err := runCall(pipes, "10.0.0.1:123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := runCall(pipes, "10.0.0.1:123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestThrottle_RejectsOverBudget(t *testing.T) {
	pipes := call.NewPipelines()
	// One request per hour with burst 1: the second call must fail.
	if err := New(Config{RPS: 1.0 / 3600, Burst: 1}).Install(pipes); err != nil {
		t.Fatalf("install: %v", err)
	}

	if err := runCall(pipes, "10.0.0.1:123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := runCall(pipes, "10.0.0.1:123")
	if err == nil {
		t.Fatal("expected throttled error")
	}
	if !fault.IsKind(err, fault.KindThrottled) {
		t.Errorf("error kind = %v, want throttled", fault.KindOf(err))
	}
}

func TestThrottle_SetsRetryAfter(t *testing.T) {
	pipes := call.NewPipelines()
	// One request per four seconds rounds up to a four second hint.
	if err := New(Config{RPS: 0.25, Burst: 1}).Install(pipes); err != nil {
		t.Fatalf("install: %v", err)
	}

	if err := runCall(pipes, "10.0.0.1:123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := call.New(pipes, &call.Request{Method: "GET", Path: "/x", RemoteAddr: "10.0.0.1:123"})
	if _, err := pipes.Call.Execute(context.Background(), c, c); !fault.IsKind(err, fault.KindThrottled) {
		t.Fatalf("error = %v, want throttled", err)
	}
	if got := c.Response.Header.Get("Retry-After"); got != "4" {
		t.Errorf("Retry-After = %q, want %q", got, "4")
	}
}

func TestRetrySeconds(t *testing.T) {
	cases := []struct {
		rps  float64
		want int
	}{
		{10, 1},
		{1, 1},
		{0.5, 2},
		{0.25, 4},
	}
	for _, tc := range cases {
		if got := retrySeconds(tc.rps); got != tc.want {
			t.Errorf("retrySeconds(%v) = %d, want %d", tc.rps, got, tc.want)
		}
	}
}

func TestThrottle_BucketsPerClient(t *testing.T) {
	pipes := call.NewPipelines()
	if err := New(Config{RPS: 1.0 / 3600, Burst: 1}).Install(pipes); err != nil {
		t.Fatalf("install: %v", err)
	}

	if err := runCall(pipes, "10.0.0.1:1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A different client gets its own bucket.
	if err := runCall(pipes, "10.0.0.2:1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Ports do not split a client's bucket.
	if err := runCall(pipes, "10.0.0.1:999"); !fault.IsKind(err, fault.KindThrottled) {
		t.Errorf("error = %v, want throttled", err)
	}
}

func TestLimiter_EvictsIdleEntries(t *testing.T) {
	l := newLimiter(Config{RPS: 100, Burst: 1, IdleTTL: time.Minute})
	now := time.Now()

	l.allow("stale", now.Add(-2*time.Minute))
	// Eviction triggers every 512th hit.
	for i := 0; i < 512; i++ {
		l.allow("busy", now)
	}

	l.mu.Lock()
	_, staleKept := l.byKey["stale"]
	l.mu.Unlock()
	if staleKept {
		t.Error("idle entry survived eviction")
	}
}

func TestClientKey(t *testing.T) {
	if got := clientKey("10.0.0.1:443"); got != "10.0.0.1" {
		t.Errorf("clientKey = %q, want %q", got, "10.0.0.1")
	}
	if got := clientKey("not-an-addr"); got != "not-an-addr" {
		t.Errorf("clientKey = %q, want passthrough", got)
	}
}
