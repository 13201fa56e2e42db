package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_Is(t *testing.T) {
	if !KindUpstreamTimeout.Is(KindUpstream) {
		t.Error("upstream_timeout should derive from upstream")
	}
	if !KindUpstreamTimeout.Is(KindAny) {
		t.Error("upstream_timeout should derive from any")
	}
	if KindUpstreamTimeout.Is(KindBadRequest) {
		t.Error("upstream_timeout should not derive from bad_request")
	}
	if !KindAny.Is(KindAny) {
		t.Error("a kind should match itself")
	}
}

func TestNewKind_ExtendsHierarchy(t *testing.T) {
	custom := NewKind("upstream_quota", KindUpstream)
	if !custom.Is(KindUpstream) || !custom.Is(KindAny) {
		t.Error("custom kind should derive through its parent chain")
	}
	if got := custom.Parent(); got != KindUpstream {
		t.Errorf("parent = %v, want %v", got, KindUpstream)
	}
}

func TestError_Message(t *testing.T) {
	e := New(KindNotFound, "no such app")
	if got := e.Error(); got != "not_found: no such app" {
		t.Errorf("message = %q", got)
	}

	wrapped := Wrap(KindUpstream, "fetch failed", errors.New("connection refused"))
	if got := wrapped.Error(); got != "upstream: fetch failed: connection refused" {
		t.Errorf("message = %q", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: refused")
	e := Wrap(KindUpstreamUnavailable, "origin down", inner)
	if !errors.Is(e, inner) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != nil {
		t.Errorf("KindOf(nil) = %v, want nil", got)
	}
	if got := KindOf(New(KindThrottled, "slow down")); got != KindThrottled {
		t.Errorf("KindOf = %v, want %v", got, KindThrottled)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf plain error = %v, want %v", got, KindInternal)
	}

	// Faults stay visible through %w wrapping.
	err := fmt.Errorf("handling call: %w", New(KindBadRequest, "bad json"))
	if got := KindOf(err); got != KindBadRequest {
		t.Errorf("KindOf wrapped = %v, want %v", got, KindBadRequest)
	}
}

func TestIsKind(t *testing.T) {
	err := New(KindUpstreamTimeout, "deadline")
	if !IsKind(err, KindUpstreamTimeout) {
		t.Error("expected exact kind match")
	}
	if !IsKind(err, KindUpstream) {
		t.Error("expected ancestor kind match")
	}
	if IsKind(err, KindNotFound) {
		t.Error("unexpected kind match")
	}
	if IsKind(nil, KindAny) {
		t.Error("nil error matched a kind")
	}
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		kind *Kind
		want int
	}{
		{KindBadRequest, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindThrottled, http.StatusTooManyRequests},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindUpstream, http.StatusBadGateway},
		{KindUpstreamTimeout, http.StatusGatewayTimeout},
		{KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.kind, "x").HTTPStatusCode(); got != tt.want {
			t.Errorf("%s status = %d, want %d", tt.kind, got, tt.want)
		}
	}

	// Kinds without their own status inherit from the nearest ancestor.
	custom := NewKind("upstream_quota", KindUpstream)
	if got := New(custom, "x").HTTPStatusCode(); got != http.StatusBadGateway {
		t.Errorf("derived kind status = %d, want %d", got, http.StatusBadGateway)
	}
}
