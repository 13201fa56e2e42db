package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/dnaeon/go-vcr.v2/recorder"

	"github.com/tjfontaine/gantry/internal/config"
	"github.com/tjfontaine/gantry/internal/testutil"
	"github.com/tjfontaine/gantry/pkg/fault"
)

func serveRoute(t *testing.T, route config.RouteConfig, client *http.Client, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	pipes := hostPipes(t, HostConfig{})
	h, err := BuildRouteHandler(route, client)
	if err != nil {
		t.Fatalf("Failed to build route handler: %v", err)
	}
	w := httptest.NewRecorder()
	Handler(pipes, quietLogger(), h)(w, req)
	return w
}

func TestBuildRouteHandler_UnknownKind(t *testing.T) {
	_, err := BuildRouteHandler(config.RouteConfig{Kind: "teleport"}, nil)
	if err == nil {
		t.Fatal("Expected an error for an unknown route kind")
	}
	if !fault.IsKind(err, fault.KindInternal) {
		t.Errorf("Expected an internal fault, got %v", err)
	}
}

func TestStaticHandler_Defaults(t *testing.T) {
	route := config.RouteConfig{Body: "hello"}
	w := serveRoute(t, route, nil, httptest.NewRequest(http.MethodGet, "/hello", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "hello" {
		t.Errorf("Unexpected body: %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Unexpected content type: %q", ct)
	}
}

func TestStaticHandler_Configured(t *testing.T) {
	route := config.RouteConfig{
		Kind:        "static",
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Body:        `{"ok":true}`,
	}
	w := serveRoute(t, route, nil, httptest.NewRequest(http.MethodPost, "/things", nil))

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("Unexpected body: %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Unexpected content type: %q", ct)
	}
}

func TestEchoHandler_ReflectsRequest(t *testing.T) {
	route := config.RouteConfig{Kind: "echo"}
	req := httptest.NewRequest(http.MethodPost, "/mirror?tag=a", strings.NewReader(`{"n":1}`))
	req.Header.Set("X-Probe", "yes")
	w := serveRoute(t, route, nil, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Unexpected content type: %q", ct)
	}

	var got echoPayload
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode echo body: %v", err)
	}
	if got.Method != http.MethodPost || got.Path != "/mirror" {
		t.Errorf("Unexpected method/path: %s %s", got.Method, got.Path)
	}
	if got.Body != `{"n":1}` {
		t.Errorf("Unexpected echoed body: %q", got.Body)
	}
	if got.Headers["X-Probe"] != "yes" {
		t.Errorf("Expected echoed X-Probe header, got %v", got.Headers)
	}
	if got.Query.Get("tag") != "a" {
		t.Errorf("Expected echoed query, got %v", got.Query)
	}
}

func TestUpstreamHandler_ProxiesRequest(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotProbe, gotConnection string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotProbe = r.Header.Get("X-Probe")
		gotConnection = r.Header.Get("Connection")
		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	route := config.RouteConfig{Kind: "upstream", Upstream: backend.URL + "/api/v1/things"}
	req := httptest.NewRequest(http.MethodPost, "/things?tag=a", strings.NewReader("payload"))
	req.Header.Set("X-Probe", "yes")
	req.Header.Set("Connection", "keep-alive")
	w := serveRoute(t, route, backend.Client(), req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("Unexpected body: %q", w.Body.String())
	}
	if got := w.Header().Get("X-Upstream"); got != "yes" {
		t.Errorf("Expected relayed X-Upstream header, got %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Unexpected content type: %q", ct)
	}
	if gotPath != "/api/v1/things" {
		t.Errorf("Upstream saw path %q", gotPath)
	}
	if gotQuery != "tag=a" {
		t.Errorf("Upstream saw query %q", gotQuery)
	}
	if gotBody != "payload" {
		t.Errorf("Upstream saw body %q", gotBody)
	}
	if gotProbe != "yes" {
		t.Errorf("Upstream saw X-Probe %q", gotProbe)
	}
	if gotConnection != "" {
		t.Errorf("Hop-by-hop header leaked upstream: %q", gotConnection)
	}
}

func TestUpstreamHandler_Unavailable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := backend.URL
	backend.Close()

	route := config.RouteConfig{Kind: "upstream", Upstream: target}
	w := serveRoute(t, route, nil, httptest.NewRequest(http.MethodGet, "/proxy", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 for a dead upstream, got %d", w.Code)
	}
}

func TestUpstreamHandler_Timeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer backend.Close()

	route := config.RouteConfig{Kind: "upstream", Upstream: backend.URL}
	client := &http.Client{Timeout: 50 * time.Millisecond}
	w := serveRoute(t, route, client, httptest.NewRequest(http.MethodGet, "/proxy", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504 for an upstream timeout, got %d", w.Code)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "deadline exceeded" }
func (timeoutErr) Timeout() bool { return true }

func TestClassifyUpstreamError(t *testing.T) {
	t.Run("cancellation passes through", func(t *testing.T) {
		in := &url.Error{Op: "Get", URL: "http://upstream", Err: context.Canceled}
		err := classifyUpstreamError(in)
		if err != in {
			t.Errorf("Expected cancellation to pass through, got %v", err)
		}
	})

	t.Run("timeouts classify as upstream_timeout", func(t *testing.T) {
		err := classifyUpstreamError(&url.Error{Op: "Get", URL: "http://upstream", Err: timeoutErr{}})
		if !fault.IsKind(err, fault.KindUpstreamTimeout) {
			t.Errorf("Expected an upstream_timeout fault, got %v", err)
		}
	})

	t.Run("other failures classify as unavailable", func(t *testing.T) {
		err := classifyUpstreamError(&url.Error{Op: "Get", URL: "http://upstream", Err: io.ErrUnexpectedEOF})
		if !fault.IsKind(err, fault.KindUpstreamUnavailable) {
			t.Errorf("Expected an upstream_unavailable fault, got %v", err)
		}
		if !fault.IsKind(err, fault.KindUpstream) {
			t.Error("Expected the fault to match the upstream ancestor kind")
		}
	})
}

func TestUpstreamHandler_ReplayedFromCassette(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"source":"live"}`))
	}))

	cassette := filepath.Join(t.TempDir(), "upstream")
	route := config.RouteConfig{Kind: "upstream", Upstream: backend.URL + "/payload"}

	rec, stop := testutil.NewVCRRecorder(t, cassette, recorder.ModeRecording)
	w := serveRoute(t, route, testutil.VCRHTTPClient(rec), httptest.NewRequest(http.MethodGet, "/payload", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"source":"live"}` {
		t.Fatalf("Recording pass failed: %d %q", w.Code, w.Body.String())
	}
	stop()

	// Replay with the backend gone proves the cassette is serving.
	backend.Close()
	rec, stop = testutil.NewVCRRecorder(t, cassette, recorder.ModeReplaying)
	defer stop()
	w = serveRoute(t, route, testutil.VCRHTTPClient(rec), httptest.NewRequest(http.MethodGet, "/payload", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 from the cassette, got %d", w.Code)
	}
	if w.Body.String() != `{"source":"live"}` {
		t.Errorf("Unexpected replayed body: %q", w.Body.String())
	}
}
