package safehttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGuardedTransport_BlocksLoopback(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guarded dial reached the backend")
	}))
	defer backend.Close()

	client := Client(2 * time.Second)
	resp, err := client.Get(backend.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("loopback dial succeeded through the guard")
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Errorf("error = %v, want the guard's rejection", err)
	}
}
