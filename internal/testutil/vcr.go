// Package testutil holds helpers shared by tests, most notably go-vcr
// plumbing for recording and replaying upstream HTTP traffic.
package testutil

import (
	"net/http"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// NewVCRRecorder opens a go-vcr recorder on the cassette at path (without
// the .yaml suffix) in the given mode. In recording mode interactions are
// captured and written out on cleanup; in replaying mode they are served
// from the cassette without touching the network. Requests match on method
// and URL only, so recorded bodies never have to line up byte for byte.
func NewVCRRecorder(t *testing.T, path string, mode recorder.Mode) (*recorder.Recorder, func()) {
	t.Helper()

	r, err := recorder.NewAsMode(path, mode, nil)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method && r.URL.String() == i.URL
	})

	cleanup := func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	}

	return r, cleanup
}

// VCRHTTPClient returns an HTTP client that routes through the recorder.
func VCRHTTPClient(r *recorder.Recorder) *http.Client {
	return &http.Client{
		Transport: r,
	}
}
