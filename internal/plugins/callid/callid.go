// Package callid assigns every call a unique id, exposed as a call
// attribute and echoed in a response header so clients and logs can
// correlate.
package callid

import (
	"context"

	"github.com/google/uuid"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "callid"

// DefaultHeader is the response header carrying the call id.
const DefaultHeader = "X-Call-ID"

type attrKey struct{}

// New creates the call-id plugin. An empty header uses DefaultHeader.
// The id is assigned in the setup phase so every later handler can read it.
func New(header string) *plugin.Plugin {
	if header == "" {
		header = DefaultHeader
	}
	return plugin.New(Name, func(b *plugin.Builder) {
		b.InterceptCall(call.PhaseSetup, func(ctx context.Context, e *call.Execution) error {
			c := e.Call()
			id := uuid.New().String()
			c.Attrs.Set(attrKey{}, id)
			c.Response.Header.Set(header, id)
			_, err := e.Proceed()
			return err
		})
	})
}

// FromCall retrieves the id assigned to the call.
// Returns an empty string if the plugin did not run.
func FromCall(c *call.Call) string {
	if v, ok := c.Attrs.Get(attrKey{}); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
