// Package apikey authenticates calls with pre-shared API keys. Keys are
// configured as SHA-256 hex hashes, so the configuration never holds a
// usable credential.
package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tjfontaine/gantry/internal/plugins/calllog"
	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
	"github.com/tjfontaine/gantry/pkg/plugin"
)

// Name is the plugin's registration name.
const Name = "apikey"

// DefaultHeader is where clients present the key when no header is
// configured. It additionally accepts the "Bearer <key>" form.
const DefaultHeader = "Authorization"

// Key is one accepted credential.
type Key struct {
	// Name identifies the client in logs. Never the key itself.
	Name string
	// Hash is the hex SHA-256 of the plaintext key.
	Hash string
}

// Config lists the accepted keys and where to find them.
type Config struct {
	// Header holds the key. Empty means DefaultHeader.
	Header string
	Keys   []Key
}

// HashKey hashes a plaintext key the way the configuration stores it.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// presented extracts the key a call offers, or "" when there is none.
func presented(c *call.Call, header string) string {
	if c.Request.Header == nil {
		return ""
	}
	v := c.Request.Header.Get(header)
	if strings.EqualFold(header, DefaultHeader) {
		if scheme, rest, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return v
}

// New creates the API key plugin. Calls without a known key fail with an
// unauthorized fault before any routing work happens; accepted calls
// carry the key's name into the completion log.
func New(cfg Config) *plugin.Plugin {
	header := cfg.Header
	if header == "" {
		header = DefaultHeader
	}
	byHash := make(map[string]string, len(cfg.Keys))
	for _, k := range cfg.Keys {
		byHash[strings.ToLower(k.Hash)] = k.Name
	}
	return plugin.New(Name, func(b *plugin.Builder) {
		b.OnCall(func(ctx context.Context, c *call.Call) error {
			key := presented(c, header)
			if key == "" {
				return fault.New(fault.KindUnauthorized, "missing api key")
			}
			name, ok := byHash[HashKey(key)]
			if !ok {
				return fault.New(fault.KindUnauthorized, "invalid api key")
			}
			if name != "" {
				calllog.AddField(c, "api_client", name)
			}
			return nil
		})
	})
}
