// Package gantry provides the public API for embedding a gantry server.
// This is the stable surface for external consumers; plugin authors use
// pkg/plugin and pkg/call alongside it.
package gantry

import (
	"github.com/tjfontaine/gantry/internal/runtime"
)

// Gantry is the running server instance.
// See internal/runtime.Gantry for full documentation.
type Gantry = runtime.Gantry

// Option is a functional option for configuring a Gantry.
type Option = runtime.Option

// New creates a new Gantry with the given options.
// Example:
//
//	g, err := gantry.New(
//	    gantry.WithConfigFile("gantry.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	WithConfigFile      = runtime.WithConfigFile
	WithLogger          = runtime.WithLogger
	WithPlugin          = runtime.WithPlugin
	WithUpstreamClient  = runtime.WithUpstreamClient
	WithMetricsRegistry = runtime.WithMetricsRegistry
)
