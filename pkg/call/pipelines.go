// Package call models a single client call travelling through three
// cooperating pipelines: the call pipeline that routes and handles it, the
// receive pipeline that decodes its body, and the respond pipeline that
// encodes and sends the reply. The phases declared here are the standard
// extension points; plugins add their own phases relative to them.
package call

import (
	"github.com/tjfontaine/gantry/pkg/pipeline"
)

// Aliases for the pipeline engine instantiated over calls. Handlers all
// over the codebase use these rather than spelling the instantiation out.
type (
	Pipeline    = pipeline.Pipeline[*Call]
	Execution   = pipeline.Execution[*Call]
	Interceptor = pipeline.Interceptor[*Call]
)

// Standard phases of the call pipeline, in execution order.
var (
	// PhaseSetup prepares per-call state before anything observes the call.
	PhaseSetup = pipeline.NewPhase("setup")
	// PhaseMonitoring is where logging, metrics and tracing wrap the call.
	PhaseMonitoring = pipeline.NewPhase("monitoring")
	// PhasePlugins is the default phase for installed plugin handlers.
	PhasePlugins = pipeline.NewPhase("plugins")
	// PhaseCall routes and produces the response.
	PhaseCall = pipeline.NewPhase("call")
	// PhaseFallback handles calls nothing else responded to.
	PhaseFallback = pipeline.NewPhase("fallback")
)

// Standard phases of the receive pipeline, in execution order.
var (
	ReceiveBefore    = pipeline.NewPhase("receive-before")
	ReceiveTransform = pipeline.NewPhase("receive-transform")
	ReceiveAfter     = pipeline.NewPhase("receive-after")
)

// Standard phases of the respond pipeline, in execution order. The engine
// phase is last and owned by the transport: it performs the actual write.
var (
	RespondBefore    = pipeline.NewPhase("respond-before")
	RespondTransform = pipeline.NewPhase("respond-transform")
	RespondRender    = pipeline.NewPhase("respond-render")
	RespondAfter     = pipeline.NewPhase("respond-after")
	RespondEngine    = pipeline.NewPhase("respond-engine")
)

// Pipelines bundles the three pipelines a call runs through, plus an
// attribute bag for install-time state. A server typically configures one
// base Pipelines and forks it per application.
type Pipelines struct {
	Call    *Pipeline
	Receive *Pipeline
	Respond *Pipeline
	Attrs   *Attributes
}

// NewPipelines creates the pipeline set with the standard phases.
func NewPipelines() *Pipelines {
	return &Pipelines{
		Call:    pipeline.New[*Call](PhaseSetup, PhaseMonitoring, PhasePlugins, PhaseCall, PhaseFallback),
		Receive: pipeline.New[*Call](ReceiveBefore, ReceiveTransform, ReceiveAfter),
		Respond: pipeline.New[*Call](RespondBefore, RespondTransform, RespondRender, RespondAfter, RespondEngine),
		Attrs:   NewAttributes(),
	}
}

// Merge copies phases and handlers from other into the receiver, pipeline
// by pipeline. Merging the same source twice changes nothing.
func (p *Pipelines) Merge(other *Pipelines) {
	p.Call.Merge(other.Call)
	p.Receive.Merge(other.Receive)
	p.Respond.Merge(other.Respond)
}

// Fork derives an independent copy of the pipeline set. The fork starts
// with the receiver's phases, handlers and attributes; later changes to
// either side do not affect the other.
func (p *Pipelines) Fork() *Pipelines {
	f := &Pipelines{
		Call:    pipeline.New[*Call](),
		Receive: pipeline.New[*Call](),
		Respond: pipeline.New[*Call](),
		Attrs:   p.Attrs.clone(),
	}
	f.Merge(p)
	return f
}
