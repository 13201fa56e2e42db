package plugin

import (
	"context"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/pipeline"
)

// CallHandler is the body of an OnCall hook. Returning nil continues the
// pipeline behind the scenes; responding to the call ends it instead, so a
// handler never needs to drive the chain itself.
type CallHandler func(ctx context.Context, c *call.Call) error

// TransformHandler is the body of a receive or respond hook. It returns the
// payload downstream transforms should see; returning nil keeps the current
// payload.
type TransformHandler func(ctx context.Context, c *call.Call, payload any) (any, error)

// Hooks is the registration surface shared by default placement and the
// Before/After relative placements.
type Hooks interface {
	// OnCall runs for every call before routing-specific work.
	OnCall(fn CallHandler)
	// OnCallReceive runs while the request body is materialized into a
	// typed payload.
	OnCallReceive(fn TransformHandler)
	// OnCallRespond runs while a response value is converted toward wire
	// content.
	OnCallRespond(fn TransformHandler)
	// OnCallRespondAfter runs once the response value has been fully
	// rendered, for hooks that need the final representation.
	OnCallRespondAfter(fn TransformHandler)
}

// Builder is handed to a plugin's configure function during Install. The
// default hooks register into the standard phases; InterceptCall and
// friends give raw access to any phase; Before and After compute placement
// relative to other plugins.
type Builder struct {
	plugin *Plugin
	target *call.Pipelines
	rec    *record
	err    error
	seq    int
}

var _ Hooks = (*Builder)(nil)

// OnCall registers fn in the plugins phase of the call pipeline.
func (b *Builder) OnCall(fn CallHandler) {
	b.intercept(categoryCall, call.PhasePlugins, wrapCall(fn))
}

// OnCallReceive registers fn in the transform phase of the receive
// pipeline.
func (b *Builder) OnCallReceive(fn TransformHandler) {
	b.intercept(categoryReceive, call.ReceiveTransform, wrapTransform(fn))
}

// OnCallRespond registers fn in the transform phase of the respond
// pipeline.
func (b *Builder) OnCallRespond(fn TransformHandler) {
	b.intercept(categoryRespond, call.RespondTransform, wrapTransform(fn))
}

// OnCallRespondAfter registers fn in the after phase of the respond
// pipeline, downstream of rendering.
func (b *Builder) OnCallRespondAfter(fn TransformHandler) {
	b.intercept(categoryRespond, call.RespondAfter, wrapTransform(fn))
}

// InterceptCall registers a raw handler in the given phase of the call
// pipeline. The phase counts as the plugin's for relative placement by
// other plugins.
func (b *Builder) InterceptCall(phase *pipeline.Phase, fn call.Interceptor) {
	b.intercept(categoryCall, phase, fn)
}

// InterceptReceive registers a raw handler in the given phase of the
// receive pipeline.
func (b *Builder) InterceptReceive(phase *pipeline.Phase, fn call.Interceptor) {
	b.intercept(categoryReceive, phase, fn)
}

// InterceptRespond registers a raw handler in the given phase of the
// respond pipeline.
func (b *Builder) InterceptRespond(phase *pipeline.Phase, fn call.Interceptor) {
	b.intercept(categoryRespond, phase, fn)
}

// Before returns a registration surface whose hooks run before everything
// the listed plugins registered for the same hook category.
func (b *Builder) Before(deps ...*Plugin) Hooks {
	return &relativeHooks{b: b, deps: deps}
}

// After returns a registration surface whose hooks run after everything
// the listed plugins registered for the same hook category.
func (b *Builder) After(deps ...*Plugin) Hooks {
	return &relativeHooks{b: b, deps: deps, after: true}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) pipelineFor(cat hookCategory) *call.Pipeline {
	switch cat {
	case categoryReceive:
		return b.target.Receive
	case categoryRespond:
		return b.target.Respond
	default:
		return b.target.Call
	}
}

func (b *Builder) intercept(cat hookCategory, phase *pipeline.Phase, fn call.Interceptor) {
	if b.err != nil {
		return
	}
	if err := b.pipelineFor(cat).Intercept(phase, fn); err != nil {
		b.fail(err)
		return
	}
	b.rec.addPhase(cat, phase)
}

// wrapCall adapts a CallHandler to the engine: the chain continues unless
// the handler responded, in which case the rest of the pipeline is skipped.
func wrapCall(fn CallHandler) call.Interceptor {
	return func(ctx context.Context, e *call.Execution) error {
		c := e.Call()
		if err := fn(ctx, c); err != nil {
			return err
		}
		if c.Responded() {
			e.Finish()
			return nil
		}
		_, err := e.Proceed()
		return err
	}
}

// wrapTransform adapts a TransformHandler to the engine, threading the
// returned payload to the rest of the chain.
func wrapTransform(fn TransformHandler) call.Interceptor {
	return func(ctx context.Context, e *call.Execution) error {
		out, err := fn(ctx, e.Call(), e.Subject())
		if err != nil {
			return err
		}
		if out == nil {
			out = e.Subject()
		}
		_, err = e.ProceedWith(out)
		return err
	}
}
