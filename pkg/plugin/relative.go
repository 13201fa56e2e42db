package plugin

import (
	"fmt"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/pipeline"
)

// relativeHooks registers hooks into a fresh phase placed relative to the
// phases other plugins hold.
type relativeHooks struct {
	b     *Builder
	deps  []*Plugin
	after bool
}

var _ Hooks = (*relativeHooks)(nil)

func (r *relativeHooks) OnCall(fn CallHandler) {
	r.b.insertRelative(categoryCall, call.PhasePlugins, r.after, r.deps, wrapCall(fn))
}

func (r *relativeHooks) OnCallReceive(fn TransformHandler) {
	r.b.insertRelative(categoryReceive, call.ReceiveTransform, r.after, r.deps, wrapTransform(fn))
}

func (r *relativeHooks) OnCallRespond(fn TransformHandler) {
	r.b.insertRelative(categoryRespond, call.RespondTransform, r.after, r.deps, wrapTransform(fn))
}

func (r *relativeHooks) OnCallRespondAfter(fn TransformHandler) {
	r.b.insertRelative(categoryRespond, call.RespondAfter, r.after, r.deps, wrapTransform(fn))
}

// insertRelative allocates a new phase adjacent to the boundary of the
// dependencies' phases and registers fn there.
//
// The boundary is computed against current pipeline positions, not
// registration order: for "after" it is the last phase any dependency
// holds in this pipeline, for "before" the first. A dependency that is
// installed but holds no phase in this pipeline contributes no constraint;
// a dependency that is not installed, or whose recorded phases are not in
// this pipeline, is an install-time error.
func (b *Builder) insertRelative(cat hookCategory, fallback *pipeline.Phase, after bool, deps []*Plugin, fn call.Interceptor) {
	if b.err != nil {
		return
	}
	pl := b.pipelineFor(cat)
	reg := registryFor(b.target)

	var boundary *pipeline.Phase
	boundaryIdx := -1
	for _, dep := range deps {
		rec, ok := reg.records[dep.Name()]
		if !ok {
			b.fail(&MissingDependencyError{Plugin: b.plugin.name, Dependency: dep.Name()})
			return
		}
		for _, ph := range rec.phases[cat] {
			idx := pl.Index(ph)
			if idx < 0 {
				b.fail(&MissingDependencyError{Plugin: b.plugin.name, Dependency: dep.Name()})
				return
			}
			if boundary == nil || (after && idx > boundaryIdx) || (!after && idx < boundaryIdx) {
				boundary, boundaryIdx = ph, idx
			}
		}
	}

	anchor := boundary
	if anchor == nil {
		// No dependency holds a phase in this pipeline: place relative to
		// the category's default phase instead.
		anchor = fallback
	}
	np := pipeline.NewPhase(b.relativePhaseName(after))
	var err error
	if after {
		err = pl.InsertAfter(anchor, np)
	} else {
		err = pl.InsertBefore(anchor, np)
	}
	if err != nil {
		b.fail(err)
		return
	}
	if err := pl.Intercept(np, fn); err != nil {
		b.fail(err)
		return
	}
	b.rec.addPhase(cat, np)
}

func (b *Builder) relativePhaseName(after bool) string {
	b.seq++
	dir := "before"
	if after {
		dir = "after"
	}
	return fmt.Sprintf("%s-%s-%d", b.plugin.name, dir, b.seq)
}
