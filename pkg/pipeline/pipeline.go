// Package pipeline implements a phased interception pipeline: an ordered
// sequence of named phases, each holding an ordered list of handlers, executed
// as one flattened chain over a shared subject value.
//
// Handlers drive the chain explicitly. A handler that calls Proceed passes
// control downstream and regains it when everything below has completed; a
// handler that returns without proceeding ends the run with the current
// subject; Finish skips every handler that has not started yet.
//
// A pipeline is not safe for concurrent mutation. The intended lifecycle is
// to register phases and handlers during startup and only execute afterwards;
// concurrent Execute calls on a configured pipeline are safe because every
// execution takes an immutable snapshot of the handler chain.
package pipeline

import (
	"context"
	"sync/atomic"
)

// Interceptor is a single handler in a pipeline of calls of type C. The
// handler receives the execution it runs in and uses it to read the subject,
// pass control downstream, or end the run.
type Interceptor[C any] func(ctx context.Context, e *Execution[C]) error

// registrationSeq issues process-unique handler ids. Merging the same source
// pipeline into a target twice relies on these ids to skip handlers the
// target already holds.
var registrationSeq atomic.Uint64

type registration[C any] struct {
	id uint64
	fn Interceptor[C]
}

// phaseRelation records how a phase was added, so Merge can replay the same
// placement into a target pipeline.
type phaseRelation uint8

const (
	relationLast phaseRelation = iota
	relationBefore
	relationAfter
)

type phaseSlot[C any] struct {
	phase    *Phase
	relation phaseRelation
	anchor   *Phase // set for relationBefore and relationAfter
	handlers []registration[C]
}

// addUnique appends handlers the slot does not already hold, preserving
// their order.
func (s *phaseSlot[C]) addUnique(regs []registration[C]) {
	for _, r := range regs {
		known := false
		for _, h := range s.handlers {
			if h.id == r.id {
				known = true
				break
			}
		}
		if !known {
			s.handlers = append(s.handlers, r)
		}
	}
}

// Pipeline is an ordered collection of phases and their handlers. The zero
// value is not usable; construct with New.
type Pipeline[C any] struct {
	slots []*phaseSlot[C]

	// flat caches the full handler chain in execution order. It is rebuilt
	// on every mutation and handed to executions as an immutable snapshot.
	flat []Interceptor[C]
}

// New creates a pipeline with the given phases in order.
func New[C any](phases ...*Phase) *Pipeline[C] {
	p := &Pipeline[C]{}
	for _, ph := range phases {
		p.AddPhase(ph)
	}
	return p
}

// AddPhase appends a phase to the end of the pipeline. Adding a phase that
// is already present is a no-op.
func (p *Pipeline[C]) AddPhase(phase *Phase) {
	if p.Contains(phase) {
		return
	}
	p.slots = append(p.slots, &phaseSlot[C]{phase: phase, relation: relationLast})
}

// InsertBefore places phase immediately before the anchor phase. The anchor
// must already be registered. Inserting a phase that is already present is a
// no-op.
func (p *Pipeline[C]) InsertBefore(anchor, phase *Phase) error {
	idx := p.indexOf(anchor)
	if idx < 0 {
		return &PhaseNotFoundError{Phase: anchor.Name()}
	}
	if p.Contains(phase) {
		return nil
	}
	p.insertSlot(idx, &phaseSlot[C]{phase: phase, relation: relationBefore, anchor: anchor})
	return nil
}

// InsertAfter places phase after the anchor phase, following any phases that
// were previously inserted after the same anchor. The anchor must already be
// registered. Inserting a phase that is already present is a no-op.
func (p *Pipeline[C]) InsertAfter(anchor, phase *Phase) error {
	idx := p.indexOf(anchor)
	if idx < 0 {
		return &PhaseNotFoundError{Phase: anchor.Name()}
	}
	if p.Contains(phase) {
		return nil
	}
	p.insertSlot(p.afterAnchorIndex(anchor, idx)+1, &phaseSlot[C]{phase: phase, relation: relationAfter, anchor: anchor})
	return nil
}

// afterAnchorIndex returns the index of the last phase inserted after
// anchor, or the anchor's own index when none exists. Phases inserted after
// the same anchor keep their insertion order.
func (p *Pipeline[C]) afterAnchorIndex(anchor *Phase, anchorIdx int) int {
	last := anchorIdx
	for i := anchorIdx + 1; i < len(p.slots); i++ {
		if p.slots[i].relation == relationAfter && p.slots[i].anchor == anchor {
			last = i
		}
	}
	return last
}

// Intercept appends a handler to the given phase. The phase must already be
// registered.
func (p *Pipeline[C]) Intercept(phase *Phase, fn Interceptor[C]) error {
	idx := p.indexOf(phase)
	if idx < 0 {
		return &PhaseNotFoundError{Phase: phase.Name()}
	}
	p.slots[idx].handlers = append(p.slots[idx].handlers, registration[C]{
		id: registrationSeq.Add(1),
		fn: fn,
	})
	p.rebuild()
	return nil
}

// Merge copies the phases and handlers of other into p. Phases absent from p
// are inserted replaying the placement they were registered with in other;
// phases already present keep their position and receive the handlers they
// are missing. Merging the same source again is a no-op, so a target can be
// re-merged after the source gained phases or handlers.
func (p *Pipeline[C]) Merge(other *Pipeline[C]) {
	pending := make([]*phaseSlot[C], len(other.slots))
	copy(pending, other.slots)

	for len(pending) > 0 {
		var deferred []*phaseSlot[C]
		for _, src := range pending {
			if idx := p.indexOf(src.phase); idx >= 0 {
				p.slots[idx].addUnique(src.handlers)
				continue
			}
			if !p.placeSlot(src) {
				deferred = append(deferred, src)
			}
		}
		if len(deferred) == len(pending) {
			// Anchors that never materialize: keep the handlers reachable by
			// appending the remaining phases in source order.
			for _, src := range deferred {
				p.slots = append(p.slots, copySlot(src))
			}
			break
		}
		pending = deferred
	}
	p.rebuild()
}

// placeSlot inserts a copy of src using its recorded relation. It reports
// false when the relation's anchor is not present yet.
func (p *Pipeline[C]) placeSlot(src *phaseSlot[C]) bool {
	switch src.relation {
	case relationBefore:
		idx := p.indexOf(src.anchor)
		if idx < 0 {
			return false
		}
		p.insertSlot(idx, copySlot(src))
	case relationAfter:
		idx := p.indexOf(src.anchor)
		if idx < 0 {
			return false
		}
		p.insertSlot(p.afterAnchorIndex(src.anchor, idx)+1, copySlot(src))
	default:
		p.slots = append(p.slots, copySlot(src))
	}
	return true
}

func copySlot[C any](src *phaseSlot[C]) *phaseSlot[C] {
	dst := &phaseSlot[C]{
		phase:    src.phase,
		relation: src.relation,
		anchor:   src.anchor,
		handlers: make([]registration[C], len(src.handlers)),
	}
	copy(dst.handlers, src.handlers)
	return dst
}

func (p *Pipeline[C]) insertSlot(idx int, slot *phaseSlot[C]) {
	p.slots = append(p.slots, nil)
	copy(p.slots[idx+1:], p.slots[idx:])
	p.slots[idx] = slot
}

func (p *Pipeline[C]) indexOf(phase *Phase) int {
	for i, s := range p.slots {
		if s.phase == phase {
			return i
		}
	}
	return -1
}

// Contains reports whether the phase is registered in the pipeline.
func (p *Pipeline[C]) Contains(phase *Phase) bool {
	return p.indexOf(phase) >= 0
}

// Index returns the position of the phase in the pipeline, or -1 if the
// phase is not registered.
func (p *Pipeline[C]) Index(phase *Phase) int {
	return p.indexOf(phase)
}

// Phases returns the registered phases in execution order.
func (p *Pipeline[C]) Phases() []*Phase {
	out := make([]*Phase, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.phase
	}
	return out
}

// InterceptorsForPhase returns the handlers registered for the phase, in
// registration order. The phase not being registered returns nil.
func (p *Pipeline[C]) InterceptorsForPhase(phase *Phase) []Interceptor[C] {
	idx := p.indexOf(phase)
	if idx < 0 {
		return nil
	}
	out := make([]Interceptor[C], len(p.slots[idx].handlers))
	for i, r := range p.slots[idx].handlers {
		out[i] = r.fn
	}
	return out
}

// HandlerCount returns the total number of registered handlers.
func (p *Pipeline[C]) HandlerCount() int {
	return len(p.flat)
}

// IsEmpty reports whether the pipeline has no handlers registered.
func (p *Pipeline[C]) IsEmpty() bool {
	return len(p.flat) == 0
}

func (p *Pipeline[C]) rebuild() {
	flat := make([]Interceptor[C], 0, len(p.flat))
	for _, s := range p.slots {
		for _, r := range s.handlers {
			flat = append(flat, r.fn)
		}
	}
	p.flat = flat
}

// NewExecution prepares a run of the pipeline over subject for the given
// call. The returned execution is in the not-started state until Run is
// called. Later pipeline mutations do not affect it.
func (p *Pipeline[C]) NewExecution(ctx context.Context, call C, subject any) *Execution[C] {
	return &Execution[C]{
		ctx:     ctx,
		call:    call,
		subject: subject,
		chain:   p.flat,
	}
}

// Execute runs the pipeline over subject for the given call and returns the
// final subject value.
func (p *Pipeline[C]) Execute(ctx context.Context, call C, subject any) (any, error) {
	return p.NewExecution(ctx, call, subject).Run()
}
