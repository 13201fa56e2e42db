package pipeline

import (
	"context"
	"fmt"
)

// State is the lifecycle state of an execution.
type State uint8

const (
	StateNotStarted State = iota
	StateRunning
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Execution is a single run of a pipeline. It tracks the position in the
// flattened handler chain, the current subject, and the lifecycle state.
// An execution is single-use and must not be shared across goroutines;
// run the pipeline again for concurrent work.
type Execution[C any] struct {
	ctx     context.Context
	call    C
	subject any
	chain   []Interceptor[C]

	next    int
	state   State
	failure error
	cancel  *CancelledError
}

// Call returns the call value the pipeline is executing for.
func (e *Execution[C]) Call() C {
	return e.call
}

// Context returns the context the execution was started with.
func (e *Execution[C]) Context() context.Context {
	return e.ctx
}

// Subject returns the current subject value.
func (e *Execution[C]) Subject() any {
	return e.subject
}

// State returns the current lifecycle state.
func (e *Execution[C]) State() State {
	return e.state
}

// Finish ends the run with the current subject. Handlers that have not
// started yet are skipped; handlers currently waiting on Proceed regain
// control and unwind normally.
func (e *Execution[C]) Finish() {
	e.next = len(e.chain)
}

// Proceed passes control to the next handler in the chain and blocks until
// everything downstream of it has completed. It returns the subject as the
// remaining handlers left it. Calling Proceed when no handlers remain
// returns the current subject.
//
// A handler error returned by Proceed has already stopped the chain: the
// error is handed back unchanged so callers can match it with errors.Is and
// errors.As, and further Proceed calls return the same error without
// running anything.
func (e *Execution[C]) Proceed() (any, error) {
	if e.cancel != nil {
		return e.subject, e.cancel
	}
	if e.failure != nil {
		return e.subject, e.failure
	}
	if e.next >= len(e.chain) {
		return e.subject, nil
	}
	if e.ctx.Err() != nil {
		e.cancel = &CancelledError{Cause: context.Cause(e.ctx)}
		e.next = len(e.chain)
		return e.subject, e.cancel
	}

	fn := e.chain[e.next]
	e.next++
	if err := fn(e.ctx, e); err != nil {
		e.failure = err
		e.next = len(e.chain)
		return e.subject, err
	}
	// The handler returned nil. If a deeper handler had failed, this one
	// recovered: the error stops propagating here.
	e.failure = nil
	return e.subject, nil
}

// ProceedWith replaces the subject and passes control to the next handler.
func (e *Execution[C]) ProceedWith(subject any) (any, error) {
	e.subject = subject
	return e.Proceed()
}

// Run starts the execution and blocks until it completes, returning the
// final subject. Run may be called at most once.
func (e *Execution[C]) Run() (any, error) {
	if e.state != StateNotStarted {
		return e.subject, fmt.Errorf("pipeline: execution already started (state %s)", e.state)
	}
	e.state = StateRunning
	if _, err := e.Proceed(); err != nil {
		e.state = StateFailed
		return e.subject, err
	}
	e.state = StateFinished
	return e.subject, nil
}
