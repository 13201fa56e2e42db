package call

import (
	"context"
	"testing"

	"github.com/tjfontaine/gantry/pkg/pipeline"
)

func TestNewPipelines_StandardPhases(t *testing.T) {
	pipes := NewPipelines()

	callOrder := []*pipeline.Phase{PhaseSetup, PhaseMonitoring, PhasePlugins, PhaseCall, PhaseFallback}
	for i, ph := range callOrder {
		if got := pipes.Call.Index(ph); got != i {
			t.Errorf("call phase %s at index %d, want %d", ph, got, i)
		}
	}
	receiveOrder := []*pipeline.Phase{ReceiveBefore, ReceiveTransform, ReceiveAfter}
	for i, ph := range receiveOrder {
		if got := pipes.Receive.Index(ph); got != i {
			t.Errorf("receive phase %s at index %d, want %d", ph, got, i)
		}
	}
	respondOrder := []*pipeline.Phase{RespondBefore, RespondTransform, RespondRender, RespondAfter, RespondEngine}
	for i, ph := range respondOrder {
		if got := pipes.Respond.Index(ph); got != i {
			t.Errorf("respond phase %s at index %d, want %d", ph, got, i)
		}
	}
}

func TestPipelines_Merge(t *testing.T) {
	base := NewPipelines()
	var events []string
	record := func(name string) Interceptor {
		return func(ctx context.Context, e *Execution) error {
			events = append(events, name)
			_, err := e.Proceed()
			return err
		}
	}
	if err := base.Call.Intercept(PhaseMonitoring, record("mon")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := base.Respond.Intercept(RespondEngine, record("engine")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	derived := NewPipelines()
	derived.Merge(base)

	c := New(derived, &Request{Method: "GET", Path: "/t"})
	if _, err := derived.Call.Execute(context.Background(), c, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Respond(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0] != "mon" || events[1] != "engine" {
		t.Errorf("events = %v, want [mon engine]", events)
	}
}

func TestPipelines_Fork_Independent(t *testing.T) {
	base := NewPipelines()
	if err := base.Call.Intercept(PhaseSetup, func(ctx context.Context, e *Execution) error {
		_, err := e.Proceed()
		return err
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fork := base.Fork()
	if got := fork.Call.HandlerCount(); got != 1 {
		t.Fatalf("fork handler count = %d, want 1", got)
	}

	// Growing the fork must not touch the base, and vice versa.
	if err := fork.Call.Intercept(PhaseCall, func(ctx context.Context, e *Execution) error {
		_, err := e.Proceed()
		return err
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := base.Call.HandlerCount(); got != 1 {
		t.Errorf("base handler count = %d, want 1", got)
	}

	custom := pipeline.NewPhase("custom")
	if err := base.Call.InsertAfter(PhaseSetup, custom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fork.Call.Contains(custom) {
		t.Error("base phase leaked into fork")
	}
}

func TestPipelines_Fork_ReMergePicksUpBaseChanges(t *testing.T) {
	base := NewPipelines()
	fork := base.Fork()

	if err := base.Call.Intercept(PhasePlugins, func(ctx context.Context, e *Execution) error {
		_, err := e.Proceed()
		return err
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fork.Merge(base)
	if got := fork.Call.HandlerCount(); got != 1 {
		t.Errorf("fork handler count = %d, want 1", got)
	}
	fork.Merge(base)
	if got := fork.Call.HandlerCount(); got != 1 {
		t.Errorf("fork handler count after re-merge = %d, want 1", got)
	}
}

type forkCounter struct {
	copies int
}

func (f *forkCounter) ForkCopy() any {
	return &forkCounter{copies: f.copies + 1}
}

func TestPipelines_Fork_CopiesForkableAttributes(t *testing.T) {
	base := NewPipelines()
	key := struct{ name string }{"counter"}
	base.Attrs.Set(key, &forkCounter{})
	base.Attrs.Set("plain", "shared")

	fork := base.Fork()

	v, ok := fork.Attrs.Get(key)
	if !ok {
		t.Fatal("forked attrs missing counter")
	}
	if got := v.(*forkCounter).copies; got != 1 {
		t.Errorf("copies = %d, want 1", got)
	}
	orig, _ := base.Attrs.Get(key)
	if orig.(*forkCounter) == v.(*forkCounter) {
		t.Error("forkable attribute was shared, want copied")
	}
	if v, _ := fork.Attrs.Get("plain"); v != "shared" {
		t.Errorf("plain attribute = %v, want %q", v, "shared")
	}
}
