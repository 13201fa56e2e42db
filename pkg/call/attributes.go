package call

// Attributes is a typed-key value bag. Calls carry one for per-call state
// shared between handlers; Pipelines carry one for install-time state such
// as plugin bookkeeping. Keys follow the context-key convention: each
// package registers values under its own unexported key type so entries
// cannot collide.
//
// An attribute bag is not synchronized. Per-call bags are confined to the
// goroutine serving the call, and pipeline bags are written during
// configuration only.
type Attributes struct {
	m map[any]any
}

// NewAttributes creates an empty attribute bag.
func NewAttributes() *Attributes {
	return &Attributes{m: make(map[any]any)}
}

// Get returns the value stored under key.
func (a *Attributes) Get(key any) (any, bool) {
	v, ok := a.m[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (a *Attributes) Set(key, value any) {
	a.m[key] = value
}

// Forkable lets an attribute value control how it is carried into a forked
// pipeline set. Values that do not implement it are shared by reference.
type Forkable interface {
	ForkCopy() any
}

func (a *Attributes) clone() *Attributes {
	c := &Attributes{m: make(map[any]any, len(a.m))}
	for k, v := range a.m {
		if f, ok := v.(Forkable); ok {
			c.m[k] = f.ForkCopy()
			continue
		}
		c.m[k] = v
	}
	return c
}
