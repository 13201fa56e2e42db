package pipeline

// Phase is a named position in a pipeline. Two phases are the same only if
// they are the same *Phase value; the name is for diagnostics and logging.
// Create once, share everywhere: a phase constructed twice with the same
// name is two distinct phases.
type Phase struct {
	name string
}

// NewPhase creates a new phase token with the given diagnostic name.
func NewPhase(name string) *Phase {
	return &Phase{name: name}
}

// Name returns the diagnostic name the phase was created with.
func (p *Phase) Name() string {
	return p.name
}

func (p *Phase) String() string {
	return p.name
}
