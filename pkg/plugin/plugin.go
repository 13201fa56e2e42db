// Package plugin is the installable-behavior layer on top of the call
// pipelines. A plugin declares handlers for the points of a call it cares
// about; installing it allocates phases in the target pipelines and
// registers the handlers there. Plugins can order themselves relative to
// other plugins without knowing what those plugins registered, only that
// they are installed.
package plugin

import (
	"fmt"

	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/pipeline"
)

// Plugin is a named unit of installable behavior. The configure function
// runs once per Install and does all registration through the builder it
// receives.
type Plugin struct {
	name      string
	configure func(*Builder)
}

// New creates a plugin. The name identifies the plugin within a pipeline
// set: two plugins with the same name cannot be installed together.
func New(name string, configure func(*Builder)) *Plugin {
	return &Plugin{name: name, configure: configure}
}

// Name returns the plugin's name.
func (p *Plugin) Name() string {
	return p.name
}

// Install runs the plugin's configuration against the target pipeline set.
// Failures surface here, at install time: an unknown phase or a missing
// dependency never waits for the first call to be noticed.
func (p *Plugin) Install(target *call.Pipelines) error {
	reg := registryFor(target)
	if _, ok := reg.records[p.name]; ok {
		return fmt.Errorf("plugin: %q is already installed", p.name)
	}
	b := &Builder{
		plugin: p,
		target: target,
		rec:    newRecord(p),
	}
	p.configure(b)
	if b.err != nil {
		return fmt.Errorf("plugin: installing %q: %w", p.name, b.err)
	}
	reg.records[p.name] = b.rec
	return nil
}

// IsInstalled reports whether the plugin is installed in the pipeline set.
func IsInstalled(pipes *call.Pipelines, p *Plugin) bool {
	_, ok := registryFor(pipes).records[p.name]
	return ok
}

// hookCategory names the pipeline a hook registers into.
type hookCategory uint8

const (
	categoryCall hookCategory = iota
	categoryReceive
	categoryRespond
)

// record tracks the phases a plugin holds in each pipeline of a set. The
// relative builders read these to compute insertion boundaries.
type record struct {
	plugin *Plugin
	phases map[hookCategory][]*pipeline.Phase
}

func newRecord(p *Plugin) *record {
	return &record{
		plugin: p,
		phases: make(map[hookCategory][]*pipeline.Phase),
	}
}

func (r *record) addPhase(cat hookCategory, ph *pipeline.Phase) {
	for _, existing := range r.phases[cat] {
		if existing == ph {
			return
		}
	}
	r.phases[cat] = append(r.phases[cat], ph)
}

func (r *record) clone() *record {
	c := newRecord(r.plugin)
	for cat, phases := range r.phases {
		c.phases[cat] = append([]*pipeline.Phase(nil), phases...)
	}
	return c
}

// registryKey stores the plugin registry in a pipeline set's attributes.
type registryKey struct{}

type registry struct {
	records map[string]*record
}

// ForkCopy gives each pipeline fork its own registry, so installing into a
// fork never changes what the parent reports as installed.
func (r *registry) ForkCopy() any {
	c := &registry{records: make(map[string]*record, len(r.records))}
	for name, rec := range r.records {
		c.records[name] = rec.clone()
	}
	return c
}

var _ call.Forkable = (*registry)(nil)

func registryFor(pipes *call.Pipelines) *registry {
	if v, ok := pipes.Attrs.Get(registryKey{}); ok {
		return v.(*registry)
	}
	r := &registry{records: make(map[string]*record)}
	pipes.Attrs.Set(registryKey{}, r)
	return r
}
