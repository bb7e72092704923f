// Package loader defines the Loader abstraction (spec §4.4): the thing
// that turns a declaration's entrypoint description into a
// broker.Factory, and tags whether the resulting modules run IN_PROCESS
// (DIRECT-link eligible) or OUT_OF_PROCESS (WIRE-only, bridged through a
// real message broker).
//
// Grounded on the teacher's broker/registry.go Register/Create-by-name
// pattern, but deliberately NOT a package-level global: spec.md's design
// notes flag a global mutable loader registry as a concern, so this
// package models it as process-lifetime state behind an explicit
// constructor (NewRegistry), owned by whichever Gateway Orchestrator
// instance calls CreateFromDeclaration.
package loader

import (
	"fmt"
	"sync"

	"github.com/modbroker/gwbroker/broker"
)

// Type tags whether a Loader's modules can participate in DIRECT links
// (spec §4.4 IN_PROCESS vs OUT_OF_PROCESS).
type Type int

const (
	// InProcess loaders produce modules living in this process's
	// address space: native Go plugins loaded via the stdlib plugin
	// package, or any Factory constructed in-process.
	InProcess Type = iota
	// OutOfProcess loaders bridge to modules reachable only through a
	// real message broker (NATS, RabbitMQ, Kafka); such modules are
	// WIRE-only.
	OutOfProcess
)

func (t Type) String() string {
	if t == OutOfProcess {
		return "OUT_OF_PROCESS"
	}
	return "IN_PROCESS"
}

// Loader builds a broker.Factory from a loader-specific, opaque
// entrypoint description (spec §4.4 Loader.Load). entrypoint is the raw
// JSON the declaration carried under a module's "loader.entrypoint" key;
// ParseConfig turns a module's raw "args" JSON into the FactoryConfig
// value threaded through to Factory.Create.
type Loader interface {
	Name() string
	Kind() Type

	// Load parses entrypoint and returns a Factory ready to construct
	// instances of the module(s) it describes.
	Load(entrypoint []byte) (broker.Factory, error)

	// ParseConfig parses a module's raw configuration bytes into the
	// value passed to Factory.Create as cfg. Loaders whose modules take
	// no configuration may return args unchanged.
	ParseConfig(args []byte) (any, error)
}

// Registry maps loader names to Loader implementations. It is owned by
// one Gateway Orchestrator instance for that orchestrator's lifetime —
// never a package-level global — so two orchestrators in the same
// process (e.g. in tests) never share or race over loader registration.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register adds a Loader under its own Name(). Registering the same
// name twice replaces the previous entry, matching the teacher's
// registry.Register last-write-wins semantics.
func (r *Registry) Register(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[l.Name()] = l
}

// Get looks up a Loader by name.
func (r *Registry) Get(name string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[name]
	if !ok {
		return nil, fmt.Errorf("loader: unknown loader %q", name)
	}
	return l, nil
}

// Names returns every registered loader name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		out = append(out, name)
	}
	return out
}
