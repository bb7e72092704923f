package broker

import "github.com/modbroker/gwbroker/message"

// Instance is the running form of a module: the value returned by a
// Factory's Create, which the broker calls back into on Receive and
// once, during RemoveModule, on Destroy.
//
// This is deliberately the entire module contract the broker depends
// on (spec §6): configuration parsing is a Loader concern
// (loader.Loader.ParseConfig, invoked once, before Create, by whoever
// builds the ModuleSpec) and never touches the broker directly.
type Instance interface {
	// Receive is invoked once per delivered Message, already decoded
	// and cloned for this module alone.
	Receive(msg message.Message)

	// Destroy releases any resources the module holds. The broker
	// calls it exactly once, after the module's worker(s) have exited,
	// during RemoveModule.
	Destroy()
}

// Starter is an optional extension: modules implementing it get a
// Start() call from the Gateway Orchestrator after all modules and
// links in a declaration have been added (spec §4.5 start()).
type Starter interface {
	Start()
}

// Factory instantiates module Instances. A Loader (spec §4.4) builds a
// Factory from an entrypoint description; the Gateway Orchestrator
// passes the resulting Factory into AddModule via ModuleSpec.
type Factory interface {
	// Create constructs a new Instance bound to this broker and the
	// handle the broker is about to register it under. cfg is whatever
	// ParseConfig on the owning Loader produced.
	Create(b *Broker, self Handle, cfg any) (Instance, error)
}

// FactoryFunc adapts a plain function to Factory, mirroring the
// teacher's own registration-by-function pattern (broker.Register in
// the original eventmux broker package).
type FactoryFunc func(b *Broker, self Handle, cfg any) (Instance, error)

func (f FactoryFunc) Create(b *Broker, self Handle, cfg any) (Instance, error) {
	return f(b, self, cfg)
}

// LoaderInfo records which loader produced a module and the loader's
// own entrypoint description (spec §3 LoaderInfo). The broker itself
// never dereferences Entrypoint; it is carried for manifest persistence
// and observability only.
type LoaderInfo struct {
	LoaderName string
	Entrypoint []byte // raw JSON, loader-specific
}

// ModuleSpec is everything AddModule needs to register and start a
// module (spec §3 ModuleEntry, construction-time subset).
type ModuleSpec struct {
	Name    string
	Loader  LoaderInfo
	Version string // optional; "" means unset

	// Config is the opaque serialized configuration handed to the
	// module's Factory-specific parse step before Create was called.
	// Stored on the entry for manifest reconciliation (spec §4.6).
	Config []byte

	// InProcess tags the loader type (spec §4.4 IN_PROCESS vs
	// OUT_OF_PROCESS). Only IN_PROCESS modules are DIRECT-link
	// eligible (spec §3 Link invariant, §4.1 add_link).
	InProcess bool

	Factory Factory

	// FactoryConfig is passed verbatim to Factory.Create as cfg.
	FactoryConfig any
}

// LinkMode selects how a Link delivers messages (spec §3 Link).
type LinkMode int

const (
	// Wire delivers through the broker's pub/sub endpoint; every
	// module worker reads it regardless of mode, since wire delivery
	// is how DIRECT sinks still receive their own quit token.
	Wire LinkMode = iota
	// Direct delivers through an in-memory per-link queue, bypassing
	// the wire transport entirely. Both endpoints must be IN_PROCESS.
	Direct
)

func (m LinkMode) String() string {
	if m == Direct {
		return "DIRECT"
	}
	return "WIRE"
}

// Link is a directed routing edge, unique by (Source, Sink) (spec §3).
type Link struct {
	Source Handle
	Sink   Handle
	Mode   LinkMode
}
