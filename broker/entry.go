package broker

import (
	"github.com/modbroker/gwbroker/wire"
)

// moduleEntry is the broker's per-module record (spec §3 ModuleEntry).
// All mutation of fields shared with other goroutines — the registry
// slice itself, outboundDirect/inboundDirect, direct — happens under
// the owning Broker's registry lock; wireSub and direct each carry
// their own finer-grained lock for the hot paths that must not block
// on the registry lock (spec §5 lock ordering).
type moduleEntry struct {
	handle Handle
	spec   ModuleSpec

	instance  Instance
	quitToken string // 36-character unique id, spec §3/§9

	wirePub *wire.PublishEndpoint // shared broker-wide; stored for convenience only
	wireSub *wire.SubscribeEndpoint

	wireWorkerDone chan struct{}

	// DIRECT bookkeeping. outboundDirect holds the sinks this module
	// publishes to directly; inboundDirect holds the sources that
	// publish into this module's direct queues. direct is allocated
	// the first time this entry becomes a DIRECT sink and is never
	// torn down early — RemoveModule tears it down as part of removing
	// the entry (spec §4.1 add_link, §4.3).
	outboundDirect map[Handle]struct{}
	inboundDirect  map[Handle]struct{}
	direct         *directState
	directWorkerDone chan struct{}
}

func newModuleEntry(handle Handle, spec ModuleSpec, instance Instance, quitToken string) *moduleEntry {
	return &moduleEntry{
		handle:         handle,
		spec:           spec,
		instance:       instance,
		quitToken:      quitToken,
		wireWorkerDone: make(chan struct{}),
		outboundDirect: make(map[Handle]struct{}),
		inboundDirect:  make(map[Handle]struct{}),
	}
}

// hasDirectOutbound reports whether any DIRECT link has this entry as
// its source. Per spec §4.1, this makes the entry's publish calls take
// the DIRECT path exclusively.
func (e *moduleEntry) hasDirectOutbound() bool {
	return len(e.outboundDirect) > 0
}

// ensureDirect lazily allocates the receiver structure the first time
// this entry becomes a DIRECT sink (spec §4.1 add_link).
func (e *moduleEntry) ensureDirect() *directState {
	if e.direct == nil {
		e.direct = newDirectState()
	}
	return e.direct
}
