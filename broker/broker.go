// Package broker implements the Broker Core (spec §4.1): a publish/
// subscribe dispatcher with a unicast wire fast path and a per-link
// direct thread-to-thread fast path, owning module lifecycles and
// routing topology.
package broker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modbroker/gwbroker/log"
	"github.com/modbroker/gwbroker/message"
	"github.com/modbroker/gwbroker/wire"
)

type linkKey struct {
	Source Handle
	Sink   Handle
}

// Broker owns the publish endpoint and the set of registered modules
// (spec §3 BrokerState). Exported methods are the sole concurrency
// boundary: everything that touches the registry, a link table, or a
// module's direct queues goes through them.
type Broker struct {
	mu       sync.Mutex
	registry []*moduleEntry
	index    map[Handle]*moduleEntry
	links    map[linkKey]LinkMode

	wirePub *wire.PublishEndpoint
	wireURL string

	nextHandleID atomic.Uint64
	refCount     atomic.Int64

	mwMu        sync.RWMutex
	middlewares []ReceiveMiddleware

	logger zerolog.Logger
}

// Create allocates broker state: a unique wire URL (inproc://<uuid>),
// a bound publish endpoint, and an empty registry (spec §4.1 create()).
// The returned Broker starts with a reference count of 1.
func Create() (*Broker, error) {
	id := uuid.NewString()
	url := "inproc://" + id

	pub, err := wire.BindPublish(url)
	if err != nil {
		return nil, fmt.Errorf("%w: create broker: %v", ErrPlatformError, err)
	}

	b := &Broker{
		index:   make(map[Handle]*moduleEntry),
		links:   make(map[linkKey]LinkMode),
		wirePub: pub,
		wireURL: url,
		logger:  log.WithComponent("broker"),
	}
	b.refCount.Store(1)
	b.logger.Debug().Str("wire_url", url).Msg("broker created")
	return b, nil
}

// WireURL returns the broker's unique inproc publish address.
func (b *Broker) WireURL() string { return b.wireURL }

// IncRef increments the broker's reference count (spec §4.1 inc_ref).
func (b *Broker) IncRef() { b.refCount.Add(1) }

// DecRef decrements the reference count, tearing the broker down once
// it drops to zero (spec §4.1 dec_ref). Outstanding modules at teardown
// are a logged anomaly, not a fatal error.
func (b *Broker) DecRef() error {
	if b.refCount.Add(-1) > 0 {
		return nil
	}

	b.mu.Lock()
	remaining := len(b.registry)
	b.mu.Unlock()
	if remaining > 0 {
		b.logger.Warn().Int("modules", remaining).Msg("broker dropped to zero refs with modules still registered")
	}

	if err := b.wirePub.Close(); err != nil {
		return fmt.Errorf("%w: close publish endpoint: %v", ErrPlatformError, err)
	}
	return nil
}

// Use registers global receive middleware applied to every module's
// Receive callback, in registration order outermost-to-innermost
// (teacher's core.Router.Use in the broker pack).
func (b *Broker) Use(mw ReceiveMiddleware) {
	b.mwMu.Lock()
	defer b.mwMu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

func (b *Broker) middlewareSnapshot() []ReceiveMiddleware {
	b.mwMu.RLock()
	defer b.mwMu.RUnlock()
	out := make([]ReceiveMiddleware, len(b.middlewares))
	copy(out, b.middlewares)
	return out
}

// AddModule registers a new module (spec §4.1 add_module). Steps:
// allocate the handle and its quit token, invoke the module's Factory,
// open a wire receive endpoint and subscribe it to the quit token,
// append the entry to the registry, and spawn the wire worker. Any
// failure unwinds everything already acquired, in reverse.
func (b *Broker) AddModule(spec ModuleSpec) (Handle, error) {
	if spec.Factory == nil {
		return Handle{}, fmt.Errorf("%w: add_module: nil factory", ErrInvalidArg)
	}
	if spec.Name == "" {
		return Handle{}, fmt.Errorf("%w: add_module: empty name", ErrInvalidArg)
	}

	handle := Handle{id: b.nextHandleID.Add(1)}
	quitToken := uuid.NewString()

	instance, err := spec.Factory.Create(b, handle, spec.FactoryConfig)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: add_module %q: factory create: %v", ErrPlatformError, spec.Name, err)
	}

	entry := newModuleEntry(handle, spec, instance, quitToken)

	sub, err := wire.Connect(b.wireURL)
	if err != nil {
		instance.Destroy()
		return Handle{}, fmt.Errorf("%w: add_module %q: connect wire endpoint: %v", ErrPlatformError, spec.Name, err)
	}
	if err := sub.Subscribe([]byte(quitToken)); err != nil {
		sub.Close()
		instance.Destroy()
		return Handle{}, fmt.Errorf("%w: add_module %q: subscribe quit token: %v", ErrPlatformError, spec.Name, err)
	}
	entry.wireSub = sub
	entry.wirePub = b.wirePub

	b.mu.Lock()
	b.registry = append(b.registry, entry)
	b.index[handle] = entry
	b.mu.Unlock()

	go b.runWireWorker(entry)

	b.logger.Info().Str("module", spec.Name).Str("handle", handle.String()).Msg("module added")
	return handle, nil
}

// RemoveModule tears a module down (spec §4.1 remove_module). The
// entry is detached from the registry and from any reciprocal DIRECT
// link tables under the registry lock; the quit signal, endpoint close,
// worker joins and Destroy call all happen after the lock is released,
// so a module's own Receive callback is always free to call Publish
// without risking a deadlock against a concurrent RemoveModule.
func (b *Broker) RemoveModule(h Handle) error {
	b.mu.Lock()
	entry, ok := b.index[h]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: remove_module %s", ErrNotFound, h)
	}
	delete(b.index, h)
	b.registry = removeEntry(b.registry, entry)

	for sink := range entry.outboundDirect {
		if sinkEntry, ok := b.index[sink]; ok {
			if dropped := sinkEntry.direct.removeSource(h); dropped > 0 {
				b.logger.Warn().Str("source", h.String()).Str("sink", sink.String()).Int("dropped", dropped).Msg("dropped queued direct messages on source removal")
			}
			delete(sinkEntry.inboundDirect, h)
		}
		delete(b.links, linkKey{Source: h, Sink: sink})
	}
	for source := range entry.inboundDirect {
		if srcEntry, ok := b.index[source]; ok {
			delete(srcEntry.outboundDirect, h)
		}
		delete(b.links, linkKey{Source: source, Sink: h})
	}
	b.mu.Unlock()

	if err := b.wirePub.Send([]byte(entry.quitToken)); err != nil {
		b.logger.Warn().Err(err).Str("module", h.String()).Msg("quit token send failed, closing receive endpoint directly")
	}
	if err := entry.wireSub.Close(); err != nil {
		b.logger.Warn().Err(err).Str("module", h.String()).Msg("closing receive endpoint")
	}
	<-entry.wireWorkerDone

	if entry.direct != nil {
		entry.direct.stop()
		<-entry.directWorkerDone
	}

	entry.instance.Destroy()
	b.logger.Info().Str("module", h.String()).Msg("module removed")
	return nil
}

// AddLink creates a routing edge (spec §4.1 add_link). WIRE links
// subscribe the sink's endpoint to the source's handle-bytes prefix.
// DIRECT links require both endpoints IN_PROCESS, lazily allocate the
// sink's receiver structure and worker, and register reciprocal
// entries in the source's outbound and the sink's inbound tables.
func (b *Broker) AddLink(link Link) error {
	if link.Source == link.Sink {
		return addLinkError(link.Source, link.Sink, fmt.Errorf("%w: source and sink are the same module", ErrInvalidArg))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	srcEntry, ok := b.index[link.Source]
	if !ok {
		return addLinkError(link.Source, link.Sink, ErrNotFound)
	}
	sinkEntry, ok := b.index[link.Sink]
	if !ok {
		return addLinkError(link.Source, link.Sink, ErrNotFound)
	}
	if _, exists := b.links[linkKey{Source: link.Source, Sink: link.Sink}]; exists {
		return addLinkError(link.Source, link.Sink, fmt.Errorf("%w: link already exists", ErrInvalidArg))
	}

	switch link.Mode {
	case Wire:
		prefix := link.Source.bytes()
		if err := sinkEntry.wireSub.Subscribe(prefix[:]); err != nil {
			return addLinkError(link.Source, link.Sink, fmt.Errorf("%w: %v", ErrPlatformError, err))
		}
	case Direct:
		if !srcEntry.spec.InProcess || !sinkEntry.spec.InProcess {
			return addLinkError(link.Source, link.Sink, fmt.Errorf("%w: DIRECT link requires both endpoints in-process", ErrInvalidArg))
		}
		direct := sinkEntry.ensureDirect()
		if sinkEntry.directWorkerDone == nil {
			sinkEntry.directWorkerDone = make(chan struct{})
			go b.runDirectWorker(sinkEntry)
		}
		direct.addSource(link.Source)
		sinkEntry.inboundDirect[link.Source] = struct{}{}
		srcEntry.outboundDirect[link.Sink] = struct{}{}
	default:
		return addLinkError(link.Source, link.Sink, fmt.Errorf("%w: unknown link mode", ErrInvalidArg))
	}

	b.links[linkKey{Source: link.Source, Sink: link.Sink}] = link.Mode
	b.logger.Info().Str("source", link.Source.String()).Str("sink", link.Sink.String()).Str("mode", link.Mode.String()).Msg("link added")
	return nil
}

// RemoveLink severs a routing edge (spec §4.1 remove_link). For WIRE,
// the sink always unsubscribes from the source's prefix — the original
// implementation's disabled unsubscribe is one of the open questions
// resolved in SPEC_FULL.md §5. For DIRECT, any messages still queued on
// that link are dropped; this is documented, explicit policy (spec §8).
func (b *Broker) RemoveLink(source, sink Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := linkKey{Source: source, Sink: sink}
	mode, ok := b.links[key]
	if !ok {
		return removeLinkError(source, sink, ErrNotFound)
	}
	sinkEntry, ok := b.index[sink]
	if !ok {
		return removeLinkError(source, sink, ErrNotFound)
	}

	switch mode {
	case Wire:
		prefix := source.bytes()
		if err := sinkEntry.wireSub.Unsubscribe(prefix[:]); err != nil {
			return removeLinkError(source, sink, fmt.Errorf("%w: %v", ErrPlatformError, err))
		}
	case Direct:
		if dropped := sinkEntry.direct.removeSource(source); dropped > 0 {
			b.logger.Warn().Str("source", source.String()).Str("sink", sink.String()).Int("dropped", dropped).Msg("dropped queued direct messages on link removal")
		}
		delete(sinkEntry.inboundDirect, source)
		if srcEntry, ok := b.index[source]; ok {
			delete(srcEntry.outboundDirect, sink)
		}
	}

	delete(b.links, key)
	b.logger.Info().Str("source", source.String()).Str("sink", sink.String()).Msg("link removed")
	return nil
}

// Publish sends msg from source to every module linked from it (spec
// §4.1 publish). If source has any DIRECT outbound link, every
// destination for this call is reached through the DIRECT path and no
// WIRE frame is sent at all — the mutual-exclusivity rule in spec §4.1.
func (b *Broker) Publish(source Handle, msg message.Message) error {
	if !source.Valid() {
		return fmt.Errorf("%w: publish: nil source", ErrInvalidArg)
	}

	b.mu.Lock()
	entry, ok := b.index[source]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: publish: source %s", ErrNotFound, source)
	}

	if entry.hasDirectOutbound() {
		for sink := range entry.outboundDirect {
			if sinkEntry, ok := b.index[sink]; ok {
				sinkEntry.direct.enqueue(source, msg.Clone())
			}
		}
		b.mu.Unlock()
		return nil
	}

	pub := b.wirePub
	b.mu.Unlock()

	frame := wire.EncodeFrame(source.bytes(), msg.Encode())
	if err := pub.Send(frame); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrPlatformError, err)
	}
	return nil
}

// Modules returns a snapshot of every registered handle, in add order,
// for diagnostics and rollback bookkeeping (the Gateway Orchestrator
// uses this to walk "what's currently added" during apply_update).
func (b *Broker) Modules() []Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Handle, len(b.registry))
	for i, e := range b.registry {
		out[i] = e.handle
	}
	return out
}

func removeEntry(registry []*moduleEntry, target *moduleEntry) []*moduleEntry {
	out := registry[:0]
	for _, e := range registry {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}
