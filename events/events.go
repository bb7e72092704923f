// Package events implements the gateway's lifecycle Event System
// (spec §4.7): synchronous fan-out of lifecycle notifications — module
// added, module destroyed, module list changed — to interested
// subscribers. Grounded on the teacher's core.Router.Use/Handle
// registration pattern (core/router.go), adapted from per-topic handler
// maps to a single append-only subscriber list since every event here
// carries the same Report shape.
package events

import (
	"sync"
)

// Topic names a lifecycle event kind (spec §4.7).
type Topic string

const (
	// ModuleAdded fires after the Gateway adds a module while creating
	// from a declaration or applying an update. A direct call to
	// broker.AddModule reports nothing.
	ModuleAdded Topic = "MODULE_ADDED"
	// ModuleDestroyed fires after RemoveModule has fully torn a module
	// down (its workers joined, Destroy called).
	ModuleDestroyed Topic = "MODULE_DESTROYED"
	// ModuleListChanged fires once per successful create_from_declaration
	// or apply_update batch, after every individual ModuleAdded for that
	// batch has already been reported. Removing a single module does not
	// report it.
	ModuleListChanged Topic = "MODULE_LIST_CHANGED"
)

// Report is the payload delivered to subscribers for one lifecycle
// event (spec §4.7 GATEWAY_MODULE_INFO-equivalent notification).
type Report struct {
	Topic      Topic
	ModuleName string
}

// Handler receives a Report. Handlers run synchronously on the
// goroutine that called System.Report — they must not block or
// call back into the gateway, matching the suspension-point discipline
// in spec §5.
type Handler func(Report)

// System is the event bus. Unlike the Broker, it is not itself a
// publish/subscribe transport: it exists purely to decouple the
// orchestrator's lifecycle bookkeeping from whatever wants to observe
// it (logging, metrics, a management API), so it is process-local and
// owned by one Gateway Orchestrator instance.
type System struct {
	mu       sync.RWMutex
	handlers []Handler
}

// New returns an empty event System.
func New() *System {
	return &System{}
}

// Subscribe registers h to receive every future Report. Subscription
// order is also delivery order.
func (s *System) Subscribe(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Report synchronously delivers r to every current subscriber, in
// subscription order. A panicking handler is not recovered: the panic
// propagates to the caller of Report, and later handlers are not run.
func (s *System) Report(r Report) {
	s.mu.RLock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(r)
	}
}
