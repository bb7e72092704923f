package broker

import (
	"sync"

	"github.com/modbroker/gwbroker/message"
)

// directState is the lazily-allocated receiver side of the DIRECT path
// for one module (spec §4.3). It holds one FIFO per inbound source,
// coalesced under a single lock + condition variable so the direct
// worker never has to touch more than one lock to drain every inbound
// link at once.
//
// The source's publisher only ever holds this lock long enough to
// append and signal; the module's Receive callback always runs outside
// it, on the direct worker goroutine (spec §5 suspension points).
type directState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	queues  map[Handle][]message.Message
}

func newDirectState() *directState {
	d := &directState{running: true, queues: make(map[Handle][]message.Message)}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// addSource registers an empty queue for a new inbound link. No-op if
// the source is already known (re-adding a link that was never removed).
func (d *directState) addSource(source Handle) {
	d.mu.Lock()
	if _, ok := d.queues[source]; !ok {
		d.queues[source] = nil
	}
	d.mu.Unlock()
}

// removeSource drops a source's queue, returning how many pending
// messages were discarded. Dropping queued messages on link removal is
// documented, explicit policy (spec §4.1 remove_link, §8 boundary
// behaviors) — best-effort delivery, not a bug.
func (d *directState) removeSource(source Handle) int {
	d.mu.Lock()
	dropped := len(d.queues[source])
	delete(d.queues, source)
	d.mu.Unlock()
	return dropped
}

// enqueue appends m to source's queue and wakes the direct worker.
func (d *directState) enqueue(source Handle, m message.Message) {
	d.mu.Lock()
	d.queues[source] = append(d.queues[source], m)
	d.cond.Signal()
	d.mu.Unlock()
}

// drain blocks until running is false or some queue is non-empty, then
// detaches every pending message across every inbound link in one pass,
// replacing each queue with an empty one (spec §4.3, §9 queue-steal
// reimplementation). ok is false only once: when the state has been
// stopped and had nothing left to deliver.
func (d *directState) drain() (envelopes []message.Message, ok bool) {
	d.mu.Lock()
	for d.running && !d.hasPendingLocked() {
		d.cond.Wait()
	}
	if !d.running && !d.hasPendingLocked() {
		d.mu.Unlock()
		return nil, false
	}
	for src, q := range d.queues {
		if len(q) == 0 {
			continue
		}
		envelopes = append(envelopes, q...)
		d.queues[src] = nil
	}
	d.mu.Unlock()
	return envelopes, true
}

func (d *directState) hasPendingLocked() bool {
	for _, q := range d.queues {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// stop clears the running flag and wakes the direct worker so it can
// observe the stop and exit (spec §4.3 `continue == false`).
func (d *directState) stop() {
	d.mu.Lock()
	d.running = false
	d.cond.Broadcast()
	d.mu.Unlock()
}
