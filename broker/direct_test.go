package broker

import (
	"testing"
	"time"

	"github.com/modbroker/gwbroker/message"
)

func TestDirectStateAddSourceIsIdempotent(t *testing.T) {
	d := newDirectState()
	d.addSource(Handle{id: 1})
	d.addSource(Handle{id: 1})
	if len(d.queues) != 1 {
		t.Fatalf("queues = %d, want 1", len(d.queues))
	}
}

func TestDirectStateEnqueueAndDrainPreservesPerSourceOrder(t *testing.T) {
	d := newDirectState()
	src := Handle{id: 1}
	d.addSource(src)

	for i := 0; i < 5; i++ {
		d.enqueue(src, message.New([]byte{byte(i)}, nil))
	}

	got, ok := drainWithTimeout(t, d)
	if !ok {
		t.Fatal("drain reported not-ok with pending messages")
	}
	if len(got) != 5 {
		t.Fatalf("drained %d messages, want 5", len(got))
	}
	for i, msg := range got {
		if msg.Content()[0] != byte(i) {
			t.Fatalf("message %d out of order: got %d", i, msg.Content()[0])
		}
	}
}

func TestDirectStateRemoveSourceDropsPending(t *testing.T) {
	d := newDirectState()
	src := Handle{id: 1}
	d.addSource(src)
	d.enqueue(src, message.New([]byte("a"), nil))
	d.enqueue(src, message.New([]byte("b"), nil))

	dropped := d.removeSource(src)
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if _, ok := d.queues[src]; ok {
		t.Fatal("source queue still present after removeSource")
	}
}

func TestDirectStateStopUnblocksDrain(t *testing.T) {
	d := newDirectState()
	done := make(chan bool, 1)
	go func() {
		_, ok := d.drain()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	d.stop()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("drain returned ok=true on stop with nothing pending")
		}
	case <-time.After(time.Second):
		t.Fatal("drain did not unblock after stop")
	}
}

func TestDirectStateStopDrainsRemainingBeforeExit(t *testing.T) {
	d := newDirectState()
	src := Handle{id: 7}
	d.addSource(src)
	d.enqueue(src, message.New([]byte("last"), nil))
	d.stop()

	envelopes, ok := d.drain()
	if !ok {
		t.Fatal("expected final drain to report ok with pending data")
	}
	if len(envelopes) != 1 {
		t.Fatalf("drained %d envelopes, want 1", len(envelopes))
	}

	_, ok = d.drain()
	if ok {
		t.Fatal("expected subsequent drain to report not-ok once empty and stopped")
	}
}

func drainWithTimeout(t *testing.T, d *directState) ([]message.Message, bool) {
	t.Helper()
	type result struct {
		envelopes []message.Message
		ok        bool
	}
	ch := make(chan result, 1)
	go func() {
		e, ok := d.drain()
		ch <- result{e, ok}
	}()
	select {
	case r := <-ch:
		return r.envelopes, r.ok
	case <-time.After(time.Second):
		t.Fatal("drain timed out")
		return nil, false
	}
}
