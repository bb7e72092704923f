package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modbroker/gwbroker/message"
)

// recorder is a test Instance that appends every delivered message to a
// slice under a mutex, so a test goroutine can poll it without racing
// the worker goroutine that calls Receive.
type recorder struct {
	mu       sync.Mutex
	received []message.Message
	destroyed bool
}

func (r *recorder) Receive(msg message.Message) {
	r.mu.Lock()
	r.received = append(r.received, msg)
	r.mu.Unlock()
}

func (r *recorder) Destroy() {
	r.mu.Lock()
	r.destroyed = true
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func (r *recorder) snapshot() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]message.Message, len(r.received))
	copy(out, r.received)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func mustAddModule(t *testing.T, b *Broker, name string, inProcess bool) (Handle, *recorder) {
	t.Helper()
	rec := &recorder{}
	h, err := b.AddModule(ModuleSpec{
		Name:      name,
		InProcess: inProcess,
		Factory: FactoryFunc(func(b *Broker, self Handle, cfg any) (Instance, error) {
			return rec, nil
		}),
	})
	if err != nil {
		t.Fatalf("add module %s: %v", name, err)
	}
	return h, rec
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := Create()
	if err != nil {
		t.Fatalf("create broker: %v", err)
	}
	t.Cleanup(func() { b.DecRef() })
	return b
}

func TestWireFanOutDeliversToEveryLinkedSink(t *testing.T) {
	b := newTestBroker(t)

	src, _ := mustAddModule(t, b, "source", true)
	sinkA, recA := mustAddModule(t, b, "sinkA", true)
	sinkB, recB := mustAddModule(t, b, "sinkB", true)

	if err := b.AddLink(Link{Source: src, Sink: sinkA, Mode: Wire}); err != nil {
		t.Fatalf("add link a: %v", err)
	}
	if err := b.AddLink(Link{Source: src, Sink: sinkB, Mode: Wire}); err != nil {
		t.Fatalf("add link b: %v", err)
	}

	msg := message.New([]byte("hello"), map[string]string{"k": "v"})
	if err := b.Publish(src, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool { return recA.count() == 1 && recB.count() == 1 })

	gotA := recA.snapshot()[0]
	if !gotA.Equal(msg) {
		t.Fatalf("sinkA received %v, want %v", gotA, msg)
	}
	gotB := recB.snapshot()[0]
	if !gotB.Equal(msg) {
		t.Fatalf("sinkB received %v, want %v", gotB, msg)
	}
}

func TestWireUnlinkedSinkReceivesNothing(t *testing.T) {
	b := newTestBroker(t)

	src, _ := mustAddModule(t, b, "source", true)
	_, recBystander := mustAddModule(t, b, "bystander", true)

	if err := b.Publish(src, message.New([]byte("x"), nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := recBystander.count(); n != 0 {
		t.Fatalf("bystander received %d messages, want 0", n)
	}
}

func TestDirectLinkOrdersAllMessages(t *testing.T) {
	b := newTestBroker(t)

	src, _ := mustAddModule(t, b, "source", true)
	sink, rec := mustAddModule(t, b, "sink", true)

	if err := b.AddLink(Link{Source: src, Sink: sink, Mode: Direct}); err != nil {
		t.Fatalf("add direct link: %v", err)
	}

	const n = 1000
	for i := 0; i < n; i++ {
		msg := message.New([]byte{byte(i), byte(i >> 8)}, nil)
		if err := b.Publish(src, msg); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return rec.count() == n })

	got := rec.snapshot()
	for i, msg := range got {
		want := []byte{byte(i), byte(i >> 8)}
		if string(msg.Content()) != string(want) {
			t.Fatalf("message %d out of order: got %v want %v", i, msg.Content(), want)
		}
	}
}

func TestDirectLinkExcludesWireDelivery(t *testing.T) {
	b := newTestBroker(t)

	src, _ := mustAddModule(t, b, "source", true)
	directSink, directRec := mustAddModule(t, b, "directSink", true)
	wireSink, wireRec := mustAddModule(t, b, "wireSink", true)

	if err := b.AddLink(Link{Source: src, Sink: directSink, Mode: Direct}); err != nil {
		t.Fatalf("add direct link: %v", err)
	}
	if err := b.AddLink(Link{Source: src, Sink: wireSink, Mode: Wire}); err != nil {
		t.Fatalf("add wire link: %v", err)
	}

	if err := b.Publish(src, message.New([]byte("only-direct"), nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool { return directRec.count() == 1 })
	time.Sleep(50 * time.Millisecond)

	if n := wireRec.count(); n != 0 {
		t.Fatalf("wire-linked sink received %d messages, want 0 (mutual exclusivity)", n)
	}
}

func TestAddLinkRejectsSelfLink(t *testing.T) {
	b := newTestBroker(t)
	h, _ := mustAddModule(t, b, "solo", true)

	err := b.AddLink(Link{Source: h, Sink: h, Mode: Wire})
	if err == nil {
		t.Fatal("expected error linking a module to itself")
	}
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected *LinkError, got %T", err)
	}
}

func TestAddLinkRejectsDirectWithOutOfProcessEndpoint(t *testing.T) {
	b := newTestBroker(t)
	src, _ := mustAddModule(t, b, "source", false)
	sink, _ := mustAddModule(t, b, "sink", true)

	err := b.AddLink(Link{Source: src, Sink: sink, Mode: Direct})
	if err == nil {
		t.Fatal("expected error for DIRECT link with out-of-process source")
	}
	if !errors.Is(err, ErrInvalidArg) {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestAddLinkRejectsDuplicate(t *testing.T) {
	b := newTestBroker(t)
	src, _ := mustAddModule(t, b, "source", true)
	sink, _ := mustAddModule(t, b, "sink", true)

	if err := b.AddLink(Link{Source: src, Sink: sink, Mode: Wire}); err != nil {
		t.Fatalf("first add link: %v", err)
	}
	if err := b.AddLink(Link{Source: src, Sink: sink, Mode: Wire}); err == nil {
		t.Fatal("expected error re-adding the same link")
	}
}

func TestPublishFromUnknownHandleFails(t *testing.T) {
	b := newTestBroker(t)
	err := b.Publish(Handle{id: 99999}, message.New(nil, nil))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPublishRequiresValidHandle(t *testing.T) {
	b := newTestBroker(t)
	err := b.Publish(Handle{}, message.New(nil, nil))
	if !errors.Is(err, ErrInvalidArg) {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestRemoveModuleStopsDeliveryAndDestroysInstance(t *testing.T) {
	b := newTestBroker(t)
	src, _ := mustAddModule(t, b, "source", true)
	sink, rec := mustAddModule(t, b, "sink", true)

	if err := b.AddLink(Link{Source: src, Sink: sink, Mode: Wire}); err != nil {
		t.Fatalf("add link: %v", err)
	}
	if err := b.RemoveModule(sink); err != nil {
		t.Fatalf("remove module: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.destroyed
	})

	if err := b.Publish(src, message.New([]byte("after-removal"), nil)); err != nil {
		t.Fatalf("publish after removal: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("removed sink received %d messages, want 0", n)
	}
}

func TestRemoveModuleUnknownHandleFails(t *testing.T) {
	b := newTestBroker(t)
	if err := b.RemoveModule(Handle{id: 424242}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveModuleDuringConcurrentPublishDoesNotDeadlock(t *testing.T) {
	// Regresses the lock-ordering hazard: one goroutine publishing from
	// a module while another goroutine concurrently removes a different,
	// unrelated module must never deadlock against the registry lock.
	b := newTestBroker(t)

	chatty, _ := mustAddModule(t, b, "chatty", true)
	bystander, bystanderRec := mustAddModule(t, b, "bystander", true)
	if err := b.AddLink(Link{Source: chatty, Sink: bystander, Mode: Wire}); err != nil {
		t.Fatalf("add link: %v", err)
	}

	victim, _ := mustAddModule(t, b, "victim", true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.Publish(chatty, message.New([]byte{byte(i)}, nil))
		}
	}()
	go func() {
		defer wg.Done()
		b.RemoveModule(victim)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out: suspected deadlock between Publish and RemoveModule")
	}

	waitFor(t, time.Second, func() bool { return bystanderRec.count() > 0 })
}

func TestModulesReturnsRegisteredHandlesInAddOrder(t *testing.T) {
	b := newTestBroker(t)
	h1, _ := mustAddModule(t, b, "one", true)
	h2, _ := mustAddModule(t, b, "two", true)

	got := b.Modules()
	if len(got) != 2 || got[0] != h1 || got[1] != h2 {
		t.Fatalf("Modules() = %v, want [%v %v]", got, h1, h2)
	}
}

func TestRemoveLinkWireStopsDelivery(t *testing.T) {
	b := newTestBroker(t)
	src, _ := mustAddModule(t, b, "source", true)
	sink, rec := mustAddModule(t, b, "sink", true)

	if err := b.AddLink(Link{Source: src, Sink: sink, Mode: Wire}); err != nil {
		t.Fatalf("add link: %v", err)
	}
	if err := b.Publish(src, message.New([]byte("one"), nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, time.Second, func() bool { return rec.count() == 1 })

	if err := b.RemoveLink(src, sink); err != nil {
		t.Fatalf("remove link: %v", err)
	}
	if err := b.Publish(src, message.New([]byte("two"), nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("received %d messages after unsubscribe, want 1", n)
	}
}

func TestRemoveLinkUnknownFails(t *testing.T) {
	b := newTestBroker(t)
	src, _ := mustAddModule(t, b, "source", true)
	sink, _ := mustAddModule(t, b, "sink", true)

	if err := b.RemoveLink(src, sink); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
