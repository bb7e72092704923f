package gateway

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/loader"
	"github.com/modbroker/gwbroker/message"
)

// stubInstance records Receive calls and Start invocations, for
// exercising the orchestrator's wiring without a real plugin.
type stubInstance struct {
	mu       sync.Mutex
	received []message.Message
	started  bool
	destroyed bool
}

func (s *stubInstance) Receive(msg message.Message) {
	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()
}
func (s *stubInstance) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}
func (s *stubInstance) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

func (s *stubInstance) wasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *stubInstance) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// stubLoader is an IN_PROCESS loader whose Factory returns freshly
// allocated *stubInstance values, captured into the registry's `made`
// slice for test assertions.
type stubLoader struct {
	mu   sync.Mutex
	made []*stubInstance
}

func (l *stubLoader) Name() string      { return "native" }
func (l *stubLoader) Kind() loader.Type { return loader.InProcess }

func (l *stubLoader) ParseConfig(args []byte) (any, error) { return args, nil }

func (l *stubLoader) Load(entrypoint []byte) (broker.Factory, error) {
	return broker.FactoryFunc(func(b *broker.Broker, self broker.Handle, cfg any) (broker.Instance, error) {
		inst := &stubInstance{}
		l.mu.Lock()
		l.made = append(l.made, inst)
		l.mu.Unlock()
		return inst, nil
	}), nil
}

func newTestRegistry() (*loader.Registry, *stubLoader) {
	sl := &stubLoader{}
	reg := loader.NewRegistry()
	reg.Register(sl)
	return reg, sl
}

func TestCreateFromDeclarationAddsModulesAndLinks(t *testing.T) {
	reg, _ := newTestRegistry()
	decl := Declaration{
		Modules: []ModuleDecl{
			{Name: "source"},
			{Name: "sink"},
		},
		Links: []LinkDecl{
			{Source: "source", Sink: "sink", MessageType: ThreadMessageLinkType},
		},
	}

	gw, err := CreateFromDeclaration(reg, decl)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { gw.Destroy() })

	modules := gw.Modules()
	if len(modules) != 2 {
		t.Fatalf("modules = %v, want 2", modules)
	}
}

func TestStatusTransitionsAcrossApplyUpdate(t *testing.T) {
	reg, _ := newTestRegistry()
	gw, err := CreateFromDeclaration(reg, Declaration{Modules: []ModuleDecl{{Name: "only"}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { gw.Destroy() })

	if got := gw.Status(); got != StatusIdle {
		t.Fatalf("status before any update = %v, want IDLE", got)
	}

	if err := gw.ApplyUpdate(Declaration{Modules: []ModuleDecl{{Name: "second"}}}); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if got := gw.Status(); got != StatusUpdated {
		t.Fatalf("status after successful update = %v, want UPDATED", got)
	}

	bad := Declaration{Links: []LinkDecl{{Source: "only", Sink: "does-not-exist"}}}
	if err := gw.ApplyUpdate(bad); !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got %v", err)
	}
	if got := gw.Status(); got != StatusUpdated {
		t.Fatalf("status after failed update = %v, want UPDATED (spec §4.5 step 4)", got)
	}
}

func TestApplyUpdateSerializesConcurrentCallers(t *testing.T) {
	reg, _ := newTestRegistry()
	gw, err := CreateFromDeclaration(reg, Declaration{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { gw.Destroy() })

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = gw.ApplyUpdate(Declaration{Modules: []ModuleDecl{{Name: fmt.Sprintf("m%d", i)}}})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("apply update %d: %v", i, err)
		}
	}
	if got := len(gw.Modules()); got != n {
		t.Fatalf("modules = %d, want %d", got, n)
	}
}

func TestApplyUpdateRollsBackOnUnknownLinkEndpoint(t *testing.T) {
	reg, _ := newTestRegistry()
	decl := Declaration{Modules: []ModuleDecl{{Name: "only"}}}

	gw, err := CreateFromDeclaration(reg, decl)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { gw.Destroy() })

	bad := Declaration{
		Modules: []ModuleDecl{{Name: "extra"}},
		Links:   []LinkDecl{{Source: "extra", Sink: "does-not-exist"}},
	}
	err = gw.ApplyUpdate(bad)
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got %v", err)
	}

	modules := gw.Modules()
	for _, m := range modules {
		if m == "extra" {
			t.Fatal("module \"extra\" should have been rolled back")
		}
	}
}

func TestStartInvokesStarterOnEveryModule(t *testing.T) {
	reg, sl := newTestRegistry()
	decl := Declaration{Modules: []ModuleDecl{{Name: "a"}, {Name: "b"}}}

	gw, err := CreateFromDeclaration(reg, decl)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { gw.Destroy() })

	gw.Start()

	sl.mu.Lock()
	made := append([]*stubInstance(nil), sl.made...)
	sl.mu.Unlock()

	if len(made) != 2 {
		t.Fatalf("made %d instances, want 2", len(made))
	}
	for _, inst := range made {
		if !inst.wasStarted() {
			t.Fatal("expected every module's Start to be called")
		}
	}
}

func TestRemoveModuleByNameUnknownFails(t *testing.T) {
	reg, _ := newTestRegistry()
	gw, err := CreateFromDeclaration(reg, Declaration{Modules: []ModuleDecl{{Name: "a"}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { gw.Destroy() })

	if err := gw.RemoveModule("nonexistent"); err == nil {
		t.Fatal("expected error removing an unknown module name")
	}
}

func TestEndToEndPublishThroughGatewayLink(t *testing.T) {
	reg, sl := newTestRegistry()
	decl := Declaration{
		Modules: []ModuleDecl{{Name: "src"}, {Name: "dst"}},
		Links:   []LinkDecl{{Source: "src", Sink: "dst"}},
	}
	gw, err := CreateFromDeclaration(reg, decl)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { gw.Destroy() })

	sl.mu.Lock()
	made := append([]*stubInstance(nil), sl.made...)
	sl.mu.Unlock()
	if len(made) != 2 {
		t.Fatalf("made %d instances, want 2", len(made))
	}
	dst := made[1]

	handles := gw.b.Modules()
	if len(handles) != 2 {
		t.Fatalf("broker modules = %d, want 2", len(handles))
	}

	if err := gw.b.Publish(handles[0], message.New([]byte("hi"), nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && dst.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	if dst.count() != 1 {
		t.Fatalf("dst received %d messages, want 1", dst.count())
	}
}
