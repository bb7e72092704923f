package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/events"
	"github.com/modbroker/gwbroker/loader"
	"github.com/modbroker/gwbroker/log"
	"github.com/modbroker/gwbroker/metrics"
)

// RuntimeStatus is the Gateway's update state machine (spec.md §4.5).
type RuntimeStatus int

const (
	// StatusIdle means no update has run yet on this Gateway; once an
	// update has run the status never returns to IDLE.
	StatusIdle RuntimeStatus = iota
	// StatusUpdating means an apply_update call is in flight.
	StatusUpdating
	// StatusUpdated means the most recent apply_update has completed,
	// successfully or not (spec.md §4.5 steps 4 and 6 both set this).
	StatusUpdated
)

func (s RuntimeStatus) String() string {
	switch s {
	case StatusUpdating:
		return "UPDATING"
	case StatusUpdated:
		return "UPDATED"
	default:
		return "IDLE"
	}
}

// Gateway owns a Broker, a loader Registry, and an Event System, and
// applies Declarations against them (spec.md §4.5 create_from_json /
// gateway_start, §4.6 apply_update). A Gateway is created with a
// reference count of 1 on its Broker (spec.md §4.1 inc_ref/dec_ref);
// Destroy releases it.
type Gateway struct {
	b       *broker.Broker
	loaders *loader.Registry
	events  *events.System
	logger  zerolog.Logger

	mu            sync.Mutex
	modulesByName map[string]broker.Handle
	instances     map[broker.Handle]broker.Instance
	links         map[linkKey]struct{}
	reconciler    *Reconciler

	// updateMu serializes ApplyUpdate calls. spec.md §4.5 step 1 and
	// §9's flagged bug describe a spin-wait on a status field; a plain
	// mutex gives the same single-flight guarantee without the busy
	// loop (see DESIGN.md, "Open Question resolutions", item 4).
	// statusMu guards status alone so Status() never blocks behind an
	// in-flight update.
	updateMu sync.Mutex
	statusMu sync.Mutex
	status   RuntimeStatus
}

type linkKey struct {
	Source, Sink string
}

// CreateFromDeclaration builds a new Gateway from a parsed Declaration,
// registering every module and link it names (spec.md §4.5
// Gateway_CreateFromJson, minus the original's own file-reading step —
// callers parse the declaration themselves via ParseDeclaration so this
// function works equally from a file, an HTTP fetch, or a literal).
// Any failure tears down everything already added, in reverse, and
// leaves the caller with no Gateway to clean up.
func CreateFromDeclaration(reg *loader.Registry, decl Declaration) (*Gateway, error) {
	b, err := broker.Create()
	if err != nil {
		return nil, fmt.Errorf("gateway: create_from_declaration: %w", err)
	}

	gw := &Gateway{
		b:             b,
		loaders:       reg,
		events:        events.New(),
		logger:        log.WithComponent("gateway"),
		modulesByName: make(map[string]broker.Handle),
		instances:     make(map[broker.Handle]broker.Instance),
		links:         make(map[linkKey]struct{}),
	}

	if err := gw.applyModulesAndLinks(decl); err != nil {
		b.DecRef()
		return nil, err
	}

	metrics.SetModulesActive(len(gw.Modules()))
	gw.events.Report(events.Report{Topic: events.ModuleListChanged})
	gw.logger.Info().Int("modules", len(decl.Modules)).Int("links", len(decl.Links)).Msg("gateway created from declaration")
	return gw, nil
}

// Events returns the Gateway's event System, for subscribing to
// lifecycle notifications.
func (g *Gateway) Events() *events.System { return g.events }

// Status reports the Gateway's current update state (spec.md §4.5).
func (g *Gateway) Status() RuntimeStatus {
	g.statusMu.Lock()
	defer g.statusMu.Unlock()
	return g.status
}

func (g *Gateway) setStatus(s RuntimeStatus) {
	g.statusMu.Lock()
	g.status = s
	g.statusMu.Unlock()
}

// Broker returns the underlying Broker, for callers that need direct
// Publish access (e.g. test harnesses, the filter module's wiring).
func (g *Gateway) Broker() *broker.Broker { return g.b }

// UseReconciler attaches r so every future ApplyUpdate call performs the
// per-module artifact reconciliation (spec.md §4.5 step 3, §4.6 C8)
// before adding modules, and persists the deployed manifest (spec.md
// §4.5 step 6) after a successful update. Passing nil detaches it;
// ApplyUpdate then behaves exactly as spec.md §4.5 steps 4-5 describe,
// with no artifact fetching or manifest persistence.
func (g *Gateway) UseReconciler(r *Reconciler) {
	g.mu.Lock()
	g.reconciler = r
	g.mu.Unlock()
}

// Start invokes Start() on every currently-added module implementing
// broker.Starter, in no particular order — matching spec.md §4.5's
// "after all modules and links in a declaration have been added".
func (g *Gateway) Start() {
	g.mu.Lock()
	instances := make([]broker.Instance, 0, len(g.instances))
	for _, inst := range g.instances {
		instances = append(instances, inst)
	}
	g.mu.Unlock()

	for _, inst := range instances {
		if starter, ok := inst.(broker.Starter); ok {
			starter.Start()
		}
	}
}

// ApplyUpdate adds every module and link in decl to the running
// Gateway (spec.md §4.6 apply_update). It does not remove modules or
// links absent from decl — an update is additive, matching the
// original's Gateway_UpdateFromJson semantics ("the function shall be
// able to add just modules, just links or both"). On any failure,
// everything this call added is rolled back, in link-then-module,
// most-recent-first order, leaving the Gateway exactly as it was.
func (g *Gateway) ApplyUpdate(decl Declaration) error {
	g.updateMu.Lock()
	defer g.updateMu.Unlock()
	g.setStatus(StatusUpdating)

	g.mu.Lock()
	reconciler := g.reconciler
	g.mu.Unlock()

	if reconciler != nil {
		if err := reconciler.reconcile(context.Background(), decl.Modules); err != nil {
			g.setStatus(StatusUpdated)
			return fmt.Errorf("%w: apply_update: reconcile module artifacts: %v", ErrUpdateFailed, err)
		}
	}

	if err := g.applyModulesAndLinks(decl); err != nil {
		g.setStatus(StatusUpdated)
		metrics.ObserveUpdate("rolled_back")
		return err
	}

	if reconciler != nil {
		if err := reconciler.persist(decl.Modules); err != nil {
			g.logger.Warn().Err(err).Msg("apply_update: persist deployed manifest")
		}
	}

	metrics.ObserveUpdate("applied")
	metrics.SetModulesActive(len(g.Modules()))
	g.events.Report(events.Report{Topic: events.ModuleListChanged})
	g.setStatus(StatusUpdated)
	return nil
}

func (g *Gateway) applyModulesAndLinks(decl Declaration) error {
	var addedModules []string
	var addedLinks []LinkDecl

	rollback := func() {
		for i := len(addedLinks) - 1; i >= 0; i-- {
			l := addedLinks[i]
			if err := g.removeLinkLocked(l); err != nil {
				g.logger.Warn().Err(err).Str("source", l.Source).Str("sink", l.Sink).Msg("rollback: remove link")
			}
		}
		for i := len(addedModules) - 1; i >= 0; i-- {
			if err := g.RemoveModule(addedModules[i]); err != nil {
				g.logger.Warn().Err(err).Str("module", addedModules[i]).Msg("rollback: remove module")
			}
		}
	}

	for _, m := range decl.Modules {
		if _, err := g.addModule(m); err != nil {
			rollback()
			return fmt.Errorf("%w: apply_update: add module %q: %v", ErrUpdateFailed, m.Name, err)
		}
		addedModules = append(addedModules, m.Name)
	}

	for _, l := range decl.Links {
		if err := g.addLink(l); err != nil {
			rollback()
			return fmt.Errorf("%w: apply_update: add link %s->%s: %v", ErrUpdateFailed, l.Source, l.Sink, err)
		}
		addedLinks = append(addedLinks, l)
	}

	return nil
}

func (g *Gateway) addModule(m ModuleDecl) (broker.Handle, error) {
	ld, err := g.loaders.Get(m.LoaderName())
	if err != nil {
		return broker.Handle{}, err
	}

	factory, err := ld.Load(m.Loader.Entrypoint)
	if err != nil {
		return broker.Handle{}, fmt.Errorf("load module %q: %w", m.Name, err)
	}

	cfg, err := ld.ParseConfig(m.Args)
	if err != nil {
		return broker.Handle{}, fmt.Errorf("parse config for module %q: %w", m.Name, err)
	}

	var captured broker.Instance
	capturing := broker.FactoryFunc(func(b *broker.Broker, self broker.Handle, cfg any) (broker.Instance, error) {
		inst, err := factory.Create(b, self, cfg)
		captured = inst
		return inst, err
	})

	h, err := g.b.AddModule(broker.ModuleSpec{
		Name: m.Name,
		Loader: broker.LoaderInfo{
			LoaderName: m.LoaderName(),
			Entrypoint: m.Loader.Entrypoint,
		},
		Config:        m.Args,
		InProcess:     ld.Kind() == loader.InProcess,
		Factory:       capturing,
		FactoryConfig: cfg,
	})
	if err != nil {
		return broker.Handle{}, err
	}

	g.mu.Lock()
	g.modulesByName[m.Name] = h
	if captured != nil {
		g.instances[h] = captured
	}
	g.mu.Unlock()

	g.events.Report(events.Report{Topic: events.ModuleAdded, ModuleName: m.Name})
	return h, nil
}

func (g *Gateway) addLink(l LinkDecl) error {
	g.mu.Lock()
	src, ok := g.modulesByName[l.Source]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: unknown link source %q", ErrMalformed, l.Source)
	}
	sink, ok := g.modulesByName[l.Sink]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: unknown link sink %q", ErrMalformed, l.Sink)
	}
	g.mu.Unlock()

	mode := broker.Wire
	if l.IsDirect() {
		mode = broker.Direct
	}

	if err := g.b.AddLink(broker.Link{Source: src, Sink: sink, Mode: mode}); err != nil {
		return err
	}

	g.mu.Lock()
	g.links[linkKey{Source: l.Source, Sink: l.Sink}] = struct{}{}
	g.mu.Unlock()
	return nil
}

func (g *Gateway) removeLinkLocked(l LinkDecl) error {
	g.mu.Lock()
	src, srcOK := g.modulesByName[l.Source]
	sink, sinkOK := g.modulesByName[l.Sink]
	g.mu.Unlock()
	if !srcOK || !sinkOK {
		return nil // already gone as part of a module rollback
	}
	if err := g.b.RemoveLink(src, sink); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.links, linkKey{Source: l.Source, Sink: l.Sink})
	g.mu.Unlock()
	return nil
}

// RemoveModule removes a module by name (spec.md §4.1 remove_module,
// reached by name the way the original's Gateway_RemoveModuleByName is).
func (g *Gateway) RemoveModule(name string) error {
	g.mu.Lock()
	h, ok := g.modulesByName[name]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: remove_module: unknown module %q", broker.ErrNotFound, name)
	}
	g.mu.Unlock()

	if err := g.b.RemoveModule(h); err != nil {
		return err
	}

	g.mu.Lock()
	delete(g.modulesByName, name)
	delete(g.instances, h)
	g.mu.Unlock()

	metrics.SetModulesActive(len(g.Modules()))
	g.events.Report(events.Report{Topic: events.ModuleDestroyed, ModuleName: name})
	return nil
}

// Modules returns every currently registered module name.
func (g *Gateway) Modules() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.modulesByName))
	for name := range g.modulesByName {
		out = append(out, name)
	}
	return out
}

// Destroy tears every module down and releases the Gateway's reference
// on its Broker (spec.md §4.1 dec_ref).
func (g *Gateway) Destroy() error {
	for _, name := range g.Modules() {
		if err := g.RemoveModule(name); err != nil {
			g.logger.Warn().Err(err).Str("module", name).Msg("destroy: remove module")
		}
	}
	return g.b.DecRef()
}
