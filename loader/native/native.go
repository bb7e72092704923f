// Package native implements the IN_PROCESS loader (spec §4.4): modules
// built as Go plugins (*.so, built with `go build -buildmode=plugin`),
// each exporting a package-level symbol that satisfies broker.Factory.
// This is the Go-native analogue of the original system's dlopen-based
// dynamic module loader.
package native

import (
	"encoding/json"
	"fmt"
	"plugin"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/loader"
)

// DefaultSymbol is the exported symbol name a module plugin must define
// when its entrypoint JSON omits "symbol".
const DefaultSymbol = "Factory"

// Entrypoint is the loader-specific JSON a declaration carries for a
// module assigned to this loader.
type Entrypoint struct {
	// Path is the filesystem path to the compiled plugin (.so file).
	Path string `json:"path"`
	// Symbol names the exported broker.Factory value; defaults to
	// DefaultSymbol when empty.
	Symbol string `json:"symbol"`
}

// Loader implements loader.Loader by dynamically loading a Go plugin
// per module entrypoint.
type Loader struct{}

// New returns a ready-to-register native Loader.
func New() *Loader { return &Loader{} }

func (l *Loader) Name() string      { return "native" }
func (l *Loader) Kind() loader.Type { return loader.InProcess }

// ParseConfig passes a module's raw args straight through; native
// plugins receive and interpret their own JSON configuration.
func (l *Loader) ParseConfig(args []byte) (any, error) { return args, nil }

// Load opens the plugin named by entrypoint and resolves its exported
// Factory symbol. Plugins are cached process-wide by the Go runtime
// itself (plugin.Open is idempotent per path), so repeated Load calls
// for the same path are cheap.
func (l *Loader) Load(entrypoint []byte) (broker.Factory, error) {
	ep, err := parseEntrypoint(entrypoint)
	if err != nil {
		return nil, err
	}

	p, err := plugin.Open(ep.Path)
	if err != nil {
		return nil, fmt.Errorf("native: open plugin %q: %w", ep.Path, err)
	}

	sym, err := p.Lookup(ep.Symbol)
	if err != nil {
		return nil, fmt.Errorf("native: lookup symbol %q in %q: %w", ep.Symbol, ep.Path, err)
	}

	factory, ok := sym.(broker.Factory)
	if !ok {
		if fn, ok := sym.(func(*broker.Broker, broker.Handle, any) (broker.Instance, error)); ok {
			return broker.FactoryFunc(fn), nil
		}
		return nil, fmt.Errorf("native: symbol %q in %q does not implement broker.Factory", ep.Symbol, ep.Path)
	}
	return factory, nil
}

func parseEntrypoint(raw []byte) (Entrypoint, error) {
	var ep Entrypoint
	if err := json.Unmarshal(raw, &ep); err != nil {
		return Entrypoint{}, fmt.Errorf("native: parse entrypoint: %w", err)
	}
	if ep.Path == "" {
		return Entrypoint{}, fmt.Errorf("native: entrypoint missing path")
	}
	if ep.Symbol == "" {
		ep.Symbol = DefaultSymbol
	}
	return ep, nil
}
