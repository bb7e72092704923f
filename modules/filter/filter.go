// Package filter implements the sample passthrough/filter module
// supplemented from original_source/modules/filter (SPEC_FULL.md §4):
// a trivial IN_PROCESS module that inspects one property on every
// message it receives and either republishes it unchanged or drops it,
// exercising the module contract's full lifecycle
// (parse_config/create/receive/destroy, spec.md §6).
package filter

import (
	"encoding/json"
	"fmt"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/log"
	"github.com/modbroker/gwbroker/message"
)

// Config is the module's "args" shape in a gateway declaration:
//
//	{"property": "k", "value": "v", "mode": "allow"}
//
// mode "allow" forwards only messages where Property(property) == value;
// "block" forwards everything except those. An empty property matches
// every message (useful as a pure passthrough for wiring tests).
type Config struct {
	Property string `json:"property"`
	Value    string `json:"value"`
	Mode     string `json:"mode"`
}

const (
	ModeAllow = "allow"
	ModeBlock = "block"
)

// ParseConfig unmarshals a module's raw "args" JSON into a Config. The
// native loader's own ParseConfig passes args straight through
// (loader/native/native.go) on the understanding that a plugin
// interprets its own configuration; filter.Factory calls this itself at
// Create time rather than relying on the loader to have done it.
func ParseConfig(args []byte) (Config, error) {
	cfg := Config{Mode: ModeAllow}
	if len(args) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(args, &cfg); err != nil {
		return Config{}, fmt.Errorf("filter: parse config: %w", err)
	}
	if cfg.Mode != ModeAllow && cfg.Mode != ModeBlock {
		return Config{}, fmt.Errorf("filter: parse config: unknown mode %q", cfg.Mode)
	}
	return cfg, nil
}

// instance is the running filter module: it holds the broker handle it
// was created with so Receive can republish a matching message under
// its own identity (the original's FILTER_Receive calling
// Broker_Publish(handle->broker, (MODULE_HANDLE)handle, newMessage)).
type instance struct {
	b    *broker.Broker
	self broker.Handle
	cfg  Config
}

// Factory constructs filter instances from the raw "args" bytes the
// native loader hands Create unchanged. Its name matches the native
// loader's DefaultSymbol, but the native loader resolves it only from a
// compiled plugin that exports it; tests and in-process wiring use it
// directly.
var Factory = broker.FactoryFunc(func(b *broker.Broker, self broker.Handle, cfgIn any) (broker.Instance, error) {
	var raw []byte
	switch v := cfgIn.(type) {
	case nil:
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		return nil, fmt.Errorf("filter: create: unsupported config type %T", cfgIn)
	}

	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	return &instance{b: b, self: self, cfg: cfg}, nil
})

// Receive matches msg against the configured property and, if it
// passes, republishes it downstream under this module's own handle.
func (i *instance) Receive(msg message.Message) {
	if !i.matches(msg) {
		return
	}
	if err := i.b.Publish(i.self, msg); err != nil {
		log.WithModule("filter", i.self.String()).Warn().Err(err).Msg("republish filtered message")
	}
}

func (i *instance) matches(msg message.Message) bool {
	if i.cfg.Property == "" {
		return true
	}
	v, ok := msg.Property(i.cfg.Property)
	matched := ok && v == i.cfg.Value
	if i.cfg.Mode == ModeBlock {
		return !matched
	}
	return matched
}

// Destroy releases the instance's resources. The filter holds no
// resources beyond its config, so this is a no-op kept to satisfy
// broker.Instance (spec.md §6 destroy()).
func (i *instance) Destroy() {}
