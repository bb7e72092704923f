// Package natsloader bridges OUT_OF_PROCESS modules reachable over NATS
// core pub/sub, adapted from the teacher's plugins/nats package. Unlike
// the teacher's JetStream-backed broker wrapper, this bridge uses plain
// NATS pub/sub: an out-of-process module is reached WIRE-only and the
// broker's own WIRE path is already at-most-once, so there is nothing
// for JetStream's persistence and redelivery to add here.
package natsloader

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/log"
	"github.com/modbroker/gwbroker/loader"
	"github.com/modbroker/gwbroker/message"
)

// Entrypoint is the loader-specific JSON a declaration carries for a
// module assigned to this loader.
type Entrypoint struct {
	URL              string `json:"url"`
	PublishSubject   string `json:"publish_subject"`
	SubscribeSubject string `json:"subscribe_subject"`
}

// Loader implements loader.Loader for NATS-bridged modules.
type Loader struct{}

// New returns a ready-to-register NATS Loader.
func New() *Loader { return &Loader{} }

func (l *Loader) Name() string      { return "nats" }
func (l *Loader) Kind() loader.Type { return loader.OutOfProcess }

func (l *Loader) ParseConfig(args []byte) (any, error) { return args, nil }

func (l *Loader) Load(entrypoint []byte) (broker.Factory, error) {
	var ep Entrypoint
	if err := json.Unmarshal(entrypoint, &ep); err != nil {
		return nil, fmt.Errorf("natsloader: parse entrypoint: %w", err)
	}
	if ep.URL == "" {
		return nil, fmt.Errorf("natsloader: entrypoint missing url")
	}

	return broker.FactoryFunc(func(b *broker.Broker, self broker.Handle, cfg any) (broker.Instance, error) {
		return newInstance(b, self, ep)
	}), nil
}

// instance is the in-process proxy for a NATS-bridged module: it
// forwards every Receive call out over ep.PublishSubject, and forwards
// every message it reads from ep.SubscribeSubject back into the broker
// via Publish(self, ...).
type instance struct {
	b    *broker.Broker
	self broker.Handle
	ep   Entrypoint

	conn *nats.Conn
	sub  *nats.Subscription

	mu     sync.Mutex
	closed bool
}

func newInstance(b *broker.Broker, self broker.Handle, ep Entrypoint) (*instance, error) {
	conn, err := nats.Connect(ep.URL)
	if err != nil {
		return nil, fmt.Errorf("natsloader: connect %q: %w", ep.URL, err)
	}

	logger := log.WithModule("natsloader", self.String())

	i := &instance{b: b, self: self, ep: ep, conn: conn}

	if ep.SubscribeSubject != "" {
		sub, err := conn.Subscribe(ep.SubscribeSubject, func(m *nats.Msg) {
			msg := message.New(m.Data, natsHeaders(m.Header))
			if err := b.Publish(self, msg); err != nil {
				logger.Warn().Err(err).Msg("publish inbound nats message into broker")
			}
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("natsloader: subscribe %q: %w", ep.SubscribeSubject, err)
		}
		i.sub = sub
	}

	return i, nil
}

func (i *instance) Receive(msg message.Message) {
	if i.ep.PublishSubject == "" {
		return
	}
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	conn := i.conn
	i.mu.Unlock()

	nm := &nats.Msg{Subject: i.ep.PublishSubject, Data: msg.Content(), Header: nats.Header{}}
	for k, v := range msg.Properties() {
		nm.Header.Set(k, v)
	}
	if err := conn.PublishMsg(nm); err != nil {
		log.WithModule("natsloader", i.self.String()).Warn().Err(err).Msg("publish outbound message to nats")
	}
}

func (i *instance) Destroy() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.mu.Unlock()

	if i.sub != nil {
		i.sub.Unsubscribe()
	}
	i.conn.Close()
}

func natsHeaders(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
