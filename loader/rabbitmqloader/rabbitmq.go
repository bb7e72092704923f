// Package rabbitmqloader bridges OUT_OF_PROCESS modules reachable over
// RabbitMQ, adapted from the teacher's plugins/rabbitmq package: one
// connection and one channel per bridged module, durable queues, manual
// ack on the inbound side.
package rabbitmqloader

import (
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/log"
	"github.com/modbroker/gwbroker/loader"
	"github.com/modbroker/gwbroker/message"
)

// Entrypoint is the loader-specific JSON a declaration carries for a
// module assigned to this loader.
type Entrypoint struct {
	URI           string `json:"uri"`
	PublishQueue  string `json:"publish_queue"`
	ConsumeQueue  string `json:"consume_queue"`
	PrefetchCount int    `json:"prefetch_count"`
}

// Loader implements loader.Loader for RabbitMQ-bridged modules.
type Loader struct{}

func New() *Loader { return &Loader{} }

func (l *Loader) Name() string      { return "rabbitmq" }
func (l *Loader) Kind() loader.Type { return loader.OutOfProcess }

func (l *Loader) ParseConfig(args []byte) (any, error) { return args, nil }

func (l *Loader) Load(entrypoint []byte) (broker.Factory, error) {
	var ep Entrypoint
	if err := json.Unmarshal(entrypoint, &ep); err != nil {
		return nil, fmt.Errorf("rabbitmqloader: parse entrypoint: %w", err)
	}
	if ep.URI == "" {
		return nil, fmt.Errorf("rabbitmqloader: entrypoint missing uri")
	}
	if ep.PrefetchCount <= 0 {
		ep.PrefetchCount = 1
	}

	return broker.FactoryFunc(func(b *broker.Broker, self broker.Handle, cfg any) (broker.Instance, error) {
		return newInstance(b, self, ep)
	}), nil
}

type instance struct {
	self broker.Handle
	ep   Entrypoint

	conn *amqp.Connection
	ch   *amqp.Channel

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newInstance(b *broker.Broker, self broker.Handle, ep Entrypoint) (*instance, error) {
	conn, err := amqp.Dial(ep.URI)
	if err != nil {
		return nil, fmt.Errorf("rabbitmqloader: dial %q: %w", ep.URI, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmqloader: open channel: %w", err)
	}
	if err := ch.Qos(ep.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmqloader: set qos: %w", err)
	}

	i := &instance{self: self, ep: ep, conn: conn, ch: ch, done: make(chan struct{})}
	logger := log.WithModule("rabbitmqloader", self.String())

	if ep.PublishQueue != "" {
		if _, err := ch.QueueDeclare(ep.PublishQueue, true, false, false, false, nil); err != nil {
			i.Destroy()
			return nil, fmt.Errorf("rabbitmqloader: declare publish queue %q: %w", ep.PublishQueue, err)
		}
	}

	if ep.ConsumeQueue != "" {
		if _, err := ch.QueueDeclare(ep.ConsumeQueue, true, false, false, false, nil); err != nil {
			i.Destroy()
			return nil, fmt.Errorf("rabbitmqloader: declare consume queue %q: %w", ep.ConsumeQueue, err)
		}
		deliveries, err := ch.Consume(ep.ConsumeQueue, "", false, false, false, false, nil)
		if err != nil {
			i.Destroy()
			return nil, fmt.Errorf("rabbitmqloader: consume %q: %w", ep.ConsumeQueue, err)
		}
		go i.consumeLoop(b, deliveries, logger)
	}

	return i, nil
}

// consumeLoop forwards every inbound delivery into the broker via
// Publish(self, ...), acking on success and nacking (without requeue)
// on failure, until the delivery channel closes on Destroy.
func (i *instance) consumeLoop(b *broker.Broker, deliveries <-chan amqp.Delivery, logger zerolog.Logger) {
	for d := range deliveries {
		msg := message.New(d.Body, amqpHeaders(d.Headers))
		if err := b.Publish(i.self, msg); err != nil {
			logger.Warn().Err(err).Msg("publish inbound rabbitmq message into broker")
			d.Nack(false, false)
			continue
		}
		d.Ack(false)
	}
}

func amqpHeaders(t amqp.Table) map[string]string {
	if len(t) == 0 {
		return nil
	}
	out := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func (i *instance) Receive(msg message.Message) {
	if i.ep.PublishQueue == "" {
		return
	}
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	ch := i.ch
	i.mu.Unlock()

	headers := amqp.Table{}
	for k, v := range msg.Properties() {
		headers[k] = v
	}
	if err := ch.Publish("", i.ep.PublishQueue, false, false, amqp.Publishing{
		Body:    msg.Content(),
		Headers: headers,
	}); err != nil {
		log.WithModule("rabbitmqloader", i.self.String()).Warn().Err(err).Msg("publish outbound message to rabbitmq")
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
	close(i.done)

	i.ch.Close()
	i.conn.Close()
}
