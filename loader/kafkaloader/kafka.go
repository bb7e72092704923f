// Package kafkaloader bridges OUT_OF_PROCESS modules reachable over
// Apache Kafka, adapted from the teacher's plugins/kafka package: one
// writer when the entrypoint names a publish topic and one reader when
// it names a consume topic, per bridged module.
package kafkaloader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/modbroker/gwbroker/broker"
	"github.com/modbroker/gwbroker/log"
	"github.com/modbroker/gwbroker/loader"
	"github.com/modbroker/gwbroker/message"
)

// Entrypoint is the loader-specific JSON a declaration carries for a
// module assigned to this loader.
type Entrypoint struct {
	Brokers      []string `json:"brokers"`
	PublishTopic string   `json:"publish_topic"`
	ConsumeTopic string   `json:"consume_topic"`
	GroupID      string   `json:"group_id"`
}

// Loader implements loader.Loader for Kafka-bridged modules.
type Loader struct{}

func New() *Loader { return &Loader{} }

func (l *Loader) Name() string      { return "kafka" }
func (l *Loader) Kind() loader.Type { return loader.OutOfProcess }

func (l *Loader) ParseConfig(args []byte) (any, error) { return args, nil }

func (l *Loader) Load(entrypoint []byte) (broker.Factory, error) {
	var ep Entrypoint
	if err := json.Unmarshal(entrypoint, &ep); err != nil {
		return nil, fmt.Errorf("kafkaloader: parse entrypoint: %w", err)
	}
	if len(ep.Brokers) == 0 {
		return nil, fmt.Errorf("kafkaloader: entrypoint missing brokers")
	}

	return broker.FactoryFunc(func(b *broker.Broker, self broker.Handle, cfg any) (broker.Instance, error) {
		return newInstance(b, self, ep)
	}), nil
}

type instance struct {
	self broker.Handle
	ep   Entrypoint

	writer *kafka.Writer
	reader *kafka.Reader

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newInstance(b *broker.Broker, self broker.Handle, ep Entrypoint) (*instance, error) {
	i := &instance{self: self, ep: ep}
	logger := log.WithModule("kafkaloader", self.String())

	if ep.PublishTopic != "" {
		i.writer = &kafka.Writer{
			Addr:         kafka.TCP(ep.Brokers...),
			Topic:        ep.PublishTopic,
			RequiredAcks: kafka.RequireAll,
		}
	}

	if ep.ConsumeTopic != "" {
		i.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: ep.Brokers,
			Topic:   ep.ConsumeTopic,
			GroupID: ep.GroupID,
		})

		ctx, cancel := context.WithCancel(context.Background())
		i.cancel = cancel
		i.wg.Add(1)
		go i.consumeLoop(ctx, b, logger)
	}

	return i, nil
}

// consumeLoop fetches messages and forwards each into the broker,
// committing the offset only once Publish has accepted it.
func (i *instance) consumeLoop(ctx context.Context, b *broker.Broker, logger zerolog.Logger) {
	defer i.wg.Done()
	for {
		raw, err := i.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("fetch kafka message")
			return
		}

		msg := message.New(raw.Value, kafkaHeaders(raw.Headers))
		if err := b.Publish(i.self, msg); err != nil {
			logger.Warn().Err(err).Msg("publish inbound kafka message into broker")
			continue
		}
		if err := i.reader.CommitMessages(ctx, raw); err != nil {
			logger.Warn().Err(err).Msg("commit kafka offset")
		}
	}
}

func (i *instance) Receive(msg message.Message) {
	if i.writer == nil {
		return
	}
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()

	km := kafka.Message{Value: msg.Content(), Headers: toKafkaHeaders(msg.Properties())}
	if err := i.writer.WriteMessages(context.Background(), km); err != nil {
		log.WithModule("kafkaloader", i.self.String()).Warn().Err(err).Msg("publish outbound message to kafka")
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

	if i.cancel != nil {
		i.cancel()
	}
	if i.reader != nil {
		i.reader.Close()
	}
	i.wg.Wait()
	if i.writer != nil {
		i.writer.Close()
	}
}

func kafkaHeaders(h []kafka.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for _, kv := range h {
		out[kv.Key] = string(kv.Value)
	}
	return out
}

func toKafkaHeaders(props map[string]string) []kafka.Header {
	if len(props) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(props))
	for k, v := range props {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
