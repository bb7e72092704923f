package broker

import (
	"github.com/modbroker/gwbroker/message"
	"github.com/modbroker/gwbroker/wire"
)

// runWireWorker is the WIRE-path module worker (spec §4.2): running ->
// draining -> exited. It blocks on the entry's subscribe endpoint,
// exits on a receive error or the module's own quit token, and
// otherwise decodes the frame and dispatches to the module's Receive
// callback (through any registered middleware).
func (b *Broker) runWireWorker(entry *moduleEntry) {
	defer close(entry.wireWorkerDone)

	dispatch := chain(func(h Handle, msg message.Message) error {
		entry.instance.Receive(msg)
		return nil
	}, b.middlewareSnapshot())

	for {
		frame, err := entry.wireSub.Recv()
		if err != nil {
			b.logger.Debug().Str("module", entry.handle.String()).Err(err).Msg("wire worker exiting on receive error")
			return
		}

		if string(frame) == entry.quitToken {
			b.logger.Debug().Str("module", entry.handle.String()).Msg("wire worker received quit token")
			return
		}

		handleBytes, payload, err := wire.DecodeFrame(frame)
		if err != nil {
			b.logger.Warn().Str("module", entry.handle.String()).Err(err).Msg("dropping malformed wire frame")
			continue
		}
		msg, err := message.Decode(payload)
		if err != nil {
			b.logger.Warn().Str("module", entry.handle.String()).Err(err).Msg("dropping undecodable message")
			continue
		}

		source := handleFromBytes(handleBytes)
		b.logger.Debug().Str("module", entry.handle.String()).Str("source", source.String()).Msg("wire frame delivered")
		if err := dispatch(entry.handle, msg); err != nil {
			b.logger.Error().Str("module", entry.handle.String()).Err(err).Msg("receive callback returned error")
		}
	}
}

// runDirectWorker is the DIRECT-path module worker (spec §4.3). It owns
// no lock across the Receive callback: direct.drain() detaches every
// pending envelope across every inbound link under the receiver lock,
// releases it, and only then invokes Receive for each envelope.
func (b *Broker) runDirectWorker(entry *moduleEntry) {
	defer close(entry.directWorkerDone)

	dispatch := chain(func(h Handle, msg message.Message) error {
		entry.instance.Receive(msg)
		return nil
	}, b.middlewareSnapshot())

	for {
		envelopes, ok := entry.direct.drain()
		if !ok {
			b.logger.Debug().Str("module", entry.handle.String()).Msg("direct worker exiting")
			return
		}
		for _, msg := range envelopes {
			if err := dispatch(entry.handle, msg); err != nil {
				b.logger.Error().Str("module", entry.handle.String()).Err(err).Msg("receive callback returned error")
			}
		}
	}
}

func handleFromBytes(b [wire.HandleSize]byte) Handle {
	var h Handle
	for _, c := range b {
		h.id = h.id<<8 | uint64(c)
	}
	return h
}
