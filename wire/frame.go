// Package wire implements the broker's inproc publish/subscribe transport:
// a single pub endpoint per Broker, one sub endpoint per module, framed
// messages keyed by a fixed-size source handle prefix.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HandleSize is the fixed width, in bytes, of the source-handle prefix
// used both as the wire frame header and as the pub/sub subscription
// key. Prefix matching (subscribe to the first HandleSize bytes of a
// frame) is exactly how the original nanomsg-backed broker routed
// messages; mangos' SUB socket performs the same byte-prefix match.
const HandleSize = 8

// sizePrefixLen is the width of the big-endian length field that
// follows the handle prefix. Fixed to network byte order: once a wire
// frame can cross a goroutine/OS-process boundary (an OUT_OF_PROCESS
// loader bridging to NATS/Kafka/RabbitMQ), host order is meaningless.
const sizePrefixLen = 4

// EncodeFrame builds [ handleBytes | big-endian uint32 size | payload ].
func EncodeFrame(handleBytes [HandleSize]byte, payload []byte) []byte {
	buf := make([]byte, HandleSize+sizePrefixLen+len(payload))
	copy(buf, handleBytes[:])
	binary.BigEndian.PutUint32(buf[HandleSize:], uint32(len(payload)))
	copy(buf[HandleSize+sizePrefixLen:], payload)
	return buf
}

// DecodeFrame splits a raw frame back into its source-handle prefix and
// payload, validating the embedded length against the actual frame size.
func DecodeFrame(frame []byte) (handleBytes [HandleSize]byte, payload []byte, err error) {
	if len(frame) < HandleSize+sizePrefixLen {
		return handleBytes, nil, fmt.Errorf("wire: frame too short (%d bytes)", len(frame))
	}
	copy(handleBytes[:], frame[:HandleSize])
	size := binary.BigEndian.Uint32(frame[HandleSize:])
	want := HandleSize + sizePrefixLen + int(size)
	if want != len(frame) {
		return handleBytes, nil, fmt.Errorf("wire: declared payload size %d does not match frame length %d", size, len(frame))
	}
	payload = frame[HandleSize+sizePrefixLen:]
	return handleBytes, payload, nil
}
