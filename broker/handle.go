package broker

import (
	"encoding/binary"

	"github.com/modbroker/gwbroker/wire"
)

// Handle is the opaque, stable identity of a module within a Broker
// (spec §3 ModuleHandle). Two handles compare equal iff they refer to
// the same module entry; the zero value is never returned by AddModule
// and is reserved to mean "no handle" (e.g. publish with a null source).
type Handle struct {
	id uint64
}

// Valid reports whether h was returned by a successful AddModule.
func (h Handle) Valid() bool { return h.id != 0 }

// bytes renders the handle as the fixed-width prefix used for wire
// subscriptions and frame headers (wire.HandleSize bytes, big-endian).
func (h Handle) bytes() [wire.HandleSize]byte {
	var b [wire.HandleSize]byte
	binary.BigEndian.PutUint64(b[:], h.id)
	return b
}

// String renders the handle for logging.
func (h Handle) String() string {
	if !h.Valid() {
		return "handle(nil)"
	}
	b := h.bytes()
	return "handle(" + hex(b[:]) + ")"
}

func hex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
