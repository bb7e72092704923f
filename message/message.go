// Package message defines the broker-agnostic message value type that
// flows across every link in a gwbroker gateway.
package message

import (
	"encoding/binary"
	"fmt"
	"maps"
)

// Message is an immutable envelope: opaque payload bytes plus a
// string-to-string property map. It is the only value type that crosses
// a Link, whether over the wire endpoint or a direct queue.
//
// Construct with New; once built, a Message is never mutated in place —
// Clone produces an independent copy and the broker always hands
// receivers their own clone.
type Message struct {
	content    []byte
	properties map[string]string
}

// New builds a Message, copying content and properties so the caller's
// buffers remain free to reuse.
func New(content []byte, properties map[string]string) Message {
	m := Message{}
	if content != nil {
		m.content = append([]byte(nil), content...)
	}
	if len(properties) > 0 {
		m.properties = maps.Clone(properties)
	}
	return m
}

// Content returns the payload bytes. Callers must not mutate the
// returned slice.
func (m Message) Content() []byte { return m.content }

// Property looks up a single property by key.
func (m Message) Property(key string) (string, bool) {
	v, ok := m.properties[key]
	return v, ok
}

// Properties returns a copy of the property map.
func (m Message) Properties() map[string]string {
	return maps.Clone(m.properties)
}

// Clone returns an independent deep copy of m.
func (m Message) Clone() Message {
	return New(m.content, m.properties)
}

// Equal reports whether m and other have identical content and
// properties. Used by tests asserting the round-trip law in spec §8.
func (m Message) Equal(other Message) bool {
	if len(m.content) != len(other.content) {
		return false
	}
	for i := range m.content {
		if m.content[i] != other.content[i] {
			return false
		}
	}
	if len(m.properties) != len(other.properties) {
		return false
	}
	for k, v := range m.properties {
		if ov, ok := other.properties[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// wire layout for Encode/Decode:
//
//	[ uint32 contentLen | content | uint32 propCount | (uint32 keyLen | key | uint32 valLen | val)* ]
//
// All integers are big-endian, matching the wire frame's size prefix
// (see wire.EncodeFrame) so a single endianness choice holds across the module.
func (m Message) Encode() []byte {
	size := 4 + len(m.content) + 4
	for k, v := range m.properties {
		size += 4 + len(k) + 4 + len(v)
	}

	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(len(m.content)))
	off += 4
	off += copy(buf[off:], m.content)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(m.properties)))
	off += 4
	for k, v := range m.properties {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(k)))
		off += 4
		off += copy(buf[off:], k)
		binary.BigEndian.PutUint32(buf[off:], uint32(len(v)))
		off += 4
		off += copy(buf[off:], v)
	}
	return buf
}

// Decode parses the byte layout written by Encode. It never aliases the
// input slice.
func Decode(data []byte) (Message, error) {
	if len(data) < 8 {
		return Message{}, fmt.Errorf("message: decode: frame too short (%d bytes)", len(data))
	}
	off := 0
	contentLen := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if off+contentLen > len(data) {
		return Message{}, fmt.Errorf("message: decode: content length %d exceeds frame", contentLen)
	}
	content := data[off : off+contentLen]
	off += contentLen

	if off+4 > len(data) {
		return Message{}, fmt.Errorf("message: decode: truncated property count")
	}
	propCount := int(binary.BigEndian.Uint32(data[off:]))
	off += 4

	var props map[string]string
	if propCount > 0 {
		props = make(map[string]string, propCount)
	}
	for i := 0; i < propCount; i++ {
		if off+4 > len(data) {
			return Message{}, fmt.Errorf("message: decode: truncated key length at property %d", i)
		}
		keyLen := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		if off+keyLen > len(data) {
			return Message{}, fmt.Errorf("message: decode: truncated key at property %d", i)
		}
		key := string(data[off : off+keyLen])
		off += keyLen

		if off+4 > len(data) {
			return Message{}, fmt.Errorf("message: decode: truncated value length at property %d", i)
		}
		valLen := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		if off+valLen > len(data) {
			return Message{}, fmt.Errorf("message: decode: truncated value at property %d", i)
		}
		props[key] = string(data[off : off+valLen])
		off += valLen
	}

	return New(content, props), nil
}
