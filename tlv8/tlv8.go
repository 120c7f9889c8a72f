// Package tlv8 implements Apple's tag-length-value wire format: a
// 1-byte tag, a 1-byte length, and up to 255 bytes of payload per
// record, with values longer than 255 bytes fragmented across
// consecutive records sharing the same tag.
package tlv8

import (
	"bytes"
	"fmt"
)

const maxChunk = 255

// Tag identifies a TLV8 record. The well-known tags are listed below;
// higher-level packages may define their own within the same space.
type Tag byte

// Known tags shared by Pair-Setup and Pair-Verify (spec.md §3).
const (
	TagMethod        Tag = 0x00
	TagIdentifier    Tag = 0x01
	TagSalt          Tag = 0x02
	TagPublicKey     Tag = 0x03
	TagProof         Tag = 0x04
	TagEncryptedData Tag = 0x05
	TagSeqNo         Tag = 0x06
	TagError         Tag = 0x07
	TagBackOff       Tag = 0x08
	TagCertificate   Tag = 0x09
	TagSignature     Tag = 0x0A
	TagPermissions   Tag = 0x0B
	TagFragmentData  Tag = 0x0C
	TagFragmentLast  Tag = 0x0D
	TagName          Tag = 0x11
	TagFlags         Tag = 0x13
)

// Map is an ordered multimap from tag to reassembled value. Go maps
// don't preserve insertion order, so Map tracks it alongside.
type Map struct {
	values map[Tag][]byte
	order  []Tag
}

// NewMap returns an empty, ready-to-use Map.
func NewMap() *Map {
	return &Map{values: make(map[Tag][]byte)}
}

// Set assigns value to tag, appending tag to the insertion order only
// the first time it is seen.
func (m *Map) Set(tag Tag, value []byte) *Map {
	if _, ok := m.values[tag]; !ok {
		m.order = append(m.order, tag)
	}
	m.values[tag] = value
	return m
}

// SetByte is a convenience for the common single-byte enum fields
// (Method, SeqNo, Error, Flags).
func (m *Map) SetByte(tag Tag, b byte) *Map {
	return m.Set(tag, []byte{b})
}

// Get returns the reassembled value for tag and whether it was present.
func (m *Map) Get(tag Tag) ([]byte, bool) {
	v, ok := m.values[tag]
	return v, ok
}

// GetByte returns the first byte of tag's value, for single-byte fields.
func (m *Map) GetByte(tag Tag) (byte, bool) {
	v, ok := m.values[tag]
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

// Tags returns the tags present, in first-occurrence order.
func (m *Map) Tags() []Tag {
	return append([]Tag(nil), m.order...)
}

// Encode serializes m into TLV8 bytes. For each tag in insertion
// order, values are split into chunks of at most 255 bytes and emitted
// as consecutive tag||len||chunk records; a zero-length value emits a
// single record with len=0.
func Encode(m *Map) []byte {
	var buf bytes.Buffer
	for _, tag := range m.order {
		v := m.values[tag]
		if len(v) == 0 {
			buf.WriteByte(byte(tag))
			buf.WriteByte(0)
			continue
		}
		for off := 0; off < len(v); off += maxChunk {
			end := off + maxChunk
			if end > len(v) {
				end = len(v)
			}
			chunk := v[off:end]
			buf.WriteByte(byte(tag))
			buf.WriteByte(byte(len(chunk)))
			buf.Write(chunk)
		}
	}
	return buf.Bytes()
}

// Decode parses TLV8 bytes into a Map, reassembling contiguous runs of
// the same tag into a single value. It returns a *ProtocolError if the
// input is truncated mid-record.
func Decode(data []byte) (*Map, error) {
	m := NewMap()
	i := 0
	for i < len(data) {
		if i+2 > len(data) {
			return nil, &ProtocolError{Reason: "truncated TLV8 header"}
		}
		tag := Tag(data[i])
		length := int(data[i+1])
		i += 2
		if i+length > len(data) {
			return nil, &ProtocolError{Reason: "truncated TLV8 payload"}
		}
		chunk := data[i : i+length]
		i += length

		if existing, ok := m.values[tag]; ok && len(m.order) > 0 && m.order[len(m.order)-1] == tag {
			m.values[tag] = append(existing, chunk...)
		} else {
			m.Set(tag, append([]byte(nil), chunk...))
		}
	}
	return m, nil
}

// ProtocolError reports a TLV8 framing violation.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tlv8: %s", e.Reason)
}
