// Package opack implements Apple's compact binary object serialization
// used by the Companion protocol: booleans, nil, UUIDs, absolute
// times, width-hinted integers, floats, UTF-8 strings, byte strings,
// arrays, dictionaries and back-references into a shared object table.
package opack

import "fmt"

// Int is an OPACK integer. Width is 0 for the compact "small integer"
// form (0..39, inline in the tag byte) or one of {1,2,4,8} to force an
// explicit-width encoding; Unpack always reports which form a value
// arrived in so re-encoding reproduces the identical bytes.
type Int struct {
	Value uint64
	Width int
}

// AbsoluteTime is OPACK's tag-0x06 64-bit value, treated by this
// package as an uninterpreted integer (no epoch/unit is assumed).
type AbsoluteTime uint64

// TypeError reports an unrecognized or misused OPACK tag byte.
type TypeError struct {
	Reason string
}

func (e *TypeError) Error() string { return fmt.Sprintf("opack: %s", e.Reason) }

// ProtocolError reports truncated or otherwise malformed OPACK input.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("opack: %s", e.Reason) }
