// Package securechannel implements the three frame-level encrypted
// transports that sit on top of the AEAD cipher once Pair-Verify
// completes: HAP (2-byte length, length-as-AAD), Companion (4-byte
// type+length header, header-as-AAD), and MRP (varint length prefix,
// no AAD). Before Pair-Verify completes, frames pass through
// unencrypted; once a channel is Enable()d there is no downgrade.
package securechannel

import (
	"fmt"

	"github.com/barnettlynn/atvpair/aead"
)

// FrameType enumerates the Companion framing's fixed type byte.
type FrameType byte

const (
	FrameNoOp           FrameType = 1
	FramePSStart        FrameType = 3
	FramePSNext         FrameType = 4
	FramePVStart        FrameType = 5
	FramePVNext         FrameType = 6
	FrameUOPACK         FrameType = 7
	FrameEOPACK         FrameType = 8
	FramePOPACK         FrameType = 9
	FrameSessionStart   FrameType = 16
	FrameSessionData    FrameType = 17
	FrameSessionStartAt FrameType = 18
	FrameFamilyIdentity FrameType = 32
)

// ProtocolError reports a framing violation: a truncated header, a
// length prefix that disagrees with the available data, or any shape
// that is not recoverable by waiting for more bytes.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("securechannel: %s", e.Reason) }

// reassembler accumulates inbound bytes across arbitrary TCP
// segmentation; each framing's Feed/Next pair pops complete frames
// and retains partial ones for the next delivery.
type reassembler struct {
	buf []byte
}

func (r *reassembler) feed(data []byte) {
	r.buf = append(r.buf, data...)
}

func (r *reassembler) bytes() []byte { return r.buf }

func (r *reassembler) advance(n int) { r.buf = r.buf[n:] }
