// Package pairing implements the transport-independent Pair-Setup and
// Pair-Verify state machines shared by HAP, MRP, Companion and RAOP.
// Each step is a tlv8.Map; callers hand that Map to whichever carrier
// façade (AirPlay HTTP, MRP protobuf, Companion OPACK) wraps it for
// the wire and hand the reply back in.
package pairing

import (
	"fmt"

	"github.com/barnettlynn/atvpair/pairerr"
	"github.com/barnettlynn/atvpair/tlv8"
)

// Message is one Pair-Setup/Pair-Verify step, independent of any
// transport framing.
type Message = tlv8.Map

// Method values for the TagMethod field of M1.
const (
	MethodPairSetup         byte = 0x00
	MethodPairVerify        byte = 0x01
	MethodAddPairing        byte = 0x02
	MethodRemovePairing     byte = 0x03
	MethodListPairings      byte = 0x04
	MethodPairSetupWithAuth byte = 0x06
)

// SeqNo values for the TagSeqNo field.
const (
	SeqM1 byte = 0x01
	SeqM2 byte = 0x02
	SeqM3 byte = 0x03
	SeqM4 byte = 0x04
	SeqM5 byte = 0x05
	SeqM6 byte = 0x06
)

// FlagTransient requests an ephemeral (non-persisted) Pair-Setup.
const FlagTransient byte = 0x10

// ErrorCode is the accessory's TLV Error (0x07) payload.
type ErrorCode byte

const (
	ErrorUnknown        ErrorCode = 1
	ErrorAuthentication ErrorCode = 2
	ErrorBackOff        ErrorCode = 3
	ErrorMaxPeers       ErrorCode = 4
	ErrorMaxTries       ErrorCode = 5
	ErrorUnavailable    ErrorCode = 6
	ErrorBusy           ErrorCode = 7
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknown:
		return "Unknown"
	case ErrorAuthentication:
		return "Authentication"
	case ErrorBackOff:
		return "BackOff"
	case ErrorMaxPeers:
		return "MaxPeers"
	case ErrorMaxTries:
		return "MaxTries"
	case ErrorUnavailable:
		return "Unavailable"
	case ErrorBusy:
		return "Busy"
	default:
		return fmt.Sprintf("ErrorCode(%d)", byte(c))
	}
}

// checkError inspects msg for a TagError tag and, if present, returns
// a *pairerr.Error classified per §7: BackOff/MaxTries/MaxPeers/Busy
// map to Pairing, Authentication maps to Authentication, and every
// other code also maps to Pairing.
func checkError(step string, msg Message) error {
	v, ok := msg.Get(tlv8.TagError)
	if !ok || len(v) == 0 {
		return nil
	}
	code := ErrorCode(v[0])
	diagnostic := fmt.Sprintf("accessory reported %s (%s)", code, tlv8.Stringify(msg))
	switch code {
	case ErrorAuthentication:
		return pairerr.New(pairerr.Authentication, step, diagnostic)
	case ErrorBackOff, ErrorMaxTries, ErrorMaxPeers, ErrorBusy:
		return pairerr.New(pairerr.Pairing, step, diagnostic)
	default:
		return pairerr.New(pairerr.Pairing, step, diagnostic)
	}
}
