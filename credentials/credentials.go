// Package credentials models the long-term pairing material produced
// by Pair-Setup and consumed by Pair-Verify, in its four variants and
// its portable colon-joined hex string form.
package credentials

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/barnettlynn/atvpair/pairerr"
)

// Variant identifies which of the four populated-field combinations a
// Credentials value is.
type Variant int

const (
	Null Variant = iota
	Transient
	Legacy
	HAP
)

func (v Variant) String() string {
	switch v {
	case Null:
		return "Null"
	case Transient:
		return "Transient"
	case Legacy:
		return "Legacy"
	case HAP:
		return "HAP"
	default:
		return "Unknown"
	}
}

// transientSentinel is the literal LTPK value that marks a Transient
// (ephemeral HAP) session.
var transientSentinel = []byte("transient")

// Credentials is long-term pairing material. The populated subset of
// its four fields determines its Variant; Variant is always derived,
// never stored.
type Credentials struct {
	LTPK     []byte // accessory Ed25519 public key, 32 bytes for HAP
	LTSK     []byte // controller Ed25519 private seed, 32 bytes
	AtvId    []byte // accessory identifier
	ClientId []byte // controller identifier
}

// Variant classifies c by which fields are populated. Callers should
// validate with Validate before trusting the result for anything other
// than display.
func (c Credentials) Variant() Variant {
	switch {
	case len(c.LTPK) == 0 && len(c.LTSK) == 0 && len(c.AtvId) == 0 && len(c.ClientId) == 0:
		return Null
	case bytes.Equal(c.LTPK, transientSentinel):
		return Transient
	case len(c.LTSK) > 0 && len(c.ClientId) > 0 && len(c.LTPK) == 0 && len(c.AtvId) == 0:
		return Legacy
	case len(c.LTPK) > 0 && len(c.LTSK) > 0 && len(c.AtvId) > 0 && len(c.ClientId) > 0:
		return HAP
	default:
		return -1
	}
}

// Validate rejects any field combination that isn't one of the four
// defined variants.
func (c Credentials) Validate() error {
	if c.Variant() == -1 {
		return pairerr.New(pairerr.InvalidCredentials, "parse", "inconsistent field population")
	}
	return nil
}

// NewTransient builds the Transient sentinel Credentials.
func NewTransient() Credentials {
	return Credentials{LTPK: append([]byte(nil), transientSentinel...)}
}

// String renders the portable form: four lowercase hex fields joined
// by ":" for HAP, two fields ("clientId:ltsk") for Legacy, "transient"
// for Transient, "" for Null.
func (c Credentials) String() string {
	switch c.Variant() {
	case Null:
		return ""
	case Transient:
		return "transient"
	case Legacy:
		return hex.EncodeToString(c.ClientId) + ":" + hex.EncodeToString(c.LTSK)
	case HAP:
		return strings.Join([]string{
			hex.EncodeToString(c.LTPK),
			hex.EncodeToString(c.LTSK),
			hex.EncodeToString(c.AtvId),
			hex.EncodeToString(c.ClientId),
		}, ":")
	default:
		return ""
	}
}

// Parse decodes the portable string form. An empty string (or "null")
// produces Null. "transient" produces the Transient sentinel. Two
// colon-separated hex fields produce Legacy (clientId:ltsk); four
// produce HAP (ltpk:ltsk:atvId:clientId). Any other shape, or hex that
// fails to decode, raises InvalidCredentials.
func Parse(s string) (Credentials, error) {
	if s == "" || s == "null" {
		return Credentials{}, nil
	}
	if s == "transient" {
		return NewTransient(), nil
	}

	fields := strings.Split(s, ":")
	decoded := make([][]byte, len(fields))
	for i, f := range fields {
		b, err := hex.DecodeString(f)
		if err != nil {
			return Credentials{}, pairerr.Wrap(pairerr.InvalidCredentials, "parse", err)
		}
		decoded[i] = b
	}

	switch len(decoded) {
	case 2:
		c := Credentials{ClientId: decoded[0], LTSK: decoded[1]}
		return c, c.Validate()
	case 4:
		c := Credentials{LTPK: decoded[0], LTSK: decoded[1], AtvId: decoded[2], ClientId: decoded[3]}
		return c, c.Validate()
	default:
		return Credentials{}, pairerr.New(pairerr.InvalidCredentials, "parse", "expected 2 or 4 colon-separated fields")
	}
}
