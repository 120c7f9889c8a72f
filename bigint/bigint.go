// Package bigint provides the fixed-width big-integer helpers SRP needs:
// modular exponentiation and N-padded big-endian byte conversions.
package bigint

import (
	"crypto/sha512"
	"math/big"
)

// PadToLen returns n's unsigned big-endian encoding, left-padded with
// zero bytes to exactly size bytes. n must fit in size bytes.
func PadToLen(n *big.Int, size int) []byte {
	b := n.Bytes()
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// FromBytes is a thin wrapper over big.Int.SetBytes for callers that
// want to keep all big.Int construction in one place.
func FromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// ModExp computes base^exp mod m.
func ModExp(base, exp, m *big.Int) *big.Int {
	return new(big.Int).Exp(base, exp, m)
}

// SHA512 hashes the concatenation of parts and returns the 64-byte digest.
func SHA512(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SHA512Int hashes the concatenation of parts and returns the digest
// interpreted as an unsigned big-endian integer.
func SHA512Int(parts ...[]byte) *big.Int {
	return FromBytes(SHA512(parts...))
}
