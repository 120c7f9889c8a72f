// Package aead wraps ChaCha20-Poly1305 with the per-direction counter
// nonce conventions used by the secure-channel framings: an 8-byte or
// 12-byte counter embedded in the low or high end of the 12-byte
// ChaCha20 nonce, plus an explicit-nonce escape hatch for the one-shot
// messages exchanged during pairing.
package aead

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceWidth selects where the counter sits inside the 12-byte ChaCha20
// nonce. Width8 leaves the first 4 bytes zero and writes the counter at
// offset 4; Width12 writes the counter at offset 0 and leaves the last
// 4 bytes zero.
type NonceWidth int

const (
	Width8 NonceWidth = 8
	Width12 NonceWidth = 12
)

// AuthenticationError reports a Poly1305 tag mismatch.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string { return fmt.Sprintf("aead: %s", e.Reason) }

// Cipher pairs a ChaCha20-Poly1305 AEAD with a per-direction counter.
// The counter is never exposed to callers; Encrypt/Decrypt advance it
// automatically, and ExplicitNonce variants bypass it entirely.
type Cipher struct {
	outAEAD cipher.AEAD
	inAEAD  cipher.AEAD
	width   NonceWidth
	outCtr  uint64
	inCtr   uint64
}

// New constructs a Cipher. outKey encrypts (Encrypt), inKey decrypts
// (Decrypt); for a symmetric session the caller passes the same key
// for both directions, or swapped keys for the peer's Cipher.
func New(outKey, inKey []byte, width NonceWidth) (*Cipher, error) {
	outAEAD, err := chacha20poly1305.New(outKey)
	if err != nil {
		return nil, fmt.Errorf("aead: output key: %w", err)
	}
	inAEAD, err := chacha20poly1305.New(inKey)
	if err != nil {
		return nil, fmt.Errorf("aead: input key: %w", err)
	}
	return &Cipher{outAEAD: outAEAD, inAEAD: inAEAD, width: width}, nil
}

func counterNonce(width NonceWidth, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	switch width {
	case Width8:
		binary.LittleEndian.PutUint64(nonce[4:], counter)
	case Width12:
		binary.LittleEndian.PutUint64(nonce[0:8], counter)
	}
	return nonce
}

func explicitNonce(n []byte) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[chacha20poly1305.NonceSize-len(n):], n)
	return nonce
}

// Encrypt seals plaintext with the auto-incrementing output counter
// and returns ciphertext||tag. aad may be nil.
func (c *Cipher) Encrypt(plaintext, aad []byte) []byte {
	nonce := counterNonce(c.width, c.outCtr)
	c.outCtr++
	return c.outAEAD.Seal(nil, nonce, plaintext, aad)
}

// EncryptExplicit seals plaintext with a caller-supplied nonce
// (right-packed into the 12-byte field) and does not advance the
// output counter.
func (c *Cipher) EncryptExplicit(nonce, plaintext, aad []byte) []byte {
	return c.outAEAD.Seal(nil, explicitNonce(nonce), plaintext, aad)
}

// Decrypt opens ciphertext||tag with the auto-incrementing input
// counter.
func (c *Cipher) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	nonce := counterNonce(c.width, c.inCtr)
	plaintext, err := c.inAEAD.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, &AuthenticationError{Reason: "tag verification failed"}
	}
	c.inCtr++
	return plaintext, nil
}

// DecryptExplicit opens ciphertext||tag with a caller-supplied nonce
// and does not advance the input counter.
func (c *Cipher) DecryptExplicit(nonce, ciphertext, aad []byte) ([]byte, error) {
	plaintext, err := c.inAEAD.Open(nil, explicitNonce(nonce), ciphertext, aad)
	if err != nil {
		return nil, &AuthenticationError{Reason: "tag verification failed"}
	}
	return plaintext, nil
}
