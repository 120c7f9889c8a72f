package securechannel

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/barnettlynn/atvpair/aead"
)

// MRPChannel implements MRP's varint-length-prefixed secure channel:
// a base-128 varint byte count followed directly by the
// ChaCha20-Poly1305 ciphertext, with no associated data. MRP uses the
// 8-byte-counter nonce variant.
type MRPChannel struct {
	cipher *aead.Cipher
	in     reassembler
}

// NewMRPChannel constructs a channel that passes frames through
// unencrypted until Enable is called.
func NewMRPChannel() *MRPChannel { return &MRPChannel{} }

// Enable switches the channel to encrypted mode. There is no
// downgrade back to plaintext.
func (c *MRPChannel) Enable(cipher *aead.Cipher) { c.cipher = cipher }

// Encrypt frames plaintext with a varint length prefix.
func (c *MRPChannel) Encrypt(plaintext []byte) []byte {
	body := plaintext
	if c.cipher != nil {
		body = c.cipher.Encrypt(plaintext, nil)
	}
	return append(protowire.AppendVarint(nil, uint64(len(body))), body...)
}

// Feed appends newly received bytes to the channel's reassembly
// buffer.
func (c *MRPChannel) Feed(data []byte) { c.in.feed(data) }

// Next pops one complete frame, if one is available. ok is false when
// more bytes are needed.
func (c *MRPChannel) Next() (plaintext []byte, ok bool, err error) {
	buf := c.in.bytes()
	length, n := protowire.ConsumeVarint(buf)
	if n <= 0 {
		return nil, false, nil
	}
	frameLen := n + int(length)
	if len(buf) < frameLen {
		return nil, false, nil
	}
	body := buf[n:frameLen]

	if c.cipher == nil {
		plaintext = append([]byte(nil), body...)
		c.in.advance(frameLen)
		return plaintext, true, nil
	}
	plaintext, err = c.cipher.Decrypt(body, nil)
	if err != nil {
		return nil, false, err
	}
	c.in.advance(frameLen)
	return plaintext, true, nil
}
