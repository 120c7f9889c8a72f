package securechannel

import (
	"encoding/binary"

	"github.com/barnettlynn/atvpair/aead"
)

// hapMaxFrame is the largest plaintext chunk HAP framing will encrypt
// as a single frame; longer writes are split across multiple frames.
const hapMaxFrame = 1024

// HAPChannel implements AirPlay's length-framed secure channel: each
// frame is a 2-byte little-endian length, the ChaCha20-Poly1305
// ciphertext, and its 16-byte tag, with the length bytes themselves
// serving as the AAD.
type HAPChannel struct {
	cipher *aead.Cipher
	in     reassembler
}

// NewHAPChannel constructs a channel that passes frames through
// unencrypted until Enable is called.
func NewHAPChannel() *HAPChannel { return &HAPChannel{} }

// Enable switches the channel to encrypted mode. There is no
// downgrade back to plaintext.
func (c *HAPChannel) Enable(cipher *aead.Cipher) { c.cipher = cipher }

// Encrypt splits plaintext into ≤1024-byte chunks and frames each one.
// Before Enable, it returns plaintext chunks with a plain length
// prefix and no tag.
func (c *HAPChannel) Encrypt(plaintext []byte) []byte {
	var out []byte
	for len(plaintext) > 0 {
		n := len(plaintext)
		if n > hapMaxFrame {
			n = hapMaxFrame
		}
		chunk := plaintext[:n]
		plaintext = plaintext[n:]

		lenBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenBytes, uint16(n))
		out = append(out, lenBytes...)
		if c.cipher == nil {
			out = append(out, chunk...)
			continue
		}
		out = append(out, c.cipher.Encrypt(chunk, lenBytes)...)
	}
	return out
}

// Feed appends newly received bytes to the channel's reassembly
// buffer.
func (c *HAPChannel) Feed(data []byte) { c.in.feed(data) }

// Next pops one complete frame from the reassembly buffer, if one is
// available. ok is false when more bytes are needed; it is not an
// error.
func (c *HAPChannel) Next() (plaintext []byte, ok bool, err error) {
	buf := c.in.bytes()
	if len(buf) < 2 {
		return nil, false, nil
	}
	n := int(binary.LittleEndian.Uint16(buf[:2]))

	if c.cipher == nil {
		if len(buf) < 2+n {
			return nil, false, nil
		}
		plaintext = append([]byte(nil), buf[2:2+n]...)
		c.in.advance(2 + n)
		return plaintext, true, nil
	}

	frameLen := 2 + n + 16
	if len(buf) < frameLen {
		return nil, false, nil
	}
	plaintext, err = c.cipher.Decrypt(buf[2:frameLen], buf[:2])
	if err != nil {
		return nil, false, err
	}
	c.in.advance(frameLen)
	return plaintext, true, nil
}
