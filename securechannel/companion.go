package securechannel

import (
	"github.com/barnettlynn/atvpair/aead"
)

// CompanionChannel implements the Companion protocol's frame header:
// a 1-byte frame type and a 3-byte big-endian length, both serving as
// the AEAD's associated data. Frame size is unconstrained — one AEAD
// record per logical frame. An empty body is always sent unencrypted,
// since a ChaCha20-Poly1305 seal of zero bytes would still cost a
// 16-byte tag for nothing.
type CompanionChannel struct {
	cipher *aead.Cipher
	in     reassembler
}

// NewCompanionChannel constructs a channel that passes frames through
// unencrypted until Enable is called.
func NewCompanionChannel() *CompanionChannel { return &CompanionChannel{} }

// Enable switches the channel to encrypted mode. There is no
// downgrade back to plaintext.
func (c *CompanionChannel) Enable(cipher *aead.Cipher) { c.cipher = cipher }

func companionHeader(frameType FrameType, length int) []byte {
	return []byte{byte(frameType), byte(length >> 16), byte(length >> 8), byte(length)}
}

// Encrypt frames plaintext under frameType. Before Enable, the body
// is carried as-is.
func (c *CompanionChannel) Encrypt(frameType FrameType, plaintext []byte) []byte {
	if len(plaintext) == 0 {
		return companionHeader(frameType, 0)
	}
	if c.cipher == nil {
		header := companionHeader(frameType, len(plaintext))
		return append(header, plaintext...)
	}
	header := companionHeader(frameType, len(plaintext)+16)
	ciphertext := c.cipher.Encrypt(plaintext, header)
	return append(header, ciphertext...)
}

// Feed appends newly received bytes to the channel's reassembly
// buffer.
func (c *CompanionChannel) Feed(data []byte) { c.in.feed(data) }

// Next pops one complete frame, if one is available. ok is false when
// more bytes are needed.
func (c *CompanionChannel) Next() (frameType FrameType, plaintext []byte, ok bool, err error) {
	buf := c.in.bytes()
	if len(buf) < 4 {
		return 0, nil, false, nil
	}
	frameType = FrameType(buf[0])
	length := int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])

	if length == 0 {
		c.in.advance(4)
		return frameType, nil, true, nil
	}

	frameLen := 4 + length
	if len(buf) < frameLen {
		return 0, nil, false, nil
	}
	header := buf[:4]
	body := buf[4:frameLen]

	if c.cipher == nil {
		plaintext = append([]byte(nil), body...)
		c.in.advance(frameLen)
		return frameType, plaintext, true, nil
	}
	plaintext, err = c.cipher.Decrypt(body, header)
	if err != nil {
		return 0, nil, false, err
	}
	c.in.advance(frameLen)
	return frameType, plaintext, true, nil
}
