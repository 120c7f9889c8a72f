package transport

import (
	"context"
	"net"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/barnettlynn/atvpair/aead"
	"github.com/barnettlynn/atvpair/pairerr"
	"github.com/barnettlynn/atvpair/pairing"
	"github.com/barnettlynn/atvpair/securechannel"
	"github.com/barnettlynn/atvpair/tlv8"
)

// cryptoPairingMessage field numbers, encoded with protowire directly
// since this library carries no generated protobuf package: field 1
// is the TLV pairing data, field 2 is the retry flag the accessory
// sets on a CryptoPairingMessage it wants the caller to ignore.
const (
	cpmFieldPairingData protowire.Number = 1
	cpmFieldIsRetrying  protowire.Number = 2
)

func encodeCryptoPairingMessage(pairingData []byte, isRetrying bool) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, cpmFieldPairingData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, pairingData)
	if isRetrying {
		buf = protowire.AppendTag(buf, cpmFieldIsRetrying, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
	}
	return buf
}

func decodeCryptoPairingMessage(data []byte) (pairingData []byte, isRetrying bool, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage tag"}
		}
		data = data[n:]
		switch {
		case num == cpmFieldPairingData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage pairingData"}
			}
			pairingData = append([]byte(nil), v...)
			data = data[n:]
		case num == cpmFieldIsRetrying && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage isRetrying"}
			}
			isRetrying = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, false, &securechannel.ProtocolError{Reason: "malformed CryptoPairingMessage field"}
			}
			data = data[n:]
		}
	}
	return pairingData, isRetrying, nil
}

// MRPCarrier wraps a TLV pairing.Message in a CryptoPairingMessage and
// sends it over the varint-framed MRP secure channel, ignoring any
// reply marked isRetrying until the real answer arrives.
type MRPCarrier struct {
	conn    net.Conn
	channel *securechannel.MRPChannel
	Timeout time.Duration

	ord ordering
}

// NewMRPCarrier wraps conn. The channel starts in unencrypted
// passthrough mode; call Enable once Pair-Verify derives the stream
// keys for steady-state traffic on the same connection.
func NewMRPCarrier(conn net.Conn) *MRPCarrier {
	return &MRPCarrier{conn: conn, channel: securechannel.NewMRPChannel()}
}

// Enable switches the underlying channel to encrypted mode.
func (c *MRPCarrier) Enable(cipher *aead.Cipher) { c.channel.Enable(cipher) }

func (c *MRPCarrier) roundTrip(ctx context.Context, step string, msg pairing.Message) (pairing.Message, error) {
	release, err := c.ord.acquire(step, false, false)
	if err != nil {
		return nil, err
	}
	defer release()

	frame := c.channel.Encrypt(encodeCryptoPairingMessage(tlv8.Encode(msg), false))
	if err := c.write(ctx, frame); err != nil {
		return nil, err
	}

	for {
		body, err := c.readFrame(ctx, step)
		if err != nil {
			return nil, err
		}
		pairingData, isRetrying, err := decodeCryptoPairingMessage(body)
		if err != nil {
			return nil, pairerr.Wrap(pairerr.Protocol, step, err)
		}
		if isRetrying {
			continue
		}
		reply, err := tlv8.Decode(pairingData)
		if err != nil {
			return nil, pairerr.Wrap(pairerr.Protocol, step, err)
		}
		return reply, nil
	}
}

// PairSetup sends one Pair-Setup step and returns the accessory's reply.
func (c *MRPCarrier) PairSetup(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.roundTrip(ctx, "mrp-pair-setup", msg)
}

// PairVerify sends one Pair-Verify step and returns the accessory's reply.
func (c *MRPCarrier) PairVerify(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.roundTrip(ctx, "mrp-pair-verify", msg)
}

func (c *MRPCarrier) write(ctx context.Context, frame []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(deadline(ctx, c.Timeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return pairerr.Wrap(pairerr.Timeout, "mrp", err)
		}
		return pairerr.Wrap(pairerr.ConnectionLost, "mrp", err)
	}
	return nil
}

// readFrame blocks until the reassembler has a complete frame,
// reading from conn as needed and respecting the round trip's deadline.
func (c *MRPCarrier) readFrame(ctx context.Context, step string) ([]byte, error) {
	dl := deadline(ctx, c.Timeout)
	buf := make([]byte, 4096)
	for {
		if body, ok, err := c.channel.Next(); err != nil {
			return nil, pairerr.Wrap(pairerr.Protocol, step, err)
		} else if ok {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, pairerr.Wrap(pairerr.Timeout, step, ctx.Err())
		}
		_ = c.conn.SetReadDeadline(dl)
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, pairerr.New(pairerr.Timeout, step, "no reply before deadline")
			}
			return nil, pairerr.Wrap(pairerr.ConnectionLost, step, err)
		}
		c.channel.Feed(buf[:n])
	}
}
