package transport

import (
	"context"
	"net"
	"time"

	"github.com/barnettlynn/atvpair/aead"
	"github.com/barnettlynn/atvpair/opack"
	"github.com/barnettlynn/atvpair/pairerr"
	"github.com/barnettlynn/atvpair/pairing"
	"github.com/barnettlynn/atvpair/securechannel"
	"github.com/barnettlynn/atvpair/tlv8"
)

// CompanionCarrier wraps pairing.Messages in OPACK and frames them as
// Companion PS_Start/PS_Next/PV_Start/PV_Next, demultiplexing replies
// by frame type. Pair-Setup and Pair-Verify track Start-before-Next
// ordering independently, since both handshakes may run over the same
// connection in sequence.
type CompanionCarrier struct {
	conn    net.Conn
	channel *securechannel.CompanionChannel
	Timeout time.Duration

	setupOrd  ordering
	verifyOrd ordering
}

// NewCompanionCarrier wraps conn. The channel starts in unencrypted
// passthrough mode; call Enable once Pair-Verify derives the stream
// keys for steady-state traffic on the same connection.
func NewCompanionCarrier(conn net.Conn) *CompanionCarrier {
	return &CompanionCarrier{conn: conn, channel: securechannel.NewCompanionChannel()}
}

// Enable switches the underlying channel to encrypted mode.
func (c *CompanionCarrier) Enable(cipher *aead.Cipher) { c.channel.Enable(cipher) }

func encodeCompanionPayload(tlvBytes []byte, useAuTy bool) ([]byte, error) {
	body := map[string]interface{}{"_pd": tlvBytes}
	if useAuTy {
		body["_auTy"] = 4
	} else {
		body["_pwTy"] = 1
	}
	return opack.Pack(body)
}

func decodeCompanionPayload(data []byte) ([]byte, error) {
	v, _, err := opack.Unpack(data)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(map[string]interface{})
	if !ok {
		return nil, &opack.TypeError{Reason: "Companion payload is not a dictionary"}
	}
	pd, ok := dict["_pd"]
	if !ok {
		return nil, &opack.TypeError{Reason: "Companion payload has no _pd field"}
	}
	switch b := pd.(type) {
	case []byte:
		return b, nil
	default:
		return nil, &opack.TypeError{Reason: "Companion _pd field is not a byte string"}
	}
}

func (c *CompanionCarrier) roundTrip(ctx context.Context, step string, ord *ordering, requireStarted, isStart bool, frameType securechannel.FrameType, useAuTy bool, msg pairing.Message) (pairing.Message, error) {
	release, err := ord.acquire(step, requireStarted, isStart)
	if err != nil {
		return nil, err
	}
	defer release()

	payload, err := encodeCompanionPayload(tlv8.Encode(msg), useAuTy)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Protocol, step, err)
	}
	frame := c.channel.Encrypt(frameType, payload)
	if err := c.write(ctx, frame, step); err != nil {
		return nil, err
	}

	for {
		replyType, body, err := c.readFrame(ctx, step)
		if err != nil {
			return nil, err
		}
		if replyType != frameType {
			continue
		}
		pd, err := decodeCompanionPayload(body)
		if err != nil {
			return nil, pairerr.Wrap(pairerr.Protocol, step, err)
		}
		reply, err := tlv8.Decode(pd)
		if err != nil {
			return nil, pairerr.Wrap(pairerr.Protocol, step, err)
		}
		return reply, nil
	}
}

// PairSetupStart sends the first Pair-Setup message as PS_Start.
func (c *CompanionCarrier) PairSetupStart(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.roundTrip(ctx, "companion-pair-setup-start", &c.setupOrd, false, true, securechannel.FramePSStart, false, msg)
}

// PairSetupNext sends a subsequent Pair-Setup message as PS_Next.
func (c *CompanionCarrier) PairSetupNext(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.roundTrip(ctx, "companion-pair-setup-next", &c.setupOrd, true, false, securechannel.FramePSNext, false, msg)
}

// PairVerifyStart sends the first Pair-Verify message as PV_Start,
// tagged _auTy:4 per the Companion wire format.
func (c *CompanionCarrier) PairVerifyStart(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.roundTrip(ctx, "companion-pair-verify-start", &c.verifyOrd, false, true, securechannel.FramePVStart, true, msg)
}

// PairVerifyNext sends a subsequent Pair-Verify message as PV_Next.
func (c *CompanionCarrier) PairVerifyNext(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.roundTrip(ctx, "companion-pair-verify-next", &c.verifyOrd, true, false, securechannel.FramePVNext, false, msg)
}

func (c *CompanionCarrier) write(ctx context.Context, frame []byte, step string) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(deadline(ctx, c.Timeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		return pairerr.Wrap(pairerr.ConnectionLost, step, err)
	}
	return nil
}

func (c *CompanionCarrier) readFrame(ctx context.Context, step string) (securechannel.FrameType, []byte, error) {
	dl := deadline(ctx, c.Timeout)
	buf := make([]byte, 4096)
	for {
		if frameType, body, ok, err := c.channel.Next(); err != nil {
			return 0, nil, pairerr.Wrap(pairerr.Protocol, step, err)
		} else if ok {
			return frameType, body, nil
		}
		if ctx.Err() != nil {
			return 0, nil, pairerr.Wrap(pairerr.Timeout, step, ctx.Err())
		}
		_ = c.conn.SetReadDeadline(dl)
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return 0, nil, pairerr.New(pairerr.Timeout, step, "no reply before deadline")
			}
			return 0, nil, pairerr.Wrap(pairerr.ConnectionLost, step, err)
		}
		c.channel.Feed(buf[:n])
	}
}
