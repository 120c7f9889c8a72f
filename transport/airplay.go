package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/barnettlynn/atvpair/pairerr"
	"github.com/barnettlynn/atvpair/pairing"
	"github.com/barnettlynn/atvpair/tlv8"
)

// AirPlayCarrier speaks the pairing machine's TLV messages over plain
// HTTP POST, one message per request, as AirPlay's /pair-setup and
// /pair-verify endpoints do.
type AirPlayCarrier struct {
	client  *http.Client
	baseURL string
	Timeout time.Duration

	ord ordering
}

// NewAirPlayCarrier targets baseURL (e.g. "http://10.0.0.5:7000").
// client may be nil, in which case http.DefaultClient is used.
func NewAirPlayCarrier(baseURL string, client *http.Client) *AirPlayCarrier {
	if client == nil {
		client = http.DefaultClient
	}
	return &AirPlayCarrier{client: client, baseURL: baseURL}
}

// PairSetup posts msg to /pair-setup and returns the accessory's reply.
func (c *AirPlayCarrier) PairSetup(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.post(ctx, "/pair-setup", msg)
}

// PairVerify posts msg to /pair-verify and returns the accessory's reply.
func (c *AirPlayCarrier) PairVerify(ctx context.Context, msg pairing.Message) (pairing.Message, error) {
	return c.post(ctx, "/pair-verify", msg)
}

func (c *AirPlayCarrier) post(ctx context.Context, path string, msg pairing.Message) (pairing.Message, error) {
	release, err := c.ord.acquire(path, false, false)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithDeadline(ctx, deadline(ctx, c.Timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(tlv8.Encode(msg)))
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Protocol, path, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pairerr.Wrap(pairerr.Timeout, path, err)
		}
		return nil, pairerr.Wrap(pairerr.ConnectionLost, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.ConnectionLost, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pairerr.New(pairerr.Protocol, path, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	reply, err := tlv8.Decode(body)
	if err != nil {
		return nil, pairerr.Wrap(pairerr.Protocol, path, err)
	}
	return reply, nil
}
