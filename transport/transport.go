// Package transport implements the three carrier façades that move a
// pairing.Message across a concrete wire: AirPlay HTTP, MRP's
// varint+protobuf channel, and Companion's OPACK framing. Each façade
// allows only one in-flight request at a time (Companion tracks
// Pair-Setup and Pair-Verify separately) and bounds the wait for a
// reply with a default timeout. Only the Companion façade enforces
// step ordering (a Start frame precedes its Next); AirPlay and MRP
// have no separate Start and Next calls and do not check step order.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/barnettlynn/atvpair/pairerr"
)

// DefaultTimeout bounds how long a carrier waits for a reply when the
// caller's context carries no deadline of its own.
const DefaultTimeout = 5 * time.Second

// ordering serializes request issuance on one carrier (single-flight)
// and rejects a Next-shaped call before its Start has been sent.
type ordering struct {
	mu      sync.Mutex
	started bool
}

// acquire locks the carrier for one round trip. requireStarted is
// true for a "Next" step, which must follow a prior "Start".
func (o *ordering) acquire(step string, requireStarted, isStart bool) (release func(), err error) {
	o.mu.Lock()
	if requireStarted && !o.started {
		o.mu.Unlock()
		return nil, pairerr.New(pairerr.Protocol, step, "Next frame sent before Start")
	}
	if isStart {
		o.started = true
	}
	return o.mu.Unlock, nil
}

// deadline resolves the effective wall-clock deadline for a round
// trip: the context's deadline if it has one, else now+timeout.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return time.Now().Add(timeout)
}
