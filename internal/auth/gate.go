package auth

import (
	"context"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

// Gate admits at most one wallet authentication at a time in the process.
type Gate struct {
	slot chan struct{}
}

func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

var processGate = NewGate()

// ProcessGate is the gate shared by every session in the process.
func ProcessGate() *Gate {
	return processGate
}

// Acquire blocks until the slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.slot <- struct{}{}:
		return g.release, nil
	case <-ctx.Done():
		return nil, clierr.Wrap(clierr.CodeTimeout, "waiting for in-flight authentication", ctx.Err())
	}
}

// TryAcquire takes the slot only if nobody holds it.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	select {
	case g.slot <- struct{}{}:
		return g.release, true
	default:
		return nil, false
	}
}

func (g *Gate) InFlight() bool {
	return len(g.slot) == 1
}

func (g *Gate) release() {
	<-g.slot
}
