package flow

import (
	"context"
	"fmt"
	"time"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

// PollPolicy bounds a poll loop. The interval doubles after each miss up to
// MaxInterval; Budget caps the total wait.
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Budget      time.Duration
}

func (p PollPolicy) normalized() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Budget <= 0 {
		p.Budget = 10 * p.Interval
	}
	return p
}

// Poll runs check until it reports done, the budget runs out, or ctx ends.
// Check errors are treated as transient; the last one is attached to the
// timeout error.
func Poll(ctx context.Context, p PollPolicy, check func(context.Context) (bool, error)) error {
	p = p.normalized()
	deadline := time.Now().Add(p.Budget)
	interval := p.Interval
	var lastErr error
	for {
		done, err := check(ctx)
		if err == nil && done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			msg := fmt.Sprintf("condition not met within %s", p.Budget)
			if lastErr != nil {
				return clierr.Wrap(clierr.CodeTimeout, msg, lastErr)
			}
			return clierr.New(clierr.CodeTimeout, msg)
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return clierr.Wrap(clierr.CodeTimeout, "poll cancelled", ctx.Err())
		case <-timer.C:
		}
		interval *= 2
		if interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}
}
