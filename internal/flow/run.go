package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/logging"
)

// Options tunes orchestrator waits. Zero values fall back to defaults.
type Options struct {
	AllowancePoll PollPolicy
	UnwindPoll    PollPolicy
	LockTTL       time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

func DefaultOptions() Options {
	return Options{
		AllowancePoll: PollPolicy{Interval: 500 * time.Millisecond, MaxInterval: 2 * time.Second, Budget: 10 * time.Second},
		UnwindPoll:    PollPolicy{Interval: 2 * time.Second, MaxInterval: 15 * time.Second, Budget: 3 * time.Minute},
		LockTTL:       15 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.AllowancePoll == (PollPolicy{}) {
		o.AllowancePoll = def.AllowancePoll
	}
	if o.UnwindPoll == (PollPolicy{}) {
		o.UnwindPoll = def.UnwindPoll
	}
	if o.LockTTL <= 0 {
		o.LockTTL = def.LockTTL
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// GuardKey is the lock key shared by every flow of one user.
func GuardKey(owner common.Address) string {
	return "vaultflow:flow:" + strings.ToLower(owner.Hex())
}

// run is the mutable record of one orchestrator invocation.
type run struct {
	tracker *Tracker
	gen     uint64
	state   State
	now     func() time.Time

	// startChain is the wallet's active chain when the flow began.
	startChain int64
}

func startRun(t *Tracker, kind Kind, chainID int64, owner common.Address, amount string, now func() time.Time) *run {
	ts := now().UTC()
	r := &run{
		tracker: t,
		now:     now,
		state: State{
			ID:        uuid.NewString(),
			Kind:      kind,
			ChainID:   chainID,
			Owner:     owner.Hex(),
			Amount:    amount,
			Step:      StepIdle,
			StartedAt: ts,
			UpdatedAt: ts,
		},
	}
	r.gen = t.begin(r.state)
	return r
}

func (r *run) publish() {
	r.state.UpdatedAt = r.now().UTC()
	r.tracker.publish(r.gen, r.state)
}

// enter moves to step. Steps that submit their own transaction start with
// an empty hash.
func (r *run) enter(step Step, clearHash bool) {
	r.state.Step = step
	if clearHash {
		r.state.TxHash = ""
	}
	r.publish()
}

func (r *run) setTx(h common.Hash) {
	r.state.TxHash = hashString(h)
	r.publish()
}

func (r *run) warn(msg string) {
	r.state.Warnings = append(r.state.Warnings, msg)
	r.publish()
}

func (r *run) fail(at Step, err error) State {
	if err == nil {
		err = clierr.New(clierr.CodeInternal, "unknown failure")
	}
	r.state.Step = StepError
	r.state.Failure = newFailure(at, err)
	r.publish()
	return r.state.clone()
}

func (r *run) complete() State {
	r.state.Step = StepComplete
	r.publish()
	return r.state.clone()
}

// acquire takes the per-user lock, returning the release func.
func acquire(ctx context.Context, g Guard, owner common.Address, ttl time.Duration) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	unlock, err := g.TryLock(ctx, GuardKey(owner), ttl)
	if err != nil {
		if clierr.CodeOf(err) == clierr.CodeBusy {
			return nil, err
		}
		return nil, clierr.Wrap(clierr.CodeBusy, "could not acquire flow lock", err)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlock(releaseCtx)
	}, nil
}

// switchChain moves the wallet to chainID. The step is published when the
// wallet started the flow elsewhere, even if an earlier step already had to
// move it, and skipped otherwise.
func switchChain(ctx context.Context, r *run, net Network, chainID int64) error {
	if r.startChain == chainID && net.ActiveChain() == chainID {
		return nil
	}
	r.enter(StepSwitchingChain, false)
	return net.SwitchActiveChain(ctx, chainID)
}
