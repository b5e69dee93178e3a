package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/vault"
)

// VaultLocator is the read-only half of VaultResolver.
type VaultLocator interface {
	Resolve(ctx context.Context, chainID int64, owner common.Address) (common.Address, bool, error)
}

type WithdrawDeps struct {
	Vaults    VaultLocator
	Positions PositionReader
	Operator  VaultOperator
	Agent     Agent
	Network   Network
	Guard     Guard
}

// Preflight is the read-only snapshot shown before a withdrawal is
// confirmed.
type Preflight struct {
	ChainID     int64            `json:"chain_id"`
	Owner       common.Address   `json:"owner"`
	Vault       common.Address   `json:"vault_address"`
	HasVault    bool             `json:"has_vault"`
	Direct      *big.Int         `json:"direct_balance"`
	Deployed    *big.Int         `json:"deployed_value"`
	Total       *big.Int         `json:"total"`
	Positions   []vault.Position `json:"positions,omitempty"`
	NeedsUnwind bool             `json:"needs_unwind"`

	// Nothing is set when there is no vault or both balances are zero.
	Nothing bool `json:"nothing_to_withdraw"`
}

// Withdraw empties a user's vault back to their wallet, asking the agent to
// unwind deployed funds first when needed.
type Withdraw struct {
	deps    WithdrawDeps
	tracker *Tracker
	opts    Options
	log     *slog.Logger
}

func NewWithdraw(deps WithdrawDeps, tracker *Tracker, opts Options) (*Withdraw, error) {
	if deps.Vaults == nil || deps.Positions == nil || deps.Operator == nil || deps.Agent == nil || deps.Network == nil {
		return nil, clierr.New(clierr.CodeInternal, "withdraw flow is missing a dependency")
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	opts = opts.withDefaults()
	return &Withdraw{deps: deps, tracker: tracker, opts: opts, log: opts.Logger.With("flow", KindWithdraw)}, nil
}

func (w *Withdraw) Tracker() *Tracker { return w.tracker }

func (w *Withdraw) Snapshot() State { return w.tracker.Snapshot() }

func (w *Withdraw) Reset() { w.tracker.Reset() }

// Preflight resolves the vault and reads both balances without submitting
// anything.
func (w *Withdraw) Preflight(ctx context.Context, chainID int64, owner common.Address) (Preflight, error) {
	out := Preflight{ChainID: chainID, Owner: owner, Direct: new(big.Int), Deployed: new(big.Int), Total: new(big.Int)}
	addr, ok, err := w.deps.Vaults.Resolve(ctx, chainID, owner)
	if err != nil {
		return Preflight{}, err
	}
	if !ok {
		out.Nothing = true
		return out, nil
	}
	out.Vault = addr
	out.HasVault = true
	snap, err := w.deps.Positions.Snapshot(ctx, chainID, addr)
	if err != nil {
		return Preflight{}, err
	}
	out.Direct = snap.Direct
	out.Deployed = snap.Deployed
	out.Total = snap.Total()
	out.Positions = snap.Positions
	out.NeedsUnwind = snap.NeedsUnwind()
	out.Nothing = snap.Empty()
	return out, nil
}

// Run dispatches a confirmed preflight to the matching path.
func (w *Withdraw) Run(ctx context.Context, p Preflight) State {
	if p.NeedsUnwind {
		return w.UnwindAndWithdraw(ctx, p.ChainID, p.Vault, p.Owner)
	}
	return w.Execute(ctx, p.ChainID, p.Vault, p.Owner)
}

// Execute is the direct path for a vault with nothing deployed.
func (w *Withdraw) Execute(ctx context.Context, chainID int64, vaultAddr, owner common.Address) State {
	r, release, failed := w.begin(ctx, chainID, vaultAddr, owner)
	if failed != nil {
		return *failed
	}
	defer release()
	return w.withdraw(ctx, r, chainID, vaultAddr)
}

// UnwindAndWithdraw asks the agent to unwind, waits for the funds to land
// in the vault, then withdraws.
func (w *Withdraw) UnwindAndWithdraw(ctx context.Context, chainID int64, vaultAddr, owner common.Address) State {
	r, release, failed := w.begin(ctx, chainID, vaultAddr, owner)
	if failed != nil {
		return *failed
	}
	defer release()

	r.enter(StepUnwinding, true)
	baseline, err := w.deps.Positions.DirectBalance(ctx, chainID, vaultAddr)
	if err != nil {
		return r.fail(StepUnwinding, err)
	}
	res, err := w.deps.Agent.RequestUnwind(ctx, chainID, vaultAddr, owner)
	if err != nil {
		return r.fail(StepUnwinding, err)
	}
	for _, h := range res.Hashes {
		r.state.UnwindTxs = append(r.state.UnwindTxs, h.Hex())
	}

	r.enter(StepPollingBalance, false)
	landed := func(ctx context.Context) (bool, error) {
		bal, err := w.deps.Positions.DirectBalance(ctx, chainID, vaultAddr)
		if err != nil {
			return false, err
		}
		return bal.Cmp(baseline) > 0, nil
	}
	if res.Settled() {
		// Nothing is in flight, so the baseline may already include the
		// funds. Wait for the positions to read as fully idle instead.
		w.log.Debug("agent reports vault idle", "vault", vaultAddr.Hex(), "status", res.Status)
		landed = func(ctx context.Context) (bool, error) {
			snap, err := w.deps.Positions.Snapshot(ctx, chainID, vaultAddr)
			if err != nil {
				return false, err
			}
			return !snap.NeedsUnwind() && snap.Direct != nil && snap.Direct.Sign() > 0, nil
		}
	}
	err = Poll(ctx, w.opts.UnwindPoll, landed)
	if err != nil {
		msg := fmt.Sprintf("agent unwind not reflected in vault balance within %s; it may still complete, retry later", w.opts.UnwindPoll.Budget)
		return r.fail(StepPollingBalance, clierr.Wrap(clierr.CodeTimeout, msg, err))
	}
	return w.withdraw(ctx, r, chainID, vaultAddr)
}

func (w *Withdraw) begin(ctx context.Context, chainID int64, vaultAddr, owner common.Address) (*run, func(), *State) {
	r := startRun(w.tracker, KindWithdraw, chainID, owner, "", w.opts.Now)
	if vaultAddr == (common.Address{}) {
		s := r.fail(StepIdle, clierr.New(clierr.CodeUsage, "vault address is required"))
		return nil, nil, &s
	}
	r.state.VaultAddress = vaultAddr.Hex()
	release, err := acquire(ctx, w.deps.Guard, owner, w.opts.LockTTL)
	if err != nil {
		s := r.fail(StepIdle, err)
		return nil, nil, &s
	}
	r.startChain = w.deps.Network.ActiveChain()
	return r, release, nil
}

// withdraw is the shared tail: switch, withdraw, confirm.
func (w *Withdraw) withdraw(ctx context.Context, r *run, chainID int64, vaultAddr common.Address) State {
	if err := switchChain(ctx, r, w.deps.Network, chainID); err != nil {
		return r.fail(StepSwitchingChain, err)
	}

	r.enter(StepWithdrawing, true)
	bal, err := w.deps.Positions.DirectBalance(ctx, chainID, vaultAddr)
	if err != nil {
		return r.fail(StepWithdrawing, err)
	}
	if bal.Sign() <= 0 {
		return r.fail(StepWithdrawing, clierr.New(clierr.CodeUsage, "vault has no direct balance to withdraw"))
	}
	hash, err := w.deps.Operator.Withdraw(ctx, chainID, vaultAddr)
	if err != nil {
		return r.fail(StepWithdrawing, err)
	}
	r.setTx(hash)

	r.enter(StepConfirming, false)
	if _, err := w.deps.Network.WaitForReceipt(ctx, chainID, hash); err != nil {
		return r.fail(StepConfirming, err)
	}
	w.log.Info("withdrawal confirmed", "chain_id", chainID, "vault", vaultAddr.Hex(), "tx_hash", hash.Hex())
	return r.complete()
}
