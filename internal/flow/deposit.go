package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

type DepositDeps struct {
	Vaults    VaultResolver
	Allowance AllowanceManager
	Operator  VaultOperator
	Network   Network
	Guard     Guard
}

// Deposit moves USDC from the user's wallet into their vault, deploying and
// registering the vault first when the user has none.
type Deposit struct {
	deps    DepositDeps
	tracker *Tracker
	opts    Options
	log     *slog.Logger
}

func NewDeposit(deps DepositDeps, tracker *Tracker, opts Options) (*Deposit, error) {
	if deps.Vaults == nil || deps.Allowance == nil || deps.Operator == nil || deps.Network == nil {
		return nil, clierr.New(clierr.CodeInternal, "deposit flow is missing a dependency")
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	opts = opts.withDefaults()
	return &Deposit{deps: deps, tracker: tracker, opts: opts, log: opts.Logger.With("flow", KindDeposit)}, nil
}

func (d *Deposit) Tracker() *Tracker { return d.tracker }

func (d *Deposit) Snapshot() State { return d.tracker.Snapshot() }

func (d *Deposit) Reset() { d.tracker.Reset() }

// Execute runs the deposit to a terminal state. Failures are reported in the
// returned State, never as a panic or a bare error.
func (d *Deposit) Execute(ctx context.Context, chainID int64, amount *big.Int, owner common.Address) State {
	amountText := ""
	if amount != nil {
		amountText = amount.String()
	}
	r := startRun(d.tracker, KindDeposit, chainID, owner, amountText, d.opts.Now)
	if amount == nil || amount.Sign() <= 0 {
		return r.fail(StepIdle, clierr.New(clierr.CodeUsage, "deposit amount must be greater than zero"))
	}
	if owner == (common.Address{}) {
		return r.fail(StepIdle, clierr.New(clierr.CodeUsage, "owner address is required"))
	}
	release, err := acquire(ctx, d.deps.Guard, owner, d.opts.LockTTL)
	if err != nil {
		return r.fail(StepIdle, err)
	}
	defer release()
	r.startChain = d.deps.Network.ActiveChain()

	r.enter(StepCheckingVault, false)
	vaultAddr, found, err := d.deps.Vaults.Resolve(ctx, chainID, owner)
	if err != nil {
		return r.fail(StepCheckingVault, err)
	}
	if !found {
		vaultAddr, err = d.deployVault(ctx, r, chainID, owner)
		if err != nil {
			return r.fail(StepDeployingVault, err)
		}
		r.state.VaultAddress = vaultAddr.Hex()
		r.enter(StepRegisteringVault, false)
		if err := d.deps.Vaults.Register(ctx, chainID, vaultAddr); err != nil {
			d.log.Warn("vault registration failed; continuing with deposit", "chain_id", chainID, "vault", vaultAddr.Hex(), "err", err)
			r.warn(fmt.Sprintf("vault registration failed: %v", err))
		}
	} else {
		r.state.VaultAddress = vaultAddr.Hex()
		r.publish()
	}

	if err := switchChain(ctx, r, d.deps.Network, chainID); err != nil {
		return r.fail(StepSwitchingChain, err)
	}

	if err := d.ensureAllowance(ctx, r, chainID, owner, vaultAddr, amount); err != nil {
		return r.fail(StepApprovingUSDC, err)
	}

	r.enter(StepDepositing, true)
	hash, err := d.deps.Operator.Deposit(ctx, chainID, vaultAddr, amount)
	if err != nil {
		return r.fail(StepDepositing, err)
	}
	r.setTx(hash)

	r.enter(StepConfirming, false)
	if _, err := d.deps.Network.WaitForReceipt(ctx, chainID, hash); err != nil {
		return r.fail(StepConfirming, err)
	}
	return r.complete()
}

func (d *Deposit) deployVault(ctx context.Context, r *run, chainID int64, owner common.Address) (common.Address, error) {
	r.enter(StepDeployingVault, true)
	if err := switchNetworkQuiet(ctx, d.deps.Network, chainID); err != nil {
		return common.Address{}, err
	}
	hash, err := d.deps.Vaults.Deploy(ctx, chainID, owner)
	if err != nil {
		return common.Address{}, err
	}
	r.setTx(hash)
	if _, err := d.deps.Network.WaitForReceipt(ctx, chainID, hash); err != nil {
		return common.Address{}, err
	}
	addr, ok, err := d.deps.Vaults.Resolve(ctx, chainID, owner)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeInconsistent, "vault deployment confirmed but the factory reports no vault for the owner")
	}
	return addr, nil
}

// ensureAllowance approves the exact amount when the fresh allowance is
// short, then waits until the token reports it.
func (d *Deposit) ensureAllowance(ctx context.Context, r *run, chainID int64, owner, spender common.Address, amount *big.Int) error {
	needs, err := d.deps.Allowance.NeedsApproval(ctx, chainID, owner, spender, amount)
	if err != nil {
		return err
	}
	if !needs {
		return nil
	}
	r.enter(StepApprovingUSDC, true)
	hash, err := d.deps.Allowance.Approve(ctx, chainID, spender, amount)
	if err != nil {
		return err
	}
	r.setTx(hash)
	if _, err := d.deps.Network.WaitForReceipt(ctx, chainID, hash); err != nil {
		return err
	}
	err = Poll(ctx, d.opts.AllowancePoll, func(ctx context.Context) (bool, error) {
		short, err := d.deps.Allowance.NeedsApproval(ctx, chainID, owner, spender, amount)
		if err != nil {
			return false, err
		}
		return !short, nil
	})
	if err != nil {
		return clierr.Wrap(clierr.CodeTimeout, "approval confirmed but allowance not yet visible", err)
	}
	return nil
}

// switchNetworkQuiet switches without publishing a step. Vault deployment
// signs on the target chain before the nominal switching step.
func switchNetworkQuiet(ctx context.Context, net Network, chainID int64) error {
	if net.ActiveChain() == chainID {
		return nil
	}
	return net.SwitchActiveChain(ctx, chainID)
}
