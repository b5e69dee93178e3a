package flow

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/vault"
)

var (
	testOwner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testVault = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

const baseChain int64 = 8453

func rejected() error {
	return clierr.Wrap(clierr.CodeRejected, "wallet declined", clierr.ErrUserRejected)
}

type fakeNetwork struct {
	mu        sync.Mutex
	active    int64
	switchErr error
	switches  []int64
	waited    []common.Hash
	waitErr   map[common.Hash]error
}

func (n *fakeNetwork) ActiveChain() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *fakeNetwork) SwitchActiveChain(_ context.Context, chainID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.switches = append(n.switches, chainID)
	if n.switchErr != nil {
		return n.switchErr
	}
	n.active = chainID
	return nil
}

func (n *fakeNetwork) WaitForReceipt(_ context.Context, _ int64, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waited = append(n.waited, hash)
	if err := n.waitErr[hash]; err != nil {
		return nil, err
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

// fakeVaults returns resolved addresses in order; the last one repeats.
type fakeVaults struct {
	mu          sync.Mutex
	resolves    []common.Address
	resolveErr  error
	resolved    int
	deployHash  common.Hash
	deployErr   error
	deployed    int
	registerErr error
	registered  []common.Address
}

func (v *fakeVaults) Resolve(context.Context, int64, common.Address) (common.Address, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resolveErr != nil {
		return common.Address{}, false, v.resolveErr
	}
	idx := v.resolved
	if idx >= len(v.resolves) {
		idx = len(v.resolves) - 1
	}
	v.resolved++
	if idx < 0 {
		return common.Address{}, false, nil
	}
	addr := v.resolves[idx]
	return addr, addr != (common.Address{}), nil
}

func (v *fakeVaults) Deploy(context.Context, int64, common.Address) (common.Hash, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deployed++
	return v.deployHash, v.deployErr
}

func (v *fakeVaults) Register(_ context.Context, _ int64, addr common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.registered = append(v.registered, addr)
	return v.registerErr
}

// fakeAllowance makes an approval visible after visibleAfter extra reads.
type fakeAllowance struct {
	mu           sync.Mutex
	current      *big.Int
	pending      *big.Int
	visibleAfter int
	never        bool
	approveHash  common.Hash
	approveErr   error
	approvals    []*big.Int
	spenders     []common.Address
}

func (a *fakeAllowance) NeedsApproval(_ context.Context, _ int64, _, _ common.Address, amount *big.Int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil && !a.never {
		if a.visibleAfter <= 0 {
			a.current, a.pending = a.pending, nil
		} else {
			a.visibleAfter--
		}
	}
	return a.current.Cmp(amount) < 0, nil
}

func (a *fakeAllowance) Approve(_ context.Context, _ int64, spender common.Address, amount *big.Int) (common.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.approveErr != nil {
		return common.Hash{}, a.approveErr
	}
	a.approvals = append(a.approvals, new(big.Int).Set(amount))
	a.spenders = append(a.spenders, spender)
	a.pending = new(big.Int).Set(amount)
	return a.approveHash, nil
}

type fakeOperator struct {
	mu          sync.Mutex
	depositHash common.Hash
	depositErr  error
	deposits    []*big.Int
	withdrawTx  common.Hash
	withdrawErr error
	withdrawals []common.Address
}

func (o *fakeOperator) Deposit(_ context.Context, _ int64, _ common.Address, amount *big.Int) (common.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.depositErr != nil {
		return common.Hash{}, o.depositErr
	}
	o.deposits = append(o.deposits, new(big.Int).Set(amount))
	return o.depositHash, nil
}

func (o *fakeOperator) Withdraw(_ context.Context, _ int64, vaultAddr common.Address) (common.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.withdrawErr != nil {
		return common.Hash{}, o.withdrawErr
	}
	o.withdrawals = append(o.withdrawals, vaultAddr)
	return o.withdrawTx, nil
}

// fakePositions moves deployed value into the direct balance once unwound
// is set and landAfter reads have passed.
type fakePositions struct {
	mu        sync.Mutex
	direct    *big.Int
	deployed  *big.Int
	unwound   bool
	landAfter int
	never     bool
	readErr   error
}

func (p *fakePositions) Snapshot(context.Context, int64, common.Address) (vault.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return vault.Snapshot{}, p.readErr
	}
	return vault.Snapshot{Direct: new(big.Int).Set(p.direct), Deployed: new(big.Int).Set(p.deployed)}, nil
}

func (p *fakePositions) DirectBalance(context.Context, int64, common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return nil, p.readErr
	}
	if p.unwound && !p.never && p.deployed.Sign() > 0 {
		if p.landAfter <= 0 {
			p.direct = new(big.Int).Add(p.direct, p.deployed)
			p.deployed = new(big.Int)
		} else {
			p.landAfter--
		}
	}
	return new(big.Int).Set(p.direct), nil
}

// fakeAgent starts an unwind on positions unless status says the vault is
// already idle.
type fakeAgent struct {
	mu        sync.Mutex
	positions *fakePositions
	status    vault.UnwindStatus
	hashes    []common.Hash
	err       error
	calls     int
}

func (a *fakeAgent) RequestUnwind(context.Context, int64, common.Address, common.Address) (vault.UnwindResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return vault.UnwindResult{}, a.err
	}
	res := vault.UnwindResult{Status: a.status, Hashes: a.hashes}
	if res.Status == "" {
		res.Status = vault.UnwindSubmitted
	}
	if a.positions != nil && !res.Settled() {
		a.positions.mu.Lock()
		a.positions.unwound = true
		a.positions.mu.Unlock()
	}
	return res, nil
}

type busyGuard struct{}

func (busyGuard) TryLock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, clierr.New(clierr.CodeBusy, "another flow is in progress")
}

// recorder keeps every published snapshot.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) Publish(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

// steps collapses repeated publishes of the same step.
func (r *recorder) steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Step
	for _, s := range r.states {
		if len(out) > 0 && out[len(out)-1] == s.Step {
			continue
		}
		out = append(out, s.Step)
	}
	return out
}

func fastOptions() Options {
	return Options{
		AllowancePoll: PollPolicy{Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Budget: 50 * time.Millisecond},
		UnwindPoll:    PollPolicy{Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Budget: 50 * time.Millisecond},
		LockTTL:       time.Minute,
	}
}
