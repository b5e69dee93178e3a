package flow

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/vault"
)

type withdrawHarness struct {
	net       *fakeNetwork
	vaults    *fakeVaults
	positions *fakePositions
	operator  *fakeOperator
	agent     *fakeAgent
	rec       *recorder
}

func newWithdrawHarness(direct, deployed int64) *withdrawHarness {
	pos := &fakePositions{direct: big.NewInt(direct), deployed: big.NewInt(deployed)}
	return &withdrawHarness{
		net:       &fakeNetwork{active: baseChain},
		vaults:    &fakeVaults{resolves: []common.Address{testVault}},
		positions: pos,
		operator:  &fakeOperator{withdrawTx: common.HexToHash("0xee")},
		agent:     &fakeAgent{positions: pos, hashes: []common.Hash{common.HexToHash("0xa9")}},
		rec:       &recorder{},
	}
}

func (h *withdrawHarness) build(t *testing.T, guard Guard) *Withdraw {
	t.Helper()
	w, err := NewWithdraw(WithdrawDeps{
		Vaults:    h.vaults,
		Positions: h.positions,
		Operator:  h.operator,
		Agent:     h.agent,
		Network:   h.net,
		Guard:     guard,
	}, NewTracker(h.rec), fastOptions())
	require.NoError(t, err)
	return w
}

func TestPreflightReportsUnwindAndTotal(t *testing.T) {
	h := newWithdrawHarness(0, 75)
	w := h.build(t, nil)

	pre, err := w.Preflight(context.Background(), baseChain, testOwner)
	require.NoError(t, err)

	assert.True(t, pre.HasVault)
	assert.True(t, pre.NeedsUnwind)
	assert.False(t, pre.Nothing)
	assert.Equal(t, int64(75), pre.Total.Int64())
	assert.Equal(t, testVault, pre.Vault)
	assert.Empty(t, h.rec.states, "preflight publishes nothing")
	assert.Zero(t, h.agent.calls)
}

func TestPreflightNothingToWithdraw(t *testing.T) {
	t.Run("no vault", func(t *testing.T) {
		h := newWithdrawHarness(0, 0)
		h.vaults.resolves = nil
		pre, err := h.build(t, nil).Preflight(context.Background(), baseChain, testOwner)
		require.NoError(t, err)
		assert.True(t, pre.Nothing)
		assert.False(t, pre.HasVault)
	})
	t.Run("empty vault", func(t *testing.T) {
		h := newWithdrawHarness(0, 0)
		pre, err := h.build(t, nil).Preflight(context.Background(), baseChain, testOwner)
		require.NoError(t, err)
		assert.True(t, pre.Nothing)
		assert.False(t, pre.NeedsUnwind)
	})
}

func TestPreflightReadFailureIsError(t *testing.T) {
	h := newWithdrawHarness(0, 0)
	h.positions.readErr = clierr.New(clierr.CodeUnavailable, "rpc down")
	_, err := h.build(t, nil).Preflight(context.Background(), baseChain, testOwner)
	require.Error(t, err)
	assert.Equal(t, clierr.CodeUnavailable, clierr.CodeOf(err))
}

func TestUnwindAndWithdrawFullSequence(t *testing.T) {
	h := newWithdrawHarness(0, 75)
	h.net.active = 42161
	h.positions.landAfter = 2
	w := h.build(t, nil)

	pre, err := w.Preflight(context.Background(), baseChain, testOwner)
	require.NoError(t, err)
	final := w.Run(context.Background(), pre)

	require.Equal(t, StepComplete, final.Step, final.ErrorMessage())
	assert.Equal(t, []Step{
		StepIdle, StepUnwinding, StepPollingBalance, StepSwitchingChain,
		StepWithdrawing, StepConfirming, StepComplete,
	}, h.rec.steps())
	assert.Equal(t, []string{common.HexToHash("0xa9").Hex()}, final.UnwindTxs)
	assert.Equal(t, common.HexToHash("0xee").Hex(), final.TxHash)
	assert.Equal(t, []common.Address{testVault}, h.operator.withdrawals)
	assert.Equal(t, 1, h.agent.calls)
}

func TestDirectWithdrawSkipsUnwind(t *testing.T) {
	h := newWithdrawHarness(40, 0)
	h.net.active = 10
	w := h.build(t, nil)

	pre, err := w.Preflight(context.Background(), baseChain, testOwner)
	require.NoError(t, err)
	require.False(t, pre.NeedsUnwind)
	final := w.Run(context.Background(), pre)

	require.Equal(t, StepComplete, final.Step, final.ErrorMessage())
	assert.Equal(t, []Step{StepIdle, StepSwitchingChain, StepWithdrawing, StepConfirming, StepComplete}, h.rec.steps())
	assert.Zero(t, h.agent.calls)
	assert.Equal(t, testVault.Hex(), final.VaultAddress)
}

func TestWithdrawSignatureRejected(t *testing.T) {
	h := newWithdrawHarness(40, 0)
	h.operator.withdrawErr = rejected()
	w := h.build(t, nil)

	final := w.Execute(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepWithdrawing, clierr.CodeRejected)
	assert.True(t, final.Failure.Rejected)
	assert.Empty(t, final.TxHash)
}

func TestUnwindNeverLandsTimesOut(t *testing.T) {
	h := newWithdrawHarness(0, 75)
	h.positions.never = true
	w := h.build(t, nil)

	final := w.UnwindAndWithdraw(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepPollingBalance, clierr.CodeTimeout)
	assert.Contains(t, final.Failure.Message, "retry later")
	assert.Empty(t, h.operator.withdrawals)
}

func TestUnwindRequestFailure(t *testing.T) {
	h := newWithdrawHarness(0, 75)
	h.agent.err = clierr.New(clierr.CodeUnavailable, "agent offline")
	w := h.build(t, nil)

	final := w.UnwindAndWithdraw(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepUnwinding, clierr.CodeUnavailable)
	assert.Empty(t, h.operator.withdrawals)
}

func TestUnwindAgentFailureStopsAtUnwinding(t *testing.T) {
	h := newWithdrawHarness(0, 75)
	h.agent.err = clierr.New(clierr.CodeUnavailable, "agent unwind failed: LI.FI quote failed")
	w := h.build(t, nil)

	final := w.UnwindAndWithdraw(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepUnwinding, clierr.CodeUnavailable)
	assert.Contains(t, final.Failure.Message, "LI.FI quote failed")
	assert.NotContains(t, h.rec.steps(), StepPollingBalance)
}

func TestUnwindAlreadyIdleWithdrawsFundsInVault(t *testing.T) {
	// Preflight saw deployed value, but the funds reached the vault before
	// the unwind request.
	h := newWithdrawHarness(75, 0)
	h.agent.status = vault.UnwindAlreadyIdle
	w := h.build(t, nil)

	final := w.UnwindAndWithdraw(context.Background(), baseChain, testVault, testOwner)

	require.Equal(t, StepComplete, final.Step, final.ErrorMessage())
	assert.Contains(t, h.rec.steps(), StepPollingBalance)
	assert.Empty(t, final.UnwindTxs)
	assert.Equal(t, []common.Address{testVault}, h.operator.withdrawals)
}

func TestUnwindAlreadyIdleWaitsForDeployedToClear(t *testing.T) {
	h := newWithdrawHarness(0, 75)
	h.agent.status = vault.UnwindAlreadyIdle
	w := h.build(t, nil)

	final := w.UnwindAndWithdraw(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepPollingBalance, clierr.CodeTimeout)
	assert.Empty(t, h.operator.withdrawals)
}

func TestWithdrawSwitchRejected(t *testing.T) {
	h := newWithdrawHarness(40, 0)
	h.net.active = 1
	h.net.switchErr = rejected()
	w := h.build(t, nil)

	final := w.Execute(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepSwitchingChain, clierr.CodeRejected)
	assert.Empty(t, h.operator.withdrawals)
}

func TestWithdrawRefusesEmptyVault(t *testing.T) {
	h := newWithdrawHarness(0, 0)
	w := h.build(t, nil)

	final := w.Execute(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepWithdrawing, clierr.CodeUsage)
	assert.Empty(t, h.operator.withdrawals)
}

func TestWithdrawRequiresVaultAddress(t *testing.T) {
	h := newWithdrawHarness(40, 0)
	w := h.build(t, nil)

	final := w.Execute(context.Background(), baseChain, common.Address{}, testOwner)

	assertFailure(t, final, KindWithdraw, StepIdle, clierr.CodeUsage)
}

func TestWithdrawBusyGuard(t *testing.T) {
	h := newWithdrawHarness(40, 0)
	w := h.build(t, busyGuard{})

	final := w.Execute(context.Background(), baseChain, testVault, testOwner)

	assertFailure(t, final, KindWithdraw, StepIdle, clierr.CodeBusy)
	assert.Empty(t, h.operator.withdrawals)
}
