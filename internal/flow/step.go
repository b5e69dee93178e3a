package flow

// Kind names the orchestrator that produced a State.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// Step is the phase a flow is in. Steps only move forward through the
// nominal sequence of their kind, except that any step may move to StepError.
type Step string

const (
	StepIdle             Step = "idle"
	StepCheckingVault    Step = "checking_vault"
	StepDeployingVault   Step = "deploying_vault"
	StepRegisteringVault Step = "registering_vault"
	StepSwitchingChain   Step = "switching_chain"
	StepApprovingUSDC    Step = "approving_usdc"
	StepDepositing       Step = "depositing"
	StepUnwinding        Step = "unwinding"
	StepPollingBalance   Step = "polling_balance"
	StepWithdrawing      Step = "withdrawing"
	StepConfirming       Step = "confirming"
	StepComplete         Step = "complete"
	StepError            Step = "error"
)

var (
	depositSequence = []Step{
		StepIdle,
		StepCheckingVault,
		StepDeployingVault,
		StepRegisteringVault,
		StepSwitchingChain,
		StepApprovingUSDC,
		StepDepositing,
		StepConfirming,
		StepComplete,
	}
	withdrawSequence = []Step{
		StepIdle,
		StepUnwinding,
		StepPollingBalance,
		StepSwitchingChain,
		StepWithdrawing,
		StepConfirming,
		StepComplete,
	}
)

// Sequence returns the nominal step order for kind.
func Sequence(kind Kind) []Step {
	var src []Step
	switch kind {
	case KindDeposit:
		src = depositSequence
	case KindWithdraw:
		src = withdrawSequence
	default:
		return nil
	}
	out := make([]Step, len(src))
	copy(out, src)
	return out
}

func (s Step) Terminal() bool {
	return s == StepComplete || s == StepError
}

// Index is the position of s in kind's nominal sequence, or -1.
func Index(kind Kind, s Step) int {
	seq := depositSequence
	if kind == KindWithdraw {
		seq = withdrawSequence
	}
	for i, v := range seq {
		if v == s {
			return i
		}
	}
	return -1
}

// ValidFailureStep reports whether s may be recorded as the failure point of
// a kind flow: it must belong to the sequence and come before completion.
func ValidFailureStep(kind Kind, s Step) bool {
	idx := Index(kind, s)
	return idx >= 0 && s != StepComplete
}
