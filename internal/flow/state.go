package flow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

// Failure records where and why a flow stopped. It is attached at the point
// the error is caught, never inferred afterwards.
type Failure struct {
	FailedAt Step        `json:"error_at_step"`
	Message  string      `json:"error"`
	Code     clierr.Code `json:"code"`
	Type     string      `json:"type"`
	// Rejected marks user cancellations, which are not infrastructure faults.
	Rejected bool `json:"rejected"`
}

// State is the snapshot published after every transition.
type State struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	ChainID      int64     `json:"chain_id"`
	Owner        string    `json:"owner"`
	Amount       string    `json:"amount,omitempty"`
	Step         Step      `json:"step"`
	TxHash       string    `json:"tx_hash,omitempty"`
	VaultAddress string    `json:"vault_address,omitempty"`
	UnwindTxs    []string  `json:"unwind_tx_hashes,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	Failure      *Failure  `json:"failure,omitempty"`
	Abandoned    bool      `json:"abandoned,omitempty"`
	AbandonedAt  Step      `json:"abandoned_at,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s State) Failed() bool {
	return s.Step == StepError && s.Failure != nil
}

func (s State) ErrorMessage() string {
	if s.Failure == nil {
		return ""
	}
	return s.Failure.Message
}

func (s State) ErrorAtStep() Step {
	if s.Failure == nil {
		return ""
	}
	return s.Failure.FailedAt
}

// Err converts a failed state into a typed error for exit-code mapping.
func (s State) Err() error {
	if !s.Failed() {
		return nil
	}
	return clierr.New(s.Failure.Code, string(s.Failure.FailedAt)+": "+s.Failure.Message)
}

func (s State) clone() State {
	out := s
	if s.UnwindTxs != nil {
		out.UnwindTxs = append([]string(nil), s.UnwindTxs...)
	}
	if s.Warnings != nil {
		out.Warnings = append([]string(nil), s.Warnings...)
	}
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	return out
}

func newFailure(at Step, err error) *Failure {
	code := clierr.CodeOf(err)
	rejected := clierr.IsRejected(err)
	if rejected {
		code = clierr.CodeRejected
	}
	return &Failure{
		FailedAt: at,
		Message:  err.Error(),
		Code:     code,
		Type:     clierr.TypeName(code),
		Rejected: rejected,
	}
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
