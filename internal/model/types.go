package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	// Step is the flow step a failed flow stopped at.
	Step string `json:"step,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	FlowID    string    `json:"flow_id,omitempty"`
	ChainID   string    `json:"chain_id,omitempty"`
}

// Amount is a USDC quantity in both exact base units and display form.
type Amount struct {
	BaseUnits string `json:"base_units"`
	Decimal   string `json:"decimal"`
}

type ChainInfo struct {
	ChainID      string `json:"chain_id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	USDC         string `json:"usdc"`
	VaultFactory string `json:"vault_factory,omitempty"`
	Supported    bool   `json:"supported"`
}

type VaultInfo struct {
	ChainID string `json:"chain_id"`
	Owner   string `json:"owner"`
	Vault   string `json:"vault_address,omitempty"`
	Exists  bool   `json:"exists"`
}

type PositionInfo struct {
	Protocol string `json:"protocol"`
	Token    string `json:"token"`
	Value    Amount `json:"value"`
}

type WithdrawPreview struct {
	ChainID     string         `json:"chain_id"`
	Owner       string         `json:"owner"`
	Vault       string         `json:"vault_address,omitempty"`
	Direct      Amount         `json:"direct_balance"`
	Deployed    Amount         `json:"deployed_value"`
	Total       Amount         `json:"total"`
	Positions   []PositionInfo `json:"positions,omitempty"`
	NeedsUnwind bool           `json:"needs_unwind"`
	Nothing     bool           `json:"nothing_to_withdraw"`
}

type FlowResult struct {
	FlowID       string   `json:"flow_id"`
	Kind         string   `json:"kind"`
	ChainID      string   `json:"chain_id"`
	Step         string   `json:"step"`
	Amount       *Amount  `json:"amount,omitempty"`
	TxHash       string   `json:"tx_hash,omitempty"`
	ExplorerURL  string   `json:"explorer_url,omitempty"`
	VaultAddress string   `json:"vault_address,omitempty"`
	UnwindTxs    []string `json:"unwind_tx_hashes,omitempty"`
	ErrorAtStep  string   `json:"error_at_step,omitempty"`
	Error        string   `json:"error,omitempty"`
	Abandoned    bool     `json:"abandoned,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}
