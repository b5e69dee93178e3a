package flow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/vaultflow/internal/vault"
)

// VaultResolver finds, deploys and indexes a user's vault.
type VaultResolver interface {
	Resolve(ctx context.Context, chainID int64, owner common.Address) (common.Address, bool, error)
	Deploy(ctx context.Context, chainID int64, owner common.Address) (common.Hash, error)
	Register(ctx context.Context, chainID int64, vault common.Address) error
}

type AllowanceManager interface {
	NeedsApproval(ctx context.Context, chainID int64, owner, spender common.Address, amount *big.Int) (bool, error)
	Approve(ctx context.Context, chainID int64, spender common.Address, amount *big.Int) (common.Hash, error)
}

type PositionReader interface {
	Snapshot(ctx context.Context, chainID int64, vault common.Address) (vault.Snapshot, error)
	DirectBalance(ctx context.Context, chainID int64, vault common.Address) (*big.Int, error)
}

type VaultOperator interface {
	Deposit(ctx context.Context, chainID int64, vault common.Address, amount *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context, chainID int64, vault common.Address) (common.Hash, error)
}

// Agent asks the backend to pull deployed funds back into the vault. An
// agent-reported failure is returned as an error.
type Agent interface {
	RequestUnwind(ctx context.Context, chainID int64, vault, owner common.Address) (vault.UnwindResult, error)
}

// Network is the wallet's view of chains: which one it signs for, how to
// move it, and how to wait for inclusion.
type Network interface {
	ActiveChain() int64
	SwitchActiveChain(ctx context.Context, chainID int64) error
	WaitForReceipt(ctx context.Context, chainID int64, hash common.Hash) (*types.Receipt, error)
}

// Guard serializes flows per user. TryLock fails with a busy error when the
// key is held.
type Guard interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}
