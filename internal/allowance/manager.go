package allowance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/registry"
)

type contractClient interface {
	Read(ctx context.Context, chainID int64, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error)
	Write(ctx context.Context, chainID int64, to common.Address, contract abi.ABI, method string, args ...any) (common.Hash, error)
}

// Manager reads and raises the USDC allowance a vault may pull from its owner.
// Every check is a fresh chain read.
type Manager struct {
	chain contractClient
	erc20 abi.ABI
}

func New(chain contractClient) *Manager {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return &Manager{chain: chain, erc20: parsed}
}

func (m *Manager) CurrentAllowance(ctx context.Context, chainID int64, owner, spender common.Address) (*big.Int, error) {
	token, err := usdc(chainID)
	if err != nil {
		return nil, err
	}
	out, err := m.chain.Read(ctx, chainID, token, m.erc20, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "allowance call returned no data")
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "allowance call returned unexpected type")
	}
	return value, nil
}

// NeedsApproval re-reads the allowance and reports whether it is short of amount.
func (m *Manager) NeedsApproval(ctx context.Context, chainID int64, owner, spender common.Address, amount *big.Int) (bool, error) {
	current, err := m.CurrentAllowance(ctx, chainID, owner, spender)
	if err != nil {
		return false, err
	}
	return Insufficient(current, amount), nil
}

// Approve submits approve(spender, amount) on the chain's USDC token.
func (m *Manager) Approve(ctx context.Context, chainID int64, spender common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "approval amount must be positive")
	}
	token, err := usdc(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return m.chain.Write(ctx, chainID, token, m.erc20, "approve", spender, amount)
}

// Insufficient compares in base units.
func Insufficient(current, amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	if current == nil {
		return true
	}
	return current.Cmp(amount) < 0
}

func usdc(chainID int64) (common.Address, error) {
	addr, ok := registry.USDCAddress(chainID)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no deposit token configured for chain %d", chainID))
	}
	return common.HexToAddress(addr), nil
}
