package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/logging"
	"github.com/ggonzalez94/vaultflow/internal/registry"
)

type contractClient interface {
	Read(ctx context.Context, chainID int64, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error)
	Write(ctx context.Context, chainID int64, to common.Address, contract abi.ABI, method string, args ...any) (common.Hash, error)
}

// Registrar records a vault with the backend index.
type Registrar interface {
	RegisterVault(ctx context.Context, chainID int64, vault common.Address) error
}

type RegisterPolicy struct {
	Attempts int
	// Backoff doubles after every failed attempt.
	Backoff time.Duration
}

func DefaultRegisterPolicy() RegisterPolicy {
	return RegisterPolicy{Attempts: 3, Backoff: 2 * time.Second}
}

// Service resolves, deploys, reads and moves funds through per-user vaults.
type Service struct {
	chain     contractClient
	registrar Registrar
	policy    RegisterPolicy
	logger    *slog.Logger

	factoryABI abi.ABI
	vaultABI   abi.ABI
	erc20ABI   abi.ABI
	erc4626ABI abi.ABI
}

func New(chain contractClient, registrar Registrar, policy RegisterPolicy, logger *slog.Logger) *Service {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		chain:      chain,
		registrar:  registrar,
		policy:     policy,
		logger:     logger,
		factoryABI: mustABI(registry.VaultFactoryABI),
		vaultABI:   mustABI(registry.YieldVaultABI),
		erc20ABI:   mustABI(registry.ERC20MinimalABI),
		erc4626ABI: mustABI(registry.ERC4626MinimalABI),
	}
}

// Resolve reads the factory mapping for owner. The zero address means no
// vault exists yet and is reported as ok=false.
func (s *Service) Resolve(ctx context.Context, chainID int64, owner common.Address) (common.Address, bool, error) {
	factory, err := factoryFor(chainID)
	if err != nil {
		return common.Address{}, false, err
	}
	out, err := s.chain.Read(ctx, chainID, factory, s.factoryABI, "getVault", owner)
	if err != nil {
		return common.Address{}, false, err
	}
	addr, err := firstAddress(out, "getVault")
	if err != nil {
		return common.Address{}, false, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, false, nil
	}
	return addr, true, nil
}

// Deploy submits createVault for the signing wallet. Callers wait for the
// receipt and resolve again; the return value of createVault is not trusted.
func (s *Service) Deploy(ctx context.Context, chainID int64, owner common.Address) (common.Hash, error) {
	factory, err := factoryFor(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	s.logger.Debug("deploying vault", "chain_id", chainID, "owner", owner.Hex())
	return s.chain.Write(ctx, chainID, factory, s.factoryABI, "createVault")
}

// Register records vault with the backend, retrying with doubling backoff.
// The last error is returned once attempts are exhausted.
func (s *Service) Register(ctx context.Context, chainID int64, vault common.Address) error {
	if s.registrar == nil {
		return clierr.New(clierr.CodeUnsupported, "no backend registrar configured")
	}
	delay := s.policy.Backoff
	var lastErr error
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		lastErr = s.registrar.RegisterVault(ctx, chainID, vault)
		if lastErr == nil {
			return nil
		}
		s.logger.Debug("vault registration attempt failed", "attempt", attempt, "vault", vault.Hex(), "err", lastErr)
		if attempt == s.policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func (s *Service) Deposit(ctx context.Context, chainID int64, vault common.Address, amount *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "deposit amount must be positive")
	}
	return s.chain.Write(ctx, chainID, vault, s.vaultABI, "deposit", amount)
}

// Withdraw sends the vault's entire direct balance to its owner.
func (s *Service) Withdraw(ctx context.Context, chainID int64, vault common.Address) (common.Hash, error) {
	return s.chain.Write(ctx, chainID, vault, s.vaultABI, "withdraw")
}

func (s *Service) DirectBalance(ctx context.Context, chainID int64, vault common.Address) (*big.Int, error) {
	out, err := s.chain.Read(ctx, chainID, vault, s.vaultABI, "getBalance")
	if err != nil {
		return nil, err
	}
	return firstUint(out, "getBalance")
}

func factoryFor(chainID int64) (common.Address, error) {
	factory, ok := registry.VaultFactory(chainID)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no vault factory configured for chain %d", chainID))
	}
	return common.HexToAddress(factory), nil
}

func firstAddress(out []any, method string) (common.Address, error) {
	if len(out) == 0 {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned no data", method))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned unexpected type", method))
	}
	return addr, nil
}

func firstUint(out []any, method string) (*big.Int, error) {
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned no data", method))
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned unexpected type", method))
	}
	return v, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
