package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/vaultflow/internal/registry"
)

// Position is the value a vault holds in one yield venue, in USDC base units.
type Position struct {
	Protocol string         `json:"protocol"`
	Token    common.Address `json:"token"`
	Value    *big.Int       `json:"value"`
}

// Snapshot is the pair of balances a withdrawal is planned against.
type Snapshot struct {
	Direct    *big.Int   `json:"direct"`
	Deployed  *big.Int   `json:"deployed"`
	Positions []Position `json:"positions,omitempty"`
}

func (s Snapshot) NeedsUnwind() bool {
	return s.Deployed != nil && s.Deployed.Sign() > 0
}

func (s Snapshot) Total() *big.Int {
	total := new(big.Int)
	if s.Direct != nil {
		total.Add(total, s.Direct)
	}
	if s.Deployed != nil {
		total.Add(total, s.Deployed)
	}
	return total
}

func (s Snapshot) Empty() bool {
	return s.Total().Sign() == 0
}

// UnwindStatus is the agent's verdict on an unwind request.
type UnwindStatus string

const (
	UnwindSubmitted   UnwindStatus = "unwound"
	UnwindAlreadyIdle UnwindStatus = "already_idle"
	UnwindNoFunds     UnwindStatus = "no_funds"
	// UnwindTriggered means only a generic agent cycle was requested.
	UnwindTriggered UnwindStatus = "triggered"
)

type UnwindResult struct {
	Status UnwindStatus
	Hashes []common.Hash
}

// Settled reports that the agent found nothing left to unwind, so the vault
// balance will not grow past what it already holds.
func (r UnwindResult) Settled() bool {
	return r.Status == UnwindAlreadyIdle || r.Status == UnwindNoFunds
}

// Snapshot reads the direct balance and every deployed position. Any failed
// read fails the snapshot; a partial view could hide deployed funds.
func (s *Service) Snapshot(ctx context.Context, chainID int64, vault common.Address) (Snapshot, error) {
	direct, err := s.DirectBalance(ctx, chainID, vault)
	if err != nil {
		return Snapshot{}, err
	}
	deployed, positions, err := s.DeployedValue(ctx, chainID, vault)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Direct: direct, Deployed: deployed, Positions: positions}, nil
}

// DeployedValue sums aToken balances and ERC-4626 share values held by vault.
func (s *Service) DeployedValue(ctx context.Context, chainID int64, vault common.Address) (*big.Int, []Position, error) {
	total := new(big.Int)
	var positions []Position
	for _, src := range registry.PositionSources(chainID) {
		token := common.HexToAddress(src.Token)
		value, err := s.positionValue(ctx, chainID, token, src.Kind, vault)
		if err != nil {
			return nil, nil, err
		}
		if value.Sign() == 0 {
			continue
		}
		total.Add(total, value)
		positions = append(positions, Position{Protocol: src.Protocol, Token: token, Value: value})
	}
	return total, positions, nil
}

func (s *Service) positionValue(ctx context.Context, chainID int64, token common.Address, kind registry.PositionKind, vault common.Address) (*big.Int, error) {
	switch kind {
	case registry.PositionERC4626:
		out, err := s.chain.Read(ctx, chainID, token, s.erc4626ABI, "balanceOf", vault)
		if err != nil {
			return nil, err
		}
		shares, err := firstUint(out, "balanceOf")
		if err != nil {
			return nil, err
		}
		if shares.Sign() == 0 {
			return shares, nil
		}
		out, err = s.chain.Read(ctx, chainID, token, s.erc4626ABI, "convertToAssets", shares)
		if err != nil {
			return nil, err
		}
		return firstUint(out, "convertToAssets")
	default:
		out, err := s.chain.Read(ctx, chainID, token, s.erc20ABI, "balanceOf", vault)
		if err != nil {
			return nil, err
		}
		return firstUint(out, "balanceOf")
	}
}
