package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	// SignMessage produces an EIP-191 personal_sign signature.
	SignMessage(msg []byte) ([]byte, error)
}

// ContextSigner is a Signer whose approval step can be abandoned when the
// caller's context ends.
type ContextSigner interface {
	SignTxContext(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	SignMessageContext(ctx context.Context, msg []byte) ([]byte, error)
}

// SignTx signs through s, passing ctx along when s accepts one.
func SignTx(ctx context.Context, s Signer, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if cs, ok := s.(ContextSigner); ok {
		return cs.SignTxContext(ctx, chainID, tx)
	}
	return s.SignTx(chainID, tx)
}

func SignMessage(ctx context.Context, s Signer, msg []byte) ([]byte, error) {
	if cs, ok := s.(ContextSigner); ok {
		return cs.SignMessageContext(ctx, msg)
	}
	return s.SignMessage(msg)
}
