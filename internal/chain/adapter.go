package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/vaultflow/internal/chain/signer"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/logging"
	"github.com/ggonzalez94/vaultflow/internal/registry"
)

type Options struct {
	// RPCOverrides replaces registry defaults per chain id.
	RPCOverrides       map[int64]string
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	// ActiveChain is the network the wallet starts on; 0 means none yet.
	ActiveChain int64
	// SwitchConfirmer approves network switches. Nil approves silently.
	SwitchConfirmer signer.Confirmer
	Logger          *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

// Adapter is the wallet-backed chain access layer: contract reads, signed
// contract writes, receipt waits and the wallet's active network.
type Adapter struct {
	signer signer.Signer
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
	active  int64
}

func New(txSigner signer.Signer, opts Options) *Adapter {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = defaults.GasMultiplier
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Adapter{
		signer:  txSigner,
		opts:    opts,
		logger:  logger,
		clients: map[int64]*ethclient.Client{},
		active:  opts.ActiveChain,
	}
}

func (a *Adapter) Account() common.Address {
	if a.signer == nil {
		return common.Address{}
	}
	return a.signer.Address()
}

// SignMessage personal-signs msg with the wallet key.
func (a *Adapter) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if a.signer == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	sig, err := signer.SignMessage(ctx, a.signer, msg)
	if err != nil {
		return nil, wrapSignerError("sign message", err)
	}
	return sig, nil
}

func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, client := range a.clients {
		client.Close()
		delete(a.clients, id)
	}
}

func (a *Adapter) client(ctx context.Context, chainID int64) (*ethclient.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[chainID]; ok {
		return c, nil
	}
	rpcURL, err := registry.ResolveRPCURL(a.opts.RPCOverrides[chainID], chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnsupported, "resolve rpc url", err)
	}
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	a.clients[chainID] = c
	return c, nil
}

// Read calls a view method and returns its unpacked outputs.
func (a *Adapter) Read(ctx context.Context, chainID int64, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	client, err := a.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{From: a.Account(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, wrapEVMExecutionError(clierr.CodeUnavailable, fmt.Sprintf("call %s", method), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s response", method), err)
	}
	return values, nil
}

// Write simulates, signs and broadcasts a contract call on chainID. The
// wallet must already be on chainID.
func (a *Adapter) Write(ctx context.Context, chainID int64, to common.Address, contract abi.ABI, method string, args ...any) (common.Hash, error) {
	if a.signer == nil {
		return common.Hash{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if active := a.ActiveChain(); active != chainID {
		return common.Hash{}, clierr.New(clierr.CodeInconsistent, fmt.Sprintf("wallet is on chain %d, refusing to sign for chain %d", active, chainID))
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	client, err := a.client(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	rpcChainID, err := client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if rpcChainID.Int64() != chainID {
		return common.Hash{}, clierr.New(clierr.CodeInconsistent, fmt.Sprintf("rpc serves chain %d, expected %d", rpcChainID.Int64(), chainID))
	}

	from := a.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &to, Value: big.NewInt(0), Data: data}
	if _, err := client.CallContract(ctx, msg, nil); err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodeReverted, fmt.Sprintf("simulate %s", method), err)
	}
	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodeReverted, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * a.opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, client, a.opts.MaxPriorityFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, a.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}

	unlock := acquireSignerNonceLock(rpcChainID, from)
	defer unlock()
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   rpcChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := signer.SignTx(ctx, a.signer, rpcChainID, tx)
	if err != nil {
		return common.Hash{}, wrapSignerError("sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	a.logger.Debug("transaction submitted", "chain_id", chainID, "method", method, "tx_hash", signed.Hash().Hex())
	return signed.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined. A reverted receipt is
// an error; transient RPC failures are retried until the receipt timeout.
func (a *Adapter) WaitForReceipt(ctx context.Context, chainID int64, txHash common.Hash) (*types.Receipt, error) {
	client, err := a.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, a.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, clierr.New(clierr.CodeReverted, fmt.Sprintf("transaction %s reverted on-chain", txHash.Hex()))
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			a.logger.Debug("receipt poll failed", "tx_hash", txHash.Hex(), "err", err)
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, clierr.Wrap(clierr.CodeTimeout, "receipt wait cancelled", ctx.Err())
			}
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (a *Adapter) ActiveChain() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// SwitchActiveChain moves the wallet to chainID after confirming with the
// user and checking the chain has a reachable RPC.
func (a *Adapter) SwitchActiveChain(ctx context.Context, chainID int64) error {
	if a.ActiveChain() == chainID {
		return nil
	}
	name := fmt.Sprintf("chain %d", chainID)
	if c, ok := registry.LookupChain(chainID); ok {
		name = c.Name
	}
	if a.opts.SwitchConfirmer != nil {
		ok, err := a.opts.SwitchConfirmer.Confirm(ctx, fmt.Sprintf("Switch wallet network to %s?", name))
		if err != nil {
			return wrapSignerError("switch network", err)
		}
		if !ok {
			return clierr.Wrap(clierr.CodeRejected, "network switch declined", clierr.ErrUserRejected)
		}
	}
	client, err := a.client(ctx, chainID)
	if err != nil {
		return err
	}
	rpcChainID, err := client.ChainID(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if rpcChainID.Int64() != chainID {
		return clierr.New(clierr.CodeInconsistent, fmt.Sprintf("rpc serves chain %d, expected %d", rpcChainID.Int64(), chainID))
	}
	a.mu.Lock()
	a.active = chainID
	a.mu.Unlock()
	a.logger.Debug("wallet network switched", "chain_id", chainID)
	return nil
}

func wrapSignerError(message string, err error) error {
	if clierr.IsRejected(err) {
		return clierr.Wrap(clierr.CodeRejected, "user rejected the request", err)
	}
	if typed, ok := clierr.As(err); ok {
		return typed
	}
	return clierr.Wrap(clierr.CodeSigner, message, err)
}

// ParseTxHash accepts a 0x-prefixed 32-byte hex hash.
func ParseTxHash(raw string) (common.Hash, bool) {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "0x") || len(clean) != 66 {
		return common.Hash{}, false
	}
	if _, err := decodeHex(clean); err != nil {
		return common.Hash{}, false
	}
	return common.HexToHash(clean), true
}
