package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/vaultflow/internal/chain"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/httpx"
	"github.com/ggonzalez94/vaultflow/internal/logging"
	"github.com/ggonzalez94/vaultflow/internal/vault"
	"github.com/tidwall/gjson"
)

type tokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the vault index and agent endpoints of the backend.
type Client struct {
	http    *httpx.Client
	// once serves registration, whose retries belong to the caller.
	once    *httpx.Client
	baseURL string
	auth    tokenSource
	logger  *slog.Logger
}

func New(client *httpx.Client, baseURL string, auth tokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		http:    client,
		once:    client.WithRetries(0),
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		logger:  logger,
	}
}

type registerVaultRequest struct {
	ChainID      int64  `json:"chain_id"`
	VaultAddress string `json:"vault_address"`
}

type triggerRequest struct {
	WalletAddress string `json:"wallet_address,omitempty"`
}

type unwindRequest struct {
	WalletAddress string `json:"wallet_address"`
	ChainID       int64  `json:"chain_id"`
	VaultAddress  string `json:"vault_address"`
}

// RegisterVault records a vault in the backend index with a single POST.
// The endpoint is get-or-create so callers may repeat it. A follow-up agent
// trigger is best-effort.
func (c *Client) RegisterVault(ctx context.Context, chainID int64, vaultAddr common.Address) error {
	req := registerVaultRequest{ChainID: chainID, VaultAddress: vaultAddr.Hex()}
	if err := c.post(ctx, c.once, "/wallet/register-vault/", req, nil); err != nil {
		return err
	}
	if err := c.TriggerAgent(ctx, common.Address{}); err != nil {
		c.logger.Warn("agent trigger after registration failed", "vault", vaultAddr.Hex(), "err", err)
	}
	return nil
}

// TriggerAgent asks the agent to run a cycle. A zero wallet lets the backend
// use the authenticated wallet.
func (c *Client) TriggerAgent(ctx context.Context, wallet common.Address) error {
	req := triggerRequest{}
	if wallet != (common.Address{}) {
		req.WalletAddress = wallet.Hex()
	}
	return c.post(ctx, c.http, "/agent/trigger/", req, nil)
}

// RequestUnwind asks the agent to pull deployed funds back into the vault.
// Backends without the unwind route fall back to a plain agent trigger. An
// agent that reports failure yields an error carrying its first message.
func (c *Client) RequestUnwind(ctx context.Context, chainID int64, vaultAddr, owner common.Address) (vault.UnwindResult, error) {
	var raw json.RawMessage
	err := c.post(ctx, c.http, "/agent/unwind/", unwindRequest{
		WalletAddress: owner.Hex(),
		ChainID:       chainID,
		VaultAddress:  vaultAddr.Hex(),
	}, &raw)
	if err != nil {
		if httpx.StatusOf(err) == http.StatusNotFound {
			c.logger.Debug("unwind endpoint unavailable, triggering agent cycle", "vault", vaultAddr.Hex())
			if err := c.TriggerAgent(ctx, owner); err != nil {
				return vault.UnwindResult{}, err
			}
			return vault.UnwindResult{Status: vault.UnwindTriggered}, nil
		}
		return vault.UnwindResult{}, err
	}

	status := gjson.GetBytes(raw, "status").String()
	if status == "failed" {
		msg := gjson.GetBytes(raw, "errors.0").String()
		if msg == "" {
			msg = "no reason given"
		}
		return vault.UnwindResult{}, clierr.New(clierr.CodeUnavailable, "agent unwind failed: "+msg)
	}
	res := vault.UnwindResult{Status: vault.UnwindStatus(status)}
	if status == "" {
		res.Status = vault.UnwindSubmitted
	}
	for _, v := range gjson.GetBytes(raw, "tx_hashes").Array() {
		if h, ok := chain.ParseTxHash(v.String()); ok {
			res.Hashes = append(res.Hashes, h)
		}
	}
	return res, nil
}

// post sends an authenticated JSON request, refreshing the session once if
// the backend rejects the token.
func (c *Client) post(ctx context.Context, client *httpx.Client, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode request", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		headers := map[string]string{}
		if c.auth != nil {
			token, err := c.auth.Token(ctx)
			if err != nil {
				return err
			}
			headers["Authorization"] = "Bearer " + token
		}
		_, err = httpx.DoBodyJSON(ctx, client, http.MethodPost, c.baseURL+path, body, headers, out)
		if err == nil {
			return nil
		}
		if clierr.CodeOf(err) != clierr.CodeAuth || c.auth == nil || attempt > 0 {
			return err
		}
		c.auth.Invalidate()
	}
	return err
}
