package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/httpx"
	"github.com/tidwall/gjson"
)

const (
	defaultTokenTTL = time.Hour
	refreshSkew     = 30 * time.Second
)

type messageSigner interface {
	Account() common.Address
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

type nonceResponse struct {
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	ExpiresAt string `json:"expires_at"`
}

type verifyRequest struct {
	WalletAddress string `json:"wallet_address"`
	Message       string `json:"message"`
	Signature     string `json:"signature"`
	Nonce         string `json:"nonce"`
}

// Session holds the backend bearer token. A static token bypasses SIWE;
// otherwise the wallet signs in through the nonce/verify handshake.
type Session struct {
	http    *httpx.Client
	baseURL string
	signer  messageSigner
	gate    *Gate
	static  string
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewSession(client *httpx.Client, baseURL string, signer messageSigner, staticToken string, gate *Gate) *Session {
	if gate == nil {
		gate = ProcessGate()
	}
	return &Session{
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		gate:    gate,
		static:  strings.TrimSpace(staticToken),
		now:     time.Now,
	}
}

// Token returns a valid bearer token, signing in when needed. Concurrent
// callers wait on the gate and reuse the token the first caller obtained.
func (s *Session) Token(ctx context.Context) (string, error) {
	if s.static != "" {
		return s.static, nil
	}
	if tok, ok := s.cached(); ok {
		return tok, nil
	}
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	if tok, ok := s.cached(); ok {
		return tok, nil
	}
	tok, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.token = tok
	s.expiresAt = tokenExpiry(tok, s.now())
	s.mu.Unlock()
	return tok, nil
}

// Invalidate drops the cached token after the backend refuses it.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *Session) Static() bool {
	return s.static != ""
}

func (s *Session) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.now().Add(refreshSkew).Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

func (s *Session) login(ctx context.Context) (string, error) {
	if s.signer == nil {
		return "", clierr.New(clierr.CodeAuth, "backend token missing and no wallet available to sign in")
	}
	wallet := s.signer.Account().Hex()

	body, _ := json.Marshal(map[string]string{"wallet_address": wallet})
	var nonce nonceResponse
	if _, err := httpx.DoBodyJSON(ctx, s.http, http.MethodPost, s.baseURL+"/auth/nonce/", body, nil, &nonce); err != nil {
		return "", clierr.Wrap(clierr.CodeAuth, "request sign-in nonce", err)
	}
	if nonce.Message == "" || nonce.Nonce == "" {
		return "", clierr.New(clierr.CodeAuth, "backend returned an incomplete sign-in challenge")
	}

	sig, err := s.signer.SignMessage(ctx, []byte(nonce.Message))
	if err != nil {
		if clierr.IsRejected(err) {
			return "", clierr.Wrap(clierr.CodeRejected, "sign-in signature declined", err)
		}
		return "", clierr.Wrap(clierr.CodeSigner, "sign sign-in message", err)
	}

	body, _ = json.Marshal(verifyRequest{
		WalletAddress: wallet,
		Message:       nonce.Message,
		Signature:     hexutil.Encode(sig),
		Nonce:         nonce.Nonce,
	})
	var raw json.RawMessage
	if _, err := httpx.DoBodyJSON(ctx, s.http, http.MethodPost, s.baseURL+"/auth/verify/", body, nil, &raw); err != nil {
		return "", clierr.Wrap(clierr.CodeAuth, "verify sign-in signature", err)
	}
	token := gjson.GetBytes(raw, "token").String()
	if token == "" {
		return "", clierr.New(clierr.CodeAuth, "backend verify response missing token")
	}
	return token, nil
}

// tokenExpiry reads the exp claim without verifying the JWT; the backend is
// the verifier. Opaque tokens get a fixed lifetime.
func tokenExpiry(token string, now time.Time) time.Time {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return now.Add(defaultTokenTTL)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return now.Add(defaultTokenTTL)
	}
	exp := gjson.GetBytes(payload, "exp")
	if !exp.Exists() || exp.Int() <= 0 {
		return now.Add(defaultTokenTTL)
	}
	return time.Unix(exp.Int(), 0)
}
