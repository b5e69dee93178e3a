package vault_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/vaultflow/internal/backend"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/httpx"
	"github.com/ggonzalez94/vaultflow/internal/vault"
)

func TestRegisterAgainstFailingBackendMakesPolicyAttempts(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/wallet/register-vault/" {
			atomic.AddInt32(&posts, 1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := backend.New(httpx.New(5*time.Second, 2), srv.URL, nil, nil)
	svc := vault.New(nil, client, vault.RegisterPolicy{Attempts: 3, Backoff: time.Millisecond}, nil)

	err := svc.Register(context.Background(), 8453, common.HexToAddress("0x00000000000000000000000000000000000000cc"))
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := atomic.LoadInt32(&posts); got != 3 {
		t.Fatalf("expected 3 registration posts, got %d", got)
	}
}
