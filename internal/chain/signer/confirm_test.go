package signer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

type scriptedConfirmer struct {
	answer  bool
	prompts []string
}

func (c *scriptedConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	c.prompts = append(c.prompts, prompt)
	return c.answer, nil
}

func TestConfirmingSignerDeclineReturnsUserRejected(t *testing.T) {
	base, err := NewLocalSignerFromInputs(KeySourceAuto, testPrivateKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	confirmer := &scriptedConfirmer{answer: false}
	s := &ConfirmingSigner{Signer: base, Confirmer: confirmer}

	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(8453), To: &to, Gas: 50_000, Data: common.FromHex("0xb6b55f25")})
	_, err = s.SignTx(big.NewInt(8453), tx)
	if !errors.Is(err, clierr.ErrUserRejected) {
		t.Fatalf("expected user rejection, got %v", err)
	}
	if !clierr.IsRejected(err) {
		t.Fatal("expected IsRejected to recognise the sentinel")
	}
	if len(confirmer.prompts) != 1 || !strings.Contains(confirmer.prompts[0], "0xb6b55f25") {
		t.Fatalf("unexpected prompts: %#v", confirmer.prompts)
	}
}

func TestConfirmingSignerApproveDelegates(t *testing.T) {
	base, err := NewLocalSignerFromInputs(KeySourceAuto, testPrivateKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	s := &ConfirmingSigner{Signer: base, Confirmer: AutoConfirm{}}
	if _, err := s.SignMessage([]byte("hello")); err != nil {
		t.Fatalf("expected approved signature, got %v", err)
	}
}

// blockingConfirmer waits for ctx, like a prompt nobody answers.
type blockingConfirmer struct{}

func (blockingConfirmer) Confirm(ctx context.Context, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestConfirmingSignerHonoursCallerContext(t *testing.T) {
	base, err := NewLocalSignerFromInputs(KeySourceAuto, testPrivateKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	var s Signer = &ConfirmingSigner{Signer: base, Confirmer: blockingConfirmer{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(8453), To: &to, Gas: 50_000})
	if _, err := SignTx(ctx, s, big.NewInt(8453), tx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled prompt, got %v", err)
	}
	if _, err := SignMessage(ctx, s, []byte("hello")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled prompt, got %v", err)
	}
}

func TestPromptYesNoCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer func() { _ = w.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := promptYesNo(ctx, r, io.Discard, "Proceed?"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPromptYesNo(t *testing.T) {
	var out bytes.Buffer
	ok, err := promptYesNo(context.Background(), strings.NewReader("yes\n"), &out, "Proceed?")
	if err != nil || !ok {
		t.Fatalf("expected yes, got ok=%v err=%v", ok, err)
	}
	if !strings.Contains(out.String(), "Proceed? [y/N]") {
		t.Fatalf("unexpected prompt: %q", out.String())
	}
	ok, err = promptYesNo(context.Background(), strings.NewReader("\n"), &out, "Proceed?")
	if err != nil || ok {
		t.Fatalf("expected default no, got ok=%v err=%v", ok, err)
	}
}
