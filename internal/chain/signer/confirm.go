package signer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"golang.org/x/term"
)

// Confirmer asks the account holder to approve a wallet action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoConfirm approves everything (--yes).
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, string) (bool, error) { return true, nil }

// TerminalConfirmer prompts on an interactive terminal and refuses to run
// when input is not a TTY.
type TerminalConfirmer struct {
	In  *os.File
	Out io.Writer
}

func (c TerminalConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	in := c.In
	if in == nil {
		in = os.Stdin
	}
	if !term.IsTerminal(int(in.Fd())) {
		return false, clierr.New(clierr.CodeUsage, "confirmation required: rerun with --yes in non-interactive mode")
	}
	return promptYesNo(ctx, in, c.Out, prompt)
}

func promptYesNo(ctx context.Context, in io.Reader, out io.Writer, prompt string) (bool, error) {
	if out == nil {
		out = os.Stderr
	}
	if _, err := fmt.Fprintf(out, "%s [y/N]: ", prompt); err != nil {
		return false, err
	}
	// A read on stdin cannot be interrupted; after cancellation the reader
	// exits on the next line or when the process ends.
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// ConfirmingSigner gates every signature behind a Confirmer. A declined
// prompt surfaces as ErrUserRejected, mirroring a wallet's cancel button.
type ConfirmingSigner struct {
	Signer
	Confirmer Confirmer
	Describe  func(chainID *big.Int, tx *types.Transaction) string
}

func (s *ConfirmingSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return s.SignTxContext(context.Background(), chainID, tx)
}

// SignTxContext prompts for approval; cancelling ctx abandons the prompt.
func (s *ConfirmingSigner) SignTxContext(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	describe := s.Describe
	if describe == nil {
		describe = DescribeTx
	}
	if err := s.confirm(ctx, describe(chainID, tx)); err != nil {
		return nil, err
	}
	return s.Signer.SignTx(chainID, tx)
}

func (s *ConfirmingSigner) SignMessage(msg []byte) ([]byte, error) {
	return s.SignMessageContext(context.Background(), msg)
}

func (s *ConfirmingSigner) SignMessageContext(ctx context.Context, msg []byte) ([]byte, error) {
	if err := s.confirm(ctx, fmt.Sprintf("Sign message:\n%s\n", string(msg))); err != nil {
		return nil, err
	}
	return s.Signer.SignMessage(msg)
}

func (s *ConfirmingSigner) confirm(ctx context.Context, prompt string) error {
	if s.Confirmer == nil {
		return nil
	}
	ok, err := s.Confirmer.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return clierr.ErrUserRejected
	}
	return nil
}

// DescribeTx renders a one-line summary for confirmation prompts.
func DescribeTx(chainID *big.Int, tx *types.Transaction) string {
	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	selector := "0x"
	if data := tx.Data(); len(data) >= 4 {
		selector = "0x" + common.Bytes2Hex(data[:4])
	}
	return fmt.Sprintf("Sign transaction on chain %s to %s (selector %s, gas %d)", chainID.String(), to, selector, tx.Gas())
}
