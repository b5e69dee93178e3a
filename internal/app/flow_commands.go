package app

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/flow"
	"github.com/ggonzalez94/vaultflow/internal/id"
	"github.com/ggonzalez94/vaultflow/internal/registry"
	"github.com/ggonzalez94/vaultflow/internal/schema"
)

// resolveChain parses --chain, falling back to the chain of the last flow of
// the same kind.
func (s *runtimeState) resolveChain(chainArg string, kind flow.Kind) (registry.Chain, error) {
	if chainArg != "" {
		return id.ParseChain(chainArg)
	}
	st, err := s.openStore()
	if err != nil {
		return registry.Chain{}, err
	}
	sel, ok, err := st.LastSelection(kind)
	if err != nil {
		return registry.Chain{}, clierr.Wrap(clierr.CodeInternal, "read last selection", err)
	}
	if !ok || sel.ChainID == 0 {
		return registry.Chain{}, clierr.New(clierr.CodeUsage, "--chain is required")
	}
	c, ok := registry.LookupChain(sel.ChainID)
	if !ok {
		return registry.Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("chain %d is not supported", sel.ChainID))
	}
	return c, nil
}

func (s *runtimeState) newDepositCommand() *cobra.Command {
	var wallet walletOptions
	var chainArg, amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit USDC into the wallet's vault, deploying and approving as needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.resolveChain(chainArg, flow.KindDeposit)
			if err != nil {
				return err
			}
			amount, _, err := id.NormalizeAmount(amountBase, amountDecimal, registry.USDCDecimals)
			if err != nil {
				return err
			}
			svc, err := s.openServices(wallet, true)
			if err != nil {
				return err
			}
			guard, err := s.guard(cmd.Context())
			if err != nil {
				return err
			}
			tracker, err := s.newTracker()
			if err != nil {
				return err
			}
			deposit, err := flow.NewDeposit(flow.DepositDeps{
				Vaults:    svc.vaults,
				Allowance: svc.allowance,
				Operator:  svc.vaults,
				Network:   svc.adapter,
				Guard:     guard,
			}, tracker, s.flowOptions())
			if err != nil {
				return err
			}
			state := deposit.Execute(cmd.Context(), c.ID, amount, svc.adapter.Account())
			return s.finishFlow(trimRootPath(cmd.CommandPath()), state)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain slug, id or CAIP-2 (defaults to the last deposit's chain)")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in USDC base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal USDC")
	wallet.bind(cmd)
	return schema.MarkSigning(cmd)
}

func (s *runtimeState) newWithdrawCommand() *cobra.Command {
	root := &cobra.Command{Use: "withdraw", Short: "Withdraw the full vault balance to the owner"}

	var previewWallet walletOptions
	var previewChain, previewOwner string
	preflightCmd := &cobra.Command{
		Use:   "preflight",
		Short: "Show direct and deployed balances without submitting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, owner, err := s.withdrawFlow(previewWallet, previewOwner, nil)
			if err != nil {
				return err
			}
			c, err := s.resolveChain(previewChain, flow.KindWithdraw)
			if err != nil {
				return err
			}
			p, err := w.Preflight(cmd.Context(), c.ID, owner)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), withdrawPreview(p), nil)
		},
	}
	preflightCmd.Flags().StringVar(&previewChain, "chain", "", "Chain slug, id or CAIP-2 (defaults to the last withdrawal's chain)")
	preflightCmd.Flags().StringVar(&previewOwner, "owner", "", "Vault owner (defaults to the signing wallet)")
	previewWallet.bind(preflightCmd)
	root.AddCommand(preflightCmd)

	var runWallet walletOptions
	var runChain string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Unwind deployed funds if needed, then withdraw everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := trimRootPath(cmd.CommandPath())
			c, err := s.resolveChain(runChain, flow.KindWithdraw)
			if err != nil {
				return err
			}
			guard, err := s.guard(ctx)
			if err != nil {
				return err
			}
			w, owner, err := s.withdrawFlow(runWallet, "", guard)
			if err != nil {
				return err
			}
			p, err := w.Preflight(ctx, c.ID, owner)
			if err != nil {
				return err
			}
			if p.Nothing {
				return s.emitSuccess(path, withdrawPreview(p), []string{"nothing to withdraw"})
			}
			ok, err := s.confirmer(runWallet.yes).Confirm(ctx, withdrawPrompt(c, p))
			if err != nil {
				return err
			}
			if !ok {
				return clierr.Wrap(clierr.CodeRejected, "withdrawal declined", clierr.ErrUserRejected)
			}
			return s.finishFlow(path, w.Run(ctx, p))
		},
	}
	runCmd.Flags().StringVar(&runChain, "chain", "", "Chain slug, id or CAIP-2 (defaults to the last withdrawal's chain)")
	runWallet.bind(runCmd)
	root.AddCommand(schema.MarkSigning(runCmd))

	return root
}

// withdrawFlow wires a withdraw orchestrator. An explicit owner allows a
// read-only preflight without loading a key.
func (s *runtimeState) withdrawFlow(wallet walletOptions, ownerArg string, guard flow.Guard) (*flow.Withdraw, common.Address, error) {
	var owner common.Address
	if ownerArg != "" {
		addr, err := id.ParseAddress("--owner", ownerArg)
		if err != nil {
			return nil, common.Address{}, err
		}
		owner = addr
	}
	svc, err := s.openServices(wallet, ownerArg == "")
	if err != nil {
		return nil, common.Address{}, err
	}
	if ownerArg == "" {
		owner = svc.adapter.Account()
	}
	tracker, err := s.newTracker()
	if err != nil {
		return nil, common.Address{}, err
	}
	w, err := flow.NewWithdraw(flow.WithdrawDeps{
		Vaults:    svc.vaults,
		Positions: svc.vaults,
		Operator:  svc.vaults,
		Agent:     svc.backend,
		Network:   svc.adapter,
		Guard:     guard,
	}, tracker, s.flowOptions())
	if err != nil {
		return nil, common.Address{}, err
	}
	return w, owner, nil
}

func withdrawPrompt(c registry.Chain, p flow.Preflight) string {
	total := usdcAmount(p.Total).Decimal
	if p.NeedsUnwind {
		return fmt.Sprintf("Withdraw %s USDC from %s on %s? %s USDC is deployed and will be unwound by the agent first.",
			total, p.Vault.Hex(), c.Name, usdcAmount(p.Deployed).Decimal)
	}
	return fmt.Sprintf("Withdraw %s USDC from %s on %s?", total, p.Vault.Hex(), c.Name)
}
