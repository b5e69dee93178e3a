package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/vaultflow/internal/api"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/flow"
	"github.com/ggonzalez94/vaultflow/internal/id"
	"github.com/ggonzalez94/vaultflow/internal/model"
	"github.com/ggonzalez94/vaultflow/internal/registry"
	"github.com/ggonzalez94/vaultflow/internal/store"
)

func (s *runtimeState) newVaultCommand() *cobra.Command {
	root := &cobra.Command{Use: "vault", Short: "Vault lookups"}

	var wallet walletOptions
	var chainArg, ownerArg string
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Look up the vault a wallet owns on a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			var owner common.Address
			if ownerArg != "" {
				if owner, err = id.ParseAddress("--owner", ownerArg); err != nil {
					return err
				}
			}
			svc, err := s.openServices(wallet, ownerArg == "")
			if err != nil {
				return err
			}
			if ownerArg == "" {
				owner = svc.adapter.Account()
			}
			addr, ok, err := svc.vaults.Resolve(cmd.Context(), c.ID, owner)
			if err != nil {
				return err
			}
			info := model.VaultInfo{ChainID: id.CAIP2(c.ID), Owner: owner.Hex(), Exists: ok}
			if ok {
				info.Vault = addr.Hex()
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), info, nil)
		},
	}
	resolveCmd.Flags().StringVar(&chainArg, "chain", "", "Chain slug, id or CAIP-2")
	resolveCmd.Flags().StringVar(&ownerArg, "owner", "", "Vault owner (defaults to the signing wallet)")
	_ = resolveCmd.MarkFlagRequired("chain")
	wallet.bind(resolveCmd)
	root.AddCommand(resolveCmd)
	return root
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Known chains"}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known chains and whether vaults can be deployed on them",
		RunE: func(cmd *cobra.Command, args []string) error {
			chains := registry.Chains()
			data := make([]model.ChainInfo, 0, len(chains))
			for _, c := range chains {
				data = append(data, chainInfo(c))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	root.AddCommand(listCmd)
	return root
}

func (s *runtimeState) newFlowsCommand() *cobra.Command {
	root := &cobra.Command{Use: "flows", Short: "Recorded deposit and withdraw flows"}

	var kindArg, stepArg, ownerArg string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent flows, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFlowFilter(kindArg, stepArg, ownerArg, limit)
			if err != nil {
				return err
			}
			st, err := s.openStore()
			if err != nil {
				return err
			}
			flows, err := st.List(filter)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list flows", err)
			}
			data := make([]model.FlowResult, 0, len(flows))
			for _, f := range flows {
				data = append(data, flowResult(f))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	listCmd.Flags().StringVar(&kindArg, "kind", "", "Filter by kind (deposit|withdraw)")
	listCmd.Flags().StringVar(&stepArg, "step", "", "Filter by current step")
	listCmd.Flags().StringVar(&ownerArg, "owner", "", "Filter by owner address")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum flows to return")
	root.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show <flow-id>",
		Short: "Show one flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			f, err := st.Get(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), flowResult(f), f.Warnings)
		},
	}
	root.AddCommand(showCmd)
	return root
}

func parseFlowFilter(kindArg, stepArg, ownerArg string, limit int) (store.Filter, error) {
	filter := store.Filter{Limit: limit}
	if kindArg != "" {
		kind := flow.Kind(strings.ToLower(kindArg))
		if flow.Sequence(kind) == nil {
			return store.Filter{}, clierr.New(clierr.CodeUsage, "--kind must be deposit or withdraw")
		}
		filter.Kind = kind
	}
	if stepArg != "" {
		step := flow.Step(strings.ToLower(stepArg))
		if !knownStep(step) {
			return store.Filter{}, clierr.New(clierr.CodeUsage, "unknown --step: "+stepArg)
		}
		filter.Step = step
	}
	if ownerArg != "" {
		owner, err := id.ParseAddress("--owner", ownerArg)
		if err != nil {
			return store.Filter{}, err
		}
		filter.Owner = owner.Hex()
	}
	if limit < 1 || limit > 500 {
		return store.Filter{}, clierr.New(clierr.CodeUsage, "--limit must be between 1 and 500")
	}
	return filter, nil
}

func knownStep(step flow.Step) bool {
	for _, kind := range []flow.Kind{flow.KindDeposit, flow.KindWithdraw} {
		if flow.Index(kind, step) >= 0 {
			return true
		}
	}
	return step == flow.StepError
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve flow history, health and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.openStore()
			if err != nil {
				return err
			}
			m := s.ensureMetrics()
			if err := m.RegisterHistory(st); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "register flow history metrics", err)
			}
			srv := &http.Server{
				Addr:              listen,
				Handler:           api.NewHandler(st, m.Handler(), s.logger),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serveUntilDone(cmd.Context(), srv, s)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8088", "Listen address")
	return cmd
}

func serveUntilDone(ctx context.Context, srv *http.Server, s *runtimeState) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return clierr.Wrap(clierr.CodeUnavailable, "serve status api", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "shutdown status api", err)
	}
	s.logger.Info("status server stopped")
	return nil
}
