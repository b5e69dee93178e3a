package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/vaultflow/internal/allowance"
	"github.com/ggonzalez94/vaultflow/internal/auth"
	"github.com/ggonzalez94/vaultflow/internal/backend"
	"github.com/ggonzalez94/vaultflow/internal/chain"
	"github.com/ggonzalez94/vaultflow/internal/chain/signer"
	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
	"github.com/ggonzalez94/vaultflow/internal/flow"
	"github.com/ggonzalez94/vaultflow/internal/httpx"
	"github.com/ggonzalez94/vaultflow/internal/id"
	"github.com/ggonzalez94/vaultflow/internal/lock"
	"github.com/ggonzalez94/vaultflow/internal/metrics"
	"github.com/ggonzalez94/vaultflow/internal/notify"
	"github.com/ggonzalez94/vaultflow/internal/out"
	"github.com/ggonzalez94/vaultflow/internal/store"
	"github.com/ggonzalez94/vaultflow/internal/vault"
)

type walletOptions struct {
	keySource          string
	yes                bool
	walletChain        string
	maxFeeGwei         string
	maxPriorityFeeGwei string
}

func (w *walletOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.keySource, "key-source", signer.KeySourceAuto, "Key source: auto|env|file|keystore")
	cmd.Flags().BoolVar(&w.yes, "yes", false, "Approve signatures and network switches without prompting")
	cmd.Flags().StringVar(&w.walletChain, "wallet-chain", "", "Chain the wallet is connected to (defaults to the last flow's chain)")
	cmd.Flags().StringVar(&w.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee cap override (gwei)")
	cmd.Flags().StringVar(&w.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 priority fee override (gwei)")
}

// services is the chain-facing half of a command: one wallet, one backend.
type services struct {
	adapter   *chain.Adapter
	vaults    *vault.Service
	allowance *allowance.Manager
	backend   *backend.Client
}

func (s *runtimeState) confirmer(yes bool) signer.Confirmer {
	if yes {
		return signer.AutoConfirm{}
	}
	return signer.TerminalConfirmer{In: s.runner.stdin, Out: s.runner.stderr}
}

// openServices builds the chain adapter and its clients. Without a signer
// the adapter can only read.
func (s *runtimeState) openServices(w walletOptions, withSigner bool) (*services, error) {
	var txSigner signer.Signer
	if withSigner {
		local, err := signer.NewLocalSignerFromInputs(w.keySource, "")
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "load signing key", err)
		}
		txSigner = &signer.ConfirmingSigner{Signer: local, Confirmer: s.confirmer(w.yes)}
	}
	active, err := s.activeChain(w.walletChain)
	if err != nil {
		return nil, err
	}

	adapter := chain.New(txSigner, chain.Options{
		RPCOverrides:       s.settings.RPCOverrides,
		PollInterval:       s.settings.PollInterval,
		ReceiptTimeout:     s.settings.ReceiptTimeout,
		MaxFeeGwei:         w.maxFeeGwei,
		MaxPriorityFeeGwei: w.maxPriorityFeeGwei,
		ActiveChain:        active,
		SwitchConfirmer:    s.confirmer(w.yes),
		Logger:             s.logger,
	})
	s.closers = append(s.closers, adapter.Close)

	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)
	session := auth.NewSession(httpClient, s.settings.BackendURL, adapter, s.settings.BackendToken, auth.ProcessGate())
	backendClient := backend.New(httpClient, s.settings.BackendURL, session, s.logger)
	vaults := vault.New(adapter, backendClient, vault.RegisterPolicy{
		Attempts: s.settings.RegisterAttempts,
		Backoff:  s.settings.RegisterBackoff,
	}, s.logger)

	return &services{
		adapter:   adapter,
		vaults:    vaults,
		allowance: allowance.New(adapter),
		backend:   backendClient,
	}, nil
}

// activeChain is the network the wallet signs for at startup: the explicit
// flag, else the chain of the most recent flow, else unknown.
func (s *runtimeState) activeChain(walletChain string) (int64, error) {
	if walletChain != "" {
		c, err := id.ParseChain(walletChain)
		if err != nil {
			return 0, err
		}
		return c.ID, nil
	}
	st, err := s.openStore()
	if err != nil {
		return 0, err
	}
	recent, err := st.List(store.Filter{Limit: 1})
	if err != nil || len(recent) == 0 {
		return 0, nil
	}
	return recent[0].ChainID, nil
}

// openStore opens flow history once per run and retires flows whose
// process died mid-flight.
func (s *runtimeState) openStore() (*store.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open flow store", err)
	}
	s.store = st
	s.closers = append(s.closers, func() { _ = st.Close() })

	cutoff := s.runner.now().Add(-flow.DefaultOptions().LockTTL)
	n, err := st.MarkAbandoned(cutoff)
	if err != nil {
		s.logger.Warn("mark abandoned flows", "err", err)
	} else if n > 0 {
		s.logger.Info("discarded abandoned in-flight flows", "count", n)
	}
	return st, nil
}

func (s *runtimeState) ensureMetrics() *metrics.Metrics {
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s.metrics
}

// guard picks the cross-host Redis lock when configured, otherwise a file
// lock beside the flow store.
func (s *runtimeState) guard(ctx context.Context) (flow.Guard, error) {
	if s.settings.RedisURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		r, err := lock.DialRedis(dialCtx, s.settings.RedisURL, "")
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = r.Close() })
		return r, nil
	}
	f, err := lock.NewFile(filepath.Join(filepath.Dir(s.settings.StorePath), "locks"))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// newTracker fans snapshots out to the log, history, metrics, the broker
// and, in plain mode, a progress line on stderr.
func (s *runtimeState) newTracker() (*flow.Tracker, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	tracker := flow.NewTracker(
		flow.LogSink(s.logger),
		st.Sink(s.logger),
		s.ensureMetrics().Sink(),
	)
	if s.settings.AMQPURL != "" {
		pub, err := notify.Dial(s.settings.AMQPURL, s.settings.AMQPExchange, s.logger)
		if err != nil {
			s.logger.Warn("flow notifications disabled", "err", err)
		} else {
			s.closers = append(s.closers, func() { _ = pub.Close() })
			tracker.AddSink(pub.Sink())
		}
	}
	if s.settings.OutputMode == "plain" {
		tracker.AddSink(out.Progress(s.runner.stderr))
	}
	return tracker, nil
}

func (s *runtimeState) flowOptions() flow.Options {
	opts := flow.DefaultOptions()
	opts.Logger = s.logger
	opts.Now = s.runner.now
	if s.settings.AllowanceBudget > 0 {
		opts.AllowancePoll.Budget = s.settings.AllowanceBudget
	}
	if s.settings.PollInterval > 0 {
		opts.UnwindPoll.Interval = s.settings.PollInterval
	}
	if s.settings.UnwindTimeout > 0 {
		opts.UnwindPoll.Budget = s.settings.UnwindTimeout
	}
	return opts
}
