package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/tally/internal/analysis"
	"github.com/soyeahso/tally/internal/attachment"
	"github.com/soyeahso/tally/internal/channel"
	"github.com/soyeahso/tally/internal/channel/irc"
	"github.com/soyeahso/tally/internal/channel/telegram"
	"github.com/soyeahso/tally/internal/config"
	"github.com/soyeahso/tally/internal/engine"
	"github.com/soyeahso/tally/internal/gateway"
	"github.com/soyeahso/tally/internal/hooks"
	"github.com/soyeahso/tally/internal/logging"
	"github.com/soyeahso/tally/internal/plugin"
	"github.com/soyeahso/tally/internal/routing"
	"github.com/soyeahso/tally/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		port     int
		bind     string
		withGW   bool
		noLedger bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Run the receipt bot on every configured channel",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("gateway") {
				cfg.Gateway.Enabled = withGW
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if noLedger {
				cfg.Ledger.Enabled = false
			}

			if err := validate(&cfg); err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating %s: %w", paths.Base, err)
			}

			rootLog, closer, err := logging.NewFromConfig(cfg.Logging)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer closer.Close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, rootLog)
		},
	}

	cmd.Flags().BoolVar(&withGW, "gateway", false, "enable or disable the gateway regardless of config")
	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override gateway bind mode (auto, lan, loopback, custom)")
	cmd.Flags().BoolVar(&noLedger, "no-ledger", false, "do not journal receipts even if the ledger is enabled")

	return cmd
}

// serve wires every component and runs until ctx is done or the channels
// give up. Photos already being analyzed run to completion under their
// fetch and analysis timeouts, and their replies are delivered before the
// channels are stopped.
func serve(ctx context.Context, cfg config.Config, log *logging.Logger) error {
	hookMgr := hooks.NewManager(log)

	plugins := plugin.NewRegistry(hookMgr, log)
	if cfg.Ledger.Enabled {
		if err := plugins.Register(plugin.NewLedger(paths.LedgerPath(cfg.Ledger))); err != nil {
			return err
		}
	}
	if err := plugins.InitAll(ctx); err != nil {
		return fmt.Errorf("initializing plugins: %w", err)
	}
	defer plugins.CloseAll()

	analyzer, err := analysis.NewFromConfig(cfg.Analysis, log)
	if err != nil {
		return fmt.Errorf("analysis backend: %w", err)
	}

	downloads := attachment.NewURLFetcher(nil, cfg.Attachments.MaxBytes, log,
		attachment.AllowPrivateNetworks(cfg.Attachments.AllowPrivate))
	fetchers := attachment.NewMux(downloads)

	sessions := session.NewStore()
	channels := channel.NewRegistry(log)

	if tg := cfg.Channels.Telegram; tg != nil {
		ch := telegram.New(*tg, downloads, log)
		channels.Register(ch)
		fetchers.Handle(telegram.Source, ch)
	}
	if cfg.Channels.IRC != nil {
		channels.Register(irc.New(*cfg.Channels.IRC, log))
	}
	if cfg.Gateway.Enabled {
		channels.Register(gateway.New(cfg.Gateway, log,
			gateway.WithChannels(channels),
			gateway.WithSessions(sessions),
			gateway.WithHooks(hookMgr),
		))
	}
	if channels.Count() == 0 {
		return &config.ConfigError{Message: "no channels configured: set channels.telegram, channels.irc or gateway.enabled"}
	}

	router := routing.NewRouter(channels, cfg.Session.Scope, hookMgr, log)
	eng := engine.New(sessions, fetchers, analyzer, router, engine.Options{
		FetchTimeout:          cfg.Attachments.FetchTimeout(),
		AnalysisTimeout:       cfg.Analysis.AnalysisTimeout(),
		MaxConcurrentAnalyses: cfg.Analysis.MaxConcurrent,
		Hooks:                 hookMgr,
	}, log)
	router.Wire(ctx)

	log.Info().
		Strs("channels", channels.List()).
		Str("provider", analyzer.Name()).
		Str("scope", cfg.Session.Scope).
		Bool("ledger", cfg.Ledger.Enabled).
		Msg("tally running")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chanCtx, stopChannels := context.WithCancel(context.WithoutCancel(ctx))
	defer stopChannels()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return channels.Run(chanCtx)
	})
	g.Go(func() error {
		err := eng.Run(ctx, router.Events())
		log.Info().Msg("waiting for in-flight receipts")
		eng.Wait()
		stopChannels()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	hookMgr.Wait()
	log.Info().Msg("tally stopped")
	return err
}
