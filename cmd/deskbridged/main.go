package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiPkg "github.com/h1v3-io/deskbridge/internal/api"
	"github.com/h1v3-io/deskbridge/internal/channel"
	"github.com/h1v3-io/deskbridge/internal/cleanup"
	"github.com/h1v3-io/deskbridge/internal/config"
	slackconn "github.com/h1v3-io/deskbridge/internal/connector/slack"
	"github.com/h1v3-io/deskbridge/internal/connector/webhook"
	"github.com/h1v3-io/deskbridge/internal/identity"
	"github.com/h1v3-io/deskbridge/internal/journal"
	"github.com/h1v3-io/deskbridge/internal/provenance"
	"github.com/h1v3-io/deskbridge/internal/relay"
	"github.com/h1v3-io/deskbridge/internal/scheduler"
	"github.com/h1v3-io/deskbridge/internal/ticket"
)

const journalSize = 500

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "deskbridged",
		Short:         "Relay helpdesk ticket webhooks into Slack",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	cmd.Flags().String("config", "", "Config file path (optional; yaml, json or toml).")
	cmd.Flags().String("log-level", "", "Logging level: debug|info|warn|error.")
	cmd.Flags().String("log-format", "", "Logging format: json|text.")
	cmd.Flags().BoolP("verbose", "v", false, "Verbose logging (same as --log-level debug).")
	cmd.Flags().Int("port", 0, "HTTP port (overrides api.port).")
	cmd.Flags().String("channel", "", "Default Slack channel id (overrides slack.default_channel).")
	return cmd
}

// bindFlags lets explicitly passed flags override file and env values.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	_ = v.BindPFlag("logging.level", cmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", cmd.Flags().Lookup("log-format"))
	_ = v.BindPFlag("api.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("slack.default_channel", cmd.Flags().Lookup("channel"))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		v.Set("logging.level", "debug")
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	bindFlags(cmd, v)
	cfg := config.FromViper(v)

	logger, err := config.NewLogger(cfg.Logging, os.Stdout)
	if err != nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	if err := start(ctx, cfg, logger, errCh); err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err = <-errCh:
		if err != nil {
			logger.Error("api server failed", "error", err)
		}
	}
	cancel()
	logger.Info("deskbridged stopped")
	return err
}

// start wires every component and launches the long-running ones.
func start(ctx context.Context, cfg *config.Config, logger *slog.Logger, errCh chan<- error) error {
	logger.Info("deskbridged starting",
		"default_channel", cfg.Slack.DefaultChannel,
		"layout", cfg.Layout(),
		"infer_creation", cfg.Webhook.InferCreation,
	)

	// 1. Slack client
	chat, err := slackconn.New(slackconn.Config{
		BotToken: cfg.Slack.BotToken,
		APIURL:   cfg.Slack.APIURL,
	}, logger.With("component", "slack"))
	if err != nil {
		return err
	}

	// 2. Provenance: who am I on Slack
	tracker, res := provenance.Initialize(ctx, chat, cfg.Slack.KnownBotIDs, logger.With("component", "provenance"))
	if !res.Identified {
		logger.Warn("running with allow-list provenance only; cleanup will retry identification", "allow_list", res.AllowList)
	}

	// 3. Identity resolution
	mapping, err := cfg.Mapping()
	if err != nil {
		return err
	}
	resolver := identity.NewResolver(mapping, chat, logger.With("component", "identity"))
	logger.Info("identity mapping loaded", "entries", mapping.Len())

	// 4. Relay + cleanup
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	router := channel.NewRouter(cfg.Slack.DefaultChannel)
	jr := journal.New(journalSize)

	rl := relay.New(chat, resolver, router, relay.Config{
		Normalize:      ticket.Options{InferCreation: cfg.Webhook.InferCreation, Location: loc},
		Layout:         cfg.Layout(),
		DefaultChannel: cfg.Slack.DefaultChannel,
		FollowActive:   cfg.Slack.FollowActiveChannel,
		Journal:        jr,
	}, logger)
	cleaner := cleanup.New(chat, tracker, cleanup.Config{
		Limit:      cfg.Cleanup.HistoryLimit,
		DeleteRate: cfg.Cleanup.DeleteRate,
		Journal:    jr,
	}, logger.With("component", "cleanup"))

	// 5. Scheduled cleanups; more can be added at runtime via /api/schedules
	sched := scheduler.New(cleaner.Run, logger)
	if cfg.Cleanup.Schedule != "" {
		for _, ch := range cfg.CleanupChannels() {
			if err := sched.AddCleanup(ch, cfg.Cleanup.Schedule); err != nil {
				return err
			}
		}
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 6. HTTP surface
	apiSrv := apiPkg.NewServer(apiPkg.Deps{
		Relay:     rl,
		Cleaner:   cleaner,
		Router:    router,
		Bots:      tracker.Registry(),
		Journal:   jr,
		Schedules: sched,
	}, apiPkg.Config{
		Host:          cfg.API.Host,
		Port:          cfg.API.Port,
		Key:           cfg.API.Key,
		SigningSecret: cfg.Slack.SigningSecret,
		Webhook: webhook.Config{
			Secret:      cfg.Webhook.Secret,
			BearerToken: cfg.Webhook.BearerToken,
		},
	}, logger)

	go safeGo(logger, "api-server", func() { errCh <- apiSrv.Start(ctx) })
	return nil
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
