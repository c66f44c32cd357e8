package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"principales/internal/config"
	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/models"
	"principales/internal/retry"
	"principales/internal/service"
	"principales/internal/store"
	"principales/internal/tracing"
	"principales/pkg/telegram"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type runOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &runOptions{}

	root := &cobra.Command{
		Use:          "principales",
		Short:        "Telegram bot and chat API for Control de Principales",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.json", "Path to configuration file")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging (includes message content)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot poller and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, *opts)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "principales %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		},
	}

	root.AddCommand(serveCmd, versionCmd, newHashTokenCmd())
	return root
}

func run(ctx context.Context, opts runOptions) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting principales")

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, opts.verbose)

	ctx = service.WithVerbose(ctx, opts.verbose)

	tracingConfig := cfg.Tracing
	if tracingConfig.ServiceVersion == "" {
		tracingConfig.ServiceVersion = Version
	}
	tracingManager := tracing.NewTracingManager(tracingConfig, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	backoff := retry.NewBackoff(retry.FromConfig(cfg.Retry)).OnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WithFields(logrus.Fields{
			service.LogFieldAttempt:  attempt,
			service.LogFieldDuration: delay.Milliseconds(),
		}).WithError(err).Warn("Startup step failed, retrying")
	})

	var st *store.Store
	err = backoff.RetryWithPredicate(ctx, func() error {
		var openErr error
		st, openErr = store.Open(cfg.Storage, logger)
		return openErr
	}, func(err error) bool {
		return errors.GetCode(err) != errors.ErrCodeConfig
	})
	if err != nil {
		return fmt.Errorf("failed to open store after retries: %w", err)
	}
	defer st.Close()

	hub := service.NewMessageHub(constants.DefaultStreamSubscriberBuffer)
	messages := store.NewObservedMessageLog(st.Messages, hub.Publish)
	checkins := store.NewCheckinReader(cfg.Storage.CheckinFile, logger)
	forwarder := service.NewDiscordForwarder(cfg.Discord.WebhookURL, time.Duration(cfg.Discord.TimeoutSec)*time.Second, logger)
	if !forwarder.Configured() {
		logger.Warn("Discord webhook not configured; /reporte is disabled until one is set")
	}

	var sender service.MessageSender
	if cfg.Telegram.Enabled() {
		bot, err := startBot(ctx, cfg, backoff, botDeps{
			messages:  messages,
			store:     st,
			checkins:  checkins,
			forwarder: forwarder,
		}, logger)
		if err != nil {
			errors.LogError(logger.WithField(service.LogFieldService, "telegram"), err, "Telegram bot unavailable; chat features disabled")
		} else {
			sender = bot.gateway
			defer bot.poller.Stop()
		}
	} else {
		logger.Warn("Telegram bot not configured (TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID); chat features disabled")
	}

	janitor := service.NewUploadJanitor(logger, cfg.Media.UploadsDir, cfg.Media.TempDir)
	scheduler := service.NewScheduler(janitor, cfg.Media.RetentionDays, cfg.Media.CleanupIntervalHours, logger)
	go scheduler.Start(ctx)

	watcher := config.NewConfigWatcher(opts.configPath, cfg, logger)
	watcher.OnConfigChange(func(c *models.Config) {
		applyLogLevel(logger, c.LogLevel, opts.verbose)
		forwarder.SetWebhookURL(c.Discord.WebhookURL)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Debug("Configuration watcher not started")
		}
	}()

	server := NewServer(cfg, ServerDeps{
		Sender:    sender,
		Messages:  messages,
		Reports:   st.Reports,
		Status:    st.Status,
		Checkins:  checkins,
		Forwarder: forwarder,
		Hub:       hub,
	}, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

type botDeps struct {
	messages  store.MessageLog
	store     *store.Store
	checkins  *store.CheckinReader
	forwarder service.ReportForwarder
}

type runningBot struct {
	gateway *service.Gateway
	poller  *service.UpdatePoller
}

// startBot connects to the Bot API, wires the inbound and outbound services
// and starts the poll loop
func startBot(ctx context.Context, cfg *models.Config, backoff *retry.Backoff, deps botDeps, logger *logrus.Logger) (*runningBot, error) {
	var client *telegram.BotClient
	err := backoff.RetryWithPredicate(ctx, func() error {
		var connErr error
		client, connErr = telegram.NewClient(cfg.Telegram.BotToken, telegram.Options{
			APIEndpoint:    cfg.Telegram.APIEndpoint,
			PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
			Logger:         logger,
		})
		return connErr
	}, errors.IsRetryable)
	if err != nil {
		return nil, err
	}

	photos := service.NewPhotoSaver(client, cfg.Media.UploadsDir, logger)
	gateway := service.NewGateway(client, deps.messages, photos, service.GatewayConfig{
		ChatID:         cfg.Telegram.ChatID,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
		SendBurst:      cfg.Telegram.SendBurst,
	}, logger)

	commands := service.NewCommandHandler(service.CommandDeps{
		Sender:    gateway,
		Status:    deps.store.Status,
		Reports:   deps.store.Reports,
		Checkins:  deps.checkins,
		Forwarder: deps.forwarder,
	}, logger)
	auto := service.NewAutoResponder(gateway, commands, logger)
	dispatcher := service.NewDispatcher(cfg.Telegram.ChatID, deps.messages, photos, commands, auto, logger)

	if cfg.Telegram.RegisterCommands {
		gateway.RegisterCommands(ctx)
	}

	poller := service.NewUpdatePoller(client, dispatcher, service.PollerConfig{
		InitialOffset: cfg.Telegram.InitialOffset,
		TimeoutSec:    cfg.Telegram.PollTimeoutSec,
		Delay:         time.Duration(cfg.Telegram.PollDelayMs) * time.Millisecond,
	}, logger)
	if err := poller.Start(ctx); err != nil {
		return nil, err
	}

	logger.WithField("bot", client.UserName()).Info("Telegram bot started")
	return &runningBot{gateway: gateway, poller: poller}, nil
}

// applyLogLevel sets the level from config. --verbose forces debug.
func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message content will be logged")
		return
	}
	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}
