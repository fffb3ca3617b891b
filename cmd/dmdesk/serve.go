package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dmdesk/internal/bus"
	"dmdesk/internal/config"
	"dmdesk/internal/desk"
	"dmdesk/internal/domain"
	"dmdesk/internal/intake"
	"dmdesk/internal/metrics"
	"dmdesk/internal/notify"
	"dmdesk/internal/provider"
	"dmdesk/internal/server"
	"dmdesk/internal/session"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and dashboard API",
		RunE:  runServe,
	}
}

// setupLogger replaces the package logger according to general.logLevel and
// general.logFile. The returned closer releases the log file.
func setupLogger(cfg *config.Config) (io.Closer, error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logCloser, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if cfg.Gateway.DSN == "" || cfg.Gateway.APIKey == "" {
		logger.Warn("gateway dsn or api key not set, auth and send will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session store
	store, err := session.Open(cfg.Session, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()
	sessions := session.NewManager(session.ManagerConfig{Store: store, Key: cfg.Session.Key, Logger: logger})
	if err := sessions.Load(ctx); err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	// Reply drafting. A missing provider leaves drafts empty rather than
	// refusing to start.
	var drafter domain.Drafter
	provFactory := provider.NewFactory(cfg, logger)
	prov, err := provFactory.Chain(cfg.Draft.Fallbacks)
	if err != nil {
		logger.Warn("no default provider, drafts disabled", "err", err)
	} else {
		if err := prov.Healthy(ctx); err != nil {
			logger.Warn("default provider unhealthy at startup", "provider", prov.Name(), "err", err)
		} else {
			logger.Info("provider healthy", "provider", prov.Name())
		}
		drafter = provider.NewDrafter(provider.DrafterConfig{
			Provider:    prov,
			Template:    cfg.Draft.PromptTemplate,
			MaxTokens:   cfg.Draft.MaxTokens,
			Temperature: cfg.Draft.Temperature,
			Logger:      logger,
		})
	}

	resolver, err := intake.NewResolver(intake.ResolverConfig{
		PlaceholderPattern: cfg.Identity.PlaceholderPattern,
		FallbackName:       cfg.Identity.FallbackName,
	})
	if err != nil {
		return fmt.Errorf("identity resolver: %w", err)
	}

	eventBus := bus.NewEventBus(logger)
	svc, err := desk.New(desk.Config{
		DedupWindow: cfg.Dedup.Window(),
		Resolver:    resolver,
		Self:        intake.SelfFilter{BotName: cfg.Identity.BotName, BotProviderID: cfg.Identity.BotProviderID},
		Gateway:     newGateway(cfg),
		Drafter:     drafter,
		Session:     sessions,
		Bus:         eventBus,
		Platform:    cfg.Draft.Platform,
		AuthTimeout: cfg.Gateway.AuthTimeout(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("desk service: %w", err)
	}

	var notifier *notify.Telegram
	if cfg.Notify.Telegram.Enabled {
		notifier = notify.NewTelegram(notify.TelegramConfig{
			Token:     cfg.Notify.Telegram.Token,
			ChatIDs:   cfg.Notify.Telegram.ChatIDs,
			ParseMode: cfg.Notify.Telegram.ParseMode,
			Logger:    logger,
		})
		if err := notifier.Start(ctx); err != nil {
			logger.Error("telegram notifier disabled", "err", err)
			notifier = nil
		} else {
			notifier.Subscribe(eventBus)
		}
	}

	var sweeper *desk.Sweeper
	if cfg.Retention.Enabled {
		sweeper, err = desk.NewSweeper(svc, cfg.Retention.Schedule, cfg.Retention.TTL(), logger)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	srvCfg := server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		WriteTimeout:  time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		WebhookPath:   cfg.Webhook.Path,
		WebhookSecret: cfg.Webhook.Secret,
		Service:       svc,
		Logger:        logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsEndpoint = cfg.Metrics.Endpoint
		srvCfg.MetricsHandler = metrics.Collector.Handler()
	}
	srv := server.New(srvCfg)

	logger.Info("dmdesk started",
		"version", version,
		"addr", srv.Addr(),
		"connected", sessions.Connected(),
	)

	serveErr := srv.Start(ctx)
	stop()
	logger.Info("shutting down...")

	// The HTTP server has already drained; stop background work with a bound.
	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		if sweeper != nil {
			sweeper.Stop()
		}
		if notifier != nil {
			notifier.Stop()
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		if serveErr == nil {
			serveErr = fmt.Errorf("shutdown timed out")
		}
	}
	return serveErr
}
