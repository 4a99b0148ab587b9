package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/slackclaw/slackclaw/internal/approval"
	"github.com/slackclaw/slackclaw/internal/attachments"
	"github.com/slackclaw/slackclaw/internal/clock"
	"github.com/slackclaw/slackclaw/internal/config"
	"github.com/slackclaw/slackclaw/internal/executor"
	"github.com/slackclaw/slackclaw/internal/health"
	"github.com/slackclaw/slackclaw/internal/metrics"
	"github.com/slackclaw/slackclaw/internal/orchestrator"
	"github.com/slackclaw/slackclaw/internal/queue"
	"github.com/slackclaw/slackclaw/internal/reporter"
	"github.com/slackclaw/slackclaw/internal/slackio"
	"github.com/slackclaw/slackclaw/internal/store"
)

const (
	exitConfigError       = 2
	exitSlackAuthFailure  = 3
	exitListenerInitError = 4
)

func main() {
	once := flag.Bool("once", false, "run exactly one cycle and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(exitConfigError)
	}

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = logger

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listener_mode", cfg.ListenerMode).
		Str("trigger_mode", cfg.TriggerMode).
		Str("approval_mode", cfg.ApprovalMode).
		Bool("dry_run", cfg.DryRun).
		Msg("starting slackclaw")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	client := slackio.NewSafeClient(cfg.SlackBotToken, []string{cfg.CommandChannelID, cfg.ReportChannelID}, logger)
	if _, err := client.AuthTest(); err != nil {
		logger.Error().Err(err).Msg("slack auth test failed")
		os.Exit(exitSlackAuthFailure)
	}
	poster := slackio.NewPoster(client)

	st, err := store.New(cfg.StateDBPath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		os.Exit(exitConfigError)
	}
	defer st.Close()

	checker := health.NewChecker(logger)
	checker.Register("sqlite", func(ctx context.Context) health.Status {
		if _, err := st.DBSizeBytes(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	var listener slackio.Listener
	switch cfg.ListenerMode {
	case "socket":
		sock := slackio.NewSocketListener(
			cfg.SlackBotToken, cfg.SlackAppToken, cfg.CommandChannelID,
			time.Duration(cfg.SocketReadTimeoutSeconds*float64(time.Second)), logger,
		)
		if err := sock.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to start socket listener")
			os.Exit(exitListenerInitError)
		}
		listener = sock
	case "poll":
		cursor, err := st.GetCheckpoint("poll_cursor")
		if err != nil {
			logger.Error().Err(err).Msg("failed to load poll checkpoint")
			os.Exit(exitListenerInitError)
		}
		listener = slackio.NewPollListener(
			client, cfg.CommandChannelID,
			time.Duration(cfg.PollInterval*float64(time.Second)), cfg.PollBatchSize, cursor, logger,
		)
	default:
		logger.Error().Str("listener_mode", cfg.ListenerMode).Msg("unknown listener mode")
		os.Exit(exitListenerInitError)
	}
	defer listener.Close()

	attachMat := attachments.New(cfg.AttachmentsBaseDir, cfg.SlackBotToken)

	var approvalMgr *approval.Manager
	if cfg.ApprovalMode != "none" {
		approvalMgr = approval.New(st, poster, cfg.ApproveReaction, cfg.RejectReaction, logger)
	}

	q := queue.New()
	exec := executor.New(cfg, st, clock.Real{}, logger)
	rep := reporter.New(cfg, st, poster, logger)
	m := metrics.New()

	orch := orchestrator.New(cfg, st, listener, attachMat, approvalMgr, q, exec, rep, m, logger)
	if err := orch.RecoverAndRehydrate(); err != nil {
		logger.Error().Err(err).Msg("failed to recover and rehydrate from previous run")
		os.Exit(exitConfigError)
	}

	if cfg.HealthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", health.LivenessHandler())
		mux.HandleFunc("/ready", checker.ReadinessHandler())
		srv := &http.Server{Addr: cfg.HealthAddr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
		go func() {
			logger.Info().Str("addr", cfg.HealthAddr).Msg("health server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("health server error")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		cancel()
	}()

	if !*once {
		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := st.RunRetention(ctx, cfg.RetentionWindowHours); err != nil {
						logger.Warn().Err(err).Msg("retention sweep error")
					}
					rep.RetryDeadLetters(50)
				}
			}
		}()
	}

	if err := orch.Run(ctx, *once); err != nil {
		logger.Error().Err(err).Msg("orchestrator run error")
	}

	logger.Info().Msg("slackclaw stopped")
}
