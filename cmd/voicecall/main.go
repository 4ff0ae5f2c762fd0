package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voicecall/config"
	"voicecall/internal/application"
	"voicecall/internal/clock"
	"voicecall/internal/infra"
	"voicecall/internal/infra/audio"
	"voicecall/internal/infra/backend"
	"voicecall/internal/infra/chat"
	"voicecall/internal/metrics"
	"voicecall/internal/playback"
	"voicecall/internal/recording"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("voicecall error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.NewMetrics()

	supervisor := backend.NewSupervisor(backend.Config{
		Command:   cfg.Backend.Command,
		Dir:       cfg.Backend.Dir,
		HealthURL: cfg.Backend.HealthURL,
	}, logger)
	if cfg.Backend.Autostart {
		if _, err := supervisor.Start(ctx); err != nil {
			return err
		}
		defer supervisor.Stop(context.Background())

		readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := supervisor.WaitReady(readyCtx, 500*time.Millisecond)
		cancel()
		if err != nil {
			return err
		}
	}

	retry := infra.RetryConfig{
		MaxAttempts:  cfg.Backend.Retry.MaxAttempts,
		InitialDelay: config.Duration(cfg.Backend.Retry.InitialDelay, 200*time.Millisecond),
		MaxDelay:     config.Duration(cfg.Backend.Retry.MaxDelay, 5*time.Second),
		Multiplier:   2,
	}
	conversation := chat.NewClient(cfg.Backend.URL, config.Duration(cfg.Backend.Timeout, time.Minute), retry, logger, m)

	ui := newTerminal(os.Stdout)

	controller := playback.NewController(
		audio.NewStreamSink("speaker", createOutput(cfg.Playback, logger), logger, audio.WithRoot(cfg.Playback.Root)),
		playback.NewResolver(config.Duration(cfg.Playback.AttemptTimeout, playback.DefaultAttemptTimeout), logger, m),
		playback.NewGraphOwner(audio.NewPCMContextFactory(), logger),
		logger,
		playback.WithFrameInterval(config.Duration(cfg.Playback.FrameInterval, playback.DefaultFrameInterval)),
		playback.WithMetrics(m),
		playback.WithErrorHandler(ui.playbackError),
	)
	controller.OnChange(ui.playback)

	session := recording.NewSession(createMicrophone(cfg.Recording, logger), clock.Real(), logger, m)
	session.OnChange(ui.recording)

	candidates, err := application.NewCandidateBuilder(cfg.Playback.BaseURL, cfg.Playback.Candidates)
	if err != nil {
		return err
	}

	call := application.NewCall(conversation, controller, session, candidates, logger)
	defer call.Close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics server starting", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Server.Enabled {
		assets := audio.NewAssetServer(cfg.Server.Addr, cfg.Server.Dir, logger)
		if err := assets.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return assets.Stop()
		})
	}

	g.Go(func() error {
		defer stop()
		if err := call.Start(gctx); err != nil {
			return err
		}
		logger.Info("starting voicecall", "session", call.SessionID(), "backend", cfg.Backend.URL)
		return ui.loop(gctx, os.Stdin, call)
	})

	return g.Wait()
}

func createOutput(cfg config.PlaybackConfig, logger *slog.Logger) audio.Output {
	if cfg.Output == "null" {
		return audio.NewNullOutput(true)
	}
	speaker, err := audio.NewSpeakerOutput(logger)
	if err != nil {
		logger.Warn("speaker unavailable, playing silently", "error", err)
		return audio.NewNullOutput(true)
	}
	return speaker
}

func createMicrophone(cfg config.RecordingConfig, logger *slog.Logger) recording.Microphone {
	switch cfg.Source {
	case "file":
		return audio.NewFileMicrophone(cfg.FileDir, logger)
	default:
		return audio.NewMicrophone(cfg.SampleRate, cfg.Channels, logger)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	// stdout belongs to the conversation.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
