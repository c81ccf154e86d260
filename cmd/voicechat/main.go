package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voicechat/config"
	"voicechat/internal/application"
	"voicechat/internal/infra/audio"
	"voicechat/internal/infra/gemini"
	"voicechat/internal/infra/metrics"
	"voicechat/internal/infra/pushover"
	"voicechat/internal/infra/web"
)

type outputSink interface {
	application.PlaybackSink
	Open() error
	Close() error
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	listDevices := flag.Bool("list-devices", false, "print audio devices and exit")
	autostart := flag.Bool("autostart", true, "start a conversation immediately")
	flag.Parse()

	if *listDevices {
		if err := printDevices(); err != nil {
			slog.Error("listing devices", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, *autostart, os.Stdout, logger); err != nil {
		logger.Error("voicechat error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, autostart bool, out io.Writer, logger *slog.Logger) error {
	m := metrics.NewMetrics()
	term := newTerminal(out)

	sink := createSink(cfg.Audio, logger)
	if err := sink.Open(); err != nil {
		return fmt.Errorf("opening audio output: %w", err)
	}
	defer sink.Close()

	notifiers := application.MultiNotifier{term, &application.LogNotifier{Logger: logger}}
	if cfg.Pushover.Enabled {
		notifiers = append(notifiers, pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey))
	}

	dialer := gemini.NewClient(gemini.Config{
		APIKey:            cfg.Gemini.APIKey,
		Model:             cfg.Gemini.Model,
		Voice:             cfg.Gemini.Voice,
		SystemInstruction: cfg.Gemini.SystemInstruction,
		Endpoint:          cfg.Gemini.Endpoint,
		Retry:             cfg.Gemini.Retry,
	}, logger)

	session := application.NewSession(
		dialer,
		createCaptureSource(cfg.Audio, logger),
		application.NewScheduler(sink, cfg.Session.DropStaleAudio, m, logger),
		application.NewTranscriptAggregator(cfg.Session.TurnByteLimit(), logger),
		notifiers,
		m,
		application.SessionConfig{
			FrameSize:            cfg.Audio.FrameSize,
			OutputSampleRate:     cfg.Audio.OutputSampleRate,
			MaxMalformedPayloads: cfg.Session.MalformedLimit(),
		},
		logger,
	)
	session.AddObserver(term)
	defer session.Stop()

	var server *web.Server
	if cfg.HTTP.Enabled {
		hub := web.NewHub(logger)
		session.AddObserver(hub)

		server = web.NewServer(session, hub, web.Options{
			Addr:       cfg.HTTP.Addr,
			AuthToken:  cfg.HTTP.AuthToken,
			RateLimit:  cfg.HTTP.RateLimit,
			RateWindow: cfg.HTTP.RateWindow,
			TrustProxy: cfg.HTTP.TrustProxy,
			Metrics:    m.Handler(),
		}, logger)
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting HTTP API: %w", err)
		}
		defer server.Stop()
	}

	logger.Info("starting voicechat",
		"input", cfg.Audio.Input,
		"output", cfg.Audio.Output,
		"model", cfg.Gemini.Model,
		"http", cfg.HTTP.Enabled,
	)

	if autostart {
		if err := session.Start(ctx); err != nil {
			if server == nil {
				return err
			}
			logger.Warn("autostart failed, waiting for HTTP control", "error", err)
		}
	}

	// With the HTTP API the process outlives individual conversations.
	if server != nil {
		<-ctx.Done()
		return nil
	}

	ended := make(chan struct{})
	go func() {
		session.Wait()
		close(ended)
	}()

	select {
	case <-ctx.Done():
	case <-ended:
		if err := session.LastError(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func createCaptureSource(cfg config.AudioConfig, logger *slog.Logger) application.CaptureSource {
	switch cfg.Input {
	case config.InputFile:
		return audio.NewFileSource(cfg.DropDir, cfg.InputSampleRate, cfg.Realtime, logger)
	default:
		return audio.NewMicrophoneSource(cfg.InputSampleRate, cfg.InputDeviceIndex(), logger)
	}
}

func createSink(cfg config.AudioConfig, logger *slog.Logger) outputSink {
	switch cfg.Output {
	case config.OutputVirtual:
		return audio.NewVirtualSink(cfg.OutputSampleRate, cfg.RecordPath, logger)
	default:
		return audio.NewSpeakerSink(cfg.OutputSampleRate, cfg.OutputDeviceIndex(), logger)
	}
}

func printDevices() error {
	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		kind := ""
		if d.IsInput() {
			kind += "in"
		}
		if d.IsOutput() {
			if kind != "" {
				kind += "/"
			}
			kind += "out"
		}
		fmt.Printf("%3d  %-8s %6.0f Hz  %s\n", d.Index, kind, d.DefaultSampleRate, d.Name)
	}
	return nil
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

	// Transcript lines go to stdout; keep the log stream separate.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
