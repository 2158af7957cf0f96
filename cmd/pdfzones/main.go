package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/OCAP2/pdfzones/internal/bake"
	"github.com/OCAP2/pdfzones/internal/bridge"
	"github.com/OCAP2/pdfzones/internal/cache"
	"github.com/OCAP2/pdfzones/internal/config"
	"github.com/OCAP2/pdfzones/internal/dispatcher"
	"github.com/OCAP2/pdfzones/internal/document"
	"github.com/OCAP2/pdfzones/internal/logging"
	"github.com/OCAP2/pdfzones/internal/monitor"
	intOtel "github.com/OCAP2/pdfzones/internal/otel"
	"github.com/OCAP2/pdfzones/internal/session"
	pb "github.com/OCAP2/pdfzones/pkg/bridge"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args[1:]
	var err error
	if len(args) > 0 && args[0] == "bake" {
		err = runBake(args[1:], os.Stdout)
	} else {
		err = run(args)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("pdfzones", pflag.ContinueOnError)
	configDir := flags.String("config-dir", ".", "directory containing "+config.FileName)
	if err := flags.Parse(args); err != nil {
		return err
	}

	sessionStart := time.Now()

	// Console logging until the log file is open
	slogManager := logging.NewSlogManager()
	slogManager.Setup(nil, "info", nil, nil)
	logger := slogManager.Logger()

	if err := config.Load(*configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config", "dir", *configDir)
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, logging.ServiceName, sessionStart)
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger.Info("Begin logging in logs directory", "path", logPath)

	// OTel must be up before any instrument is created.
	otelCfg := config.GetOTelConfig()
	provider, err := intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      logFile,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
		MetricWriter:   logFile,
		MetricInterval: config.GetMonitorConfig().Interval,
	})
	if err != nil {
		logger.Error("Failed to initialize OTel provider", "error", err)
		provider, _ = intOtel.New(intOtel.Config{})
	} else if otelCfg.Enabled {
		logger.Info("OTel provider initialized", "file", logPath, "endpoint", otelCfg.Endpoint)
	}

	var sess *session.Session
	logLevel := config.GetString("logLevel")
	slogManager.Setup(logFile, logLevel, provider.LoggerProvider(), func() []slog.Attr {
		if sess == nil {
			return nil
		}
		return sess.LogAttrs()
	})
	logger = slogManager.Logger()
	logger.Info("Starting up...", "version", CurrentVersion, "buildDate", BuildDate)

	d, err := dispatcher.New(logging.NewDispatcherFileLogger(logFile, logLevel))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	bridgeCfg := config.GetBridgeConfig()
	b, err := bridge.New(bridge.Config{URL: bridgeCfg.URL, Secret: bridgeCfg.Secret}, d, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	sess, err = newSession(b, logger)
	if err != nil {
		return err
	}
	sess.RegisterHandlers(d)

	var monitorService *monitor.Service
	if monCfg := config.GetMonitorConfig(); monCfg.Enabled {
		monitorService = monitor.NewService(monitor.Dependencies{
			Session:  sess,
			Logger:   logger,
			Dropped:  b.Dropped,
			Dir:      logsDir,
			File:     monCfg.StatusFile,
			Interval: monCfg.Interval,
		})
		if err := monitorService.Start(); err != nil {
			logger.Error("Failed to start status monitor", "error", err)
			monitorService = nil
		}
	}

	hello := pb.HelloPayload{
		Service:   logging.ServiceName,
		Version:   CurrentVersion,
		SessionID: uuid.NewString(),
		Commands:  d.Commands(),
	}
	logger.Info("Connecting to host bridge", "url", bridgeCfg.URL, "session", hello.SessionID)
	if err := b.Connect(hello); err != nil {
		shutdown(logger, slogManager, provider, monitorService, b, sess)
		return fmt.Errorf("connecting to host bridge: %w", err)
	}
	logger.Info("Host bridge connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutting down...")
	shutdown(logger, slogManager, provider, monitorService, b, sess)
	return nil
}

func newSession(notifier session.Notifier, logger *slog.Logger) (*session.Session, error) {
	docCfg := config.GetDocumentConfig()
	bakeCfg := config.GetBakeConfig()
	renderCfg := config.GetRenderConfig()

	engine, images, err := newEngine(logger)
	if err != nil {
		return nil, err
	}

	sess, err := session.New(session.Config{
		Debounce:         bakeCfg.Debounce,
		DevicePixelRatio: renderCfg.DevicePixelRatio,
		MaxZoom:          renderCfg.MaxZoom,
		DefaultFilename:  docCfg.DefaultFilename,
		OutputDir:        docCfg.OutputDir,
	}, session.Dependencies{
		Documents: document.New(docCfg.FetchTimeout, docCfg.UploadURL, docCfg.APIKey, logger),
		Baker:     engine,
		Notifier:  notifier,
		Images:    images,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// newEngine builds the bake engine and returns the image cache its fetcher
// fills, which the session shares for previews.
func newEngine(logger *slog.Logger) (*bake.Engine, *cache.ImageCache, error) {
	bakeCfg := config.GetBakeConfig()
	fetcher := bake.NewFetcher(nil, nil, bakeCfg.ImageTimeout, logger)
	engine, err := bake.NewEngine(fetcher, bake.Options{ImageConcurrency: bakeCfg.ImageConcurrency}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating bake engine: %w", err)
	}
	return engine, fetcher.Cache(), nil
}

func shutdown(logger *slog.Logger, slogManager *logging.SlogManager, provider *intOtel.Provider, mon *monitor.Service, b io.Closer, sess *session.Session) {
	if mon != nil {
		mon.Stop()
		if err := mon.WriteStatus(); err != nil {
			logger.Warn("Failed to write final status", "error", err)
		}
	}
	if err := b.Close(); err != nil {
		logger.Warn("Failed to close host bridge", "error", err)
	}
	sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := errors.Join(provider.Flush(ctx), slogManager.Flush(ctx)); err != nil {
		logger.Warn("Failed to flush telemetry", "error", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		logger.Warn("Failed to shut down OTel provider", "error", err)
	}
}
