package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/disco-v8/chatd/internal/chat"
	"github.com/disco-v8/chatd/internal/config"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// options are the process-level knobs. The settings file owns everything
// protocol-facing; these only say where that file is and how the process
// reports about itself. Flags override the environment.
type options struct {
	ConfigPath   string        `env:"CHATD_CONFIG,default=chatd.conf"`
	LogLevel     string        `env:"CHATD_LOG_LEVEL,default=info"`
	MetricsAddr  string        `env:"CHATD_METRICS_ADDR,default=:9090"`
	DrainTimeout time.Duration `env:"CHATD_DRAIN_TIMEOUT,default=10s"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var opts options
	if _, err := env.UnmarshalFromEnviron(&opts); err != nil {
		return exitConfig, fmt.Errorf("environment: %w", err)
	}
	flag.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "path to the settings file")
	flag.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level (debug|info|warn|error)")
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "metrics listen address")
	flag.DurationVar(&opts.DrainTimeout, "drain-timeout", opts.DrainTimeout, "how long shutdown waits for sessions to close")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(opts.LogLevel),
	}))

	settings, err := config.Load(opts.ConfigPath, logger)
	if err != nil {
		return exitConfig, err
	}

	srv := chat.NewServer(settings, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		return exitRuntime, err
	}

	go serveMetrics(opts.MetricsAddr, logger)

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-reloadCh:
			logger.Info("reload requested")
			_ = srv.Reload(func() (*config.Settings, error) {
				return config.Load(opts.ConfigPath, logger)
			})
		case <-stopCh:
			logger.Info("shutdown requested")
			ctx, cancel := context.WithTimeout(context.Background(), opts.DrainTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("shutdown did not drain cleanly", "error", err)
			}
			return exitOK, nil
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics endpoint stopped", "error", err)
	}
}
