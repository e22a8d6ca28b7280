package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursebot/internal/config"
	appLog "coursebot/internal/log"
	"coursebot/internal/store"
	"coursebot/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	dataDir    string
	debug      bool
}

func main() {
	flags := parseFlags()

	appLog.Init(flags.debug)
	defer appLog.Sync()
	appLog.Info("coursebot starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override config file values if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dataDir != "" {
		conf.DataDir = flags.dataDir
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"data_dir", conf.DataDir,
		"bind_window_sec", conf.BindWindowSec,
		"capture_timeout_sec", conf.CaptureTimeoutSec,
		"basic_auth", conf.BasicAuth != nil,
	)

	st, err := store.Open(conf.DataDir)
	if err != nil {
		appLog.Error("failed to open binding store", err, "data_dir", conf.DataDir)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	srv := web.NewServer(conf, st)
	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: srv.Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}

	appLog.Info("coursebot exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dataDir, "data", "", "Data directory (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
