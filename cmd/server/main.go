package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mail-gateway/internal/api"
	"github.com/brandon/mail-gateway/internal/config"
	"github.com/brandon/mail-gateway/internal/email"
	"github.com/brandon/mail-gateway/internal/notify"
	"github.com/brandon/mail-gateway/internal/store"
)

// eventBuffer is the per-subscriber event buffer of the SSE hub
const eventBuffer = 16

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

var _ notify.StatusSource = (*email.Gateway)(nil)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mail-gateway version %s\n", version)
		os.Exit(0)
	}
	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"version": version,
		"imap":    cfg.IMAP.Addr(),
		"smtp":    cfg.SMTP.Addr(),
	}).Info("Starting mail gateway")

	if cfg.IMAP.AllowInvalidCerts || cfg.SMTP.AllowInvalidCerts {
		logger.Warn("TLS certificate verification is disabled for mail servers")
	}

	// Initialize store
	db, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer db.Close()

	st := store.NewStore(db, logger)

	gateway := email.NewGateway(cfg, st, logger)
	hub := notify.NewHub(eventBuffer, logger)
	watcher := notify.NewWatcher(gateway, st, hub, cfg.WatchPollInterval, cfg.WatchPollRate, logger)
	server := api.NewServer(cfg, gateway, watcher, hub, st, logger)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		return server.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server error")
	}

	logger.Info("Shutting down mail gateway")
}
