// Package main provides walletd, the wallet back-end daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-exchange/walletd/internal/api"
	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/ledger"
	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/query"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/internal/webhook"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.walletd", "Data directory")
		httpAddr    = flag.String("http-addr", "", "Command/API address, overrides config")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("walletd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	cfg.Logging.Level = *logLevel

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	log.Info("config loaded", "path", config.ConfigPath(*dataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.Storage.DataDir)

	wallets := storage.NewWalletRepository(store)
	txns := storage.NewTransactionRepository(store)
	idempotency := storage.NewIdempotencyStore(store, cfg.Ledger.IdempotencyTTL)

	sink := notify.New(256)
	go sink.Run(ctx)
	log.Info("notification sink started")

	engine := ledger.New(store, sink, ledger.Options{
		TransferExpiry: cfg.Ledger.TransferExpiry(),
		CashOutExpiry:  cfg.Ledger.CashOutExpiry(),
	})

	querySvc := query.NewService(txns, wallets, cfg.Query.ListCacheTTL)
	engine.SetInvalidator(querySvc)
	log.Info("query service wired", "cache_ttl", cfg.Query.ListCacheTTL)

	webhookAdapter := webhook.New(engine, wallets, idempotency, cfg.Webhook.Secret, cfg.Webhook.IPWhitelist)
	log.Info("webhook adapter initialized", "whitelist_size", len(cfg.Webhook.IPWhitelist))

	expiryWorker := ledger.NewExpiryWorker(engine, ledger.ExpiryWorkerConfig{
		Period:    cfg.Ledger.ExpiryWorkerPeriod,
		BatchSize: 200,
	})
	expiryWorker.Start()
	log.Info("expiry worker started", "period", cfg.Ledger.ExpiryWorkerPeriod)

	facade := api.New(engine, wallets, querySvc, webhookAdapter, idempotency)

	wsHub := api.NewWSHub()
	go wsHub.Run()

	apiServer := api.NewServer(facade, wsHub)
	if err := apiServer.Start(cfg.HTTPAddr); err != nil {
		log.Fatal("failed to start api server", "error", err)
	}

	sink.Subscribe(func(evt notify.Event) {
		wsHub.Broadcast(evt)
	})

	printBanner(log, cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()
	expiryWorker.Stop()
	if err := apiServer.Stop(); err != nil {
		log.Error("error stopping api server", "error", err)
	}
	sink.Stop()

	log.Info("goodbye!")
}

func printBanner(log *logging.Logger, httpAddr string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  walletd (%s)", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", httpAddr)
	log.Infof("  WS:  ws://%s/ws", httpAddr)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
