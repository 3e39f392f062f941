package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/api"
	"github.com/uhyunpark/custodex/pkg/app/core/token"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/genesis"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose, util.DefaultLogRotation)
	} else {
		logger, err = util.NewLogger(cfg.Node.Verbose)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("node_failed", zap.Error(err))
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	custody := cfg.Custody()

	// ---- Host chain (in-process tokens + native bank) ----
	host := genesis.Empty()
	if cfg.Node.GenesisFile != "" {
		g, err := genesis.Load(cfg.Node.GenesisFile)
		if err != nil {
			return err
		}
		if host, err = g.Build(custody); err != nil {
			return err
		}
		for asset, sym := range host.Symbols {
			logger.Info("token_registered", zap.String("symbol", sym), zap.String("asset", asset.Hex()))
		}
	}

	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return err
	}
	store, err := storage.OpenPebble(filepath.Join(cfg.Node.DataDir, "exchange"))
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Notification sinks ----
	hub := api.NewHub(logger.Named("ws"))
	sinks := events.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		k := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
		defer k.Close()
		sinks = append(sinks, k)
		logger.Info("kafka_sink_enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	if cfg.Node.EventLogFile != "" {
		f := events.NewFileSink(cfg.Node.EventLogFile, logger.Named("eventlog"))
		defer f.Close()
		sinks = append(sinks, f)
	}

	// ---- Exchange ----
	x, err := exchange.New(exchange.Config{
		Custody:    custody,
		FeeAccount: cfg.FeeAccount(),
		FeePercent: cfg.Exchange.FeePercent,
		Tokens:     host.Tokens,
		Vault:      &token.Vault{Bank: host.Bank, Custody: custody},
		Store:      store,
		Sink:       sinks,
		Logger:     logger.Named("exchange"),
	})
	if err != nil {
		return err
	}
	owed, err := x.Holdings(context.Background())
	if err != nil {
		return err
	}
	if err := host.Backfill(context.Background(), custody, owed); err != nil {
		return err
	}

	verifier := transaction.NewVerifier(cfg.Domain(), store)

	logger.Info("node_starting",
		zap.String("custody", custody.Hex()),
		zap.String("fee_account", cfg.FeeAccount().Hex()),
		zap.Uint64("fee_percent", cfg.Exchange.FeePercent),
		zap.Uint64("orders", x.OrderCount(context.Background())),
		zap.Int64("chain_id", cfg.Signing.ChainID),
		zap.String("data_dir", cfg.Node.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	srv := api.NewServer(x, verifier, host.Bank, hub, cfg.API.AllowedOrigins, logger.Named("api"))
	return srv.Start(ctx, cfg.Node.APIAddr)
}
