package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokerchain/config"
	"brokerchain/core"
	"brokerchain/core/events"
	"brokerchain/indexer"
	"brokerchain/observability"
	"brokerchain/observability/logging"
	telemetry "brokerchain/observability/otel"
	"brokerchain/rpc"
	"brokerchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	logLevel := flag.String("log-level", os.Getenv("BROKER_LOG_LEVEL"), "Log level (debug, info, warn, error)")
	flag.Parse()

	if err := run(*configFile, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "brokerd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, logLevel string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "brokerd",
		Env:        cfg.Env,
		Level:      logging.ParseLevel(logLevel),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromTelemetry("brokerd", cfg.Env, cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	owner, _, err := cfg.OwnerAddress()
	if err != nil {
		return err
	}
	custodyAddr, _, err := cfg.CustodyAccount()
	if err != nil {
		return err
	}
	gateways, err := buildGateways(cfg, logger)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.LedgerDir())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	journal, err := storage.OpenJournal(cfg.JournalDir())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()
	journal.SetLogger(logger)

	hub := events.NewHub()
	sinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	emitter := events.Multi{journal, hub, observability.Events()}
	emitter = append(emitter, sinks.emitters...)

	node, err := core.NewNode(db, core.Options{
		Owner:          owner,
		CustodyAddress: custodyAddr,
		Gateways:       gateways,
		Emitter:        emitter,
		Logger:         logger,
		Metrics:        observability.BrokerMetrics(),
	})
	if err != nil {
		return fmt.Errorf("open node: %w", err)
	}
	logger.Info("ledger ready",
		slog.Uint64("seq", node.Sequence()),
		slog.String("root", node.StateRoot().Hex()))

	if cfg.Indexer.Enabled {
		gdb, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		ix := indexer.New(gdb, logger)
		go ix.Run(ctx, journal, 0)
		logger.Info("indexer started", slog.String("driver", cfg.Indexer.Driver))
	}

	server := rpc.NewServer(node, rpc.ServerConfig{
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		MaxRequestBytes:   cfg.RPC.MaxRequestBytes,
		JWTSecret:         secretFromEnv(cfg.RPC.JWTSecretEnv),
		JWTIssuer:         cfg.RPC.JWTIssuer,
	})
	server.SetLogger(logger)
	server.SetEventHub(hub)
	server.SetJournal(journal)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.RPCAddress) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rpc server: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown failed", slog.Any("error", err))
	}
	return nil
}
