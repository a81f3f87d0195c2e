// Package main implements brokerd, the compute broker daemon. It fronts a
// ledger-funded decentralized compute network: balance checks and top-ups,
// provider discovery, ranked failover execution, and optional content
// uploads, all behind one HTTP API.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/orbis-social/compute-broker/internal/api"
	"github.com/orbis-social/compute-broker/internal/broker"
	"github.com/orbis-social/compute-broker/internal/config"
	"github.com/orbis-social/compute-broker/internal/directory"
	"github.com/orbis-social/compute-broker/internal/funds"
	"github.com/orbis-social/compute-broker/internal/ledger"
	"github.com/orbis-social/compute-broker/internal/session"
	"github.com/orbis-social/compute-broker/internal/storage"
	"github.com/orbis-social/compute-broker/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to broker config file")
	envFile := flag.String("env-file", "", "Path to .env file")
	offline := flag.Bool("offline", false, "Run without a ledger node, serving a canned offline provider")
	flag.Parse()

	// Best effort: a missing .env file is not an error.
	if *envFile != "" {
		_ = godotenv.Load(*envFile)
	} else {
		_ = godotenv.Load()
	}

	log := newLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *offline {
		cfg.Offline = true
	}
	log = newLogger(cfg.LogLevel)

	srv, err := buildServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build broker")
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
		// Execute calls may span several 20s provider attempts, so the
		// write timeout has to stay well above one attempt budget.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Bool("offline", cfg.Offline).Msg("broker listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// buildServer wires the full broker stack from configuration.
func buildServer(cfg *config.Config, log zerolog.Logger) (*api.Server, error) {
	minThreshold, err := config.ParseAmount(cfg.Broker.MinBalance)
	if err != nil {
		return nil, err
	}
	topUp, err := config.ParseAmount(cfg.Broker.TopUpIncrement)
	if err != nil {
		return nil, err
	}

	var (
		ledgerClient ledger.Client
		tp           broker.Transport
	)
	if cfg.Offline {
		// Start the offline ledger funded past the threshold so the
		// first request does not trip a synthetic top-up.
		ledgerClient = broker.NewOfflineLedger(minThreshold * 10)
		tp = broker.OfflineTransport{}
	} else {
		var signingKey *ecdsa.PrivateKey
		if cfg.Ledger.KeyFile != "" {
			signingKey, err = config.LoadSigningKey(cfg.Ledger.KeyFile)
			if err != nil {
				return nil, err
			}
		}
		ledgerClient, err = ledger.NewRPCClient(ledger.Config{
			RPCURL:     cfg.Ledger.RPCURL,
			Account:    cfg.Ledger.Account,
			SigningKey: signingKey,
			Timeout:    time.Duration(cfg.Ledger.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		tp = transport.NewClient(transport.Config{})
	}

	fundsMgr, err := funds.NewManager(funds.Config{
		Ledger:          ledgerClient,
		Logger:          log,
		TopUpIncrement:  topUp,
		FundingInterval: time.Duration(cfg.Broker.FundingIntervalSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	orch, err := broker.NewOrchestrator(broker.OrchestratorConfig{
		Sessions:      session.New(ledgerClient, log),
		Transport:     tp,
		Verifier:      broker.NewResponseVerifier(log),
		Logger:        log,
		OperationPath: cfg.Broker.OperationPath,
	})
	if err != nil {
		return nil, err
	}

	engine, err := broker.NewEngine(broker.EngineConfig{
		Funds:        fundsMgr,
		Directory:    directory.New(ledgerClient, log),
		Orchestrator: orch,
		Ledger:       ledgerClient,
		MinThreshold: minThreshold,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	srv := api.NewServer(engine, log)

	if len(cfg.Storage.Endpoints) > 0 {
		uploader, err := storage.NewUploader(storage.Config{
			Transport:     tp,
			Funder:        fundsMgr,
			Logger:        log,
			RetryDelay:    time.Duration(cfg.Storage.RetryDelayMs) * time.Millisecond,
			MinThreshold:  minThreshold,
			OperationPath: cfg.Storage.OperationPath,
		})
		if err != nil {
			return nil, err
		}
		srv.EnableUploads(uploader, cfg.Storage.Endpoints)
	}

	return srv, nil
}
