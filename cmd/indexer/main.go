// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package main provides the CLI for running the leveraged-token indexer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/luxfi/ltindexer/config"
	"github.com/luxfi/ltindexer/evm/indexer"
	"github.com/luxfi/ltindexer/logging"
)

var version = "dev"

func main() {
	var (
		configFile  = flag.String("config", "", "Path to indexer.yaml config file")
		rpcEndpoint = flag.String("rpc", "", "RPC endpoint (overrides config)")
		databaseURL = flag.String("db", "", "PostgreSQL connection URL (selects the postgres backend)")
		httpPort    = flag.Int("port", 0, "HTTP server port (overrides config)")
		noOracle    = flag.Bool("no-oracle", false, "Disable the exchange rate refresh")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ltindexer %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Read(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *rpcEndpoint != "" {
		cfg.Chain.RPC = *rpcEndpoint
	}
	if *databaseURL != "" {
		cfg.Storage.Backend = "postgres"
		cfg.Storage.DatabaseURL = *databaseURL
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}
	if *noOracle {
		cfg.Oracle.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logging.Configure(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New("main")

	idx, err := indexer.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create indexer")
		return err
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close indexer")
		}
	}()

	log.Info().
		Str("version", version).
		Str("chain", cfg.Chain.Name).
		Uint64("chainId", cfg.Chain.ChainID).
		Str("storage", cfg.Storage.Backend).
		Int("port", cfg.HTTP.Port).
		Bool("oracle", cfg.Oracle.Enabled).
		Msg("Starting leveraged token indexer")

	if err := idx.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Indexer error")
		return err
	}
	log.Info().Msg("Indexer stopped")
	return nil
}
