package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"assetmarket/config"
	nativecommon "assetmarket/native/common"
	"assetmarket/native/market"
	"assetmarket/observability/logging"
	"assetmarket/registry"
	"assetmarket/rpc"
	"assetmarket/storage/marketstore"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("marketd", cfg.Environment, cfg.LogLevel)

	authSecret, err := cfg.ResolveAuthSecret()
	if err != nil {
		logger.Error("failed to resolve auth secret", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := marketstore.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	if err := seedParams(cfg, store); err != nil {
		logger.Error("failed to seed params", slog.Any("error", err))
		os.Exit(1)
	}

	registryClient, err := registry.NewClient(cfg.RegistryEndpoint, registry.WithToken(cfg.ResolveRegistryToken()))
	if err != nil {
		logger.Error("failed to build registry client", slog.Any("error", err))
		os.Exit(1)
	}

	operator, err := cfg.OperatorAddress()
	if err != nil {
		logger.Error("failed to decode operator", slog.Any("error", err))
		os.Exit(1)
	}

	admin := market.NewAdminEngine()
	admin.SetState(store)
	admin.SetEmitter(store)

	ledger := market.NewLedgerEngine()
	ledger.SetState(store)
	ledger.SetPaymentSender(registryClient)
	ledger.SetEmitter(store)
	ledger.SetPauses(admin)

	fixed := market.NewFixedEngine(ledger)
	fixed.SetState(store)
	fixed.SetRegistry(registryClient)
	fixed.SetPaymentSender(registryClient)
	fixed.SetEmitter(store)
	fixed.SetPauses(admin)
	fixed.SetOperator(operator)

	auction := market.NewAuctionEngine(ledger)
	auction.SetState(store)
	auction.SetRegistry(registryClient)
	auction.SetPaymentSender(registryClient)
	auction.SetEmitter(store)
	auction.SetPauses(admin)
	auction.SetOperator(operator)

	server := rpc.NewServer(fixed, auction, ledger, admin, authSecret, logger)
	server.SetQuota(nativecommon.Quota{MaxRequestsPerMin: cfg.RateLimitPerMin, EpochSeconds: 60})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("marketd listening", slog.String("address", cfg.ListenAddress))
	if err := server.Serve(ctx, cfg.ListenAddress); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("marketd shut down")
}

// seedParams installs the configured marketplace parameters on first start.
// Once the admin exists in the store, later changes go through the admin
// engine and the file values are ignored.
func seedParams(cfg *config.Config, store *marketstore.Store) error {
	params, err := store.ParamsGet()
	if err != nil {
		return err
	}
	if !isZero(params.Admin) {
		return nil
	}
	admin, err := cfg.AdminAddress()
	if err != nil {
		return err
	}
	recipient, err := cfg.FeeRecipientAddress()
	if err != nil {
		return err
	}
	return store.ParamsPut(market.Params{
		Admin:                admin,
		FeeRecipient:         recipient,
		FeePercentage:        cfg.FeePercentage,
		MaxRoyaltyPercentage: cfg.MaxRoyaltyPercentage,
		Paused:               map[string]bool{},
	})
}

func isZero(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}
