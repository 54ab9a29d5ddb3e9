package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xDzaky/school-payment-blockchain/pkg/config"
	"github.com/xDzaky/school-payment-blockchain/pkg/converter"
	"github.com/xDzaky/school-payment-blockchain/pkg/exchange"
	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
	"github.com/xDzaky/school-payment-blockchain/pkg/store"
	"github.com/xDzaky/school-payment-blockchain/pkg/wallet"
	"github.com/xDzaky/school-payment-blockchain/pkg/webhook"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		log.Fatalf("Failed to connect to RPC endpoint: %v", err)
	}
	defer client.Close()

	sender, err := wallet.NewSender(ctx, client, wallet.SenderConfig{
		CustodyAddress: cfg.CustodyAddress,
		PrivateKey:     cfg.PrivateKey,
		GasMultiplier:  cfg.GasMultiplier,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, stdLogger)
	if err != nil {
		log.Fatalf("Failed to create wallet sender: %v", err)
	}
	if !sender.Configured() {
		stdLogger.Notice(logger.Wallet, "No private key configured, conversions will fail until one is set")
	}

	oracle := exchange.NewService(exchange.Config{
		BaseURL:        cfg.CoinGeckoURL,
		AssetID:        cfg.AssetID,
		SourceCurrency: cfg.SourceCurrency,
		TargetAsset:    cfg.TargetAsset,
		FeePercent:     cfg.FeePercent,
		MinAmount:      cfg.MinConvertAmount,
		StaticRate:     cfg.StaticRate,
		CacheTTL:       cfg.RateCacheTTL,
	}, stdLogger)

	payments := store.NewMemoryStore()

	orchestrator := converter.NewService(payments, oracle, sender, converter.NewAdmissions(), converter.Config{
		Enabled:        cfg.AutoConvertEnabled,
		SourceCurrency: cfg.SourceCurrency,
		TargetAsset:    cfg.TargetAsset,
	}, stdLogger)

	server := webhook.NewServer(webhook.Config{
		Port: cfg.ServerPort,
		Gopay: webhook.RailConfig{
			Secret:           cfg.GopaySecret,
			AdminDestination: cfg.AdminGopayNumber,
		},
		Bank: webhook.RailConfig{
			Secret:           cfg.BankSecret,
			AdminDestination: cfg.AdminBankAccount,
		},
		MetricsAPIKey: cfg.MetricsAPIKey,
	}, orchestrator, oracle, sender, payments, stdLogger)

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	log.Println("Starting the settlement service...")
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
