package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
)

// Config holds the configuration for the settlement service
type Config struct {
	// Ledger transmitter
	RPCURL         string
	CustodyAddress string
	PrivateKey     string
	ConfirmTimeout time.Duration
	GasMultiplier  float64

	// Rate oracle
	CoinGeckoURL     string
	AssetID          string
	SourceCurrency   string
	TargetAsset      string
	FeePercent       float64
	MinConvertAmount float64
	StaticRate       float64
	RateCacheTTL     time.Duration

	// Webhook ingress
	ServerPort         string
	GopaySecret        string
	BankSecret         string
	AdminGopayNumber   string
	AdminBankAccount   string
	MetricsAPIKey      string
	AutoConvertEnabled bool

	LoggerConfig LoggerConfig
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	custodyAddress, err := GetEnvCustodyAddress()
	if err != nil {
		return nil, err
	}

	feePercent, err := GetEnvFeePercent()
	if err != nil {
		return nil, err
	}

	minConvertAmount, err := GetEnvMinConvertAmount()
	if err != nil {
		return nil, err
	}

	staticRate, err := GetEnvStaticRate()
	if err != nil {
		return nil, err
	}

	rateCacheTTL, err := GetEnvRateCacheTTL()
	if err != nil {
		return nil, err
	}

	confirmTimeout, err := GetEnvConfirmTimeout()
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	serverPort, err := GetEnvServerPort()
	if err != nil {
		return nil, err
	}

	autoConvertEnabled, err := GetEnvAutoConvertEnabled()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	coinGeckoURL := os.Getenv("COINGECKO_API_URL")
	if coinGeckoURL == "" {
		coinGeckoURL = DefaultCoinGeckoURL
	}

	assetID := os.Getenv("COINGECKO_ASSET_ID")
	if assetID == "" {
		assetID = DefaultAssetID
	}

	sourceCurrency := os.Getenv("SOURCE_CURRENCY")
	if sourceCurrency == "" {
		sourceCurrency = DefaultSourceCurrency
	}

	targetAsset := os.Getenv("TARGET_ASSET")
	if targetAsset == "" {
		targetAsset = DefaultTargetAsset
	}

	adminGopayNumber := os.Getenv("ADMIN_GOPAY_NUMBER")
	if adminGopayNumber == "" {
		adminGopayNumber = DefaultAdminGopayNumber
	}

	adminBankAccount := os.Getenv("ADMIN_BANK_ACCOUNT")
	if adminBankAccount == "" {
		adminBankAccount = DefaultAdminBankAccount
	}

	cfg := &Config{
		RPCURL:             GetEnvRPCURL(),
		CustodyAddress:     custodyAddress,
		PrivateKey:         os.Getenv("PRIVATE_KEY"),
		ConfirmTimeout:     confirmTimeout,
		GasMultiplier:      gasMultiplier,
		CoinGeckoURL:       coinGeckoURL,
		AssetID:            assetID,
		SourceCurrency:     sourceCurrency,
		TargetAsset:        targetAsset,
		FeePercent:         feePercent,
		MinConvertAmount:   minConvertAmount,
		StaticRate:         staticRate,
		RateCacheTTL:       rateCacheTTL,
		ServerPort:         serverPort,
		GopaySecret:        GetEnvWebhookSecret("GOPAY"),
		BankSecret:         GetEnvWebhookSecret("BANK"),
		AdminGopayNumber:   adminGopayNumber,
		AdminBankAccount:   adminBankAccount,
		MetricsAPIKey:      os.Getenv("METRICS_API_KEY"),
		AutoConvertEnabled: autoConvertEnabled,
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
//
// The private key is deliberately not required here: a missing or zeroed key
// is surfaced at dispatch time as a signing misconfiguration so the rest of
// the service (webhooks, health, stats) keeps running for operators.
func validateConfig(cfg *Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if cfg.CustodyAddress == "" {
		return fmt.Errorf("CUSTODY_ADDRESS is required")
	}
	return nil
}
