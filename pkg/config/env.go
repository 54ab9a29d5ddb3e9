package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
)

const (
	// DefaultRPCURL is the default blockchain RPC endpoint
	DefaultRPCURL = "https://polygon-rpc.com"

	// DefaultCoinGeckoURL is the default price feed base URL
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

	// DefaultAssetID is the CoinGecko identifier of the settlement asset
	DefaultAssetID = "matic-network"

	// DefaultSourceCurrency is the fiat currency of inbound payments
	DefaultSourceCurrency = "IDR"

	// DefaultTargetAsset is the settlement asset symbol
	DefaultTargetAsset = "MATIC"

	// DefaultFeePercent is the conversion fee percentage applied to the gross converted amount
	DefaultFeePercent = 1.0

	// DefaultMinConvertAmount is the minimum fiat amount eligible for auto-convert
	DefaultMinConvertAmount = 10000.0

	// DefaultStaticRate is the last-resort exchange rate when the price feed is down and nothing is cached
	DefaultStaticRate = 10000.0

	// DefaultRateCacheTTL defines how long a fetched rate quote stays fresh
	DefaultRateCacheTTL = 60 * time.Second

	// DefaultConfirmTimeout bounds the wait for one on-chain confirmation
	DefaultConfirmTimeout = 90 * time.Second

	// DefaultGasMultiplier is the buffer applied on top of the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultServerPort is the default port for the webhook and metrics server
	DefaultServerPort = "8080"

	// DefaultWebhookSecret is the shared HMAC secret used when none is configured
	DefaultWebhookSecret = "default_secret"

	// DefaultAdminGopayNumber is the admin-owned GoPay destination number
	DefaultAdminGopayNumber = "081216494184"

	// DefaultAdminBankAccount is the admin-owned bank account number
	DefaultAdminBankAccount = "0391967864"
)

// GetEnvRPCURL returns the blockchain RPC URL from environment variables
func GetEnvRPCURL() string {
	if v := os.Getenv("RPC_URL"); v != "" {
		return v
	}
	return DefaultRPCURL
}

// GetEnvCustodyAddress returns the custody wallet address from environment variables
func GetEnvCustodyAddress() (string, error) {
	addr := os.Getenv("CUSTODY_ADDRESS")
	if addr == "" {
		return "", fmt.Errorf("CUSTODY_ADDRESS environment variable is required")
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid CUSTODY_ADDRESS value: %s, must be a valid address", addr)
	}
	return addr, nil
}

// GetEnvFeePercent returns the conversion fee percentage from environment variables
func GetEnvFeePercent() (float64, error) {
	v := os.Getenv("CONVERSION_FEE_PERCENT")
	if v == "" {
		return DefaultFeePercent, nil
	}

	pct, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid CONVERSION_FEE_PERCENT value: %s, must be a number", v)
	}
	if pct < 0 || pct >= 100 {
		return 0, fmt.Errorf("CONVERSION_FEE_PERCENT must be in [0, 100)")
	}
	return pct, nil
}

// GetEnvMinConvertAmount returns the minimum convertible fiat amount from environment variables
func GetEnvMinConvertAmount() (float64, error) {
	v := os.Getenv("MIN_CONVERT_AMOUNT")
	if v == "" {
		return DefaultMinConvertAmount, nil
	}

	amount, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MIN_CONVERT_AMOUNT value: %s, must be a number", v)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("MIN_CONVERT_AMOUNT must be greater than 0")
	}
	return amount, nil
}

// GetEnvStaticRate returns the static fallback exchange rate from environment variables
func GetEnvStaticRate() (float64, error) {
	v := os.Getenv("STATIC_FALLBACK_RATE")
	if v == "" {
		return DefaultStaticRate, nil
	}

	rate, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid STATIC_FALLBACK_RATE value: %s, must be a number", v)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("STATIC_FALLBACK_RATE must be greater than 0")
	}
	return rate, nil
}

// GetEnvRateCacheTTL returns the rate quote freshness window from environment variables
func GetEnvRateCacheTTL() (time.Duration, error) {
	v := os.Getenv("RATE_CACHE_TTL")
	if v == "" {
		return DefaultRateCacheTTL, nil
	}

	ttl, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid RATE_CACHE_TTL value: %s, must be a valid duration string", v)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("RATE_CACHE_TTL must be greater than 0")
	}
	return ttl, nil
}

// GetEnvConfirmTimeout returns the confirmation wait timeout from environment variables
func GetEnvConfirmTimeout() (time.Duration, error) {
	v := os.Getenv("CONFIRM_TIMEOUT")
	if v == "" {
		return DefaultConfirmTimeout, nil
	}

	timeout, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid CONFIRM_TIMEOUT value: %s, must be a valid duration string", v)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("CONFIRM_TIMEOUT must be greater than 0")
	}
	return timeout, nil
}

// GetEnvGasMultiplier returns the gas price buffer multiplier from environment variables
func GetEnvGasMultiplier() (float64, error) {
	v := os.Getenv("GAS_MULTIPLIER")
	if v == "" {
		return DefaultGasMultiplier, nil
	}

	multiplier, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", v)
	}
	if multiplier <= 0 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be greater than 0")
	}
	return multiplier, nil
}

// GetEnvServerPort returns the HTTP server port from environment variables
func GetEnvServerPort() (string, error) {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		return DefaultServerPort, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid SERVER_PORT value: %s, must be a valid integer", port)
	}
	return port, nil
}

// GetEnvAutoConvertEnabled returns whether auto-convert is enabled from environment variables
func GetEnvAutoConvertEnabled() (bool, error) {
	v := os.Getenv("AUTO_CONVERT_ENABLED")
	if v == "" {
		return true, nil
	}

	if v == "true" {
		return true, nil
	} else if v == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid AUTO_CONVERT_ENABLED value: %s, must be 'true' or 'false'", v)
}

// GetEnvWebhookSecret returns the shared HMAC secret for a payment rail
func GetEnvWebhookSecret(rail string) string {
	if v := os.Getenv(rail + "_WEBHOOK_SECRET"); v != "" {
		return v
	}
	return DefaultWebhookSecret
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	v := os.Getenv("LOG_LEVEL")
	switch v {
	case "":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", v)
}

// GetEnvLogColoring returns whether colored log prefixes are enabled
func GetEnvLogColoring() (bool, error) {
	v := os.Getenv("LOG_COLORING")
	if v == "" {
		return true, nil
	}

	if v == "true" {
		return true, nil
	} else if v == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", v)
}
