package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_conversions_total",
		Help: "The total number of conversion attempts by terminal status and source method",
	}, []string{"status", "method"})

	ConversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_conversion_seconds",
		Help:    "Time taken to run a conversion attempt end to end",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"method"})

	ConversionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_conversion_rejections_total",
		Help: "Trigger calls rejected before entering the converting state",
	}, []string{"reason"})

	InFlightConversions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_inflight_conversions",
		Help: "The number of payment ids currently holding an admission slot",
	})

	ConvertedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_converted_amount_total",
		Help: "Total settlement-asset amount dispatched on-chain",
	}, []string{"method"})

	ConversionFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_conversion_fees_total",
		Help: "Total conversion fees collected in settlement-asset units",
	})

	ExchangeRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_exchange_rate",
		Help: "Most recent fiat per settlement-asset exchange rate",
	})

	RateQuotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_rate_quotes_total",
		Help: "Rate quotes served by provenance (live, cached, static-fallback)",
	}, []string{"provenance"})

	RateFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_rate_fetch_errors_total",
		Help: "The total number of failed price feed fetches",
	})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_gas_price_gwei",
		Help: "Current gas price in gwei",
	})

	GasUsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_gas_used",
		Help:    "Gas used for settlement transfers",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 6),
	})

	WalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_wallet_balance",
		Help: "Custody wallet balance in settlement-asset units",
	})

	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhook_requests_total",
		Help: "Inbound webhook requests by rail and result",
	}, []string{"rail", "result"})
)
