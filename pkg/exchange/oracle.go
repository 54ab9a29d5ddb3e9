package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xDzaky/school-payment-blockchain/pkg/circuitbreaker"
	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
	"github.com/xDzaky/school-payment-blockchain/pkg/metrics"
)

// Provenance indicates how a quote was obtained, so audit logs can
// distinguish real-time from degraded pricing.
type Provenance string

const (
	// ProvenanceLive means the rate was freshly fetched from the price feed
	ProvenanceLive Provenance = "live"
	// ProvenanceCached means the rate was served from the cache, possibly stale
	ProvenanceCached Provenance = "cached"
	// ProvenanceStatic means the configured static fallback rate was used
	ProvenanceStatic Provenance = "static-fallback"
)

// Quote is an exchange rate snapshot. Quotes are ephemeral: they live in the
// cache for the freshness window and are never a system of record.
type Quote struct {
	Rate       float64    `json:"rate"`
	FetchedAt  time.Time  `json:"fetchedAt"`
	Provenance Provenance `json:"provenance"`
}

// Conversion is the result of converting a fiat amount into the settlement
// asset, with the full fee breakdown for auditing.
type Conversion struct {
	SourceAmount float64    `json:"sourceAmount"`
	Rate         float64    `json:"exchangeRate"`
	GrossAmount  float64    `json:"grossAmount"`
	Fee          float64    `json:"feeAmount"`
	NetAmount    float64    `json:"netAmount"`
	FeePercent   float64    `json:"feePercent"`
	Provenance   Provenance `json:"rateProvenance"`
}

// Config holds the settings for the rate oracle.
type Config struct {
	BaseURL        string
	AssetID        string
	SourceCurrency string
	TargetAsset    string
	FeePercent     float64
	MinAmount      float64
	StaticRate     float64
	CacheTTL       time.Duration
}

// Service fetches and caches fiat to settlement-asset exchange rates and
// computes convertible amounts after fee.
type Service struct {
	httpClient     *http.Client
	baseURL        string
	assetID        string
	sourceCurrency string
	targetAsset    string
	feePercent     float64
	minAmount      float64
	staticRate     float64
	cache          *RateCache
	breaker        *circuitbreaker.CircuitBreaker
	logger         logger.Logger
}

// NewService creates a rate oracle from the given configuration.
func NewService(cfg Config, log logger.Logger) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	return &Service{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		assetID:        cfg.AssetID,
		sourceCurrency: cfg.SourceCurrency,
		targetAsset:    cfg.TargetAsset,
		feePercent:     cfg.FeePercent,
		minAmount:      cfg.MinAmount,
		staticRate:     cfg.StaticRate,
		cache:          NewRateCache(ttl),
		breaker:        circuitbreaker.NewCircuitBreaker(true, 3, 1*time.Minute, 2*time.Minute),
		logger:         log,
	}
}

// pairKey is the cache key for the configured currency pair.
func (s *Service) pairKey() string {
	return s.sourceCurrency + "_" + s.targetAsset
}

// GetRate returns the current fiat per settlement-asset rate. A quote younger
// than the freshness window is served from cache; otherwise a fresh fetch is
// attempted. On fetch failure the last cached quote is served, and if nothing
// has ever been cached the configured static rate is returned. Settlement is
// never blocked solely because the price feed is down.
func (s *Service) GetRate(ctx context.Context) (Quote, error) {
	pair := s.pairKey()

	if rate, fetchedAt, ok := s.cache.Get(pair); ok {
		metrics.RateQuotes.WithLabelValues(string(ProvenanceCached)).Inc()
		return Quote{Rate: rate, FetchedAt: fetchedAt, Provenance: ProvenanceCached}, nil
	}

	if !s.breaker.IsOpen() {
		rate, err := s.fetchRate(ctx)
		if err == nil {
			s.cache.Set(pair, rate)
			s.breaker.Reset()
			metrics.ExchangeRate.Set(rate)
			metrics.RateQuotes.WithLabelValues(string(ProvenanceLive)).Inc()
			return Quote{Rate: rate, FetchedAt: time.Now(), Provenance: ProvenanceLive}, nil
		}

		metrics.RateFetchErrors.Inc()
		s.breaker.RecordFailure()
		s.logger.Error(logger.Oracle, "Failed to fetch %s rate: %v", s.pairKey(), err)
	} else {
		s.logger.Debug(logger.Oracle, "Price feed circuit open, skipping fetch")
	}

	// Fall back to the last cached quote, stale or not
	if rate, fetchedAt, ok := s.cache.GetStale(pair); ok {
		s.logger.Notice(logger.Oracle, "Serving stale rate from %s (age %v)", fetchedAt.Format(time.RFC3339), time.Since(fetchedAt).Round(time.Second))
		metrics.RateQuotes.WithLabelValues(string(ProvenanceCached)).Inc()
		return Quote{Rate: rate, FetchedAt: fetchedAt, Provenance: ProvenanceCached}, nil
	}

	// Ultimate fallback: the configured static rate
	if s.staticRate <= 0 {
		return Quote{}, fmt.Errorf("price feed unavailable and no static fallback rate configured")
	}
	s.logger.Notice(logger.Oracle, "Serving static fallback rate %.2f", s.staticRate)
	metrics.RateQuotes.WithLabelValues(string(ProvenanceStatic)).Inc()
	return Quote{Rate: s.staticRate, FetchedAt: time.Now(), Provenance: ProvenanceStatic}, nil
}

// Convert converts a fiat amount into the settlement asset, applying the
// configured fee percentage to the gross converted amount. Both the fee and
// the net amount are returned so the caller can persist an auditable
// breakdown.
func (s *Service) Convert(ctx context.Context, amount float64) (Conversion, error) {
	if amount <= 0 {
		return Conversion{}, fmt.Errorf("invalid amount: %f, must be greater than 0", amount)
	}

	quote, err := s.GetRate(ctx)
	if err != nil {
		return Conversion{}, err
	}

	gross := amount / quote.Rate
	fee := gross * (s.feePercent / 100)
	net := gross - fee

	return Conversion{
		SourceAmount: amount,
		Rate:         quote.Rate,
		GrossAmount:  gross,
		Fee:          fee,
		NetAmount:    net,
		FeePercent:   s.feePercent,
		Provenance:   quote.Provenance,
	}, nil
}

// IsEligible reports whether an amount meets the minimum conversion threshold.
// The boundary is inclusive: an amount exactly equal to the minimum converts.
func (s *Service) IsEligible(amount float64) bool {
	return amount >= s.minAmount
}

// MinAmount returns the configured minimum convertible amount.
func (s *Service) MinAmount() float64 {
	return s.minAmount
}

// Freshness describes the oracle's cache state for the health endpoint.
func (s *Service) Freshness() (rate float64, fetchedAt time.Time, cached bool, degraded bool) {
	rate, fetchedAt, cached = s.cache.GetStale(s.pairKey())
	_, degraded = s.breaker.State()
	return rate, fetchedAt, cached, degraded
}

// fetchRate fetches a fresh rate from the price feed.
func (s *Service) fetchRate(ctx context.Context) (float64, error) {
	vs := strings.ToLower(s.sourceCurrency)
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", s.baseURL, s.assetID, vs)

	prices, err := s.fetchPrices(ctx, url)
	if err != nil {
		return 0, err
	}

	rate, ok := prices[s.assetID][vs]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no %s rate in price feed response", s.assetID)
	}
	return rate, nil
}

// staticMultiRates are rough per-asset fallbacks when the price feed is down.
var staticMultiRates = map[string]float64{
	"matic-network": 10000,
	"ethereum":      50000000,
	"solana":        2000000,
	"bitcoin":       1500000000,
}

// MultiRates fetches fiat rates for a set of well-known assets for the rates
// endpoint, falling back to static values per asset when the feed is down.
func (s *Service) MultiRates(ctx context.Context) map[string]float64 {
	vs := strings.ToLower(s.sourceCurrency)
	ids := make([]string, 0, len(staticMultiRates))
	for id := range staticMultiRates {
		ids = append(ids, id)
	}
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", s.baseURL, strings.Join(ids, ","), vs)

	out := make(map[string]float64, len(staticMultiRates))
	prices, err := s.fetchPrices(ctx, url)
	if err != nil {
		s.logger.Error(logger.Oracle, "Failed to fetch multi-asset rates: %v", err)
		for id, fallback := range staticMultiRates {
			out[id] = fallback
		}
		return out
	}

	for id, fallback := range staticMultiRates {
		if rate, ok := prices[id][vs]; ok && rate > 0 {
			out[id] = rate
		} else {
			out[id] = fallback
		}
	}
	return out
}

// fetchPrices performs a price feed request and decodes the id -> currency -> rate map.
func (s *Service) fetchPrices(ctx context.Context, url string) (map[string]map[string]float64, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code from price feed: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read price feed response: %v", err)
	}

	var prices map[string]map[string]float64
	if err := json.Unmarshal(body, &prices); err != nil {
		return nil, fmt.Errorf("failed to decode price feed response: %v", err)
	}
	return prices, nil
}
