package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xDzaky/school-payment-blockchain/pkg/converter"
	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
	"github.com/xDzaky/school-payment-blockchain/pkg/metrics"
	"github.com/xDzaky/school-payment-blockchain/pkg/models"
	"github.com/xDzaky/school-payment-blockchain/pkg/store"
)

// maxBodyBytes caps inbound webhook bodies.
const maxBodyBytes = 1 << 20

// statuses that mark a finalized successful payment per rail
const (
	gopayPaidStatus  = "PAID"
	bankPaidStatus   = "SUCCESS"
	defaultTriggerAmount = 50000
)

// Orchestrator is the settlement orchestrator surface the ingress drives.
// Rail webhooks use Trigger; the manual-trigger endpoint uses Retry so an
// operator can re-attempt a failed conversion.
type Orchestrator interface {
	Trigger(ctx context.Context, paymentID string, method models.SourceMethod, amount float64, correlationID string) converter.Outcome
	Retry(ctx context.Context, paymentID string, method models.SourceMethod, amount float64, correlationID string) converter.Outcome
	Enabled() bool
	InFlight() int
	InFlightIDs() []string
}

// OracleStatus exposes oracle state for the health and rates endpoints.
type OracleStatus interface {
	Freshness() (rate float64, fetchedAt time.Time, cached bool, degraded bool)
	MultiRates(ctx context.Context) map[string]float64
}

// WalletStatus exposes custody wallet state for the health endpoint.
type WalletStatus interface {
	Balance(ctx context.Context) (float64, error)
	GasPriceGwei(ctx context.Context) (float64, error)
	Configured() bool
}

// StatsSource aggregates terminal conversion outcomes for the stats endpoint.
type StatsSource interface {
	ConversionStats(ctx context.Context) (map[models.ConversionStatus]store.StatusStats, map[models.SourceMethod]store.MethodStats, error)
}

// RailConfig holds the verification settings for one payment rail.
type RailConfig struct {
	// Secret is the shared HMAC secret for this rail's notifications.
	Secret string
	// AdminDestination is the admin-owned destination identifier (phone
	// number or account number); notifications to anything else are ignored.
	AdminDestination string
}

// Config holds the webhook server settings.
type Config struct {
	Port          string
	Gopay         RailConfig
	Bank          RailConfig
	MetricsAPIKey string
}

// Server is the HTTP surface: webhook ingress for the payment rails plus the
// operational endpoints (manual trigger, health, stats, rates, metrics).
type Server struct {
	cfg          Config
	orchestrator Orchestrator
	oracle       OracleStatus
	wallet       WalletStatus
	stats        StatsSource
	logger       logger.Logger
}

// NewServer creates the webhook server.
func NewServer(cfg Config, orch Orchestrator, oracle OracleStatus, wallet WalletStatus, stats StatsSource, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orch,
		oracle:       oracle,
		wallet:       wallet,
		stats:        stats,
		logger:       log,
	}
}

// notification is the payload payment rails POST on completion.
type notification struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	PhoneNumber   string  `json:"phone_number"`
	AccountNumber string  `json:"account_number"`
	PaymentID     string  `json:"payment_id"`
	Timestamp     string  `json:"timestamp"`
}

// Handler builds the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhooks/gopay", s.handleRail("gopay", s.cfg.Gopay, gopayPaidStatus, models.MethodGopay,
		func(n notification) string { return n.PhoneNumber }))
	mux.HandleFunc("/webhooks/bank", s.handleRail("bank", s.cfg.Bank, bankPaidStatus, models.MethodBank,
		func(n notification) string { return n.AccountNumber }))
	mux.HandleFunc("/webhooks/manual-trigger", s.handleManualTrigger)
	mux.HandleFunc("/webhooks/health", s.handleHealth)
	mux.HandleFunc("/webhooks/stats", s.handleStats)
	mux.HandleFunc("/webhooks/rates", s.handleRates)
	mux.HandleFunc("/webhooks/test", s.handleTest)
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return mux
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(logger.Webhook, "Starting webhook and metrics server on port %s", s.cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleRail builds the handler for one payment rail: signature check first,
// then eligibility, then an asynchronous orchestrator invocation. Ineligible
// notifications are acknowledged with 200 so the provider stops retrying.
func (s *Server) handleRail(rail string, railCfg RailConfig, paidStatus string, method models.SourceMethod, destination func(notification) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			metrics.WebhookRequests.WithLabelValues(rail, "error").Inc()
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read body"})
			return
		}

		// Authenticity before any business logic touches the payload
		signature := r.Header.Get("X-Signature")
		if !VerifySignature(railCfg.Secret, signature, body) {
			s.logger.Notice(logger.Webhook, "Rejected %s webhook: bad or missing signature", rail)
			metrics.WebhookRequests.WithLabelValues(rail, "unauthorized").Inc()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}

		var n notification
		if err := json.Unmarshal(body, &n); err != nil {
			metrics.WebhookRequests.WithLabelValues(rail, "malformed").Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}

		s.logger.Info(logger.Webhook, "%s webhook received: tx=%s amount=%.0f status=%s",
			rail, n.TransactionID, n.Amount, n.Status)

		// Only finalized successes addressed to the admin destination are
		// ours to settle; everything else is acknowledged and ignored.
		if n.Status != paidStatus || destination(n) != railCfg.AdminDestination {
			s.logger.Info(logger.Webhook, "%s payment not eligible for auto-convert (status=%s)", rail, n.Status)
			metrics.WebhookRequests.WithLabelValues(rail, "ignored").Inc()
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "ignored",
				"message": "payment not eligible for auto-convert",
			})
			return
		}

		paymentID := n.PaymentID
		if paymentID == "" {
			paymentID = n.TransactionID
		}

		// Conversion can take multiple seconds (price fetch plus chain
		// confirmation); the rail contract wants a fast acknowledgment, so
		// the orchestrator runs detached from this request.
		go func() {
			outcome := s.orchestrator.Trigger(context.Background(), paymentID, method, n.Amount, n.TransactionID)
			if !outcome.Success {
				detail := outcome.Reason
				if outcome.Error != "" {
					detail = outcome.Error
				}
				s.logger.Notice(logger.Webhook, "%s auto-convert for %s did not complete: %s",
					rail, paymentID, detail)
			}
		}()

		metrics.WebhookRequests.WithLabelValues(rail, "accepted").Inc()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "accepted",
			"message":   "payment queued for auto-convert",
			"paymentId": paymentID,
		})
	}
}

// handleManualTrigger invokes the orchestrator synchronously. It bypasses
// signature verification and exists for operational recovery; the surrounding
// auth layer must restrict access to it.
func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PaymentID string  `json:"paymentId"`
		Method    string  `json:"method"`
		Amount    float64 `json:"amount"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.PaymentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payment id required"})
		return
	}
	method := models.SourceMethod(req.Method)
	if method == "" {
		method = models.MethodManual
	}
	amount := req.Amount
	if amount <= 0 {
		amount = defaultTriggerAmount
	}

	s.logger.Info(logger.Webhook, "Manual trigger requested for payment %s", req.PaymentID)

	outcome := s.orchestrator.Retry(r.Context(), req.PaymentID, method, amount,
		"MANUAL_"+time.Now().Format("20060102150405"))

	status := "failed"
	if outcome.Success {
		status = "success"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"result": outcome,
	})
}

// handleHealth reports oracle freshness, custody balance and admission state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health := map[string]interface{}{
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"autoConvertEnabled": s.orchestrator.Enabled(),
		"processingQueue":    s.orchestrator.InFlight(),
		"inFlight":           s.orchestrator.InFlightIDs(),
		"signingConfigured":  s.wallet.Configured(),
	}

	rate, fetchedAt, cached, degraded := s.oracle.Freshness()
	oracleHealth := map[string]interface{}{
		"cached":   cached,
		"degraded": degraded,
	}
	if cached {
		oracleHealth["rate"] = rate
		oracleHealth["fetchedAt"] = fetchedAt.UTC().Format(time.RFC3339)
		oracleHealth["age"] = time.Since(fetchedAt).Round(time.Second).String()
	}
	health["exchangeRate"] = oracleHealth

	healthy := s.wallet.Configured()
	if balance, err := s.wallet.Balance(ctx); err == nil {
		health["walletBalance"] = balance
	} else {
		health["walletBalanceError"] = err.Error()
		healthy = false
	}
	if gasPrice, err := s.wallet.GasPriceGwei(ctx); err == nil {
		health["gasPrice"] = gasPrice
	} else {
		health["gasPriceError"] = err.Error()
		healthy = false
	}

	if healthy {
		health["status"] = "healthy"
	} else {
		health["status"] = "unhealthy"
	}
	writeJSON(w, http.StatusOK, health)
}

// handleStats aggregates terminal conversion outcomes by status and method.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	byStatus, byMethod, err := s.stats.ConversionStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"conversionStats": byStatus,
		"methodStats":     byMethod,
		"processingQueue": s.orchestrator.InFlightIDs(),
	})
}

// handleRates reports current fiat rates for well-known assets.
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"rates":     s.oracle.MultiRates(r.Context()),
	})
}

// handleTest echoes the request body for development.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	var payload interface{}
	_ = json.Unmarshal(body, &payload)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"message":   "test webhook received",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"body":      payload,
	})
}

// metricsAuthMiddleware checks for a valid API key on the metrics endpoint.
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.cfg.MetricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.cfg.MetricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
