package converter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xDzaky/school-payment-blockchain/pkg/exchange"
	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
	"github.com/xDzaky/school-payment-blockchain/pkg/metrics"
	"github.com/xDzaky/school-payment-blockchain/pkg/models"
	"github.com/xDzaky/school-payment-blockchain/pkg/store"
	"github.com/xDzaky/school-payment-blockchain/pkg/wallet"
)

// Rejection reasons surfaced to callers. Idempotency rejections are no-op
// results, not errors.
const (
	ReasonDisabled          = "auto-convert disabled"
	ReasonAlreadyProcessing = "already processing"
	ReasonNotFound          = "payment not found"
	ReasonExpired           = "payment expired"
	ReasonTooSmall          = "amount too small"
	ReasonAlreadyTerminal   = "conversion already finished"
)

// RateOracle is the slice of the exchange service the orchestrator drives.
type RateOracle interface {
	Convert(ctx context.Context, amount float64) (exchange.Conversion, error)
	IsEligible(amount float64) bool
	MinAmount() float64
}

// Transmitter dispatches the on-chain settlement transfer.
type Transmitter interface {
	Send(ctx context.Context, amount float64, memo string) (*wallet.Receipt, error)
}

// Outcome is the result of one trigger call.
type Outcome struct {
	Success    bool                 `json:"success"`
	Reason     string               `json:"reason,omitempty"`
	PaymentID  string               `json:"paymentId"`
	Conversion *exchange.Conversion `json:"conversionResult,omitempty"`
	Receipt    *wallet.Receipt      `json:"blockchainResult,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// rejected builds a no-side-effect rejection outcome.
func rejected(paymentID, reason string) Outcome {
	metrics.ConversionRejections.WithLabelValues(reason).Inc()
	return Outcome{Success: false, Reason: reason, PaymentID: paymentID}
}

// Config holds the orchestrator settings.
type Config struct {
	Enabled        bool
	SourceCurrency string
	TargetAsset    string
}

// Service is the settlement orchestrator: it drives a completed off-chain
// payment through rate conversion and on-chain dispatch to a persisted
// terminal state, with at most one attempt in flight per payment id.
type Service struct {
	store          store.PaymentStore
	oracle         RateOracle
	sender         Transmitter
	admissions     AdmissionSet
	enabled        bool
	sourceCurrency string
	targetAsset    string
	logger         logger.Logger
}

// NewService creates the orchestrator. The admission set is injected so tests
// can observe or fake admission behavior.
func NewService(st store.PaymentStore, oracle RateOracle, sender Transmitter, admissions AdmissionSet, cfg Config, log logger.Logger) *Service {
	if admissions == nil {
		admissions = NewAdmissions()
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Service{
		store:          st,
		oracle:         oracle,
		sender:         sender,
		admissions:     admissions,
		enabled:        cfg.Enabled,
		sourceCurrency: cfg.SourceCurrency,
		targetAsset:    cfg.TargetAsset,
		logger:         log,
	}
}

// Enabled reports whether auto-convert is switched on.
func (s *Service) Enabled() bool {
	return s.enabled
}

// InFlight returns the number of payment ids currently converting.
func (s *Service) InFlight() int {
	return s.admissions.Count()
}

// InFlightIDs returns the payment ids currently converting.
func (s *Service) InFlightIDs() []string {
	return s.admissions.IDs()
}

// Trigger runs one conversion attempt for a completed off-chain payment.
// Terminal conversion states are rejected: replayed webhooks land here and
// are acknowledged as no-ops.
//
// The steps are ordered to prefer over-recording to under-recording: every
// external call's intent is persisted before the call is made, so
// reconciliation can always distinguish "never attempted" from "attempted but
// outcome unknown". Rejections before the converting transition have no
// observable side effect.
func (s *Service) Trigger(ctx context.Context, paymentID string, method models.SourceMethod, amount float64, correlationID string) Outcome {
	return s.run(ctx, paymentID, method, amount, correlationID, false)
}

// Retry is the manual-trigger entry point. It behaves like Trigger except
// that a failed conversion may re-enter converting, so an operator can
// re-attempt settlement after fixing the cause (funding, signing key).
// Completed conversions stay immutable.
func (s *Service) Retry(ctx context.Context, paymentID string, method models.SourceMethod, amount float64, correlationID string) Outcome {
	return s.run(ctx, paymentID, method, amount, correlationID, true)
}

func (s *Service) run(ctx context.Context, paymentID string, method models.SourceMethod, amount float64, correlationID string, retryFailed bool) Outcome {
	if !s.enabled {
		s.logger.Info(logger.Convert, "Auto-convert is disabled, ignoring trigger for %s", paymentID)
		return rejected(paymentID, ReasonDisabled)
	}

	if !s.admissions.TryAcquire(paymentID) {
		s.logger.Info(logger.Convert, "Payment %s already being processed", paymentID)
		return rejected(paymentID, ReasonAlreadyProcessing)
	}
	metrics.InFlightConversions.Set(float64(s.admissions.Count()))
	defer func() {
		s.admissions.Release(paymentID)
		metrics.InFlightConversions.Set(float64(s.admissions.Count()))
	}()

	s.logger.Info(logger.Convert, "Starting auto-convert for payment %s: %.0f %s via %s",
		paymentID, amount, s.sourceCurrency, method)

	payment, err := s.store.Find(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rejected(paymentID, ReasonNotFound)
		}
		return Outcome{Success: false, PaymentID: paymentID, Error: err.Error()}
	}

	if payment.Conversion.Status.Terminal() {
		if !retryFailed || payment.Conversion.Status == models.ConversionCompleted {
			s.logger.Info(logger.Convert, "Payment %s conversion already %s, ignoring trigger",
				paymentID, payment.Conversion.Status)
			return rejected(paymentID, ReasonAlreadyTerminal)
		}
		s.logger.Notice(logger.Convert, "Retrying failed conversion for payment %s", paymentID)
	}

	if payment.Expired(time.Now()) {
		return rejected(paymentID, ReasonExpired)
	}

	if !s.oracle.IsEligible(amount) {
		s.logger.Info(logger.Convert, "Payment %s amount %.0f below minimum %.0f",
			paymentID, amount, s.oracle.MinAmount())
		return rejected(paymentID, ReasonTooSmall)
	}

	started := time.Now()

	// Persist the converting transition before any external call so a crash
	// mid-conversion leaves durable evidence of the attempt.
	snapshot := store.ConvertingSnapshot{
		Method:         method,
		SourceAmount:   amount,
		SourceCurrency: s.sourceCurrency,
	}
	if err := s.store.MarkConverting(ctx, paymentID, snapshot); err != nil {
		return Outcome{Success: false, PaymentID: paymentID, Error: fmt.Sprintf("failed to record conversion start: %v", err)}
	}

	conv, err := s.oracle.Convert(ctx, amount)
	if err != nil {
		return s.fail(ctx, paymentID, method, started, err)
	}

	s.logger.Info(logger.Convert, "Converted %.0f %s -> %.6f %s (rate %.2f, fee %.6f, provenance %s)",
		amount, s.sourceCurrency, conv.NetAmount, s.targetAsset, conv.Rate, conv.Fee, conv.Provenance)

	// Record the quote before dispatch so a failed transfer still has an
	// audit trail of what should have been sent.
	snapshot.Quote = &store.QuoteSnapshot{
		TargetAmount:   conv.NetAmount,
		TargetCurrency: s.targetAsset,
		ExchangeRate:   conv.Rate,
		ConversionFee:  conv.Fee,
		RateProvenance: string(conv.Provenance),
	}
	if err := s.store.MarkConverting(ctx, paymentID, snapshot); err != nil {
		return s.fail(ctx, paymentID, method, started, err)
	}

	memo := fmt.Sprintf("Auto-convert from %s: %s", method, paymentID)
	receipt, err := s.sender.Send(ctx, conv.NetAmount, memo)
	if err != nil {
		return s.fail(ctx, paymentID, method, started, err)
	}

	if err := s.store.MarkCompleted(ctx, paymentID, store.SettlementReceipt{
		TxHash:        receipt.TxHash,
		ConvertedAt:   time.Now(),
		TransactionID: correlationID,
	}); err != nil {
		// The transfer is on-chain; surface the persistence failure loudly
		// but report the settlement itself as done.
		s.logger.Error(logger.Convert, "Transfer %s confirmed but completion not persisted for %s: %v",
			receipt.TxHash, paymentID, err)
	}

	metrics.ConversionsTotal.WithLabelValues(string(models.ConversionCompleted), string(method)).Inc()
	metrics.ConversionDuration.WithLabelValues(string(method)).Observe(time.Since(started).Seconds())
	metrics.ConvertedAmount.WithLabelValues(string(method)).Add(conv.NetAmount)
	metrics.ConversionFees.Add(conv.Fee)

	s.logger.Notice(logger.Convert, "Auto-convert completed for payment %s: %s", paymentID, receipt.TxHash)

	return Outcome{
		Success:    true,
		PaymentID:  paymentID,
		Conversion: &conv,
		Receipt:    receipt,
	}
}

// fail persists the failed terminal state and builds the failure outcome. The
// payment's own status stays untouched: the off-chain payment may still be
// considered received even though on-chain settlement failed.
func (s *Service) fail(ctx context.Context, paymentID string, method models.SourceMethod, started time.Time, cause error) Outcome {
	s.logger.Error(logger.Convert, "Auto-convert failed for payment %s: %v", paymentID, cause)

	if err := s.store.MarkFailed(ctx, paymentID, cause.Error()); err != nil {
		s.logger.Error(logger.Convert, "Failed to record conversion failure for %s: %v", paymentID, err)
	}

	metrics.ConversionsTotal.WithLabelValues(string(models.ConversionFailed), string(method)).Inc()
	metrics.ConversionDuration.WithLabelValues(string(method)).Observe(time.Since(started).Seconds())

	return Outcome{Success: false, PaymentID: paymentID, Error: cause.Error()}
}
