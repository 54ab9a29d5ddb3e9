package store

import (
	"context"
	"errors"
	"time"

	"github.com/xDzaky/school-payment-blockchain/pkg/models"
)

// ErrNotFound is returned when no payment record exists for the given id.
var ErrNotFound = errors.New("payment not found")

// ConvertingSnapshot captures what is about to be converted. It is persisted
// before any external call is made, so a crash mid-conversion leaves durable
// evidence of the attempt. Quote is nil on the first write and filled in with
// a second MarkConverting call once the rate oracle has answered, before the
// on-chain dispatch.
type ConvertingSnapshot struct {
	Method         models.SourceMethod
	SourceAmount   float64
	SourceCurrency string
	Quote          *QuoteSnapshot
}

// QuoteSnapshot is the audit record of the conversion arithmetic, captured at
// conversion time and never recomputed.
type QuoteSnapshot struct {
	TargetAmount   float64
	TargetCurrency string
	ExchangeRate   float64
	ConversionFee  float64
	RateProvenance string
}

// SettlementReceipt carries the terminal outcome of a successful dispatch.
type SettlementReceipt struct {
	TxHash        string
	ConvertedAt   time.Time
	TransactionID string
}

// PaymentStore is the collaborator interface the orchestrator drives. These
// four intention-revealing operations are the only writes the orchestrator
// ever issues against payment records.
type PaymentStore interface {
	// Find returns the payment record for the given id, or ErrNotFound.
	Find(ctx context.Context, paymentID string) (*models.PaymentIntent, error)

	// MarkConverting transitions the conversion to the converting state and
	// records the snapshot. Calling it again updates the snapshot in place
	// while the attempt is still live.
	MarkConverting(ctx context.Context, paymentID string, snapshot ConvertingSnapshot) error

	// MarkCompleted transitions the conversion to completed, records the
	// receipt and marks the owning payment as completed with its own paidAt.
	MarkCompleted(ctx context.Context, paymentID string, receipt SettlementReceipt) error

	// MarkFailed transitions the conversion to failed and records the error.
	// The payment's own status is left untouched.
	MarkFailed(ctx context.Context, paymentID string, reason string) error
}
