package models

import "time"

// PaymentStatus is the lifecycle status of the payment itself, as recorded by
// the surrounding CRUD layer. It is independent from ConversionStatus: an
// off-chain payment can be received while on-chain settlement still fails.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentExpired   PaymentStatus = "expired"
)

// ConversionStatus is the lifecycle of the auto-convert attempt layered on top
// of PaymentStatus.
//
// Compatibility matrix:
//
//	ConversionPending    valid with PaymentPending
//	ConversionConverting valid with PaymentPending
//	ConversionCompleted  valid with PaymentCompleted only
//	ConversionFailed     valid with PaymentPending or PaymentCompleted
type ConversionStatus string

const (
	ConversionPending    ConversionStatus = "pending"
	ConversionConverting ConversionStatus = "converting"
	ConversionCompleted  ConversionStatus = "completed"
	ConversionFailed     ConversionStatus = "failed"
)

// Terminal reports whether the conversion status can no longer change.
func (s ConversionStatus) Terminal() bool {
	return s == ConversionCompleted || s == ConversionFailed
}

// SourceMethod identifies the off-chain payment rail that produced the funds.
type SourceMethod string

const (
	MethodGopay  SourceMethod = "gopay"
	MethodBank   SourceMethod = "bank"
	MethodManual SourceMethod = "manual"
)

// ConversionState tracks a single auto-convert attempt for a payment. It is
// written exclusively by the settlement orchestrator.
type ConversionState struct {
	Status         ConversionStatus `json:"conversionStatus"`
	SourceMethod   SourceMethod     `json:"sourceMethod,omitempty"`
	SourceAmount   float64          `json:"sourceAmount,omitempty"`
	SourceCurrency string           `json:"sourceCurrency,omitempty"`
	TargetAmount   float64          `json:"targetAmount,omitempty"`
	TargetCurrency string           `json:"targetCurrency,omitempty"`
	ExchangeRate   float64          `json:"exchangeRate,omitempty"`
	ConversionFee  float64          `json:"conversionFee,omitempty"`
	RateProvenance string           `json:"rateProvenance,omitempty"`
	TxHash         string           `json:"blockchainTxHash,omitempty"`
	ConvertedAt    *time.Time       `json:"convertedAt,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// PaymentDetails records how the payment was ultimately settled.
type PaymentDetails struct {
	Method        SourceMethod `json:"method,omitempty"`
	TransactionID string       `json:"transactionId,omitempty"`
	TxHash        string       `json:"transactionHash,omitempty"`
	PaidAmount    float64      `json:"paidAmount,omitempty"`
	PaidCurrency  string       `json:"paidCurrency,omitempty"`
}

// PaymentIntent is the durable payment record. The CRUD layer owns it; the
// orchestrator only mutates Status, PaidAt, Details and Conversion through the
// store's intention-revealing operations.
type PaymentIntent struct {
	ID          string          `json:"paymentId"`
	StudentID   string          `json:"studentId,omitempty"`
	StudentName string          `json:"studentName,omitempty"`
	PaymentType string          `json:"paymentType,omitempty"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	Status      PaymentStatus   `json:"status"`
	Details     PaymentDetails  `json:"paymentDetails"`
	Conversion  ConversionState `json:"autoConvert"`
	CreatedAt   time.Time       `json:"createdAt"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// Expired reports whether the intent is past its expiry and therefore terminal
// regardless of other fields.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
