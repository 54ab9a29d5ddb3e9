package store

import (
	"context"
	"sync"
	"time"

	"github.com/xDzaky/school-payment-blockchain/pkg/models"
)

// MemoryStore is an in-memory PaymentStore. It backs the development binary
// and tests; production deployments plug a database-backed implementation
// into the same interface.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]*models.PaymentIntent
}

var _ PaymentStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*models.PaymentIntent),
	}
}

// Create inserts a payment record. It belongs to the surrounding CRUD surface,
// not to the orchestrator's PaymentStore contract.
func (s *MemoryStore) Create(_ context.Context, payment models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now()
	}
	if payment.Status == "" {
		payment.Status = models.PaymentPending
	}
	if payment.Conversion.Status == "" {
		payment.Conversion.Status = models.ConversionPending
	}
	s.payments[payment.ID] = &payment
	return nil
}

func (s *MemoryStore) Find(_ context.Context, paymentID string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy so callers cannot mutate stored state directly.
	clone := *payment
	return &clone, nil
}

func (s *MemoryStore) MarkConverting(_ context.Context, paymentID string, snapshot ConvertingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return ErrNotFound
	}

	payment.Conversion.Status = models.ConversionConverting
	payment.Conversion.SourceMethod = snapshot.Method
	payment.Conversion.SourceAmount = snapshot.SourceAmount
	payment.Conversion.SourceCurrency = snapshot.SourceCurrency
	if snapshot.Quote != nil {
		payment.Conversion.TargetAmount = snapshot.Quote.TargetAmount
		payment.Conversion.TargetCurrency = snapshot.Quote.TargetCurrency
		payment.Conversion.ExchangeRate = snapshot.Quote.ExchangeRate
		payment.Conversion.ConversionFee = snapshot.Quote.ConversionFee
		payment.Conversion.RateProvenance = snapshot.Quote.RateProvenance
	}
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, paymentID string, receipt SettlementReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return ErrNotFound
	}

	convertedAt := receipt.ConvertedAt
	payment.Conversion.Status = models.ConversionCompleted
	payment.Conversion.TxHash = receipt.TxHash
	payment.Conversion.ConvertedAt = &convertedAt
	payment.Conversion.Error = ""

	paidAt := receipt.ConvertedAt
	payment.Status = models.PaymentCompleted
	payment.PaidAt = &paidAt
	payment.Details.Method = payment.Conversion.SourceMethod
	payment.Details.TransactionID = receipt.TransactionID
	payment.Details.TxHash = receipt.TxHash
	payment.Details.PaidAmount = payment.Conversion.SourceAmount
	payment.Details.PaidCurrency = payment.Conversion.SourceCurrency
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, paymentID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return ErrNotFound
	}

	payment.Conversion.Status = models.ConversionFailed
	payment.Conversion.Error = reason
	return nil
}

// StatusStats aggregates terminal conversion outcomes for one status.
type StatusStats struct {
	Count          int     `json:"count"`
	TotalAmount    float64 `json:"totalAmount"`
	TotalConverted float64 `json:"totalConverted"`
	TotalFees      float64 `json:"totalFees"`
}

// MethodStats aggregates conversions for one source method.
type MethodStats struct {
	Count       int     `json:"count"`
	TotalAmount float64 `json:"totalAmount"`
	AvgAmount   float64 `json:"avgAmount"`
}

// ConversionStats aggregates conversion outcomes by status and source method.
// It serves the stats endpoint and is not part of the orchestrator contract.
func (s *MemoryStore) ConversionStats(_ context.Context) (map[models.ConversionStatus]StatusStats, map[models.SourceMethod]MethodStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[models.ConversionStatus]StatusStats)
	byMethod := make(map[models.SourceMethod]MethodStats)

	for _, payment := range s.payments {
		conv := payment.Conversion
		if conv.Status == "" || conv.Status == models.ConversionPending {
			continue
		}

		stat := byStatus[conv.Status]
		stat.Count++
		stat.TotalAmount += conv.SourceAmount
		stat.TotalConverted += conv.TargetAmount
		stat.TotalFees += conv.ConversionFee
		byStatus[conv.Status] = stat

		if conv.SourceMethod != "" {
			mstat := byMethod[conv.SourceMethod]
			mstat.Count++
			mstat.TotalAmount += conv.SourceAmount
			mstat.AvgAmount = mstat.TotalAmount / float64(mstat.Count)
			byMethod[conv.SourceMethod] = mstat
		}
	}

	return byStatus, byMethod, nil
}
