package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xDzaky/school-payment-blockchain/pkg/models"
)

func seedIntent(t *testing.T, s *MemoryStore, id string, amount float64) {
	t.Helper()
	err := s.Create(context.Background(), models.PaymentIntent{
		ID:       id,
		Amount:   amount,
		Currency: "IDR",
	})
	require.NoError(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create defaults", func(t *testing.T) {
		s := NewMemoryStore()
		seedIntent(t, s, "PAY-001", 50000)

		payment, err := s.Find(ctx, "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, payment.Status)
		assert.Equal(t, models.ConversionPending, payment.Conversion.Status)
		assert.False(t, payment.CreatedAt.IsZero())
	})

	t.Run("find unknown id", func(t *testing.T) {
		s := NewMemoryStore()

		_, err := s.Find(ctx, "PAY-404")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("find returns a copy", func(t *testing.T) {
		s := NewMemoryStore()
		seedIntent(t, s, "PAY-001", 50000)

		payment, err := s.Find(ctx, "PAY-001")
		require.NoError(t, err)
		payment.Status = models.PaymentFailed

		again, err := s.Find(ctx, "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentPending, again.Status)
	})

	t.Run("mark converting records snapshot", func(t *testing.T) {
		s := NewMemoryStore()
		seedIntent(t, s, "PAY-001", 50000)

		err := s.MarkConverting(ctx, "PAY-001", ConvertingSnapshot{
			Method:         models.MethodGopay,
			SourceAmount:   50000,
			SourceCurrency: "IDR",
		})
		require.NoError(t, err)

		payment, err := s.Find(ctx, "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionConverting, payment.Conversion.Status)
		assert.Equal(t, models.MethodGopay, payment.Conversion.SourceMethod)
		assert.Equal(t, 50000.0, payment.Conversion.SourceAmount)
		assert.Zero(t, payment.Conversion.ExchangeRate, "no quote on first write")
	})

	t.Run("second mark converting fills the quote", func(t *testing.T) {
		s := NewMemoryStore()
		seedIntent(t, s, "PAY-001", 50000)

		snapshot := ConvertingSnapshot{
			Method:         models.MethodGopay,
			SourceAmount:   50000,
			SourceCurrency: "IDR",
		}
		require.NoError(t, s.MarkConverting(ctx, "PAY-001", snapshot))

		snapshot.Quote = &QuoteSnapshot{
			TargetAmount:   4.95,
			TargetCurrency: "MATIC",
			ExchangeRate:   10000,
			ConversionFee:  0.05,
			RateProvenance: "live",
		}
		require.NoError(t, s.MarkConverting(ctx, "PAY-001", snapshot))

		payment, err := s.Find(ctx, "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionConverting, payment.Conversion.Status)
		assert.Equal(t, 4.95, payment.Conversion.TargetAmount)
		assert.Equal(t, "MATIC", payment.Conversion.TargetCurrency)
		assert.Equal(t, 10000.0, payment.Conversion.ExchangeRate)
		assert.Equal(t, "live", payment.Conversion.RateProvenance)
	})

	t.Run("mark completed finalizes payment and conversion", func(t *testing.T) {
		s := NewMemoryStore()
		seedIntent(t, s, "PAY-001", 50000)

		require.NoError(t, s.MarkConverting(ctx, "PAY-001", ConvertingSnapshot{
			Method:         models.MethodBank,
			SourceAmount:   50000,
			SourceCurrency: "IDR",
		}))

		convertedAt := time.Now()
		require.NoError(t, s.MarkCompleted(ctx, "PAY-001", SettlementReceipt{
			TxHash:        "0xabc123",
			ConvertedAt:   convertedAt,
			TransactionID: "TXN-1",
		}))

		payment, err := s.Find(ctx, "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionCompleted, payment.Conversion.Status)
		assert.Equal(t, "0xabc123", payment.Conversion.TxHash)
		require.NotNil(t, payment.Conversion.ConvertedAt)

		assert.Equal(t, models.PaymentCompleted, payment.Status)
		require.NotNil(t, payment.PaidAt)
		assert.Equal(t, models.MethodBank, payment.Details.Method)
		assert.Equal(t, "TXN-1", payment.Details.TransactionID)
		assert.Equal(t, "0xabc123", payment.Details.TxHash)
		assert.Equal(t, 50000.0, payment.Details.PaidAmount)
		assert.Equal(t, "IDR", payment.Details.PaidCurrency)
	})

	t.Run("mark failed leaves payment status alone", func(t *testing.T) {
		s := NewMemoryStore()
		seedIntent(t, s, "PAY-001", 50000)

		require.NoError(t, s.MarkFailed(ctx, "PAY-001", "insufficient wallet balance"))

		payment, err := s.Find(ctx, "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionFailed, payment.Conversion.Status)
		assert.Equal(t, "insufficient wallet balance", payment.Conversion.Error)
		assert.Equal(t, models.PaymentPending, payment.Status)
		assert.Nil(t, payment.PaidAt)
	})

	t.Run("transitions on unknown id return not found", func(t *testing.T) {
		s := NewMemoryStore()

		assert.ErrorIs(t, s.MarkConverting(ctx, "PAY-404", ConvertingSnapshot{}), ErrNotFound)
		assert.ErrorIs(t, s.MarkCompleted(ctx, "PAY-404", SettlementReceipt{}), ErrNotFound)
		assert.ErrorIs(t, s.MarkFailed(ctx, "PAY-404", "x"), ErrNotFound)
	})
}

func TestConversionStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Two completed via gopay, one failed via bank, one still pending
	for _, id := range []string{"PAY-001", "PAY-002"} {
		seedIntent(t, s, id, 50000)
		require.NoError(t, s.MarkConverting(ctx, id, ConvertingSnapshot{
			Method:       models.MethodGopay,
			SourceAmount: 50000,
			Quote:        &QuoteSnapshot{TargetAmount: 4.95, ConversionFee: 0.05},
		}))
		require.NoError(t, s.MarkCompleted(ctx, id, SettlementReceipt{TxHash: "0x0", ConvertedAt: time.Now()}))
	}

	seedIntent(t, s, "PAY-003", 20000)
	require.NoError(t, s.MarkConverting(ctx, "PAY-003", ConvertingSnapshot{
		Method:       models.MethodBank,
		SourceAmount: 20000,
	}))
	require.NoError(t, s.MarkFailed(ctx, "PAY-003", "boom"))

	seedIntent(t, s, "PAY-004", 99999)

	byStatus, byMethod, err := s.ConversionStats(ctx)
	require.NoError(t, err)

	completed := byStatus[models.ConversionCompleted]
	assert.Equal(t, 2, completed.Count)
	assert.Equal(t, 100000.0, completed.TotalAmount)
	assert.InDelta(t, 9.9, completed.TotalConverted, 1e-9)
	assert.InDelta(t, 0.1, completed.TotalFees, 1e-9)

	failed := byStatus[models.ConversionFailed]
	assert.Equal(t, 1, failed.Count)

	// Pending payments are not counted
	assert.NotContains(t, byStatus, models.ConversionPending)

	gopay := byMethod[models.MethodGopay]
	assert.Equal(t, 2, gopay.Count)
	assert.Equal(t, 50000.0, gopay.AvgAmount)

	bank := byMethod[models.MethodBank]
	assert.Equal(t, 1, bank.Count)
}
