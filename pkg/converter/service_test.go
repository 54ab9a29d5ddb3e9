package converter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xDzaky/school-payment-blockchain/pkg/exchange"
	"github.com/xDzaky/school-payment-blockchain/pkg/models"
	"github.com/xDzaky/school-payment-blockchain/pkg/store"
	"github.com/xDzaky/school-payment-blockchain/pkg/wallet"
)

// fakeOracle returns a fixed-rate conversion.
type fakeOracle struct {
	rate       float64
	feePercent float64
	minAmount  float64
	provenance exchange.Provenance
	err        error
}

func (f *fakeOracle) Convert(ctx context.Context, amount float64) (exchange.Conversion, error) {
	if f.err != nil {
		return exchange.Conversion{}, f.err
	}
	gross := amount / f.rate
	fee := gross * (f.feePercent / 100)
	return exchange.Conversion{
		SourceAmount: amount,
		Rate:         f.rate,
		GrossAmount:  gross,
		Fee:          fee,
		NetAmount:    gross - fee,
		FeePercent:   f.feePercent,
		Provenance:   f.provenance,
	}, nil
}

func (f *fakeOracle) IsEligible(amount float64) bool { return amount >= f.minAmount }
func (f *fakeOracle) MinAmount() float64             { return f.minAmount }

// fakeSender records sends and can fail or block on demand.
type fakeSender struct {
	mu      sync.Mutex
	sends   []float64
	memos   []string
	err     error
	receipt *wallet.Receipt
	block   chan struct{} // when non-nil, Send waits on it
}

func (f *fakeSender) Send(ctx context.Context, amount float64, memo string) (*wallet.Receipt, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sends = append(f.sends, amount)
	f.memos = append(f.memos, memo)
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &wallet.Receipt{TxHash: "0xabc123", BlockNumber: 42, GasUsed: 21000}, nil
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func defaultOracle() *fakeOracle {
	return &fakeOracle{rate: 10000, feePercent: 1, minAmount: 10000, provenance: exchange.ProvenanceLive}
}

func newTestService(t *testing.T, st store.PaymentStore, oracle RateOracle, sender Transmitter) *Service {
	t.Helper()
	return NewService(st, oracle, sender, nil, Config{
		Enabled:        true,
		SourceCurrency: "IDR",
		TargetAsset:    "MATIC",
	}, nil)
}

func seedPayment(t *testing.T, st *store.MemoryStore, id string, amount float64) {
	t.Helper()
	err := st.Create(context.Background(), models.PaymentIntent{
		ID:        id,
		Amount:    amount,
		Currency:  "IDR",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
}

func TestTrigger(t *testing.T) {
	t.Run("successful conversion", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")

		require.True(t, outcome.Success)
		require.NotNil(t, outcome.Conversion)
		require.NotNil(t, outcome.Receipt)
		assert.InDelta(t, 4.95, outcome.Conversion.NetAmount, 1e-9)
		assert.Equal(t, "0xabc123", outcome.Receipt.TxHash)

		// Net amount after fee is what goes on-chain
		require.Len(t, sender.sends, 1)
		assert.InDelta(t, 4.95, sender.sends[0], 1e-9)
		assert.Equal(t, "Auto-convert from gopay: PAY-001", sender.memos[0])

		// Terminal state with the full audit trail persisted
		payment, err := st.Find(context.Background(), "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionCompleted, payment.Conversion.Status)
		assert.Equal(t, models.PaymentCompleted, payment.Status)
		assert.Equal(t, "0xabc123", payment.Conversion.TxHash)
		assert.Equal(t, 10000.0, payment.Conversion.ExchangeRate)
		assert.InDelta(t, 0.05, payment.Conversion.ConversionFee, 1e-9)
		assert.Equal(t, "live", payment.Conversion.RateProvenance)
		assert.Equal(t, "TXN-1", payment.Details.TransactionID)
		require.NotNil(t, payment.PaidAt)

		// Admission released
		assert.Equal(t, 0, svc.InFlight())
	})

	t.Run("disabled service rejects without side effects", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{}
		svc := NewService(st, defaultOracle(), sender, nil, Config{Enabled: false}, nil)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")

		assert.False(t, outcome.Success)
		assert.Equal(t, ReasonDisabled, outcome.Reason)
		assert.Equal(t, 0, sender.sendCount())

		payment, err := st.Find(context.Background(), "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionPending, payment.Conversion.Status)
	})

	t.Run("unknown payment", func(t *testing.T) {
		st := store.NewMemoryStore()
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		outcome := svc.Trigger(context.Background(), "PAY-404", models.MethodGopay, 50000, "TXN-1")

		assert.False(t, outcome.Success)
		assert.Equal(t, ReasonNotFound, outcome.Reason)
		assert.Equal(t, 0, sender.sendCount())
	})

	t.Run("expired payment", func(t *testing.T) {
		st := store.NewMemoryStore()
		err := st.Create(context.Background(), models.PaymentIntent{
			ID:        "PAY-001",
			Amount:    50000,
			ExpiresAt: time.Now().Add(-time.Minute),
		})
		require.NoError(t, err)
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")

		assert.False(t, outcome.Success)
		assert.Equal(t, ReasonExpired, outcome.Reason)
		assert.Equal(t, 0, sender.sendCount())
	})

	t.Run("amount below minimum", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 5000)
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 5000, "TXN-1")

		assert.False(t, outcome.Success)
		assert.Equal(t, ReasonTooSmall, outcome.Reason)
		assert.Equal(t, 0, sender.sendCount())

		// Rejection leaves no converting trace behind
		payment, err := st.Find(context.Background(), "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionPending, payment.Conversion.Status)
	})

	t.Run("exactly minimum converts", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 10000)
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodBank, 10000, "TXN-1")
		assert.True(t, outcome.Success)
	})

	t.Run("replayed trigger on completed conversion is a no-op", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		first := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		require.True(t, first.Success)

		second := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		assert.False(t, second.Success)
		assert.Equal(t, ReasonAlreadyTerminal, second.Reason)
		assert.Equal(t, 1, sender.sendCount(), "replay must not dispatch again")
	})

	t.Run("failed conversion rejects a plain retrigger", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{err: errors.New("connection refused")}
		svc := newTestService(t, st, defaultOracle(), sender)

		first := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		assert.False(t, first.Success)

		second := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		assert.Equal(t, ReasonAlreadyTerminal, second.Reason)
	})

	t.Run("retry re-attempts a failed conversion", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{err: wallet.ErrInsufficientFunds}
		svc := newTestService(t, st, defaultOracle(), sender)

		first := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		assert.False(t, first.Success)
		assert.Equal(t, 0, svc.InFlight(), "admission released after failure")

		// Wallet gets funded, operator retries manually
		sender.mu.Lock()
		sender.err = nil
		sender.mu.Unlock()

		retry := svc.Retry(context.Background(), "PAY-001", models.MethodManual, 50000, "MANUAL_1")
		require.True(t, retry.Success)

		payment, err := st.Find(context.Background(), "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionCompleted, payment.Conversion.Status)
		assert.Empty(t, payment.Conversion.Error, "previous failure cleared on completion")
	})

	t.Run("retry never re-enters a completed conversion", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		first := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		require.True(t, first.Success)

		retry := svc.Retry(context.Background(), "PAY-001", models.MethodManual, 50000, "MANUAL_1")
		assert.False(t, retry.Success)
		assert.Equal(t, ReasonAlreadyTerminal, retry.Reason)
		assert.Equal(t, 1, sender.sendCount())
	})

	t.Run("dispatch failure persists failed state and quote", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{err: wallet.ErrInsufficientFunds}
		svc := newTestService(t, st, defaultOracle(), sender)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")

		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Error, "insufficient")

		payment, err := st.Find(context.Background(), "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionFailed, payment.Conversion.Status)
		assert.NotEmpty(t, payment.Conversion.Error)
		// Payment status itself is untouched by a settlement failure
		assert.Equal(t, models.PaymentPending, payment.Status)
		// The quote captured before dispatch survives for auditing
		assert.Equal(t, 10000.0, payment.Conversion.ExchangeRate)
		assert.InDelta(t, 4.95, payment.Conversion.TargetAmount, 1e-9)

		// Admission released even on failure
		assert.Equal(t, 0, svc.InFlight())
	})

	t.Run("oracle failure persists failed state", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		oracle := defaultOracle()
		oracle.err = errors.New("price feed unavailable and no static fallback rate configured")
		sender := &fakeSender{}
		svc := newTestService(t, st, oracle, sender)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")

		assert.False(t, outcome.Success)
		assert.Equal(t, 0, sender.sendCount())

		payment, err := st.Find(context.Background(), "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, models.ConversionFailed, payment.Conversion.Status)
	})

	t.Run("degraded rate still settles with provenance recorded", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		oracle := defaultOracle()
		oracle.provenance = exchange.ProvenanceStatic
		sender := &fakeSender{}
		svc := newTestService(t, st, oracle, sender)

		outcome := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		require.True(t, outcome.Success)

		payment, err := st.Find(context.Background(), "PAY-001")
		require.NoError(t, err)
		assert.Equal(t, "static-fallback", payment.Conversion.RateProvenance)
	})

	t.Run("concurrent triggers admit exactly one", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		sender := &fakeSender{block: make(chan struct{})}
		svc := newTestService(t, st, defaultOracle(), sender)

		results := make(chan Outcome, 2)
		go func() {
			results <- svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-1")
		}()

		// Wait for the first trigger to hold the admission
		require.Eventually(t, func() bool { return svc.InFlight() == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []string{"PAY-001"}, svc.InFlightIDs())

		second := svc.Trigger(context.Background(), "PAY-001", models.MethodGopay, 50000, "TXN-2")
		assert.False(t, second.Success)
		assert.Equal(t, ReasonAlreadyProcessing, second.Reason)

		close(sender.block)
		first := <-results
		assert.True(t, first.Success)
		assert.Equal(t, 1, sender.sendCount(), "only one dispatch across both triggers")
	})

	t.Run("distinct payments convert independently", func(t *testing.T) {
		st := store.NewMemoryStore()
		seedPayment(t, st, "PAY-001", 50000)
		seedPayment(t, st, "PAY-002", 20000)
		sender := &fakeSender{}
		svc := newTestService(t, st, defaultOracle(), sender)

		var wg sync.WaitGroup
		outcomes := make([]Outcome, 2)
		for i, id := range []string{"PAY-001", "PAY-002"} {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				outcomes[i] = svc.Trigger(context.Background(), id, models.MethodBank, 20000, "TXN")
			}(i, id)
		}
		wg.Wait()

		assert.True(t, outcomes[0].Success)
		assert.True(t, outcomes[1].Success)
		assert.Equal(t, 2, sender.sendCount())
	})
}
