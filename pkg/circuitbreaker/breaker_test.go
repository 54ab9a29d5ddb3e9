package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("trips after threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(true, 3, time.Minute, time.Minute)

		assert.False(t, cb.RecordFailure())
		assert.False(t, cb.RecordFailure())
		assert.True(t, cb.RecordFailure())
		assert.True(t, cb.IsOpen())
	})

	t.Run("closed below threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(true, 3, time.Minute, time.Minute)

		cb.RecordFailure()
		cb.RecordFailure()
		assert.False(t, cb.IsOpen())
	})

	t.Run("failures outside window do not accumulate", func(t *testing.T) {
		cb := NewCircuitBreaker(true, 2, 10*time.Millisecond, time.Minute)

		cb.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		assert.False(t, cb.RecordFailure(), "stale failure must not count toward the threshold")
	})

	t.Run("reopens after reset timeout", func(t *testing.T) {
		cb := NewCircuitBreaker(true, 1, time.Minute, 10*time.Millisecond)

		assert.True(t, cb.RecordFailure())
		assert.True(t, cb.IsOpen())

		time.Sleep(20 * time.Millisecond)
		assert.False(t, cb.IsOpen())
	})

	t.Run("manual reset closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(true, 1, time.Minute, time.Minute)

		cb.RecordFailure()
		assert.True(t, cb.IsOpen())

		cb.Reset()
		assert.False(t, cb.IsOpen())

		count, tripped := cb.State()
		assert.Equal(t, 0, count)
		assert.False(t, tripped)
	})

	t.Run("disabled breaker never opens", func(t *testing.T) {
		cb := NewCircuitBreaker(false, 1, time.Minute, time.Minute)

		assert.False(t, cb.RecordFailure())
		assert.False(t, cb.IsOpen())
	})
}
