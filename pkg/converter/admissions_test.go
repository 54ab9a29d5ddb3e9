package converter

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmissions(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		adm := NewAdmissions()

		assert.True(t, adm.TryAcquire("PAY-001"))
		assert.False(t, adm.TryAcquire("PAY-001"))
		assert.Equal(t, 1, adm.Count())

		adm.Release("PAY-001")
		assert.Equal(t, 0, adm.Count())
		assert.True(t, adm.TryAcquire("PAY-001"))
	})

	t.Run("release absent id is a no-op", func(t *testing.T) {
		adm := NewAdmissions()
		adm.Release("PAY-404")
		assert.Equal(t, 0, adm.Count())
	})

	t.Run("ids are sorted", func(t *testing.T) {
		adm := NewAdmissions()
		adm.TryAcquire("PAY-003")
		adm.TryAcquire("PAY-001")
		adm.TryAcquire("PAY-002")

		assert.Equal(t, []string{"PAY-001", "PAY-002", "PAY-003"}, adm.IDs())
	})

	t.Run("concurrent acquire admits exactly one", func(t *testing.T) {
		adm := NewAdmissions()

		const n = 50
		var admitted int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if adm.TryAcquire("PAY-001") {
					atomic.AddInt32(&admitted, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&admitted))
		assert.Equal(t, 1, adm.Count())
	})
}
