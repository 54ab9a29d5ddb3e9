package converter

import (
	"sort"
	"sync"
	"time"
)

// AdmissionSet is the in-flight admission set guarding single-attempt
// semantics per payment id. Implementations must make TryAcquire an atomic
// insert-if-absent: a check followed by a separate insert would race.
type AdmissionSet interface {
	// TryAcquire atomically inserts the id and returns true, or returns false
	// if the id is already present.
	TryAcquire(paymentID string) bool

	// Release removes the id. Releasing an absent id is a no-op.
	Release(paymentID string)

	// Count returns the number of ids currently admitted.
	Count() int

	// IDs returns the admitted ids, sorted.
	IDs() []string
}

// Admissions is the default mutex-backed AdmissionSet.
type Admissions struct {
	mu       sync.Mutex
	inflight map[string]time.Time
}

var _ AdmissionSet = (*Admissions)(nil)

// NewAdmissions creates an empty admission set.
func NewAdmissions() *Admissions {
	return &Admissions{inflight: make(map[string]time.Time)}
}

func (a *Admissions) TryAcquire(paymentID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.inflight[paymentID]; exists {
		return false
	}
	a.inflight[paymentID] = time.Now()
	return true
}

func (a *Admissions) Release(paymentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, paymentID)
}

func (a *Admissions) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

func (a *Admissions) IDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.inflight))
	for id := range a.inflight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
