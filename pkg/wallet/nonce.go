package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xDzaky/school-payment-blockchain/pkg/logger"
)

// NonceManager sequences nonces for the custody account. All settlements
// share one signing key, so concurrent sends must be allocated strictly
// increasing nonces or the node rejects the later broadcast.
type NonceManager struct {
	mu           sync.Mutex
	currentNonce uint64
	lastSync     time.Time
	syncInterval time.Duration
	pendingTxs   map[uint64]common.Hash
	logger       logger.Logger
}

// NewNonceManager creates a nonce manager for the custody account.
func NewNonceManager(log logger.Logger) *NonceManager {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &NonceManager{
		syncInterval: 5 * time.Minute,
		pendingTxs:   make(map[uint64]common.Hash),
		logger:       log,
	}
}

// Next reserves and returns the next available nonce, resyncing with the node
// when the local counter may have drifted.
func (nm *NonceManager) Next(ctx context.Context, backend Backend, address common.Address) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || time.Since(nm.lastSync) > nm.syncInterval {
		nonce, err := backend.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > nm.currentNonce {
			nm.logger.Debug(logger.Wallet, "Syncing nonce: %d -> %d", nm.currentNonce, nonce)
			nm.currentNonce = nonce
		}
		nm.lastSync = time.Now()
	}

	nonce := nm.currentNonce
	nm.currentNonce++
	return nonce, nil
}

// Track records a broadcast transaction under its nonce.
func (nm *NonceManager) Track(nonce uint64, txHash common.Hash) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.pendingTxs[nonce] = txHash
}

// Confirm marks a tracked transaction as confirmed and releases its nonce.
func (nm *NonceManager) Confirm(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.pendingTxs, nonce)
}

// Fail marks a tracked transaction as failed. When the failed nonce is the
// lowest pending one it is handed back for reuse so the account does not gap.
func (nm *NonceManager) Fail(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingTxs, nonce)

	lowest := nonce
	for pending := range nm.pendingTxs {
		if pending < lowest {
			lowest = pending
		}
	}
	if nonce == lowest && nm.currentNonce > nonce {
		nm.logger.Debug(logger.Wallet, "Reusing nonce %d after transaction failure", nonce)
		nm.currentNonce = nonce
	}
}

// PendingCount returns the number of tracked in-flight transactions.
func (nm *NonceManager) PendingCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pendingTxs)
}
