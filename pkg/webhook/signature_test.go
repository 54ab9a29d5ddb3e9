package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature(t *testing.T) {
	secret := "test_secret"
	body := []byte(`{"transaction_id":"TXN-1","amount":50000}`)

	t.Run("round trip", func(t *testing.T) {
		sig := ComputeSignature(secret, body)
		assert.True(t, VerifySignature(secret, sig, body))
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := ComputeSignature(secret, body)
		tampered := []byte(`{"transaction_id":"TXN-1","amount":99999}`)
		assert.False(t, VerifySignature(secret, sig, tampered))
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := ComputeSignature("other_secret", body)
		assert.False(t, VerifySignature(secret, sig, body))
	})

	t.Run("empty signature", func(t *testing.T) {
		assert.False(t, VerifySignature(secret, "", body))
	})

	t.Run("non-hex signature", func(t *testing.T) {
		assert.False(t, VerifySignature(secret, "not-hex!!", body))
	})

	t.Run("truncated signature", func(t *testing.T) {
		sig := ComputeSignature(secret, body)
		assert.False(t, VerifySignature(secret, sig[:16], body))
	})
}
