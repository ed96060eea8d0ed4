package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Provider idempotency keys are capped at 45 characters.
const maxIdempotencyKeyLen = 45

// IdempotencyKey derives the provider idempotency key for one pipeline step
// from a caller-supplied seed. It is a pure function: the same seed and step
// always produce the same key, across retries and process restarts, so a
// replayed call re-uses the provider-side operation instead of creating a
// second one.
func IdempotencyKey(seed, step string) string {
	key := fmt.Sprintf("%s-%s", seed, step)
	if len(key) <= maxIdempotencyKeyLen {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s-%s", hex.EncodeToString(sum[:8]), step)
}
