package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := IdempotencyKey("evt-123:friend", "create-card")
	b := IdempotencyKey("evt-123:friend", "create-card")
	assert.Equal(t, a, b)
	assert.Equal(t, "evt-123:friend-create-card", a)
}

func TestIdempotencyKeyDistinctPerStep(t *testing.T) {
	create := IdempotencyKey("evt-123:friend", "create-card")
	activate := IdempotencyKey("evt-123:friend", "activate-owner")
	assert.NotEqual(t, create, activate)
}

func TestIdempotencyKeyLongSeedIsHashed(t *testing.T) {
	seed := strings.Repeat("x", 80)
	key := IdempotencyKey(seed, "activate-order")
	assert.LessOrEqual(t, len(key), 45)
	assert.True(t, strings.HasSuffix(key, "-activate-order"))

	// Still deterministic after hashing.
	assert.Equal(t, key, IdempotencyKey(seed, "activate-order"))
	assert.NotEqual(t, key, IdempotencyKey(seed+"y", "activate-order"))
}
