package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministicWithoutCollision(t *testing.T) {
	db := newTestDB(t)
	gen := NewCodeGenerator(db)

	code1, err := gen.Generate("Umi Tanaka", "cust-42")
	require.NoError(t, err)
	code2, err := gen.Generate("Umi Tanaka", "cust-42")
	require.NoError(t, err)

	assert.Equal(t, code1, code2)
	assert.True(t, strings.HasPrefix(code1, "UMI"))
	assert.Len(t, code1, 7)
	assert.Equal(t, strings.ToUpper(code1), code1)
}

func TestGenerateTransliteratesName(t *testing.T) {
	db := newTestDB(t)
	gen := NewCodeGenerator(db)

	code, err := gen.Generate("Łukasz Żółty", "cust-7")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "LUK"), "got %s", code)
}

func TestGenerateFallbackPrefixForEmptyName(t *testing.T) {
	db := newTestDB(t)
	gen := NewCodeGenerator(db)

	code, err := gen.Generate("", "cust-7")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "REF"), "got %s", code)
}

func TestGeneratePerturbsOnCollision(t *testing.T) {
	db := newTestDB(t)
	gen := NewCodeGenerator(db)

	first := namePart("Umi Tanaka") + perturb(digitPart("cust-42"), 0)
	seedReferrer(t, db, "other", first)

	code, err := gen.Generate("Umi Tanaka", "cust-42")
	require.NoError(t, err)
	assert.NotEqual(t, first, code)
	assert.True(t, strings.HasPrefix(code, "UMI"))
	assert.Equal(t, namePart("Umi Tanaka")+perturb(digitPart("cust-42"), 1), code)
}

func TestGenerateTerminatesWhenAllAttemptsTaken(t *testing.T) {
	db := newTestDB(t)
	gen := NewCodeGenerator(db)

	base := namePart("Umi Tanaka")
	id := digitPart("cust-42")
	taken := map[string]bool{}
	for i := 0; i < codeGenAttempts; i++ {
		code := base + perturb(id, i)
		if !taken[code] {
			seedReferrer(t, db, "other-"+code, code)
			taken[code] = true
		}
	}

	code, err := gen.Generate("Umi Tanaka", "cust-42")
	require.NoError(t, err)
	assert.False(t, taken[code])
	assert.True(t, strings.HasPrefix(code, "UMI"))
	// Fallback appends six random hex characters.
	assert.Len(t, code, len(base)+6)
}

func TestGenerateCollisionCheckIsCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	gen := NewCodeGenerator(db)

	first := namePart("Umi Tanaka") + perturb(digitPart("cust-42"), 0)
	lower := strings.ToLower(first)
	seedReferrer(t, db, "other", lower)

	code, err := gen.Generate("Umi Tanaka", "cust-42")
	require.NoError(t, err)
	assert.NotEqual(t, first, code)
}
