package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewNumberFormat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC)
	assert.Regexp(t, `^SUB-20260301123456-[0-9a-f]{10}$`, NewNumber(now))
}

func TestNewNumberIsUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		n := NewNumber(now)
		_, dup := seen[n]
		assert.False(t, dup, "duplicate order number %s", n)
		seen[n] = struct{}{}
	}
}
