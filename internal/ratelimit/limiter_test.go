package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerMinuteRoundTrips(t *testing.T) {
	assert.Equal(t, 120, NewLimiter(120, 20).PerMinute())
	assert.Equal(t, 1, NewLimiter(1, 1).PerMinute())
}

func TestBurstThenDenied(t *testing.T) {
	l := NewLimiter(60, 2)

	assert.True(t, l.Allow("u1"))
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))

	// Users do not share buckets.
	assert.True(t, l.Allow("u2"))
}

func TestTokensDrain(t *testing.T) {
	l := NewLimiter(60, 5)
	before := l.Tokens("u1")
	l.Allow("u1")
	assert.Less(t, l.Tokens("u1"), before)
}
