package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Allow(t *testing.T) {
	l := &limiter{rate: 1, burst: 2, buckets: make(map[string]*tokenBucket)}
	now := time.Now()

	assert.True(t, l.allow("1.2.3.4", now))
	assert.True(t, l.allow("1.2.3.4", now))
	assert.False(t, l.allow("1.2.3.4", now))

	// A different client has its own bucket.
	assert.True(t, l.allow("5.6.7.8", now))

	// One second refills one token at rate 1.
	assert.True(t, l.allow("1.2.3.4", now.Add(time.Second)))
	assert.False(t, l.allow("1.2.3.4", now.Add(time.Second)))
}

func TestLimiter_RefillCapsAtBurst(t *testing.T) {
	l := &limiter{rate: 10, burst: 3, buckets: make(map[string]*tokenBucket)}
	now := time.Now()

	assert.True(t, l.allow("c", now))
	later := now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("c", later), i)
	}
	assert.False(t, l.allow("c", later))
}
