package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i)
	}

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next(), "cap never below the initial delay")
}

func TestBackoffReachesFiveMinuteCap(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, 5*time.Minute)
	var last time.Duration
	for range 20 {
		last = b.Next()
	}
	assert.Equal(t, 5*time.Minute, last)
}
