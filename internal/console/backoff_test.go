package console

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	want := []time.Duration{5, 10, 20, 40, 60, 60, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.Next(), "attempt %d", i)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}
	var got []time.Duration
	for range 6 {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got)
}

func TestBackoffReset(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 8 * time.Second}
	for range 10 {
		b.Next()
	}
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())

	b.Reset()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffInitialAboveMax(t *testing.T) {
	b := Backoff{Initial: 10 * time.Second, Max: 3 * time.Second}
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
}
