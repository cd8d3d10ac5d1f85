package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_LinearAndCapped(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 30 * time.Second}

	want := []time.Duration{5, 10, 15, 20, 25, 30, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.Next(), "failure %d", i+1)
	}
	assert.Equal(t, len(want), b.Failures())
}

func TestBackoff_Reset(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 30 * time.Second}
	b.Next()
	b.Next()
	b.Reset()

	assert.Equal(t, 0, b.Failures())
	assert.Equal(t, 5*time.Second, b.Next())
}

func TestBackoff_Overflow(t *testing.T) {
	b := Backoff{Base: time.Duration(1 << 62), Max: time.Minute}
	b.Next()
	assert.Equal(t, time.Minute, b.Next())
}
