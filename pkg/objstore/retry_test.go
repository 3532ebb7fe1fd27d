package objstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_JitteredGrowth(t *testing.T) {
	bo := newBackoff(BackoffConfig{
		InitBackoff: 100 * time.Millisecond,
		MaxBackoff:  400 * time.Millisecond,
		Base:        2.0,
	})

	// draws are jittered in [0, cur); cur doubles up to the cap
	for _, bound := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	} {
		d := bo.sleep()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, bound)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 10, cfg.MaxRetries)
	assert.Equal(t, 3*time.Minute, cfg.RetryTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.InitBackoff)
	assert.Equal(t, 15*time.Second, cfg.Backoff.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Backoff.Base)
}
