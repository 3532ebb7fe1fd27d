package objstore

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes the exponential backoff between retries of a failed
// network operation.
type BackoffConfig struct {
	// InitBackoff is the upper bound of the first sleep.
	InitBackoff time.Duration
	// MaxBackoff caps the sleep regardless of attempt count.
	MaxBackoff time.Duration
	// Base is the exponential growth factor.
	Base float64
}

// DefaultBackoffConfig mirrors the defaults every builder starts from.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitBackoff: 100 * time.Millisecond,
		MaxBackoff:  15 * time.Second,
		Base:        2.0,
	}
}

// RetryConfig is the retry policy consumed by all network-facing backends.
type RetryConfig struct {
	Backoff BackoffConfig
	// MaxRetries bounds retries per operation; 0 disables retrying.
	MaxRetries int
	// RetryTimeout bounds the total wall-clock time spent on one logical
	// operation including all retries.
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the policy used when a builder is given none.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Backoff:      DefaultBackoffConfig(),
		MaxRetries:   10,
		RetryTimeout: 3 * time.Minute,
	}
}

// backoff produces jittered, exponentially growing sleep intervals.
// Not safe for concurrent use; each retried operation owns one.
type backoff struct {
	cfg  BackoffConfig
	next float64
}

func newBackoff(cfg BackoffConfig) *backoff {
	return &backoff{cfg: cfg, next: float64(cfg.InitBackoff)}
}

// sleep returns the next interval: a full-jitter draw from [0, cur), with
// cur growing by Base up to MaxBackoff.
func (b *backoff) sleep() time.Duration {
	cur := b.next
	b.next = cur * b.cfg.Base
	if max := float64(b.cfg.MaxBackoff); b.next > max {
		b.next = max
	}
	return time.Duration(rand.Float64() * cur)
}
