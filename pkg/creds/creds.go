// Package creds holds credential types and refresh-ahead providers shared by
// the cloud backends.
package creds

import (
	"context"
	"sync"
	"time"
)

// S3Credential is an AWS-style key pair with an optional session token.
type S3Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// ExpiresAt is zero for static credentials.
	ExpiresAt time.Time
}

// BearerCredential is an OAuth2-style bearer token, used by the GCS and
// Azure backends.
type BearerCredential struct {
	Token string
	// ExpiresAt is zero for static credentials.
	ExpiresAt time.Time
}

func (c S3Credential) expiry() time.Time     { return c.ExpiresAt }
func (c BearerCredential) expiry() time.Time { return c.ExpiresAt }

type expiring interface {
	expiry() time.Time
}

// Provider yields credentials on demand. Implementations may fetch from
// instance metadata, token endpoints or local config.
type Provider[C expiring] interface {
	Credential(ctx context.Context) (C, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc[C expiring] func(ctx context.Context) (C, error)

func (f ProviderFunc[C]) Credential(ctx context.Context) (C, error) { return f(ctx) }

// Static returns a provider that always yields cred.
func Static[C expiring](cred C) Provider[C] {
	return ProviderFunc[C](func(context.Context) (C, error) { return cred, nil })
}

// refreshMargin is how long before expiry a cached credential is considered
// stale.
const refreshMargin = 2 * time.Minute

// Cache wraps a provider and serves the last credential until it nears
// expiry. Concurrent callers share one refresh.
type Cache[C expiring] struct {
	next Provider[C]
	now  func() time.Time

	mu    sync.Mutex
	cur   C
	valid bool
}

// NewCache wraps next with refresh-ahead caching. Credentials with a zero
// expiry never refresh.
func NewCache[C expiring](next Provider[C]) *Cache[C] {
	return &Cache[C]{next: next, now: time.Now}
}

func (c *Cache[C]) Credential(ctx context.Context) (C, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid {
		exp := c.cur.expiry()
		if exp.IsZero() || c.now().Before(exp.Add(-refreshMargin)) {
			return c.cur, nil
		}
	}
	cred, err := c.next.Credential(ctx)
	if err != nil {
		var zero C
		return zero, err
	}
	c.cur, c.valid = cred, true
	return cred, nil
}
