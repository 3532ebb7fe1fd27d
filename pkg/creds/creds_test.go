package creds

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	p := Static(S3Credential{AccessKeyID: "AK", SecretAccessKey: "SK"})
	cred, err := p.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AK", cred.AccessKeyID)
}

func TestCache_StaticNeverRefreshes(t *testing.T) {
	calls := 0
	p := ProviderFunc[BearerCredential](func(context.Context) (BearerCredential, error) {
		calls++
		return BearerCredential{Token: "tok"}, nil
	})
	c := NewCache[BearerCredential](p)

	for i := 0; i < 5; i++ {
		cred, err := c.Credential(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", cred.Token)
	}
	assert.Equal(t, 1, calls)
}

func TestCache_RefreshesAheadOfExpiry(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	p := ProviderFunc[BearerCredential](func(context.Context) (BearerCredential, error) {
		calls++
		return BearerCredential{
			Token:     fmt.Sprintf("tok-%d", calls),
			ExpiresAt: now.Add(10 * time.Minute),
		}, nil
	})
	c := NewCache[BearerCredential](p)
	c.now = func() time.Time { return now }

	cred, err := c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)

	// still fresh well before the refresh margin
	now = now.Add(5 * time.Minute)
	cred, err = c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)

	// inside the margin the next call refreshes
	now = now.Add(4 * time.Minute)
	cred, err = c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", cred.Token)
	assert.Equal(t, 2, calls)
}

func TestCache_PropagatesFetchError(t *testing.T) {
	p := ProviderFunc[S3Credential](func(context.Context) (S3Credential, error) {
		return S3Credential{}, fmt.Errorf("metadata service unreachable")
	})
	c := NewCache[S3Credential](p)

	_, err := c.Credential(context.Background())
	assert.Error(t, err)
}
