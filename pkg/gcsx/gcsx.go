// Package gcsx builds configured Google Cloud Storage clients for the
// objstore GCS backend.
package gcsx

import (
	"context"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/hashmap-kz/objstore/pkg/creds"
)

type GCSConfig struct {
	Bucket string
	// Endpoint overrides the API endpoint, for fake-gcs-server.
	Endpoint string
	// CredentialsFile points at a service account key; empty uses
	// application default credentials.
	CredentialsFile string
	// CredentialsJSON inlines the key and wins over CredentialsFile.
	CredentialsJSON []byte
	// Anonymous skips authentication entirely, for public buckets and
	// emulators.
	Anonymous bool

	// Provider supplies bearer tokens and takes precedence over the key
	// fields.
	Provider creds.Provider[creds.BearerCredential]

	// MaxRetries and MaxBackoff tune the SDK retry policy for bucket
	// operations; zero values keep the SDK defaults.
	MaxRetries int
	MaxBackoff time.Duration
}

type GCSClient struct {
	client *storage.Client
	bucket string
	retry  []storage.RetryOption
}

// tokenSourceAdapter exposes a creds.Provider as an oauth2.TokenSource.
// TokenSource carries no context, so fetches run under Background.
type tokenSourceAdapter struct {
	next creds.Provider[creds.BearerCredential]
}

func (t tokenSourceAdapter) Token() (*oauth2.Token, error) {
	cred, err := t.next.Credential(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: cred.Token, Expiry: cred.ExpiresAt}, nil
}

// NewGCSClient builds a client per cfg.
func NewGCSClient(ctx context.Context, cfg *GCSConfig) (*GCSClient, error) {
	var opts []option.ClientOption
	switch {
	case cfg.Provider != nil:
		opts = append(opts, option.WithTokenSource(tokenSourceAdapter{next: creds.NewCache(cfg.Provider)}))
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Anonymous:
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var retry []storage.RetryOption
	if cfg.MaxRetries > 0 {
		retry = append(retry, storage.WithMaxAttempts(cfg.MaxRetries+1))
	}
	if cfg.MaxBackoff > 0 {
		retry = append(retry, storage.WithBackoff(gax.Backoff{Max: cfg.MaxBackoff}))
	}
	return &GCSClient{client: client, bucket: cfg.Bucket, retry: retry}, nil
}

func (c *GCSClient) Client() *storage.Client {
	return c.client
}

func (c *GCSClient) Bucket() string {
	return c.bucket
}

// BucketHandle returns the configured bucket handle with the retry policy
// applied.
func (c *GCSClient) BucketHandle() *storage.BucketHandle {
	h := c.client.Bucket(c.bucket)
	if len(c.retry) > 0 {
		h = h.Retryer(c.retry...)
	}
	return h
}
