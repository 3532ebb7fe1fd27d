// Package s3x builds configured S3 clients for the objstore S3 backend.
package s3x

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hashmap-kz/objstore/pkg/creds"
)

type S3Config struct {
	// EndpointURL overrides the AWS endpoint, for MinIO and friends.
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Bucket          string
	Region          string
	UsePathStyle    bool
	SkipTLSVerify   bool

	// Provider takes precedence over the static key fields above.
	Provider creds.Provider[creds.S3Credential]

	// MaxRetries and MaxBackoff tune the SDK retryer; zero values keep
	// the SDK defaults.
	MaxRetries int
	MaxBackoff time.Duration
}

type S3Client struct {
	client *s3.Client
	bucket string
}

// providerAdapter exposes a creds.Provider as an aws.CredentialsProvider.
type providerAdapter struct {
	next creds.Provider[creds.S3Credential]
}

func (p providerAdapter) Retrieve(ctx context.Context) (aws.Credentials, error) {
	cred, err := p.next.Credential(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	return aws.Credentials{
		AccessKeyID:     cred.AccessKeyID,
		SecretAccessKey: cred.SecretAccessKey,
		SessionToken:    cred.SessionToken,
		CanExpire:       !cred.ExpiresAt.IsZero(),
		Expires:         cred.ExpiresAt,
	}, nil
}

// NewS3Client initializes the S3 client and sets up the bucket name.
func NewS3Client(ctx context.Context, s3Config *S3Config) (*S3Client, error) {
	// https://github.com/aws/aws-sdk-go-v2/issues/1295

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(s3Config.Region),
		config.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					//nolint:gosec
					InsecureSkipVerify: s3Config.SkipTLSVerify,
				},
			},
		}),
	}

	switch {
	case s3Config.Provider != nil:
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			aws.NewCredentialsCache(providerAdapter{next: creds.NewCache(s3Config.Provider)})))
	case s3Config.AccessKeyID != "":
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Config.AccessKeyID, s3Config.SecretAccessKey, s3Config.SessionToken)))
	}

	if s3Config.MaxRetries > 0 {
		maxRetries, maxBackoff := s3Config.MaxRetries, s3Config.MaxBackoff
		loadOpts = append(loadOpts, config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxRetries + 1
				if maxBackoff > 0 {
					o.MaxBackoff = maxBackoff
				}
			})
		}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s3Config.EndpointURL != "" {
			o.BaseEndpoint = aws.String(s3Config.EndpointURL)
		}
		o.UsePathStyle = s3Config.UsePathStyle
	})

	return &S3Client{
		client: client,
		bucket: s3Config.Bucket,
	}, nil
}

func (c *S3Client) Client() *s3.Client {
	return c.client
}

func (c *S3Client) Bucket() string {
	return c.bucket
}
