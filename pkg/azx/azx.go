// Package azx builds configured Azure Blob container clients for the
// objstore Azure backend.
package azx

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/hashmap-kz/objstore/pkg/creds"
)

type AzureConfig struct {
	AccountName string
	// AccountKey selects shared-key auth when set.
	AccountKey string
	Container  string
	// ServiceURL overrides the endpoint, for Azurite and sovereign clouds.
	// Defaults to https://<account>.blob.core.windows.net.
	ServiceURL string

	// Provider supplies bearer tokens and takes precedence over AccountKey.
	Provider creds.Provider[creds.BearerCredential]

	// MaxRetries and MaxRetryDelay tune the SDK retry policy; zero values
	// keep the SDK defaults.
	MaxRetries    int
	MaxRetryDelay time.Duration
}

type AzureClient struct {
	container *container.Client
}

// tokenAdapter exposes a creds.Provider as an azcore.TokenCredential.
type tokenAdapter struct {
	next creds.Provider[creds.BearerCredential]
}

func (t tokenAdapter) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	cred, err := t.next.Credential(ctx)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return azcore.AccessToken{Token: cred.Token, ExpiresOn: cred.ExpiresAt}, nil
}

// NewAzureClient builds a container client per cfg. Without AccountKey or a
// Provider it falls back to the default Azure credential chain.
func NewAzureClient(cfg *AzureConfig) (*AzureClient, error) {
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	opts := &azblob.ClientOptions{}
	if cfg.MaxRetries > 0 {
		opts.Retry = policy.RetryOptions{
			MaxRetries:    int32(cfg.MaxRetries),
			MaxRetryDelay: cfg.MaxRetryDelay,
		}
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.Provider != nil:
		client, err = azblob.NewClient(serviceURL, tokenAdapter{next: creds.NewCache(cfg.Provider)}, opts)
	case cfg.AccountKey != "":
		var key *azblob.SharedKeyCredential
		key, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, key, opts)
		}
	default:
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(serviceURL, cred, opts)
		}
	}
	if err != nil {
		return nil, err
	}
	return &AzureClient{container: client.ServiceClient().NewContainerClient(cfg.Container)}, nil
}

func (c *AzureClient) Container() *container.Client {
	return c.container
}
