// Package boot assembles configured object stores.
package boot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hashmap-kz/objstore/config"
	"github.com/hashmap-kz/objstore/pkg/azx"
	"github.com/hashmap-kz/objstore/pkg/gcsx"
	"github.com/hashmap-kz/objstore/pkg/objstore"
	"github.com/hashmap-kz/objstore/pkg/opath"
	"github.com/hashmap-kz/objstore/pkg/s3x"
)

// ApplyOverrides sets configuration keys by their config-file names, e.g.
// from CLI flags or query parameters. Unrecognized keys are reported as
// store errors with KindUnknownConfigurationKey.
func ApplyOverrides(cfg *config.Config, overrides map[string]string) error {
	for key, value := range overrides {
		if err := cfg.Set(key, value); err != nil {
			var unknown *config.UnknownKeyError
			if errors.As(err, &unknown) {
				return &objstore.Error{
					Kind:  objstore.KindUnknownConfigurationKey,
					Store: "config",
					Path:  key,
					Err:   err,
				}
			}
			return err
		}
	}
	return nil
}

// DecideStore inits the object store assigned according to configs. The
// configured prefix, when present, wraps the backend in a prefixed store.
func DecideStore(ctx context.Context) (objstore.ObjectStore, error) {
	cfg := config.Cfg()

	store, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return applyPrefix(store, cfg.StorePrefix)
}

func buildBackend(ctx context.Context, cfg *config.Config) (objstore.ObjectStore, error) {
	switch cfg.StoreType {
	// memory
	case config.StoreTypeMemory:
		slog.Info("init memory store",
			slog.String("module", "boot"),
		)
		return objstore.NewInMemory(), nil

	// local
	case config.StoreTypeLocal:
		slog.Info("init local store",
			slog.String("module", "boot"),
			slog.String("path", cfg.StoreLocalPath),
		)
		return objstore.NewLocalFS(objstore.LocalFSOpts{
			Root:         cfg.StoreLocalPath,
			FsyncOnWrite: cfg.StoreLocalFsync,
		})

	// s3
	case config.StoreTypeS3:
		slog.Info("init s3 store",
			slog.String("module", "boot"),
			slog.String("bucket", cfg.StoreS3Bucket),
		)
		return objstore.NewS3Store(ctx, &s3x.S3Config{
			EndpointURL:     cfg.StoreS3URL,
			AccessKeyID:     cfg.StoreS3AccessKeyID,
			SecretAccessKey: cfg.StoreS3SecretAccessKey,
			SessionToken:    cfg.StoreS3SessionToken,
			Bucket:          cfg.StoreS3Bucket,
			Region:          cfg.StoreS3Region,
			UsePathStyle:    cfg.StoreS3UsePathStyle,
			SkipTLSVerify:   cfg.StoreS3SkipTLSVerify,
		})

	// azure
	case config.StoreTypeAzure:
		slog.Info("init azure store",
			slog.String("module", "boot"),
			slog.String("container", cfg.StoreAzureContainer),
		)
		return objstore.NewAzureStore(&azx.AzureConfig{
			AccountName: cfg.StoreAzureAccountName,
			AccountKey:  cfg.StoreAzureAccountKey,
			Container:   cfg.StoreAzureContainer,
			ServiceURL:  cfg.StoreAzureServiceURL,
		})

	// gcs
	case config.StoreTypeGCS:
		slog.Info("init gcs store",
			slog.String("module", "boot"),
			slog.String("bucket", cfg.StoreGCSBucket),
		)
		return objstore.NewGCSStore(ctx, &gcsx.GCSConfig{
			Bucket:          cfg.StoreGCSBucket,
			Endpoint:        cfg.StoreGCSEndpoint,
			CredentialsFile: cfg.StoreGCSCredentialsFile,
			Anonymous:       cfg.StoreGCSAnonymous,
		})

	// http
	case config.StoreTypeHTTP:
		slog.Info("init http store",
			slog.String("module", "boot"),
			slog.String("url", cfg.StoreHTTPURL),
		)
		return newHTTPStore(cfg.StoreHTTPURL, cfg.StoreHTTPBearerToken)

	default:
		return nil, fmt.Errorf("unimplemented store type: %s", cfg.StoreType)
	}
}

func newHTTPStore(rawURL, bearer string) (objstore.ObjectStore, error) {
	opts := objstore.HTTPOpts{}
	if bearer != "" {
		opts.Header = map[string][]string{"Authorization": {"Bearer " + bearer}}
	}
	return objstore.NewHTTPStore(rawURL, opts)
}

func applyPrefix(store objstore.ObjectStore, rawPrefix string) (objstore.ObjectStore, error) {
	if rawPrefix == "" {
		return store, nil
	}
	prefix, err := opath.Parse(rawPrefix)
	if err != nil {
		return nil, err
	}
	if prefix.IsEmpty() {
		return store, nil
	}
	return objstore.NewPrefixedStore(store, prefix), nil
}

// FromURL builds a store from a location URL:
//
//	s3://bucket/prefix
//	az://container/prefix
//	gs://bucket/prefix
//	http://host/path, https://host/path
//	file:///directory/prefix
//	memory:///prefix
//
// Backend settings beyond bucket and prefix come from the loaded config.
func FromURL(ctx context.Context, rawURL string) (objstore.ObjectStore, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url %q: %w", rawURL, err)
	}
	prefix := strings.Trim(u.Path, "/")

	switch u.Scheme {
	case "s3":
		cfg := config.Cfg()
		store, err := objstore.NewS3Store(ctx, &s3x.S3Config{
			EndpointURL:     cfg.StoreS3URL,
			AccessKeyID:     cfg.StoreS3AccessKeyID,
			SecretAccessKey: cfg.StoreS3SecretAccessKey,
			SessionToken:    cfg.StoreS3SessionToken,
			Bucket:          u.Host,
			Region:          cfg.StoreS3Region,
			UsePathStyle:    cfg.StoreS3UsePathStyle,
			SkipTLSVerify:   cfg.StoreS3SkipTLSVerify,
		})
		if err != nil {
			return nil, err
		}
		return applyPrefix(store, prefix)

	case "az", "azure":
		cfg := config.Cfg()
		store, err := objstore.NewAzureStore(&azx.AzureConfig{
			AccountName: cfg.StoreAzureAccountName,
			AccountKey:  cfg.StoreAzureAccountKey,
			Container:   u.Host,
			ServiceURL:  cfg.StoreAzureServiceURL,
		})
		if err != nil {
			return nil, err
		}
		return applyPrefix(store, prefix)

	case "gs":
		cfg := config.Cfg()
		store, err := objstore.NewGCSStore(ctx, &gcsx.GCSConfig{
			Bucket:          u.Host,
			Endpoint:        cfg.StoreGCSEndpoint,
			CredentialsFile: cfg.StoreGCSCredentialsFile,
			Anonymous:       cfg.StoreGCSAnonymous,
		})
		if err != nil {
			return nil, err
		}
		return applyPrefix(store, prefix)

	case "http", "https":
		return objstore.NewHTTPStore(rawURL, objstore.HTTPOpts{})

	case "file":
		return objstore.NewLocalFS(objstore.LocalFSOpts{Root: u.Path})

	case "memory":
		return applyPrefix(objstore.NewInMemory(), prefix)

	default:
		return nil, fmt.Errorf("unsupported store url scheme: %q", u.Scheme)
	}
}
