package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBuf(t *testing.T) {
	cfg := loadFromBuf([]byte(`{
		"STORE_TYPE": "local",
		"STORE_PREFIX": "tenant/a",
		"STORE_LOCAL_PATH": "/mnt/objects",
		"STORE_LOCAL_FSYNC": true
	}`))

	assert.Equal(t, StoreTypeLocal, cfg.StoreType)
	assert.Equal(t, "tenant/a", cfg.StorePrefix)
	assert.Equal(t, "/mnt/objects", cfg.StoreLocalPath)
	assert.True(t, cfg.StoreLocalFsync)
}

func TestLoadFromBuf_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_OBJSTORE_BUCKET", "prod-archive")
	cfg := loadFromBuf([]byte(`{
		"STORE_TYPE": "s3",
		"STORE_S3_BUCKET": "${TEST_OBJSTORE_BUCKET}"
	}`))
	assert.Equal(t, "prod-archive", cfg.StoreS3Bucket)
}

func TestConfig_Set(t *testing.T) {
	var cfg Config

	require.NoError(t, cfg.Set("STORE_TYPE", "gcs"))
	require.NoError(t, cfg.Set("STORE_GCS_BUCKET", "archive"))
	require.NoError(t, cfg.Set("STORE_GCS_ANONYMOUS", "true"))

	assert.Equal(t, StoreTypeGCS, cfg.StoreType)
	assert.Equal(t, "archive", cfg.StoreGCSBucket)
	assert.True(t, cfg.StoreGCSAnonymous)
}

func TestConfig_SetUnknownKey(t *testing.T) {
	var cfg Config
	err := cfg.Set("STORE_FTP_HOST", "example.com")
	require.Error(t, err)

	var unknown *UnknownKeyError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "STORE_FTP_HOST", unknown.Key)
}

func TestConfig_SetBadBool(t *testing.T) {
	var cfg Config
	err := cfg.Set("STORE_LOCAL_FSYNC", "yes please")
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_OBJSTORE_VAL", "xyz")
	defer os.Unsetenv("TEST_OBJSTORE_VAL")
	out := expandEnvVars([]byte("before-${TEST_OBJSTORE_VAL}-after"))
	assert.Equal(t, "before-xyz-after", string(out))
}
