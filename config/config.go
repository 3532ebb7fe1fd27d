package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
)

var (
	once   sync.Once
	config *Config
)

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeLocal  StoreType = "local"
	StoreTypeS3     StoreType = "s3"
	StoreTypeAzure  StoreType = "azure"
	StoreTypeGCS    StoreType = "gcs"
	StoreTypeHTTP   StoreType = "http"
)

type Config struct {
	// Store main config
	StoreType   StoreType `json:"STORE_TYPE"` // "memory", "local", "s3", "azure", "gcs", "http"
	StorePrefix string    `json:"STORE_PREFIX"`

	// Logging
	LogLevel  string `json:"LOG_LEVEL"`
	LogFormat string `json:"LOG_FORMAT"` // "console", "json"

	// Local storage config
	StoreLocalPath  string `json:"STORE_LOCAL_PATH"` // /mnt/objects
	StoreLocalFsync bool   `json:"STORE_LOCAL_FSYNC"`

	// S3 storage config
	StoreS3URL             string `json:"STORE_S3_URL"`
	StoreS3AccessKeyID     string `json:"STORE_S3_ACCESS_KEY_ID"`
	StoreS3SecretAccessKey string `json:"STORE_S3_SECRET_ACCESS_KEY"`
	StoreS3SessionToken    string `json:"STORE_S3_SESSION_TOKEN"`
	StoreS3Bucket          string `json:"STORE_S3_BUCKET"`
	StoreS3Region          string `json:"STORE_S3_REGION"`
	StoreS3UsePathStyle    bool   `json:"STORE_S3_USE_PATH_STYLE"`
	StoreS3SkipTLSVerify   bool   `json:"STORE_S3_SKIP_TLS_VERIFY"`

	// Azure storage config
	StoreAzureAccountName string `json:"STORE_AZURE_ACCOUNT_NAME"`
	StoreAzureAccountKey  string `json:"STORE_AZURE_ACCOUNT_KEY"`
	StoreAzureContainer   string `json:"STORE_AZURE_CONTAINER"`
	StoreAzureServiceURL  string `json:"STORE_AZURE_SERVICE_URL"`

	// GCS storage config
	StoreGCSBucket          string `json:"STORE_GCS_BUCKET"`
	StoreGCSEndpoint        string `json:"STORE_GCS_ENDPOINT"`
	StoreGCSCredentialsFile string `json:"STORE_GCS_CREDENTIALS_FILE"`
	StoreGCSAnonymous       bool   `json:"STORE_GCS_ANONYMOUS"`

	// HTTP storage config
	StoreHTTPURL         string `json:"STORE_HTTP_URL"`
	StoreHTTPBearerToken string `json:"STORE_HTTP_BEARER_TOKEN"`
}

// UnknownKeyError reports a configuration key no backend recognizes.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown configuration key: %q", e.Key)
}

// Set applies one key-value pair by its JSON tag name; unknown keys fail
// with *UnknownKeyError. Bool fields accept strconv.ParseBool forms.
func (c *Config) Set(key, value string) error {
	switch key {
	case "STORE_TYPE":
		c.StoreType = StoreType(value)
	case "STORE_PREFIX":
		c.StorePrefix = value
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		c.LogFormat = value
	case "STORE_LOCAL_PATH":
		c.StoreLocalPath = value
	case "STORE_LOCAL_FSYNC":
		return setBool(&c.StoreLocalFsync, key, value)
	case "STORE_S3_URL":
		c.StoreS3URL = value
	case "STORE_S3_ACCESS_KEY_ID":
		c.StoreS3AccessKeyID = value
	case "STORE_S3_SECRET_ACCESS_KEY":
		c.StoreS3SecretAccessKey = value
	case "STORE_S3_SESSION_TOKEN":
		c.StoreS3SessionToken = value
	case "STORE_S3_BUCKET":
		c.StoreS3Bucket = value
	case "STORE_S3_REGION":
		c.StoreS3Region = value
	case "STORE_S3_USE_PATH_STYLE":
		return setBool(&c.StoreS3UsePathStyle, key, value)
	case "STORE_S3_SKIP_TLS_VERIFY":
		return setBool(&c.StoreS3SkipTLSVerify, key, value)
	case "STORE_AZURE_ACCOUNT_NAME":
		c.StoreAzureAccountName = value
	case "STORE_AZURE_ACCOUNT_KEY":
		c.StoreAzureAccountKey = value
	case "STORE_AZURE_CONTAINER":
		c.StoreAzureContainer = value
	case "STORE_AZURE_SERVICE_URL":
		c.StoreAzureServiceURL = value
	case "STORE_GCS_BUCKET":
		c.StoreGCSBucket = value
	case "STORE_GCS_ENDPOINT":
		c.StoreGCSEndpoint = value
	case "STORE_GCS_CREDENTIALS_FILE":
		c.StoreGCSCredentialsFile = value
	case "STORE_GCS_ANONYMOUS":
		return setBool(&c.StoreGCSAnonymous, key, value)
	case "STORE_HTTP_URL":
		c.StoreHTTPURL = value
	case "STORE_HTTP_BEARER_TOKEN":
		c.StoreHTTPBearerToken = value
	default:
		return &UnknownKeyError{Key: key}
	}
	return nil
}

func setBool(dst *bool, key, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("configuration key %q: %w", key, err)
	}
	*dst = v
	return nil
}

// LoadConfigFromFile unmarshal file into config struct
func LoadConfigFromFile(filename string) *Config {
	once.Do(func() {
		loadFromFile(filename)
	})
	return config
}

// LoadConfig unmarshal raw data into config struct
func LoadConfig(content []byte) *Config {
	once.Do(func() {
		loadFromBuf(content)
	})
	return config
}

// helper internal functions, suitable for testing

func loadFromFile(filename string) *Config {
	content, err := os.ReadFile(filename)
	if err != nil {
		log.Fatal(err)
	}
	return loadFromBuf(content)
}

func loadFromBuf(content []byte) *Config {
	content = expandEnvVars(content)

	var cfg Config
	err := json.Unmarshal(content, &cfg)
	if err != nil {
		log.Fatal(err)
	}
	config = &cfg
	return config
}

func expandEnvVars(buf []byte) []byte {
	s := string(buf)
	e := os.ExpandEnv(s)
	return []byte(e)
}

func Cfg() *Config {
	if config == nil {
		log.Fatal("config was not loaded in main")
	}
	return config
}
