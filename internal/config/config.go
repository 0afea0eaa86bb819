package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort             = "8020"
	defaultAssetsDir        = "assetsfolder"
	defaultMaxFileSize      = "2147483648" // 2 GiB
	defaultProgressInterval = "1s"
	defaultS3Endpoint       = "https://s3.filebase.com"
	defaultS3Region         = "us-east-1"
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type Config struct {
	AppEnv           string
	Port             string
	AssetsDir        string
	MaxFileSize      int64
	MetadataSkipBad  bool
	ProgressInterval time.Duration
	S3               S3Config
}

func (c *Config) DevMode() bool {
	return c.AppEnv != "prod" && c.AppEnv != "production" && c.AppEnv != "release"
}

// Load reads the whole configuration from the environment. Store
// credentials are required and only ever come from env, never from source.
func Load() (*Config, error) {
	cfg := &Config{}

	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.Port = strings.TrimSpace(getEnv("PORT", defaultPort))
	cfg.AssetsDir = strings.TrimSpace(getEnv("ASSETS_DIR", defaultAssetsDir))

	var err error
	cfg.MaxFileSize, err = parseInt64Env("MAX_FILE_SIZE", defaultMaxFileSize)
	if err != nil {
		return nil, err
	}

	cfg.ProgressInterval, err = parseDurationEnv("UPLOAD_PROGRESS_INTERVAL", defaultProgressInterval)
	if err != nil {
		return nil, err
	}

	cfg.MetadataSkipBad = parseBoolEnv("METADATA_SKIP_BAD", "false")

	cfg.S3 = S3Config{
		Endpoint:  strings.TrimSpace(getEnv("S3_ENDPOINT", defaultS3Endpoint)),
		Region:    strings.TrimSpace(getEnv("S3_REGION", defaultS3Region)),
		Bucket:    strings.TrimSpace(os.Getenv("S3_BUCKET")),
		AccessKey: strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("S3_SECRET_KEY")),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be > 0")
	}
	if cfg.ProgressInterval <= 0 {
		return fmt.Errorf("UPLOAD_PROGRESS_INTERVAL must be > 0")
	}
	if cfg.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET must be set")
	}
	if cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "" {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set")
	}
	return nil
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func parseInt64Env(name, fallback string) (int64, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseBoolEnv(name, fallback string) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(name, fallback)))
	return value == "true" || value == "1" || value == "yes"
}
