package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StoreJSONFile = "jsonfile"
)

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

type Config struct {
	Port        int
	PublicURL   string
	DataDir     string
	StoreDriver string
	LogLevel    string
	BehindProxy bool

	AuthSecret     string
	TokenTTL       time.Duration
	CallbackSecret string

	S3               S3Config
	UploadPartSizeMB int
	MaxUploadSizeMB  int
	PartURLTTL       time.Duration
	DownloadURLTTL   time.Duration

	SeparationURL    string
	TranscriptionURL string
	SynthesisURL     string
	DispatchTimeout  time.Duration

	StreamInterval   time.Duration
	StaleTaskTimeout time.Duration
	ReaperInterval   time.Duration
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
// Only malformed values fail here; required keys are checked by Validate.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var errs []error
	intVar := func(key, def string) int {
		v, err := strconv.Atoi(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}
	durVar := func(key, def string) time.Duration {
		v, err := time.ParseDuration(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}

	boolVar := func(key, def string) bool {
		v, err := strconv.ParseBool(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}

	cfg := &Config{
		Port:        intVar("PORT", "7890"),
		PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:7890"), "/"),
		DataDir:     getEnv("DATA_DIR", "/data"),
		StoreDriver: getEnv("STORE_DRIVER", StoreSQLite),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		BehindProxy: boolVar("BEHIND_PROXY", "false"),

		AuthSecret:     os.Getenv("AUTH_SECRET"),
		TokenTTL:       durVar("TOKEN_TTL", "168h"),
		CallbackSecret: os.Getenv("CALLBACK_SECRET"),

		S3: S3Config{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Region:          getEnv("S3_REGION", "auto"),
			Bucket:          os.Getenv("S3_BUCKET"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		UploadPartSizeMB: intVar("UPLOAD_PART_SIZE_MB", "10"),
		MaxUploadSizeMB:  intVar("MAX_UPLOAD_SIZE_MB", "2048"),
		PartURLTTL:       durVar("PART_URL_TTL", "30m"),
		DownloadURLTTL:   durVar("DOWNLOAD_URL_TTL", "15m"),

		SeparationURL:    os.Getenv("SEPARATION_URL"),
		TranscriptionURL: os.Getenv("TRANSCRIPTION_URL"),
		SynthesisURL:     os.Getenv("SYNTHESIS_URL"),
		DispatchTimeout:  durVar("DISPATCH_TIMEOUT", "30s"),

		StreamInterval:   durVar("STREAM_INTERVAL", "1s"),
		StaleTaskTimeout: durVar("STALE_TASK_TIMEOUT", "0"),
		ReaperInterval:   durVar("REAPER_INTERVAL", "5m"),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks everything serve needs. Missing blob store credentials are
// fatal here rather than surfacing on the first signed URL.
func (c *Config) Validate() error {
	var errs []error
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	require("AUTH_SECRET", c.AuthSecret)
	require("CALLBACK_SECRET", c.CallbackSecret)
	require("S3_BUCKET", c.S3.Bucket)
	require("S3_ACCESS_KEY_ID", c.S3.AccessKeyID)
	require("S3_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
	require("SEPARATION_URL", c.SeparationURL)
	require("TRANSCRIPTION_URL", c.TranscriptionURL)

	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_URL must be an absolute URL, got %q", c.PublicURL))
	}
	if c.StoreDriver != StoreSQLite && c.StoreDriver != StoreJSONFile {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreSQLite, StoreJSONFile, c.StoreDriver))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	// S3 rejects parts under 5 MiB (except the last) and over 5 GiB.
	if c.UploadPartSizeMB < 5 || c.UploadPartSizeMB > 5120 {
		errs = append(errs, fmt.Errorf("UPLOAD_PART_SIZE_MB must be between 5 and 5120, got %d", c.UploadPartSizeMB))
	}
	if c.MaxUploadSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_SIZE_MB must be positive"))
	}
	for key, d := range map[string]time.Duration{
		"TOKEN_TTL":        c.TokenTTL,
		"PART_URL_TTL":     c.PartURLTTL,
		"DOWNLOAD_URL_TTL": c.DownloadURLTTL,
		"DISPATCH_TIMEOUT": c.DispatchTimeout,
		"STREAM_INTERVAL":  c.StreamInterval,
		"REAPER_INTERVAL":  c.ReaperInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	// Presigned SigV4 URLs are capped at seven days.
	if c.PartURLTTL > 7*24*time.Hour || c.DownloadURLTTL > 7*24*time.Hour {
		errs = append(errs, fmt.Errorf("presigned URL TTLs cannot exceed 168h"))
	}
	if c.StaleTaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("STALE_TASK_TIMEOUT cannot be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) CallbackURL() string {
	return c.PublicURL + "/api/callbacks"
}

func (c *Config) PartSizeBytes() int64 {
	return int64(c.UploadPartSizeMB) << 20
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) << 20
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
