package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultBind            = ":8080"
	DefaultDeviceLimit     = 3
	DefaultTokenTTLDays    = 30
	DefaultMaxBatchSize    = 100
	DefaultPullLimit       = 50
	MaxPullLimit           = 1000
	DefaultRateLimitPerMin = 300
	DefaultStorageRoot     = "/srv/mediasync"
)

// Config holds the gateway daemon configuration, loaded from the environment.
type Config struct {
	Bind               string
	DBDSN              string
	DeviceLimit        int
	TokenTTLDays       int
	MaxBatchSize       int
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	LogLevel           string
	LogDir             string

	ObjectStoreType string // "memory", "s3", or "filesystem"
	StorageRoot     string
	S3Bucket        string
	S3Prefix        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
}

// Load reads the configuration from the environment, consulting a .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Bind:               getenv("MEDIASYNC_BIND", DefaultBind),
		DeviceLimit:        getInt("MEDIASYNC_DEVICE_LIMIT", DefaultDeviceLimit),
		TokenTTLDays:       getInt("MEDIASYNC_TOKEN_TTL_DAYS", DefaultTokenTTLDays),
		MaxBatchSize:       getInt("MEDIASYNC_MAX_BATCH_SIZE", DefaultMaxBatchSize),
		RateLimitPerMin:    getInt("MEDIASYNC_RATE_LIMIT_PER_MIN", DefaultRateLimitPerMin),
		CORSAllowedOrigins: splitAndTrim(os.Getenv("MEDIASYNC_CORS_ALLOWED_ORIGINS")),
		LogLevel:           os.Getenv("MEDIASYNC_LOG_LEVEL"),
		LogDir:             os.Getenv("MEDIASYNC_LOG_DIR"),
		ObjectStoreType:    getenv("MEDIASYNC_OBJECT_STORE", "filesystem"),
		StorageRoot:        getenv("MEDIASYNC_STORAGE_ROOT", DefaultStorageRoot),
		S3Bucket:           os.Getenv("MEDIASYNC_S3_BUCKET"),
		S3Prefix:           os.Getenv("MEDIASYNC_S3_PREFIX"),
		S3Region:           os.Getenv("MEDIASYNC_S3_REGION"),
		S3Endpoint:         os.Getenv("MEDIASYNC_S3_ENDPOINT"),
		S3AccessKey:        os.Getenv("MEDIASYNC_S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("MEDIASYNC_S3_SECRET_KEY"),
	}

	cfg.DBDSN = os.Getenv("MEDIASYNC_DB_DSN")
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("MEDIASYNC_DB_DSN is required")
	}

	switch cfg.ObjectStoreType {
	case "memory", "filesystem":
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("MEDIASYNC_S3_BUCKET is required when MEDIASYNC_OBJECT_STORE=s3")
		}
	default:
		return nil, fmt.Errorf("invalid MEDIASYNC_OBJECT_STORE: %s", cfg.ObjectStoreType)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func splitAndTrim(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
