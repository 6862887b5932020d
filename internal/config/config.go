package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	UploadDriverDisk   = "disk"
	UploadDriverS3     = "s3"
	UploadDriverMemory = "memory"

	NotifyDriverLog   = "log"
	NotifyDriverKafka = "kafka"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	UploadDriver   string        `mapstructure:"UPLOAD_DRIVER"`
	UploadDir      string        `mapstructure:"UPLOAD_DIR"`
	S3Bucket       string        `mapstructure:"S3_BUCKET"`
	S3Prefix       string        `mapstructure:"S3_PREFIX"`
	NotifyDriver   string        `mapstructure:"NOTIFY_DRIVER"`
	KafkaBrokers   []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic     string        `mapstructure:"KAFKA_TOPIC"`
	AdminJWTSecret string        `mapstructure:"ADMIN_JWT_SECRET"`
	AdminJWTIssuer string        `mapstructure:"ADMIN_JWT_ISSUER"`
	OTelEndpoint   string        `mapstructure:"OTEL_ENDPOINT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	APIURL         string        `mapstructure:"API_URL"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "UPLOAD_DRIVER", "UPLOAD_DIR", "S3_BUCKET", "S3_PREFIX",
	"NOTIFY_DRIVER", "KAFKA_BROKERS", "KAFKA_TOPIC", "ADMIN_JWT_SECRET", "ADMIN_JWT_ISSUER",
	"OTEL_ENDPOINT", "REQUEST_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REDIS_URL", "API_URL",
}

// Load reads the environment and an optional .env file. It does not
// validate; call Validate before starting the server.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "5001")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("UPLOAD_DRIVER", UploadDriverDisk)
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("S3_PREFIX", "insurance/")
	v.SetDefault("NOTIFY_DRIVER", NotifyDriverLog)
	v.SetDefault("KAFKA_TOPIC", "checkin.confirmations")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 50)
	v.SetDefault("API_URL", "http://localhost:5001/api")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated env values arrive as a single element.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks driver names and their required companions. Outside
// development the admin routes need a signing secret.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}

	switch c.UploadDriver {
	case UploadDriverDisk:
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required when UPLOAD_DRIVER is %q", UploadDriverDisk)
		}
	case UploadDriverS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when UPLOAD_DRIVER is %q", UploadDriverS3)
		}
	case UploadDriverMemory:
	default:
		return fmt.Errorf("UPLOAD_DRIVER must be %q, %q or %q, got %q",
			UploadDriverDisk, UploadDriverS3, UploadDriverMemory, c.UploadDriver)
	}

	switch c.NotifyDriver {
	case NotifyDriverLog:
	case NotifyDriverKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when NOTIFY_DRIVER is %q", NotifyDriverKafka)
		}
	default:
		return fmt.Errorf("NOTIFY_DRIVER must be %q or %q, got %q", NotifyDriverLog, NotifyDriverKafka, c.NotifyDriver)
	}

	if !c.IsDev() && c.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required outside development (current ENV=%q)", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	return nil
}
