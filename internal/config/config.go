package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// devSigningKey is only accepted outside production.
const devSigningKey = "dental-connect-development-signing-key"

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	StoreBackend      string        `mapstructure:"STORE_BACKEND"`
	StorePath         string        `mapstructure:"STORE_PATH"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	SessionSigningKey string        `mapstructure:"SESSION_SIGNING_KEY"`
	NotifyAckScope    string        `mapstructure:"NOTIFY_ACK_SCOPE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	UploadLimit       string        `mapstructure:"UPLOAD_LIMIT"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	AttachmentBackend string        `mapstructure:"ATTACHMENT_BACKEND"`
	S3Bucket          string        `mapstructure:"S3_BUCKET"`
	S3Prefix          string        `mapstructure:"S3_PREFIX"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaAlertTopic   string        `mapstructure:"KAFKA_ALERT_TOPIC"`
	AlertWebhookURL   string        `mapstructure:"ALERT_WEBHOOK_URL"`
	AlertWebhookKey   string        `mapstructure:"ALERT_WEBHOOK_SECRET"`
	AlertQueueSize    int           `mapstructure:"ALERT_QUEUE_SIZE"`
	AlertTimeout      time.Duration `mapstructure:"ALERT_DELIVERY_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_BACKEND", "STORE_PATH",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SESSION_SIGNING_KEY", "NOTIFY_ACK_SCOPE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "UPLOAD_LIMIT", "REQUEST_TIMEOUT",
	"ATTACHMENT_BACKEND", "S3_BUCKET", "S3_PREFIX",
	"KAFKA_BROKERS", "KAFKA_ALERT_TOPIC",
	"ALERT_WEBHOOK_URL", "ALERT_WEBHOOK_SECRET",
	"ALERT_QUEUE_SIZE", "ALERT_DELIVERY_TIMEOUT",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", "file")
	v.SetDefault("STORE_PATH", "dental-data.json")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("NOTIFY_ACK_SCOPE", "global")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "20M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("ATTACHMENT_BACKEND", "memory")
	v.SetDefault("S3_PREFIX", "attachments/")
	v.SetDefault("KAFKA_ALERT_TOPIC", "dental.notification-alerts")
	v.SetDefault("ALERT_QUEUE_SIZE", 256)
	v.SetDefault("ALERT_DELIVERY_TIMEOUT", "10s")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.SessionSigningKey == "" && !cfg.IsProduction() {
		cfg.SessionSigningKey = devSigningKey
	}
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

// IsDev reports whether ENV is development.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level returns the parsed LOG_LEVEL, or info when it is not a zerolog level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the selected backends have what they need and that
// production runs with a real signing key.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory":
	case "file":
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required when STORE_BACKEND is \"file\"")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is \"postgres\"")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be \"file\", \"memory\", or \"postgres\", got %q", c.StoreBackend)
	}

	if c.SessionSigningKey == "" {
		return fmt.Errorf("SESSION_SIGNING_KEY is required in production")
	}
	if c.IsProduction() && (c.SessionSigningKey == devSigningKey || len(c.SessionSigningKey) < 32) {
		return fmt.Errorf("SESSION_SIGNING_KEY must be at least 32 characters and not the development key")
	}

	if c.NotifyAckScope != "global" && c.NotifyAckScope != "identity" {
		return fmt.Errorf("NOTIFY_ACK_SCOPE must be \"global\" or \"identity\", got %q", c.NotifyAckScope)
	}

	switch c.AttachmentBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ATTACHMENT_BACKEND is \"s3\"")
		}
	default:
		return fmt.Errorf("ATTACHMENT_BACKEND must be \"memory\" or \"s3\", got %q", c.AttachmentBackend)
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaAlertTopic == "" {
		return fmt.Errorf("KAFKA_ALERT_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.AlertWebhookURL != "" && c.AlertWebhookKey == "" {
		return fmt.Errorf("ALERT_WEBHOOK_SECRET is required when ALERT_WEBHOOK_URL is set")
	}
	if c.AlertQueueSize <= 0 || c.AlertTimeout <= 0 {
		return fmt.Errorf("ALERT_QUEUE_SIZE and ALERT_DELIVERY_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
