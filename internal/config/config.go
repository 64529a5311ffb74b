package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the dispatch worker.
type Config struct {
	App     AppConfig
	Kafka   KafkaConfig
	Topics  TopicConfig
	Retry   RetryConfig
	SMTP    SMTPConfig
	Redis   RedisConfig
	Mongo   MongoConfig
	Timeout TimeoutConfig
	Ops     OpsConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// KafkaConfig defines broker information and the consumer group identity used
// for partition assignment.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// TopicConfig enumerates the three channels the pipeline touches.
type TopicConfig struct {
	Primary    string
	Retry      string
	DeadLetter string
}

// RetryConfig controls the attempt cap and backoff window.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MsgMaxBytes int
}

// SMTPConfig stores SMTP credentials for email delivery. The settings are only
// required when the SMTP client is selected.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// RedisConfig points at the status ledger backend.
type RedisConfig struct {
	URL string
	TTL time.Duration
}

// MongoConfig points at the audit log backend.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// TimeoutConfig contains timeout thresholds for outbound calls.
type TimeoutConfig struct {
	Delivery time.Duration
	Store    time.Duration
}

// OpsConfig controls the health/metrics HTTP listener.
type OpsConfig struct {
	Port int
}

// Names of the selectable delivery backends.
const (
	DeliveryClientSMTP = "smtp"
	DeliveryClientMock = "mock"
)

// DeliveryClient names the configured delivery backend implementation.
func (c *Config) DeliveryClient() string {
	if strings.TrimSpace(c.SMTP.Host) == "" {
		return DeliveryClientMock
	}
	return DeliveryClientSMTP
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)
	cfg.Kafka.ConsumerGroup = ldr.getString("DISPATCH_CONSUMER_GROUP", "", true)

	cfg.Topics.Primary = ldr.getString("KAFKA_EMAIL_TOPIC", "", true)
	cfg.Topics.Retry = ldr.getString("KAFKA_EMAIL_RETRY_TOPIC", "", true)
	cfg.Topics.DeadLetter = ldr.getString("KAFKA_EMAIL_DLQ_TOPIC", "", true)

	cfg.Retry.MaxAttempts = ldr.getInt("MAX_RETRY_ATTEMPTS", 5, false)
	cfg.Retry.BaseDelay = time.Duration(ldr.getInt("BASE_RETRY_DELAY_MS", 1000, false)) * time.Millisecond
	cfg.Retry.MaxDelay = time.Duration(ldr.getInt("MAX_RETRY_DELAY_MS", 60000, false)) * time.Millisecond
	cfg.Retry.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 200000, false)

	cfg.SMTP.Host = ldr.getString("SMTP_HOST", "", false)
	cfg.SMTP.Port = ldr.getInt("SMTP_PORT", 587, false)
	cfg.SMTP.User = ldr.getString("SMTP_USER", "", false)
	cfg.SMTP.Pass = ldr.getString("SMTP_PASS", "", false)
	cfg.SMTP.From = ldr.getString("SMTP_FROM", "", false)

	cfg.Redis.URL = ldr.getString("REDIS_URL", "", false)
	cfg.Redis.TTL = time.Duration(ldr.getInt("REDIS_STATUS_TTL_HOURS", 72, false)) * time.Hour

	cfg.Mongo.URI = ldr.getString("MONGO_URI", "", false)
	cfg.Mongo.Database = ldr.getString("MONGO_DATABASE", "email_dispatcher", false)
	cfg.Mongo.Collection = ldr.getString("MONGO_AUDIT_COLLECTION", "status_audit", false)

	cfg.Timeout.Delivery = time.Duration(ldr.getInt("DELIVERY_TIMEOUT_SECONDS", 30, false)) * time.Second
	cfg.Timeout.Store = time.Duration(ldr.getInt("STORE_TIMEOUT_MS", 2000, false)) * time.Millisecond

	cfg.Ops.Port = ldr.getInt("OPS_PORT", 8080, false)

	if cfg.Retry.MaxAttempts < 1 {
		ldr.addError("MAX_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.Retry.BaseDelay <= 0 {
		ldr.addError("BASE_RETRY_DELAY_MS must be positive")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		ldr.addError("MAX_RETRY_DELAY_MS must be >= BASE_RETRY_DELAY_MS")
	}
	if cfg.Topics.Primary != "" && cfg.Topics.Primary == cfg.Topics.Retry {
		ldr.addError("KAFKA_EMAIL_RETRY_TOPIC must differ from KAFKA_EMAIL_TOPIC")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
