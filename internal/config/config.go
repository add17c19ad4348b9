// Package config reads service settings from the environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Service     ServiceConfig
	HTTP        HTTPConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Gateway     GatewayConfig
	Carrier     CarrierConfig
	SMTP        SMTPConfig
	Fulfillment FulfillmentConfig
}

type ServiceConfig struct {
	Name     string
	Env      string
	LogLevel string
	LogFile  string
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// PostgresConfig with an empty URL selects the in-memory repositories.
type PostgresConfig struct {
	URL      string
	Migrate  bool
	MaxConns int32
}

// RedisConfig with an empty Addr selects the in-process order lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// KafkaConfig with no brokers disables the event relay.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type GatewayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

type CarrierConfig struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	Timeout        time.Duration
	RatePerSecond  float64
	Burst          int
}

// SMTPConfig with an empty Host makes notifications go to the log.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	InternalRecipients []string
}

type FulfillmentConfig struct {
	Currency              string
	EstimatedDeliveryDays int
	RestockOnCancel       bool
	LockWait              time.Duration
}

// Load reads path (if it exists) into the environment without overriding
// variables that are already set, then builds the Config.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	r := &reader{}
	cfg := &Config{
		Service: ServiceConfig{
			Name:     r.str("SERVICE_NAME", "minishop-fulfillment"),
			Env:      r.str("ENV", "dev"),
			LogLevel: r.str("LOG_LEVEL", "info"),
			LogFile:  r.str("LOG_FILE", ""),
		},
		HTTP: HTTPConfig{
			Addr:            r.str("HTTP_ADDR", ":8080"),
			ShutdownTimeout: r.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			URL:      r.str("DATABASE_URL", ""),
			Migrate:  r.boolean("DB_MIGRATE", true),
			MaxConns: int32(r.integer("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     r.str("REDIS_ADDR", ""),
			Password: r.str("REDIS_PASSWORD", ""),
			DB:       r.integer("REDIS_DB", 0),
			LockTTL:  r.duration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: r.list("KAFKA_BROKERS"),
			Topic:   r.str("KAFKA_TOPIC", "fulfillment.events"),
		},
		Gateway: GatewayConfig{
			BaseURL:   r.str("GATEWAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:     r.str("GATEWAY_KEY_ID", ""),
			KeySecret: r.str("GATEWAY_KEY_SECRET", ""),
			Timeout:   r.duration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Carrier: CarrierConfig{
			BaseURL:        r.str("CARRIER_BASE_URL", "https://apiv2.shiprocket.in"),
			Email:          r.str("CARRIER_EMAIL", ""),
			Password:       r.str("CARRIER_PASSWORD", ""),
			PickupLocation: r.str("CARRIER_PICKUP_LOCATION", "Primary"),
			Timeout:        r.duration("CARRIER_TIMEOUT", 10*time.Second),
			RatePerSecond:  r.float("CARRIER_RATE_PER_SECOND", 5),
			Burst:          r.integer("CARRIER_BURST", 5),
		},
		SMTP: SMTPConfig{
			Host:               r.str("SMTP_HOST", ""),
			Port:               r.integer("SMTP_PORT", 587),
			Username:           r.str("SMTP_USERNAME", ""),
			Password:           r.str("SMTP_PASSWORD", ""),
			From:               r.str("SMTP_FROM", "orders@minishop.local"),
			InternalRecipients: r.list("NOTIFY_INTERNAL_RECIPIENTS"),
		},
		Fulfillment: FulfillmentConfig{
			Currency:              r.str("CURRENCY", "INR"),
			EstimatedDeliveryDays: r.integer("ESTIMATED_DELIVERY_DAYS", 7),
			RestockOnCancel:       r.boolean("RESTOCK_ON_CANCEL", false),
			LockWait:              r.duration("ORDER_LOCK_WAIT", 5*time.Second),
		},
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// reader collects every malformed variable instead of stopping at the first.
type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
