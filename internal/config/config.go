package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Checkout CheckoutConfig
	Credits  CreditsConfig
	Catalog  CatalogConfig
	External ExternalConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
}

type StripeConfig struct {
	SecretKey           string
	WebhookSecret       string
	SubscriptionPriceID string
}

type CheckoutConfig struct {
	// TTL of a checkout session; reservations roll back when it lapses.
	SessionTTL time.Duration
	// How often the reconciliation sweep re-runs missed edition commits.
	ReconcileInterval time.Duration
}

type CreditsConfig struct {
	FreeTotal int
}

type CatalogConfig struct {
	PriceFloor        float64
	MaxSupply         int
	CertificateSecret string
}

type ExternalConfig struct {
	GenerationServiceURL string
	OIDCIssuer           string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8086"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		Stripe: StripeConfig{
			SecretKey:           getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:       getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SubscriptionPriceID: getEnv("STRIPE_SUBSCRIPTION_PRICE_ID", ""),
		},
		Checkout: CheckoutConfig{
			SessionTTL:        time.Duration(getEnvInt("CHECKOUT_TTL_MINUTES", 15)) * time.Minute,
			ReconcileInterval: time.Duration(getEnvInt("RECONCILE_INTERVAL_MINUTES", 5)) * time.Minute,
		},
		Credits: CreditsConfig{
			FreeTotal: getEnvInt("FREE_CREDITS", 2),
		},
		Catalog: CatalogConfig{
			PriceFloor:        getEnvFloat("PRICE_FLOOR", 29.95),
			MaxSupply:         getEnvInt("MAX_SUPPLY", 1000),
			CertificateSecret: getEnv("CERTIFICATE_SECRET", ""),
		},
		External: ExternalConfig{
			GenerationServiceURL: getEnv("GENERATION_SERVICE_URL", ""),
			OIDCIssuer:           getEnv("OIDC_ISSUER", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
