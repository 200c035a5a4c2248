// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds everything the service reads from the environment. Loaded once
// at startup and passed by reference; nothing mutates it afterwards.
type Config struct {
	AppEnv      string // "production" gates the signature-bypass escape hatch
	HTTPAddr    string
	MetricsAddr string

	// Externally reachable base URL, used to build the webhook callback URL
	// handed to the processors at order creation.
	PublicBaseURL string

	// Database (PostgreSQL)
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	// Processor credentials. API keys authenticate our outbound calls;
	// webhook secrets authenticate their inbound calls.
	ConektaAPIKey            string
	ConektaWebhookSecret     string
	MercadoPagoAccessToken   string
	MercadoPagoWebhookSecret string

	// Pricing. Fixed per deployment, not per request.
	PricePerCreditCents int64
	TaxRate             float64
	Currency            string

	// Operator alerting (RabbitMQ)
	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQHost     string
	RabbitMQPort     string

	// Downstream event fan-out (Kafka)
	KafkaBroker string
	KafkaTopic  string

	// Dead-letter list for unattributable payments (Redis)
	RedisAddr string
}

// LoadConfig reads the environment. Only the database settings are hard
// requirements; every integration degrades explicitly (and loudly) when its
// config is absent, instead of crashing a service that could still reconcile.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getenv("APP_ENV", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		MetricsAddr: getenv("METRICS_ADDR", ":2112"),

		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),

		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getenv("DB_PORT", "5432"),

		ConektaAPIKey:            os.Getenv("CONEKTA_API_KEY"),
		ConektaWebhookSecret:     os.Getenv("CONEKTA_WEBHOOK_SECRET"),
		MercadoPagoAccessToken:   os.Getenv("MERCADOPAGO_ACCESS_TOKEN"),
		MercadoPagoWebhookSecret: os.Getenv("MERCADOPAGO_WEBHOOK_SECRET"),

		Currency: getenv("CREDITS_CURRENCY", "MXN"),

		RabbitMQUser:     os.Getenv("RABBITMQ_USER"),
		RabbitMQPassword: os.Getenv("RABBITMQ_PASSWORD"),
		RabbitMQHost:     os.Getenv("RABBITMQ_HOST"),
		RabbitMQPort:     getenv("RABBITMQ_PORT", "5672"),

		KafkaBroker: os.Getenv("KAFKA_BROKER"),
		KafkaTopic:  getenv("KAFKA_TOPIC", "credits.granted"),

		RedisAddr: os.Getenv("REDIS_ADDR"),
	}

	if cfg.DBHost == "" || cfg.DBUser == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("DB_HOST, DB_USER and DB_NAME are required")
	}

	var err error
	cfg.PricePerCreditCents, err = getenvInt64("PRICE_PER_CREDIT_CENTS", 5000)
	if err != nil {
		return nil, err
	}
	if cfg.PricePerCreditCents <= 0 {
		return nil, fmt.Errorf("PRICE_PER_CREDIT_CENTS must be positive")
	}
	cfg.TaxRate, err = getenvFloat("TAX_RATE", 0.16)
	if err != nil {
		return nil, err
	}
	if cfg.TaxRate < 0 {
		return nil, fmt.Errorf("TAX_RATE must not be negative")
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetDBURL formats the config into a PostgreSQL connection string.
func (c *Config) GetDBURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// GetRabbitMQURL formats the config into a RabbitMQ connection string.
// Empty host means alerting is not configured at all.
func (c *Config) GetRabbitMQURL() string {
	if c.RabbitMQHost == "" {
		return ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort)
}

// WebhookCallbackURL is where processors deliver notifications for us.
func (c *Config) WebhookCallbackURL(provider string) string {
	return c.PublicBaseURL + "/webhooks/" + provider
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
