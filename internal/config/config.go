/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), providing a centralized way to manage application settings.
 *
 * Provider credentials are read here and handed to the clients; they are never persisted.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the reconciliation-service.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix           string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	ReconcileQueue           string `mapstructure:"RECONCILE_QUEUE"`
	ClerkJWKSURL             string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience            string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer              string `mapstructure:"CLERK_ISSUER"`
	AdminUserIDsRaw          string `mapstructure:"ADMIN_USER_IDS"`
	CORSAllowedOriginsRaw    string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	ProviderTimeoutSeconds   int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	StalePendingAfterMinutes int    `mapstructure:"STALE_PENDING_AFTER_MINUTES"`
	ReconcileSchedule        string `mapstructure:"RECONCILE_SCHEDULE"`
	EventDedupeTTLHours      int    `mapstructure:"EVENT_DEDUPE_TTL_HOURS"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	LogFormat                string `mapstructure:"LOG_FORMAT"`
	DefaultCurrency          string `mapstructure:"DEFAULT_CURRENCY"`
	CheckoutReturnURL        string `mapstructure:"CHECKOUT_RETURN_URL"`
	CheckoutCancelURL        string `mapstructure:"CHECKOUT_CANCEL_URL"`

	StripeAPIBaseURL    string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	PayPalAPIBaseURL    string `mapstructure:"PAYPAL_API_BASE_URL"`
	PayPalClientID      string `mapstructure:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret  string `mapstructure:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookSecret string `mapstructure:"PAYPAL_WEBHOOK_SECRET"`

	BTCPayBaseURL       string `mapstructure:"BTCPAY_BASE_URL"`
	BTCPayAPIKey        string `mapstructure:"BTCPAY_API_KEY"`
	BTCPayStoreID       string `mapstructure:"BTCPAY_STORE_ID"`
	BTCPayWebhookSecret string `mapstructure:"BTCPAY_WEBHOOK_SECRET"`
	BTCPayPayoutMethod  string `mapstructure:"BTCPAY_PAYOUT_METHOD"`

	CoinbaseAPIBaseURL    string `mapstructure:"COINBASE_API_BASE_URL"`
	CoinbaseAPIKey        string `mapstructure:"COINBASE_API_KEY"`
	CoinbaseWebhookSecret string `mapstructure:"COINBASE_WEBHOOK_SECRET"`

	AuthNetAPIEndpoint    string `mapstructure:"AUTHNET_API_ENDPOINT"`
	AuthNetLoginID        string `mapstructure:"AUTHNET_LOGIN_ID"`
	AuthNetTransactionKey string `mapstructure:"AUTHNET_TRANSACTION_KEY"`
	AuthNetSignatureKey   string `mapstructure:"AUTHNET_SIGNATURE_KEY"`
	AuthNetCurrency       string `mapstructure:"AUTHNET_CURRENCY"`

	AdminUserIDs       []string `mapstructure:"-"`
	CORSAllowedOrigins []string `mapstructure:"-"`
}

var configKeys = []string{
	"SERVER_PORT", "PORT", "DATABASE_URL", "REDIS_URL", "REDIS_KEY_PREFIX", "RABBITMQ_URL",
	"EVENTS_EXCHANGE", "RECONCILE_QUEUE", "CLERK_JWKS_URL", "CLERK_AUDIENCE", "CLERK_ISSUER",
	"ADMIN_USER_IDS", "CORS_ALLOWED_ORIGINS", "PROVIDER_TIMEOUT_SECONDS", "STALE_PENDING_AFTER_MINUTES",
	"RECONCILE_SCHEDULE", "EVENT_DEDUPE_TTL_HOURS", "LOG_LEVEL", "LOG_FORMAT", "DEFAULT_CURRENCY",
	"CHECKOUT_RETURN_URL", "CHECKOUT_CANCEL_URL",
	"STRIPE_API_BASE_URL", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"PAYPAL_API_BASE_URL", "PAYPAL_CLIENT_ID", "PAYPAL_CLIENT_SECRET", "PAYPAL_WEBHOOK_SECRET",
	"BTCPAY_BASE_URL", "BTCPAY_API_KEY", "BTCPAY_STORE_ID", "BTCPAY_WEBHOOK_SECRET", "BTCPAY_PAYOUT_METHOD",
	"COINBASE_API_BASE_URL", "COINBASE_API_KEY", "COINBASE_WEBHOOK_SECRET",
	"AUTHNET_API_ENDPOINT", "AUTHNET_LOGIN_ID", "AUTHNET_TRANSACTION_KEY", "AUTHNET_SIGNATURE_KEY", "AUTHNET_CURRENCY",
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_KEY_PREFIX", "transfa:webhook_event")
	viper.SetDefault("EVENTS_EXCHANGE", "transfer_events")
	viper.SetDefault("RECONCILE_QUEUE", "reconciliation_service.reconcile")
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 15)
	viper.SetDefault("STALE_PENDING_AFTER_MINUTES", 60)
	viper.SetDefault("RECONCILE_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("EVENT_DEDUPE_TTL_HOURS", 72)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("DEFAULT_CURRENCY", "USD")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("PAYPAL_API_BASE_URL", "https://api-m.sandbox.paypal.com")
	viper.SetDefault("BTCPAY_PAYOUT_METHOD", "BTC-CHAIN")
	viper.SetDefault("COINBASE_API_BASE_URL", "https://api.commerce.coinbase.com")
	viper.SetDefault("AUTHNET_API_ENDPOINT", "https://apitest.authorize.net/xml/v1/request.api")
	viper.SetDefault("AUTHNET_CURRENCY", "USD")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range configKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("AUTHNET_SIGNATURE_KEY", "AUTHNET_SIGNATURE_KEY", "AUTHORIZE_NET_SIGNATURE_KEY")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "err", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "transfa:webhook_event"
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if len(config.DefaultCurrency) != 3 {
		slog.Warn("invalid DEFAULT_CURRENCY; using USD", "component", "config", "value", config.DefaultCurrency)
		config.DefaultCurrency = "USD"
	}

	config.AuthNetCurrency = strings.ToUpper(strings.TrimSpace(config.AuthNetCurrency))
	if len(config.AuthNetCurrency) != 3 {
		slog.Warn("invalid AUTHNET_CURRENCY; using USD", "component", "config", "value", config.AuthNetCurrency)
		config.AuthNetCurrency = "USD"
	}

	if config.ProviderTimeoutSeconds <= 0 {
		slog.Warn("non-positive provider timeout configured; using default", "component", "config", "value", config.ProviderTimeoutSeconds)
		config.ProviderTimeoutSeconds = 15
	}
	if config.StalePendingAfterMinutes <= 0 {
		config.StalePendingAfterMinutes = 60
	}
	if config.EventDedupeTTLHours <= 0 {
		config.EventDedupeTTLHours = 72
	}

	config.AdminUserIDs = splitList(config.AdminUserIDsRaw)
	config.CORSAllowedOrigins = splitList(config.CORSAllowedOriginsRaw)
	if len(config.AdminUserIDs) == 0 {
		slog.Warn("ADMIN_USER_IDS is empty; payout administration is disabled", "component", "config")
	}

	return
}

// ProviderTimeout is the bound on a single outbound provider call.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// StalePendingAfter is the age at which a pending transfer is flagged for reconciliation.
func (c Config) StalePendingAfter() time.Duration {
	return time.Duration(c.StalePendingAfterMinutes) * time.Minute
}

// EventDedupeTTL is how long processed-event markers live in Redis.
func (c Config) EventDedupeTTL() time.Duration {
	return time.Duration(c.EventDedupeTTLHours) * time.Hour
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
