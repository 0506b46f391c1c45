package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	AWS         AWSConfig
	Tables      TableConfig
	QueueURL    string // order status events
	HTTPAddress string
	RunLocal    bool
	Fulfillment FulfillmentConfig
}

// AWSConfig contains SDK loading settings.
type AWSConfig struct {
	Region           string
	EndpointOverride string
	MetricsNamespace string
}

// TableConfig names the DynamoDB tables.
type TableConfig struct {
	Orders         string
	PickupCodes    string
	Personnel      string
	Idempotency    string
	IdempotencyTTL time.Duration
}

// FulfillmentConfig tunes ETA estimation, nearby inference and courier load.
type FulfillmentConfig struct {
	NearbyRadiusMeters float64
	CourierSpeedKmh    float64
	DefaultDeliveryETA time.Duration
	DefaultPickupETA   time.Duration
	MaxOpenOrders      int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", ""),
			EndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
			MetricsNamespace: getEnv("METRICS_NAMESPACE", "OrderFulfillment"),
		},
		Tables: TableConfig{
			Orders:      getEnv("ORDERS_TABLE", ""),
			PickupCodes: getEnv("PICKUP_CODES_TABLE", ""),
			Personnel:   getEnv("PERSONNEL_TABLE", ""),
			Idempotency: getEnv("IDEMPOTENCY_TABLE", ""),
		},
		QueueURL:    getEnv("ORDERS_QUEUE_URL", ""),
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		RunLocal:    getEnv("RUN_LOCAL", "") == "true",
	}

	var err error
	if cfg.Tables.IdempotencyTTL, err = getEnvDuration("IDEMPOTENCY_TTL", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Fulfillment.NearbyRadiusMeters, err = getEnvFloat("NEARBY_RADIUS_METERS", 500); err != nil {
		return nil, err
	}
	if cfg.Fulfillment.CourierSpeedKmh, err = getEnvFloat("COURIER_SPEED_KMH", 30); err != nil {
		return nil, err
	}
	if cfg.Fulfillment.DefaultDeliveryETA, err = getEnvDuration("DEFAULT_DELIVERY_ETA", 45*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Fulfillment.DefaultPickupETA, err = getEnvDuration("DEFAULT_PICKUP_ETA", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Fulfillment.MaxOpenOrders, err = getEnvInt("MAX_OPEN_ORDERS", 5); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"ORDERS_TABLE":       c.Tables.Orders,
		"PICKUP_CODES_TABLE": c.Tables.PickupCodes,
		"PERSONNEL_TABLE":    c.Tables.Personnel,
		"IDEMPOTENCY_TABLE":  c.Tables.Idempotency,
	}
	for key, v := range required {
		if v == "" {
			return fmt.Errorf("%s environment variable is not set", key)
		}
	}
	if c.Fulfillment.CourierSpeedKmh <= 0 {
		return fmt.Errorf("COURIER_SPEED_KMH must be positive, got %v", c.Fulfillment.CourierSpeedKmh)
	}
	if c.Fulfillment.MaxOpenOrders <= 0 {
		return fmt.Errorf("MAX_OPEN_ORDERS must be positive, got %d", c.Fulfillment.MaxOpenOrders)
	}
	return nil
}

// String returns a one-line summary suitable for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("Config{orders: %s, pickup_codes: %s, personnel: %s, idempotency: %s, queue: %s, http: %s, local: %t}",
		c.Tables.Orders, c.Tables.PickupCodes, c.Tables.Personnel, c.Tables.Idempotency, c.QueueURL, c.HTTPAddress, c.RunLocal)
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
