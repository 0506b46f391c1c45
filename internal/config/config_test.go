package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTables(t *testing.T) {
	t.Setenv("ORDERS_TABLE", "orders")
	t.Setenv("PICKUP_CODES_TABLE", "pickup-codes")
	t.Setenv("PERSONNEL_TABLE", "personnel")
	t.Setenv("IDEMPOTENCY_TABLE", "idempotency")
}

func TestLoad_Defaults(t *testing.T) {
	setTables(t)
	t.Setenv("NEARBY_RADIUS_METERS", "")
	t.Setenv("MAX_OPEN_ORDERS", "")
	t.Setenv("DEFAULT_DELIVERY_ETA", "")
	t.Setenv("RUN_LOCAL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Tables.Orders)
	assert.Equal(t, 48*time.Hour, cfg.Tables.IdempotencyTTL)
	assert.Equal(t, 500.0, cfg.Fulfillment.NearbyRadiusMeters)
	assert.Equal(t, 45*time.Minute, cfg.Fulfillment.DefaultDeliveryETA)
	assert.Equal(t, 5, cfg.Fulfillment.MaxOpenOrders)
	assert.False(t, cfg.RunLocal)
}

func TestLoad_Overrides(t *testing.T) {
	setTables(t)
	t.Setenv("NEARBY_RADIUS_METERS", "250")
	t.Setenv("MAX_OPEN_ORDERS", "3")
	t.Setenv("DEFAULT_DELIVERY_ETA", "1h")
	t.Setenv("RUN_LOCAL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250.0, cfg.Fulfillment.NearbyRadiusMeters)
	assert.Equal(t, 3, cfg.Fulfillment.MaxOpenOrders)
	assert.Equal(t, time.Hour, cfg.Fulfillment.DefaultDeliveryETA)
	assert.True(t, cfg.RunLocal)
}

func TestLoad_MissingTable(t *testing.T) {
	setTables(t)
	t.Setenv("PICKUP_CODES_TABLE", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PICKUP_CODES_TABLE")
}

func TestLoad_InvalidValues(t *testing.T) {
	setTables(t)
	t.Setenv("MAX_OPEN_ORDERS", "many")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("MAX_OPEN_ORDERS", "0")
	_, err = Load()
	require.Error(t, err)
}
