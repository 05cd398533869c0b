package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 30*time.Second, cfg.Floor.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Floor.AlarmInterval)
	assert.Equal(t, 5, cfg.Floor.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.Floor.ReconnectDelay)
	assert.Equal(t, "floor-events", cfg.Kafka.TopicFloor)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TAX_RATE_PERCENT", "8.5")
	t.Setenv("FLOOR_POLL_INTERVAL", "10s")
	t.Setenv("FLOOR_RECONNECT_ATTEMPTS", "2")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("DATABASE_URL", MemoryDatabase)

	cfg := Load()

	assert.Equal(t, 8.5, cfg.Business.TaxRatePercent)
	assert.Equal(t, 10*time.Second, cfg.Floor.PollInterval)
	assert.Equal(t, 2, cfg.Floor.ReconnectAttempts)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, MemoryDatabase, cfg.Database.URL)
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	t.Setenv("FLOOR_ALARM_INTERVAL", "soon")
	t.Setenv("REDIS_DB", "x")

	cfg := Load()

	assert.Equal(t, 3*time.Second, cfg.Floor.AlarmInterval)
	assert.Equal(t, 0, cfg.Redis.DB)
}
