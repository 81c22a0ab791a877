package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"picowatch-alert/internal/config"
	"picowatch-alert/internal/models"
)

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *SnapshotCache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Alert.Cache.RoomKeyPrefix = "picowatch:room:"
	cfg.Alert.Cache.AlertKeyPrefix = "picowatch:rule:"
	cfg.Alert.Cache.TTL = 300

	return mr, NewSnapshotCache(cfg, redisClient, zap.NewNop())
}

func TestSnapshotCache_UpdateRoomEnvironment(t *testing.T) {
	mr, cache := setupTestCache(t)

	reading := models.EnvironmentReading{
		Sound:       12,
		Light:       50,
		Temperature: 25.5,
		IAQ:         20,
		Pressure:    1013,
		Humidity:    40,
	}

	err := cache.UpdateRoomEnvironment(context.Background(), "101", reading)
	require.NoError(t, err)

	stored, err := mr.Get("picowatch:room:101:environment")
	require.NoError(t, err)

	var decoded models.EnvironmentReading
	require.NoError(t, json.Unmarshal([]byte(stored), &decoded))
	assert.Equal(t, reading, decoded)

	ttl := mr.TTL("picowatch:room:101:environment")
	assert.Greater(t, ttl.Seconds(), 0.0)
}

func TestSnapshotCache_UpdateOverwritesPrevious(t *testing.T) {
	mr, cache := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.UpdateRoomEnvironment(ctx, "101", models.EnvironmentReading{Temperature: 35}))
	require.NoError(t, cache.UpdateRoomEnvironment(ctx, "101", models.EnvironmentReading{Temperature: 25}))

	stored, err := mr.Get("picowatch:room:101:environment")
	require.NoError(t, err)

	var decoded models.EnvironmentReading
	require.NoError(t, json.Unmarshal([]byte(stored), &decoded))
	assert.Equal(t, 25.0, decoded.Temperature)
}

func TestSnapshotCache_RecordAlert(t *testing.T) {
	mr, cache := setupTestCache(t)

	messages := []models.AlertMessage{
		{Title: "Hot room", Location: "101", Severity: "warning", Summary: "Temperature out of range", RuleID: 7},
	}

	err := cache.RecordAlert(context.Background(), 7, messages)
	require.NoError(t, err)

	stored, err := mr.Get("picowatch:rule:7:alerts")
	require.NoError(t, err)

	var decoded []models.AlertMessage
	require.NoError(t, json.Unmarshal([]byte(stored), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, int64(7), decoded[0].RuleID)
}
