package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"picowatch-alert/internal/config"
	"picowatch-alert/internal/models"
)

// SnapshotCache Redis 快照镜像（供展示类读取服务使用）
// 引擎把最新的房间环境读数和每条规则最近发布的报警写入 Redis，
// 带 TTL；引擎本身从不读这些键，评估只依赖进程内状态。
type SnapshotCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewSnapshotCache 创建快照镜像
func NewSnapshotCache(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// UpdateRoomEnvironment 写入一个房间的最新环境快照
func (c *SnapshotCache) UpdateRoomEnvironment(ctx context.Context, roomID string, reading models.EnvironmentReading) error {
	key := c.config.Alert.Cache.RoomKeyPrefix + roomID + ":environment"

	jsonData, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal environment snapshot: %w", err)
	}

	ttl := time.Duration(c.config.Alert.Cache.TTL) * time.Second
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set environment snapshot: %w", err)
	}

	c.logger.Debug("Updated room environment snapshot",
		zap.String("room_id", roomID),
		zap.String("key", key),
	)

	return nil
}

// RecordAlert 写入一条规则最近发布的报警消息
func (c *SnapshotCache) RecordAlert(ctx context.Context, ruleID int64, messages []models.AlertMessage) error {
	key := c.config.Alert.Cache.AlertKeyPrefix + strconv.FormatInt(ruleID, 10) + ":alerts"

	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal alert messages: %w", err)
	}

	ttl := time.Duration(c.config.Alert.Cache.TTL) * time.Second
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert snapshot: %w", err)
	}

	c.logger.Debug("Recorded rule alerts",
		zap.Int64("rule_id", ruleID),
		zap.Int("message_count", len(messages)),
	)

	return nil
}
