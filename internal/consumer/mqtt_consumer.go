package consumer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/config"
	"picowatch-alert/internal/coordinator"
	"picowatch-alert/internal/decoder"
	"picowatch-alert/internal/models"
	"picowatch-alert/internal/rulestore"
	"picowatch-alert/internal/tracker"
	mqttclient "picowatch-alert/pkg/mqtt"
)

// Evaluator 规则评估接口
type Evaluator interface {
	// EvaluatePass 对全部缓存规则执行一次评估
	EvaluatePass(ctx context.Context, now time.Time)
}

// Harness 测试请求执行接口
type Harness interface {
	// ProcessPending 执行所有待处理的测试请求
	ProcessPending(ctx context.Context, now time.Time)
}

// EnvironmentSink 环境快照镜像接口
type EnvironmentSink interface {
	// UpdateRoomEnvironment 写入一个房间的最新环境快照
	UpdateRoomEnvironment(ctx context.Context, roomID string, reading models.EnvironmentReading) error
}

// MQTTConsumer 总线消息消费者
// 遥测消息逐条同步处理：解码、更新在场/环境状态、驱动协调器，
// 活跃节点随后刷新规则、评估并处理测试请求。解码失败的消息记录
// 日志后丢弃，遥测是连续流，丢一条样本可以接受。
type MQTTConsumer struct {
	config      *config.Config
	bus         *mqttclient.Client
	tracker     *tracker.Tracker
	environment *tracker.EnvironmentCache
	rules       *rulestore.Store
	coordinator *coordinator.Coordinator
	evaluator   Evaluator
	harness     Harness
	snapshots   EnvironmentSink
	logger      *zap.Logger
}

// NewMQTTConsumer 创建消费者
func NewMQTTConsumer(
	cfg *config.Config,
	bus *mqttclient.Client,
	deviceTracker *tracker.Tracker,
	environment *tracker.EnvironmentCache,
	rules *rulestore.Store,
	coord *coordinator.Coordinator,
	eval Evaluator,
	testHarness Harness,
	snapshots EnvironmentSink,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		bus:         bus,
		tracker:     deviceTracker,
		environment: environment,
		rules:       rules,
		coordinator: coord,
		evaluator:   eval,
		harness:     testHarness,
		snapshots:   snapshots,
		logger:      logger,
	}
}

// Start 订阅遥测与心跳主题并阻塞到上下文取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(c.config.Alert.Topics.Telemetry, c.config.MQTT.QoS, c.handleTelemetry); err != nil {
		return err
	}
	if err := c.bus.Subscribe(c.config.Alert.Topics.HeartbeatFilter, c.config.MQTT.QoS, c.handleHeartbeat); err != nil {
		return err
	}

	c.logger.Info("MQTT consumer started",
		zap.String("telemetry_topic", c.config.Alert.Topics.Telemetry),
		zap.String("heartbeat_topic", c.config.Alert.Topics.HeartbeatFilter),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() {
	if err := c.bus.Unsubscribe(c.config.Alert.Topics.Telemetry, c.config.Alert.Topics.HeartbeatFilter); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// handleTelemetry 处理一条遥测消息
func (c *MQTTConsumer) handleTelemetry(topic string, payload []byte) error {
	reading, err := decoder.Decode(payload)
	if err != nil {
		// 丢弃并交给订阅封装记录日志，不重试
		return err
	}

	now := time.Now()
	ctx := context.Background()

	switch {
	case reading.DeviceType == models.DeviceEnvironment:
		c.environment.Update(reading.RoomID, *reading.Environment)
		if err := c.snapshots.UpdateRoomEnvironment(ctx, reading.RoomID, *reading.Environment); err != nil {
			c.logger.Warn("Failed to mirror environment snapshot",
				zap.String("room_id", reading.RoomID),
				zap.Error(err),
			)
		}
	case reading.DeviceType.Trackable():
		c.tracker.Observe(reading.DeviceID, reading.RoomID, reading.DeviceType, now)
	}

	c.coordinator.ObserveTelemetry()
	if !c.coordinator.IsActive() {
		return nil
	}

	c.rules.RefreshIfNeeded(ctx)
	c.evaluator.EvaluatePass(ctx, now)
	c.harness.ProcessPending(ctx, now)
	c.coordinator.PublishHeartbeat()

	return nil
}

// handleHeartbeat 处理一条心跳消息，主题格式 heartbeat/<nodeID>
func (c *MQTTConsumer) handleHeartbeat(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[1] == "" {
		c.logger.Warn("Heartbeat on malformed topic",
			zap.String("topic", topic),
		)
		return nil
	}

	c.coordinator.HandleHeartbeat(parts[1])
	return nil
}
