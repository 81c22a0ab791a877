package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"picowatch-alert/internal/config"
	"picowatch-alert/internal/coordinator"
	"picowatch-alert/internal/models"
	"picowatch-alert/internal/rulestore"
	"picowatch-alert/internal/tracker"
)

type stubRuleRepo struct {
	rules      []models.Rule
	checkCalls int
}

func (s *stubRuleRepo) CheckUpdated(ctx context.Context) (bool, error) {
	s.checkCalls++
	return false, nil
}
func (s *stubRuleRepo) ClearUpdated(ctx context.Context) error { return nil }
func (s *stubRuleRepo) LoadRules(ctx context.Context) ([]models.Rule, error) {
	return s.rules, nil
}

type countingEvaluator struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEvaluator) EvaluatePass(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
}

func (e *countingEvaluator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type countingHarness struct {
	mu    sync.Mutex
	calls int
}

func (h *countingHarness) ProcessPending(ctx context.Context, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
}

type recordingSink struct {
	mu    sync.Mutex
	rooms map[string]models.EnvironmentReading
}

func (s *recordingSink) UpdateRoomEnvironment(ctx context.Context, roomID string, reading models.EnvironmentReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms == nil {
		s.rooms = make(map[string]models.EnvironmentReading)
	}
	s.rooms[roomID] = reading
	return nil
}

type countingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *countingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *countingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func consumerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.MQTT.QoS = 1
	cfg.Alert.Topics.Telemetry = "telemetry/#"
	cfg.Alert.Topics.HeartbeatPrefix = "heartbeat/"
	cfg.Alert.Topics.HeartbeatFilter = "heartbeat/#"
	cfg.Alert.HeartbeatInterval = 60
	cfg.Alert.SilenceThreshold = 60
	cfg.Alert.LeaderDelayMinMs = 5
	cfg.Alert.LeaderDelayMaxMs = 15
	return cfg
}

func newTestConsumer(t *testing.T, active bool) (*MQTTConsumer, *countingEvaluator, *countingHarness, *recordingSink, *countingPublisher, *tracker.Tracker) {
	cfg := consumerConfig()
	publisher := &countingPublisher{}
	coord := coordinator.NewCoordinator(cfg, "node-1", active, publisher, zap.NewNop())

	deviceTracker := tracker.NewTracker(2*time.Minute, time.Minute, zap.NewNop())
	environment := tracker.NewEnvironmentCache()
	rules := rulestore.NewStore(&stubRuleRepo{}, zap.NewNop())

	eval := &countingEvaluator{}
	testHarness := &countingHarness{}
	sink := &recordingSink{}

	c := NewMQTTConsumer(cfg, nil, deviceTracker, environment, rules, coord, eval, testHarness, sink, zap.NewNop())
	return c, eval, testHarness, sink, publisher, deviceTracker
}

func TestHandleTelemetry_TrackableUpdatesOccupancy(t *testing.T) {
	c, _, _, _, _, deviceTracker := newTestConsumer(t, false)

	err := c.handleTelemetry("telemetry/8", []byte(`{"PicoID": 8, "RoomID": "1", "PicoType": 3, "Data": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, deviceTracker.Count(models.DeviceUser, "1"))

	err = c.handleTelemetry("telemetry/8", []byte(`{"PicoID": 8, "RoomID": "2", "PicoType": 3, "Data": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 0, deviceTracker.Count(models.DeviceUser, "1"))
	assert.Equal(t, 1, deviceTracker.Count(models.DeviceUser, "2"))
}

func TestHandleTelemetry_EnvironmentUpdatesCacheAndMirror(t *testing.T) {
	c, _, _, sink, _, _ := newTestConsumer(t, false)

	err := c.handleTelemetry("telemetry/env", []byte(`{"PicoID": "env-1", "RoomID": "101", "PicoType": 1, "Data": "12,50,35,20,1013,40"}`))
	require.NoError(t, err)

	reading, ok := c.environment.Get("101")
	require.True(t, ok)
	assert.Equal(t, 35.0, reading.Temperature)

	assert.Equal(t, 35.0, sink.rooms["101"].Temperature)
}

func TestHandleTelemetry_MalformedPayloadDropped(t *testing.T) {
	c, eval, _, _, _, deviceTracker := newTestConsumer(t, true)

	err := c.handleTelemetry("telemetry/x", []byte(`{broken`))
	assert.Error(t, err)
	assert.Equal(t, 0, deviceTracker.TrackedDevices())
	assert.Equal(t, 0, eval.count())
}

func TestHandleTelemetry_ActiveNodeEvaluates(t *testing.T) {
	c, eval, testHarness, _, publisher, _ := newTestConsumer(t, true)

	err := c.handleTelemetry("telemetry/8", []byte(`{"PicoID": 8, "RoomID": "1", "PicoType": 3, "Data": 1}`))
	require.NoError(t, err)

	assert.Equal(t, 1, eval.count())
	testHarness.mu.Lock()
	assert.Equal(t, 1, testHarness.calls)
	testHarness.mu.Unlock()

	// 评估后立即发布了一次心跳
	assert.Contains(t, publisher.published(), "heartbeat/node-1")
}

func TestHandleTelemetry_InactiveNodeSkipsEvaluation(t *testing.T) {
	c, eval, testHarness, _, publisher, _ := newTestConsumer(t, false)

	err := c.handleTelemetry("telemetry/8", []byte(`{"PicoID": 8, "RoomID": "1", "PicoType": 3, "Data": 1}`))
	require.NoError(t, err)

	assert.Equal(t, 0, eval.count())
	testHarness.mu.Lock()
	assert.Equal(t, 0, testHarness.calls)
	testHarness.mu.Unlock()
	assert.Empty(t, publisher.published())
}

func TestHandleHeartbeat_PeerDemotesActiveNode(t *testing.T) {
	c, _, _, _, _, _ := newTestConsumer(t, true)
	require.True(t, c.coordinator.IsActive())

	err := c.handleHeartbeat("heartbeat/node-2", []byte("1735689600"))
	require.NoError(t, err)
	assert.False(t, c.coordinator.IsActive())
}

func TestHandleHeartbeat_OwnHeartbeatIgnored(t *testing.T) {
	c, _, _, _, _, _ := newTestConsumer(t, true)

	err := c.handleHeartbeat("heartbeat/node-1", []byte("1735689600"))
	require.NoError(t, err)
	assert.True(t, c.coordinator.IsActive())
}

func TestHandleHeartbeat_MalformedTopic(t *testing.T) {
	c, _, _, _, _, _ := newTestConsumer(t, true)

	err := c.handleHeartbeat("heartbeat", []byte("1735689600"))
	require.NoError(t, err)
	assert.True(t, c.coordinator.IsActive())
}
