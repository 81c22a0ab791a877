package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/config"
	"picowatch-alert/internal/models"
	"picowatch-alert/internal/rulestore"
	"picowatch-alert/internal/tracker"
)

// Publisher 报警发布接口
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// AlertSink 报警快照接收器（Redis 镜像）
type AlertSink interface {
	RecordAlert(ctx context.Context, ruleID int64, messages []models.AlertMessage) error
}

// Evaluator 规则评估引擎
// 所有规则都是 AND 规则：任一房间任一变量越界即整条规则不触发。
// 规则通过冷却时间（默认 180 秒）抑制持续越界造成的报警风暴。
type Evaluator struct {
	config      *config.Config
	tracker     *tracker.Tracker
	environment *tracker.EnvironmentCache
	rules       *rulestore.Store
	publisher   Publisher
	sink        AlertSink
	cooldown    time.Duration
	logger      *zap.Logger
}

// NewEvaluator 创建评估引擎
func NewEvaluator(
	cfg *config.Config,
	deviceTracker *tracker.Tracker,
	environment *tracker.EnvironmentCache,
	rules *rulestore.Store,
	publisher Publisher,
	sink AlertSink,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		config:      cfg,
		tracker:     deviceTracker,
		environment: environment,
		rules:       rules,
		publisher:   publisher,
		sink:        sink,
		cooldown:    time.Duration(cfg.Alert.Cooldown) * time.Second,
		logger:      logger,
	}
}

// EvaluatePass 对全部缓存规则执行一次评估
// 每条成功解码的遥测消息触发一次（仅活跃节点调用）。
func (e *Evaluator) EvaluatePass(ctx context.Context, now time.Time) {
	for _, rule := range e.rules.Rules() {
		if lastSent, ok := e.rules.LastSent(rule.ID); ok && now.Sub(lastSent) < e.cooldown {
			continue
		}

		if !e.ConditionsMet(ctx, rule) {
			continue
		}

		if e.PublishAlerts(ctx, rule) > 0 {
			e.rules.MarkSent(rule.ID, now)
		}
	}
}

// ConditionsMet 检查一条规则的全部条件
// 环境变量无缓存值时发布一条传感器故障管理员消息并判定条件失败，
// 不影响其他规则的评估。
func (e *Evaluator) ConditionsMet(ctx context.Context, rule models.Rule) bool {
	for _, room := range rule.Conditions {
		if room.RoomID == "" {
			e.logger.Warn("Rule condition without room, rule cannot fire",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule_name", rule.Name),
			)
			return false
		}

		for _, condition := range room.Conditions {
			value, ok := e.resolveValue(room.RoomID, condition.Variable)
			if !ok {
				e.publishBrokenSensor(room.RoomID)
				return false
			}
			if value < condition.LowerBound || value > condition.UpperBound {
				return false
			}
		}
	}
	return true
}

// resolveValue 取条件变量的当前值
// 房间计数变量无记录时取 0；环境变量缺值时返回 false。
func (e *Evaluator) resolveValue(roomID string, variable models.Variable) (float64, bool) {
	switch variable.Kind {
	case models.VariableOccupancy:
		return float64(e.tracker.Count(variable.Occupancy, roomID)), true
	default:
		reading, ok := e.environment.Get(roomID)
		if !ok {
			return 0, false
		}
		return reading.Attribute(variable.Attribute)
	}
}

// PublishAlerts 发布一条规则的全部消息模板，返回成功发布的条数
// 目标主题由模板的 authority 与规则是否为测试规则决定。
func (e *Evaluator) PublishAlerts(ctx context.Context, rule models.Rule) int {
	prefix := e.config.Alert.Topics.WarningPrefix
	if rule.TestOnly {
		prefix = e.config.Alert.Topics.TestWarningPrefix
	}

	var published []models.AlertMessage
	for _, template := range rule.Messages {
		message := models.AlertMessage{
			Title:    template.Title,
			Location: template.Location,
			Severity: template.Severity,
			Summary:  template.Summary,
			RuleID:   rule.ID,
		}

		payload, err := json.Marshal(message)
		if err != nil {
			e.logger.Error("Failed to marshal alert message",
				zap.Int64("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}

		topic := prefix + template.Authority
		if err := e.publisher.Publish(topic, payload); err != nil {
			// 发布重试已在客户端内完成，这里只记录丢弃
			e.logger.Error("Failed to publish alert",
				zap.Int64("rule_id", rule.ID),
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}

		e.logger.Info("Alert published",
			zap.Int64("rule_id", rule.ID),
			zap.String("rule_name", rule.Name),
			zap.String("topic", topic),
			zap.String("severity", message.Severity),
		)
		published = append(published, message)
	}

	if len(published) > 0 && e.sink != nil {
		if err := e.sink.RecordAlert(ctx, rule.ID, published); err != nil {
			e.logger.Warn("Failed to record alert snapshot",
				zap.Int64("rule_id", rule.ID),
				zap.Error(err),
			)
		}
	}

	return len(published)
}

// publishBrokenSensor 发布传感器故障管理员消息
func (e *Evaluator) publishBrokenSensor(roomID string) {
	message := models.MessageTemplate{
		Title:    fmt.Sprintf("Broken room sensor: %s", roomID),
		Location: "SENSOR",
		Severity: "warning",
		Summary:  fmt.Sprintf("sensor with roomID %s has no valid data, please give it a checkup", roomID),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		e.logger.Error("Failed to marshal broken sensor message", zap.Error(err))
		return
	}

	if err := e.publisher.Publish(e.config.Alert.Topics.BrokenSensor, payload); err != nil {
		e.logger.Error("Failed to publish broken sensor message",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return
	}

	e.logger.Warn("Broken sensor reported",
		zap.String("room_id", roomID),
	)
}
