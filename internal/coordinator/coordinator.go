package coordinator

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/config"
)

// Publisher 心跳发布接口
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// State 节点状态
type State int

const (
	StateInactive      State = iota // 等待，只观察心跳
	StatePendingLeader              // 心跳静默，随机延迟竞选中
	StateActive                     // 唯一活跃节点，评估规则并发心跳
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StatePendingLeader:
		return "pending_leader"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Coordinator 单活跃节点心跳协调器
// 软一致协议：活跃节点每个心跳周期（及每次规则评估后）发布心跳；
// 非活跃节点在心跳静默超过阈值且仍有遥测到达时，以 1-5 秒随机延迟
// 竞选，降低多节点同时转为活跃的概率。故障切换窗口内的短暂双活跃
// 是可接受的（允许重复报警，不允许漏报警）。
type Coordinator struct {
	mu            sync.Mutex
	nodeID        string
	state         State
	lastHeartbeat time.Time
	pendingTimer  *time.Timer

	publisher Publisher
	logger    *zap.Logger

	topicPrefix       string
	heartbeatInterval time.Duration
	silenceThreshold  time.Duration
	delayMin          time.Duration
	delayMax          time.Duration
}

// NewCoordinator 创建协调器
// firstRun 为真（系统第一个启动的节点）时直接以活跃状态上线，
// 其余节点从非活跃开始。lastHeartbeat 初始化为启动时间，保证
// 重启的节点先听满一个静默窗口再竞选。
func NewCoordinator(cfg *config.Config, nodeID string, firstRun bool, publisher Publisher, logger *zap.Logger) *Coordinator {
	state := StateInactive
	if firstRun {
		state = StateActive
	}

	return &Coordinator{
		nodeID:            nodeID,
		state:             state,
		lastHeartbeat:     time.Now(),
		publisher:         publisher,
		logger:            logger,
		topicPrefix:       cfg.Alert.Topics.HeartbeatPrefix,
		heartbeatInterval: time.Duration(cfg.Alert.HeartbeatInterval) * time.Second,
		silenceThreshold:  time.Duration(cfg.Alert.SilenceThreshold) * time.Second,
		delayMin:          time.Duration(cfg.Alert.LeaderDelayMinMs) * time.Millisecond,
		delayMax:          time.Duration(cfg.Alert.LeaderDelayMaxMs) * time.Millisecond,
	}
}

// IsActive 本节点是否为活跃节点
func (c *Coordinator) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive
}

// State 当前状态
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NodeID 本节点标识
func (c *Coordinator) NodeID() string {
	return c.nodeID
}

// HandleHeartbeat 处理收到的心跳
// 自己的心跳忽略；对端心跳刷新接收时间并取消竞选定时器；
// 活跃节点收到对端心跳时退为非活跃，双活跃由此收敛。
func (c *Coordinator) HandleHeartbeat(peerID string) {
	if peerID == c.nodeID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastHeartbeat = time.Now()

	switch c.state {
	case StatePendingLeader:
		if c.pendingTimer != nil {
			c.pendingTimer.Stop()
			c.pendingTimer = nil
		}
		c.state = StateInactive
		c.logger.Info("Leader election cancelled by peer heartbeat",
			zap.String("peer_id", peerID),
		)
	case StateActive:
		c.state = StateInactive
		c.logger.Warn("Demoted to inactive on peer heartbeat",
			zap.String("peer_id", peerID),
		)
	}
}

// ObserveTelemetry 遥测到达时检查心跳静默
// 非活跃节点静默超过阈值后启动一次随机延迟的竞选定时器。
func (c *Coordinator) ObserveTelemetry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInactive {
		return
	}
	if time.Since(c.lastHeartbeat) <= c.silenceThreshold {
		return
	}

	delay := c.delayMin
	if c.delayMax > c.delayMin {
		delay += time.Duration(rand.Int63n(int64(c.delayMax - c.delayMin)))
	}

	c.state = StatePendingLeader
	c.pendingTimer = time.AfterFunc(delay, c.promote)

	c.logger.Info("Heartbeat silence detected, starting leader election",
		zap.Duration("delay", delay),
	)
}

// promote 竞选定时器到期，转为活跃并立即发心跳
func (c *Coordinator) promote() {
	c.mu.Lock()
	if c.state != StatePendingLeader {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	c.pendingTimer = nil
	c.mu.Unlock()

	c.logger.Info("Node promoted to active",
		zap.String("node_id", c.nodeID),
	)
	c.PublishHeartbeat()
}

// PublishHeartbeat 发布一次心跳（活跃节点专用）
func (c *Coordinator) PublishHeartbeat() {
	payload := []byte(strconv.FormatInt(time.Now().Unix(), 10))
	topic := c.topicPrefix + c.nodeID

	if err := c.publisher.Publish(topic, payload); err != nil {
		// 发布失败不改变状态，下一个周期或下一条遥测会再次发心跳
		c.logger.Error("Failed to publish heartbeat",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// Run 周期性心跳循环
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("Heartbeat coordinator started",
		zap.String("node_id", c.nodeID),
		zap.String("state", c.State().String()),
		zap.Duration("heartbeat_interval", c.heartbeatInterval),
	)

	if c.IsActive() {
		c.PublishHeartbeat()
	}

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cancelPending()
			c.logger.Info("Heartbeat coordinator stopped")
			return nil
		case <-ticker.C:
			if c.IsActive() {
				c.PublishHeartbeat()
			}
		}
	}
}

func (c *Coordinator) cancelPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingTimer != nil {
		c.pendingTimer.Stop()
		c.pendingTimer = nil
	}
}
