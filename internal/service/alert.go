package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"picowatch-alert/internal/cache"
	"picowatch-alert/internal/config"
	"picowatch-alert/internal/consumer"
	"picowatch-alert/internal/coordinator"
	"picowatch-alert/internal/evaluator"
	"picowatch-alert/internal/harness"
	"picowatch-alert/internal/repository"
	"picowatch-alert/internal/rulestore"
	"picowatch-alert/internal/tracker"
	"picowatch-alert/pkg/database"
	mqttclient "picowatch-alert/pkg/mqtt"
)

// AlertService 报警引擎服务（整合各层）
type AlertService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	bus         *mqttclient.Client
	logger      *zap.Logger
	nodeID      string

	// 各层组件
	tracker     *tracker.Tracker
	environment *tracker.EnvironmentCache
	snapshots   *cache.SnapshotCache
	rules       *rulestore.Store
	coordinator *coordinator.Coordinator
	evaluator   *evaluator.Evaluator
	harness     *harness.Harness
	consumer    *consumer.MQTTConsumer
}

// NewAlertService 创建报警引擎服务
func NewAlertService(cfg *config.Config, logger *zap.Logger) (*AlertService, error) {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
		logger.Info("No NODE_ID configured, generated one",
			zap.String("node_id", nodeID),
		)
	}

	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（客户端 ID 带上节点标识，多副本不互踢）
	busCfg := cfg.MQTT
	busCfg.ClientID = cfg.MQTT.ClientID + "-" + nodeID
	bus, err := mqttclient.NewClient(&busCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}

	// 4. 创建 Repository 层
	retries := cfg.Alert.StoreRetries
	backoff := time.Duration(cfg.Alert.StoreBackoffMs) * time.Millisecond
	ruleRepo := repository.NewRuleRepository(db, logger, retries, backoff)
	testRepo := repository.NewTestRequestRepository(db, logger, retries, backoff)
	bootstrapRepo := repository.NewBootstrapRepository(db, logger, retries, backoff)

	// 5. 首次启动标记：系统第一个节点直接以活跃状态上线
	firstRun, err := bootstrapRepo.FirstRun(context.Background(), nodeID)
	if err != nil {
		logger.Warn("Failed to read bootstrap marker, starting inactive",
			zap.Error(err),
		)
		firstRun = false
	}

	// 6. 创建状态与协调层
	deviceTracker := tracker.NewTracker(
		time.Duration(cfg.Alert.PresenceTTL)*time.Second,
		time.Duration(cfg.Alert.SweepInterval)*time.Second,
		logger,
	)
	environment := tracker.NewEnvironmentCache()
	snapshots := cache.NewSnapshotCache(cfg, redisClient, logger)
	rules := rulestore.NewStore(ruleRepo, logger)
	coord := coordinator.NewCoordinator(cfg, nodeID, firstRun, bus, logger)

	// 7. 创建评估层
	eval := evaluator.NewEvaluator(cfg, deviceTracker, environment, rules, bus, snapshots, logger)
	testHarness := harness.NewHarness(rules, testRepo, eval, logger)

	// 8. 创建消费者
	busConsumer := consumer.NewMQTTConsumer(cfg, bus, deviceTracker, environment, rules, coord, eval, testHarness, snapshots, logger)

	return &AlertService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		bus:         bus,
		logger:      logger,
		nodeID:      nodeID,
		tracker:     deviceTracker,
		environment: environment,
		snapshots:   snapshots,
		rules:       rules,
		coordinator: coord,
		evaluator:   eval,
		harness:     testHarness,
		consumer:    busConsumer,
	}, nil
}

// Start 启动服务并阻塞到上下文取消或总线故障
// 总线连接丢失且在恢复窗口内没有重连成功是唯一的致命错误，
// 返回后由外部监督进程重启，保证最终重新选主。
func (s *AlertService) Start(ctx context.Context) error {
	s.logger.Info("Starting alert service",
		zap.String("node_id", s.nodeID),
		zap.Bool("active", s.coordinator.IsActive()),
	)

	go func() {
		_ = s.tracker.Start(ctx)
	}()
	go func() {
		_ = s.coordinator.Run(ctx)
	}()

	consumerErr := make(chan error, 1)
	go func() {
		if err := s.consumer.Start(ctx); err != nil {
			consumerErr <- err
		}
	}()

	window := time.Duration(s.config.MQTT.ReconnectWindow) * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-consumerErr:
			return fmt.Errorf("consumer failed: %w", err)
		case err := <-s.bus.ConnectionLost():
			s.logger.Error("Bus connection lost, waiting for recovery",
				zap.Duration("window", window),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(window):
				if !s.bus.IsConnected() {
					return fmt.Errorf("bus connection not recovered within %s: %w", window, err)
				}
				s.logger.Info("Bus connection recovered")
			}
		}
	}
}

// Stop 停止服务并释放连接
func (s *AlertService) Stop() error {
	s.logger.Info("Stopping alert service")

	if s.bus.IsConnected() {
		s.consumer.Stop()
	}
	s.bus.Disconnect()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}
