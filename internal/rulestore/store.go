package rulestore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/models"
)

// Repository 规则存储访问接口
type Repository interface {
	// CheckUpdated 读取规则脏标记
	CheckUpdated(ctx context.Context) (bool, error)
	// ClearUpdated 清除规则脏标记
	ClearUpdated(ctx context.Context) error
	// LoadRules 一次性加载全部规则
	LoadRules(ctx context.Context) ([]models.Rule, error)
}

// Store 内存规则缓存
// 热路径上只检查脏标记，标记置位（或首次调用）时才整体重载；
// 重载失败保留上一份缓存。每条规则的 lastSentAt 冷却时间戳保存在
// 这里，重载不会重置冷却。
type Store struct {
	mu       sync.Mutex
	repo     Repository
	logger   *zap.Logger
	rules    []models.Rule
	lastSent map[int64]time.Time
	loaded   bool
}

// NewStore 创建规则缓存
func NewStore(repo Repository, logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		logger:   logger,
		lastSent: make(map[int64]time.Time),
	}
}

// RefreshIfNeeded 需要时重载规则
// 数据库不可达时记录日志并继续使用现有缓存，绝不让接收循环失败。
func (s *Store) RefreshIfNeeded(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		updated, err := s.repo.CheckUpdated(ctx)
		if err != nil {
			s.logger.Warn("Failed to check rule updated flag, keeping cached rules",
				zap.Error(err),
			)
			return
		}
		if !updated {
			return
		}
	}

	rules, err := s.repo.LoadRules(ctx)
	if err != nil {
		s.logger.Error("Failed to reload rules, keeping cached rules",
			zap.Error(err),
		)
		return
	}

	s.rules = rules
	s.loaded = true

	if err := s.repo.ClearUpdated(ctx); err != nil {
		s.logger.Warn("Failed to clear rule updated flag",
			zap.Error(err),
		)
	}

	s.logger.Info("Rules reloaded",
		zap.Int("rule_count", len(rules)),
	)
}

// Rules 返回当前缓存的规则快照
func (s *Store) Rules() []models.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := make([]models.Rule, len(s.rules))
	copy(rules, s.rules)
	return rules
}

// Find 按 ID 查找规则
func (s *Store) Find(ruleID int64) (models.Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rule := range s.rules {
		if rule.ID == ruleID {
			return rule, true
		}
	}
	return models.Rule{}, false
}

// LastSent 规则最近一次发送报警的时间
func (s *Store) LastSent(ruleID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.lastSent[ruleID]
	return t, ok
}

// MarkSent 记录规则发送报警的时间
func (s *Store) MarkSent(ruleID int64, sentAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSent[ruleID] = sentAt
}
