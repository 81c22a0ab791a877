package harness

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/evaluator"
	"picowatch-alert/internal/models"
	"picowatch-alert/internal/rulestore"
)

// Repository 测试请求存储访问接口
type Repository interface {
	// PendingRequests 读取所有未处理的测试请求
	PendingRequests(ctx context.Context) ([]models.TestRequest, error)
	// WriteResult 写回一个测试请求的终态
	WriteResult(ctx context.Context, result models.TestResult) error
}

// Harness 规则测试执行器
// 外部编辑服务把临时测试请求写入数据库，活跃节点在每条遥测消息
// 处理完后取走并执行：full 模式跳过冷却重新评估条件，messages
// 模式无条件发布消息模板。每个请求只执行一次——结果写回失败时
// 记录日志放弃，进程内的已处理集合保证不会重跑。
type Harness struct {
	rules     *rulestore.Store
	requests  Repository
	evaluator *evaluator.Evaluator
	logger    *zap.Logger

	mu        sync.Mutex
	processed map[int64]struct{}
}

// NewHarness 创建测试执行器
func NewHarness(rules *rulestore.Store, requests Repository, eval *evaluator.Evaluator, logger *zap.Logger) *Harness {
	return &Harness{
		rules:     rules,
		requests:  requests,
		evaluator: eval,
		logger:    logger,
		processed: make(map[int64]struct{}),
	}
}

// ProcessPending 执行所有待处理的测试请求
func (h *Harness) ProcessPending(ctx context.Context, now time.Time) {
	pending, err := h.requests.PendingRequests(ctx)
	if err != nil {
		h.logger.Warn("Failed to load pending test requests",
			zap.Error(err),
		)
		return
	}

	for _, request := range pending {
		if !h.claim(request.ID) {
			continue
		}

		result := h.run(ctx, request)
		result.RequestID = request.ID
		result.CompletedAt = now

		if err := h.requests.WriteResult(ctx, result); err != nil {
			// 不重试：该次测试的结果丢失，但请求不会被重跑
			h.logger.Error("Failed to write test result, result lost",
				zap.Int64("request_id", request.ID),
				zap.String("result", result.Result),
				zap.Error(err),
			)
			continue
		}

		h.logger.Info("Test request completed",
			zap.Int64("request_id", request.ID),
			zap.Int64("rule_id", request.RuleID),
			zap.String("mode", request.Mode),
			zap.String("result", result.Result),
			zap.String("status", result.Status),
		)
	}
}

// claim 认领一个请求，已处理过的返回 false
func (h *Harness) claim(requestID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.processed[requestID]; done {
		return false
	}
	h.processed[requestID] = struct{}{}
	return true
}

// run 执行单个测试请求
func (h *Harness) run(ctx context.Context, request models.TestRequest) models.TestResult {
	rule, ok := h.rules.Find(request.RuleID)
	if !ok {
		h.logger.Warn("Test request references unknown rule",
			zap.Int64("request_id", request.ID),
			zap.Int64("rule_id", request.RuleID),
		)
		return models.TestResult{Result: models.TestResultRuleNotFound, Status: models.TestStatusFailure}
	}

	switch request.Mode {
	case models.TestModeFull:
		if h.evaluator.ConditionsMet(ctx, rule) {
			h.evaluator.PublishAlerts(ctx, rule)
			return models.TestResult{Result: models.TestResultConditionsMet, Status: models.TestStatusSuccess}
		}
		return models.TestResult{Result: models.TestResultConditionsNotMet, Status: models.TestStatusSuccess}

	case models.TestModeMessages:
		h.evaluator.PublishAlerts(ctx, rule)
		return models.TestResult{Result: models.TestResultMessagesSent, Status: models.TestStatusSuccess}

	default:
		h.logger.Warn("Test request has unknown mode",
			zap.Int64("request_id", request.ID),
			zap.String("mode", request.Mode),
		)
		return models.TestResult{Result: models.TestResultInvalidMode, Status: models.TestStatusFailure}
	}
}
