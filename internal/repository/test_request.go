package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/models"
)

// TestRequestRepository 规则测试请求仓库
// 请求由外部编辑服务以状态 'not done' 写入，这里读取并写回终态。
type TestRequestRepository struct {
	db      *sql.DB
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

// NewTestRequestRepository 创建测试请求仓库
func NewTestRequestRepository(db *sql.DB, logger *zap.Logger, retries int, backoff time.Duration) *TestRequestRepository {
	return &TestRequestRepository{
		db:      db,
		logger:  logger,
		retries: retries,
		backoff: backoff,
	}
}

// PendingRequests 读取所有未处理的测试请求
func (r *TestRequestRepository) PendingRequests(ctx context.Context) ([]models.TestRequest, error) {
	var requests []models.TestRequest
	err := withRetry(ctx, r.logger, "load pending test requests", r.retries, r.backoff, func() error {
		loaded, err := r.pendingRequests(ctx)
		if err != nil {
			return err
		}
		requests = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *TestRequestRepository) pendingRequests(ctx context.Context) ([]models.TestRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, mode, requested_by
		FROM rule_tests
		WHERE status = 'not done'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending test requests: %w", err)
	}
	defer rows.Close()

	var requests []models.TestRequest
	for rows.Next() {
		var (
			request     models.TestRequest
			requestedBy sql.NullString
		)
		if err := rows.Scan(&request.ID, &request.RuleID, &request.Mode, &requestedBy); err != nil {
			return nil, fmt.Errorf("scan test request: %w", err)
		}
		request.RequestedBy = requestedBy.String
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// WriteResult 写回一个测试请求的终态
// 每个请求只写一次，失败不重试（该次测试记为失败并记录日志）。
func (r *TestRequestRepository) WriteResult(ctx context.Context, result models.TestResult) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rule_tests
		SET result = $1, status = $2, completed_at = $3
		WHERE id = $4
	`, result.Result, result.Status, result.CompletedAt, result.RequestID)
	if err != nil {
		return fmt.Errorf("write test result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("write test result: request %d not found", result.RequestID)
	}
	return nil
}
