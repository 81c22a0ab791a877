package repository

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// BootstrapRepository 节点启动标记
// 标记持久化在数据库中，容器重建后仍然有效：
// 只有整个系统第一个启动的节点才以活跃状态上线，后续节点都从
// 非活跃开始，等待心跳静默后竞选。
type BootstrapRepository struct {
	db      *sql.DB
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

// NewBootstrapRepository 创建启动标记仓库
func NewBootstrapRepository(db *sql.DB, logger *zap.Logger, retries int, backoff time.Duration) *BootstrapRepository {
	return &BootstrapRepository{
		db:      db,
		logger:  logger,
		retries: retries,
		backoff: backoff,
	}
}

// FirstRun 记录本节点启动，返回在此之前是否从未有节点启动过
func (r *BootstrapRepository) FirstRun(ctx context.Context, nodeID string) (bool, error) {
	var first bool
	err := withRetry(ctx, r.logger, "record node bootstrap", r.retries, r.backoff, func() error {
		var count int
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_bootstrap`).Scan(&count); err != nil {
			return err
		}
		first = count == 0

		_, err := r.db.ExecContext(ctx, `
			INSERT INTO node_bootstrap (node_id, started_at)
			VALUES ($1, $2)
			ON CONFLICT (node_id) DO NOTHING
		`, nodeID, time.Now())
		return err
	})
	if err != nil {
		return false, err
	}
	return first, nil
}
