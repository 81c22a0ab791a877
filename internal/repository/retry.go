package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// withRetry 以固定退避重试一个数据库操作
// 重试耗尽后返回最后一次错误，由调用方回退到已有内存状态。
func withRetry(ctx context.Context, logger *zap.Logger, op string, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		logger.Warn("Store operation failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
