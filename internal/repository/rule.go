package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"picowatch-alert/internal/models"
)

// RuleRepository 规则仓库（规则、条件、消息模板与脏标记）
// 规则由外部编辑服务写入，这里只读；唯一的写操作是清除脏标记。
type RuleRepository struct {
	db      *sql.DB
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

// NewRuleRepository 创建规则仓库
func NewRuleRepository(db *sql.DB, logger *zap.Logger, retries int, backoff time.Duration) *RuleRepository {
	return &RuleRepository{
		db:      db,
		logger:  logger,
		retries: retries,
		backoff: backoff,
	}
}

// CheckUpdated 读取规则脏标记
func (r *RuleRepository) CheckUpdated(ctx context.Context) (bool, error) {
	var updated bool
	err := withRetry(ctx, r.logger, "check rule updated flag", r.retries, r.backoff, func() error {
		return r.db.QueryRowContext(ctx, `SELECT updated FROM rule_updates WHERE id = 1`).Scan(&updated)
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// ClearUpdated 清除规则脏标记
func (r *RuleRepository) ClearUpdated(ctx context.Context) error {
	return withRetry(ctx, r.logger, "clear rule updated flag", r.retries, r.backoff, func() error {
		_, err := r.db.ExecContext(ctx, `UPDATE rule_updates SET updated = FALSE WHERE id = 1`)
		return err
	})
}

// LoadRules 一次性重载全部规则及其房间条件和消息模板
func (r *RuleRepository) LoadRules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := withRetry(ctx, r.logger, "load rules", r.retries, r.backoff, func() error {
		loaded, err := r.loadRules(ctx)
		if err != nil {
			return err
		}
		rules = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *RuleRepository) loadRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, test_only
		FROM rules
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	index := make(map[int64]int)
	for rows.Next() {
		var rule models.Rule
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.TestOnly); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		index[rule.ID] = len(rules)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	if err := r.loadConditions(ctx, rules, index); err != nil {
		return nil, err
	}
	if err := r.loadMessages(ctx, rules, index); err != nil {
		return nil, err
	}

	return rules, nil
}

func (r *RuleRepository) loadConditions(ctx context.Context, rules []models.Rule, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rule_id, room_id, variable, lower_bound, upper_bound
		FROM rule_conditions
		ORDER BY rule_id, room_id
	`)
	if err != nil {
		return fmt.Errorf("query rule conditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ruleID     int64
			roomID     sql.NullString
			variable   string
			lowerBound float64
			upperBound float64
		)
		if err := rows.Scan(&ruleID, &roomID, &variable, &lowerBound, &upperBound); err != nil {
			return fmt.Errorf("scan rule condition: %w", err)
		}

		i, ok := index[ruleID]
		if !ok {
			continue
		}

		condition := models.VariableCondition{
			Variable:   models.ResolveVariable(variable),
			LowerBound: lowerBound,
			UpperBound: upperBound,
		}

		rule := &rules[i]
		room := findRoom(rule, roomID.String)
		room.Conditions = append(room.Conditions, condition)
	}
	return rows.Err()
}

func (r *RuleRepository) loadMessages(ctx context.Context, rules []models.Rule, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rule_id, authority, title, location, severity, summary
		FROM rule_messages
		ORDER BY rule_id, id
	`)
	if err != nil {
		return fmt.Errorf("query rule messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ruleID  int64
			message models.MessageTemplate
		)
		if err := rows.Scan(&ruleID, &message.Authority, &message.Title, &message.Location, &message.Severity, &message.Summary); err != nil {
			return fmt.Errorf("scan rule message: %w", err)
		}

		i, ok := index[ruleID]
		if !ok {
			continue
		}
		rules[i].Messages = append(rules[i].Messages, message)
	}
	return rows.Err()
}

// findRoom 取规则中某房间的条件组，不存在则追加
func findRoom(rule *models.Rule, roomID string) *models.RoomCondition {
	for i := range rule.Conditions {
		if rule.Conditions[i].RoomID == roomID {
			return &rule.Conditions[i]
		}
	}
	rule.Conditions = append(rule.Conditions, models.RoomCondition{RoomID: roomID})
	return &rule.Conditions[len(rule.Conditions)-1]
}
