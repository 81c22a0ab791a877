package models

import "time"

// VariableKind 条件变量类别
type VariableKind int

const (
	VariableOccupancy   VariableKind = iota // 房间计数变量（luggage/users/staff/guard）
	VariableEnvironment                     // 环境属性变量（sound/light/temperature/IAQ/pressure/humidity）
)

// Variable 已解析的条件变量（规则加载时解析一次，评估时不再做字符串比较）
type Variable struct {
	Kind       VariableKind
	Occupancy  DeviceType // Kind == VariableOccupancy 时有效
	Attribute  string     // Kind == VariableEnvironment 时有效
	SourceName string     // 数据库中的原始变量名
}

// ResolveVariable 将数据库中的变量名解析为 Variable
// 非房间计数名称一律按环境属性处理；未知属性在评估时表现为传感器缺数据。
func ResolveVariable(name string) Variable {
	if deviceType, ok := DeviceTypeByName(name); ok {
		return Variable{
			Kind:       VariableOccupancy,
			Occupancy:  deviceType,
			SourceName: name,
		}
	}
	return Variable{
		Kind:       VariableEnvironment,
		Attribute:  name,
		SourceName: name,
	}
}

// VariableCondition 单个变量的上下界条件
type VariableCondition struct {
	Variable   Variable
	LowerBound float64
	UpperBound float64
}

// RoomCondition 一个房间的条件组（组内 AND）
type RoomCondition struct {
	RoomID     string
	Conditions []VariableCondition
}

// MessageTemplate 规则触发时发布的消息模板
type MessageTemplate struct {
	Authority string `json:"-"`
	Title     string `json:"Title"`
	Location  string `json:"Location"`
	Severity  string `json:"Severity"`
	Summary   string `json:"Summary"`
}

// Rule 报警规则（整体从数据库重载，内存中不做部分修改）
type Rule struct {
	ID         int64
	Name       string
	TestOnly   bool
	Conditions []RoomCondition
	Messages   []MessageTemplate
}

// AlertMessage 发布到报警主题的载荷
type AlertMessage struct {
	Title    string `json:"Title"`
	Location string `json:"Location"`
	Severity string `json:"Severity"`
	Summary  string `json:"Summary"`
	RuleID   int64  `json:"ID"`
}

// TestRequest 规则测试请求（由外部编辑服务写入，状态 'not done'）
type TestRequest struct {
	ID          int64
	RuleID      int64
	Mode        string // "full" 或 "messages"
	RequestedBy string
}

// 测试请求的模式与终态
const (
	TestModeFull     = "full"
	TestModeMessages = "messages"

	TestResultConditionsMet    = "conditions_met"
	TestResultConditionsNotMet = "conditions_not_met"
	TestResultMessagesSent     = "messages_sent"
	TestResultRuleNotFound     = "rule_not_found"
	TestResultInvalidMode      = "invalid_mode"

	TestStatusSuccess = "success"
	TestStatusFailure = "failure"
)

// TestResult 写回数据库的测试结果
type TestResult struct {
	RequestID   int64
	Result      string
	Status      string
	CompletedAt time.Time
}
