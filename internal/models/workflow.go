package models

import (
	"encoding/json"
	"time"
)

// 工作流规则类型
const (
	RuleTypeRouting      = "routing"
	RuleTypeEscalation   = "escalation"
	RuleTypeNotification = "notification"
	RuleTypeCustom       = "custom"
)

// 执行状态
const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// WorkflowRule 工作流规则定义
// Conditions/Actions/Triggers 以 JSON 文本持久化，规则评估时解析一次。
type WorkflowRule struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TenantID       uint       `gorm:"index" json:"tenant_id"`
	Name           string     `gorm:"not null" json:"name"`
	Type           string     `gorm:"not null" json:"type"`     // routing, escalation, notification, custom
	Priority       int        `gorm:"default:0" json:"priority"` // 越大越先执行
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	Conditions     string     `gorm:"type:text" json:"conditions"` // JSON: [{field,operator,value}]
	Actions        string     `gorm:"type:text" json:"actions"`    // JSON: [{type,params}]
	Triggers       string     `gorm:"type:text" json:"triggers"`   // JSON: ["ticket.created", ...]
	Schedule       string     `gorm:"type:text" json:"schedule"`   // 可选 JSON 周期定义
	Metadata       string     `gorm:"type:text" json:"metadata"`
	ExecutionCount int64      `gorm:"default:0" json:"execution_count"`
	LastExecuted   *time.Time `json:"last_executed"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TriggerList 解析触发事件列表
func (r *WorkflowRule) TriggerList() []string {
	if r.Triggers == "" {
		return nil
	}
	var triggers []string
	if err := json.Unmarshal([]byte(r.Triggers), &triggers); err != nil {
		return nil
	}
	return triggers
}

// TriggeredBy 判断规则是否订阅了该事件
func (r *WorkflowRule) TriggeredBy(event string) bool {
	for _, t := range r.TriggerList() {
		if t == event {
			return true
		}
	}
	return false
}

// RoutingRule 路由规则：首个匹配者胜出
type RoutingRule struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    uint       `gorm:"index" json:"tenant_id"`
	Name        string     `gorm:"not null" json:"name"`
	Priority    int        `gorm:"default:0" json:"priority"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	Conditions  string     `gorm:"type:text" json:"conditions"`
	Actions     string     `gorm:"type:text" json:"actions"`
	MatchCount  int64      `gorm:"default:0" json:"match_count"`
	LastMatched *time.Time `json:"last_matched"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AssignTarget 升级步骤的分配目标
type AssignTarget struct {
	Type string `json:"type"` // user, team
	ID   uint   `json:"id"`
}

// NotificationSpec 升级步骤的通知定义
type NotificationSpec struct {
	Channel    string   `json:"channel"` // email, sms, webhook, log
	Recipients []string `json:"recipients"`
	Template   string   `json:"template"`
}

// EscalationStep 升级路径中的一个有序步骤
type EscalationStep struct {
	Level         int                `json:"level"`
	DelayMinutes  int                `json:"delay_minutes"`
	AssignTarget  *AssignTarget      `json:"assign_target,omitempty"`
	Notifications []NotificationSpec `json:"notifications,omitempty"`
}

// EscalationPath 升级路径：有序定时步骤
// 不变式：每租户最多一个 is_default=true 的路径。
type EscalationPath struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"index" json:"tenant_id"`
	Name       string    `gorm:"not null" json:"name"`
	Steps      string    `gorm:"type:text" json:"steps"`      // JSON: [EscalationStep]
	Conditions string    `gorm:"type:text" json:"conditions"` // 门控条件
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	IsDefault  bool      `gorm:"default:false;index" json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StepList 解析步骤列表
func (p *EscalationPath) StepList() []EscalationStep {
	if p.Steps == "" {
		return nil
	}
	var steps []EscalationStep
	if err := json.Unmarshal([]byte(p.Steps), &steps); err != nil {
		return nil
	}
	return steps
}

// EscalationEvent 已触发的升级步骤记录，保证每 (ticket, path, level) 只触发一次
type EscalationEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"index" json:"tenant_id"`
	PathID    uint      `gorm:"index:idx_escalation_fired,unique" json:"path_id"`
	TicketID  uint      `gorm:"index:idx_escalation_fired,unique" json:"ticket_id"`
	Level     int       `gorm:"index:idx_escalation_fired,unique" json:"level"`
	FiredAt   time.Time `json:"fired_at"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowExecution 工作流执行审计记录
type WorkflowExecution struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ExecutionID   string     `gorm:"uniqueIndex;size:36" json:"execution_id"`
	WorkflowID    uint       `gorm:"index" json:"workflow_id"`
	TicketID      uint       `gorm:"index" json:"ticket_id"`
	TriggeredBy   uint       `json:"triggered_by"`
	Status        string     `gorm:"index" json:"status"` // pending, running, completed, failed
	InputSnapshot string     `gorm:"type:text" json:"input_snapshot"`
	ActionResults string     `gorm:"type:text" json:"action_results"` // JSON: [ActionResult]
	Error         string     `gorm:"type:text" json:"error"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	DurationMS    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Workflow WorkflowRule `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
}

// 周期频率
const (
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
)

// RecurringSchedule 周期触发定义
// 失败不暂停调度：只更新 last_status/last_error/run_count，next_run 总会重算。
type RecurringSchedule struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TenantID   uint       `gorm:"index" json:"tenant_id"`
	Name       string     `gorm:"not null" json:"name"`
	WorkflowID uint       `gorm:"index" json:"workflow_id"`
	Frequency  string     `gorm:"not null" json:"frequency"` // daily, weekly, monthly, quarterly
	DayOfWeek  int        `json:"day_of_week"`               // 0=Sunday, weekly 时生效
	DayOfMonth int        `json:"day_of_month"`              // monthly 时生效
	TimeOfDay  string     `gorm:"not null" json:"time_of_day"` // "15:04"
	Timezone   string     `gorm:"default:'UTC'" json:"timezone"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	NextRun    *time.Time `gorm:"index" json:"next_run"`
	LastRun    *time.Time `json:"last_run"`
	LastStatus string     `json:"last_status"` // success, failed
	LastError  string     `gorm:"type:text" json:"last_error"`
	RunCount   int64      `gorm:"default:0" json:"run_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Workflow WorkflowRule `gorm:"foreignKey:WorkflowID" json:"workflow,omitempty"`
}
