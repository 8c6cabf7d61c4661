package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TenantID  uint           `gorm:"index" json:"tenant_id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'customer'" json:"role"` // customer, agent, admin
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive, banned
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 客服代理
type Agent struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	TenantID      uint           `gorm:"index" json:"tenant_id"`
	UserID        uint           `gorm:"index" json:"user_id"`
	TeamID        *uint          `gorm:"index" json:"team_id"`
	Department    string         `json:"department"`
	Skills        string         `json:"skills"`                          // 技能标签，逗号分隔
	Status        string         `gorm:"default:'offline'" json:"status"` // online, offline, busy
	MaxConcurrent int            `gorm:"default:5" json:"max_concurrent"` // 最大并发工单数
	CurrentLoad   int            `gorm:"default:0" json:"current_load"`   // 当前工单数
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	User User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Team *Team `gorm:"foreignKey:TeamID" json:"team,omitempty"`
}

// 团队，路由/升级动作的分配目标
type Team struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TenantID  uint           `gorm:"index" json:"tenant_id"`
	Name      string         `gorm:"not null" json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Agents []Agent `gorm:"foreignKey:TeamID" json:"agents,omitempty"`
}

// 工单模型
type Ticket struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	TenantID        uint           `gorm:"index" json:"tenant_id"`
	Title           string         `gorm:"not null" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	CustomerID      uint           `gorm:"index" json:"customer_id"`
	AssignedAgentID *uint          `gorm:"index" json:"assigned_agent_id"`
	Category        string         `json:"category"`                         // technical, billing, general, complaint
	Priority        string         `gorm:"default:'normal'" json:"priority"` // low, normal, high, urgent, critical
	Status          string         `gorm:"default:'open'" json:"status"`     // open, assigned, in_progress, resolved, closed
	Source          string         `json:"source"`                           // web, email, phone, chat
	Tags            string         `gorm:"type:text" json:"tags"`            // JSON 字符串数组
	CustomFields    string         `gorm:"type:text" json:"custom_fields"`   // JSON 对象
	UnresolvedSince *time.Time     `json:"unresolved_since"`
	ResolvedAt      *time.Time     `json:"resolved_at"`
	ClosedAt        *time.Time     `json:"closed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Customer User  `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Agent    *User `gorm:"foreignKey:AssignedAgentID" json:"agent,omitempty"`
}

// TagList 解析 tags 列；空列或坏数据返回空切片
func (t *Ticket) TagList() []string {
	if t.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(t.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

// CustomFieldMap 解析 custom_fields 列
func (t *Ticket) CustomFieldMap() map[string]interface{} {
	if t.CustomFields == "" {
		return nil
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal([]byte(t.CustomFields), &fields); err != nil {
		return nil
	}
	return fields
}

// EncodeTags 序列化标签集合，保序
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
