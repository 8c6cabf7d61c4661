package services

import (
	"context"
	"fmt"
	"strings"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LogNotificationDispatcher 把通知写入日志的缺省实现。
// 真实渠道（邮件/短信/webhook）由上层注入同接口的实现。
type LogNotificationDispatcher struct {
	logger *logrus.Logger
}

func NewLogNotificationDispatcher(logger *logrus.Logger) *LogNotificationDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogNotificationDispatcher{logger: logger}
}

func (d *LogNotificationDispatcher) Send(ctx context.Context, channel string, recipients []string, payload map[string]interface{}) error {
	d.logger.WithFields(logrus.Fields{
		"channel":    channel,
		"recipients": strings.Join(recipients, ","),
		"ticket_id":  payload["ticket_id"],
		"template":   payload["template"],
	}).Info("notification dispatched")
	return nil
}

// LoadBasedTeamResolver 按当前负载挑选团队内客服：
// 优先在线且未满载者，按 current_load 升序取第一个。
type LoadBasedTeamResolver struct {
	db *gorm.DB
}

func NewLoadBasedTeamResolver(db *gorm.DB) *LoadBasedTeamResolver {
	return &LoadBasedTeamResolver{db: db}
}

func (r *LoadBasedTeamResolver) ResolveAssignee(ctx context.Context, tenantID, teamID uint) (uint, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND team_id = ? AND status = ? AND current_load < max_concurrent", tenantID, teamID, "online").
		Order("current_load ASC").
		First(&agent).Error
	if err == gorm.ErrRecordNotFound {
		// 全员离线/满载时退化为团队内任意成员
		err = r.db.WithContext(ctx).
			Where("tenant_id = ? AND team_id = ?", tenantID, teamID).
			Order("current_load ASC").
			First(&agent).Error
	}
	if err == gorm.ErrRecordNotFound {
		return 0, fmt.Errorf("team %d has no agents: %w", teamID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve assignee: %w", err)
	}
	return agent.UserID, nil
}
