package services

import (
	"context"
	"fmt"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// externalCallTimeout 限定团队解析、通知下发等外呼
const externalCallTimeout = 5 * time.Second

// ActionResult 单个动作的执行结果；动作失败被记录而非抛出
type ActionResult struct {
	ActionType string    `json:"action_type"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	AppliedAt  time.Time `json:"applied_at"`
}

// TeamResolver 把团队分配解析为具体客服用户
type TeamResolver interface {
	ResolveAssignee(ctx context.Context, tenantID, teamID uint) (uint, error)
}

// NotificationDispatcher 尽力而为的通知外发
type NotificationDispatcher interface {
	Send(ctx context.Context, channel string, recipients []string, payload map[string]interface{}) error
}

// ActionExecutor 按列表顺序执行规则动作，逐动作故障隔离
type ActionExecutor struct {
	db       *gorm.DB
	logger   *logrus.Logger
	teams    TeamResolver
	notifier NotificationDispatcher
}

func NewActionExecutor(db *gorm.DB, logger *logrus.Logger, teams TeamResolver, notifier NotificationDispatcher) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionExecutor{db: db, logger: logger, teams: teams, notifier: notifier}
}

// Execute 顺序执行全部动作。失败的动作记入结果，不中断后续动作。
// 标签集合在本次调用内演进（同一规则里连续 add_tag 彼此可见），
// 但不回写传入的快照工单。
func (e *ActionExecutor) Execute(ctx context.Context, actions []models.Action, ticket *models.Ticket) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	tags := ticket.TagList()

	for _, act := range actions {
		err := e.applyAction(ctx, act, ticket, &tags)
		result := ActionResult{
			ActionType: act.Type,
			Success:    err == nil,
			AppliedAt:  time.Now(),
		}
		if err != nil {
			result.Error = err.Error()
			e.logger.Warnf("action %s on ticket %d failed: %v", act.Type, ticket.ID, err)
		}
		results = append(results, result)
	}
	return results
}

func (e *ActionExecutor) applyAction(ctx context.Context, act models.Action, ticket *models.Ticket, tags *[]string) error {
	switch act.Type {
	case models.ActionAssignToUser:
		userID, ok := paramUint(act.Params, "userId")
		if !ok {
			return fmt.Errorf("userId param required")
		}
		// 只写 assigned_agent_id；状态流转交给显式的 set_status 动作
		return e.patchTicket(ctx, ticket.ID, map[string]interface{}{
			"assigned_agent_id": userID,
		})

	case models.ActionAssignToTeam:
		teamID, ok := paramUint(act.Params, "teamId")
		if !ok {
			return fmt.Errorf("teamId param required")
		}
		if e.teams == nil {
			return fmt.Errorf("team resolver not configured")
		}
		callCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
		defer cancel()
		userID, err := e.teams.ResolveAssignee(callCtx, ticket.TenantID, teamID)
		if err != nil {
			return fmt.Errorf("resolve team %d: %w", teamID, err)
		}
		return e.patchTicket(ctx, ticket.ID, map[string]interface{}{
			"assigned_agent_id": userID,
		})

	case models.ActionSetPriority:
		priority, _ := act.Params["priority"].(string)
		if priority == "" {
			return fmt.Errorf("priority param required")
		}
		return e.patchTicket(ctx, ticket.ID, map[string]interface{}{"priority": priority})

	case models.ActionSetStatus:
		status, _ := act.Params["status"].(string)
		if status == "" {
			return fmt.Errorf("status param required")
		}
		return e.patchTicket(ctx, ticket.ID, map[string]interface{}{"status": status})

	case models.ActionAddTag:
		tag, _ := act.Params["tag"].(string)
		if tag == "" {
			return fmt.Errorf("tag param required")
		}
		for _, existing := range *tags {
			if existing == tag {
				return nil // 幂等
			}
		}
		*tags = append(*tags, tag)
		return e.patchTicket(ctx, ticket.ID, map[string]interface{}{"tags": models.EncodeTags(*tags)})

	case models.ActionRemoveTag:
		tag, _ := act.Params["tag"].(string)
		if tag == "" {
			return fmt.Errorf("tag param required")
		}
		kept := (*tags)[:0]
		for _, existing := range *tags {
			if existing != tag {
				kept = append(kept, existing)
			}
		}
		*tags = kept
		return e.patchTicket(ctx, ticket.ID, map[string]interface{}{"tags": models.EncodeTags(*tags)})

	case models.ActionSendNotification:
		if e.notifier == nil {
			return fmt.Errorf("notification dispatcher not configured")
		}
		channel, _ := act.Params["channel"].(string)
		template, _ := act.Params["template"].(string)
		recipients := paramStrings(act.Params, "recipients")
		callCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
		defer cancel()
		payload := map[string]interface{}{
			"ticket_id": ticket.ID,
			"tenant_id": ticket.TenantID,
			"template":  template,
			"title":     ticket.Title,
			"priority":  ticket.Priority,
		}
		if err := e.notifier.Send(callCtx, channel, recipients, payload); err != nil {
			return fmt.Errorf("dispatch notification: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported action type: %s", act.Type)
	}
}

func (e *ActionExecutor) patchTicket(ctx context.Context, ticketID uint, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := e.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ticket %d: %w", ticketID, ErrNotFound)
	}
	return nil
}

// paramUint 容忍 JSON 解码后的数字形态（float64）与字符串数字
func paramUint(params map[string]interface{}, key string) (uint, bool) {
	switch v := params[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case string:
		var n uint
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func paramStrings(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
