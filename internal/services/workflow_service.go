package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deskflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// WorkflowService 工作流引擎：事件驱动的规则匹配与动作执行
type WorkflowService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	executor *ActionExecutor
	bus      EventBus
}

func NewWorkflowService(db *gorm.DB, logger *logrus.Logger, executor *ActionExecutor, bus EventBus) *WorkflowService {
	if logger == nil {
		logger = logrus.New()
	}
	return &WorkflowService{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("deskflow.workflow"),
		executor: executor,
		bus:      bus,
	}
}

// WorkflowRuleRequest 创建/更新规则的请求
type WorkflowRuleRequest struct {
	Name       string               `json:"name" binding:"required"`
	Type       string               `json:"type" binding:"required"` // routing, escalation, notification, custom
	Priority   int                  `json:"priority"`
	IsActive   *bool                `json:"is_active"`
	Conditions []models.Condition   `json:"conditions"`
	Actions    []models.Action      `json:"actions"`
	Triggers   []string             `json:"triggers" binding:"required"`
	Schedule   *RuleScheduleRequest `json:"schedule"`
	Metadata   map[string]string    `json:"metadata"`
}

// RuleScheduleRequest 规则上的内联周期定义。
// 创建规则时物化为一条 RecurringSchedule；之后的编辑也同步回该计划。
type RuleScheduleRequest struct {
	Frequency  string `json:"frequency"`
	DayOfWeek  int    `json:"day_of_week"`
	DayOfMonth int    `json:"day_of_month"`
	TimeOfDay  string `json:"time_of_day"`
	Timezone   string `json:"timezone"`
}

func (r *RuleScheduleRequest) recurrence() Recurrence {
	return Recurrence{
		Frequency:  r.Frequency,
		DayOfWeek:  r.DayOfWeek,
		DayOfMonth: r.DayOfMonth,
		TimeOfDay:  r.TimeOfDay,
		Timezone:   r.Timezone,
	}
}

var validRuleTypes = map[string]bool{
	models.RuleTypeRouting:      true,
	models.RuleTypeEscalation:   true,
	models.RuleTypeNotification: true,
	models.RuleTypeCustom:       true,
}

func (s *WorkflowService) validateRuleRequest(req *WorkflowRuleRequest) error {
	if req == nil {
		return fmt.Errorf("request required")
	}
	if !validRuleTypes[req.Type] {
		return fmt.Errorf("invalid rule type: %s", req.Type)
	}
	if len(req.Triggers) == 0 {
		return fmt.Errorf("at least one trigger event required")
	}
	if req.Schedule != nil {
		if err := ValidateRecurrence(req.Schedule.recurrence()); err != nil {
			return err
		}
	}
	if err := models.ValidateConditions(req.Conditions); err != nil {
		return err
	}
	return models.ValidateActions(req.Actions)
}

// CreateRule 创建工作流规则；操作符/动作类型只在此处校验
func (s *WorkflowService) CreateRule(ctx context.Context, tenantID uint, req *WorkflowRuleRequest) (*models.WorkflowRule, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.create_rule")
	defer span.End()

	if err := s.validateRuleRequest(req); err != nil {
		return nil, err
	}

	condJSON, _ := json.Marshal(req.Conditions)
	actJSON, _ := json.Marshal(req.Actions)
	trigJSON, _ := json.Marshal(req.Triggers)
	metaJSON, _ := json.Marshal(req.Metadata)

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &models.WorkflowRule{
		TenantID:   tenantID,
		Name:       req.Name,
		Type:       req.Type,
		Priority:   req.Priority,
		IsActive:   active,
		Conditions: string(condJSON),
		Actions:    string(actJSON),
		Triggers:   string(trigJSON),
		Metadata:   string(metaJSON),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if req.Schedule != nil {
		schedJSON, _ := json.Marshal(req.Schedule)
		rule.Schedule = string(schedJSON)
	}

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create workflow rule: %w", err)
	}

	if req.Schedule != nil {
		if err := s.materializeSchedule(ctx, rule, req.Schedule); err != nil {
			s.logger.Warnf("workflow: materialize schedule for rule %d: %v", rule.ID, err)
		}
	}

	span.SetAttributes(attribute.Int64("workflow.rule.id", int64(rule.ID)))
	s.logger.Infof("Created workflow rule: id=%d, name=%s, type=%s", rule.ID, rule.Name, rule.Type)

	if s.bus != nil {
		s.bus.Publish(ctx, Event{
			Name:     EventWorkflowRuleCreated,
			TenantID: tenantID,
			Payload:  map[string]interface{}{"rule_id": rule.ID, "name": rule.Name},
		})
	}
	return rule, nil
}

// materializeSchedule 把规则上的内联周期定义落成 RecurringSchedule。
// 规则已有计划时更新其时序并重算 next_run，否则新建一条。
func (s *WorkflowService) materializeSchedule(ctx context.Context, rule *models.WorkflowRule, spec *RuleScheduleRequest) error {
	next, err := NextRun(spec.recurrence(), time.Now())
	if err != nil {
		return err
	}
	tz := spec.Timezone
	if tz == "" {
		tz = "UTC"
	}

	var sched models.RecurringSchedule
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND workflow_id = ?", rule.TenantID, rule.ID).
		First(&sched).Error
	if err == gorm.ErrRecordNotFound {
		sched = models.RecurringSchedule{
			TenantID:   rule.TenantID,
			Name:       rule.Name,
			WorkflowID: rule.ID,
			IsActive:   rule.IsActive,
			CreatedAt:  time.Now(),
		}
	} else if err != nil {
		return fmt.Errorf("load schedule for rule %d: %w", rule.ID, err)
	}

	sched.Frequency = spec.Frequency
	sched.DayOfWeek = spec.DayOfWeek
	sched.DayOfMonth = spec.DayOfMonth
	sched.TimeOfDay = spec.TimeOfDay
	sched.Timezone = tz
	sched.NextRun = &next
	sched.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&sched).Error; err != nil {
		return fmt.Errorf("save schedule for rule %d: %w", rule.ID, err)
	}
	return nil
}

// GetRule 读取规则并做租户归属检查
func (s *WorkflowService) GetRule(ctx context.Context, tenantID, id uint) (*models.WorkflowRule, error) {
	var rule models.WorkflowRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("workflow rule %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get workflow rule: %w", err)
	}
	if rule.TenantID != tenantID {
		return nil, fmt.Errorf("workflow rule %d: %w", id, ErrAccessDenied)
	}
	return &rule, nil
}

// ListRules 按优先级降序列出租户规则
func (s *WorkflowService) ListRules(ctx context.Context, tenantID uint) ([]models.WorkflowRule, error) {
	var rules []models.WorkflowRule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority DESC, created_at DESC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list workflow rules: %w", err)
	}
	return rules, nil
}

// UpdateRule 全量更新规则定义
func (s *WorkflowService) UpdateRule(ctx context.Context, tenantID, id uint, req *WorkflowRuleRequest) (*models.WorkflowRule, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.update_rule")
	defer span.End()

	rule, err := s.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validateRuleRequest(req); err != nil {
		return nil, err
	}

	condJSON, _ := json.Marshal(req.Conditions)
	actJSON, _ := json.Marshal(req.Actions)
	trigJSON, _ := json.Marshal(req.Triggers)
	metaJSON, _ := json.Marshal(req.Metadata)

	rule.Name = req.Name
	rule.Type = req.Type
	rule.Priority = req.Priority
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.Conditions = string(condJSON)
	rule.Actions = string(actJSON)
	rule.Triggers = string(trigJSON)
	rule.Metadata = string(metaJSON)
	if req.Schedule != nil {
		schedJSON, _ := json.Marshal(req.Schedule)
		rule.Schedule = string(schedJSON)
	}
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update workflow rule: %w", err)
	}
	if req.Schedule != nil {
		if err := s.materializeSchedule(ctx, rule, req.Schedule); err != nil {
			s.logger.Warnf("workflow: materialize schedule for rule %d: %v", rule.ID, err)
		}
	}
	return rule, nil
}

// DeleteRule 删除规则
func (s *WorkflowService) DeleteRule(ctx context.Context, tenantID, id uint) error {
	if _, err := s.GetRule(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.WorkflowRule{}, id).Error; err != nil {
		return fmt.Errorf("delete workflow rule: %w", err)
	}
	// 连带清理指向该规则的周期计划，避免计划空转
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND workflow_id = ?", tenantID, id).
		Delete(&models.RecurringSchedule{}).Error; err != nil {
		s.logger.Warnf("workflow: delete schedules for rule %d: %v", id, err)
	}
	s.logger.Infof("Deleted workflow rule: id=%d", id)
	return nil
}

// HandleEvent 对一个 (事件, 工单) 组合跑完所有激活规则。
// 工单只取一次，作为本次调用内所有规则共享的快照；多条规则可同时命中。
// 只有工单不存在时报错，其余情况总是返回执行记录列表。
func (s *WorkflowService) HandleEvent(ctx context.Context, tenantID, ticketID uint, event string, actorID uint) ([]models.WorkflowExecution, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.handle_event")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("workflow.ticket_id", int64(ticketID)),
		attribute.String("workflow.event", event),
	)

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&ticket, ticketID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("ticket %d: %w", ticketID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch ticket: %w", err)
	}
	snapshot := TicketSnapshot(&ticket)

	var rules []models.WorkflowRule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("priority DESC, created_at DESC").
		Find(&rules).Error; err != nil {
		s.logger.Warnf("workflow: load rules failed: %v", err)
		return []models.WorkflowExecution{}, nil
	}

	executions := make([]models.WorkflowExecution, 0)
	for _, rule := range rules {
		if !rule.TriggeredBy(event) {
			continue
		}
		conds, err := models.ParseConditions(rule.Conditions)
		if err != nil {
			s.logger.Warnf("workflow: invalid conditions for rule %d: %v", rule.ID, err)
			continue
		}
		if !EvaluateConditions(conds, snapshot) {
			continue // 未命中不留执行记录
		}
		exec := s.runRule(ctx, &rule, &ticket, snapshot, actorID)
		if exec != nil {
			executions = append(executions, *exec)
		}
	}

	span.SetAttributes(attribute.Int("workflow.executions", len(executions)))
	return executions, nil
}

// runRule 执行单条命中的规则并维护其执行记录与计数器
func (s *WorkflowService) runRule(ctx context.Context, rule *models.WorkflowRule, ticket *models.Ticket, snapshot map[string]interface{}, actorID uint) *models.WorkflowExecution {
	started := time.Now()
	snapJSON, _ := json.Marshal(snapshot)

	exec := &models.WorkflowExecution{
		ExecutionID:   uuid.NewString(),
		WorkflowID:    rule.ID,
		TicketID:      ticket.ID,
		TriggeredBy:   actorID,
		Status:        models.ExecutionRunning,
		InputSnapshot: string(snapJSON),
		StartedAt:     started,
		CreatedAt:     started,
		UpdatedAt:     started,
	}
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		s.logger.Errorf("workflow: create execution for rule %d failed: %v", rule.ID, err)
		return nil
	}

	actions, err := models.ParseActions(rule.Actions)
	var results []ActionResult
	if err != nil {
		exec.Status = models.ExecutionFailed
		exec.Error = fmt.Sprintf("invalid actions: %v", err)
	} else {
		results = s.executor.Execute(ctx, actions, ticket)
		exec.Status = executionStatus(results)
	}

	resJSON, _ := json.Marshal(results)
	completed := time.Now()
	exec.ActionResults = string(resJSON)
	exec.CompletedAt = &completed
	exec.DurationMS = completed.Sub(started).Milliseconds()
	exec.UpdatedAt = completed
	if err := s.db.WithContext(ctx).Save(exec).Error; err != nil {
		s.logger.Errorf("workflow: update execution %s failed: %v", exec.ExecutionID, err)
	}

	// 计数器在存储层原子自增，不同工单并发命中同一规则也不丢计数
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.WorkflowRule{}).
		Where("id = ?", rule.ID).
		UpdateColumns(map[string]interface{}{
			"execution_count": gorm.Expr("execution_count + 1"),
			"last_executed":   now,
		}).Error; err != nil {
		s.logger.Warnf("workflow: bump execution count for rule %d failed: %v", rule.ID, err)
	}

	s.logger.Infof("workflow: rule %s executed on ticket %d (status=%s)", rule.Name, ticket.ID, exec.Status)
	if s.bus != nil {
		s.bus.Publish(ctx, Event{
			Name:     EventWorkflowExecuted,
			TenantID: ticket.TenantID,
			TicketID: ticket.ID,
			ActorID:  actorID,
			Payload: map[string]interface{}{
				"execution_id": exec.ExecutionID,
				"workflow_id":  rule.ID,
				"status":       exec.Status,
			},
		})
	}
	return exec
}

// executionStatus 固定策略：只要引擎跑完动作列表即 completed；
// 全部动作失败才记 failed。部分失败在各 ActionResult 里可见。
func executionStatus(results []ActionResult) string {
	if len(results) == 0 {
		return models.ExecutionCompleted
	}
	for _, r := range results {
		if r.Success {
			return models.ExecutionCompleted
		}
	}
	return models.ExecutionFailed
}

// ListExecutions 按工单或规则查询执行历史
func (s *WorkflowService) ListExecutions(ctx context.Context, tenantID uint, ticketID, workflowID *uint, limit int) ([]models.WorkflowExecution, error) {
	query := s.db.WithContext(ctx).Model(&models.WorkflowExecution{}).
		Joins("JOIN workflow_rules ON workflow_rules.id = workflow_executions.workflow_id").
		Where("workflow_rules.tenant_id = ?", tenantID)
	if ticketID != nil {
		query = query.Where("workflow_executions.ticket_id = ?", *ticketID)
	}
	if workflowID != nil {
		query = query.Where("workflow_executions.workflow_id = ?", *workflowID)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var execs []models.WorkflowExecution
	if err := query.Order("workflow_executions.started_at DESC").Limit(limit).Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// SubscribeTo 把引擎挂到事件总线的若干工单事件上
func (s *WorkflowService) SubscribeTo(bus EventBus, events ...string) {
	for _, name := range events {
		event := name
		bus.Subscribe(event, func(ctx context.Context, evt Event) {
			if _, err := s.HandleEvent(ctx, evt.TenantID, evt.TicketID, event, evt.ActorID); err != nil {
				s.logger.Warnf("workflow: handle %s for ticket %d: %v", event, evt.TicketID, err)
			}
		})
	}
}
