package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// EscalationService 升级路径管理：CRUD、默认路径不变式、到期步骤触发
type EscalationService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	executor *ActionExecutor
	bus      EventBus
}

func NewEscalationService(db *gorm.DB, logger *logrus.Logger, executor *ActionExecutor, bus EventBus) *EscalationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &EscalationService{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("deskflow.escalation"),
		executor: executor,
		bus:      bus,
	}
}

// EscalationPathRequest 创建/更新升级路径的请求
type EscalationPathRequest struct {
	Name       string                  `json:"name" binding:"required"`
	Steps      []models.EscalationStep `json:"steps" binding:"required"`
	Conditions []models.Condition      `json:"conditions"`
	IsActive   *bool                   `json:"is_active"`
	IsDefault  bool                    `json:"is_default"`
}

func validatePathRequest(req *EscalationPathRequest) error {
	if req == nil {
		return fmt.Errorf("request required")
	}
	if len(req.Steps) == 0 {
		return fmt.Errorf("at least one escalation step required")
	}
	for i, step := range req.Steps {
		if step.DelayMinutes < 0 {
			return fmt.Errorf("step %d: negative delay", i)
		}
		if step.AssignTarget != nil {
			if step.AssignTarget.Type != "user" && step.AssignTarget.Type != "team" {
				return fmt.Errorf("%w: step %d assign target type %q", models.ErrInvalidAction, i, step.AssignTarget.Type)
			}
		}
		for _, n := range step.Notifications {
			if n.Channel == "" {
				return fmt.Errorf("%w: step %d notification missing channel", models.ErrInvalidAction, i)
			}
		}
	}
	return models.ValidateConditions(req.Conditions)
}

// CreatePath 创建升级路径。
// is_default=true 时在同一事务里先清掉租户下其他默认路径再落盘，
// 保证每租户至多一个默认路径。
func (s *EscalationService) CreatePath(ctx context.Context, tenantID uint, req *EscalationPathRequest) (*models.EscalationPath, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.create_path")
	defer span.End()

	if err := validatePathRequest(req); err != nil {
		return nil, err
	}

	stepsJSON, _ := json.Marshal(normalizeSteps(req.Steps))
	condJSON, _ := json.Marshal(req.Conditions)

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	path := &models.EscalationPath{
		TenantID:   tenantID,
		Name:       req.Name,
		Steps:      string(stepsJSON),
		Conditions: string(condJSON),
		IsActive:   active,
		IsDefault:  req.IsDefault,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IsDefault {
			if err := tx.Model(&models.EscalationPath{}).
				Where("tenant_id = ? AND is_default = ?", tenantID, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(path).Error
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create escalation path: %w", err)
	}

	span.SetAttributes(attribute.Int64("escalation.path.id", int64(path.ID)))
	s.logger.Infof("Created escalation path: id=%d, name=%s, default=%v", path.ID, path.Name, path.IsDefault)
	if s.bus != nil {
		s.bus.Publish(ctx, Event{
			Name:     EventEscalationPathCreated,
			TenantID: tenantID,
			Payload:  map[string]interface{}{"path_id": path.ID, "name": path.Name},
		})
	}
	return path, nil
}

// normalizeSteps 按 level 升序存储，级别缺省按出现顺序补齐
func normalizeSteps(steps []models.EscalationStep) []models.EscalationStep {
	out := make([]models.EscalationStep, len(steps))
	copy(out, steps)
	for i := range out {
		if out[i].Level == 0 {
			out[i].Level = i + 1
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// GetPath 读取路径并做租户归属检查
func (s *EscalationService) GetPath(ctx context.Context, tenantID, id uint) (*models.EscalationPath, error) {
	var path models.EscalationPath
	if err := s.db.WithContext(ctx).First(&path, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("escalation path %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get escalation path: %w", err)
	}
	if path.TenantID != tenantID {
		return nil, fmt.Errorf("escalation path %d: %w", id, ErrAccessDenied)
	}
	return &path, nil
}

// ListPaths 列出租户升级路径
func (s *EscalationService) ListPaths(ctx context.Context, tenantID uint) ([]models.EscalationPath, error) {
	var paths []models.EscalationPath
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("is_default DESC, created_at DESC").
		Find(&paths).Error; err != nil {
		return nil, fmt.Errorf("list escalation paths: %w", err)
	}
	return paths, nil
}

// UpdatePath 更新升级路径，默认标志同样走事务
func (s *EscalationService) UpdatePath(ctx context.Context, tenantID, id uint, req *EscalationPathRequest) (*models.EscalationPath, error) {
	path, err := s.GetPath(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := validatePathRequest(req); err != nil {
		return nil, err
	}

	stepsJSON, _ := json.Marshal(normalizeSteps(req.Steps))
	condJSON, _ := json.Marshal(req.Conditions)

	path.Name = req.Name
	path.Steps = string(stepsJSON)
	path.Conditions = string(condJSON)
	if req.IsActive != nil {
		path.IsActive = *req.IsActive
	}
	path.IsDefault = req.IsDefault
	path.UpdatedAt = time.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IsDefault {
			if err := tx.Model(&models.EscalationPath{}).
				Where("tenant_id = ? AND is_default = ? AND id != ?", tenantID, true, id).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Save(path).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update escalation path: %w", err)
	}
	return path, nil
}

// DeletePath 删除升级路径
func (s *EscalationService) DeletePath(ctx context.Context, tenantID, id uint) error {
	if _, err := s.GetPath(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.EscalationPath{}, id).Error; err != nil {
		return fmt.Errorf("delete escalation path: %w", err)
	}
	return nil
}

// StepDueAt 纯函数：步骤到期时刻 = 工单未解决起点 + 第 1..N 步延迟累计
func StepDueAt(steps []models.EscalationStep, index int, unresolvedSince time.Time) time.Time {
	due := unresolvedSince
	for i := 0; i <= index && i < len(steps); i++ {
		due = due.Add(time.Duration(steps[i].DelayMinutes) * time.Minute)
	}
	return due
}

// RunDueEscalations 扫描未解决工单，触发所有到期且未触发过的升级步骤。
// 由外部调度循环按节拍调用；这里只计算到期并执行，不持有时钟。
func (s *EscalationService) RunDueEscalations(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "escalation.run_due")
	defer span.End()

	var paths []models.EscalationPath
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&paths).Error; err != nil {
		return 0, fmt.Errorf("load escalation paths: %w", err)
	}

	fired := 0
	for _, path := range paths {
		var tickets []models.Ticket
		if err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND status NOT IN ?", path.TenantID, []string{"resolved", "closed"}).
			Find(&tickets).Error; err != nil {
			s.logger.Warnf("escalation: load tickets for tenant %d: %v", path.TenantID, err)
			continue
		}

		conds, err := models.ParseConditions(path.Conditions)
		if err != nil {
			s.logger.Warnf("escalation: invalid conditions for path %d: %v", path.ID, err)
			continue
		}
		steps := path.StepList()

		for i := range tickets {
			ticket := &tickets[i]
			if !EvaluateConditions(conds, TicketSnapshot(ticket)) {
				continue
			}
			since := ticket.CreatedAt
			if ticket.UnresolvedSince != nil {
				since = *ticket.UnresolvedSince
			}
			for idx, step := range steps {
				if StepDueAt(steps, idx, since).After(now) {
					break // 步骤有序，后面的更晚到期
				}
				ok, err := s.fireStep(ctx, &path, ticket, step, now)
				if err != nil {
					s.logger.Warnf("escalation: fire path %d level %d on ticket %d: %v", path.ID, step.Level, ticket.ID, err)
					continue
				}
				if ok {
					fired++
				}
			}
		}
	}

	span.SetAttributes(attribute.Int("escalation.steps_fired", fired))
	if fired > 0 {
		s.logger.Infof("escalation sweep: fired %d steps", fired)
	}
	return fired, nil
}

// fireStep 触发一个步骤；(ticket, path, level) 去重表保证只触发一次
func (s *EscalationService) fireStep(ctx context.Context, path *models.EscalationPath, ticket *models.Ticket, step models.EscalationStep, now time.Time) (bool, error) {
	var existing models.EscalationEvent
	err := s.db.WithContext(ctx).
		Where("path_id = ? AND ticket_id = ? AND level = ?", path.ID, ticket.ID, step.Level).
		First(&existing).Error
	if err == nil {
		return false, nil // 已触发过
	}
	if err != gorm.ErrRecordNotFound {
		return false, fmt.Errorf("check fired step: %w", err)
	}

	actions := stepActions(step)
	results := s.executor.Execute(ctx, actions, ticket)
	for _, r := range results {
		if !r.Success {
			s.logger.Warnf("escalation: path %d level %d action %s failed: %s", path.ID, step.Level, r.ActionType, r.Error)
		}
	}

	event := &models.EscalationEvent{
		TenantID:  path.TenantID,
		PathID:    path.ID,
		TicketID:  ticket.ID,
		Level:     step.Level,
		FiredAt:   now,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return false, fmt.Errorf("record escalation event: %w", err)
	}
	return true, nil
}

// stepActions 把升级步骤翻译成与规则引擎同一套动作词汇
func stepActions(step models.EscalationStep) []models.Action {
	var actions []models.Action
	if step.AssignTarget != nil {
		switch step.AssignTarget.Type {
		case "user":
			actions = append(actions, models.Action{
				Type:   models.ActionAssignToUser,
				Params: map[string]interface{}{"userId": float64(step.AssignTarget.ID)},
			})
		case "team":
			actions = append(actions, models.Action{
				Type:   models.ActionAssignToTeam,
				Params: map[string]interface{}{"teamId": float64(step.AssignTarget.ID)},
			})
		}
	}
	for _, n := range step.Notifications {
		recipients := make([]interface{}, 0, len(n.Recipients))
		for _, r := range n.Recipients {
			recipients = append(recipients, r)
		}
		actions = append(actions, models.Action{
			Type: models.ActionSendNotification,
			Params: map[string]interface{}{
				"channel":    n.Channel,
				"recipients": recipients,
				"template":   n.Template,
			},
		})
	}
	return actions
}
