package services

import (
	"context"
	"fmt"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ScheduleService 周期触发管理。
// 状态机：Scheduled → Running → (Completed|Failed) → Scheduled(next)；
// 失败从不阻塞回到 Scheduled（fire-and-continue，无退避重试）。
type ScheduleService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	tracer    trace.Tracer
	workflows *WorkflowService
}

func NewScheduleService(db *gorm.DB, logger *logrus.Logger, workflows *WorkflowService) *ScheduleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ScheduleService{
		db:        db,
		logger:    logger,
		tracer:    otel.Tracer("deskflow.schedule"),
		workflows: workflows,
	}
}

// ScheduleRequest 创建/更新周期计划的请求
type ScheduleRequest struct {
	Name       string `json:"name" binding:"required"`
	WorkflowID uint   `json:"workflow_id" binding:"required"`
	Frequency  string `json:"frequency" binding:"required"`
	DayOfWeek  int    `json:"day_of_week"`
	DayOfMonth int    `json:"day_of_month"`
	TimeOfDay  string `json:"time_of_day" binding:"required"`
	Timezone   string `json:"timezone"`
	IsActive   *bool  `json:"is_active"`
}

func (req *ScheduleRequest) recurrence() Recurrence {
	return Recurrence{
		Frequency:  req.Frequency,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		TimeOfDay:  req.TimeOfDay,
		Timezone:   req.Timezone,
	}
}

// CreateSchedule 创建计划；时序字段在此校验一次，next_run 立即算好
func (s *ScheduleService) CreateSchedule(ctx context.Context, tenantID uint, req *ScheduleRequest) (*models.RecurringSchedule, error) {
	ctx, span := s.tracer.Start(ctx, "schedule.create")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	rec := req.recurrence()
	if err := ValidateRecurrence(rec); err != nil {
		return nil, err
	}
	if _, err := s.workflows.GetRule(ctx, tenantID, req.WorkflowID); err != nil {
		return nil, err
	}

	next, err := NextRun(rec, time.Now())
	if err != nil {
		return nil, err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	sched := &models.RecurringSchedule{
		TenantID:   tenantID,
		Name:       req.Name,
		WorkflowID: req.WorkflowID,
		Frequency:  req.Frequency,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		TimeOfDay:  req.TimeOfDay,
		Timezone:   tz,
		IsActive:   active,
		NextRun:    &next,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	span.SetAttributes(attribute.Int64("schedule.id", int64(sched.ID)))
	s.logger.Infof("Created schedule: id=%d, name=%s, next_run=%s", sched.ID, sched.Name, next.Format(time.RFC3339))
	return sched, nil
}

// GetSchedule 读取计划并做租户归属检查
func (s *ScheduleService) GetSchedule(ctx context.Context, tenantID, id uint) (*models.RecurringSchedule, error) {
	var sched models.RecurringSchedule
	if err := s.db.WithContext(ctx).First(&sched, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if sched.TenantID != tenantID {
		return nil, fmt.Errorf("schedule %d: %w", id, ErrAccessDenied)
	}
	return &sched, nil
}

// ListSchedules 列出租户计划
func (s *ScheduleService) ListSchedules(ctx context.Context, tenantID uint) ([]models.RecurringSchedule, error) {
	var scheds []models.RecurringSchedule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("next_run ASC").
		Find(&scheds).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return scheds, nil
}

// UpdateSchedule 更新计划；任一时序字段变更都重算 next_run
func (s *ScheduleService) UpdateSchedule(ctx context.Context, tenantID, id uint, req *ScheduleRequest) (*models.RecurringSchedule, error) {
	sched, err := s.GetSchedule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	rec := req.recurrence()
	if err := ValidateRecurrence(rec); err != nil {
		return nil, err
	}

	next, err := NextRun(rec, time.Now())
	if err != nil {
		return nil, err
	}

	sched.Name = req.Name
	sched.WorkflowID = req.WorkflowID
	sched.Frequency = req.Frequency
	sched.DayOfWeek = req.DayOfWeek
	sched.DayOfMonth = req.DayOfMonth
	sched.TimeOfDay = req.TimeOfDay
	if req.Timezone != "" {
		sched.Timezone = req.Timezone
	}
	if req.IsActive != nil {
		sched.IsActive = *req.IsActive
	}
	sched.NextRun = &next
	sched.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return sched, nil
}

// DeleteSchedule 删除计划
func (s *ScheduleService) DeleteSchedule(ctx context.Context, tenantID, id uint) error {
	if _, err := s.GetSchedule(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.RecurringSchedule{}, id).Error; err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// RunDueSchedules 执行所有 next_run 已到的激活计划。
// 每个计划跑完（无论成败）都重算 next_run 并更新 last_* 字段。
func (s *ScheduleService) RunDueSchedules(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "schedule.run_due")
	defer span.End()

	var due []models.RecurringSchedule
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND next_run <= ?", true, now).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("load due schedules: %w", err)
	}

	ran := 0
	for i := range due {
		sched := &due[i]
		runErr := s.runSchedule(ctx, sched, now)

		status := "success"
		errMsg := ""
		if runErr != nil {
			status = "failed"
			errMsg = runErr.Error()
			s.logger.Warnf("schedule %d run failed: %v", sched.ID, runErr)
		}

		// 失败不暂停调度，下一次总会被排上
		next, nextErr := NextRun(Recurrence{
			Frequency:  sched.Frequency,
			DayOfWeek:  sched.DayOfWeek,
			DayOfMonth: sched.DayOfMonth,
			TimeOfDay:  sched.TimeOfDay,
			Timezone:   sched.Timezone,
		}, now)
		updates := map[string]interface{}{
			"last_run":    now,
			"last_status": status,
			"last_error":  errMsg,
			"run_count":   gorm.Expr("run_count + 1"),
			"updated_at":  time.Now(),
		}
		if nextErr == nil {
			updates["next_run"] = next
		} else {
			s.logger.Errorf("schedule %d: recompute next run: %v", sched.ID, nextErr)
		}
		if err := s.db.WithContext(ctx).Model(&models.RecurringSchedule{}).
			Where("id = ?", sched.ID).
			Updates(updates).Error; err != nil {
			s.logger.Errorf("schedule %d: record run: %v", sched.ID, err)
		}
		ran++
	}

	span.SetAttributes(attribute.Int("schedule.ran", ran))
	return ran, nil
}

// runSchedule 把计划指向的工作流规则跑在租户所有未关闭工单上
func (s *ScheduleService) runSchedule(ctx context.Context, sched *models.RecurringSchedule, now time.Time) error {
	rule, err := s.workflows.GetRule(ctx, sched.TenantID, sched.WorkflowID)
	if err != nil {
		return err
	}
	if !rule.IsActive {
		return nil
	}

	var tickets []models.Ticket
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status NOT IN ?", sched.TenantID, []string{"resolved", "closed"}).
		Find(&tickets).Error; err != nil {
		return fmt.Errorf("load open tickets: %w", err)
	}

	conds, err := models.ParseConditions(rule.Conditions)
	if err != nil {
		return fmt.Errorf("invalid conditions: %w", err)
	}

	matched := 0
	for i := range tickets {
		ticket := &tickets[i]
		snapshot := TicketSnapshot(ticket)
		if !EvaluateConditions(conds, snapshot) {
			continue
		}
		s.workflows.runRule(ctx, rule, ticket, snapshot, 0)
		matched++
	}
	s.logger.Infof("schedule %d: rule %s ran on %d/%d tickets", sched.ID, rule.Name, matched, len(tickets))
	return nil
}
