package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// RoutingService 路由引擎：单胜者语义，只应用第一条命中规则
type RoutingService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	executor *ActionExecutor
	bus      EventBus
}

func NewRoutingService(db *gorm.DB, logger *logrus.Logger, executor *ActionExecutor, bus EventBus) *RoutingService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RoutingService{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("deskflow.routing"),
		executor: executor,
		bus:      bus,
	}
}

// RoutingRuleRequest 创建/更新路由规则的请求
type RoutingRuleRequest struct {
	Name       string             `json:"name" binding:"required"`
	Priority   int                `json:"priority"`
	IsActive   *bool              `json:"is_active"`
	Conditions []models.Condition `json:"conditions"`
	Actions    []models.Action    `json:"actions"`
}

// CreateRule 创建路由规则
func (s *RoutingService) CreateRule(ctx context.Context, tenantID uint, req *RoutingRuleRequest) (*models.RoutingRule, error) {
	ctx, span := s.tracer.Start(ctx, "routing.create_rule")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := models.ValidateConditions(req.Conditions); err != nil {
		return nil, err
	}
	if err := models.ValidateActions(req.Actions); err != nil {
		return nil, err
	}

	condJSON, _ := json.Marshal(req.Conditions)
	actJSON, _ := json.Marshal(req.Actions)

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &models.RoutingRule{
		TenantID:   tenantID,
		Name:       req.Name,
		Priority:   req.Priority,
		IsActive:   active,
		Conditions: string(condJSON),
		Actions:    string(actJSON),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create routing rule: %w", err)
	}

	s.logger.Infof("Created routing rule: id=%d, name=%s, priority=%d", rule.ID, rule.Name, rule.Priority)
	if s.bus != nil {
		s.bus.Publish(ctx, Event{
			Name:     EventRoutingRuleCreated,
			TenantID: tenantID,
			Payload:  map[string]interface{}{"rule_id": rule.ID, "name": rule.Name},
		})
	}
	return rule, nil
}

// GetRule 读取路由规则并做租户归属检查
func (s *RoutingService) GetRule(ctx context.Context, tenantID, id uint) (*models.RoutingRule, error) {
	var rule models.RoutingRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("routing rule %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get routing rule: %w", err)
	}
	if rule.TenantID != tenantID {
		return nil, fmt.Errorf("routing rule %d: %w", id, ErrAccessDenied)
	}
	return &rule, nil
}

// ListRules 按优先级降序列出路由规则
func (s *RoutingService) ListRules(ctx context.Context, tenantID uint) ([]models.RoutingRule, error) {
	var rules []models.RoutingRule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority DESC, created_at DESC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	return rules, nil
}

// UpdateRule 更新路由规则
func (s *RoutingService) UpdateRule(ctx context.Context, tenantID, id uint, req *RoutingRuleRequest) (*models.RoutingRule, error) {
	rule, err := s.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateConditions(req.Conditions); err != nil {
		return nil, err
	}
	if err := models.ValidateActions(req.Actions); err != nil {
		return nil, err
	}

	condJSON, _ := json.Marshal(req.Conditions)
	actJSON, _ := json.Marshal(req.Actions)

	rule.Name = req.Name
	rule.Priority = req.Priority
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.Conditions = string(condJSON)
	rule.Actions = string(actJSON)
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, fmt.Errorf("update routing rule: %w", err)
	}
	return rule, nil
}

// DeleteRule 删除路由规则
func (s *RoutingService) DeleteRule(ctx context.Context, tenantID, id uint) error {
	if _, err := s.GetRule(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.RoutingRule{}, id).Error; err != nil {
		return fmt.Errorf("delete routing rule: %w", err)
	}
	return nil
}

// RouteTicket 为工单找第一条命中的激活路由规则并只应用这一条。
// 无命中是静默 no-op，返回 (nil, nil, nil)。
func (s *RoutingService) RouteTicket(ctx context.Context, tenantID, ticketID uint) (*models.RoutingRule, []ActionResult, error) {
	ctx, span := s.tracer.Start(ctx, "routing.route_ticket")
	defer span.End()

	span.SetAttributes(attribute.Int64("routing.ticket_id", int64(ticketID)))

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&ticket, ticketID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, fmt.Errorf("ticket %d: %w", ticketID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("fetch ticket: %w", err)
	}
	snapshot := TicketSnapshot(&ticket)

	var rules []models.RoutingRule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("priority DESC, created_at DESC").
		Find(&rules).Error; err != nil {
		return nil, nil, fmt.Errorf("load routing rules: %w", err)
	}

	for _, rule := range rules {
		conds, err := models.ParseConditions(rule.Conditions)
		if err != nil {
			s.logger.Warnf("routing: invalid conditions for rule %d: %v", rule.ID, err)
			continue
		}
		if !EvaluateConditions(conds, snapshot) {
			continue
		}

		actions, err := models.ParseActions(rule.Actions)
		if err != nil {
			s.logger.Warnf("routing: invalid actions for rule %d: %v", rule.ID, err)
			continue
		}
		results := s.executor.Execute(ctx, actions, &ticket)

		// 只对胜出规则原子更新命中计数
		now := time.Now()
		if err := s.db.WithContext(ctx).Model(&models.RoutingRule{}).
			Where("id = ?", rule.ID).
			UpdateColumns(map[string]interface{}{
				"match_count":  gorm.Expr("match_count + 1"),
				"last_matched": now,
			}).Error; err != nil {
			s.logger.Warnf("routing: bump match count for rule %d failed: %v", rule.ID, err)
		}

		span.SetAttributes(attribute.Int64("routing.matched_rule", int64(rule.ID)))
		s.logger.Infof("routing: rule %s matched ticket %d", rule.Name, ticket.ID)
		matched := rule
		return &matched, results, nil
	}

	return nil, nil, nil
}
