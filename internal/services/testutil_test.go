package services

import (
	"context"
	"testing"

	"deskflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Agent{},
		&models.Team{},
		&models.Ticket{},
		&models.WorkflowRule{},
		&models.RoutingRule{},
		&models.WorkflowExecution{},
		&models.EscalationPath{},
		&models.EscalationEvent{},
		&models.RecurringSchedule{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// stubTeamResolver 固定返回同一个客服
type stubTeamResolver struct {
	userID uint
	err    error
}

func (r *stubTeamResolver) ResolveAssignee(ctx context.Context, tenantID, teamID uint) (uint, error) {
	return r.userID, r.err
}

// stubNotifier 记录通知调用，可配置失败
type stubNotifier struct {
	calls []string
	err   error
}

func (n *stubNotifier) Send(ctx context.Context, channel string, recipients []string, payload map[string]interface{}) error {
	n.calls = append(n.calls, channel)
	return n.err
}

func newTestExecutor(db *gorm.DB) *ActionExecutor {
	return NewActionExecutor(db, newTestLogger(), &stubTeamResolver{userID: 77}, &stubNotifier{})
}

func createTestTicket(t *testing.T, db *gorm.DB, tenantID uint, mutate func(*models.Ticket)) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		TenantID:    tenantID,
		Title:       "login broken",
		Description: "cannot sign in",
		CustomerID:  1,
		Category:    "technical",
		Priority:    "normal",
		Status:      "open",
		Source:      "web",
	}
	if mutate != nil {
		mutate(ticket)
	}
	if err := db.Create(ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func mustReloadTicket(t *testing.T, db *gorm.DB, id uint) *models.Ticket {
	t.Helper()
	var ticket models.Ticket
	if err := db.First(&ticket, id).Error; err != nil {
		t.Fatalf("reload ticket %d: %v", id, err)
	}
	return &ticket
}

func boolPtr(b bool) *bool { return &b }

func strVal(s string) models.ConditionValue {
	return models.ConditionValue{Kind: models.ValueString, Str: s}
}

func numVal(n float64) models.ConditionValue {
	return models.ConditionValue{Kind: models.ValueNumber, Num: n}
}

func pairVal(lo, hi float64) models.ConditionValue {
	return models.ConditionValue{Kind: models.ValueNumberPair, Pair: [2]float64{lo, hi}}
}

func arrVal(items ...string) models.ConditionValue {
	return models.ConditionValue{Kind: models.ValueStringArray, Strs: items}
}
