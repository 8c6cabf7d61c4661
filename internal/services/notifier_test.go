package services

import (
	"context"
	"errors"
	"testing"

	"deskflow/internal/models"

	"gorm.io/gorm"
)

func createTestAgent(t *testing.T, db *gorm.DB, tenantID, teamID, userID uint, status string, load, max int) {
	t.Helper()
	agent := &models.Agent{
		TenantID:      tenantID,
		UserID:        userID,
		TeamID:        &teamID,
		Status:        status,
		CurrentLoad:   load,
		MaxConcurrent: max,
	}
	if err := db.Create(agent).Error; err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func TestLoadBasedTeamResolver_PicksLeastLoaded(t *testing.T) {
	db := newTestDB(t)
	resolver := NewLoadBasedTeamResolver(db)
	ctx := context.Background()

	createTestAgent(t, db, 1, 3, 10, "online", 4, 5)
	createTestAgent(t, db, 1, 3, 11, "online", 1, 5)
	createTestAgent(t, db, 1, 3, 12, "offline", 0, 5)

	userID, err := resolver.ResolveAssignee(ctx, 1, 3)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if userID != 11 {
		t.Errorf("picked user %d, want least-loaded online agent 11", userID)
	}
}

func TestLoadBasedTeamResolver_FullTeamFallsBack(t *testing.T) {
	db := newTestDB(t)
	resolver := NewLoadBasedTeamResolver(db)
	ctx := context.Background()

	// 全员满载或离线时退化为团队内负载最低者
	createTestAgent(t, db, 1, 3, 20, "online", 5, 5)
	createTestAgent(t, db, 1, 3, 21, "offline", 2, 5)

	userID, err := resolver.ResolveAssignee(ctx, 1, 3)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if userID != 21 {
		t.Errorf("picked user %d, want fallback 21", userID)
	}
}

func TestLoadBasedTeamResolver_EmptyTeam(t *testing.T) {
	db := newTestDB(t)
	resolver := NewLoadBasedTeamResolver(db)

	if _, err := resolver.ResolveAssignee(context.Background(), 1, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty team = %v, want ErrNotFound", err)
	}
}

func TestLoadBasedTeamResolver_TenantScoped(t *testing.T) {
	db := newTestDB(t)
	resolver := NewLoadBasedTeamResolver(db)

	createTestAgent(t, db, 2, 3, 30, "online", 0, 5)

	if _, err := resolver.ResolveAssignee(context.Background(), 1, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("other tenant's agents should be invisible, got %v", err)
	}
}
