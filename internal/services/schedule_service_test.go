package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"deskflow/internal/models"

	"gorm.io/gorm"
)

func newTestScheduleService(db *gorm.DB) (*ScheduleService, *WorkflowService) {
	workflows := newTestWorkflowService(db)
	return NewScheduleService(db, newTestLogger(), workflows), workflows
}

func createTaggerRule(t *testing.T, svc *WorkflowService, tenantID uint, tag string) *models.WorkflowRule {
	t.Helper()
	rule, err := svc.CreateRule(context.Background(), tenantID, workflowRuleReq("tag "+tag, nil, []models.Action{
		{Type: models.ActionAddTag, Params: map[string]interface{}{"tag": tag}},
	}))
	if err != nil {
		t.Fatalf("create workflow rule: %v", err)
	}
	return rule
}

func TestScheduleService_CreateComputesNextRun(t *testing.T) {
	db := newTestDB(t)
	svc, workflows := newTestScheduleService(db)
	ctx := context.Background()

	rule := createTaggerRule(t, workflows, 1, "daily-sweep")

	sched, err := svc.CreateSchedule(ctx, 1, &ScheduleRequest{
		Name:       "nightly",
		WorkflowID: rule.ID,
		Frequency:  models.FrequencyDaily,
		TimeOfDay:  "02:00",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if sched.NextRun == nil || !sched.NextRun.After(time.Now()) {
		t.Errorf("next_run = %v, want strictly in the future", sched.NextRun)
	}
	if sched.Timezone != "UTC" {
		t.Errorf("timezone = %s, want UTC default", sched.Timezone)
	}
	if !sched.IsActive {
		t.Error("new schedule should default to active")
	}
}

func TestScheduleService_CreateValidation(t *testing.T) {
	db := newTestDB(t)
	svc, workflows := newTestScheduleService(db)
	ctx := context.Background()

	rule := createTaggerRule(t, workflows, 1, "x")

	// 非法时序字段
	if _, err := svc.CreateSchedule(ctx, 1, &ScheduleRequest{
		Name: "bad", WorkflowID: rule.ID, Frequency: "hourly", TimeOfDay: "02:00",
	}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("bad frequency = %v, want ErrInvalidSchedule", err)
	}

	// 指向不存在的工作流
	if _, err := svc.CreateSchedule(ctx, 1, &ScheduleRequest{
		Name: "orphan", WorkflowID: 9999, Frequency: models.FrequencyDaily, TimeOfDay: "02:00",
	}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing workflow = %v, want ErrNotFound", err)
	}

	// 指向别的租户的工作流
	if _, err := svc.CreateSchedule(ctx, 2, &ScheduleRequest{
		Name: "stolen", WorkflowID: rule.ID, Frequency: models.FrequencyDaily, TimeOfDay: "02:00",
	}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("cross-tenant workflow = %v, want ErrAccessDenied", err)
	}
}

func TestScheduleService_RunDueSchedules(t *testing.T) {
	db := newTestDB(t)
	svc, workflows := newTestScheduleService(db)
	ctx := context.Background()

	rule := createTaggerRule(t, workflows, 1, "swept")
	sched, err := svc.CreateSchedule(ctx, 1, &ScheduleRequest{
		Name: "sweeper", WorkflowID: rule.ID, Frequency: models.FrequencyDaily, TimeOfDay: "02:00",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	open := createTestTicket(t, db, 1, nil)
	createTestTicket(t, db, 1, func(tk *models.Ticket) { tk.Status = "resolved" })

	// 把 next_run 拨到过去，使计划到期
	past := time.Now().Add(-time.Hour)
	if err := db.Model(&models.RecurringSchedule{}).Where("id = ?", sched.ID).
		Update("next_run", past).Error; err != nil {
		t.Fatalf("backdate next_run: %v", err)
	}

	now := time.Now()
	ran, err := svc.RunDueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}

	// 未关闭工单被打标，已解决的不动
	got := mustReloadTicket(t, db, open.ID)
	if tags := got.TagList(); len(tags) != 1 || tags[0] != "swept" {
		t.Errorf("open ticket tags = %v, want [swept]", tags)
	}

	var after models.RecurringSchedule
	if err := db.First(&after, sched.ID).Error; err != nil {
		t.Fatalf("reload schedule: %v", err)
	}
	if after.LastStatus != "success" || after.LastError != "" {
		t.Errorf("last_status=%s last_error=%q", after.LastStatus, after.LastError)
	}
	if after.RunCount != 1 {
		t.Errorf("run_count = %d, want 1", after.RunCount)
	}
	if after.LastRun == nil {
		t.Error("last_run should be set")
	}
	if after.NextRun == nil || !after.NextRun.After(now) {
		t.Errorf("next_run = %v, want advanced past now", after.NextRun)
	}

	// 已不到期，再扫不跑
	ran, err = svc.RunDueSchedules(ctx, time.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if ran != 0 {
		t.Errorf("second sweep ran = %d, want 0", ran)
	}
}

func TestScheduleService_FailureStillAdvances(t *testing.T) {
	db := newTestDB(t)
	svc, workflows := newTestScheduleService(db)
	ctx := context.Background()

	rule := createTaggerRule(t, workflows, 1, "x")
	sched, err := svc.CreateSchedule(ctx, 1, &ScheduleRequest{
		Name: "doomed", WorkflowID: rule.ID, Frequency: models.FrequencyDaily, TimeOfDay: "02:00",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	// 工作流被删掉后计划会失败，但调度必须继续
	if err := db.Delete(&models.WorkflowRule{}, rule.ID).Error; err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := db.Model(&models.RecurringSchedule{}).Where("id = ?", sched.ID).
		Update("next_run", past).Error; err != nil {
		t.Fatalf("backdate next_run: %v", err)
	}

	now := time.Now()
	ran, err := svc.RunDueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}

	var after models.RecurringSchedule
	if err := db.First(&after, sched.ID).Error; err != nil {
		t.Fatalf("reload schedule: %v", err)
	}
	if after.LastStatus != "failed" {
		t.Errorf("last_status = %s, want failed", after.LastStatus)
	}
	if after.LastError == "" {
		t.Error("last_error should record the failure")
	}
	if after.RunCount != 1 {
		t.Errorf("run_count = %d, want 1", after.RunCount)
	}
	if after.NextRun == nil || !after.NextRun.After(now) {
		t.Error("failed run must still advance next_run")
	}
}

func TestScheduleService_InactiveSkipped(t *testing.T) {
	db := newTestDB(t)
	svc, workflows := newTestScheduleService(db)
	ctx := context.Background()

	rule := createTaggerRule(t, workflows, 1, "x")
	req := &ScheduleRequest{
		Name: "off", WorkflowID: rule.ID, Frequency: models.FrequencyDaily,
		TimeOfDay: "02:00", IsActive: boolPtr(false),
	}
	sched, err := svc.CreateSchedule(ctx, 1, req)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := db.Model(&models.RecurringSchedule{}).Where("id = ?", sched.ID).
		Update("next_run", past).Error; err != nil {
		t.Fatalf("backdate next_run: %v", err)
	}

	ran, err := svc.RunDueSchedules(ctx, time.Now())
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if ran != 0 {
		t.Errorf("inactive schedule ran = %d, want 0", ran)
	}
}

func TestScheduleService_UpdateRecomputesNextRun(t *testing.T) {
	db := newTestDB(t)
	svc, workflows := newTestScheduleService(db)
	ctx := context.Background()

	rule := createTaggerRule(t, workflows, 1, "x")
	sched, err := svc.CreateSchedule(ctx, 1, &ScheduleRequest{
		Name: "s", WorkflowID: rule.ID, Frequency: models.FrequencyDaily, TimeOfDay: "02:00",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	updated, err := svc.UpdateSchedule(ctx, 1, sched.ID, &ScheduleRequest{
		Name: "s", WorkflowID: rule.ID, Frequency: models.FrequencyWeekly,
		DayOfWeek: 1, TimeOfDay: "06:30",
	})
	if err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	if updated.Frequency != models.FrequencyWeekly {
		t.Errorf("frequency = %s, want weekly", updated.Frequency)
	}
	if updated.NextRun == nil || updated.NextRun.Weekday() != time.Monday {
		t.Errorf("next_run = %v, want a Monday", updated.NextRun)
	}
	hh, mm := updated.NextRun.Hour(), updated.NextRun.Minute()
	if hh != 6 || mm != 30 {
		t.Errorf("next_run time = %02d:%02d, want 06:30", hh, mm)
	}
}
