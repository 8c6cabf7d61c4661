package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler 外部节拍循环：每个 tick 问一次“现在有什么到期”。
// 到期计算在 EscalationService / ScheduleService 里，这里只持有时钟。
type Scheduler struct {
	escalations *EscalationService
	schedules   *ScheduleService
	logger      *logrus.Logger
	interval    time.Duration
}

func NewScheduler(escalations *EscalationService, schedules *ScheduleService, logger *logrus.Logger, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		escalations: escalations,
		schedules:   schedules,
		logger:      logger,
		interval:    interval,
	}
}

// Start 阻塞运行直到 ctx 取消
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Infof("Starting automation scheduler (interval=%s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Automation scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick 单次扫描，便于测试与手动触发
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if s.escalations != nil {
		if _, err := s.escalations.RunDueEscalations(ctx, now); err != nil {
			s.logger.Errorf("scheduler: escalation sweep: %v", err)
		}
	}
	if s.schedules != nil {
		if _, err := s.schedules.RunDueSchedules(ctx, now); err != nil {
			s.logger.Errorf("scheduler: schedule sweep: %v", err)
		}
	}
}
