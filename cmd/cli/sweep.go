package main

import (
	"context"
	"fmt"
	"time"

	"deskflow/internal/config"
	"deskflow/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sweepCmd 手动跑一轮到期扫描：到期升级步骤 + 到期周期计划。
// 运维排障用，等价于调度循环的一个 tick。
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one due-escalation and due-schedule sweep",
	Run:   runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}

	bus := services.NewInMemoryBus(appLogger)
	executor := services.NewActionExecutor(db, appLogger,
		services.NewLoadBasedTeamResolver(db),
		services.NewLogNotificationDispatcher(appLogger))
	workflowSvc := services.NewWorkflowService(db, appLogger, executor, bus)
	escalationSvc := services.NewEscalationService(db, appLogger, executor, bus)
	scheduleSvc := services.NewScheduleService(db, appLogger, workflowSvc)

	ctx := context.Background()
	now := time.Now()

	fired, err := escalationSvc.RunDueEscalations(ctx, now)
	if err != nil {
		appLogger.Errorf("escalation sweep: %v", err)
	}
	ran, err := scheduleSvc.RunDueSchedules(ctx, now)
	if err != nil {
		appLogger.Errorf("schedule sweep: %v", err)
	}

	fmt.Printf("sweep done: %d escalation steps fired, %d schedules ran\n", fired, ran)
}
