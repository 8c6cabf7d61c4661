package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskflow/internal/config"
	"deskflow/internal/handlers"
	"deskflow/internal/models"
	"deskflow/internal/observability"
	"deskflow/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// 工作流引擎订阅的工单事件
var ticketEvents = []string{
	"ticket.created",
	"ticket.updated",
	"ticket.assigned",
	"ticket.commented",
	"ticket.resolved",
	"sla.violation",
}

func main() {
	// 读取配置文件（默认 ./config.yml）
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	// flags/env 覆盖数据库连接
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	flagDSN := flagSet.String("dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides config")
	srvHost := flagSet.String("host", getenvDefault("DESKFLOW_HOST", cfg.Server.Host), "server host (listen)")
	srvPort := flagSet.Int("port", cfg.Server.Port, "server port (listen)")
	_ = flagSet.Parse(os.Args[1:])

	dsn := *flagDSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.Agent{}, &models.Team{}, &models.Ticket{},
		&models.WorkflowRule{}, &models.RoutingRule{}, &models.WorkflowExecution{},
		&models.EscalationPath{}, &models.EscalationEvent{}, &models.RecurringSchedule{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 组装引擎：执行器 → 各服务 → 事件总线
	bus := services.NewInMemoryBus(appLogger)
	executor := services.NewActionExecutor(db, appLogger,
		services.NewLoadBasedTeamResolver(db),
		services.NewLogNotificationDispatcher(appLogger))

	workflowSvc := services.NewWorkflowService(db, appLogger, executor, bus)
	routingSvc := services.NewRoutingService(db, appLogger, executor, bus)
	escalationSvc := services.NewEscalationService(db, appLogger, executor, bus)
	scheduleSvc := services.NewScheduleService(db, appLogger, workflowSvc)

	// 新工单先经路由引擎（单胜者），再由工作流引擎多命中处理；
	// 总线按订阅顺序同步调用，所以路由先订阅
	bus.Subscribe("ticket.created", func(ctx context.Context, evt services.Event) {
		if _, _, err := routingSvc.RouteTicket(ctx, evt.TenantID, evt.TicketID); err != nil {
			appLogger.Warnf("routing ticket %d: %v", evt.TicketID, err)
		}
	})
	workflowSvc.SubscribeTo(bus, ticketEvents...)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := services.NewScheduler(escalationSvc, scheduleSvc, appLogger, cfg.Automation.SchedulerInterval)
	go scheduler.Start(rootCtx)

	router := handlers.Router(
		handlers.NewWorkflowHandler(workflowSvc),
		handlers.NewRoutingHandler(routingSvc),
		handlers.NewEscalationHandler(escalationSvc),
		handlers.NewScheduleHandler(scheduleSvc),
		handlers.NewEventHandler(bus),
	)

	addr := fmt.Sprintf("%s:%d", *srvHost, *srvPort)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		appLogger.Infof("deskflow listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("server shutdown: %v", err)
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
