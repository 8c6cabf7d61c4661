package main

import (
	"log"

	"deskflow/internal/config"
	"deskflow/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := "host=" + cfg.Database.Host + " user=" + cfg.Database.User +
		" password=" + cfg.Database.Password + " dbname=" + cfg.Database.Name +
		" sslmode=disable TimeZone=UTC"

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
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
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 复合索引
	log.Println("Creating additional indexes...")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflow_rules_tenant_active ON workflow_rules(tenant_id, is_active, priority)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_routing_rules_tenant_active ON routing_rules(tenant_id, is_active, priority)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_workflow_executions_ticket ON workflow_executions(ticket_id, started_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_recurring_schedules_due ON recurring_schedules(is_active, next_run)")

	log.Println("Indexes created")
}
