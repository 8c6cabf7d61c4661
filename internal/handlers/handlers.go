package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"deskflow/internal/models"
	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ErrorResponse 统一错误响应体
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// tenantID 从请求头取租户；鉴权层在上游，这里只消费结果
func tenantID(c *gin.Context) (uint, bool) {
	raw := c.GetHeader("X-Tenant-ID")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_TENANT",
			Message: "missing or invalid X-Tenant-ID header",
		})
		return 0, false
	}
	return uint(id), true
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "INVALID_ID",
			Message: "invalid id parameter",
		})
		return 0, false
	}
	return uint(id), true
}

// writeError 把服务层错误映射到 HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, services.ErrAccessDenied):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "ACCESS_DENIED", Message: err.Error()})
	case errors.Is(err, models.ErrInvalidCondition):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_CONDITION", Message: err.Error()})
	case errors.Is(err, models.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_ACTION", Message: err.Error()})
	case errors.Is(err, services.ErrInvalidSchedule):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_SCHEDULE", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: err.Error()})
	}
}

// Router 装配全部自动化 API 路由
func Router(
	workflowHandler *WorkflowHandler,
	routingHandler *RoutingHandler,
	escalationHandler *EscalationHandler,
	scheduleHandler *ScheduleHandler,
	eventHandler *EventHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("deskflow"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		workflows := api.Group("/workflows")
		{
			workflows.POST("/rules", workflowHandler.CreateRule)
			workflows.GET("/rules", workflowHandler.ListRules)
			workflows.GET("/rules/:id", workflowHandler.GetRule)
			workflows.PUT("/rules/:id", workflowHandler.UpdateRule)
			workflows.DELETE("/rules/:id", workflowHandler.DeleteRule)
			workflows.GET("/executions", workflowHandler.ListExecutions)
		}

		routing := api.Group("/routing")
		{
			routing.POST("/rules", routingHandler.CreateRule)
			routing.GET("/rules", routingHandler.ListRules)
			routing.GET("/rules/:id", routingHandler.GetRule)
			routing.PUT("/rules/:id", routingHandler.UpdateRule)
			routing.DELETE("/rules/:id", routingHandler.DeleteRule)
			routing.POST("/tickets/:id/route", routingHandler.RouteTicket)
		}

		escalation := api.Group("/escalation")
		{
			escalation.POST("/paths", escalationHandler.CreatePath)
			escalation.GET("/paths", escalationHandler.ListPaths)
			escalation.GET("/paths/:id", escalationHandler.GetPath)
			escalation.PUT("/paths/:id", escalationHandler.UpdatePath)
			escalation.DELETE("/paths/:id", escalationHandler.DeletePath)
		}

		schedules := api.Group("/schedules")
		{
			schedules.POST("", scheduleHandler.CreateSchedule)
			schedules.GET("", scheduleHandler.ListSchedules)
			schedules.GET("/:id", scheduleHandler.GetSchedule)
			schedules.PUT("/:id", scheduleHandler.UpdateSchedule)
			schedules.DELETE("/:id", scheduleHandler.DeleteSchedule)
		}

		api.POST("/events", eventHandler.Ingest)
	}

	return router
}
