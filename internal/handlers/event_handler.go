package handlers

import (
	"net/http"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// EventHandler 工单事件入口：上游系统把事件投进总线，
// 工作流引擎作为订阅者同步消费。
type EventHandler struct {
	bus services.EventBus
}

func NewEventHandler(bus services.EventBus) *EventHandler {
	return &EventHandler{bus: bus}
}

// EventRequest 事件投递请求
type EventRequest struct {
	Name     string                 `json:"name" binding:"required"`
	TicketID uint                   `json:"ticket_id" binding:"required"`
	ActorID  uint                   `json:"actor_id"`
	Payload  map[string]interface{} `json:"payload"`
}

// Ingest 投递一条事件
func (h *EventHandler) Ingest(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	h.bus.Publish(c.Request.Context(), services.Event{
		Name:     req.Name,
		TenantID: tenant,
		TicketID: req.TicketID,
		ActorID:  req.ActorID,
		Payload:  req.Payload,
	})
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
