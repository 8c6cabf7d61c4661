package handlers

import (
	"net/http"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// ScheduleHandler 周期计划管理处理器
type ScheduleHandler struct {
	scheduleService *services.ScheduleService
}

func NewScheduleHandler(scheduleService *services.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{scheduleService: scheduleService}
}

// CreateSchedule 创建周期计划
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req services.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	sched, err := h.scheduleService.CreateSchedule(c.Request.Context(), tenant, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

// GetSchedule 获取计划
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	sched, err := h.scheduleService.GetSchedule(c.Request.Context(), tenant, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// ListSchedules 列出计划
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	scheds, err := h.scheduleService.ListSchedules(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": scheds, "total": len(scheds)})
}

// UpdateSchedule 更新计划，时序字段变更会重算 next_run
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req services.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	sched, err := h.scheduleService.UpdateSchedule(c.Request.Context(), tenant, id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// DeleteSchedule 删除计划
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.scheduleService.DeleteSchedule(c.Request.Context(), tenant, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
