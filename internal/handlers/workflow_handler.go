package handlers

import (
	"net/http"
	"strconv"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 工作流规则管理处理器
type WorkflowHandler struct {
	workflowService *services.WorkflowService
}

func NewWorkflowHandler(workflowService *services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflowService: workflowService}
}

// CreateRule 创建工作流规则
func (h *WorkflowHandler) CreateRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req services.WorkflowRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	rule, err := h.workflowService.CreateRule(c.Request.Context(), tenant, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule 获取规则详情
func (h *WorkflowHandler) GetRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	rule, err := h.workflowService.GetRule(c.Request.Context(), tenant, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ListRules 列出规则
func (h *WorkflowHandler) ListRules(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	rules, err := h.workflowService.ListRules(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "total": len(rules)})
}

// UpdateRule 更新规则
func (h *WorkflowHandler) UpdateRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req services.WorkflowRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	rule, err := h.workflowService.UpdateRule(c.Request.Context(), tenant, id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *WorkflowHandler) DeleteRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.workflowService.DeleteRule(c.Request.Context(), tenant, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ListExecutions 查询执行历史，支持 ticket_id/workflow_id 过滤
func (h *WorkflowHandler) ListExecutions(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var ticketID, workflowID *uint
	if raw := c.Query("ticket_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			v := uint(id)
			ticketID = &v
		}
	}
	if raw := c.Query("workflow_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			v := uint(id)
			workflowID = &v
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	execs, err := h.workflowService.ListExecutions(c.Request.Context(), tenant, ticketID, workflowID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "total": len(execs)})
}
