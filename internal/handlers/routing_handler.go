package handlers

import (
	"net/http"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// RoutingHandler 路由规则管理处理器
type RoutingHandler struct {
	routingService *services.RoutingService
}

func NewRoutingHandler(routingService *services.RoutingService) *RoutingHandler {
	return &RoutingHandler{routingService: routingService}
}

// CreateRule 创建路由规则
func (h *RoutingHandler) CreateRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req services.RoutingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	rule, err := h.routingService.CreateRule(c.Request.Context(), tenant, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule 获取路由规则
func (h *RoutingHandler) GetRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	rule, err := h.routingService.GetRule(c.Request.Context(), tenant, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ListRules 列出路由规则
func (h *RoutingHandler) ListRules(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	rules, err := h.routingService.ListRules(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "total": len(rules)})
}

// UpdateRule 更新路由规则
func (h *RoutingHandler) UpdateRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req services.RoutingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	rule, err := h.routingService.UpdateRule(c.Request.Context(), tenant, id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除路由规则
func (h *RoutingHandler) DeleteRule(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.routingService.DeleteRule(c.Request.Context(), tenant, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// RouteTicket 对指定工单执行单胜者路由
func (h *RoutingHandler) RouteTicket(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	ticketID, ok := pathID(c)
	if !ok {
		return
	}
	rule, results, err := h.routingService.RouteTicket(c.Request.Context(), tenant, ticketID)
	if err != nil {
		writeError(c, err)
		return
	}
	if rule == nil {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matched": true,
		"rule_id": rule.ID,
		"results": results,
	})
}
