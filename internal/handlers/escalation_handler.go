package handlers

import (
	"net/http"

	"deskflow/internal/services"

	"github.com/gin-gonic/gin"
)

// EscalationHandler 升级路径管理处理器
type EscalationHandler struct {
	escalationService *services.EscalationService
}

func NewEscalationHandler(escalationService *services.EscalationService) *EscalationHandler {
	return &EscalationHandler{escalationService: escalationService}
}

// CreatePath 创建升级路径
func (h *EscalationHandler) CreatePath(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req services.EscalationPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	path, err := h.escalationService.CreatePath(c.Request.Context(), tenant, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, path)
}

// GetPath 获取升级路径
func (h *EscalationHandler) GetPath(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	path, err := h.escalationService.GetPath(c.Request.Context(), tenant, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, path)
}

// ListPaths 列出升级路径
func (h *EscalationHandler) ListPaths(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	paths, err := h.escalationService.ListPaths(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paths": paths, "total": len(paths)})
}

// UpdatePath 更新升级路径
func (h *EscalationHandler) UpdatePath(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req services.EscalationPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	path, err := h.escalationService.UpdatePath(c.Request.Context(), tenant, id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, path)
}

// DeletePath 删除升级路径
func (h *EscalationHandler) DeletePath(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.escalationService.DeletePath(c.Request.Context(), tenant, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
