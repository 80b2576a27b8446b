package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"logistics/internal/service"
)

// RetentionHandler exposes the manual retention trigger.
type RetentionHandler struct {
	retentionService *service.RetentionService
}

// NewRetentionHandler creates a new RetentionHandler.
func NewRetentionHandler(retentionService *service.RetentionService) *RetentionHandler {
	return &RetentionHandler{retentionService: retentionService}
}

// Prune handles POST /v1/admin/retention/prune
func (h *RetentionHandler) Prune(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	result, err := h.retentionService.Prune(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}
