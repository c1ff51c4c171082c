package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/pkg/errors"
)

type ProcessCallRequest struct {
	CallSID string `json:"call_sid" binding:"required"`
}

// GetCallAnalysis returns the stored analysis row for a SID.
func (h *Handler) GetCallAnalysis(c *gin.Context) {
	sid := c.GetString("sid")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	row, err := h.analysisStore.Get(ctx, sid)
	if err != nil {
		h.logger.Error("Failed to read call analysis",
			zap.String("call_sid", sid),
			zap.Error(err),
		)
		errors.InternalError(c, err, h.logger)
		return
	}
	if row == nil {
		errors.NotFound(c, "no analysis for this call")
		return
	}

	c.JSON(http.StatusOK, row)
}

// ProcessCall triggers the post-call analysis pipeline, or reports the
// status of a run already recorded for this SID.
func (h *Handler) ProcessCall(c *gin.Context) {
	var req ProcessCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "call_sid is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	report, err := h.analysisService.Process(ctx, req.CallSID)
	if err != nil {
		h.logger.Error("Failed to process call",
			zap.String("call_sid", req.CallSID),
			zap.Error(err),
		)
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, report)
}
