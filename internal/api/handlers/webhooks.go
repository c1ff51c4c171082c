package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/pkg/errors"
	"github.com/troikatech/crm-voicebot/pkg/logger"
	"github.com/troikatech/crm-voicebot/pkg/webhook"
)

type ExotelWebhookPayload struct {
	CallSid      string `json:"CallSid" form:"CallSid"`
	From         string `json:"From" form:"From"`
	To           string `json:"To" form:"To"`
	Direction    string `json:"Direction" form:"Direction"`
	Status       string `json:"Status" form:"Status"`
	StartTime    string `json:"StartTime" form:"StartTime"`
	EndTime      string `json:"EndTime" form:"EndTime"`
	Duration     string `json:"Duration" form:"Duration"`
	RecordingUrl string `json:"RecordingUrl" form:"RecordingUrl"`
}

// terminalCallStatuses are the Exotel statuses after which no media
// session can still be using the call context.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// ExotelWebhook handles the StatusCallback posts Exotel sends as a
// call moves through its lifecycle. Deactivation here is a backstop:
// the media session's own finalizer usually wins.
func (h *Handler) ExotelWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		errors.BadRequest(c, "invalid payload")
		return
	}
	signature := c.GetHeader("X-Exotel-Signature")
	if err := webhook.VerifyExotelSignature(h.cfg.ExotelWebhookSecret, c.Request.PostForm, signature); err != nil {
		h.logger.Warn("Rejected webhook with bad signature", zap.Error(err))
		errors.Unauthorized(c, "signature verification failed")
		return
	}

	var payload ExotelWebhookPayload
	if err := c.ShouldBind(&payload); err != nil {
		errors.BadRequest(c, "invalid payload")
		return
	}
	if payload.CallSid == "" {
		errors.BadRequest(c, "CallSid is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Exotel redelivers callbacks on slow responses. First delivery of
	// each (sid, status) pair wins; Redis being down fails open.
	if h.redisClient != nil {
		key := fmt.Sprintf("webhook:event:%s:%s", payload.CallSid, payload.Status)
		fresh, err := h.redisClient.SetNX(ctx, key, 1, 24*time.Hour).Result()
		if err == nil && !fresh {
			c.JSON(http.StatusOK, gin.H{"message": "webhook already processed"})
			return
		}
	}

	h.logger.Info("Call status update",
		zap.String("call_sid", payload.CallSid),
		zap.String("status", payload.Status),
		zap.String("duration", payload.Duration),
		logger.MaskPhoneIfPresent("to", payload.To),
	)

	if terminalCallStatuses[payload.Status] {
		if err := h.contextStore.Deactivate(ctx, payload.CallSid); err != nil {
			h.logger.Warn("Failed to deactivate context from webhook",
				zap.String("call_sid", payload.CallSid),
				zap.Error(err),
			)
		}
		if err := h.analysisStore.SetCallStatus(ctx, payload.CallSid, payload.Status); err != nil {
			h.logger.Warn("Failed to record call status on analysis row",
				zap.String("call_sid", payload.CallSid),
				zap.Error(err),
			)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "webhook processed"})
}
