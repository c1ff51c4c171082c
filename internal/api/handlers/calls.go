package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/internal/callcontext"
	"github.com/troikatech/crm-voicebot/pkg/errors"
	"github.com/troikatech/crm-voicebot/pkg/exotel"
	"github.com/troikatech/crm-voicebot/pkg/logger"
	"github.com/troikatech/crm-voicebot/pkg/metrics"
	"github.com/troikatech/crm-voicebot/pkg/middleware"
	"github.com/troikatech/crm-voicebot/pkg/utils"
)

type DialoutSettings struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	AppName     string `json:"app_name"`
	Reason      string `json:"reason"`
	Language    string `json:"language"`
	ClientName  string `json:"client_name"`
}

type StartCallRequest struct {
	DialoutSettings DialoutSettings `json:"dialout_settings" binding:"required"`
}

type StartCallResponse struct {
	Status      string                  `json:"status"`
	CallID      string                  `json:"call_id"`
	PhoneNumber string                  `json:"phone_number"`
	CallContext callcontext.CallContext `json:"call_context"`
}

// StartCall dials a customer and records the call context under the
// provider-assigned SID. The context row must be durable before we
// respond: the media session for this SID may land on another process
// within a second or two of the dial.
func (h *Handler) StartCall(c *gin.Context) {
	start := time.Now()

	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "dialout_settings.phone_number is required")
		return
	}

	phone := utils.NormalizePhone(req.DialoutSettings.PhoneNumber)
	if !utils.ValidateE164(phone) {
		errors.BadRequest(c, "phone_number must be a valid E.164 number")
		return
	}

	language := middleware.SanitizeString(req.DialoutSettings.Language)
	if language == "" {
		language = h.cfg.DefaultLanguage
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if h.dialLimiter != nil && !h.dialLimiter.Allow(ctx, "dialout:"+phone) {
		h.logger.Warn("Dial attempt rate limited",
			logger.MaskPhone("phone", phone),
		)
		metrics.RecordRequest("/start", false, time.Since(start))
		errors.TooManyRequests(c, "too many dial attempts for this number")
		return
	}

	resp, err := h.dialer.ConnectCall(ctx, &exotel.ConnectCallRequest{
		To:             phone,
		CallerID:       h.cfg.ExotelExophone,
		AppID:          h.cfg.ExotelAppID,
		StatusCallback: h.cfg.VoicebotBaseURL + "/webhooks/exotel",
	})
	if err != nil {
		h.logger.Error("Failed to initiate call",
			logger.MaskPhone("phone", phone),
			zap.Error(err),
		)
		metrics.RecordRequest("/start", false, time.Since(start))
		errors.InternalError(c, err, h.logger)
		return
	}

	// These fields end up inside the LLM prompt and the spoken greeting.
	cc := callcontext.CallContext{
		CallSID:     resp.SID,
		PhoneNumber: phone,
		AppName:     middleware.SanitizeString(req.DialoutSettings.AppName),
		Reason:      middleware.SanitizeString(req.DialoutSettings.Reason),
		Language:    language,
		ClientName:  middleware.SanitizeString(req.DialoutSettings.ClientName),
	}
	if err := h.contextStore.Put(ctx, &cc); err != nil {
		h.logger.Error("Failed to store call context",
			zap.String("call_sid", resp.SID),
			zap.Error(err),
		)
		metrics.RecordRequest("/start", false, time.Since(start))
		errors.InternalError(c, err, h.logger)
		return
	}

	h.logger.Info("Call initiated",
		zap.String("call_sid", resp.SID),
		logger.MaskPhone("phone", phone),
		zap.String("language", language),
	)
	metrics.RecordCallInitiated()
	metrics.RecordRequest("/start", true, time.Since(start))

	c.JSON(http.StatusOK, StartCallResponse{
		Status:      "call_initiated",
		CallID:      resp.SID,
		PhoneNumber: phone,
		CallContext: cc,
	})
}

// CheckCallStatus proxies the provider's call-status lookup.
func (h *Handler) CheckCallStatus(c *gin.Context) {
	sid := c.GetString("sid")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	details, err := h.dialer.GetCallDetails(ctx, sid)
	if err != nil {
		h.logger.Error("Failed to fetch call status",
			zap.String("call_sid", sid),
			zap.Error(err),
		)
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call_sid":      details.SID,
		"status":        details.Status,
		"direction":     details.Direction,
		"from":          details.From,
		"to":            details.To,
		"start_time":    details.StartTime,
		"end_time":      details.EndTime,
		"duration":      details.Duration,
		"recording_url": details.RecordingURL,
	})
}
