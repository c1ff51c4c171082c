package handlers

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/internal/analysis"
	"github.com/troikatech/crm-voicebot/internal/callcontext"
	"github.com/troikatech/crm-voicebot/pkg/ai"
	"github.com/troikatech/crm-voicebot/pkg/env"
	"github.com/troikatech/crm-voicebot/pkg/exotel"
	"github.com/troikatech/crm-voicebot/pkg/logger"
	"github.com/troikatech/crm-voicebot/pkg/middleware"
)

// Dialer is the slice of the telephony client the call endpoints need.
type Dialer interface {
	ConnectCall(ctx context.Context, req *exotel.ConnectCallRequest) (*exotel.ConnectCallResponse, error)
	GetCallDetails(ctx context.Context, callSID string) (*exotel.CallDetails, error)
}

type Handler struct {
	cfg             *env.Config
	redisClient     *redis.Client
	logger          *zap.Logger
	contextStore    *callcontext.Store
	analysisStore   *analysis.Store
	analysisService *analysis.Service
	dialer          Dialer
	dialLimiter     *middleware.RateLimiter
	aiManager       *ai.Manager
	ttsService      *ai.TTSService
	sttService      *ai.STTService
}

func NewHandler(
	cfg *env.Config,
	redisClient *redis.Client,
	contextStore *callcontext.Store,
	analysisStore *analysis.Store,
	analysisService *analysis.Service,
	dialer Dialer,
	aiManager *ai.Manager,
	ttsService *ai.TTSService,
	sttService *ai.STTService,
) *Handler {
	var dialLimiter *middleware.RateLimiter
	if redisClient != nil {
		// Reuses the API rate-limit window to cap dial attempts per
		// destination number.
		dialLimiter = middleware.NewRateLimiter(redisClient, cfg.APIRateLimitRPM)
	}
	return &Handler{
		cfg:             cfg,
		redisClient:     redisClient,
		logger:          logger.Log,
		contextStore:    contextStore,
		analysisStore:   analysisStore,
		analysisService: analysisService,
		dialer:          dialer,
		dialLimiter:     dialLimiter,
		aiManager:       aiManager,
		ttsService:      ttsService,
		sttService:      sttService,
	}
}
