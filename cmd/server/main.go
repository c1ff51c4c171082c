package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/troikatech/crm-voicebot/internal/analysis"
	"github.com/troikatech/crm-voicebot/internal/api/handlers"
	"github.com/troikatech/crm-voicebot/internal/callcontext"
	"github.com/troikatech/crm-voicebot/pkg/ai"
	"github.com/troikatech/crm-voicebot/pkg/env"
	"github.com/troikatech/crm-voicebot/pkg/exotel"
	"github.com/troikatech/crm-voicebot/pkg/logger"
	"github.com/troikatech/crm-voicebot/pkg/middleware"
	"github.com/troikatech/crm-voicebot/pkg/otel"
)

// Server wires the dial-out API, the media-stream endpoint, and the
// post-call analysis pipeline into one process. Multiple instances can
// run side by side; the call-context table in Postgres is the only
// coordination point between them.
type Server struct {
	cfg         *env.Config
	redisClient *redis.Client
	handler     *handlers.Handler
}

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("crm-voicebot", "1.0.0", cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer shutdown()
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting CRM voicebot server",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		logger.Log.Warn("Missing provider credentials; /health will report 500",
			zap.Strings("missing", missing),
		)
	}

	// Redis: analysis locks and API rate limiting
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Postgres: call contexts and analysis results
	gormLogLevel := gormlogger.Warn
	if cfg.AppEnv == "development" {
		gormLogLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		logger.Log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}

	contextStore := callcontext.NewStore(db, logger.Log)
	if err := contextStore.AutoMigrate(); err != nil {
		logger.Log.Fatal("Failed to migrate call_contexts", zap.Error(err))
	}
	analysisStore := analysis.NewStore(db)
	if err := db.AutoMigrate(&analysis.CallAnalysis{}); err != nil {
		logger.Log.Fatal("Failed to migrate call_analyses", zap.Error(err))
	}

	exotelClient := exotel.NewClient(
		cfg.ExotelSubdomain,
		cfg.ExotelAccountSID,
		cfg.ExotelAPIKey,
		cfg.ExotelAPIToken,
	)

	aiTimeout := cfg.AITimeout()
	analysisTimeout := cfg.AnalysisTimeout()

	providers := []ai.Provider{}
	if cfg.OpenAIApiKey != "" {
		openAIProvider := ai.NewOpenAIProvider(
			cfg.OpenAIApiKey,
			cfg.OpenAIModel,
			cfg.AnalysisModel,
			cfg.OpenAIMaxTokens,
			aiTimeout,
			logger.Log,
		)
		providers = append(providers, openAIProvider)
		logger.Log.Info("OpenAI provider initialized", zap.String("model", cfg.OpenAIModel))
	}
	if cfg.AnthropicApiKey != "" {
		anthropicProvider := ai.NewAnthropicProvider(
			cfg.AnthropicApiKey,
			cfg.AnthropicModel,
			cfg.AnthropicMaxTokens,
			aiTimeout,
			logger.Log,
		)
		providers = append(providers, anthropicProvider)
		logger.Log.Info("Anthropic provider initialized", zap.String("model", cfg.AnthropicModel))
	}
	if len(providers) == 0 {
		logger.Log.Warn("No LLM providers configured - conversation and analysis will fail")
	}
	aiManager := ai.NewManager(providers, logger.Log)

	ttsService := ai.NewTTSService(
		cfg.ElevenLabsApiKey,
		cfg.ElevenLabsVoiceID,
		cfg.ElevenLabsModel,
		cfg.ElevenLabsOutputFormat,
		aiTimeout,
		logger.Log,
	)
	sttService := ai.NewSTTService(
		cfg.OpenAIApiKey,
		cfg.WhisperModel,
		cfg.WhisperLanguage,
		analysisTimeout, // full-recording transcription needs the long budget
		logger.Log,
	)

	pool, err := ants.NewPool(cfg.AnalysisWorkers)
	if err != nil {
		logger.Log.Fatal("Failed to create analysis worker pool", zap.Error(err))
	}
	defer pool.Release()

	analysisService := analysis.NewService(
		analysisStore,
		exotelClient,
		sttService,
		aiManager,
		redisClient,
		pool,
		analysis.Config{
			TmpDir:     cfg.RecordingTmpDir,
			JobTimeout: analysisTimeout,
			LockTTL:    time.Duration(cfg.AnalysisLockTTLMin) * time.Minute,
		},
		logger.Log,
	)

	sweeper := analysis.NewSweeper(
		analysisStore,
		time.Duration(cfg.AnalysisStaleAfterMin)*time.Minute,
		time.Duration(cfg.AnalysisSweepEveryMin)*time.Minute,
		logger.Log,
	)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweeper.Run(sweepCtx)

	apiHandler := handlers.NewHandler(
		cfg,
		redisClient,
		contextStore,
		analysisStore,
		analysisService,
		exotelClient,
		aiManager,
		ttsService,
		sttService,
	)

	server := &Server{
		cfg:         cfg,
		redisClient: redisClient,
		handler:     apiHandler,
	}

	router := server.setupRouter()

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}

func (s *Server) setupRouter() *gin.Engine {
	if s.cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 << 20)) // 1 MB limit

	if s.cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	corsConfig := cors.DefaultConfig()
	if s.cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.CORSAllowedOrigins}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	rateLimiter := middleware.NewRateLimiter(s.redisClient, s.cfg.APIRateLimitRPM)

	router.GET("/health", s.handler.HealthCheck)
	router.GET("/metrics", s.handler.GetMetrics)
	router.GET("/metrics/prometheus", s.handler.GetPrometheusMetrics)

	// Call control endpoints, rate limited per client IP
	limited := router.Group("/")
	limited.Use(rateLimiter.Middleware())
	{
		limited.POST("/start", s.handler.StartCall)
		limited.GET("/check_call_status", middleware.RequireSIDQuery(), s.handler.CheckCallStatus)
		limited.GET("/call_analysis", middleware.RequireSIDQuery(), s.handler.GetCallAnalysis)
		limited.POST("/process-call", s.handler.ProcessCall)
	}

	// Exotel-facing endpoints: the media stream and the status callback.
	// Neither goes through the rate limiter; Exotel controls the volume.
	router.GET("/media", s.handler.VoicebotWebSocket)
	router.POST("/webhooks/exotel", s.handler.ExotelWebhook)

	return router
}
