package analysis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/internal/prompts"
	"github.com/troikatech/crm-voicebot/pkg/ai"
	"github.com/troikatech/crm-voicebot/pkg/exotel"
	"github.com/troikatech/crm-voicebot/pkg/metrics"
)

// CallProvider is the slice of the telephony client the pipeline needs.
type CallProvider interface {
	GetCallDetails(ctx context.Context, callSID string) (*exotel.CallDetails, error)
	DownloadRecording(ctx context.Context, recordingURL, dir string) (string, error)
}

// Transcriber converts a recording file to text.
type Transcriber interface {
	TranscribeFile(ctx context.Context, path, language string) (*ai.STTResponse, error)
}

// Classifier turns a transcript into a structured classification.
type Classifier interface {
	AnalyzeTranscript(ctx context.Context, req *ai.AnalysisRequest) (*ai.Classification, error)
}

// Report is the outcome handed back to process-call callers.
type Report struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	CallSID string        `json:"call_sid"`
	Data    *CallAnalysis `json:"data,omitempty"`
}

type Config struct {
	TmpDir     string
	JobTimeout time.Duration
	LockTTL    time.Duration
}

// Service coordinates post-call analysis. All expensive work runs on
// the worker pool; Process itself only validates and schedules.
type Service struct {
	store       *Store
	provider    CallProvider
	transcriber Transcriber
	classifier  Classifier
	redis       *redis.Client
	pool        *ants.Pool
	cfg         Config
	logger      *zap.Logger
}

func NewService(store *Store, provider CallProvider, transcriber Transcriber, classifier Classifier, redisClient *redis.Client, pool *ants.Pool, cfg Config, logger *zap.Logger) *Service {
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Service{
		store:       store,
		provider:    provider,
		transcriber: transcriber,
		classifier:  classifier,
		redis:       redisClient,
		pool:        pool,
		cfg:         cfg,
		logger:      logger,
	}
}

// Process triggers or reports analysis for a call. The order matters:
// an existing row short-circuits before any provider call, and a call
// whose recording is not ready causes zero database writes.
func (s *Service) Process(ctx context.Context, callSID string) (*Report, error) {
	row, err := s.store.Get(ctx, callSID)
	if err != nil {
		return nil, err
	}
	if row != nil {
		if row.Completed {
			return &Report{
				Status:  ReportCompleted,
				Message: "analysis already completed",
				CallSID: callSID,
				Data:    row,
			}, nil
		}
		return &Report{
			Status:  ReportProcessing,
			Message: "analysis is in progress",
			CallSID: callSID,
		}, nil
	}

	details, err := s.provider.GetCallDetails(ctx, callSID)
	if err != nil {
		return nil, fmt.Errorf("call lookup failed: %w", err)
	}

	if details.RecordingURL == "" {
		return &Report{
			Status:  ReportRecordingNotYet,
			Message: "call recording is not yet available",
			CallSID: callSID,
		}, nil
	}

	// Two concurrent Process calls for a never-seen SID would both pass
	// the no-row check; the lock lets exactly one schedule the job.
	locked, err := s.acquireLock(ctx, callSID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return &Report{
			Status:  ReportProcessing,
			Message: "analysis is in progress",
			CallSID: callSID,
		}, nil
	}

	job := func() {
		defer s.releaseLock(callSID)
		s.run(callSID, details)
	}
	if err := s.pool.Submit(job); err != nil {
		s.releaseLock(callSID)
		return nil, fmt.Errorf("failed to schedule analysis: %w", err)
	}

	return &Report{
		Status:  ReportProcessing,
		Message: "analysis started",
		CallSID: callSID,
	}, nil
}

func (s *Service) acquireLock(ctx context.Context, callSID string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, lockKey(callSID), 1, s.cfg.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire analysis lock: %w", err)
	}
	return ok, nil
}

func (s *Service) releaseLock(callSID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Del(ctx, lockKey(callSID)).Err(); err != nil {
		s.logger.Warn("failed to release analysis lock",
			zap.String("call_sid", callSID),
			zap.Error(err),
		)
	}
}

func lockKey(callSID string) string {
	return "analysis:lock:" + callSID
}

// run executes the pipeline steps in order, aborting on the first
// failure. Nothing is persisted until every step has succeeded, so an
// aborted run leaves no trace beyond logs.
func (s *Service) run(callSID string, details *exotel.CallDetails) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	log := s.logger.With(zap.String("call_sid", callSID))
	log.Info("starting post-call analysis")

	path, err := s.provider.DownloadRecording(ctx, details.RecordingURL, s.cfg.TmpDir)
	if err != nil {
		log.Error("recording download failed", zap.Error(err))
		metrics.RecordAnalysis(false)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove recording temp file", zap.String("path", path), zap.Error(err))
		}
	}()

	transcription, err := s.transcriber.TranscribeFile(ctx, path, "")
	if err != nil {
		log.Error("transcription failed", zap.Error(err))
		metrics.RecordAnalysis(false)
		return
	}

	classification, err := s.classifier.AnalyzeTranscript(ctx, &ai.AnalysisRequest{
		CallSID:      callSID,
		Transcript:   transcription.Text,
		SystemPrompt: prompts.AnalysisSystemPrompt(),
	})
	if err != nil {
		log.Error("classification failed", zap.Error(err))
		metrics.RecordAnalysis(false)
		return
	}

	if err := s.store.SaveResult(ctx, callSID, StatusCompleted, transcription.Text, classification); err != nil {
		log.Error("failed to persist analysis", zap.Error(err))
		metrics.RecordAnalysis(false)
		return
	}

	metrics.RecordAnalysis(true)
	log.Info("post-call analysis completed")
}
