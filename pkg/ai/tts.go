package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/pkg/audio"
)

// TTSService handles Text-to-Speech using ElevenLabs
type TTSService struct {
	apiKey              string
	defaultVoiceID      string
	defaultModelID      string
	defaultOutputFormat string
	timeout             time.Duration
	logger              *zap.Logger
	baseURL             string
}

// NewTTSService creates a new TTS service
func NewTTSService(apiKey, voiceID, modelID, outputFormat string, timeout time.Duration, logger *zap.Logger) *TTSService {
	if apiKey == "" {
		return &TTSService{logger: logger}
	}

	return &TTSService{
		apiKey:              apiKey,
		defaultVoiceID:      voiceID,
		defaultModelID:      modelID,
		defaultOutputFormat: outputFormat,
		timeout:             timeout,
		logger:              logger,
		baseURL:             "https://api.elevenlabs.io/v1",
	}
}

// SetBaseURL points the service at a different endpoint, for tests.
func (s *TTSService) SetBaseURL(url string) {
	s.baseURL = strings.TrimRight(url, "/")
}

// IsAvailable checks if TTS service is available
func (s *TTSService) IsAvailable() bool {
	return s.apiKey != ""
}

// TTSRequest represents a TTS request
type TTSRequest struct {
	Text            string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
}

func (s *TTSService) resolve(req *TTSRequest) (voiceID, modelID, outputFormat string, stability, similarityBoost float64) {
	voiceID = req.VoiceID
	if voiceID == "" {
		voiceID = s.defaultVoiceID
	}
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM"
	}

	modelID = req.ModelID
	if modelID == "" {
		modelID = s.defaultModelID
	}
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}

	outputFormat = req.OutputFormat
	if outputFormat == "" {
		outputFormat = s.defaultOutputFormat
	}
	if outputFormat == "" {
		outputFormat = "pcm_8000"
	}

	stability = req.Stability
	if stability == 0 {
		stability = 0.5
	}
	similarityBoost = req.SimilarityBoost
	if similarityBoost == 0 {
		similarityBoost = 0.5
	}
	return
}

func (s *TTSService) request(ctx context.Context, url string, req *TTSRequest, modelID string, stability, similarityBoost float64) (*http.Response, error) {
	requestBody := map[string]interface{}{
		"text":     req.Text,
		"model_id": modelID,
		"voice_settings": map[string]interface{}{
			"stability":        stability,
			"similarity_boost": similarityBoost,
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", s.apiKey)

	client := &http.Client{Timeout: s.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ElevenLabs API error: %d - %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// TextToSpeech converts text to speech and returns the whole utterance.
func (s *TTSService) TextToSpeech(ctx context.Context, req *TTSRequest) ([]byte, error) {
	if !s.IsAvailable() {
		return nil, fmt.Errorf("TTS service not available. Set ELEVENLABS_API_KEY environment variable")
	}
	if req.Text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voiceID, modelID, outputFormat, stability, similarityBoost := s.resolve(req)
	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", s.baseURL, voiceID, outputFormat)

	resp, err := s.request(ctx, url, req, modelID, stability, similarityBoost)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	return audioData, nil
}

// TextToSpeechStream synthesizes text and invokes callback with fixed
// size chunks as audio arrives, so the first frames hit the caller
// before the utterance is fully rendered. With a pcm_* output format
// the chunks are ready for the telephony leg as-is.
func (s *TTSService) TextToSpeechStream(ctx context.Context, req *TTSRequest, chunkSize int, callback func([]byte) error) error {
	if !s.IsAvailable() {
		return fmt.Errorf("TTS service not available. Set ELEVENLABS_API_KEY environment variable")
	}
	if req.Text == "" {
		return fmt.Errorf("text cannot be empty")
	}

	voiceID, modelID, outputFormat, stability, similarityBoost := s.resolve(req)
	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s", s.baseURL, voiceID, outputFormat)

	resp, err := s.request(ctx, url, req, modelID, stability, similarityBoost)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return audio.StreamChunks(resp.Body, chunkSize, callback)
}
