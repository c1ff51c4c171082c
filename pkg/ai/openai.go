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
)

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	apiKey        string
	model         string
	analysisModel string
	maxTokens     int
	timeout       time.Duration
	logger        *zap.Logger
	baseURL       string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, model, analysisModel string, maxTokens int, timeout time.Duration, logger *zap.Logger) *OpenAIProvider {
	if apiKey == "" {
		return &OpenAIProvider{logger: logger}
	}

	return &OpenAIProvider{
		apiKey:        apiKey,
		model:         model,
		analysisModel: analysisModel,
		maxTokens:     maxTokens,
		timeout:       timeout,
		logger:        logger,
		baseURL:       "https://api.openai.com/v1",
	}
}

// SetBaseURL points the provider at a different endpoint, for tests.
func (p *OpenAIProvider) SetBaseURL(url string) {
	p.baseURL = strings.TrimRight(url, "/")
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is available
func (p *OpenAIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) chatCompletion(ctx context.Context, requestBody map[string]interface{}) (string, error) {
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	client := &http.Client{Timeout: p.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OpenAI API error: %d - %s", resp.StatusCode, string(body))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// GenerateReply generates the next conversational turn
func (p *OpenAIProvider) GenerateReply(ctx context.Context, req *ConversationRequest) (string, error) {
	if !p.IsAvailable() {
		return "", fmt.Errorf("OpenAI provider not available")
	}

	messages := []map[string]interface{}{
		{"role": "system", "content": req.SystemPrompt},
	}
	for _, msg := range req.History {
		messages = append(messages, map[string]interface{}{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}
	messages = append(messages, map[string]interface{}{
		"role":    "user",
		"content": req.UserText,
	})

	return p.chatCompletion(ctx, map[string]interface{}{
		"model":       p.model,
		"messages":    messages,
		"max_tokens":  p.maxTokens,
		"temperature": 0.7,
	})
}

// AnalyzeTranscript classifies a finished call transcript. The analysis
// model is usually heavier than the conversational one; JSON mode keeps
// the output machine-readable.
func (p *OpenAIProvider) AnalyzeTranscript(ctx context.Context, req *AnalysisRequest) (*Classification, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("OpenAI provider not available")
	}

	model := p.analysisModel
	if model == "" {
		model = p.model
	}

	content, err := p.chatCompletion(ctx, map[string]interface{}{
		"model": model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": req.SystemPrompt},
			{"role": "user", "content": fmt.Sprintf("Call SID: %s\n\nTranscript:\n%s", req.CallSID, req.Transcript)},
		},
		"max_tokens":      p.maxTokens,
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}

	return ParseClassification(content)
}
