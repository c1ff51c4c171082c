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

// AnthropicProvider implements the Provider interface for Anthropic Claude
type AnthropicProvider struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
	baseURL   string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model string, maxTokens int, timeout time.Duration, logger *zap.Logger) *AnthropicProvider {
	if apiKey == "" {
		return &AnthropicProvider{logger: logger}
	}

	return &AnthropicProvider{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
		baseURL:   "https://api.anthropic.com/v1",
	}
}

// SetBaseURL points the provider at a different endpoint, for tests.
func (p *AnthropicProvider) SetBaseURL(url string) {
	p.baseURL = strings.TrimRight(url, "/")
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable checks if the provider is available
func (p *AnthropicProvider) IsAvailable() bool {
	return p.apiKey != ""
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *AnthropicProvider) createMessage(ctx context.Context, system string, messages []map[string]interface{}) (string, error) {
	requestBody := map[string]interface{}{
		"model":      p.model,
		"max_tokens": p.maxTokens,
		"system":     system,
		"messages":   messages,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	client := &http.Client{Timeout: p.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Anthropic API error: %d - %s", resp.StatusCode, string(body))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	for _, block := range parsed.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}

	return "", fmt.Errorf("no text content in response")
}

// GenerateReply generates the next conversational turn
func (p *AnthropicProvider) GenerateReply(ctx context.Context, req *ConversationRequest) (string, error) {
	if !p.IsAvailable() {
		return "", fmt.Errorf("Anthropic provider not available")
	}

	messages := make([]map[string]interface{}, 0, len(req.History)+1)
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

	return p.createMessage(ctx, req.SystemPrompt, messages)
}

// AnalyzeTranscript classifies a finished call transcript
func (p *AnthropicProvider) AnalyzeTranscript(ctx context.Context, req *AnalysisRequest) (*Classification, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("Anthropic provider not available")
	}

	content, err := p.createMessage(ctx, req.SystemPrompt, []map[string]interface{}{
		{
			"role":    "user",
			"content": fmt.Sprintf("Call SID: %s\n\nTranscript:\n%s\n\nRespond with the JSON object only.", req.CallSID, req.Transcript),
		},
	})
	if err != nil {
		return nil, err
	}

	return ParseClassification(content)
}
