package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider is the base interface for all LLM providers
type Provider interface {
	// GenerateReply produces the bot's next conversational turn
	GenerateReply(ctx context.Context, req *ConversationRequest) (string, error)

	// AnalyzeTranscript classifies a finished call transcript
	AnalyzeTranscript(ctx context.Context, req *AnalysisRequest) (*Classification, error)

	// IsAvailable checks if the provider is available/configured
	IsAvailable() bool

	// Name returns the provider name
	Name() string
}

// Message is a single conversation turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationRequest represents a live conversation request
type ConversationRequest struct {
	SystemPrompt string
	History      []Message
	UserText     string
}

// AnalysisRequest represents a transcript classification request
type AnalysisRequest struct {
	CallSID      string
	Transcript   string
	SystemPrompt string
}

// Classification is the structured outcome of post-call analysis. Every
// judgment field carries a companion reason so reviewers can audit the
// model's verdicts. Flag fields are tri-state strings (Yes, No, Unclear):
// the classifier is told to answer Unclear rather than guess.
type Classification struct {
	Summary                   string   `json:"summary"`
	InformationRequested      string   `json:"information_requested"`
	ThreatFlag                string   `json:"threat_flag"`
	ThreatReason              string   `json:"threat_reason"`
	Priority                  string   `json:"priority"`
	PriorityReason            string   `json:"priority_reason"`
	HumanInterventionRequired string   `json:"human_intervention_required"`
	HumanInterventionReason   string   `json:"human_intervention_reason"`
	Satisfied                 string   `json:"satisfied"`
	SatisfiedReason           string   `json:"satisfied_reason"`
	Nuisance                  string   `json:"nuisance"`
	NuisanceReason            string   `json:"nuisance_reason"`
	FrustrationLevel          string   `json:"frustration_level"`
	FrustrationReason         string   `json:"frustration_reason"`
	RepeatedComplaint         string   `json:"repeated_complaint"`
	RepeatedComplaintReason   string   `json:"repeated_complaint_reason"`
	NextBestAction            string   `json:"next_best_action"`
	OpenQuestions             []string `json:"open_questions"`
	PIIDetected               string   `json:"pii_detected"`
	PIITypes                  []string `json:"pii_types"`
}

// ParseClassification decodes a model response into a Classification.
// Models wrap JSON in markdown fences often enough that stripping them
// here is cheaper than fighting the prompt.
func ParseClassification(raw string) (*Classification, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var c Classification
	if err := json.Unmarshal([]byte(cleaned), &c); err != nil {
		return nil, fmt.Errorf("failed to parse classification: %w", err)
	}
	return &c, nil
}
