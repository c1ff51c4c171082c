package ai

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// MockProvider is a mock implementation of Provider for testing
type MockProvider struct {
	name      string
	available bool
	shouldErr bool
	calls     int
}

func (m *MockProvider) GenerateReply(ctx context.Context, req *ConversationRequest) (string, error) {
	m.calls++
	if m.shouldErr {
		return "", errors.New("mock error")
	}
	return "reply from " + m.name, nil
}

func (m *MockProvider) AnalyzeTranscript(ctx context.Context, req *AnalysisRequest) (*Classification, error) {
	m.calls++
	if m.shouldErr {
		return nil, errors.New("mock error")
	}
	return &Classification{Summary: "summary from " + m.name, ThreatFlag: "No"}, nil
}

func (m *MockProvider) IsAvailable() bool {
	return m.available
}

func (m *MockProvider) Name() string {
	return m.name
}

func TestManager_GetAvailableProvider(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		providers []Provider
		want      string
		wantNil   bool
	}{
		{
			name: "returns first available provider",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true},
				&MockProvider{name: "provider2", available: true},
			},
			want: "provider1",
		},
		{
			name: "returns nil when no providers available",
			providers: []Provider{
				&MockProvider{name: "provider1", available: false},
				&MockProvider{name: "provider2", available: false},
			},
			wantNil: true,
		},
		{
			name: "skips unavailable providers",
			providers: []Provider{
				&MockProvider{name: "provider1", available: false},
				&MockProvider{name: "provider2", available: true},
			},
			want: "provider2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.providers, logger)
			got := m.GetAvailableProvider()

			if tt.wantNil {
				if got != nil {
					t.Errorf("Manager.GetAvailableProvider() = %v, want nil", got)
				}
			} else {
				if got == nil {
					t.Errorf("Manager.GetAvailableProvider() = nil, want %v", tt.want)
				} else if got.Name() != tt.want {
					t.Errorf("Manager.GetAvailableProvider() = %v, want %v", got.Name(), tt.want)
				}
			}
		})
	}
}

func TestManager_GenerateReply_WithFallback(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		providers []Provider
		wantErr   bool
		wantReply string
	}{
		{
			name: "succeeds with first provider",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true},
				&MockProvider{name: "provider2", available: true},
			},
			wantReply: "reply from provider1",
		},
		{
			name: "falls back to second provider when first fails",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true, shouldErr: true},
				&MockProvider{name: "provider2", available: true},
			},
			wantReply: "reply from provider2",
		},
		{
			name: "fails when all providers fail",
			providers: []Provider{
				&MockProvider{name: "provider1", available: true, shouldErr: true},
				&MockProvider{name: "provider2", available: true, shouldErr: true},
			},
			wantErr: true,
		},
		{
			name:      "fails with no providers",
			providers: []Provider{},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.providers, logger)
			req := &ConversationRequest{
				SystemPrompt: "You are a support agent.",
				UserText:     "hello",
			}

			reply, err := m.GenerateReply(context.Background(), req)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Manager.GenerateReply() expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("Manager.GenerateReply() error = %v, want nil", err)
				}
				if reply != tt.wantReply {
					t.Errorf("Manager.GenerateReply() = %v, want %v", reply, tt.wantReply)
				}
			}
		})
	}
}

func TestManager_AnalyzeTranscript_WithFallback(t *testing.T) {
	logger := zap.NewNop()
	primary := &MockProvider{name: "primary", available: true, shouldErr: true}
	secondary := &MockProvider{name: "secondary", available: true}
	m := NewManager([]Provider{primary, secondary}, logger)

	result, err := m.AnalyzeTranscript(context.Background(), &AnalysisRequest{
		CallSID:    "CA123",
		Transcript: "User: hello",
	})
	if err != nil {
		t.Fatalf("Manager.AnalyzeTranscript() error = %v, want nil", err)
	}
	if result.Summary != "summary from secondary" {
		t.Errorf("Manager.AnalyzeTranscript() summary = %v, want fallback provider result", result.Summary)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("provider call counts = %d/%d, want 1/1", primary.calls, secondary.calls)
	}
}

func TestManager_SkipsUnavailableProviders(t *testing.T) {
	logger := zap.NewNop()
	unavailable := &MockProvider{name: "unconfigured", available: false}
	available := &MockProvider{name: "configured", available: true}
	m := NewManager([]Provider{unavailable, available}, logger)

	_, err := m.GenerateReply(context.Background(), &ConversationRequest{UserText: "hi"})
	if err != nil {
		t.Fatalf("Manager.GenerateReply() error = %v, want nil", err)
	}
	if unavailable.calls != 0 {
		t.Errorf("unavailable provider was called %d times, want 0", unavailable.calls)
	}
}
