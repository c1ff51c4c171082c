package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/pkg/circuitbreaker"
	"github.com/troikatech/crm-voicebot/pkg/metrics"
)

// Manager manages LLM providers with fallback logic. Each provider is
// wrapped in its own circuit breaker so a flapping upstream stops
// absorbing latency budget before the fallback gets a chance.
type Manager struct {
	providers []Provider
	breakers  map[string]*circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewManager creates a new LLM provider manager
func NewManager(providers []Provider, logger *zap.Logger) *Manager {
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	return &Manager{
		providers: providers,
		breakers:  breakers,
		logger:    logger,
	}
}

// GetAvailableProvider returns the first available provider
func (m *Manager) GetAvailableProvider() Provider {
	for _, provider := range m.providers {
		if provider.IsAvailable() {
			return provider
		}
	}
	return nil
}

// ExecuteWithFallback executes a method on providers with fallback logic
func (m *Manager) ExecuteWithFallback(
	ctx context.Context,
	method func(Provider, context.Context) (interface{}, error),
) (interface{}, error) {
	if len(m.providers) == 0 {
		return nil, fmt.Errorf("no AI providers available")
	}

	var lastErr error
	for _, provider := range m.providers {
		if !provider.IsAvailable() {
			continue
		}

		var result interface{}
		cb := m.breakers[provider.Name()]
		callStart := time.Now()
		err := cb.Execute(ctx, func() error {
			var callErr error
			result, callErr = method(provider, ctx)
			return callErr
		})
		metrics.RecordServiceCall(provider.Name(), err == nil, time.Since(callStart))

		stats := cb.GetStats()
		metrics.UpdateCircuitBreaker(provider.Name(), stats["state"].(string), int64(stats["failures"].(int)))

		if err == nil {
			return result, nil
		}

		lastErr = err
		m.logger.Warn("AI provider failed, trying next",
			zap.String("provider", provider.Name()),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("all AI providers failed. Last error: %w", lastErr)
}

// GenerateReply generates the next bot turn with fallback
func (m *Manager) GenerateReply(ctx context.Context, req *ConversationRequest) (string, error) {
	result, err := m.ExecuteWithFallback(ctx, func(provider Provider, ctx context.Context) (interface{}, error) {
		return provider.GenerateReply(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// AnalyzeTranscript classifies a transcript with fallback
func (m *Manager) AnalyzeTranscript(ctx context.Context, req *AnalysisRequest) (*Classification, error) {
	result, err := m.ExecuteWithFallback(ctx, func(provider Provider, ctx context.Context) (interface{}, error) {
		return provider.AnalyzeTranscript(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Classification), nil
}
