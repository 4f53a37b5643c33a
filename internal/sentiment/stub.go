package sentiment

import (
	"context"
	"fmt"
	"sync"
)

// NoopProvider returns a neutral analysis for every token. Used when no
// sentiment backend is configured so callers never branch on provider absence.
type NoopProvider struct{}

// Name returns the provider's identifier.
func (NoopProvider) Name() string { return "noop" }

// AnalyzeToken returns an empty neutral analysis.
func (NoopProvider) AnalyzeToken(_ context.Context, symbol, _ string) (*TokenSentiment, error) {
	return Analyze(symbol, nil), nil
}

// StubProvider is a deterministic provider for testing. It returns pre-loaded
// analyses keyed by symbol, or an error when marked unhealthy.
type StubProvider struct {
	mu      sync.Mutex
	results map[string]*TokenSentiment
	healthy bool
	calls   int
}

// NewStubProvider creates a StubProvider with the given canned results.
func NewStubProvider(results map[string]*TokenSentiment) *StubProvider {
	if results == nil {
		results = make(map[string]*TokenSentiment)
	}
	return &StubProvider{results: results, healthy: true}
}

// Name returns the provider's identifier.
func (s *StubProvider) Name() string { return "stub" }

// AnalyzeToken returns the canned analysis for symbol, or a neutral one when
// none is loaded.
func (s *StubProvider) AnalyzeToken(_ context.Context, symbol, _ string) (*TokenSentiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if !s.healthy {
		return nil, fmt.Errorf("stub provider is unhealthy")
	}
	if r, ok := s.results[symbol]; ok {
		return r, nil
	}
	return Analyze(symbol, nil), nil
}

// SetResult loads a canned analysis for a symbol.
func (s *StubProvider) SetResult(symbol string, r *TokenSentiment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[symbol] = r
}

// SetHealthy toggles whether AnalyzeToken fails.
func (s *StubProvider) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// Calls returns the number of AnalyzeToken invocations.
func (s *StubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
