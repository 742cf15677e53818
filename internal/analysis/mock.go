package analysis

import (
	"context"
	"sync/atomic"
)

// MockAnalyzer is a test double for Analyzer.
type MockAnalyzer struct {
	ProviderName string
	AnalyzeFunc  func(ctx context.Context, img Image) (*Result, error)

	calls atomic.Int64
}

func (m *MockAnalyzer) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockAnalyzer) Analyze(ctx context.Context, img Image) (*Result, error) {
	m.calls.Add(1)
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, img)
	}
	return &Result{}, nil
}

// Calls returns how many times Analyze was invoked.
func (m *MockAnalyzer) Calls() int { return int(m.calls.Load()) }
