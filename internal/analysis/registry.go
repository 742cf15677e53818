package analysis

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/tally/internal/config"
	"github.com/soyeahso/tally/internal/logging"
)

// Registry holds the configured analyzers by provider name.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]Analyzer
	log       *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		analyzers: make(map[string]Analyzer),
		log:       log.Sub("analysis.registry"),
	}
}

// Register adds an analyzer under the given provider name.
func (r *Registry) Register(name string, a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[name] = a
	r.log.Info().Str("provider", name).Msg("registered analysis provider")
}

// Resolve returns the analyzer registered under name.
func (r *Registry) Resolve(name string) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.analyzers[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no analysis provider %q", name)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analyzers))
	for n := range r.analyzers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig builds the analyzer described by cfg: the primary provider,
// wrapped in a Failover when fallbacks are configured.
func NewFromConfig(cfg config.AnalysisConfig, log *logging.Logger) (Analyzer, error) {
	primary := ProviderSettings{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey, Model: cfg.Model}

	// The caller's context carries the real deadline. This only bounds
	// callers that pass none.
	backstop := 2 * cfg.AnalysisTimeout()
	if backstop <= 0 {
		backstop = 2 * time.Minute
	}

	primaryAnalyzer, err := NewProvider(cfg.Provider, primary, backstop, log)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primaryAnalyzer, nil
	}

	reg := NewRegistry(log)
	reg.Register(cfg.Provider, primaryAnalyzer)
	for _, name := range cfg.Fallbacks {
		pc := cfg.Providers[name]
		a, err := NewProvider(name, ProviderSettings(pc), backstop, log)
		if err != nil {
			return nil, fmt.Errorf("fallback %s: %w", name, err)
		}
		reg.Register(name, a)
	}
	return NewFailover(reg, cfg.Provider, cfg.Fallbacks, log), nil
}

// ProviderSettings are the per-provider connection settings.
type ProviderSettings struct {
	Endpoint string
	APIKey   string
	Model    string
}

// NewProvider creates a single analyzer by provider name.
func NewProvider(name string, s ProviderSettings, timeout time.Duration, log *logging.Logger) (Analyzer, error) {
	switch name {
	case "service":
		endpoint := s.Endpoint
		if endpoint == "" {
			endpoint = config.DefaultServiceEndpoint
		}
		return NewServiceClient(endpoint, s.APIKey, &http.Client{Timeout: timeout}, log), nil
	case "anthropic":
		return NewAnthropicClient(s.APIKey, s.Model, s.Endpoint, log), nil
	case "openai":
		return NewOpenAIClient(s.APIKey, s.Model, s.Endpoint, log), nil
	default:
		return nil, &config.ConfigError{Message: fmt.Sprintf("unknown analysis provider %q", name)}
	}
}
