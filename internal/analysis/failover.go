package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/tally/internal/logging"
)

// Failover tries the primary provider first, then each fallback in order
// while the failure is retryable.
type Failover struct {
	registry  *Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailover creates a failover analyzer over providers in registry.
func NewFailover(registry *Registry, primary string, fallbacks []string, log *logging.Logger) *Failover {
	return &Failover{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("analysis.failover"),
	}
}

// Name returns the primary provider name.
func (f *Failover) Name() string { return f.primary }

// Analyze tries the primary provider, falling back on retryable errors.
func (f *Failover) Analyze(ctx context.Context, img Image) (*Result, error) {
	providers := append([]string{f.primary}, f.fallbacks...)

	var lastErr error
	for _, name := range providers {
		a, err := f.registry.Resolve(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("provider not registered, skipping")
			if lastErr == nil {
				lastErr = &Error{Kind: ServiceUnavailable, Provider: name, Err: err}
			}
			continue
		}

		res, err := a.Analyze(ctx, img)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if isRetryable(err) {
			f.log.Warn().
				Str("provider", name).
				Err(err).
				Msg("retryable error, trying next provider")
			continue
		}

		// The image itself is the problem; another provider will not help.
		return nil, err
	}

	return nil, lastErr
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable()
	}

	msg := err.Error()
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout")
}
