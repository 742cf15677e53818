package attachment

import (
	"context"
	"errors"
	"sync"

	"github.com/soyeahso/tally/internal/domain"
)

// Mux routes each attachment to the fetcher registered for its Source and
// falls back to a default fetcher otherwise.
type Mux struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
	fallback Fetcher
}

// NewMux creates a mux with the given fallback. fallback may be nil.
func NewMux(fallback Fetcher) *Mux {
	return &Mux{
		fetchers: make(map[string]Fetcher),
		fallback: fallback,
	}
}

// Handle registers f for attachments whose Source is source.
func (m *Mux) Handle(source string, f Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchers[source] = f
}

// Fetch implements Fetcher.
func (m *Mux) Fetch(ctx context.Context, att domain.Attachment) (*Blob, error) {
	m.mu.RLock()
	f, ok := m.fetchers[att.Source]
	if !ok {
		f = m.fallback
	}
	m.mu.RUnlock()

	if f == nil {
		return nil, &Error{Kind: NotFound, Ref: ref(att), Err: errors.New("no fetcher for source " + att.Source)}
	}
	return f.Fetch(ctx, att)
}
