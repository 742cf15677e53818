// Package session holds per-conversation receipt state.
//
// A Session is only ever touched through Store.WithSession (or a Handle
// obtained from the store), which serializes access per conversation.
// Nothing outside this package can reach the fields directly.
package session

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/tally/internal/domain"
)

// State is the analysis state of a conversation.
type State string

const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
)

// Token identifies one analysis run. Releasing with a stale token is a
// no-op, so a late cleanup can never end a newer analysis.
type Token uint64

// Session is the receipt-tracking state of one conversation.
type Session struct {
	id         domain.ConversationID
	items      []domain.LineItem
	total      decimal.Decimal
	processing bool
	generation Token
	receipts   int
	createdAt  time.Time
	updatedAt  time.Time
}

func newSession(id domain.ConversationID) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		total:     decimal.Zero,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the conversation this session belongs to.
func (s *Session) ID() domain.ConversationID { return s.id }

// Items returns a copy of the recorded items in insertion order. It is never
// nil, so an empty session encodes as an empty JSON list.
func (s *Session) Items() []domain.LineItem {
	return append([]domain.LineItem{}, s.items...)
}

// Total returns the running total.
func (s *Session) Total() decimal.Decimal { return s.total }

// Len returns the number of recorded items.
func (s *Session) Len() int { return len(s.items) }

// State returns Analyzing while an image is in flight, Idle otherwise.
func (s *Session) State() State {
	if s.processing {
		return StateAnalyzing
	}
	return StateIdle
}

// Processing reports whether an analysis is in flight.
func (s *Session) Processing() bool { return s.processing }

// BeginAnalysis moves the session to Analyzing. It returns false when an
// analysis is already running; the caller must not start another one.
func (s *Session) BeginAnalysis() (Token, bool) {
	if s.processing {
		return 0, false
	}
	s.generation++
	s.processing = true
	s.touch()
	return s.generation, true
}

// EndAnalysis returns the session to Idle if tok is the current run.
// It is idempotent.
func (s *Session) EndAnalysis(tok Token) bool {
	if !s.processing || tok != s.generation {
		return false
	}
	s.processing = false
	s.touch()
	return true
}

// Commit appends every item and adds their prices to the total in one step.
// The total is always derived from the committed items so it cannot drift
// from their sum.
func (s *Session) Commit(items []domain.LineItem) decimal.Decimal {
	delta := domain.SumPrices(items)
	s.items = append(s.items, items...)
	s.total = s.total.Add(delta)
	s.receipts++
	s.touch()
	return delta
}

// Reset clears items and total in place. An in-flight analysis is not
// affected and will commit onto the cleared state.
func (s *Session) Reset() {
	s.items = s.items[:0]
	s.total = decimal.Zero
	s.receipts = 0
	s.touch()
}

// Snapshot returns a detached copy of the session.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:        s.id,
		Items:     s.Items(),
		Total:     s.total,
		State:     s.State(),
		Receipts:  s.receipts,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

// Snapshot is a read-only copy of a Session, safe to hand to other goroutines.
type Snapshot struct {
	ID        domain.ConversationID `json:"id"`
	Items     []domain.LineItem     `json:"items"`
	Total     decimal.Decimal       `json:"total"`
	State     State                 `json:"state"`
	Receipts  int                   `json:"receipts"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}
