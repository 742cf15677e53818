package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/tally/internal/domain"
	"github.com/soyeahso/tally/internal/hooks"
	"github.com/soyeahso/tally/internal/logging"
	"github.com/soyeahso/tally/internal/store"
)

// LedgerID is the plugin id of the receipt ledger.
const LedgerID = "ledger"

// Ledger journals every committed receipt to SQLite. The journal is
// append-only and never read back into sessions.
type Ledger struct {
	path  string
	db    *store.DB
	hooks *hooks.Manager
	log   *logging.Logger
}

// NewLedger returns a ledger plugin writing to the database at path.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) ID() string      { return LedgerID }
func (l *Ledger) Name() string    { return "Receipt ledger" }
func (l *Ledger) Version() string { return "1.0.0" }

// Init opens the database and subscribes to receipt_committed.
func (l *Ledger) Init(ctx context.Context, api API) error {
	db, err := store.Open(ctx, l.path, api.Log)
	if err != nil {
		return err
	}
	l.db = db
	l.log = api.Log
	l.hooks = api.Hooks
	api.Hooks.On(hooks.EventReceiptCommitted, LedgerID, l.record)
	return nil
}

// Close unsubscribes and closes the database. Pending async hook calls
// should be drained with hooks.Manager.Wait first.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	l.hooks.Off(hooks.EventReceiptCommitted, LedgerID)
	err := l.db.Close()
	l.db = nil
	return err
}

// DB returns the open ledger, or nil before Init.
func (l *Ledger) DB() *store.DB { return l.db }

func (l *Ledger) record(ctx context.Context, p hooks.Payload) error {
	r, err := receiptFromPayload(p)
	if err != nil {
		return err
	}
	if l.db == nil {
		return errors.New("ledger is closed")
	}
	saved, err := l.db.AppendReceipt(ctx, r)
	if err != nil {
		return err
	}
	l.log.Debug().
		Str("id", saved.ID).
		Str("conversation", saved.Conversation.String()).
		Msg("receipt recorded")
	return nil
}

func receiptFromPayload(p hooks.Payload) (store.Receipt, error) {
	conv, ok := p.Data["conversationId"].(domain.ConversationID)
	if !ok || conv.IsZero() {
		return store.Receipt{}, errors.New("receipt payload has no conversationId")
	}

	total, err := decimal.NewFromString(p.String("receiptTotal"))
	if err != nil {
		return store.Receipt{}, fmt.Errorf("receipt total: %w", err)
	}
	itemsTotal, err := decimal.NewFromString(p.String("itemsTotal"))
	if err != nil {
		return store.Receipt{}, fmt.Errorf("items total: %w", err)
	}

	r := store.Receipt{
		Conversation: conv,
		EventID:      p.String("event"),
		Provider:     p.String("provider"),
		Total:        total,
		ItemsTotal:   itemsTotal,
	}
	if s := p.String("sessionTotal"); s != "" {
		sessionTotal, err := decimal.NewFromString(s)
		if err != nil {
			return store.Receipt{}, fmt.Errorf("session total: %w", err)
		}
		r.SessionTotal = decimal.NewNullDecimal(sessionTotal)
	}
	if items, ok := p.Data["items"].([]domain.LineItem); ok {
		r.Items = items
	}
	return r, nil
}
