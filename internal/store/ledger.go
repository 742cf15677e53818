package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/soyeahso/tally/internal/domain"
)

// ErrNotFound is returned when a receipt id is unknown.
var ErrNotFound = errors.New("receipt not found")

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// defaultListLimit caps ListReceipts when no limit is given.
const defaultListLimit = 50

// Receipt is one committed receipt as journaled in the ledger.
type Receipt struct {
	ID           string                `json:"id"`
	Conversation domain.ConversationID `json:"conversation"`
	EventID      string                `json:"eventId,omitempty"`
	Provider     string                `json:"provider,omitempty"`
	Total        decimal.Decimal       `json:"total"`
	ItemsTotal   decimal.Decimal       `json:"itemsTotal"`
	SessionTotal decimal.NullDecimal   `json:"sessionTotal"`
	Items        []domain.LineItem     `json:"items"`
	CommittedAt  time.Time             `json:"committedAt"`
}

// ListFilter narrows ListReceipts. Zero values match everything.
type ListFilter struct {
	Conversation string // ConversationID.String()
	Since        time.Time
	Limit        int
}

// ConversationSummary aggregates the ledger for one conversation.
type ConversationSummary struct {
	Conversation string          `json:"conversation"`
	Receipts     int             `json:"receipts"`
	Items        int             `json:"items"`
	Total        decimal.Decimal `json:"total"`
	LastAt       time.Time       `json:"lastAt"`
}

// AppendReceipt journals r with its items in one transaction. An empty ID
// gets a fresh uuid and a zero CommittedAt becomes now.
func (db *DB) AppendReceipt(ctx context.Context, r Receipt) (Receipt, error) {
	if r.Conversation.IsZero() {
		return Receipt{}, errors.New("receipt has no conversation")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CommittedAt.IsZero() {
		r.CommittedAt = time.Now()
	}
	r.CommittedAt = r.CommittedAt.UTC()

	var sessionTotal string
	if r.SessionTotal.Valid {
		sessionTotal = r.SessionTotal.Decimal.String()
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("begin receipt: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO receipts (id, conversation, channel_id, chat_id, sender_id, event_id, provider,
		                       total, items_total, session_total, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Conversation.String(), r.Conversation.ChannelID, r.Conversation.ChatID, r.Conversation.SenderID,
		r.EventID, r.Provider, r.Total.String(), r.ItemsTotal.String(), sessionTotal,
		r.CommittedAt.Format(timeLayout),
	); err != nil {
		return Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}

	for i, it := range r.Items {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO receipt_items (receipt_id, position, name, price) VALUES (?, ?, ?, ?)",
			r.ID, i, it.Name, it.Price.String(),
		); err != nil {
			return Receipt{}, fmt.Errorf("insert receipt item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Receipt{}, fmt.Errorf("commit receipt: %w", err)
	}

	db.log.Debug().
		Str("id", r.ID).
		Str("conversation", r.Conversation.String()).
		Int("items", len(r.Items)).
		Msg("receipt journaled")
	return r, nil
}

const receiptColumns = `id, channel_id, chat_id, sender_id, event_id, provider,
	total, items_total, session_total, committed_at`

// GetReceipt loads one receipt with its items.
func (db *DB) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	rows, err := db.sql.QueryContext(ctx, "SELECT "+receiptColumns+" FROM receipts WHERE id = ?", id)
	if err != nil {
		return Receipt{}, fmt.Errorf("query receipt: %w", err)
	}
	receipts, err := scanReceipts(rows)
	if err != nil {
		return Receipt{}, err
	}
	if len(receipts) == 0 {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := db.loadItems(ctx, receipts); err != nil {
		return Receipt{}, err
	}
	return receipts[0], nil
}

// ListReceipts returns receipts newest first.
func (db *DB) ListReceipts(ctx context.Context, f ListFilter) ([]Receipt, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var where []string
	var args []any
	if f.Conversation != "" {
		where = append(where, "conversation = ?")
		args = append(args, f.Conversation)
	}
	if !f.Since.IsZero() {
		where = append(where, "committed_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	query := "SELECT " + receiptColumns + " FROM receipts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY committed_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	receipts, err := scanReceipts(rows)
	if err != nil {
		return nil, err
	}
	if err := db.loadItems(ctx, receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}

// Summaries aggregates the whole ledger per conversation, ordered by
// conversation. Totals are summed as decimals, never as floats.
func (db *DB) Summaries(ctx context.Context) ([]ConversationSummary, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT r.conversation, r.items_total, r.committed_at,
		       (SELECT COUNT(*) FROM receipt_items i WHERE i.receipt_id = r.id)
		FROM receipts r
		ORDER BY r.conversation, r.committed_at`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var conv, itemsTotal, at string
		var items int
		if err := rows.Scan(&conv, &itemsTotal, &at, &items); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(itemsTotal)
		if err != nil {
			return nil, fmt.Errorf("corrupt total %q: %w", itemsTotal, err)
		}
		ts, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp %q: %w", at, err)
		}

		if n := len(out); n == 0 || out[n-1].Conversation != conv {
			out = append(out, ConversationSummary{Conversation: conv, Total: decimal.Zero})
		}
		s := &out[len(out)-1]
		s.Receipts++
		s.Items += items
		s.Total = s.Total.Add(amount)
		s.LastAt = ts
	}
	return out, rows.Err()
}

// scanReceipts drains and closes rows. Items are loaded separately so no
// query runs while rows hold the connection.
func scanReceipts(rows *sql.Rows) ([]Receipt, error) {
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		var total, itemsTotal, sessionTotal, at string
		if err := rows.Scan(
			&r.ID, &r.Conversation.ChannelID, &r.Conversation.ChatID, &r.Conversation.SenderID,
			&r.EventID, &r.Provider, &total, &itemsTotal, &sessionTotal, &at,
		); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}

		var err error
		if r.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("receipt %s: total: %w", r.ID, err)
		}
		if r.ItemsTotal, err = decimal.NewFromString(itemsTotal); err != nil {
			return nil, fmt.Errorf("receipt %s: items total: %w", r.ID, err)
		}
		if sessionTotal != "" {
			d, err := decimal.NewFromString(sessionTotal)
			if err != nil {
				return nil, fmt.Errorf("receipt %s: session total: %w", r.ID, err)
			}
			r.SessionTotal = decimal.NewNullDecimal(d)
		}
		if r.CommittedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("receipt %s: committed_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

func (db *DB) loadItems(ctx context.Context, receipts []Receipt) error {
	for i := range receipts {
		items, err := db.receiptItems(ctx, receipts[i].ID)
		if err != nil {
			return err
		}
		receipts[i].Items = items
	}
	return nil
}

func (db *DB) receiptItems(ctx context.Context, id string) ([]domain.LineItem, error) {
	rows, err := db.sql.QueryContext(ctx,
		"SELECT name, price FROM receipt_items WHERE receipt_id = ? ORDER BY position", id)
	if err != nil {
		return nil, fmt.Errorf("query items for %s: %w", id, err)
	}
	defer rows.Close()

	items := []domain.LineItem{}
	for rows.Next() {
		var name, price string
		if err := rows.Scan(&name, &price); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("receipt %s: item %q price: %w", id, name, err)
		}
		items = append(items, domain.LineItem{Name: name, Price: p})
	}
	return items, rows.Err()
}
