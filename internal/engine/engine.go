// Package engine runs the per-conversation receipt workflow: text commands
// against the session, and the photo pipeline that fetches an attachment,
// analyzes it and commits the extracted items.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/soyeahso/tally/internal/analysis"
	"github.com/soyeahso/tally/internal/attachment"
	"github.com/soyeahso/tally/internal/domain"
	"github.com/soyeahso/tally/internal/hooks"
	"github.com/soyeahso/tally/internal/logging"
	"github.com/soyeahso/tally/internal/session"
)

// ReplySink delivers text back to a conversation.
type ReplySink interface {
	Reply(ctx context.Context, id domain.ConversationID, text string) error
}

// ReplyFunc adapts a function to the ReplySink interface.
type ReplyFunc func(ctx context.Context, id domain.ConversationID, text string) error

// Reply calls f.
func (f ReplyFunc) Reply(ctx context.Context, id domain.ConversationID, text string) error {
	return f(ctx, id, text)
}

// Options tunes the engine. Zero timeouts mean no deadline.
type Options struct {
	FetchTimeout          time.Duration
	AnalysisTimeout       time.Duration
	MaxConcurrentAnalyses int
	Hooks                 *hooks.Manager
}

// Engine consumes events and keeps one receipt session per conversation.
type Engine struct {
	store    *session.Store
	fetcher  attachment.Fetcher
	analyzer analysis.Analyzer
	replies  ReplySink
	opts     Options
	slots    *semaphore.Weighted
	inflight sync.WaitGroup
	log      *logging.Logger
}

// New creates an engine. A nil store gets a fresh one.
func New(
	store *session.Store,
	fetcher attachment.Fetcher,
	analyzer analysis.Analyzer,
	replies ReplySink,
	opts Options,
	log *logging.Logger,
) *Engine {
	if store == nil {
		store = session.NewStore()
	}
	e := &Engine{
		store:    store,
		fetcher:  fetcher,
		analyzer: analyzer,
		replies:  replies,
		opts:     opts,
		log:      log.Sub("engine"),
	}
	if opts.MaxConcurrentAnalyses > 0 {
		e.slots = semaphore.NewWeighted(int64(opts.MaxConcurrentAnalyses))
	}
	return e
}

// Store returns the session store the engine works on.
func (e *Engine) Store() *session.Store { return e.store }

// Run dispatches events until ctx is done or events is closed. Cancelling
// ctx stops intake only: dispatched flows keep running, bounded by the
// fetch and analysis timeouts. Call Wait to drain them.
func (e *Engine) Run(ctx context.Context, events <-chan domain.Event) error {
	flowCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Dispatch(flowCtx, ev)
		}
	}
}

// Dispatch handles ev on its own goroutine and returns immediately.
func (e *Engine) Dispatch(ctx context.Context, ev domain.Event) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().
					Str("conversation", ev.Conversation.String()).
					Str("event", ev.ID).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("event flow panicked")
			}
		}()
		e.Handle(ctx, ev)
	}()
}

// Wait blocks until every dispatched flow has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Handle processes one event synchronously.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) {
	switch {
	case ev.Conversation.IsZero():
		e.log.Warn().Str("event", ev.ID).Msg("event without conversation dropped")
	case ev.IsPhoto():
		e.handlePhoto(ctx, ev)
	case strings.TrimSpace(ev.Text) == "":
		e.log.Debug().
			Str("conversation", ev.Conversation.String()).
			Str("event", ev.ID).
			Msg("empty event ignored")
	default:
		e.handleCommand(ctx, ev)
	}
}

func (e *Engine) handleCommand(ctx context.Context, ev domain.Event) {
	id := ev.Conversation
	cmd := ParseCommand(ev.Text)

	var text string
	switch cmd {
	case CmdTotal:
		e.store.WithSession(id, func(s *session.Session) {
			text = FormatTotal(s.Total())
		})
	case CmdList:
		e.store.WithSession(id, func(s *session.Session) {
			text = FormatList(s.Items())
		})
	case CmdReset:
		var analyzing bool
		e.store.WithSession(id, func(s *session.Session) {
			s.Reset()
			analyzing = s.Processing()
		})
		e.emit(ctx, hooks.EventSessionReset, map[string]any{
			"conversation": id.String(),
			"analyzing":    analyzing,
		})
		text = ReplyResetDone
	default:
		text = ReplyUnknown
	}

	e.log.Debug().
		Str("conversation", id.String()).
		Str("command", string(cmd)).
		Msg("command handled")
	e.reply(ctx, id, text)
}

func (e *Engine) handlePhoto(ctx context.Context, ev domain.Event) {
	id := ev.Conversation
	h := e.store.GetOrCreate(id)

	var (
		tok     session.Token
		started bool
	)
	h.Do(func(s *session.Session) { tok, started = s.BeginAnalysis() })
	if !started {
		e.log.Info().Str("conversation", id.String()).Msg("photo rejected, analysis in progress")
		e.reply(ctx, id, ReplyBusy)
		return
	}

	// Shutdown must not swallow the closing replies or the ledger entry.
	replyCtx := context.WithoutCancel(ctx)

	defer func() {
		r := recover()
		h.Do(func(s *session.Session) { s.EndAnalysis(tok) })
		if r != nil {
			e.log.Error().
				Str("conversation", id.String()).
				Str("event", ev.ID).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("photo flow panicked")
			e.emit(replyCtx, hooks.EventAnalysisFailed, map[string]any{
				"conversation": id.String(),
				"stage":        stageInternal,
				"kind":         "panic",
			})
			e.reply(replyCtx, id, ReplyFailed)
		}
		e.reply(replyCtx, id, ReplyFinished)
	}()

	e.reply(ctx, id, ReplyProcessing)
	e.emit(ctx, hooks.EventAnalysisStarted, map[string]any{
		"conversation": id.String(),
		"event":        ev.ID,
	})

	start := time.Now()
	res, err := e.process(ctx, *ev.Attachment)
	if err != nil {
		h.Do(func(s *session.Session) { s.EndAnalysis(tok) })

		stage, kind := classify(err)
		e.log.Warn().
			Err(err).
			Str("conversation", id.String()).
			Str("stage", stage).
			Str("kind", kind).
			Dur("duration", time.Since(start)).
			Msg("photo processing failed")
		e.emit(replyCtx, hooks.EventAnalysisFailed, map[string]any{
			"conversation": id.String(),
			"stage":        stage,
			"kind":         kind,
			"error":        err.Error(),
		})
		e.reply(replyCtx, id, ReplyFailed)
		return
	}

	var sessionTotal decimal.Decimal
	h.Do(func(s *session.Session) {
		s.Commit(res.Items)
		sessionTotal = s.Total()
		s.EndAnalysis(tok)
	})

	itemsTotal := res.ItemsTotal()
	if !itemsTotal.Equal(res.Total) {
		e.log.Warn().
			Str("conversation", id.String()).
			Str("receiptTotal", res.Total.String()).
			Str("itemsTotal", itemsTotal.String()).
			Msg("receipt total differs from item sum")
	}
	e.log.Info().
		Str("conversation", id.String()).
		Int("items", len(res.Items)).
		Str("receiptTotal", res.Total.String()).
		Str("sessionTotal", sessionTotal.String()).
		Dur("duration", time.Since(start)).
		Msg("receipt committed")

	e.emit(replyCtx, hooks.EventReceiptCommitted, map[string]any{
		"conversation":   id.String(),
		"conversationId": id,
		"channel":        id.ChannelID,
		"event":          ev.ID,
		"provider":       e.analyzer.Name(),
		"receiptTotal":   res.Total.String(),
		"itemsTotal":     itemsTotal.String(),
		"sessionTotal":   sessionTotal.String(),
		"items":          res.Items,
	})
	e.reply(replyCtx, id, FormatSummary(res.Total, res.Items))
}

// process fetches and analyzes one attachment. The downloaded bytes are
// released before it returns.
func (e *Engine) process(ctx context.Context, att domain.Attachment) (*analysis.Result, error) {
	fetchCtx, cancelFetch := withTimeout(ctx, e.opts.FetchTimeout)
	blob, err := e.fetcher.Fetch(fetchCtx, att)
	if err != nil {
		err = attachment.Wrap(fetchCtx, att, err)
		cancelFetch()
		return nil, err
	}
	cancelFetch()
	defer blob.Release()

	provider := e.analyzer.Name()
	analyzeCtx, cancel := withTimeout(ctx, e.opts.AnalysisTimeout)
	defer cancel()

	if e.slots != nil {
		if err := e.slots.Acquire(analyzeCtx, 1); err != nil {
			return nil, analysis.Wrap(analyzeCtx, provider, fmt.Errorf("waiting for analysis slot: %w", err))
		}
		defer e.slots.Release(1)
	}

	res, err := e.analyzer.Analyze(analyzeCtx, analysis.Image{
		Data:     blob.Data,
		MimeType: blob.MimeType,
		Filename: blob.Filename,
	})
	if err != nil {
		return nil, analysis.Wrap(analyzeCtx, provider, err)
	}
	if res == nil || len(res.Items) == 0 {
		return nil, &analysis.Error{Kind: analysis.Malformed, Provider: provider, Err: errors.New("no line items in result")}
	}
	return res, nil
}

func (e *Engine) reply(ctx context.Context, id domain.ConversationID, text string) {
	if err := e.replies.Reply(ctx, id, text); err != nil {
		e.log.Warn().Err(err).Str("conversation", id.String()).Msg("reply failed")
	}
}

func (e *Engine) emit(ctx context.Context, event string, data map[string]any) {
	if e.opts.Hooks == nil {
		return
	}
	e.opts.Hooks.EmitAsync(ctx, event, data)
}

const (
	stageFetch    = "fetch"
	stageAnalyze  = "analyze"
	stageInternal = "internal"
)

// classify names the pipeline stage and error kind of a photo failure.
func classify(err error) (stage, kind string) {
	var fe *attachment.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case attachment.NotFound, attachment.Timeout, attachment.TransportFailure:
			return stageFetch, fe.Kind.String()
		}
		return stageFetch, "unknown"
	}
	var ae *analysis.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case analysis.BadImage, analysis.ServiceUnavailable, analysis.Timeout, analysis.Malformed:
			return stageAnalyze, ae.Kind.String()
		}
		return stageAnalyze, "unknown"
	}
	return stageInternal, "unknown"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
