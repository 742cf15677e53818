package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/tally/internal/analysis"
	"github.com/soyeahso/tally/internal/attachment"
	"github.com/soyeahso/tally/internal/domain"
	"github.com/soyeahso/tally/internal/hooks"
	"github.com/soyeahso/tally/internal/logging"
	"github.com/soyeahso/tally/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type recordingSink struct {
	mu      sync.Mutex
	replies map[domain.ConversationID][]string
	err     error
}

func newSink() *recordingSink {
	return &recordingSink{replies: make(map[domain.ConversationID][]string)}
}

func (s *recordingSink) Reply(_ context.Context, id domain.ConversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[id] = append(s.replies[id], text)
	return s.err
}

func (s *recordingSink) For(id domain.ConversationID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replies[id]...)
}

type countingFetcher struct {
	calls    atomic.Int32
	released atomic.Int32
	fetch    func(ctx context.Context, att domain.Attachment) ([]byte, error)
}

func (f *countingFetcher) Fetch(ctx context.Context, att domain.Attachment) (*attachment.Blob, error) {
	f.calls.Add(1)
	data := []byte("jpeg-bytes")
	if f.fetch != nil {
		var err error
		data, err = f.fetch(ctx, att)
		if err != nil {
			return nil, err
		}
	}
	return attachment.NewBlob(data, "image/jpeg", func() { f.released.Add(1) }), nil
}

func silentLog() *logging.Logger { return logging.New(nil, "silent") }

func conv(chat string) domain.ConversationID {
	return domain.ConversationID{ChannelID: "test", ChatID: chat}
}

func text(id domain.ConversationID, body string) domain.Event {
	return domain.Event{ID: "t-" + body, Conversation: id, Text: body}
}

func photo(id domain.ConversationID) domain.Event {
	return domain.Event{ID: "p", Conversation: id, Attachment: &domain.Attachment{ID: "file-1"}}
}

func item(name, price string) domain.LineItem {
	return domain.LineItem{Name: name, Price: decimal.RequireFromString(price)}
}

func receipt(total string, items ...domain.LineItem) *analysis.Result {
	return &analysis.Result{Total: decimal.RequireFromString(total), Items: items}
}

func staticAnalyzer(res *analysis.Result) *analysis.MockAnalyzer {
	return &analysis.MockAnalyzer{
		AnalyzeFunc: func(context.Context, analysis.Image) (*analysis.Result, error) {
			return res, nil
		},
	}
}

func newEngine(f attachment.Fetcher, a analysis.Analyzer, sink ReplySink, opts Options) *Engine {
	return New(nil, f, a, sink, opts, silentLog())
}

func totalOf(t *testing.T, e *Engine, id domain.ConversationID) string {
	t.Helper()
	snap, ok := e.Store().Snapshot(id)
	require.True(t, ok)
	return snap.Total.String()
}

func stateOf(t *testing.T, e *Engine, id domain.ConversationID) session.State {
	t.Helper()
	snap, ok := e.Store().Snapshot(id)
	require.True(t, ok)
	return snap.State
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

// --- commands ---

func TestTotal_EmptySession(t *testing.T) {
	sink := newSink()
	e := newEngine(&countingFetcher{}, &analysis.MockAnalyzer{}, sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), text(id, "/total"))

	assert.Equal(t, []string{"Total right now is: 0"}, sink.For(id))
}

func TestList_EmptySession(t *testing.T) {
	sink := newSink()
	e := newEngine(&countingFetcher{}, &analysis.MockAnalyzer{}, sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), text(id, "/list"))

	assert.Equal(t, []string{"No items in the list"}, sink.For(id))
}

func TestUnknownCommand(t *testing.T) {
	sink := newSink()
	e := newEngine(&countingFetcher{}, &analysis.MockAnalyzer{}, sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), text(id, "hello there"))

	assert.Equal(t, []string{ReplyUnknown}, sink.For(id))
	assert.Equal(t, "Command not found, use: /total, /list or /reset", ReplyUnknown)
}

func TestEmptyEventIgnored(t *testing.T) {
	sink := newSink()
	e := newEngine(&countingFetcher{}, &analysis.MockAnalyzer{}, sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), domain.Event{Conversation: id, Text: "   "})
	e.Handle(context.Background(), domain.Event{Text: "/total"})

	assert.Empty(t, sink.For(id))
	assert.Equal(t, 0, e.Store().Len())
}

// --- photo pipeline ---

func TestPhoto_MilkAndBread(t *testing.T) {
	sink := newSink()
	fetcher := &countingFetcher{}
	e := newEngine(fetcher, staticAnalyzer(receipt("12.50", item("Milk", "3.00"), item("Bread", "9.50"))), sink, Options{})
	id := conv("c1")
	ctx := context.Background()

	e.Handle(ctx, photo(id))
	e.Handle(ctx, text(id, "/total"))
	e.Handle(ctx, text(id, "/list"))

	assert.Equal(t, []string{
		"Processing the image right now, I'll be back in a few!",
		"We have added this ticket with a total amount of '12.5' with the following items:\nMilk - 3\nBread - 9.5",
		"Process finished for this image",
		"Total right now is: 12.5",
		"Listing your purchases:\nMilk - 3\nBread - 9.5",
	}, sink.For(id))
	assert.Equal(t, session.StateIdle, stateOf(t, e, id))
	assert.Equal(t, int32(1), fetcher.released.Load())
}

func TestPhoto_ServiceUnavailable(t *testing.T) {
	sink := newSink()
	fetcher := &countingFetcher{}
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(context.Context, analysis.Image) (*analysis.Result, error) {
			return nil, &analysis.Error{Kind: analysis.ServiceUnavailable, Provider: "mock", Code: 503}
		},
	}
	e := newEngine(fetcher, a, sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), photo(id))

	assert.Equal(t, []string{ReplyProcessing, ReplyFailed, ReplyFinished}, sink.For(id))
	assert.Equal(t, "0", totalOf(t, e, id))
	assert.Equal(t, session.StateIdle, stateOf(t, e, id))
	assert.Equal(t, int32(1), fetcher.released.Load())
}

func TestPhoto_FetchFailure(t *testing.T) {
	sink := newSink()
	fetcher := &countingFetcher{
		fetch: func(context.Context, domain.Attachment) ([]byte, error) {
			return nil, &attachment.Error{Kind: attachment.NotFound, Ref: "file-1"}
		},
	}
	a := &analysis.MockAnalyzer{}
	e := newEngine(fetcher, a, sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), photo(id))

	assert.Equal(t, []string{ReplyProcessing, ReplyFailed, ReplyFinished}, sink.For(id))
	assert.Equal(t, 0, a.Calls())
	assert.Equal(t, session.StateIdle, stateOf(t, e, id))
}

func TestPhoto_EmptyResultIsFailure(t *testing.T) {
	sink := newSink()
	e := newEngine(&countingFetcher{}, staticAnalyzer(receipt("4.00")), sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), photo(id))

	assert.Equal(t, []string{ReplyProcessing, ReplyFailed, ReplyFinished}, sink.For(id))
	assert.Equal(t, "0", totalOf(t, e, id))
}

func TestPhoto_AnalysisTimeout(t *testing.T) {
	sink := newSink()
	fetcher := &countingFetcher{}
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(ctx context.Context, _ analysis.Image) (*analysis.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	hm := hooks.NewManager(silentLog())
	var kind atomic.Value
	hm.On(hooks.EventAnalysisFailed, "test", func(_ context.Context, p hooks.Payload) error {
		kind.Store(p.String("stage") + "/" + p.String("kind"))
		return nil
	})
	e := newEngine(fetcher, a, sink, Options{AnalysisTimeout: 20 * time.Millisecond, Hooks: hm})
	id := conv("c1")

	e.Handle(context.Background(), photo(id))
	hm.Wait()

	assert.Equal(t, []string{ReplyProcessing, ReplyFailed, ReplyFinished}, sink.For(id))
	assert.Equal(t, "analyze/timeout", kind.Load())
	assert.Equal(t, session.StateIdle, stateOf(t, e, id))
	assert.Equal(t, int32(1), fetcher.released.Load())
}

func TestPhoto_FetchTimeout(t *testing.T) {
	sink := newSink()
	fetcher := &countingFetcher{
		fetch: func(ctx context.Context, _ domain.Attachment) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	a := &analysis.MockAnalyzer{}
	e := newEngine(fetcher, a, sink, Options{FetchTimeout: 20 * time.Millisecond})
	id := conv("c1")

	e.Handle(context.Background(), photo(id))

	assert.Equal(t, []string{ReplyProcessing, ReplyFailed, ReplyFinished}, sink.For(id))
	assert.Equal(t, 0, a.Calls())
}

func TestPhoto_PanicRecovered(t *testing.T) {
	sink := newSink()
	fetcher := &countingFetcher{}
	var calls atomic.Int32
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(context.Context, analysis.Image) (*analysis.Result, error) {
			if calls.Add(1) == 1 {
				panic("decoder blew up")
			}
			return receipt("1", item("Gum", "1")), nil
		},
	}
	e := newEngine(fetcher, a, sink, Options{})
	id := conv("c1")

	e.Dispatch(context.Background(), photo(id))
	e.Wait()

	assert.Equal(t, []string{ReplyProcessing, ReplyFailed, ReplyFinished}, sink.For(id))
	assert.Equal(t, session.StateIdle, stateOf(t, e, id))
	assert.Equal(t, int32(1), fetcher.released.Load())

	e.Handle(context.Background(), photo(id))
	assert.Equal(t, "1", totalOf(t, e, id))
}

func TestPhoto_BusyRejected(t *testing.T) {
	sink := newSink()
	fetcher := &countingFetcher{}
	started := make(chan struct{})
	release := make(chan struct{})
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(context.Context, analysis.Image) (*analysis.Result, error) {
			close(started)
			<-release
			return receipt("2", item("Tea", "2")), nil
		},
	}
	e := newEngine(fetcher, a, sink, Options{})
	id := conv("c1")
	ctx := context.Background()

	e.Dispatch(ctx, photo(id))
	<-started
	assert.Equal(t, session.StateAnalyzing, stateOf(t, e, id))

	e.Handle(ctx, photo(id))
	e.Handle(ctx, text(id, "/total"))
	close(release)
	e.Wait()

	replies := sink.For(id)
	assert.Contains(t, replies, ReplyBusy)
	assert.Contains(t, replies, "Total right now is: 0")
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, "2", totalOf(t, e, id))
	assert.Equal(t, ReplyFinished, replies[len(replies)-1])
}

func TestReset_AfterTwoItems(t *testing.T) {
	sink := newSink()
	e := newEngine(&countingFetcher{}, staticAnalyzer(receipt("5", item("Eggs", "2"), item("Jam", "3"))), sink, Options{})
	id := conv("c1")
	ctx := context.Background()

	e.Handle(ctx, photo(id))
	require.Equal(t, "5", totalOf(t, e, id))

	e.Handle(ctx, text(id, "/reset"))
	e.Handle(ctx, text(id, "/reset"))
	e.Handle(ctx, text(id, "/total"))
	e.Handle(ctx, text(id, "/list"))

	replies := sink.For(id)
	assert.Equal(t, []string{ReplyResetDone, ReplyResetDone, "Total right now is: 0", ReplyEmptyList}, replies[len(replies)-4:])
}

func TestReset_DuringAnalysisStillCommits(t *testing.T) {
	sink := newSink()
	started := make(chan struct{})
	release := make(chan struct{})
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(context.Context, analysis.Image) (*analysis.Result, error) {
			close(started)
			<-release
			return receipt("7", item("Rice", "7")), nil
		},
	}
	e := newEngine(&countingFetcher{}, a, sink, Options{})
	id := conv("c1")
	ctx := context.Background()

	e.Store().WithSession(id, func(s *session.Session) {
		s.Commit([]domain.LineItem{item("Old", "10")})
	})

	e.Dispatch(ctx, photo(id))
	<-started
	e.Handle(ctx, text(id, "/reset"))
	assert.Equal(t, session.StateAnalyzing, stateOf(t, e, id))

	close(release)
	e.Wait()

	snap, ok := e.Store().Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, "7", snap.Total.String())
	assert.Equal(t, []domain.LineItem{item("Rice", "7")}, snap.Items)
}

// --- concurrency ---

func TestConversationsAreIsolated(t *testing.T) {
	sink := newSink()
	release := make(chan struct{})
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(context.Context, analysis.Image) (*analysis.Result, error) {
			<-release
			return receipt("3", item("Soap", "3")), nil
		},
	}
	e := newEngine(&countingFetcher{}, a, sink, Options{})
	busy, other := conv("busy"), conv("other")
	ctx := context.Background()

	e.Dispatch(ctx, photo(busy))
	waitFor(t, func() bool { return a.Calls() == 1 })

	// The other conversation is neither blocked nor busy.
	e.Handle(ctx, text(other, "/total"))
	assert.Equal(t, []string{"Total right now is: 0"}, sink.For(other))

	close(release)
	e.Dispatch(ctx, photo(other))
	e.Wait()

	assert.Equal(t, "3", totalOf(t, e, busy))
	assert.Equal(t, "3", totalOf(t, e, other))
}

func TestRun_ManyConversations(t *testing.T) {
	sink := newSink()
	e := newEngine(&countingFetcher{}, staticAnalyzer(receipt("1.25", item("Pen", "1.25"))), sink, Options{})

	const n = 40
	events := make(chan domain.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, events) }()

	for i := 0; i < n; i++ {
		events <- photo(conv(fmt.Sprintf("c%d", i)))
	}
	close(events)
	require.NoError(t, <-done)
	e.Wait()

	assert.Equal(t, n, e.Store().Len())
	for _, snap := range e.Store().List() {
		assert.Equal(t, "1.25", snap.Total.String(), snap.ID.String())
		assert.Equal(t, session.StateIdle, snap.State)
		assert.True(t, snap.Total.Equal(domain.SumPrices(snap.Items)))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	e := newEngine(&countingFetcher{}, &analysis.MockAnalyzer{}, newSink(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx, make(chan domain.Event))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_CancelLetsInFlightPhotoFinish(t *testing.T) {
	sink := newSink()
	started := make(chan struct{})
	release := make(chan struct{})
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(ctx context.Context, _ analysis.Image) (*analysis.Result, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return receipt("4", item("Cheese", "4")), nil
		},
	}
	e := newEngine(&countingFetcher{}, a, sink, Options{AnalysisTimeout: time.Minute})
	id := conv("c1")

	events := make(chan domain.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, events) }()

	events <- photo(id)
	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	e.Wait()

	assert.Equal(t, "4", totalOf(t, e, id))
	replies := sink.For(id)
	assert.NotContains(t, replies, ReplyFailed)
	assert.Equal(t, ReplyFinished, replies[len(replies)-1])
}

func TestMaxConcurrentAnalyses(t *testing.T) {
	var current, peak atomic.Int32
	a := &analysis.MockAnalyzer{
		AnalyzeFunc: func(context.Context, analysis.Image) (*analysis.Result, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return receipt("1", item("X", "1")), nil
		},
	}
	e := newEngine(&countingFetcher{}, a, newSink(), Options{MaxConcurrentAnalyses: 2})

	for i := 0; i < 8; i++ {
		e.Dispatch(context.Background(), photo(conv(fmt.Sprintf("c%d", i))))
	}
	e.Wait()

	assert.Equal(t, 8, a.Calls())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// --- hooks and sinks ---

func TestReceiptCommittedHook(t *testing.T) {
	hm := hooks.NewManager(silentLog())
	var got hooks.Payload
	var mu sync.Mutex
	hm.On(hooks.EventReceiptCommitted, "test", func(_ context.Context, p hooks.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = p
		return nil
	})
	e := newEngine(&countingFetcher{}, staticAnalyzer(receipt("9.99", item("Cake", "10"))), newSink(), Options{Hooks: hm})
	id := conv("c1")

	e.Handle(context.Background(), photo(id))
	hm.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "test:c1", got.String("conversation"))
	assert.Equal(t, id, got.Data["conversationId"])
	assert.Equal(t, "9.99", got.String("receiptTotal"))
	assert.Equal(t, "10", got.String("itemsTotal"))
	assert.Equal(t, "10", got.String("sessionTotal"))
	assert.Equal(t, []domain.LineItem{item("Cake", "10")}, got.Data["items"])
}

func TestReplyFailureDoesNotTouchState(t *testing.T) {
	sink := newSink()
	sink.err = errors.New("channel down")
	e := newEngine(&countingFetcher{}, staticAnalyzer(receipt("4", item("Tape", "4"))), sink, Options{})
	id := conv("c1")

	e.Handle(context.Background(), photo(id))

	assert.Equal(t, "4", totalOf(t, e, id))
	assert.Equal(t, session.StateIdle, stateOf(t, e, id))
}

// --- helpers ---

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"/total", CmdTotal},
		{"  /TOTAL  ", CmdTotal},
		{"/list", CmdList},
		{"/list@tally_bot", CmdList},
		{"!reset", CmdReset},
		{"/Reset", CmdReset},
		{"/totals", CmdUnknown},
		{"total", CmdUnknown},
		{"/total please", CmdUnknown},
		{"", CmdUnknown},
		{"@bot", CmdUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.in))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		stage, kin string
	}{
		{"fetch not found", &attachment.Error{Kind: attachment.NotFound}, "fetch", "not_found"},
		{"fetch timeout", &attachment.Error{Kind: attachment.Timeout}, "fetch", "timeout"},
		{"bad image", &analysis.Error{Kind: analysis.BadImage}, "analyze", "bad_image"},
		{"wrapped malformed", fmt.Errorf("x: %w", &analysis.Error{Kind: analysis.Malformed}), "analyze", "malformed"},
		{"plain", errors.New("boom"), "internal", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, kind := classify(tt.err)
			assert.Equal(t, tt.stage, stage)
			assert.Equal(t, tt.kin, kind)
		})
	}
}

func TestFormatSummary(t *testing.T) {
	got := FormatSummary(decimal.RequireFromString("3.10"), []domain.LineItem{item("Apple", "1.10"), item("Pear", "2")})
	assert.Equal(t, "We have added this ticket with a total amount of '3.1' with the following items:\nApple - 1.1\nPear - 2", got)
}
