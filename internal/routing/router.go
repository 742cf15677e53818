// Package routing connects messaging channels to the receipt engine.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/tally/internal/channel"
	"github.com/soyeahso/tally/internal/domain"
	"github.com/soyeahso/tally/internal/hooks"
	"github.com/soyeahso/tally/internal/logging"
)

const eventBuffer = 64

// Router turns inbound channel messages into engine events and delivers
// engine replies back through the originating channel.
type Router struct {
	channels *channel.Registry
	scope    string
	hooks    *hooks.Manager
	events   chan domain.Event
	log      *logging.Logger
}

// NewRouter creates a message router. hm may be nil.
func NewRouter(channels *channel.Registry, scope string, hm *hooks.Manager, log *logging.Logger) *Router {
	if scope == "" {
		scope = ScopePerChat
	}
	return &Router{
		channels: channels,
		scope:    scope,
		hooks:    hm,
		events:   make(chan domain.Event, eventBuffer),
		log:      log.Sub("routing"),
	}
}

// Events is the stream of engine events produced from inbound messages.
func (r *Router) Events() <-chan domain.Event {
	return r.events
}

// HandleInbound converts msg to an event and queues it for the engine.
// It blocks only while the queue is full, and gives up when ctx is done.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) bool {
	ev, ok := ToEvent(msg, r.scope)
	if !ok {
		r.log.Debug().
			Str("channel", msg.ChannelID).
			Str("from", msg.From).
			Msg("inbound message carries nothing to handle")
		return false
	}

	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("chatId", msg.ChatID).
		Str("chatType", string(msg.ChatType)).
		Bool("photo", ev.IsPhoto()).
		Msg("routing inbound message")

	if r.hooks != nil {
		r.hooks.EmitAsync(ctx, hooks.EventMessageReceived, map[string]any{
			"conversation": ev.Conversation.String(),
			"channel":      msg.ChannelID,
			"from":         msg.From,
			"photo":        ev.IsPhoto(),
		})
	}

	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		r.log.Warn().Str("channel", msg.ChannelID).Msg("router stopped, inbound message dropped")
		return false
	}
}

// ToEvent maps an inbound message to an engine event. A message with media
// becomes a photo event for its first attachment; otherwise the body is the
// command text. It reports false for messages with neither.
func ToEvent(msg domain.InboundMessage, scope string) (domain.Event, bool) {
	ev := domain.Event{
		ID:           msg.ID,
		Conversation: ResolveConversation(msg, scope),
		ReceivedAt:   msg.Timestamp,
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	switch {
	case msg.HasMedia():
		att := msg.Media[0]
		ev.Attachment = &att
	case msg.Body != "":
		ev.Text = msg.Body
	default:
		return domain.Event{}, false
	}
	return ev, true
}

// Reply sends text to the chat behind id. It implements engine.ReplySink.
func (r *Router) Reply(ctx context.Context, id domain.ConversationID, text string) error {
	out := domain.OutboundMessage{
		ChannelID: id.ChannelID,
		To:        id.ChatID,
		Body:      text,
	}

	if r.hooks != nil {
		r.hooks.EmitAsync(ctx, hooks.EventMessageSending, map[string]any{
			"conversation": id.String(),
			"channel":      id.ChannelID,
			"to":           out.To,
		})
	}

	if err := r.channels.Send(ctx, out); err != nil {
		return fmt.Errorf("reply to %s: %w", id, err)
	}

	r.log.Debug().
		Str("channel", out.ChannelID).
		Str("to", out.To).
		Int("bytes", len(out.Body)).
		Msg("reply sent")
	return nil
}

// Wire registers HandleInbound as the message handler on all channels.
// Handlers stop queueing once ctx is done.
func (r *Router) Wire(ctx context.Context) {
	for _, id := range r.channels.List() {
		ch, ok := r.channels.Get(id)
		if !ok {
			continue
		}
		ch.OnMessage(func(msg domain.InboundMessage) {
			r.HandleInbound(ctx, msg)
		})
		r.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}
