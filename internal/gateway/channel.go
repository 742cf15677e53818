package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/tally/internal/domain"
)

// ChannelID names the gateway in conversation ids and the channel registry.
const ChannelID = "gateway"

func (s *Server) ID() string { return ChannelID }

func (s *Server) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		ChatTypes: []domain.ChatType{domain.ChatTypeDM},
		Photos:    true,
	}
}

// OnMessage sets the receiver for chat.send and chat.photo requests.
func (s *Server) OnMessage(handler func(msg domain.InboundMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = handler
}

// Status returns the current runtime status.
func (s *Server) Status() domain.ChannelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: ChannelID,
		Connected: s.running && s.clients.Count() > 0,
		Running:   s.running,
		LastError: s.lastErr,
	}
}

// Stop closes all clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdown(ctx)
	return nil
}

// Send pushes msg as a chat.reply event to every client in chat msg.To.
func (s *Server) Send(_ context.Context, msg domain.OutboundMessage) error {
	clients := s.clients.InChat(msg.To)
	if len(clients) == 0 {
		return fmt.Errorf("gateway: no client in chat %s", msg.To)
	}

	reply := ChatReply{ChatID: msg.To, Text: msg.Body}
	var errs []error
	for _, c := range clients {
		if err := c.SendEvent(EventChatReply, reply, s.eventSeq.Add(1)); err != nil {
			errs = append(errs, fmt.Errorf("gateway: conn %s: %w", c.ConnID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) inboundHandler() func(msg domain.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inbound
}
