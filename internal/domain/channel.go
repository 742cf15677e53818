package domain

import "context"

// ChannelCapabilities describes what a channel implementation supports.
type ChannelCapabilities struct {
	ChatTypes []ChatType `json:"chatTypes"`
	Photos    bool       `json:"photos,omitempty"`
	Documents bool       `json:"documents,omitempty"`
}

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is a messaging transport. It turns transport traffic into
// InboundMessages and delivers OutboundMessages back.
type Channel interface {
	// ID returns the channel identifier (e.g., "telegram", "irc").
	ID() string

	Capabilities() ChannelCapabilities

	// Start connects the channel and blocks while it listens for messages.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message through this channel.
	Send(ctx context.Context, msg OutboundMessage) error

	// OnMessage registers the handler for inbound messages. The handler must
	// not block; routing hands work off to its own goroutines.
	OnMessage(handler func(msg InboundMessage))
}
