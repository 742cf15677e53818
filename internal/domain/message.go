package domain

import "time"

// ChatType classifies the conversation context.
type ChatType string

const (
	ChatTypeDM    ChatType = "dm"
	ChatTypeGroup ChatType = "group"
)

// Attachment references an inbound binary payload. Channels fill in whatever
// they know; the attachment fetcher registered for Source decides which
// field it needs (a Telegram file id, a plain URL, a data: URL).
type Attachment struct {
	Source   string `json:"source,omitempty"`
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// InboundMessage is a message received from a channel.
type InboundMessage struct {
	ID        string       `json:"id"`
	ChannelID string       `json:"channelId"`
	From      string       `json:"from"`
	FromName  string       `json:"fromName,omitempty"`
	ChatID    string       `json:"chatId"`
	ChatType  ChatType     `json:"chatType"`
	Body      string       `json:"body"`
	Timestamp time.Time    `json:"timestamp"`
	Media     []Attachment `json:"media,omitempty"`
}

// HasMedia reports whether the message carries at least one attachment.
func (m InboundMessage) HasMedia() bool {
	return len(m.Media) > 0
}

// OutboundMessage is a message to be sent via a channel.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

// Event is what the receipt engine consumes: either a text command or a
// photo for one conversation. Exactly one of Text and Attachment is set.
type Event struct {
	ID           string         `json:"id"`
	Conversation ConversationID `json:"conversation"`
	Text         string         `json:"text,omitempty"`
	Attachment   *Attachment    `json:"attachment,omitempty"`
	ReceivedAt   time.Time      `json:"receivedAt"`
}

// IsPhoto reports whether the event carries an attachment.
func (e Event) IsPhoto() bool {
	return e.Attachment != nil
}
