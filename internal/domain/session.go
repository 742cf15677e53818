package domain

import (
	"github.com/shopspring/decimal"
)

// ConversationID identifies a single chat thread. It is the session key:
// every inbound event resolves to exactly one ConversationID and all receipt
// state hangs off it.
type ConversationID struct {
	ChannelID string `json:"channelId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId,omitempty"`
}

// String returns a canonical string form of the conversation id.
func (c ConversationID) String() string {
	s := c.ChannelID + ":" + c.ChatID
	if c.SenderID != "" {
		s += ":" + c.SenderID
	}
	return s
}

// IsZero reports whether the id has neither a channel nor a chat.
func (c ConversationID) IsZero() bool {
	return c.ChannelID == "" && c.ChatID == ""
}

// LineItem is one purchased article extracted from a receipt.
type LineItem struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// SumPrices adds up the prices of items.
func SumPrices(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price)
	}
	return sum
}
