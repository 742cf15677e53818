package routing

import "github.com/soyeahso/tally/internal/domain"

// Session scopes.
const (
	ScopePerChat   = "per-chat"
	ScopePerSender = "per-sender"
)

// ResolveConversation builds the conversation id for an inbound message.
//
// Scopes:
//   - "per-chat": one receipt session per chat, shared by everyone in it (default)
//   - "per-sender": separate session per user per chat
func ResolveConversation(msg domain.InboundMessage, scope string) domain.ConversationID {
	id := domain.ConversationID{
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
	}
	if scope == ScopePerSender {
		id.SenderID = msg.From
	}
	return id
}
