package gateway

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/tally/internal/domain"
)

// maxChatIDLen bounds client-chosen chat ids.
const maxChatIDLen = 128

func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("channels.status", s.rpcChannelsStatus)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("session.get", s.rpcSessionGet)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("chat.photo", s.rpcChatPhoto)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	}
	if s.sessions != nil {
		resp.Sessions = s.sessions.Len()
	}
	s.mu.RLock()
	if !s.startedAt.IsZero() {
		resp.UptimeMs = time.Since(s.startedAt).Milliseconds()
	}
	s.mu.RUnlock()
	rc.Respond(resp)
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels == nil {
		rc.Respond(map[string]any{"channels": []domain.ChannelStatus{}})
		return
	}
	rc.Respond(map[string]any{"channels": s.channels.Status()})
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	summaries := []SessionSummary{}
	if s.sessions != nil {
		for _, snap := range s.sessions.List() {
			summaries = append(summaries, SessionSummary{
				ID:        snap.ID.String(),
				Items:     len(snap.Items),
				Total:     snap.Total,
				State:     string(snap.State),
				Receipts:  snap.Receipts,
				UpdatedAt: snap.UpdatedAt,
			})
		}
	}
	rc.Respond(map[string]any{"sessions": summaries})
}

func (s *Server) rpcSessionGet(rc *RequestContext) {
	if s.sessions == nil {
		rc.RespondError("unavailable", "sessions are not available")
		return
	}

	var ref SessionRef
	if err := rc.Params(&ref); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	id := domain.ConversationID{
		ChannelID: ref.ChannelID,
		ChatID:    ref.ChatID,
		SenderID:  ref.SenderID,
	}
	if id.ChannelID == "" {
		id.ChannelID = ChannelID
	}
	if id.ChatID == "" {
		id.ChatID = rc.Client.ConnID
	}

	snap, ok := s.sessions.Snapshot(id)
	if !ok {
		rc.RespondError("not_found", "no session for "+id.String())
		return
	}
	rc.Respond(snap)
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p ChatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		rc.RespondError("invalid_params", "text is required")
		return
	}

	msg, ok := s.newInbound(rc, p.ChatID)
	if !ok {
		return
	}
	msg.Body = text
	s.deliver(rc, msg)
}

func (s *Server) rpcChatPhoto(rc *RequestContext) {
	var p ChatPhotoParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	att, reason := photoAttachment(p)
	if reason != "" {
		rc.RespondError("invalid_params", reason)
		return
	}

	msg, ok := s.newInbound(rc, p.ChatID)
	if !ok {
		return
	}
	msg.Media = []domain.Attachment{att}
	s.deliver(rc, msg)
}

// newInbound starts a message from the calling client. chatID defaults to
// the client's own connection; naming another chat joins it.
func (s *Server) newInbound(rc *RequestContext, chatID string) (domain.InboundMessage, bool) {
	chatID = strings.TrimSpace(chatID)
	switch {
	case chatID == "":
		chatID = rc.Client.ConnID
	case len(chatID) > maxChatIDLen || strings.ContainsAny(chatID, " \t\r\n"):
		rc.RespondError("invalid_params", "chatId must be a short token without spaces")
		return domain.InboundMessage{}, false
	default:
		rc.Client.Join(chatID)
	}

	from := rc.Client.Info.ID
	if from == "" {
		from = rc.Client.ConnID
	}
	return domain.InboundMessage{
		ID:        uuid.New().String(),
		ChannelID: ChannelID,
		From:      from,
		FromName:  rc.Client.Info.DisplayName,
		ChatID:    chatID,
		ChatType:  domain.ChatTypeDM,
		Timestamp: time.Now(),
	}, true
}

// deliver acknowledges the request, then hands msg to the router. Replies
// follow as chat.reply events, so the acknowledgement goes out first.
func (s *Server) deliver(rc *RequestContext, msg domain.InboundMessage) {
	handler := s.inboundHandler()
	if handler == nil {
		rc.RespondError("unavailable", "gateway is not connected to the receipt engine")
		return
	}

	rc.Respond(ChatAccepted{MessageID: msg.ID, ChatID: msg.ChatID})

	s.log.Debug().
		Str("connId", rc.Client.ConnID).
		Str("chatId", msg.ChatID).
		Bool("photo", msg.HasMedia()).
		Msg("inbound gateway message")
	handler(msg)
}

// photoAttachment validates chat.photo params. A non-empty reason means the
// request is rejected.
func photoAttachment(p ChatPhotoParams) (domain.Attachment, string) {
	link := strings.TrimSpace(p.URL)
	att := domain.Attachment{MimeType: p.MimeType, Filename: p.Filename}

	switch {
	case link != "" && p.Data != "":
		return att, "set either url or data, not both"
	case p.Data != "":
		raw, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return att, "data is not valid base64"
		}
		if att.MimeType == "" {
			att.MimeType = http.DetectContentType(raw)
		}
		if !strings.HasPrefix(att.MimeType, "image/") {
			return att, "data is not an image"
		}
		att.URL = "data:" + att.MimeType + ";base64," + p.Data
		att.Size = int64(len(raw))
		return att, ""
	case link == "":
		return att, "url or data is required"
	}

	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return att, "url must be an absolute http(s) link"
	}
	att.URL = link
	return att, ""
}
