// Package telegram implements the Telegram messaging channel on the Bot API
// (long polling). It also resolves Telegram file ids for the attachment
// fetcher.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/soyeahso/tally/internal/attachment"
	"github.com/soyeahso/tally/internal/config"
	"github.com/soyeahso/tally/internal/domain"
	"github.com/soyeahso/tally/internal/logging"
)

// Source tags attachments whose ID is a Telegram file id.
const Source = "telegram"

// maxMessageLen is the Bot API limit for one text message.
const maxMessageLen = 4096

// botAPI is the part of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Channel implements domain.Channel and attachment.Fetcher for Telegram.
type Channel struct {
	cfg        config.TelegramConfig
	downloader attachment.Fetcher
	dial       func(config.TelegramConfig) (botAPI, error)
	log        *logging.Logger

	mu      sync.RWMutex
	bot     botAPI
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// New creates a Telegram channel. downloader fetches the file URLs the Bot
// API hands out.
func New(cfg config.TelegramConfig, downloader attachment.Fetcher, log *logging.Logger) *Channel {
	return &Channel{
		cfg:        cfg,
		downloader: downloader,
		dial:       dialBot,
		log:        log.Sub("telegram"),
	}
}

func dialBot(cfg config.TelegramConfig) (botAPI, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	// Long polls hold the request open for PollTimeout seconds.
	client := &http.Client{Timeout: time.Duration(cfg.PollTimeout+15) * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, err
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func (c *Channel) ID() string { return "telegram" }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		ChatTypes: []domain.ChatType{domain.ChatTypeDM, domain.ChatTypeGroup},
		Photos:    true,
		Documents: true,
	}
}

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: "telegram",
		Connected: c.bot != nil && c.running,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// Start authenticates the bot and polls for updates until ctx is done.
func (c *Channel) Start(ctx context.Context) error {
	bot, err := c.dial(c.cfg)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		return fmt.Errorf("telegram connect: %w", err)
	}

	c.mu.Lock()
	c.bot = bot
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.cfg.PollTimeout
	updates := bot.GetUpdatesChan(u)

	c.log.Info().Int("pollTimeout", c.cfg.PollTimeout).Msg("polling Telegram for updates")

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			c.handleUpdate(upd)
		}
	}
}

// Stop stops polling.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot != nil && c.running {
		c.log.Info().Msg("stopping Telegram polling")
		c.bot.StopReceivingUpdates()
	}
	c.running = false
	return nil
}

// Send delivers a text message to a chat id.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	bot := c.bot
	c.mu.RUnlock()
	if bot == nil {
		return fmt.Errorf("telegram: not connected")
	}

	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", msg.To, err)
	}

	for _, chunk := range splitText(msg.Body, maxMessageLen) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}

	c.log.Debug().Int64("chatId", chatID).Msg("sent Telegram message")
	return nil
}

// Fetch implements attachment.Fetcher for Telegram file ids.
func (c *Channel) Fetch(ctx context.Context, att domain.Attachment) (*attachment.Blob, error) {
	c.mu.RLock()
	bot := c.bot
	c.mu.RUnlock()
	if bot == nil {
		return nil, &attachment.Error{Kind: attachment.TransportFailure, Ref: att.ID, Err: errors.New("telegram not connected")}
	}
	if att.ID == "" {
		return nil, &attachment.Error{Kind: attachment.NotFound, Ref: "<empty>", Err: errors.New("attachment has no file id")}
	}

	link, err := bot.GetFileDirectURL(att.ID)
	if err != nil {
		kind := attachment.TransportFailure
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusNotFound) {
			kind = attachment.NotFound
		}
		// The bot token is part of the request URL; keep only the API message.
		return nil, &attachment.Error{Kind: kind, Ref: att.ID, Err: errors.New(scrubToken(err.Error(), c.cfg.Token))}
	}

	// The direct link embeds the bot token, so the id stays the log reference.
	return c.downloader.Fetch(ctx, domain.Attachment{
		ID:       att.ID,
		URL:      link,
		MimeType: att.MimeType,
		Filename: att.Filename,
	})
}

func (c *Channel) handleUpdate(upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg, ok := toInbound(upd.Message)
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}

// toInbound converts a Bot API message. Photos use their largest size and
// image documents count as photos; other messages carry their text.
func toInbound(m *tgbotapi.Message) (domain.InboundMessage, bool) {
	if m.Chat == nil {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		ID:        strconv.FormatInt(m.Chat.ID, 10) + "-" + strconv.Itoa(m.MessageID),
		ChannelID: "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		ChatType:  domain.ChatTypeGroup,
		Body:      m.Text,
		Timestamp: m.Time(),
	}
	if m.Chat.IsPrivate() {
		msg.ChatType = domain.ChatTypeDM
	}
	if m.From != nil {
		msg.From = strconv.FormatInt(m.From.ID, 10)
		msg.FromName = m.From.UserName
		if msg.FromName == "" {
			msg.FromName = m.From.FirstName
		}
	}

	switch {
	case len(m.Photo) > 0:
		p := largestPhoto(m.Photo)
		msg.Media = []domain.Attachment{{
			Source:   Source,
			ID:       p.FileID,
			MimeType: "image/jpeg",
			Size:     int64(p.FileSize),
		}}
	case m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/"):
		msg.Media = []domain.Attachment{{
			Source:   Source,
			ID:       m.Document.FileID,
			MimeType: m.Document.MimeType,
			Filename: m.Document.FileName,
			Size:     int64(m.Document.FileSize),
		}}
	}

	if msg.Body == "" && !msg.HasMedia() {
		return domain.InboundMessage{}, false
	}
	return msg, true
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// splitText cuts text into pieces of at most limit bytes, preferring line
// breaks. Cuts never fall inside a multi-byte rune.
func splitText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(text)
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func scrubToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<token>")
}
