package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	errorReply             = "Sorry, something went wrong while answering. Please try again."
)

// Telegram answers chat messages through the query service.
type Telegram struct {
	token             string
	allowFrom         []int64 // Allowed user IDs (empty = allow all)
	defaultPropertyID string
	requestTimeout    time.Duration

	bot     *tgbotapi.BotAPI
	service *Service
	logger  *slog.Logger

	// per-chat GA4 property set with /property
	properties   map[int64]string
	propertiesMu sync.RWMutex
}

type TelegramConfig struct {
	Token             string
	AllowFrom         []string // User IDs as strings
	DefaultPropertyID string
	RequestTimeout    time.Duration
	Service           *Service
	Logger            *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:             cfg.Token,
		allowFrom:         allowed,
		defaultPropertyID: cfg.DefaultPropertyID,
		requestTimeout:    cfg.RequestTimeout,
		service:           cfg.Service,
		logger:            cfg.Logger,
		properties:        make(map[int64]string),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	if ParseCommand(text) == nil {
		_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	}
	t.sendMessage(chatID, t.reply(ctx, chatID, text))
}

// reply produces the response text for one chat message.
func (t *Telegram) reply(ctx context.Context, chatID int64, text string) string {
	if cmd := ParseCommand(text); cmd != nil {
		return t.handleCommand(chatID, cmd)
	}

	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	answer, err := t.service.Ask(ctx, t.Name(), t.property(chatID), text)
	if err != nil {
		t.logger.Error("telegram query failed", "chat_id", chatID, "err", err)
		return errorReply
	}
	return answer.Answer
}

func (t *Telegram) handleCommand(chatID int64, cmd *ChatCommand) string {
	switch cmd.Name {
	case "start", "help":
		return helpText()
	case "property":
		if len(cmd.Args) == 0 {
			return propertyText(t.property(chatID))
		}
		id := cmd.Args[0]
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return "A GA4 property ID is numeric, e.g. /property 123456789"
		}
		t.propertiesMu.Lock()
		t.properties[chatID] = id
		t.propertiesMu.Unlock()
		return propertyText(id)
	default:
		return "Unknown command. Type /help for available commands."
	}
}

func (t *Telegram) property(chatID int64) string {
	t.propertiesMu.RLock()
	defer t.propertiesMu.RUnlock()
	if id, ok := t.properties[chatID]; ok {
		return id
	}
	return t.defaultPropertyID
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring a
// newline in the second half of each chunk and never splitting a rune.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// sendChunk sends a single message chunk, backing off on rate limits and
// transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
