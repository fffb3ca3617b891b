// Package notify alerts operators about new inbox activity.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"dmdesk/internal/bus"
	"dmdesk/internal/domain"
)

var _ domain.Notifier = (*Telegram)(nil)

const (
	telegramMaxMsgLen = 4000
	notifyTimeout     = 30 * time.Second
	previewLen        = 500
)

// Telegram implements domain.Notifier with a Telegram bot that posts to a
// fixed set of chats.
type Telegram struct {
	token       string
	chatIDs     []int64
	parseMode   string
	apiEndpoint string
	logger      *slog.Logger

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI
	wg  sync.WaitGroup
}

type TelegramConfig struct {
	Token     string
	ChatIDs   []string // numeric chat ids
	ParseMode string   // empty sends plain text
	// APIEndpoint overrides the Bot API URL format, e.g. for a local Bot API server.
	APIEndpoint string
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	logger := cfg.Logger.With("component", "notify.telegram")
	var ids []int64
	for _, s := range cfg.ChatIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			logger.Warn("ignoring invalid telegram chat id", "chat_id", s)
			continue
		}
		ids = append(ids, id)
	}
	return &Telegram{
		token:       cfg.Token,
		chatIDs:     ids,
		parseMode:   cfg.ParseMode,
		apiEndpoint: cfg.APIEndpoint,
		logger:      logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start authenticates the bot. Notify fails until Start succeeds.
func (t *Telegram) Start(ctx context.Context) error {
	if len(t.chatIDs) == 0 {
		return fmt.Errorf("telegram: no chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.apiEndpoint)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
	t.logger.Info("telegram notifier connected", "username", bot.Self.UserName, "chats", len(t.chatIDs))
	return nil
}

// Notify sends text to every configured chat, split into Telegram-sized
// chunks. It returns the first error after trying all chats.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	t.mu.RLock()
	bot := t.bot
	t.mu.RUnlock()
	if bot == nil {
		return fmt.Errorf("telegram notifier not started")
	}

	var firstErr error
	for _, chatID := range t.chatIDs {
		for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := t.sendChunk(bot, chatID, chunk); err != nil {
				t.logger.Warn("telegram send failed", "chat_id", chatID, "err", err)
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
	}
	return firstErr
}

// sendChunk tries the configured parse mode first and falls back to plain
// text when Telegram rejects the markup.
func (t *Telegram) sendChunk(bot *tgbotapi.BotAPI, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = t.parseMode
	_, err := bot.Send(msg)
	if err == nil || t.parseMode == "" || !strings.Contains(err.Error(), "can't parse entities") {
		return err
	}
	msg.ParseMode = ""
	_, err = bot.Send(msg)
	return err
}

// Subscribe forwards accepted messages from eb. Sends run in the background
// so the intake path never waits on Telegram.
func (t *Telegram) Subscribe(eb *bus.EventBus) string {
	return eb.On(bus.EventMessageAccepted, func(ev bus.Event) {
		text := FormatAccepted(ev)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := t.Notify(ctx, text); err != nil {
				t.logger.Debug("accepted-message notification dropped", "err", err)
			}
		}()
	})
}

// Stop waits for in-flight notifications.
func (t *Telegram) Stop() error {
	t.wg.Wait()
	return nil
}

// FormatAccepted renders a message.accepted event as an operator alert.
func FormatAccepted(ev bus.Event) string {
	user, _ := ev.Payload["user"].(string)
	text, _ := ev.Payload["text"].(string)
	if user == "" {
		user = "unknown sender"
	}
	if r := []rune(text); len(r) > previewLen {
		text = string(r[:previewLen]) + "..."
	}
	return fmt.Sprintf("New DM from %s: %s", user, text)
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring to
// break after a newline in the second half of a chunk.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
