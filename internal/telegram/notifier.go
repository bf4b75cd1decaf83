// Package telegram delivers quota alerts to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/treadlog/treadlog/internal/alerts"
	"github.com/treadlog/treadlog/internal/config"
	"github.com/treadlog/treadlog/internal/logging"
)

// BotAPI is the subset of the Telegram client the notifier needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends alerts to a single Telegram chat. It implements
// alerts.Notifier.
type Notifier struct {
	bot    BotAPI
	chatID int64
	logger *logging.Logger

	mu          sync.Mutex
	perMinute   int
	windowStart time.Time
	sentInWin   int
	now         func() time.Time
}

// NotifierOption configures the notifier
type NotifierOption func(*Notifier)

// WithLogger sets the structured logger
func WithLogger(logger *logging.Logger) NotifierOption {
	return func(n *Notifier) { n.logger = logger }
}

// WithBot overrides the Telegram client, for tests
func WithBot(bot BotAPI) NotifierOption {
	return func(n *Notifier) { n.bot = bot }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// NewNotifier creates a Telegram notifier from configuration. The bot token
// is validated against the Telegram API unless a client is injected.
func NewNotifier(cfg config.TelegramConfig, opts ...NotifierOption) (*Notifier, error) {
	n := &Notifier{
		chatID:    cfg.ChatID,
		logger:    logging.NewLogger(),
		perMinute: cfg.RateLimit.MessagesPerMinute,
		now:       time.Now,
	}
	if n.perMinute <= 0 {
		n.perMinute = 20
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.bot == nil {
		bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram auth: %w", err)
		}
		n.bot = bot
	}
	return n, nil
}

// Name returns the channel name used in metrics labels.
func (n *Notifier) Name() string {
	return "telegram"
}

// Send delivers an alert as a Markdown message.
func (n *Notifier) Send(ctx context.Context, alert *alerts.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.allow() {
		return fmt.Errorf("telegram rate limit exceeded")
	}

	msg := tgbotapi.NewMessage(n.chatID, formatAlert(alert))
	msg.ParseMode = "Markdown"
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// allow enforces the per-minute message budget with a fixed window.
func (n *Notifier) allow() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now.Sub(n.windowStart) >= time.Minute {
		n.windowStart = now
		n.sentInWin = 0
	}
	if n.sentInWin >= n.perMinute {
		return false
	}
	n.sentInWin++
	return true
}

func formatAlert(alert *alerts.Alert) string {
	icon := "⚠️"
	if alert.Severity == alerts.SeverityCritical {
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", icon, title(alert))
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "Account: `%s`\n", alert.AccountID)
	fmt.Fprintf(&b, "Usage: %.1f%%\n", alert.Current)
	fmt.Fprintf(&b, "Time: %s", alert.Timestamp.UTC().Format("15:04:05 MST"))
	return b.String()
}

func title(alert *alerts.Alert) string {
	if alert.Type == alerts.AlertTypeExhausted {
		return "Lookup pool exhausted"
	}
	return "Lookup pool threshold crossed"
}

// Notify sends a one-off message without requiring a configured notifier.
// Errors are logged and swallowed so startup paths can fire and forget.
func Notify(token string, chatID int64, text string) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 || strings.TrimSpace(text) == "" {
		return
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	_, _ = bot.Send(msg)
}

var _ alerts.Notifier = (*Notifier)(nil)
