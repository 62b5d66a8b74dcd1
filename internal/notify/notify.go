package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS - Operator alerts over Telegram and a generic webhook
// ═══════════════════════════════════════════════════════════════════════════════
//
// Alerts are best-effort: a dead webhook must never stall the trading loop,
// so failures are logged and dropped.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier pushes one operator alert.
type Notifier interface {
	Alert(ctx context.Context, msg string)
}

// Multi fans an alert out to every configured sink.
type Multi []Notifier

func (m Multi) Alert(ctx context.Context, msg string) {
	for _, n := range m {
		n.Alert(ctx, msg)
	}
}

// ============ TELEGRAM ============

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects the bot. Returns an error when the token is rejected.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Info().Str("username", bot.Self.UserName).Msg("📱 Telegram notifier connected")
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Alert(_ context.Context, msg string) {
	m := tgbotapi.NewMessage(t.chatID, msg)
	if _, err := t.bot.Send(m); err != nil {
		log.Warn().Err(err).Msg("Telegram alert failed")
	}
}

// ============ WEBHOOK ============

type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *Webhook) Alert(ctx context.Context, msg string) {
	payload, _ := json.Marshal(map[string]string{
		"text": msg,
		"ts":   time.Now().UTC().Format(time.RFC3339),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Webhook alert failed")
		return
	}
	resp.Body.Close()
}
