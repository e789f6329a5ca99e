// Package alert sends plain-text Telegram notifications for trade
// lifecycle events: a coordinator starting, a trade settling, or an
// unrecoverable error bailing out a run.
package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Telegram sends plain-text messages to one fixed chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// New connects to the Telegram bot API using token and binds all
// messages to chatID.
func New(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log.With().Str("component", "alert").Logger()}, nil
}

// SendTextMessage posts text to the configured chat. Send failures are
// logged, not returned: an alert that can't be delivered must never abort
// the trade it is reporting on.
func (t *Telegram) SendTextMessage(text string) {
	if t == nil || t.api == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		t.log.Warn().Err(err).Msg("failed to deliver telegram alert")
	}
}

// SendTextMessagef formats text with args and sends it.
func (t *Telegram) SendTextMessagef(format string, args ...any) {
	t.SendTextMessage(fmt.Sprintf(format, args...))
}
