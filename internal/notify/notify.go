// Package notify delivers high-risk case alerts to the Designated
// Safeguarding Lead.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"github.com/hyderomar92-ai/safeguard/internal/risk"
)

// Alert describes one case that needs the DSL's attention. Summary must
// already be redacted by the caller.
type Alert struct {
	CaseID  string
	Student string
	Score   int
	Band    risk.Band
	Reason  string
	Summary string
}

// Text renders the alert as a short plain-text message.
func (a Alert) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Safeguarding alert: %s (%s)\n", a.Student, a.Reason)
	fmt.Fprintf(&sb, "Case %s, risk score %d (%s)\n", a.CaseID, a.Score, a.Band)
	if a.Summary != "" {
		sb.WriteString(a.Summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Notifier sends alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Sender is the part of *telebot.Bot that Telegram uses.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Telegram sends alerts to a single chat.
type Telegram struct {
	bot  Sender
	chat *telebot.Chat
}

// NewTelegram creates an offline bot (no polling, no getMe call) that only
// sends to chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: telegram token is required")
	}
	bot, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatID), nil
}

// NewTelegramWithSender wraps an existing sender.
func NewTelegramWithSender(s Sender, chatID int64) *Telegram {
	return &Telegram{bot: s, chat: &telebot.Chat{ID: chatID}}
}

func (t *Telegram) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(t.chat, a.Text(), &telebot.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	return nil
}

// Log writes alerts to a logger. It is the fallback when no chat is configured.
type Log struct {
	Logger logrus.FieldLogger
}

func (l Log) Notify(_ context.Context, a Alert) error {
	l.Logger.WithFields(logrus.Fields{
		"case_id": a.CaseID,
		"score":   a.Score,
		"band":    a.Band,
		"reason":  a.Reason,
	}).Warn("safeguarding alert")
	return nil
}
