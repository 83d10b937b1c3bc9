package channels

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// TelegramChannel bridges a Telegram bot via long polling. Group chats map
// to group scopes; private chats map to user scopes.
type TelegramChannel struct {
	token string
	bot   *telego.Bot
	mb    *bus.MessageBus
	log   *logrus.Entry
}

// NewTelegramChannel creates the Telegram transport.
func NewTelegramChannel(token string, mb *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{token: token, mb: mb, log: logger.New("channel.telegram")}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Start(ctx context.Context) error {
	bot, err := telego.NewBot(t.token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	t.bot = bot

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram polling: %w", err)
	}

	go t.receiveLoop(ctx, updates)
	return nil
}

func (t *TelegramChannel) receiveLoop(ctx context.Context, updates <-chan telego.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if upd.Message == nil || upd.Message.From == nil {
				continue
			}
			t.publishMessage(upd.Message)
		}
	}
}

func (t *TelegramChannel) publishMessage(m *telego.Message) {
	sender := strconv.FormatInt(m.From.ID, 10)
	chat := strconv.FormatInt(m.Chat.ID, 10)

	scope := domain.Member(chat, sender)
	if m.Chat.Type == telego.ChatTypePrivate {
		scope = domain.User(sender)
	}

	ev := domain.NewEvent(domain.KindMessage, scope, sender, t.Name(), m.Text)
	ev.Raw = map[string]string{
		"message_id": strconv.Itoa(m.MessageID),
		"chat_type":  m.Chat.Type,
	}
	t.mb.PublishInbound(ev)
}

func (t *TelegramChannel) Send(ctx context.Context, msg domain.Message) error {
	if t.bot == nil {
		return fmt.Errorf("telegram: not connected")
	}
	target := msg.Scope.GroupID
	if target == "" {
		target = msg.Scope.UserID
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", target, err)
	}

	text := msg.PlainText()
	if text == "" {
		return nil
	}
	_, err = t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *TelegramChannel) Stop(_ context.Context) error {
	// Long polling stops with the context passed to Start.
	return nil
}

// Compile-time verification
var _ Channel = (*TelegramChannel)(nil)
