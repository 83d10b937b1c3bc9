package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tencent-connect/botgo"
	"github.com/tencent-connect/botgo/dto"
	"github.com/tencent-connect/botgo/event"
	"github.com/tencent-connect/botgo/openapi"
	"github.com/tencent-connect/botgo/token"
	"github.com/tencent-connect/botgo/websocket"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// QQChannel bridges a QQ guild bot through the official open platform.
// Guild channels map to group scopes.
type QQChannel struct {
	appID       uint64
	accessToken string
	api         openapi.OpenAPI
	mb          *bus.MessageBus
	log         *logrus.Entry
}

// NewQQChannel creates the QQ guild transport.
func NewQQChannel(appID uint64, accessToken string, mb *bus.MessageBus) *QQChannel {
	return &QQChannel{
		appID:       appID,
		accessToken: accessToken,
		mb:          mb,
		log:         logger.New("channel.qq"),
	}
}

func (q *QQChannel) Name() string { return "qq" }

func (q *QQChannel) Start(ctx context.Context) error {
	botToken := token.BotToken(q.appID, q.accessToken)
	q.api = botgo.NewOpenAPI(botToken).WithTimeout(5 * time.Second)

	ws, err := q.api.WS(ctx, nil, "")
	if err != nil {
		return fmt.Errorf("qq ws gateway: %w", err)
	}

	var atMessage event.ATMessageEventHandler = func(_ *dto.WSPayload, data *dto.WSATMessageData) error {
		q.publishMessage((*dto.Message)(data))
		return nil
	}
	intent := websocket.RegisterHandlers(atMessage)

	go func() {
		if err := botgo.NewSessionManager().Start(ws, botToken, &intent); err != nil && ctx.Err() == nil {
			q.log.WithField("error", err.Error()).Error("qq session terminated")
		}
	}()
	return nil
}

func (q *QQChannel) publishMessage(m *dto.Message) {
	if m.Author == nil {
		return
	}
	ev := domain.NewEvent(domain.KindMessage, domain.Member(m.ChannelID, m.Author.ID), m.Author.ID, q.Name(), m.Content)
	ev.Raw = map[string]string{
		"message_id": m.ID,
		"guild_id":   m.GuildID,
	}
	q.mb.PublishInbound(ev)
}

func (q *QQChannel) Send(ctx context.Context, msg domain.Message) error {
	if q.api == nil {
		return fmt.Errorf("qq: not connected")
	}
	text := msg.PlainText()
	if text == "" {
		return nil
	}
	create := &dto.MessageToCreate{Content: text}
	if _, err := q.api.PostMessage(ctx, msg.Scope.GroupID, create); err != nil {
		return fmt.Errorf("qq send: %w", err)
	}
	return nil
}

func (q *QQChannel) Stop(_ context.Context) error {
	// The session manager stops with the context passed to Start.
	return nil
}

// Compile-time verification
var _ Channel = (*QQChannel)(nil)
