package channels

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// SlackChannel bridges a Slack app over socket mode. Slack channels map to
// group scopes.
type SlackChannel struct {
	botToken string
	appToken string
	api      *slack.Client
	socket   *socketmode.Client
	mb       *bus.MessageBus
	log      *logrus.Entry
}

// NewSlackChannel creates the Slack transport. The app token must have
// connections:write for socket mode.
func NewSlackChannel(botToken, appToken string, mb *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		botToken: botToken,
		appToken: appToken,
		mb:       mb,
		log:      logger.New("channel.slack"),
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Start(ctx context.Context) error {
	s.api = slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.socket = socketmode.New(s.api)

	go func() {
		if err := s.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			s.log.WithField("error", err.Error()).Error("socket mode terminated")
		}
	}()
	go s.receiveLoop(ctx)
	return nil
}

func (s *SlackChannel) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, good := evt.Data.(slackevents.EventsAPIEvent)
			if evt.Request != nil {
				s.socket.Ack(*evt.Request)
			}
			if !good || apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			s.handleCallback(apiEvent)
		}
	}
}

func (s *SlackChannel) handleCallback(apiEvent slackevents.EventsAPIEvent) {
	switch inner := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if inner.BotID != "" || inner.User == "" {
			return
		}
		ev := domain.NewEvent(domain.KindMessage, domain.Member(inner.Channel, inner.User), inner.User, s.Name(), inner.Text)
		ev.Raw = map[string]string{"ts": inner.TimeStamp}
		s.mb.PublishInbound(ev)
	case *slackevents.MemberJoinedChannelEvent:
		ev := domain.NewEvent(domain.KindNotice, domain.Member(inner.Channel, inner.User), inner.User, s.Name(), "member joined")
		ev.Raw = map[string]string{"notice": "member_join"}
		s.mb.PublishInbound(ev)
	}
}

func (s *SlackChannel) Send(ctx context.Context, msg domain.Message) error {
	if s.api == nil {
		return fmt.Errorf("slack: not connected")
	}
	target := msg.Scope.GroupID
	if target == "" {
		target = msg.Scope.UserID
	}
	text := msg.PlainText()
	if text == "" {
		return nil
	}
	_, _, err := s.api.PostMessageContext(ctx, target, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (s *SlackChannel) Stop(_ context.Context) error {
	// Socket mode stops with the context passed to Start.
	return nil
}

// Compile-time verification
var _ Channel = (*SlackChannel)(nil)
