package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// OneBotChannel speaks the OneBot v11 websocket protocol to a local
// protocol endpoint (the usual bridge for QQ group bots). Groups map to
// group scopes, private chats to user scopes.
type OneBotChannel struct {
	url         string
	accessToken string

	mu   sync.Mutex
	conn *websocket.Conn

	mb  *bus.MessageBus
	log *logrus.Entry
}

// onebotFrame is the inbound wire shape, loosely typed on purpose: the
// endpoint mixes events and API responses on one socket.
type onebotFrame struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	NoticeType  string `json:"notice_type"`
	RequestType string `json:"request_type"`
	GroupID     int64  `json:"group_id"`
	UserID      int64  `json:"user_id"`
	MessageID   int64  `json:"message_id"`
	RawMessage  string `json:"raw_message"`
}

// onebotAction is the outbound wire shape.
type onebotAction struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

// NewOneBotChannel creates the OneBot transport.
func NewOneBotChannel(url, accessToken string, mb *bus.MessageBus) *OneBotChannel {
	return &OneBotChannel{
		url:         url,
		accessToken: accessToken,
		mb:          mb,
		log:         logger.New("channel.onebot"),
	}
}

func (o *OneBotChannel) Name() string { return "onebot" }

func (o *OneBotChannel) Start(ctx context.Context) error {
	if err := o.connect(ctx); err != nil {
		return err
	}
	go o.receiveLoop(ctx)
	return nil
}

func (o *OneBotChannel) connect(ctx context.Context) error {
	header := map[string][]string{}
	if o.accessToken != "" {
		header["Authorization"] = []string{"Bearer " + o.accessToken}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, o.url, header)
	if err != nil {
		return fmt.Errorf("onebot dial %s: %w", o.url, err)
	}
	o.mu.Lock()
	o.conn = conn
	o.mu.Unlock()
	return nil
}

// receiveLoop reads frames and reconnects with backoff until cancelled.
func (o *OneBotChannel) receiveLoop(ctx context.Context) {
	backoff := time.Second
	for {
		o.mu.Lock()
		conn := o.conn
		o.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.WithField("error", err.Error()).Warn("onebot read failed, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			if err := o.connect(ctx); err != nil {
				o.log.WithField("error", err.Error()).Warn("onebot reconnect failed")
			}
			continue
		}
		backoff = time.Second

		var frame onebotFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue // API response or malformed frame
		}
		o.publishFrame(frame)
	}
}

func (o *OneBotChannel) publishFrame(frame onebotFrame) {
	sender := strconv.FormatInt(frame.UserID, 10)
	group := strconv.FormatInt(frame.GroupID, 10)

	switch frame.PostType {
	case "message":
		scope := domain.User(sender)
		if frame.MessageType == "group" {
			scope = domain.Member(group, sender)
		}
		ev := domain.NewEvent(domain.KindMessage, scope, sender, o.Name(), frame.RawMessage)
		ev.Raw = map[string]string{"message_id": strconv.FormatInt(frame.MessageID, 10)}
		o.mb.PublishInbound(ev)
	case "notice":
		if frame.GroupID == 0 {
			return
		}
		ev := domain.NewEvent(domain.KindNotice, domain.Member(group, sender), sender, o.Name(), frame.NoticeType)
		ev.Raw = map[string]string{"notice": frame.NoticeType}
		o.mb.PublishInbound(ev)
	case "request":
		ev := domain.NewEvent(domain.KindRequest, domain.User(sender), sender, o.Name(), frame.RequestType)
		o.mb.PublishInbound(ev)
	}
}

func (o *OneBotChannel) Send(_ context.Context, msg domain.Message) error {
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("onebot: not connected")
	}

	text := msg.PlainText()
	if text == "" {
		return nil
	}

	var action onebotAction
	if msg.Scope.GroupID != "" {
		groupID, err := strconv.ParseInt(msg.Scope.GroupID, 10, 64)
		if err != nil {
			return fmt.Errorf("onebot group id %q: %w", msg.Scope.GroupID, err)
		}
		action = onebotAction{
			Action: "send_group_msg",
			Params: map[string]interface{}{"group_id": groupID, "message": text},
		}
	} else {
		userID, err := strconv.ParseInt(msg.Scope.UserID, 10, 64)
		if err != nil {
			return fmt.Errorf("onebot user id %q: %w", msg.Scope.UserID, err)
		}
		action = onebotAction{
			Action: "send_private_msg",
			Params: map[string]interface{}{"user_id": userID, "message": text},
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.WriteJSON(action); err != nil {
		return fmt.Errorf("onebot send: %w", err)
	}
	return nil
}

func (o *OneBotChannel) Stop(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn != nil {
		return o.conn.Close()
	}
	return nil
}

// Compile-time verification
var _ Channel = (*OneBotChannel)(nil)
