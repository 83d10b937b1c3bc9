// Package notify delivers operational alerts to an external chat. Only
// failures are forwarded; healthy traffic stays out of the alert channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// LarkNotifier sends alert messages to a Lark chat. It observes the signal
// bus for errored dispatches and channel failures.
type LarkNotifier struct {
	client    *lark.Client
	receiveID string
	log       *logrus.Entry
}

// NewLarkNotifier builds a notifier for the given app credentials and
// target chat.
func NewLarkNotifier(appID, appSecret, receiveID string) *LarkNotifier {
	return &LarkNotifier{
		client:    lark.NewClient(appID, appSecret),
		receiveID: receiveID,
		log:       logger.New("notify.lark"),
	}
}

// Attach subscribes the notifier to the signal bus.
func (n *LarkNotifier) Attach(bus domain.SignalBus) {
	bus.Subscribe(domain.SignalDispatchCompleted, n.onDispatchCompleted)
	bus.Subscribe(domain.SignalChannelError, n.onChannelError)
	bus.Subscribe(domain.SignalPluginErrored, n.onPluginErrored)
}

// onDispatchCompleted alerts only when at least one handler errored.
func (n *LarkNotifier) onDispatchCompleted(sig domain.Signal) {
	report, ok := sig.Payload().(domain.DispatchReport)
	if !ok || !report.Errored() {
		return
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("dispatch errored: event %s (%s at %s)",
		report.EventID, report.Kind, report.Scope))
	for _, res := range report.Results {
		if res.Outcome != domain.OutcomeErrored {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s/%s: %s", res.Plugin, res.Listener, res.Error))
	}
	n.send(strings.Join(lines, "\n"))
}

func (n *LarkNotifier) onChannelError(sig domain.Signal) {
	n.send(fmt.Sprintf("channel error: %v", sig.Payload()))
}

func (n *LarkNotifier) onPluginErrored(sig domain.Signal) {
	n.send(fmt.Sprintf("plugin errored: %v", sig.Payload()))
}

// send delivers one text message. Runs on the signal publisher's goroutine,
// so delivery is handed off and failures only logged.
func (n *LarkNotifier) send(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		content, err := json.Marshal(map[string]string{"text": text})
		if err != nil {
			n.log.WithField("error", err.Error()).Warn("lark content encode failed")
			return
		}

		req := larkim.NewCreateMessageReqBuilder().
			ReceiveIdType(larkim.ReceiveIdTypeChatId).
			Body(larkim.NewCreateMessageReqBodyBuilder().
				ReceiveId(n.receiveID).
				MsgType(larkim.MsgTypeText).
				Content(string(content)).
				Build()).
			Build()

		resp, err := n.client.Im.Message.Create(ctx, req)
		if err != nil {
			n.log.WithField("error", err.Error()).Warn("lark alert delivery failed")
			return
		}
		if !resp.Success() {
			n.log.WithFields(logger.Fields{
				"code": resp.Code,
				"msg":  resp.Msg,
			}).Warn("lark alert rejected")
		}
	}()
}
