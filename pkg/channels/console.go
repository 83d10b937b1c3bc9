package channels

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// ConsoleChannel is a local REPL transport for operating the host from a
// terminal. Every line becomes a message event from the "operator" user.
type ConsoleChannel struct {
	mb  *bus.MessageBus
	rl  *readline.Instance
	log *logrus.Entry
}

// ConsoleSender is the synthetic sender ID for console input.
const ConsoleSender = "operator"

// NewConsoleChannel creates the console transport.
func NewConsoleChannel(mb *bus.MessageBus) *ConsoleChannel {
	return &ConsoleChannel{mb: mb, log: logger.New("channel.console")}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	rl, err := readline.New("umino> ")
	if err != nil {
		return fmt.Errorf("console init: %w", err)
	}
	c.rl = rl

	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	for {
		line, err := c.rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			if err != io.EOF && err != readline.ErrInterrupt {
				c.log.WithField("error", err.Error()).Warn("console read failed")
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev := domain.NewEvent(domain.KindMessage, domain.User(ConsoleSender), ConsoleSender, c.Name(), line)
		c.mb.PublishInbound(ev)
	}
}

func (c *ConsoleChannel) Send(_ context.Context, msg domain.Message) error {
	fmt.Println(msg.PlainText())
	return nil
}

func (c *ConsoleChannel) Stop(_ context.Context) error {
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Compile-time verification
var _ Channel = (*ConsoleChannel)(nil)
