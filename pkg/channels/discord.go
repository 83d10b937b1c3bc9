package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/bus"
	"github.com/umino-bot/umino/pkg/domain"
	"github.com/umino-bot/umino/pkg/logger"
)

// DiscordChannel bridges a Discord bot account. Guild channels map to group
// scopes; DMs map to user scopes.
type DiscordChannel struct {
	token   string
	session *discordgo.Session
	mb      *bus.MessageBus
	log     *logrus.Entry
}

// NewDiscordChannel creates the Discord transport.
func NewDiscordChannel(token string, mb *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{token: token, mb: mb, log: logger.New("channel.discord")}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Start(_ context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMembers

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onMemberAdd)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.session = session
	return nil
}

func (d *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	scope := domain.Member(m.ChannelID, m.Author.ID)
	if m.GuildID == "" { // DM
		scope = domain.User(m.Author.ID)
	}

	ev := domain.NewEvent(domain.KindMessage, scope, m.Author.ID, d.Name(), m.Content)
	ev.Raw = map[string]string{
		"message_id": m.ID,
		"guild_id":   m.GuildID,
	}
	d.mb.PublishInbound(ev)
}

func (d *DiscordChannel) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil {
		return
	}
	ev := domain.NewEvent(domain.KindNotice, domain.Member(m.GuildID, m.User.ID), m.User.ID, d.Name(), "member joined")
	ev.Raw = map[string]string{"notice": "member_join", "guild_id": m.GuildID}
	d.mb.PublishInbound(ev)
}

func (d *DiscordChannel) Send(_ context.Context, msg domain.Message) error {
	if d.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	target := msg.Scope.GroupID
	if target == "" {
		// DM: open (or reuse) the user's DM channel.
		ch, err := d.session.UserChannelCreate(msg.Scope.UserID)
		if err != nil {
			return fmt.Errorf("discord dm channel: %w", err)
		}
		target = ch.ID
	}

	for _, seg := range msg.Segments {
		var err error
		switch seg.Type {
		case domain.SegmentText:
			_, err = d.session.ChannelMessageSend(target, seg.Text)
		case domain.SegmentImage:
			_, err = d.session.ChannelMessageSendEmbed(target, &discordgo.MessageEmbed{
				Image: &discordgo.MessageEmbedImage{URL: seg.URL},
			})
		}
		if err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *DiscordChannel) Stop(_ context.Context) error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

// Compile-time verification
var _ Channel = (*DiscordChannel)(nil)
