package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
)

type DiscordGateway struct {
	Session *discordgo.Session
	Ctrl    Controller
}

func NewDiscordGateway(token string, ctrl Controller) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	return &DiscordGateway{Session: s, Ctrl: ctrl}, nil
}

func (d *DiscordGateway) Name() string {
	return "discord"
}

func (d *DiscordGateway) Start(ctx context.Context) error {
	remove := d.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		log.Printf("[Discord] [%s] %s", m.Author.Username, m.Content)

		reply := HandleCommand(ctx, d.Ctrl, "!", Origin(d.Name(), m.ChannelID), m.Content)
		if reply == "" {
			return
		}
		if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
			log.Printf("[Discord] Reply failed: %v", err)
		}
	})
	defer remove()

	if err := d.Session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	if d.Session.State != nil && d.Session.State.User != nil {
		log.Printf("[Discord] Connected as %s", d.Session.State.User.Username)
	}

	<-ctx.Done()
	return d.Stop()
}

func (d *DiscordGateway) Send(chatID string, text string) error {
	_, err := d.Session.ChannelMessageSend(chatID, text)
	return err
}

func (d *DiscordGateway) Stop() error {
	return d.Session.Close()
}
