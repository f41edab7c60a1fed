package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramGateway struct {
	Bot  *tgbotapi.BotAPI
	Ctrl Controller
}

func NewTelegramGateway(token string, ctrl Controller) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("[Telegram] Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:  bot,
		Ctrl: ctrl,
	}, nil
}

func (tg *TelegramGateway) Name() string {
	return "telegram"
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}

			log.Printf("[Telegram] [%s] %s", senderName(update.Message), update.Message.Text)

			chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
			reply := HandleCommand(ctx, tg.Ctrl, "/", Origin(tg.Name(), chatID), update.Message.Text)
			if reply == "" {
				continue
			}
			if _, err := tg.Bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, reply)); err != nil {
				log.Printf("[Telegram] Reply failed: %v", err)
			}
		}
	}
}

// senderName identifies who wrote msg. Channel posts have no sender.
func senderName(msg *tgbotapi.Message) string {
	switch {
	case msg.From == nil && msg.SenderChat != nil:
		return msg.SenderChat.Title
	case msg.From == nil:
		return "channel"
	case msg.From.UserName != "":
		return msg.From.UserName
	default:
		return msg.From.FirstName
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := tg.Bot.Send(msg); err == nil {
		return nil
	}
	// model output is not always valid Markdown
	msg.ParseMode = ""
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
