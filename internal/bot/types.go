package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bazibot/internal/conversation"
	"bazibot/internal/storage"
)

// Handler turns an inbound event into the reply to send
type Handler interface {
	Handle(ctx context.Context, ev conversation.Event) (conversation.Reply, error)
}

// sender is the subset of the Telegram API the bot uses to deliver messages
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          *tgbotapi.BotAPI
	out          sender
	token        string
	handler      Handler
	profiles     storage.ProfileStore
	allowedUsers map[int64]bool
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}
