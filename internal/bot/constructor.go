package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bazibot/internal/storage"
)

// NewBot creates a new Telegram bot. An empty allowedUserIDs list lets
// everyone in.
func NewBot(token string, handler Handler, profiles storage.ProfileStore, allowedUserIDs []int64, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	b := newBot(handler, profiles, allowedUserIDs, logger)
	b.api = api
	b.out = api
	b.token = token
	return b, nil
}

func newBot(handler Handler, profiles storage.ProfileStore, allowedUserIDs []int64, logger *zap.Logger) *Bot {
	var allowedUsers map[int64]bool
	if len(allowedUserIDs) > 0 {
		allowedUsers = make(map[int64]bool, len(allowedUserIDs))
		for _, id := range allowedUserIDs {
			allowedUsers[id] = true
		}
	}
	return &Bot{
		handler:      handler,
		profiles:     profiles,
		allowedUsers: allowedUsers,
		logger:       logger,
		sleep:        sleepContext,
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	return b.allowedUsers == nil || b.allowedUsers[userID]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
