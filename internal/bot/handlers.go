package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bazibot/internal/conversation"
)

const (
	unauthorizedText = "Sorry, you are not authorized to use this bot."
	panicText        = "An error occurred while processing your request. Please try again."
)

// HandleUpdate processes a single update from polling or webhook
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// handleMessage turns a command or text message into an event
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		return
	}

	userID := message.From.ID
	if !b.isAllowed(userID) {
		b.logger.Warn("Unauthorized access attempt",
			zap.Int64("user_id", userID),
			zap.String("username", message.From.UserName),
			zap.String("text", message.Text),
		)
		b.sendText(message.Chat.ID, unauthorizedText)
		return
	}

	ev := conversation.Event{
		UserID:      userID,
		ChatID:      message.Chat.ID,
		Kind:        conversation.KindText,
		Payload:     message.Text,
		Username:    message.From.UserName,
		DisplayName: displayName(message.From),
	}
	if message.IsCommand() {
		ev.Kind = conversation.KindCommand
		ev.Payload = strings.ToLower(message.Command())
	}
	b.dispatch(ctx, ev)
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}

	userID := query.From.ID
	if !b.isAllowed(userID) {
		b.logger.Warn("Unauthorized callback query attempt",
			zap.Int64("user_id", userID),
			zap.String("username", query.From.UserName),
			zap.String("callback_data", query.Data),
		)
		return
	}

	// Answer the callback query to remove loading state
	if b.out != nil {
		if _, err := b.out.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			b.logger.Debug("Failed to answer callback query", zap.Error(err))
		}
	}

	chatID := userID
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	}
	b.dispatch(ctx, conversation.Event{
		UserID:      userID,
		ChatID:      chatID,
		Kind:        conversation.KindButton,
		Payload:     query.Data,
		Username:    query.From.UserName,
		DisplayName: displayName(query.From),
	})
}

// dispatch runs the handler and delivers its reply
func (b *Bot) dispatch(ctx context.Context, ev conversation.Event) {
	ev.ID = uuid.NewString()
	logger := b.logger.With(
		zap.String("event_id", ev.ID),
		zap.Int64("user_id", ev.UserID),
		zap.String("kind", string(ev.Kind)),
	)

	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while handling event", zap.Any("panic", r), zap.Stack("stack"))
			b.sendText(ev.ChatID, panicText)
		}
	}()

	reply, err := b.handler.Handle(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrInvalidInput), errors.Is(err, conversation.ErrMissingChartResult):
		logger.Debug("Event handled with user error", zap.Error(err))
	case errors.Is(err, conversation.ErrStaleResult):
		logger.Info("Dropped stale event result", zap.Error(err))
	default:
		logger.Warn("Event failed", zap.Error(err))
	}

	b.sendReply(ctx, ev.ChatID, reply)
}

func displayName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
