package bot

import (
	"context"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bazibot/internal/conversation"
	"bazibot/internal/models"
)

// captionLimit is Telegram's maximum media caption length in characters
const captionLimit = 1024

// buttonsOnlyText carries the keyboard of a text-less message whose media failed
const buttonsOnlyText = "⬇️"

// sendReply delivers reply messages in order, honoring per-message delays.
// Delivery is best effort: a failed message is logged and the rest are sent.
func (b *Bot) sendReply(ctx context.Context, chatID int64, reply conversation.Reply) {
	for i, msg := range reply.Messages {
		if msg.Delay > 0 && i > 0 {
			if err := b.sleep(ctx, msg.Delay); err != nil {
				b.logger.Debug("Reply interrupted", zap.Int64("chat_id", chatID), zap.Error(err))
				return
			}
		}
		b.sendOutbound(chatID, msg)
	}
}

func (b *Bot) sendOutbound(chatID int64, msg models.Outbound) {
	if b.out == nil {
		return // For testing
	}

	for _, c := range buildMessages(chatID, msg) {
		_, err := b.out.Send(c)
		if err == nil {
			continue
		}
		if msg.Media == nil {
			b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
			continue
		}

		// Stale or foreign file ids fail; the text alone is still useful
		b.logger.Warn("Failed to send media, falling back to text",
			zap.Int64("chat_id", chatID),
			zap.String("media_kind", string(msg.Media.Kind)),
			zap.Error(err),
		)
		fallback := msg
		fallback.Media = nil
		if fallback.Text == "" && len(fallback.Buttons) > 0 {
			fallback.Text = buttonsOnlyText
		}
		if fallback.Text != "" {
			b.sendOutbound(chatID, fallback)
		}
		return
	}
}

// sendText sends a plain text message
func (b *Bot) sendText(chatID int64, text string) {
	b.sendOutbound(chatID, models.Outbound{Text: text})
}

// buildMessages converts an outbound message into Telegram requests. Media
// with text that does not fit a caption is sent as media followed by text.
func buildMessages(chatID int64, msg models.Outbound) []tgbotapi.Chattable {
	markup := keyboard(msg.Buttons)

	if msg.Media == nil {
		m := tgbotapi.NewMessage(chatID, msg.Text)
		if markup != nil {
			m.ReplyMarkup = *markup
		}
		return []tgbotapi.Chattable{m}
	}

	caption := msg.Text
	var tail []tgbotapi.Chattable
	if utf8.RuneCountInString(caption) > captionLimit {
		text := tgbotapi.NewMessage(chatID, caption)
		if markup != nil {
			text.ReplyMarkup = *markup
		}
		tail = append(tail, text)
		caption, markup = "", nil
	}

	file := tgbotapi.FileID(msg.Media.FileID)
	var media tgbotapi.Chattable
	switch msg.Media.Kind {
	case models.MediaVoice:
		v := tgbotapi.NewVoice(chatID, file)
		v.Caption = caption
		if markup != nil {
			v.ReplyMarkup = *markup
		}
		media = v
	case models.MediaVideo:
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption = caption
		if markup != nil {
			v.ReplyMarkup = *markup
		}
		media = v
	default:
		p := tgbotapi.NewPhoto(chatID, file)
		p.Caption = caption
		if markup != nil {
			p.ReplyMarkup = *markup
		}
		media = p
	}
	return append([]tgbotapi.Chattable{media}, tail...)
}

// keyboard lays out one button per row
func keyboard(buttons []models.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		var button tgbotapi.InlineKeyboardButton
		if btn.URL != "" {
			button = tgbotapi.NewInlineKeyboardButtonURL(btn.Label, btn.URL)
		} else {
			button = tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Callback)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
