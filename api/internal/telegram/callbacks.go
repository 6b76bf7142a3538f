package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"otk-bot/api/internal/pipeline"
)

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	if _, err := r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil { // ack
		r.Log.Debug("callback ack", zap.Error(err))
	}
	if cb.From == nil || cb.Message == nil {
		return
	}
	cid := cb.Message.Chat.ID

	rep := r.Handler.Handle(ctx, pipeline.Event{
		UserID:   cb.From.ID,
		UserName: displayName(cb.From),
		Kind:     pipeline.KindCallback,
		Text:     cb.Data,
	})
	// новый экран с кнопками заменяет старый: убираем клавиатуру с нажатого сообщения
	if rep.Keyboard != pipeline.KbNone {
		edit := tgbotapi.NewEditMessageReplyMarkup(cid, cb.Message.MessageID, tgbotapi.InlineKeyboardMarkup{})
		if _, err := r.Bot.Request(edit); err != nil {
			r.Log.Debug("remove keyboard", zap.Error(err))
		}
	}
	r.reply(cid, rep)
}
