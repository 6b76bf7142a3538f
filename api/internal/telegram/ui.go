package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"otk-bot/api/internal/pipeline"
)

// лимит Telegram на одно сообщение
const maxMessageRunes = 4096

func stopRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⏹️ СТОП / ОТМЕНА", pipeline.CbStop))
}

// markup: клавиатура под ответом, nil без клавиатуры.
func markup(kb pipeline.Keyboard) any {
	switch kb {
	case pipeline.KbMain:
		m := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(pipeline.ReportsButton)))
		m.ResizeKeyboard = true
		return m
	case pipeline.KbProcessing, pipeline.KbClarification:
		return tgbotapi.NewInlineKeyboardMarkup(stopRow())
	case pipeline.KbConfirmation:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ ПОДТВЕРЖДАЮ", pipeline.CbConfirm),
				tgbotapi.NewInlineKeyboardButtonData("✏️ ИСПРАВИТЬ", pipeline.CbCorrect),
			),
			stopRow(),
		)
	case pipeline.KbCancellation:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ ПОДТВЕРЖДАЮ ОТМЕНУ", pipeline.CbConfirmCancel)),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔙 Назад", pipeline.CbBack)),
		)
	case pipeline.KbReports:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📊 Сводка за сегодня", pipeline.CbSummaryToday),
				tgbotapi.NewInlineKeyboardButtonData("📈 Сводка за неделю", pipeline.CbSummaryWeek),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📋 Данные за сегодня", pipeline.CbDataToday),
				tgbotapi.NewInlineKeyboardButtonData("📄 Данные за неделю", pipeline.CbDataWeek),
			),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📑 Excel за неделю", pipeline.CbXLSXWeek)),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🚪 Выход", pipeline.CbExitReports)),
		)
	}
	return nil
}

// reply отправляет ответ pipeline: текст частями, клавиатура под последней частью, файл документом.
func (r *Router) reply(chatID int64, rep pipeline.Reply) {
	if rep.Empty() {
		return
	}
	kb := markup(rep.Keyboard)
	if rep.Attachment != "" {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(rep.Attachment))
		doc.Caption = rep.Text
		if kb != nil {
			doc.ReplyMarkup = kb
		}
		if _, err := r.Bot.Send(doc); err != nil {
			r.Log.Error("send document", zap.Int64("chat_id", chatID), zap.String("path", rep.Attachment), zap.Error(err))
			r.send(chatID, pipeline.MsgReportFailed, kb)
		}
		return
	}
	parts := splitText(rep.Text, maxMessageRunes)
	for i, part := range parts {
		if i == len(parts)-1 {
			r.send(chatID, part, kb)
		} else {
			r.send(chatID, part, nil)
		}
	}
}

func (r *Router) send(chatID int64, text string, kb any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if kb != nil {
		msg.ReplyMarkup = kb
	}
	if _, err := r.Bot.Send(msg); err != nil {
		r.Log.Error("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// splitText режет по строкам; строка длиннее лимита режется по символам.
func splitText(s string, limit int) []string {
	if len([]rune(s)) <= limit {
		return []string{s}
	}
	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if n > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		rs := []rune(line)
		if n+len(rs) > limit {
			flush()
		}
		for len(rs) > limit {
			parts = append(parts, string(rs[:limit]))
			rs = rs[limit:]
		}
		cur.WriteString(string(rs))
		n += len(rs)
	}
	flush()
	return parts
}
