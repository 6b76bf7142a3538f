package pipeline

import (
	"fmt"
	"html"
	"strings"

	"otk-bot/api/internal/fsm"
	"otk-bot/api/internal/llm"
	"otk-bot/api/internal/media"
)

const ReportsButton = "📊 ОТЧЕТЫ"

// Теги истории сообщений: по ним модель отличает источник текста.
const (
	TagVoice    = "[ГОЛОС -> ТЕКСТ]: "
	TagPhoto    = "[ФОТО -> ТЕКСТ]: "
	TagDocument = "[ДОКУМЕНТ -> ТЕКСТ]: "
	TagModel    = "[LLM]: "
)

const (
	MsgWelcome = "🤖 <b>OTK Assistant</b>\n\n" +
		"Добро пожаловать! Я помогу вам автоматизировать проверки ОТК.\n\n" +
		"📋 <b>Что я умею:</b>\n" +
		"• Анализировать текстовые сообщения с результатами проверок\n" +
		"• Обрабатывать голосовые сообщения\n" +
		"• Анализировать фотографии протоколов\n" +
		"• Генерировать отчеты\n\n" +
		"💡 <b>Как начать:</b>\n" +
		"Просто отправьте мне данные о проверке в любом удобном формате!\n\n" +
		"Используйте /help для получения справки."

	MsgHelp = "📖 <b>Справка по OTK Assistant</b>\n\n" +
		"🔧 <b>Доступные команды:</b>\n" +
		"/start - Запуск бота и приветствие\n" +
		"/help - Показать эту справку\n" +
		"/status - Проверить статус системы\n" +
		"/cancel - Отменить текущую проверку\n\n" +
		"📝 <b>Как использовать:</b>\n" +
		"1. Отправьте текстовое сообщение с результатами проверки\n" +
		"   Например: <i>#10409 в доработку, не подходит по размеру</i>\n" +
		"2. Или отправьте голосовое сообщение\n" +
		"3. Или отправьте фотографию протокола\n\n" +
		"🤖 Бот автоматически извлечет данные и попросит подтверждение.\n" +
		"📊 Кнопка «ОТЧЕТЫ» открывает сводки и выгрузки."

	MsgBusy        = "⏳ Предыдущее сообщение ещё обрабатывается. Дождитесь ответа и попробуйте снова."
	MsgUnavailable = "❌ <b>Сервис временно недоступен</b>\n\nПопробуйте позже или отправьте данные текстом."
	MsgInternal    = "❌ Произошла внутренняя ошибка. Попробуйте еще раз."
	MsgUnsupported = "🤷 Этот тип сообщения не поддерживается. Отправьте текст, голосовое или фото."
	MsgEmptyText   = "✍️ Отправьте текст с номерами заказов и результатами проверки."

	MsgNothingFound = "🔍 Не нашёл в сообщении заказов. Укажите номер заказа и статус: годно / в доработку / в брак."
	MsgSaveFailed   = "❌ <b>Не удалось сохранить данные</b>\n\nДанные не потеряны. Нажмите «ПОДТВЕРЖДАЮ» ещё раз через минуту."
	MsgNoStatus     = "⚠️ Ни у одного заказа не указан статус. Нажмите «ИСПРАВИТЬ» и отправьте данные заново."
	MsgCorrect      = "✏️ Хорошо, данные не сохранены.\n\nОтправьте исправленные данные о проверке заново."

	MsgCancelAsk        = "⚠️ <b>Отменить текущую проверку?</b>\n\nНесохранённые данные будут удалены."
	MsgCancelled        = "❌ Проверка отменена. Данные не сохранены."
	MsgNothingToCancel  = "ℹ️ Сейчас нечего отменять."
	MsgNothingToConfirm = "ℹ️ Нет данных для подтверждения. Отправьте данные о проверке."
	MsgContinue         = "🔄 Продолжаем. Отправьте данные о проверке."
	MsgUseButtons       = "👆 Используйте кнопки под сообщением: подтвердите, исправьте или отмените данные."
	MsgUseCancelButtons = "👆 Подтвердите отмену или вернитесь назад кнопками под сообщением."

	MsgReportsMenu      = "📊 <b>Отчеты</b>\n\nВыберите тип отчета:"
	MsgReportsBusy      = "ℹ️ Сначала завершите текущую проверку, затем откройте отчеты."
	MsgUseReportButtons = "👆 Выберите отчет кнопками или нажмите «Выход»."
	MsgReportEmpty      = "📭 За выбранный период проверок нет."
	MsgReportFailed     = "❌ Ошибка при генерации отчета. Попробуйте позже."
	MsgReportsExit      = "🚪 Вы вышли из меню отчетов."

	MsgUnknownCommand   = "Неизвестная команда. Используйте /help."
	MsgNotImage         = "📄 <b>Документ получен</b>\n\nЯ умею обрабатывать только изображения. Если это изображение, попробуйте отправить его как фото."
	MsgEmptyRecognition = "🤷 Не удалось распознать текст. Попробуйте еще раз или отправьте данные текстом."
)

func statusIcon(s llm.Status) string {
	switch s {
	case llm.StatusApproved:
		return "✅"
	case llm.StatusRework:
		return "🔧"
	case llm.StatusRejected:
		return "❌"
	}
	return "❔"
}

// FormatOrders: экран подтверждения.
func FormatOrders(orders []llm.OrderRecord) string {
	var b strings.Builder
	b.WriteString("📋 <b>Извлеченные данные:</b>\n\n")
	for i, o := range orders {
		status := "статус не указан"
		if o.Status != "" {
			status = string(o.Status)
		}
		fmt.Fprintf(&b, "%d. Заказ <b>#%s</b>: %s %s\n", i+1, html.EscapeString(o.OrderID), statusIcon(o.Status), status)
		if c := strings.TrimSpace(o.CommentText()); c != "" {
			fmt.Fprintf(&b, "   💬 %s\n", html.EscapeString(c))
		}
	}
	b.WriteString("\nВсё верно?")
	return b.String()
}

func FormatQuestion(q string, orders []llm.OrderRecord) string {
	var b strings.Builder
	b.WriteString("❓ <b>Нужно уточнение</b>\n\n")
	b.WriteString(html.EscapeString(q))
	if len(orders) > 0 {
		b.WriteString("\n\nУже распознано:\n")
		for _, o := range orders {
			fmt.Fprintf(&b, "• #%s %s\n", html.EscapeString(o.OrderID), statusIcon(o.Status))
		}
	}
	return b.String()
}

func FormatSaved(n int) string {
	return fmt.Sprintf("✅ <b>Данные сохранены</b>\n\nЗаписано проверок: %d", n)
}

func FormatRecognized(source, text string) string {
	r := []rune(text)
	if len(r) > 300 {
		text = string(r[:300]) + "..."
	}
	return fmt.Sprintf("%s\n📝 <i>%s</i>", source, html.EscapeString(text))
}

func yesNo(ok bool) string {
	if ok {
		return "🟢"
	}
	return "🔴"
}

// capability: строка в /status.
type capability struct {
	Title    string
	Provider string
	OK       bool
}

func formatStatus(userID int64, state fsm.State, caps []capability, st media.Stats) string {
	var b strings.Builder
	b.WriteString("✅ <b>Статус системы</b>\n\n")
	for _, c := range caps {
		name := c.Provider
		if name == "" {
			name = "не настроен"
		}
		fmt.Fprintf(&b, "%s %s: %s\n", yesNo(c.OK), c.Title, html.EscapeString(name))
	}
	fmt.Fprintf(&b, "\n📊 <b>Информация:</b>\n👤 Пользователь ID: %d\n🔄 Состояние: %s\n", userID, state)
	fmt.Fprintf(&b, "🗂 Кэш: аудио %d (%.2f MB), фото %d (%.2f MB)",
		st.Audio.Files, st.Audio.SizeMB, st.Photos.Files, st.Photos.SizeMB)
	return b.String()
}
