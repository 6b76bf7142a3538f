package llm

import (
	"strings"

	"otk-bot/api/internal/util"
)

const (
	SystemPromptFile = "system_prompt.txt"
	VisionPromptFile = "vision_prompt.txt"

	formatPlaceholder = "{format_instructions}"
)

const defaultSystemPrompt = `Ты — ассистент контролёра ОТК. Из отчёта контролёра извлеки номера заказов, статусы проверки и комментарии.

Правила:
1. Номер заказа — строка из 4-5 цифр. Знаки "#", "№" и префикс "с" не входят в номер.
2. Статус — строго одно из: "годно", "в доработку", "в брак". Если статус не назван, оставь null.
3. Комментарий — замечание контролёра к заказу своими словами контролёра. Если замечаний нет, null.
4. Одна фраза может относиться к нескольким заказам ("#10494 #10495 всё хорошо") — тогда статус у каждого.
5. Если номер или статус невозможно понять, поставь requires_correction=true и задай в clarification_question один короткий вопрос на русском.
6. Ничего не придумывай и не повторяй один и тот же заказ.

Ответ — только JSON без пояснений, строго по схеме:
{format_instructions}`

const defaultVisionPrompt = `Проанализируй это изображение протокола ОТК и извлеки из него весь текст.

Это может быть:
- Протокол проверки изделий с номерами заказов (например, #с10409, #с10494)
- Отчет о качестве с указанием статусов (годно, в доработку, в брак)
- Документ с техническими комментариями контролера

ВАЖНО:
1. Извлеки ВСЕ текстовые данные с изображения
2. Сохрани структуру документа (заголовки, разделы, списки)
3. Обрати особое внимание на номера заказов (обычно начинаются с #с или №)
4. Точно передай все статусы и комментарии
5. Если есть таблицы - сохрани их структуру
6. Если текст плохо читается - укажи на это

Ответь только извлеченным текстом без дополнительных комментариев.`

type Prompts struct {
	System string
	Vision string
}

// LoadPrompts читает промпты из dir; отсутствующие файлы заменяются встроенными.
func LoadPrompts(dir string) Prompts {
	return Prompts{
		System: withSchema(util.LoadPrompt(dir, SystemPromptFile, defaultSystemPrompt)),
		Vision: util.LoadPrompt(dir, VisionPromptFile, defaultVisionPrompt),
	}
}

func DefaultPrompts() Prompts { return LoadPrompts("") }

func withSchema(p string) string {
	if strings.Contains(p, formatPlaceholder) {
		return strings.ReplaceAll(p, formatPlaceholder, ExtractionSchema)
	}
	return p + "\n\nСхема ответа:\n" + ExtractionSchema
}
