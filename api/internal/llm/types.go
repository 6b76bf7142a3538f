package llm

import "strings"

// Status: итог проверки изделия. Значения совпадают с тем, что пишется в БД.
type Status string

const (
	StatusApproved Status = "годно"
	StatusRework   Status = "в доработку"
	StatusRejected Status = "в брак"
)

func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusRework, StatusRejected:
		return true
	}
	return false
}

type OrderRecord struct {
	OrderID string  `json:"order_id"`
	Status  Status  `json:"status,omitempty"`
	Comment *string `json:"comment"`
}

// CommentText: комментарий или пустая строка.
func (o OrderRecord) CommentText() string {
	if o.Comment == nil {
		return ""
	}
	return *o.Comment
}

type ExtractionResult struct {
	Orders                []OrderRecord `json:"orders"`
	RequiresCorrection    bool          `json:"requires_correction"`
	ClarificationQuestion *string       `json:"clarification_question"`
}

// Question: текст уточняющего вопроса или пустая строка.
func (r ExtractionResult) Question() string {
	if r.ClarificationQuestion == nil {
		return ""
	}
	return *r.ClarificationQuestion
}

const (
	// MsgRetry: последний рубеж парсера.
	MsgRetry = "Не удалось обработать данные. Пожалуйста, опишите отчет еще раз."
	// MsgProviderError: текстовый провайдер не ответил.
	MsgProviderError = "Произошла ошибка при обработке. Пожалуйста, опишите отчет еще раз."
	// MsgPartial: часть заказов отброшена при разборе.
	MsgPartial = "Часть заказов распознать не удалось. Уточните, пожалуйста, номера и статусы (годно / в доработку / в брак)."
	// MsgNeedDetails: модель попросила уточнение, но не сформулировала вопрос.
	MsgNeedDetails = "Уточните, пожалуйста, номера заказов и их статусы."
)

// Fallback: безопасный ответ "ничего не разобрали, повторите".
func Fallback(question string) ExtractionResult {
	if strings.TrimSpace(question) == "" {
		question = MsgRetry
	}
	return ExtractionResult{
		Orders:                []OrderRecord{},
		RequiresCorrection:    true,
		ClarificationQuestion: &question,
	}
}

func strPtr(s string) *string { return &s }
