package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"otk-bot/api/internal/util"
)

const (
	MaxOrders           = 20
	MaxDuplicateOrderID = 5
	DefaultMaxChars     = 20000
	maxCandidates       = 8
)

type ParseOptions struct {
	// StripReasoning: модель может вывести <think>…</think> перед JSON (ollama, lmstudio).
	StripReasoning bool
	// MaxChars: длиннее считаем зациклившейся генерацией. 0 значит DefaultMaxChars.
	MaxChars int
}

type Stage string

const (
	StageStrict   Stage = "strict"
	StageFallback Stage = "fallback"
	StageDefault  Stage = "default"
)

// Trace: как был получен результат; нужен только для логов.
type Trace struct {
	Stage  Stage
	Reason string
}

// Parse превращает сырой ответ модели в ExtractionResult. Никогда не паникует и не возвращает ошибку:
// худший случай: пустой список и просьба повторить.
func Parse(raw string, opt ParseOptions) ExtractionResult {
	res, _ := ParseTrace(raw, opt)
	return res
}

func ParseTrace(raw string, opt ParseOptions) (ExtractionResult, Trace) {
	maxChars := opt.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text := raw
	if opt.StripReasoning {
		text = util.StripReasoning(text)
	}

	switch {
	case strings.TrimSpace(text) == "":
		return Fallback(""), Trace{StageDefault, "empty response"}
	case utf8.RuneCountInString(raw) > maxChars:
		return Fallback(""), Trace{StageDefault, "response too long"}
	}
	spans := balancedObjects(text, maxCandidates)
	if len(spans) == 0 {
		return Fallback(""), Trace{StageDefault, "no json object"}
	}

	// перед JSON бывает текст со своими скобками: "{см. ниже}"
	reason := ""
	for _, span := range spans {
		res, r, loop := strictDecode(stripControl(span))
		if loop {
			return Fallback(""), Trace{StageDefault, "repetition loop"}
		}
		if r == "" {
			return res, Trace{Stage: StageStrict}
		}
		if reason == "" {
			reason = r
		}
	}

	res, freason, ok := fallbackExtract(text)
	if !ok {
		return Fallback(""), Trace{StageDefault, reason + "; fallback: " + freason}
	}
	return res, Trace{StageFallback, reason}
}

// strictDecode: непустой reason значит, что строгий разбор не удался.
func strictDecode(span string) (ExtractionResult, string, bool) {
	doc, err := decodeObject(span)
	if err != nil {
		return ExtractionResult{}, "decode: " + err.Error(), false
	}
	if loopDetected(doc) {
		return ExtractionResult{}, "", true
	}
	for _, k := range []string{"orders", "requires_correction", "clarification_question"} {
		if _, ok := doc[k]; !ok {
			return ExtractionResult{}, "missing field " + k, false
		}
	}
	normalizeDoc(doc)
	if err := validateExtraction(doc); err != nil {
		return ExtractionResult{}, err.Error(), false
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return ExtractionResult{}, "re-encode: " + err.Error(), false
	}
	var res ExtractionResult
	if err := json.Unmarshal(b, &res); err != nil {
		return ExtractionResult{}, "struct decode: " + err.Error(), false
	}
	return finalize(res), "", false
}

// fallbackExtract разбирает "как получится" от { до последней }, висячие запятые,
// неэкранированные переводы строк, номера числом. Плохие заказы выбрасываются.
// Начало объекта ищется по очереди с каждой { (не больше maxCandidates).
func fallbackExtract(text string) (ExtractionResult, string, bool) {
	end := strings.LastIndex(text, "}")
	if strings.IndexByte(text, '{') < 0 || end < 0 {
		return ExtractionResult{}, "no braces", false
	}
	var doc map[string]any
	reason := "no object with orders"
	from := 0
	for n := 0; n < maxCandidates; n++ {
		i := strings.IndexByte(text[from:], '{')
		if i < 0 || from+i >= end {
			break
		}
		start := from + i
		from = start + 1
		d, err := decodeObject(relax(text[start : end+1]))
		if err != nil {
			if n == 0 {
				reason = "decode: " + err.Error()
			}
			continue
		}
		if _, ok := d["orders"]; !ok {
			continue
		}
		doc = d
		break
	}
	if doc == nil {
		return ExtractionResult{}, reason, false
	}
	if loopDetected(doc) {
		return ExtractionResult{}, "repetition loop", false
	}
	rawOrders := doc["orders"]
	var items []any
	if rawOrders != nil {
		var ok bool
		if items, ok = rawOrders.([]any); !ok {
			return ExtractionResult{}, "orders is not a list", false
		}
	}

	res := ExtractionResult{Orders: make([]OrderRecord, 0, len(items))}
	dropped := 0
	for _, item := range items {
		o, ok := looseOrder(item)
		if !ok {
			dropped++
			continue
		}
		res.Orders = append(res.Orders, o)
	}
	res.RequiresCorrection = looseBool(doc["requires_correction"])
	if q, ok := doc["clarification_question"].(string); ok && strings.TrimSpace(q) != "" {
		res.ClarificationQuestion = strPtr(q)
	}
	if dropped > 0 {
		res.RequiresCorrection = true
		if res.ClarificationQuestion == nil {
			res.ClarificationQuestion = strPtr(MsgPartial)
		}
	}
	return finalize(res), "", true
}

// looseBool: модель иногда пишет флаг строкой ("true") или числом (1).
func looseBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "да":
			return true
		}
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	}
	return false
}

func looseOrder(item any) (OrderRecord, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return OrderRecord{}, false
	}
	id, ok := orderIDFrom(m["order_id"])
	if !ok {
		return OrderRecord{}, false
	}
	o := OrderRecord{OrderID: id}
	switch st := m["status"].(type) {
	case nil:
	case string:
		if strings.TrimSpace(st) != "" {
			canon, ok := NormalizeStatus(st)
			if !ok {
				return OrderRecord{}, false
			}
			o.Status = canon
		}
	default:
		return OrderRecord{}, false
	}
	if c, ok := m["comment"].(string); ok {
		o.Comment = strPtr(c)
	}
	return o, true
}

// finalize держит инвариант: requires_correction => непустой вопрос.
func finalize(res ExtractionResult) ExtractionResult {
	if res.Orders == nil {
		res.Orders = []OrderRecord{}
	}
	if res.RequiresCorrection && strings.TrimSpace(res.Question()) == "" {
		res.ClarificationQuestion = strPtr(MsgNeedDetails)
	}
	return res
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errNotObject
	}
	return doc, nil
}

var errNotObject = errors.New("not a json object")

// balancedObjects: до limit сбалансированных {...} по порядку; скобки внутри строк не считаются.
// Несбалансированное начало пропускается, поиск идёт со следующей {.
func balancedObjects(s string, limit int) []string {
	var out []string
	from := 0
	for len(out) < limit {
		i := strings.IndexByte(s[from:], '{')
		if i < 0 {
			break
		}
		start := from + i
		if end, ok := closingBrace(s, start); ok {
			out = append(out, s[start:end+1])
			from = end + 1
		} else {
			from = start + 1
		}
	}
	return out
}

func closingBrace(s string, start int) (int, bool) {
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// stripControl удаляет C0-символы, кроме \n \r \t.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// relax чинит типичные огрехи генерации: управляющие символы внутри строк экранируются
// (прочие C0 выбрасываются), висячие запятые перед } и ] удаляются.
func relax(s string) string {
	var b bytes.Buffer
	b.Grow(len(s))
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
				b.WriteByte(c)
			case c == '\\':
				esc = true
				b.WriteByte(c)
			case c == '"':
				inStr = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c < 0x20:
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch {
		case c == '"':
			inStr = true
			b.WriteByte(c)
		case c == ',':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			b.WriteByte(c)
		case c < 0x20 && c != '\n' && c != '\r' && c != '\t':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
