package llm

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"otk-bot/api/internal/util"
)

var statusSynonyms = map[string]Status{}

func init() {
	add := func(s Status, words ...string) {
		for _, w := range words {
			statusSynonyms[w] = s
		}
	}
	add(StatusApproved,
		"годно", "годен", "годная", "ok", "okay", "ок", "approved", "accept", "accepted",
		"pass", "passed", "готово", "готов", "норм", "нормально", "в порядке",
		"все в порядке", "всё в порядке", "все хорошо", "всё хорошо", "хорошо", "принято",
		"good", "all good", "fine")
	add(StatusRework,
		"в доработку", "доработка", "на доработку", "доработать", "rework", "needs rework",
		"needs fixing", "fix", "исправить", "переделать", "требует доработки")
	add(StatusRejected,
		"в брак", "брак", "бракован", "забраковано", "reject", "rejected", "scrap", "scrapped",
		"негодно", "не годно", "утиль")
}

// NormalizeStatus приводит свободный текст модели к одному из трёх статусов.
// ok=false, если значение не из словаря; его оставляют как есть, строгая проверка его отвергнет.
func NormalizeStatus(s string) (Status, bool) {
	key := strings.ToLower(util.CollapseSpaces(s))
	key = strings.TrimRight(key, ".!")
	st, ok := statusSynonyms[key]
	return st, ok
}

// NormalizeOrderID: "#10409", "№ 10409", "#с10409" -> "10409".
func NormalizeOrderID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "#№ ")
	if r, size := utf8.DecodeRuneInString(s); r == 'с' || r == 'c' || r == 'С' || r == 'C' {
		if next, _ := utf8.DecodeRuneInString(s[size:]); unicode.IsDigit(next) {
			s = s[size:]
		}
	}
	return strings.TrimSpace(s)
}

// orderIDFrom принимает строки и целые числа (модели иногда отдают номер числом).
func orderIDFrom(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		id := NormalizeOrderID(x)
		return id, id != ""
	case json.Number:
		if i, err := x.Int64(); err == nil && i >= 0 {
			return strconv.FormatInt(i, 10), true
		}
		if f, err := x.Float64(); err == nil && f >= 0 && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10), true
		}
	case float64:
		if x >= 0 && x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10), true
		}
	}
	return "", false
}

// normalizeDoc правит статусы и номера на месте, до строгой проверки по схеме.
func normalizeDoc(doc map[string]any) {
	orders, _ := doc["orders"].([]any)
	for _, item := range orders {
		o, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := o["order_id"].(string); ok {
			o["order_id"] = NormalizeOrderID(id)
		}
		switch st := o["status"].(type) {
		case string:
			if strings.TrimSpace(st) == "" {
				o["status"] = nil
			} else if canon, ok := NormalizeStatus(st); ok {
				o["status"] = string(canon)
			}
		}
	}
}

// loopDetected: признак зациклившейся генерации.
func loopDetected(doc map[string]any) bool {
	orders, _ := doc["orders"].([]any)
	if len(orders) > MaxOrders {
		return true
	}
	seen := make(map[string]int, len(orders))
	for _, item := range orders {
		o, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, ok := orderIDFrom(o["order_id"])
		if !ok {
			continue
		}
		seen[id]++
		if seen[id] > MaxDuplicateOrderID {
			return true
		}
	}
	return false
}
