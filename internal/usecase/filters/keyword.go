package filters

import (
	"strings"

	"tg-relay-bot/internal/domain"
)

// ReasonNoKeyword — ни одно ключевое слово не найдено.
const ReasonNoKeyword = "no keyword match"

// ApplyKeywordFilter отбирает сообщения по ключевым словам.
// Пакет с общим GroupID оценивается как единое целое: группа проходит,
// если хотя бы один её участник содержит любое из слов — подпись часто
// прикреплена лишь к одному элементу группы. Одиночные сообщения
// оцениваются индивидуально. Пустой список слов пропускает всё.
func ApplyKeywordFilter(messages []domain.Message, keywords []string) (kept, dropped []domain.Message) {
	if len(keywords) == 0 {
		return messages, nil
	}

	groupMatched := make(map[int64]bool)
	for _, msg := range messages {
		if msg.GroupID == 0 {
			continue
		}
		if matchesAnyKeyword(msg.Text, keywords) {
			groupMatched[msg.GroupID] = true
		}
	}

	for _, msg := range messages {
		pass := false
		if msg.GroupID != 0 {
			pass = groupMatched[msg.GroupID]
		} else {
			pass = matchesAnyKeyword(msg.Text, keywords)
		}
		if pass {
			kept = append(kept, msg)
		} else {
			dropped = append(dropped, msg)
		}
	}
	return kept, dropped
}

// MatchesKeywords сообщает, содержит ли текст любое из ключевых слов.
// Пустой список слов совпадает всегда. Используется для текстов, уже
// оторванных от сообщений, например для подписи группы.
func MatchesKeywords(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	return matchesAnyKeyword(text, keywords)
}

func matchesAnyKeyword(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, keyword := range keywords {
		trimmed := strings.TrimSpace(keyword)
		if trimmed == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(trimmed)) {
			return true
		}
	}
	return false
}
