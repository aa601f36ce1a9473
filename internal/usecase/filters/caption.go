package filters

import "tg-relay-bot/internal/domain"

// ExtractGroupCaption возвращает подпись первого по порядку прибытия
// сообщения с непустым текстом. Предварительный проход до любой
// фильтрации: подпись не теряется, даже если несущий её элемент позже
// выбывает по типу вложения.
func ExtractGroupCaption(messages []domain.Message) string {
	for _, msg := range messages {
		if msg.Text != "" {
			return msg.Text
		}
	}
	return ""
}
