// Package filters реализует конвейер фильтрации и переписывания сообщений.
// Все функции пакета — чистые вычисления: они не возвращают ошибок,
// нераспознанные данные деградируют до MediaUnknown и не прерывают пакет.
package filters

import "tg-relay-bot/internal/domain"

// Classify возвращает тип сообщения по уже заполненному полю Kind.
// Второе значение false означает неподдерживаемое или пустое вложение.
// Функция тотальна: определена для любого сообщения и детерминирована.
func Classify(msg domain.Message) (domain.MediaKind, bool) {
	switch msg.Kind {
	case domain.MediaText,
		domain.MediaPhoto,
		domain.MediaVideo,
		domain.MediaDocument,
		domain.MediaAudio,
		domain.MediaAnimation,
		domain.MediaSticker,
		domain.MediaVoice,
		domain.MediaVideoNote:
		return msg.Kind, true
	}
	if msg.Kind == domain.MediaUnknown && msg.Text != "" && msg.FileRef == "" {
		// Текст без вложений, не размеченный адаптером.
		return domain.MediaText, true
	}
	return domain.MediaUnknown, false
}
