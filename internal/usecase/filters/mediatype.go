package filters

import "tg-relay-bot/internal/domain"

// ReasonMediaType — тип вложения не входит в allow-список пары.
const ReasonMediaType = "media type excluded"

// ApplyMediaTypeFilter отсеивает сообщения по allow-списку типов.
// Фильтр работает на уровне отдельного сообщения, а не группы:
// внутри медиагруппы выбывают только запрещённые элементы, уцелевшие
// соседи позже пересобираются в новую группу. Пустой список пропускает всё.
func ApplyMediaTypeFilter(messages []domain.Message, allowed []domain.MediaKind) (kept, dropped []domain.Message) {
	if len(allowed) == 0 {
		return messages, nil
	}
	allowSet := make(map[domain.MediaKind]struct{}, len(allowed))
	for _, kind := range allowed {
		allowSet[kind] = struct{}{}
	}
	for _, msg := range messages {
		kind, _ := Classify(msg)
		if _, ok := allowSet[kind]; ok {
			kept = append(kept, msg)
		} else {
			dropped = append(dropped, msg)
		}
	}
	return kept, dropped
}
