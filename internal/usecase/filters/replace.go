package filters

import (
	"strings"

	"tg-relay-bot/internal/domain"
)

// ApplyTextReplacement последовательно применяет правила замены в порядке
// объявления. Результат раннего правила виден поздним правилам.
// Второе значение сообщает, изменился ли текст.
func ApplyTextReplacement(text string, rules []domain.ReplaceRule) (string, bool) {
	result := text
	for _, rule := range rules {
		if rule.From == "" {
			continue
		}
		result = strings.ReplaceAll(result, rule.From, rule.To)
	}
	return result, result != text
}

// RewriteCaption применяет к тексту политику пары: замены, затем
// remove_captions. Снятие подписи действует только на сообщения с медиа;
// чистый текст сохраняется, к нему применяются только замены.
func RewriteCaption(msg domain.Message, cfg domain.ChannelPairConfig) (string, bool) {
	if cfg.RemoveCaptions && msg.HasMedia() {
		return "", msg.Text != ""
	}
	return ApplyTextReplacement(msg.Text, cfg.Replacements)
}
