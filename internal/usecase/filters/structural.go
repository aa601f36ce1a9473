package filters

import (
	"regexp"

	"tg-relay-bot/internal/domain"
)

// Причины структурной отбраковки. Порядок проверок фиксирован и является
// частью контракта: пересылка, ответ, только-текст, ссылки.
const (
	ReasonForwarded = "forwarded message"
	ReasonReply     = "reply message"
	ReasonTextOnly  = "text only"
	ReasonLink      = "contains link"
)

// linkRegex — запасной детектор ссылок. Основной источник — разметка
// ссылок платформы: подпись может нести ссылку без видимого URL в тексте.
var linkRegex = regexp.MustCompile(`(?i)\b(?:https?://|t\.me/|www\.)\S+`)

// ApplyStructuralExclusions проверяет структурные запреты пары.
// Возвращает признак отбраковки и причину первой сработавшей проверки.
func ApplyStructuralExclusions(msg domain.Message, cfg domain.ChannelPairConfig) (bool, string) {
	if cfg.ExcludeForwards && msg.Forwarded {
		return true, ReasonForwarded
	}
	if cfg.ExcludeReplies && msg.Reply {
		return true, ReasonReply
	}
	if cfg.ExcludeTextOnly && !msg.HasMedia() {
		return true, ReasonTextOnly
	}
	if cfg.ExcludeLinks && containsLink(msg) {
		return true, ReasonLink
	}
	return false, ""
}

func containsLink(msg domain.Message) bool {
	if len(msg.Links) > 0 {
		return true
	}
	return linkRegex.MatchString(msg.Text)
}
