package mtproto

import (
	"strconv"
	"time"
	"unicode/utf16"

	"github.com/gotd/td/tg"

	"tg-relay-bot/internal/domain"
)

// channelIDOffset переводит внутренний идентификатор канала в формат
// Bot API: обе стороны системы говорят на одном словаре идентификаторов.
const channelIDOffset = 1_000_000_000_000

// BotChatID переводит идентификатор канала MTProto в формат Bot API.
func BotChatID(channelID int64) int64 { return -(channelIDOffset + channelID) }

// ChannelID — обратное преобразование.
func ChannelID(botChatID int64) int64 { return -botChatID - channelIDOffset }

// ConvertMessage переводит сообщение MTProto в доменное. Второе значение
// false означает сообщение не из канала.
func ConvertMessage(msg *tg.Message) (domain.Message, bool) {
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return domain.Message{}, false
	}
	out := domain.Message{
		ID:     int64(msg.ID),
		ChatID: BotChatID(peer.ChannelID),
		Text:   msg.Message,
		SentAt: time.Unix(int64(msg.Date), 0).UTC(),
	}
	if groupID, ok := msg.GetGroupedID(); ok {
		out.GroupID = groupID
	}
	if _, ok := msg.GetFwdFrom(); ok {
		out.Forwarded = true
	}
	if _, ok := msg.GetReplyTo(); ok {
		out.Reply = true
	}
	out.Kind, out.FileRef = mediaKind(msg.Media)
	out.Links = extractLinks(msg)
	return out, true
}

// mediaKind распознаёт тип вложения. Нераспознанное вложение даёт
// MediaUnknown и непустую ссылку: деградация, а не отказ.
func mediaKind(media tg.MessageMediaClass) (domain.MediaKind, string) {
	switch m := media.(type) {
	case nil:
		return domain.MediaText, ""
	case *tg.MessageMediaWebPage:
		// Предпросмотр ссылки вложением не считается.
		return domain.MediaText, ""
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return domain.MediaUnknown, "photo"
		}
		return domain.MediaPhoto, strconv.FormatInt(photo.ID, 10)
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return domain.MediaUnknown, "document"
		}
		return documentKind(doc), strconv.FormatInt(doc.ID, 10)
	}
	return domain.MediaUnknown, "media"
}

func documentKind(doc *tg.Document) domain.MediaKind {
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			return domain.MediaSticker
		case *tg.DocumentAttributeAnimated:
			return domain.MediaAnimation
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return domain.MediaVideoNote
			}
			return domain.MediaVideo
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return domain.MediaVoice
			}
			return domain.MediaAudio
		}
	}
	return domain.MediaDocument
}

// extractLinks собирает ссылки из разметки сообщения. Смещения разметки
// платформа считает в кодовых единицах UTF-16.
func extractLinks(msg *tg.Message) []string {
	if len(msg.Entities) == 0 {
		return nil
	}
	var links []string
	encoded := utf16.Encode([]rune(msg.Message))
	for _, entity := range msg.Entities {
		switch e := entity.(type) {
		case *tg.MessageEntityTextURL:
			links = append(links, e.URL)
		case *tg.MessageEntityURL:
			start, end := e.Offset, e.Offset+e.Length
			if start < 0 || end > len(encoded) {
				continue
			}
			links = append(links, string(utf16.Decode(encoded[start:end])))
		}
	}
	return links
}
