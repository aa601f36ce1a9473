package mtproto

import (
	"testing"

	"github.com/gotd/td/tg"

	"tg-relay-bot/internal/domain"
)

func channelMessage(id int, text string) *tg.Message {
	return &tg.Message{
		ID:      id,
		PeerID:  &tg.PeerChannel{ChannelID: 123456},
		Message: text,
		Date:    1700000000,
	}
}

func TestConvertMessageBasics(t *testing.T) {
	msg, ok := ConvertMessage(channelMessage(10, "привет"))
	if !ok {
		t.Fatalf("сообщение канала должно конвертироваться")
	}
	if msg.ID != 10 || msg.ChatID != BotChatID(123456) {
		t.Fatalf("идентификаторы потерялись: %+v", msg)
	}
	if msg.Kind != domain.MediaText || msg.Text != "привет" {
		t.Fatalf("текст без вложения даёт MediaText: %+v", msg)
	}
}

func TestConvertMessageSkipsNonChannel(t *testing.T) {
	raw := channelMessage(11, "личка")
	raw.PeerID = &tg.PeerUser{UserID: 1}
	if _, ok := ConvertMessage(raw); ok {
		t.Fatalf("сообщение не из канала должно отбрасываться")
	}
}

func TestConvertMessageGroupAndStructure(t *testing.T) {
	raw := channelMessage(12, "альбом")
	raw.SetGroupedID(777)
	raw.SetFwdFrom(tg.MessageFwdHeader{})
	raw.SetReplyTo(&tg.MessageReplyHeader{})

	msg, _ := ConvertMessage(raw)
	if msg.GroupID != 777 {
		t.Fatalf("идентификатор группы потерялся: %+v", msg)
	}
	if !msg.Forwarded || !msg.Reply {
		t.Fatalf("структурные признаки потерялись: %+v", msg)
	}
}

func TestConvertMessageMediaKinds(t *testing.T) {
	photo := channelMessage(13, "фото")
	photo.Media = &tg.MessageMediaPhoto{Photo: &tg.Photo{ID: 42}}
	msg, _ := ConvertMessage(photo)
	if msg.Kind != domain.MediaPhoto || msg.FileRef == "" {
		t.Fatalf("фото должно распознаваться: %+v", msg)
	}

	voice := channelMessage(14, "")
	voice.Media = &tg.MessageMediaDocument{Document: &tg.Document{
		ID:         43,
		Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}},
	}}
	msg, _ = ConvertMessage(voice)
	if msg.Kind != domain.MediaVoice {
		t.Fatalf("голосовое должно распознаваться: %+v", msg)
	}

	round := channelMessage(15, "")
	round.Media = &tg.MessageMediaDocument{Document: &tg.Document{
		ID:         44,
		Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{RoundMessage: true}},
	}}
	msg, _ = ConvertMessage(round)
	if msg.Kind != domain.MediaVideoNote {
		t.Fatalf("кружок должен распознаваться: %+v", msg)
	}

	plain := channelMessage(16, "")
	plain.Media = &tg.MessageMediaDocument{Document: &tg.Document{ID: 45}}
	msg, _ = ConvertMessage(plain)
	if msg.Kind != domain.MediaDocument {
		t.Fatalf("документ без атрибутов остаётся документом: %+v", msg)
	}
}

func TestConvertMessageWebPageIsText(t *testing.T) {
	raw := channelMessage(17, "статья")
	raw.Media = &tg.MessageMediaWebPage{}
	msg, _ := ConvertMessage(raw)
	if msg.Kind != domain.MediaText {
		t.Fatalf("предпросмотр ссылки не делает сообщение медийным: %+v", msg)
	}
}

func TestExtractLinksFromEntities(t *testing.T) {
	raw := channelMessage(18, "подробности на example.com и ещё")
	raw.Entities = []tg.MessageEntityClass{
		&tg.MessageEntityURL{Offset: 15, Length: 11},
		&tg.MessageEntityTextURL{Offset: 0, Length: 11, URL: "https://hidden.example"},
	}
	msg, _ := ConvertMessage(raw)
	if len(msg.Links) != 2 {
		t.Fatalf("ожидали две ссылки, получили %v", msg.Links)
	}
	if msg.Links[1] != "example.com" {
		t.Fatalf("подстрока по смещению UTF-16 извлечена неверно: %v", msg.Links)
	}
}

func TestBotChatIDRoundTrip(t *testing.T) {
	const channelID = int64(987654321)
	if got := ChannelID(BotChatID(channelID)); got != channelID {
		t.Fatalf("преобразование идентификаторов не обратимо: %d", got)
	}
}
