package domain

import "time"

// MediaKind описывает тип вложения сообщения. Определяется один раз
// при классификации и дальше не пересматривается.
type MediaKind string

const (
	// MediaUnknown — тип не распознан или вложение не поддерживается.
	MediaUnknown   MediaKind = ""
	// MediaText — сообщение без вложений.
	MediaText      MediaKind = "text"
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaAnimation MediaKind = "animation"
	MediaSticker   MediaKind = "sticker"
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
)

// Message — неизменяемый снимок сообщения платформы.
// ID монотонно растёт внутри канала; GroupID равен нулю для одиночных
// сообщений; GroupSize — подсказка об ожидаемом размере медиагруппы
// (ноль, если транспорт её не сообщает).
type Message struct {
	ID        int64
	ChatID    int64
	GroupID   int64
	GroupSize int
	Kind      MediaKind
	Text      string
	Forwarded bool
	Reply     bool
	Links     []string
	FileRef   string
	SentAt    time.Time
}

// HasMedia сообщает, несёт ли сообщение вложение.
func (m Message) HasMedia() bool {
	return m.Kind != MediaUnknown && m.Kind != MediaText
}

// Ref однозначно адресует сообщение источника.
type Ref struct {
	ChatID    int64
	MessageID int64
}

// Target — одно направление доставки из конфигурации пары.
type Target struct {
	Identifier string `yaml:"identifier"`
	ID         int64  `yaml:"id"`
	Name       string `yaml:"name"`
}

// ReplaceRule — одно правило замены текста. Правила применяются в порядке
// объявления, результат ранней замены виден поздним правилам.
type ReplaceRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ChannelPairConfig описывает пару источник→приёмники. Внутри сессии
// конфигурация неизменна, при перезагрузке заменяется целиком.
type ChannelPairConfig struct {
	Source     string   `yaml:"source"`
	SourceID   int64    `yaml:"source_id"`
	SourceName string   `yaml:"source_name"`
	Targets    []Target `yaml:"targets"`

	AllowedKinds []MediaKind   `yaml:"allowed_kinds"`
	Keywords     []string      `yaml:"keywords"`
	Replacements []ReplaceRule `yaml:"replacements"`

	ExcludeForwards bool `yaml:"exclude_forwards"`
	ExcludeReplies  bool `yaml:"exclude_replies"`
	ExcludeTextOnly bool `yaml:"exclude_text_only"`
	ExcludeLinks    bool `yaml:"exclude_links"`

	RemoveCaptions bool `yaml:"remove_captions"`
	HideAuthor     bool `yaml:"hide_author"`
	Enabled        bool `yaml:"enabled"`
}

// KindAllowed проверяет тип вложения по allow-списку пары.
// Пустой список пропускает всё.
func (c ChannelPairConfig) KindAllowed(kind MediaKind) bool {
	if len(c.AllowedKinds) == 0 {
		return true
	}
	for _, allowed := range c.AllowedKinds {
		if allowed == kind {
			return true
		}
	}
	return false
}

// ChannelInfo — отображаемые сведения о канале.
type ChannelInfo struct {
	ID    int64
	Name  string
	Title string
}

// LocalFile — скачанный файл для повторной загрузки.
type LocalFile struct {
	Path     string
	Name     string
	MIMEType string
	Kind     MediaKind
}
