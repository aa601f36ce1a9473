package domain

import (
	"context"
	"time"
)

// Subscriber отдаёт живой поток сообщений отслеживаемых каналов.
// Канал закрывается при завершении подписки.
type Subscriber interface {
	Subscribe(ctx context.Context, channelIDs []int64) (<-chan Message, error)
}

// Sender выполняет операции доставки на стороне платформы.
// Все методы возвращают либо nil, либо типизированный *Fault.
type Sender interface {
	// SendText отправляет чистый текст.
	SendText(ctx context.Context, targetID int64, text string) error
	// Forward пересылает сообщение с атрибуцией источника.
	Forward(ctx context.Context, targetID int64, ref Ref) error
	// Copy копирует сообщение без атрибуции, с переопределением подписи.
	Copy(ctx context.Context, targetID int64, ref Ref, caption string) error
	// NativeGroupCopy копирует медиагруппу целиком штатным механизмом платформы.
	NativeGroupCopy(ctx context.Context, targetID int64, refs []Ref, caption string) error
	// Upload загружает локальный файл как новое сообщение.
	Upload(ctx context.Context, targetID int64, file LocalFile, caption string) error
}

// Downloader скачивает вложение сообщения во временный файл.
type Downloader interface {
	Download(ctx context.Context, msg Message) (LocalFile, error)
}

// CapabilityChecker сообщает, разрешает ли канал пересылку своего контента.
type CapabilityChecker interface {
	AllowsForward(ctx context.Context, channelID int64) (bool, error)
}

// HistoryRepo — долговременная запись доставок для идемпотентности.
// Проверка до отправки и запись после успеха допускают дубликат,
// но исключают потерю.
type HistoryRepo interface {
	IsDelivered(ctx context.Context, sourceID, messageID, targetID int64) (bool, error)
	RecordDelivered(ctx context.Context, sourceID, messageID, targetID int64) error
}

// ChannelResolver разрешает идентификаторы каналов и отдаёт метаданные.
type ChannelResolver interface {
	Resolve(ctx context.Context, identifier string) (int64, error)
	DisplayInfo(ctx context.Context, channelID int64) (ChannelInfo, error)
}

// ConfigProvider отдаёт пары каналов и заменяет их целиком при перезагрузке.
type ConfigProvider interface {
	Pairs() []ChannelPairConfig
}

// Cache — простое TTL-хранилище для вспомогательных данных.
type Cache interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
