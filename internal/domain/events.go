package domain

import (
	"context"
	"time"
)

// EventType перечисляет события, которые ядро отдаёт наружу.
type EventType string

const (
	// EventNewMessage — получено новое сообщение источника.
	EventNewMessage EventType = "new_message"
	// EventFiltered — сообщение или группа отброшены фильтром.
	EventFiltered EventType = "message_filtered"
	// EventForward — итог доставки логической единицы в одно направление.
	EventForward EventType = "forward"
	// EventConnectionState — смена состояния подключения.
	EventConnectionState EventType = "connection_state_changed"
	// EventGroupFlushed — буфер группы сброшен при остановке без пересылки.
	EventGroupFlushed EventType = "group_flushed"
	// EventDropped — сообщение потеряно до конвейера: приёмный поток
	// переполнен отставшим потребителем.
	EventDropped EventType = "message_dropped"
)

// FilterScope указывает, к чему относится отбраковка.
type FilterScope string

const (
	// ScopeMessage — отброшено одиночное сообщение или элемент группы.
	ScopeMessage FilterScope = "message"
	// ScopeGroup — отброшена медиагруппа целиком.
	ScopeGroup FilterScope = "group"
)

// Event — единица телеметрии ядра. Потребители (UI, телеметрия) вне ядра.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	// Для new_message и message_filtered.
	Ref    Ref         `json:"ref,omitempty"`
	Scope  FilterScope `json:"scope,omitempty"`
	Reason string      `json:"reason,omitempty"`

	// Для forward: диапазон идентификаторов покрывает все элементы группы.
	SourceName string `json:"source_name,omitempty"`
	TargetID   int64  `json:"target_id,omitempty"`
	TargetName string `json:"target_name,omitempty"`
	FirstID    int64  `json:"first_id,omitempty"`
	LastID     int64  `json:"last_id,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Modified   bool   `json:"modified,omitempty"`
	Error      string `json:"error,omitempty"`

	// Для connection_state_changed.
	State string `json:"state,omitempty"`
}

// EventSink принимает события ядра. Ошибки публикации не должны
// останавливать конвейер.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}
