package events

import (
	"context"

	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
)

// LogSink пишет события в структурированный лог. Используется как
// дублирующий приёмник и как единственный, когда брокер не настроен.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink создаёт приёмник.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish пишет событие одной записью лога.
func (s *LogSink) Publish(_ context.Context, event domain.Event) error {
	entry := s.log.Info().
		Str("event", string(event.Type)).
		Str("event_id", event.ID)
	if event.Ref.ChatID != 0 {
		entry = entry.Int64("chat", event.Ref.ChatID).Int64("msg", event.Ref.MessageID)
	}
	if event.Reason != "" {
		entry = entry.Str("scope", string(event.Scope)).Str("reason", event.Reason)
	}
	if event.Type == domain.EventForward {
		entry = entry.Int64("target", event.TargetID).Bool("success", event.Success)
		if event.Error != "" {
			entry = entry.Str("error", event.Error)
		}
	}
	if event.State != "" {
		entry = entry.Str("state", event.State)
	}
	entry.Msg("events: событие ядра")
	return nil
}

// Fanout раздаёт событие нескольким приёмникам. Ошибка одного не
// останавливает остальных; возвращается первая встреченная.
type Fanout struct {
	sinks []domain.EventSink
}

// NewFanout создаёт раздатчик.
func NewFanout(sinks ...domain.EventSink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Publish публикует во все приёмники.
func (f *Fanout) Publish(ctx context.Context, event domain.Event) error {
	var first error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
