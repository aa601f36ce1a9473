package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
)

type recordingSink struct {
	events []domain.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event domain.Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	fanout := NewFanout(first, second)

	if err := fanout.Publish(context.Background(), domain.Event{ID: "1", Type: domain.EventNewMessage}); err != nil {
		t.Fatalf("публикация не должна падать: %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("событие должно дойти до всех приёмников")
	}
}

func TestFanoutErrorDoesNotStopOthers(t *testing.T) {
	broken := &recordingSink{err: errors.New("брокер недоступен")}
	healthy := &recordingSink{}
	fanout := NewFanout(broken, healthy)

	err := fanout.Publish(context.Background(), domain.Event{ID: "2", Type: domain.EventForward})
	if err == nil {
		t.Fatalf("первая ошибка должна вернуться")
	}
	if len(healthy.events) != 1 {
		t.Fatalf("ошибка одного приёмника не должна останавливать остальных")
	}
}

func TestLogSinkNeverFails(t *testing.T) {
	sink := NewLogSink(zerolog.Nop())
	event := domain.Event{
		ID:     "3",
		Type:   domain.EventForward,
		Ref:    domain.Ref{ChatID: -100, MessageID: 5},
		Error:  "пример",
		Reason: "contains link",
		State:  "connected",
	}
	if err := sink.Publish(context.Background(), event); err != nil {
		t.Fatalf("лог-приёмник не возвращает ошибок: %v", err)
	}
}
