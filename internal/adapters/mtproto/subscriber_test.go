package mtproto

import (
	"context"
	"sync"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
)

type eventSinkStub struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *eventSinkStub) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventSinkStub) all() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

func testClient(streamSize int, sink domain.EventSink) *Client {
	return &Client{
		events: sink,
		log:    zerolog.Nop(),
		hashes: make(map[int64]int64),
		watch:  map[int64]struct{}{BotChatID(123456): {}},
		stream: make(chan domain.Message, streamSize),
	}
}

func channelUpdate(id int) *tg.UpdateNewChannelMessage {
	return &tg.UpdateNewChannelMessage{Message: channelMessage(id, "новость")}
}

func TestWatchedMessageEntersStream(t *testing.T) {
	c := testClient(4, nil)

	if err := c.onNewChannelMessage(context.Background(), tg.Entities{}, channelUpdate(1)); err != nil {
		t.Fatalf("не ожидали ошибку обработчика: %v", err)
	}
	select {
	case msg := <-c.stream:
		if msg.ID != 1 || msg.ChatID != BotChatID(123456) {
			t.Fatalf("в потоке не то сообщение: %+v", msg)
		}
	default:
		t.Fatal("сообщение наблюдаемого канала должно попасть в поток")
	}
}

func TestUnwatchedChannelIgnored(t *testing.T) {
	c := testClient(4, nil)
	raw := channelMessage(2, "чужое")
	raw.PeerID = &tg.PeerChannel{ChannelID: 777}

	_ = c.onNewChannelMessage(context.Background(), tg.Entities{}, &tg.UpdateNewChannelMessage{Message: raw})
	if len(c.stream) != 0 {
		t.Fatal("сообщение ненаблюдаемого канала не должно попадать в поток")
	}
}

func TestStreamOverflowRecordsDrop(t *testing.T) {
	sink := &eventSinkStub{}
	c := testClient(1, sink)

	_ = c.onNewChannelMessage(context.Background(), tg.Entities{}, channelUpdate(3))
	_ = c.onNewChannelMessage(context.Background(), tg.Entities{}, channelUpdate(4))

	if len(c.stream) != 1 {
		t.Fatalf("поток ёмкостью 1 должен держать одно сообщение, держит %d", len(c.stream))
	}
	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("потеря на переполнении обязана дать одно событие, получили %d", len(events))
	}
	event := events[0]
	if event.Type != domain.EventDropped || event.Reason != "stream overflow" {
		t.Fatalf("неожиданное событие потери: %+v", event)
	}
	if event.Ref.MessageID != 4 || event.Ref.ChatID != BotChatID(123456) {
		t.Fatalf("событие потери должно указывать на потерянное сообщение: %+v", event)
	}
}
