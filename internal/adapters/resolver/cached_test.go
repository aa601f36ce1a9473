package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
)

type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Set(key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Get(key string) ([]byte, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, errors.New("нет ключа")
}

type innerStub struct {
	resolves int
	infos    int
}

func (s *innerStub) Resolve(_ context.Context, identifier string) (int64, error) {
	s.resolves++
	if identifier == "@missing" {
		return 0, errors.New("не найден")
	}
	return -100123, nil
}

func (s *innerStub) DisplayInfo(_ context.Context, channelID int64) (domain.ChannelInfo, error) {
	s.infos++
	return domain.ChannelInfo{ID: channelID, Name: "news", Title: "Новости"}, nil
}

func TestResolveCachesResult(t *testing.T) {
	inner := &innerStub{}
	cached := NewCached(inner, newMemCache(), time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		id, err := cached.Resolve(context.Background(), "@news")
		if err != nil || id != -100123 {
			t.Fatalf("разрешение не удалось: %d, %v", id, err)
		}
	}
	if inner.resolves != 1 {
		t.Fatalf("повторные запросы должны идти из кэша, обращений %d", inner.resolves)
	}
}

func TestResolveErrorNotCached(t *testing.T) {
	inner := &innerStub{}
	cached := NewCached(inner, newMemCache(), time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := cached.Resolve(context.Background(), "@missing"); err == nil {
			t.Fatalf("ошибка разрешения должна возвращаться")
		}
	}
	if inner.resolves != 2 {
		t.Fatalf("ошибки не кэшируются, обращений %d", inner.resolves)
	}
}

func TestDisplayInfoCachesResult(t *testing.T) {
	inner := &innerStub{}
	cached := NewCached(inner, newMemCache(), time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		info, err := cached.DisplayInfo(context.Background(), -100123)
		if err != nil || info.Title != "Новости" {
			t.Fatalf("метаданные не получены: %+v, %v", info, err)
		}
	}
	if inner.infos != 1 {
		t.Fatalf("повторные запросы должны идти из кэша, обращений %d", inner.infos)
	}
}
