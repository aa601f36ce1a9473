// Package resolver добавляет кэширование поверх разрешения каналов:
// идентификаторы и метаданные меняются редко, а запросы платформе дороги.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
)

// Cached — декоратор над domain.ChannelResolver с разделяемым TTL-кэшем.
type Cached struct {
	inner domain.ChannelResolver
	cache domain.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCached создаёт декоратор.
func NewCached(inner domain.ChannelResolver, cache domain.Cache, ttl time.Duration, log zerolog.Logger) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl, log: log}
}

// Resolve разрешает идентификатор, предпочитая кэш. Ошибки кэша не
// фатальны: запрос просто уходит дальше.
func (c *Cached) Resolve(ctx context.Context, identifier string) (int64, error) {
	key := "resolve:" + identifier
	if raw, err := c.cache.Get(key); err == nil {
		if id, parseErr := strconv.ParseInt(string(raw), 10, 64); parseErr == nil {
			return id, nil
		}
	}
	id, err := c.inner.Resolve(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if err := c.cache.Set(key, []byte(strconv.FormatInt(id, 10)), c.ttl); err != nil {
		c.log.Debug().Err(err).Str("identifier", identifier).Msg("resolver: кэш недоступен")
	}
	return id, nil
}

// DisplayInfo отдаёт метаданные канала, предпочитая кэш.
func (c *Cached) DisplayInfo(ctx context.Context, channelID int64) (domain.ChannelInfo, error) {
	key := fmt.Sprintf("chan_info:%d", channelID)
	if raw, err := c.cache.Get(key); err == nil {
		var info domain.ChannelInfo
		if unmarshalErr := json.Unmarshal(raw, &info); unmarshalErr == nil {
			return info, nil
		}
	}
	info, err := c.inner.DisplayInfo(ctx, channelID)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	if raw, marshalErr := json.Marshal(info); marshalErr == nil {
		if err := c.cache.Set(key, raw, c.ttl); err != nil {
			c.log.Debug().Err(err).Int64("channel", channelID).Msg("resolver: кэш недоступен")
		}
	}
	return info, nil
}
