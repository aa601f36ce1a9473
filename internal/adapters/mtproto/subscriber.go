package mtproto

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// Subscribe регистрирует наблюдаемые каналы и отдаёт поток их сообщений.
// Повторный вызов заменяет набор каналов: перезагрузка конфигурации не
// требует нового соединения.
func (c *Client) Subscribe(ctx context.Context, channelIDs []int64) (<-chan domain.Message, error) {
	c.mu.Lock()
	c.watch = make(map[int64]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		c.watch[id] = struct{}{}
	}
	c.mu.Unlock()
	return c.stream, nil
}

func (c *Client) watched(botChatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watch[botChatID]
	return ok
}

// onNewChannelMessage принимает обновление, запоминает access hash
// встреченных каналов и кладёт доменное сообщение в поток.
func (c *Client) onNewChannelMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
	for id, channel := range e.Channels {
		c.rememberHash(id, channel.AccessHash)
	}
	msg, ok := update.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	converted, ok := ConvertMessage(msg)
	if !ok || !c.watched(converted.ChatID) {
		return nil
	}
	select {
	case c.stream <- converted:
	default:
		// Поток переполнен: потребитель отстал. Блокировать обработчик
		// обновлений нельзя, поэтому потеря фиксируется событием и
		// собственной метрикой.
		c.dropMessage(ctx, converted)
	}
	return nil
}

func (c *Client) dropMessage(ctx context.Context, msg domain.Message) {
	metrics.StreamDropped.Inc()
	c.log.Warn().Int64("chat", msg.ChatID).Int64("msg", msg.ID).
		Msg("mtproto: поток сообщений переполнен, сообщение отброшено")
	if c.events == nil {
		return
	}
	event := domain.Event{
		ID:     uuid.NewString(),
		Type:   domain.EventDropped,
		At:     time.Now(),
		Ref:    domain.Ref{ChatID: msg.ChatID, MessageID: msg.ID},
		Scope:  domain.ScopeMessage,
		Reason: "stream overflow",
	}
	if err := c.events.Publish(ctx, event); err != nil {
		c.log.Error().Err(err).Msg("mtproto: не удалось опубликовать событие потери")
	}
}
