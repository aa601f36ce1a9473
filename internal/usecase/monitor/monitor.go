// Package monitor связывает поток сообщений источников с конвейером
// фильтрации, агрегатором медиагрупп и движком пересылки.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/cache"
	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/usecase/aggregate"
	"tg-relay-bot/internal/usecase/filters"
	"tg-relay-bot/internal/usecase/forward"
)

// Engine — то, что монитору нужно от движка пересылки. Deliver обязан
// возвращать управление не дожидаясь доставки: порядок вызовов задаёт
// порядок доставки внутри направления.
type Engine interface {
	Deliver(ctx context.Context, unit forward.Unit)
	Wait()
}

// Monitor — оркестратор: одна подписка на все источники, маршрутизация
// одиночных сообщений и медиагрупп, управляемая остановка.
type Monitor struct {
	subscriber domain.Subscriber
	provider   domain.ConfigProvider
	aggregator *aggregate.Aggregator
	engine     Engine
	events     domain.EventSink
	log        zerolog.Logger

	// seen отсекает повторные поступления одного сообщения: платформа
	// может прислать обновление как новое событие.
	seen *cache.Dedup
	now  func() time.Time
}

// New создаёт монитор. dedupSize ограничивает память под множество
// уже виденных сообщений.
func New(
	subscriber domain.Subscriber,
	provider domain.ConfigProvider,
	aggregator *aggregate.Aggregator,
	engine Engine,
	events domain.EventSink,
	dedupSize int,
	log zerolog.Logger,
) *Monitor {
	return &Monitor{
		subscriber: subscriber,
		provider:   provider,
		aggregator: aggregator,
		engine:     engine,
		events:     events,
		log:        log,
		seen:       cache.NewDedup(dedupSize),
		now:        time.Now,
	}
}

// Run ведёт главный цикл до отмены контекста или закрытия потока.
// Остановка управляемая: буферы групп сбрасываются, запущенные доставки
// дожидаются завершения.
func (m *Monitor) Run(ctx context.Context) error {
	ids := m.sourceIDs()
	if len(ids) == 0 {
		return fmt.Errorf("нет включённых пар каналов")
	}
	stream, err := m.subscriber.Subscribe(ctx, ids)
	if err != nil {
		return fmt.Errorf("подписка на источники: %w", err)
	}
	m.log.Info().Int("sources", len(ids)).Msg("monitor: подписка установлена")

	go m.aggregator.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case msg, ok := <-stream:
			if !ok {
				m.log.Warn().Msg("monitor: поток сообщений закрыт")
				m.shutdown()
				return nil
			}
			m.handle(ctx, msg)
		case group := <-m.aggregator.Ready():
			m.deliverGroup(ctx, group)
		}
	}
}

// shutdown сбрасывает буферы и ждёт незавершённые доставки. Контекст
// цикла уже отменён, поэтому события сброса уходят с собственным сроком.
func (m *Monitor) shutdown() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.aggregator.Flush(flushCtx)
	m.engine.Wait()
	m.log.Info().Msg("monitor: остановлен")
}

// handle ведёт одно сообщение через дедупликацию, поиск пары и маршрутизацию.
func (m *Monitor) handle(ctx context.Context, msg domain.Message) {
	if m.seen.Seen(fmt.Sprintf("%d:%d", msg.ChatID, msg.ID)) {
		return
	}
	pair, ok := m.pairFor(msg.ChatID)
	if !ok {
		return
	}
	metrics.MessagesSeen.WithLabelValues(pair.SourceName).Inc()
	m.publish(ctx, domain.Event{
		Type:       domain.EventNewMessage,
		Ref:        domain.Ref{ChatID: msg.ChatID, MessageID: msg.ID},
		SourceName: pair.SourceName,
	})

	kind, _ := filters.Classify(msg)
	msg.Kind = kind

	if msg.GroupID != 0 {
		m.aggregator.Add(ctx, msg, pair)
		return
	}
	m.handleSingle(ctx, msg, pair)
}

// handleSingle применяет фильтры в фиксированном порядке: структурные,
// ключевые слова, тип вложения. Первый сработавший завершает обработку.
func (m *Monitor) handleSingle(ctx context.Context, msg domain.Message, pair domain.ChannelPairConfig) {
	if filtered, reason := filters.ApplyStructuralExclusions(msg, pair); filtered {
		m.dropMessage(ctx, msg, reason)
		return
	}
	if kept, _ := filters.ApplyKeywordFilter([]domain.Message{msg}, pair.Keywords); len(kept) == 0 {
		m.dropMessage(ctx, msg, filters.ReasonNoKeyword)
		return
	}
	if kept, _ := filters.ApplyMediaTypeFilter([]domain.Message{msg}, pair.AllowedKinds); len(kept) == 0 {
		m.dropMessage(ctx, msg, filters.ReasonMediaType)
		return
	}

	m.engine.Deliver(ctx, forward.SingleUnit(msg, pair))
}

// deliverGroup передаёт завершённую группу движку. Deliver не блокирует:
// пауза лимитов не останавливает приём новых сообщений, а порядок
// вызовов фиксирует порядок доставки внутри каждого направления.
func (m *Monitor) deliverGroup(ctx context.Context, group aggregate.CompletedGroup) {
	m.engine.Deliver(ctx, forward.Unit{
		Pair:           group.Pair,
		Messages:       group.Messages,
		Caption:        group.Caption,
		CaptionChanged: group.CaptionChanged,
		Rebuilt:        group.Rebuilt,
	})
}

func (m *Monitor) dropMessage(ctx context.Context, msg domain.Message, reason string) {
	m.publish(ctx, domain.Event{
		Type:   domain.EventFiltered,
		Ref:    domain.Ref{ChatID: msg.ChatID, MessageID: msg.ID},
		Scope:  domain.ScopeMessage,
		Reason: reason,
	})
	metrics.MessagesFiltered.WithLabelValues(string(domain.ScopeMessage), reason).Inc()
}

// pairFor ищет включённую пару по идентификатору источника.
// Снимок пар берётся у провайдера на каждое сообщение: перезагрузка
// конфигурации подхватывается без перезапуска цикла.
func (m *Monitor) pairFor(chatID int64) (domain.ChannelPairConfig, bool) {
	for _, pair := range m.provider.Pairs() {
		if pair.Enabled && pair.SourceID == chatID {
			return pair, true
		}
	}
	return domain.ChannelPairConfig{}, false
}

func (m *Monitor) sourceIDs() []int64 {
	var ids []int64
	for _, pair := range m.provider.Pairs() {
		if pair.Enabled {
			ids = append(ids, pair.SourceID)
		}
	}
	return ids
}

func (m *Monitor) publish(ctx context.Context, event domain.Event) {
	if m.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = m.now()
	if err := m.events.Publish(ctx, event); err != nil {
		m.log.Error().Err(err).Str("type", string(event.Type)).Msg("monitor: не удалось опубликовать событие")
	}
}
