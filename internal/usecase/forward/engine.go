// Package forward реализует движок доставки: выбор стратегии на пару
// источник→направление, исполнение через очередь запросов и ровно одно
// событие исхода на направление для каждой логической единицы.
package forward

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/cache"
	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/infra/queue"
	"tg-relay-bot/internal/usecase/faultclass"
	"tg-relay-bot/internal/usecase/filters"
)

// Strategy — способ доставки.
type Strategy string

const (
	// StrategyForward — штатная пересылка с атрибуцией источника.
	StrategyForward Strategy = "forward"
	// StrategyCopy — копия без атрибуции, с переписанной подписью.
	StrategyCopy Strategy = "copy"
	// StrategyReupload — скачивание и повторная загрузка: источник
	// запрещает пересылку и копирование своего контента.
	StrategyReupload Strategy = "reupload"
)

// Unit — логическая единица доставки: одиночное сообщение или
// завершённая медиагруппа.
type Unit struct {
	Pair     domain.ChannelPairConfig
	Messages []domain.Message
	// Caption — итоговая подпись после правил пары.
	Caption string
	// CaptionChanged — подпись отличается от оригинала.
	CaptionChanged bool
	// Rebuilt — группа потеряла элементы по типу вложения и обязана
	// пересобираться поэлементно.
	Rebuilt bool
}

// Group сообщает, является ли единица медиагруппой.
func (u Unit) Group() bool { return len(u.Messages) > 1 }

// IDRange возвращает диапазон идентификаторов единицы.
func (u Unit) IDRange() (int64, int64) {
	if len(u.Messages) == 0 {
		return 0, 0
	}
	return u.Messages[0].ID, u.Messages[len(u.Messages)-1].ID
}

// Engine — движок пересылки.
type Engine struct {
	sender     domain.Sender
	downloader domain.Downloader
	caps       domain.CapabilityChecker
	capCache   *cache.Info
	history    domain.HistoryRepo
	requests   *queue.Queue
	events     domain.EventSink
	log        zerolog.Logger

	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	// lanes хранит хвост очереди каждого направления: внутри направления
	// доставки идут строго в порядке поступления единиц.
	laneMu sync.Mutex
	lanes  map[int64]chan struct{}
	wg     sync.WaitGroup
}

// New создаёт движок. capTTL ограничивает срок кэша проверки возможностей.
func New(
	sender domain.Sender,
	downloader domain.Downloader,
	caps domain.CapabilityChecker,
	capTTL time.Duration,
	history domain.HistoryRepo,
	requests *queue.Queue,
	events domain.EventSink,
	maxRetries int,
	log zerolog.Logger,
) *Engine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Engine{
		sender:     sender,
		downloader: downloader,
		caps:       caps,
		capCache:   cache.NewInfo(256, capTTL),
		history:    history,
		requests:   requests,
		events:     events,
		log:        log,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
		now:        time.Now,
		lanes:      make(map[int64]chan struct{}),
	}
}

// SingleUnit строит единицу доставки из одиночного сообщения,
// применяя к тексту политику пары.
func SingleUnit(msg domain.Message, pair domain.ChannelPairConfig) Unit {
	caption, changed := filters.RewriteCaption(msg, pair)
	return Unit{
		Pair:           pair,
		Messages:       []domain.Message{msg},
		Caption:        caption,
		CaptionChanged: changed,
	}
}

// Deliver принимает единицу к доставке по всем направлениям пары и
// возвращает управление сразу. Направления независимы: пауза одного
// никогда не задерживает соседей, отказ одного не прерывает остальных.
// Внутри направления единицы доставляются в порядке вызовов Deliver.
func (e *Engine) Deliver(ctx context.Context, unit Unit) {
	if len(unit.Messages) == 0 {
		return
	}
	for _, target := range unit.Pair.Targets {
		prev, done := e.laneTurn(target.ID)
		e.wg.Add(1)
		go func(target domain.Target, prev <-chan struct{}, done chan struct{}) {
			defer e.wg.Done()
			defer close(done)
			if prev != nil {
				select {
				case <-prev:
				case <-ctx.Done():
					return
				}
			}
			e.deliverTo(ctx, unit, target)
		}(target, prev, done)
	}
}

// laneTurn выдаёт очередь направления: доставка стартует после закрытия
// prev, собственное закрытие done передаёт очередь следующей единице.
func (e *Engine) laneTurn(targetID int64) (chan struct{}, chan struct{}) {
	e.laneMu.Lock()
	defer e.laneMu.Unlock()
	prev := e.lanes[targetID]
	done := make(chan struct{})
	e.lanes[targetID] = done
	return prev, done
}

// Wait блокируется до завершения всех принятых доставок.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// deliverTo ведёт одно направление до итогового события: успех или отказ.
func (e *Engine) deliverTo(ctx context.Context, unit Unit, target domain.Target) {
	sourceID := unit.Messages[0].ChatID
	firstID, lastID := unit.IDRange()

	delivered, err := e.history.IsDelivered(ctx, sourceID, firstID, target.ID)
	if err != nil {
		e.log.Error().Err(err).Int64("target", target.ID).Msg("forward: проверка истории не удалась")
	}
	if delivered {
		e.log.Debug().Int64("source", sourceID).Int64("msg", firstID).Int64("target", target.ID).
			Msg("forward: уже доставлено, пропускаем")
		return
	}

	strategy := e.selectStrategy(ctx, unit)
	fallbackUsed := false
	// Бюджет повторов двойной: на категорию отказа из решения
	// классификатора и общий потолок движка поверх всех категорий.
	retries := make(map[faultclass.Category]int)
	total := 0

	for {
		err := e.execute(ctx, unit, target, strategy)
		if err == nil {
			break
		}
		decision := faultclass.Classify(err)
		switch {
		case decision.Strategy == faultclass.StrategyWaitThenRetry:
			retries[decision.Category]++
			total++
			if retries[decision.Category] > decision.MaxRetries || total > e.maxRetries {
				e.fail(ctx, unit, target, strategy, err)
				return
			}
			// Пауза касается только этого направления: соседние
			// доставки идут в своих горутинах.
			e.log.Warn().Dur("wait", decision.Wait).Int64("target", target.ID).
				Msg("forward: платформа требует паузу")
			if err := e.sleep(ctx, decision.Wait); err != nil {
				e.fail(ctx, unit, target, strategy, err)
				return
			}
		case decision.Strategy == faultclass.StrategyRetry:
			retries[decision.Category]++
			total++
			if retries[decision.Category] > decision.MaxRetries || total > e.maxRetries {
				e.fail(ctx, unit, target, strategy, err)
				return
			}
			if decision.Wait > 0 {
				if err := e.sleep(ctx, decision.Wait); err != nil {
					e.fail(ctx, unit, target, strategy, err)
					return
				}
			}
		case decision.Strategy == faultclass.StrategyFailFast && !fallbackUsed:
			next, ok := fallbackFor(strategy)
			if !ok {
				e.fail(ctx, unit, target, strategy, err)
				return
			}
			// Ровно одна попытка запасной стратегии.
			fallbackUsed = true
			e.log.Warn().Str("from", string(strategy)).Str("to", string(next)).
				Int64("target", target.ID).Msg("forward: переход на запасную стратегию")
			strategy = next
		default:
			e.fail(ctx, unit, target, strategy, err)
			return
		}
	}

	// Запись в историю только после подтверждённого успеха: при
	// падении между отправкой и записью возможен дубликат, но не потеря.
	for _, msg := range unit.Messages {
		if err := e.history.RecordDelivered(ctx, sourceID, msg.ID, target.ID); err != nil {
			e.log.Error().Err(err).Int64("msg", msg.ID).Msg("forward: запись истории не удалась")
		}
	}
	metrics.ForwardsTotal.WithLabelValues(string(strategy), "success").Inc()
	e.publish(ctx, domain.Event{
		Type:       domain.EventForward,
		Ref:        domain.Ref{ChatID: sourceID, MessageID: firstID},
		SourceName: unit.Pair.SourceName,
		TargetID:   target.ID,
		TargetName: target.Name,
		FirstID:    firstID,
		LastID:     lastID,
		Success:    true,
		Modified:   unit.CaptionChanged || unit.Rebuilt,
	})
}

func (e *Engine) fail(ctx context.Context, unit Unit, target domain.Target, strategy Strategy, err error) {
	sourceID := unit.Messages[0].ChatID
	firstID, lastID := unit.IDRange()
	e.log.Error().Err(err).Int64("target", target.ID).Str("strategy", string(strategy)).
		Msg("forward: направление помечено отказавшим")
	metrics.ForwardsTotal.WithLabelValues(string(strategy), "error").Inc()
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	e.publish(ctx, domain.Event{
		Type:       domain.EventForward,
		Ref:        domain.Ref{ChatID: sourceID, MessageID: firstID},
		SourceName: unit.Pair.SourceName,
		TargetID:   target.ID,
		TargetName: target.Name,
		FirstID:    firstID,
		LastID:     lastID,
		Success:    false,
		Modified:   unit.CaptionChanged || unit.Rebuilt,
		Error:      errText,
	})
}

// selectStrategy выбирает основную стратегию для единицы.
func (e *Engine) selectStrategy(ctx context.Context, unit Unit) Strategy {
	msg := unit.Messages[0]
	if !msg.HasMedia() && !unit.Group() {
		// Чистому тексту скачивание не нужно никогда: текст закрытого
		// источника просто отправляется заново.
		if unit.Pair.HideAuthor || unit.CaptionChanged || e.restricted(ctx, msg.ChatID) {
			return StrategyCopy
		}
		return StrategyForward
	}
	if e.restricted(ctx, msg.ChatID) {
		return StrategyReupload
	}
	if unit.Pair.HideAuthor || unit.CaptionChanged {
		return StrategyCopy
	}
	return StrategyForward
}

// restricted проверяет запрет пересылки у источника через кэш с коротким TTL.
func (e *Engine) restricted(ctx context.Context, chatID int64) bool {
	key := "cap:" + strconv.FormatInt(chatID, 10)
	if v, ok := e.capCache.Get(key); ok {
		return v.(bool)
	}
	allows, err := e.caps.AllowsForward(ctx, chatID)
	if err != nil {
		// Неизвестность трактуем как «разрешено»: настоящий запрет
		// всплывёт отказом отправки и уйдёт в запасную стратегию.
		e.log.Warn().Err(err).Int64("chat", chatID).Msg("forward: проверка возможностей не удалась")
		return false
	}
	e.capCache.Set(key, !allows)
	return !allows
}

// execute ставит отправку в очередь запросов и ждёт исхода.
func (e *Engine) execute(ctx context.Context, unit Unit, target domain.Target, strategy Strategy) error {
	op := e.operation(unit, target, strategy)
	handle, err := e.requests.Enqueue(queue.Request{
		ID:       uuid.NewString(),
		Kind:     string(strategy),
		Priority: queue.PriorityNormal,
		Op:       op,
	})
	if err != nil {
		return fmt.Errorf("постановка в очередь: %w", err)
	}
	return handle.Wait(ctx)
}

func (e *Engine) operation(unit Unit, target domain.Target, strategy Strategy) func(ctx context.Context) error {
	if unit.Group() {
		return func(ctx context.Context) error {
			return e.sendGroup(ctx, unit, target, strategy)
		}
	}
	msg := unit.Messages[0]
	ref := domain.Ref{ChatID: msg.ChatID, MessageID: msg.ID}
	return func(ctx context.Context) error {
		switch strategy {
		case StrategyForward:
			return e.sender.Forward(ctx, target.ID, ref)
		case StrategyCopy:
			if !msg.HasMedia() {
				return e.sender.SendText(ctx, target.ID, unit.Caption)
			}
			return e.sender.Copy(ctx, target.ID, ref, unit.Caption)
		case StrategyReupload:
			if !msg.HasMedia() {
				return e.sender.SendText(ctx, target.ID, unit.Caption)
			}
			return e.reupload(ctx, msg, target, unit.Caption)
		}
		return &domain.Fault{Kind: domain.FaultBadRequest, Message: "неизвестная стратегия"}
	}
}

// sendGroup доставляет медиагруппу. Пересобранная группа никогда не
// использует штатное групповое копирование: оно скопировало бы исходную
// группу целиком и воскресило бы отфильтрованные элементы.
func (e *Engine) sendGroup(ctx context.Context, unit Unit, target domain.Target, strategy Strategy) error {
	if unit.Rebuilt || strategy == StrategyReupload {
		return e.rebuildGroup(ctx, unit, target)
	}
	refs := make([]domain.Ref, 0, len(unit.Messages))
	for _, msg := range unit.Messages {
		refs = append(refs, domain.Ref{ChatID: msg.ChatID, MessageID: msg.ID})
	}
	return e.sender.NativeGroupCopy(ctx, target.ID, refs, unit.Caption)
}

// rebuildGroup загружает уцелевшие элементы поэлементно; подпись уходит
// только первому.
func (e *Engine) rebuildGroup(ctx context.Context, unit Unit, target domain.Target) error {
	for i, msg := range unit.Messages {
		caption := ""
		if i == 0 {
			caption = unit.Caption
		}
		if err := e.reupload(ctx, msg, target, caption); err != nil {
			return fmt.Errorf("элемент %d: %w", msg.ID, err)
		}
	}
	return nil
}

func (e *Engine) reupload(ctx context.Context, msg domain.Message, target domain.Target, caption string) error {
	file, err := e.downloader.Download(ctx, msg)
	if err != nil {
		return fmt.Errorf("скачивание %d: %w", msg.ID, err)
	}
	return e.sender.Upload(ctx, target.ID, file, caption)
}

func (e *Engine) publish(ctx context.Context, event domain.Event) {
	if e.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = e.now()
	if err := e.events.Publish(ctx, event); err != nil {
		e.log.Error().Err(err).Str("type", string(event.Type)).Msg("forward: не удалось опубликовать событие")
	}
}

// fallbackFor отдаёт запасную стратегию: forward → copy → reupload.
func fallbackFor(strategy Strategy) (Strategy, bool) {
	switch strategy {
	case StrategyForward:
		return StrategyCopy, true
	case StrategyCopy:
		return StrategyReupload, true
	}
	return "", false
}

var errStopped = errors.New("доставка прервана остановкой")

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errStopped
	case <-timer.C:
		return nil
	}
}
