// Package aggregate буферизует сообщения медиагрупп до полноты и отдаёт
// завершённые группы на пересылку. Группа обрабатывается ровно один раз:
// отметка в processed-множестве ставится синхронно с решением о
// завершении, под тем же мьютексом; проигравший гонку путь находит буфер
// уже удалённым и ничего не делает.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/cache"
	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/usecase/filters"
)

// Причины завершения группы.
const (
	TriggerExpectedCount = "expected_count"
	TriggerGraceWindow   = "grace_window"
	TriggerMaxItems      = "max_items"
	TriggerStaleness     = "staleness"
)

// Config — окна и пределы буферизации. Значения эмпирические и потому
// настраиваемые, а не зашитые.
type Config struct {
	// GraceWindow — срок с первого сообщения, после которого группа
	// считается полной даже без заявленного размера.
	GraceWindow time.Duration
	// Staleness — простой с последнего пополнения, гарантирующий
	// продвижение при любом отказе остальных путей.
	Staleness time.Duration
	// SweepEvery — период фонового обхода буферов.
	SweepEvery time.Duration
	// MaxItems — жёсткий предел размера, защита от кривых метаданных.
	MaxItems int
}

// CompletedGroup — результат сборки: уцелевшие после фильтров элементы.
type CompletedGroup struct {
	Pair     domain.ChannelPairConfig
	Messages []domain.Message
	// Caption — предварительно извлечённая подпись группы, уже после
	// правил замены (пустая при remove_captions).
	Caption string
	// CaptionChanged — подпись переписана или снята.
	CaptionChanged bool
	// Rebuilt — из группы выбыл хотя бы один элемент по типу вложения:
	// доставка обязана пересобрать группу поэлементно, штатное групповое
	// копирование воскресило бы отфильтрованное.
	Rebuilt bool
	Trigger string
}

type groupKey struct {
	chatID  int64
	groupID int64
}

func (k groupKey) String() string {
	return fmt.Sprintf("%d:%d", k.chatID, k.groupID)
}

type buffer struct {
	key         groupKey
	pair        domain.ChannelPairConfig
	messages    []domain.Message
	ids         map[int64]struct{}
	caption     string
	firstSeen   time.Time
	lastUpdate  time.Time
	expected    int
	received    int
	typeDropped int
}

// Aggregator — конечный автомат Collecting → Complete → removed на каждую
// пару (канал, группа).
type Aggregator struct {
	mu        sync.Mutex
	buffers   map[groupKey]*buffer
	processed *cache.Dedup

	// pending копит завершённые группы, не поместившиеся в out: пути
	// завершения никогда не блокируются на отставшем потребителе.
	pending  []CompletedGroup
	draining bool

	cfg    Config
	out    chan CompletedGroup
	events domain.EventSink
	log    zerolog.Logger
	now    func() time.Time
}

// New создаёт агрегатор. processedSize ограничивает память под множество
// уже обработанных групп.
func New(cfg Config, processedSize int, events domain.EventSink, log zerolog.Logger) *Aggregator {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10
	}
	return &Aggregator{
		buffers:   make(map[groupKey]*buffer),
		processed: cache.NewDedup(processedSize),
		cfg:       cfg,
		out:       make(chan CompletedGroup, 16),
		events:    events,
		log:       log,
		now:       time.Now,
	}
}

// Ready отдаёт завершённые группы. Агрегатор не держит ссылку на движок
// пересылки: связь односторонняя, через канал.
func (a *Aggregator) Ready() <-chan CompletedGroup {
	return a.out
}

// Add принимает сообщение группы. Фильтр по типу вложения применяется
// на входе: запрещённый элемент не буферизуется, но учитывается, чтобы
// завершённая группа знала о выбывших.
func (a *Aggregator) Add(ctx context.Context, msg domain.Message, pair domain.ChannelPairConfig) {
	key := groupKey{chatID: msg.ChatID, groupID: msg.GroupID}

	a.mu.Lock()
	if a.processed.Contains(key.String()) {
		a.mu.Unlock()
		return
	}
	buf, ok := a.buffers[key]
	if !ok {
		now := a.now()
		buf = &buffer{key: key, pair: pair, ids: make(map[int64]struct{}), firstSeen: now, lastUpdate: now}
		a.buffers[key] = buf
		metrics.GroupsBuffered.Inc()
	}
	if _, dup := buf.ids[msg.ID]; dup {
		a.mu.Unlock()
		return
	}
	buf.ids[msg.ID] = struct{}{}
	buf.lastUpdate = a.now()
	buf.received++
	if msg.GroupSize > 0 && buf.expected == 0 {
		buf.expected = msg.GroupSize
	}
	// Подпись снимается до любой фильтрации: несущий её элемент может
	// выбыть по типу, сама подпись — нет.
	if buf.caption == "" {
		buf.caption = filters.ExtractGroupCaption([]domain.Message{msg})
	}

	if !pair.KindAllowed(msg.Kind) {
		buf.typeDropped++
		a.mu.Unlock()
		a.publishFiltered(ctx, msg, domain.ScopeMessage, filters.ReasonMediaType)
		a.maybeCompleteAfterAdd(ctx, key)
		return
	}

	buf.insert(msg)
	a.mu.Unlock()
	a.maybeCompleteAfterAdd(ctx, key)
}

func (a *Aggregator) maybeCompleteAfterAdd(ctx context.Context, key groupKey) {
	a.mu.Lock()
	buf, ok := a.buffers[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	var trigger string
	switch {
	case buf.expected > 0 && buf.received >= buf.expected:
		// Заявленный размер достигнут: завершаем сразу, не дожидаясь окна.
		trigger = TriggerExpectedCount
	case buf.received >= a.cfg.MaxItems:
		trigger = TriggerMaxItems
	default:
		a.mu.Unlock()
		return
	}
	completed := a.takeLocked(key, trigger)
	a.mu.Unlock()
	a.finish(ctx, completed)
}

// Run ведёт периодический обход буферов: окно с первого сообщения и
// простой с последнего пополнения. Обход независим от пути добавления и
// гарантирует продвижение даже при замолчавшем источнике.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *Aggregator) sweep(ctx context.Context) {
	now := a.now()
	a.mu.Lock()
	var ready []*takenGroup
	for key, buf := range a.buffers {
		var trigger string
		switch {
		case a.cfg.GraceWindow > 0 && buf.received > 0 && now.Sub(buf.firstSeen) >= a.cfg.GraceWindow:
			trigger = TriggerGraceWindow
		case a.cfg.Staleness > 0 && now.Sub(buf.lastUpdate) >= a.cfg.Staleness:
			trigger = TriggerStaleness
		default:
			continue
		}
		ready = append(ready, a.takeLocked(key, trigger))
	}
	a.mu.Unlock()
	for _, taken := range ready {
		a.finish(ctx, taken)
	}
}

// Flush сбрасывает все буферы как брошенные: группа не пересылается даже
// частично, наружу уходит только событие.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	var abandoned []*buffer
	for key, buf := range a.buffers {
		a.processed.Seen(key.String())
		delete(a.buffers, key)
		metrics.GroupsBuffered.Dec()
		abandoned = append(abandoned, buf)
	}
	a.mu.Unlock()

	for _, buf := range abandoned {
		a.log.Warn().Int64("chat", buf.key.chatID).Int64("group", buf.key.groupID).
			Int("buffered", len(buf.messages)).Msg("aggregate: буфер сброшен при остановке")
		first, last := buf.idRange()
		a.publish(ctx, domain.Event{
			Type:    domain.EventGroupFlushed,
			Ref:     domain.Ref{ChatID: buf.key.chatID, MessageID: first},
			Scope:   domain.ScopeGroup,
			FirstID: first,
			LastID:  last,
		})
	}
}

// Buffered возвращает число собираемых сейчас групп.
func (a *Aggregator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

type takenGroup struct {
	buf     *buffer
	trigger string
}

// takeLocked удаляет буфер и синхронно помечает группу обработанной.
// Вызывается только под a.mu — это и есть точка взаимного исключения
// соревнующихся путей завершения.
func (a *Aggregator) takeLocked(key groupKey, trigger string) *takenGroup {
	buf := a.buffers[key]
	delete(a.buffers, key)
	a.processed.Seen(key.String())
	metrics.GroupsBuffered.Dec()
	metrics.GroupsCompleted.WithLabelValues(trigger).Inc()
	return &takenGroup{buf: buf, trigger: trigger}
}

// finish прогоняет фильтры уровня группы и отдаёт результат на пересылку.
// Побочных эффектов до этой точки не было: решение о завершении уже
// принято, буфер изъят.
func (a *Aggregator) finish(ctx context.Context, taken *takenGroup) {
	buf := taken.buf
	survivors := buf.messages

	if len(survivors) > 0 {
		if filtered, reason := groupStructural(survivors, buf.pair); filtered {
			a.dropGroup(ctx, buf, reason)
			return
		}
		kept, _ := filters.ApplyKeywordFilter(survivors, buf.pair.Keywords)
		switch {
		case len(kept) > 0:
			survivors = kept
		case filters.MatchesKeywords(buf.caption, buf.pair.Keywords):
			// Совпадение в извлечённой подписи равно совпадению у любого
			// участника: несущий её элемент мог выбыть по типу на входе.
		default:
			a.dropGroup(ctx, buf, filters.ReasonNoKeyword)
			return
		}
	}

	if len(survivors) == 0 {
		a.dropGroup(ctx, buf, filters.ReasonMediaType)
		return
	}

	caption, changed := buf.finalCaption()
	a.log.Debug().Int64("chat", buf.key.chatID).Int64("group", buf.key.groupID).
		Str("trigger", taken.trigger).Int("survivors", len(survivors)).
		Int("type_dropped", buf.typeDropped).Msg("aggregate: группа завершена")

	a.emit(CompletedGroup{
		Pair:           buf.pair,
		Messages:       survivors,
		Caption:        caption,
		CaptionChanged: changed,
		Rebuilt:        buf.typeDropped > 0,
		Trigger:        taken.trigger,
	})
}

// emit отдаёт группу потребителю, не блокируя пути завершения: при
// полном out группа уходит в pending, порядок завершений сохраняется.
func (a *Aggregator) emit(group CompletedGroup) {
	a.mu.Lock()
	if len(a.pending) == 0 && !a.draining {
		select {
		case a.out <- group:
			a.mu.Unlock()
			return
		default:
		}
	}
	a.pending = append(a.pending, group)
	if !a.draining {
		a.draining = true
		go a.drainPending()
	}
	a.mu.Unlock()
}

// drainPending переливает накопленное в out. Единственность горутины
// держит FIFO: прямой путь emit закрыт, пока draining взведён.
func (a *Aggregator) drainPending() {
	for {
		a.mu.Lock()
		if len(a.pending) == 0 {
			a.draining = false
			a.mu.Unlock()
			return
		}
		group := a.pending[0]
		a.pending = a.pending[1:]
		a.mu.Unlock()
		a.out <- group
	}
}

func (a *Aggregator) dropGroup(ctx context.Context, buf *buffer, reason string) {
	first, last := buf.idRange()
	a.publish(ctx, domain.Event{
		Type:    domain.EventFiltered,
		Ref:     domain.Ref{ChatID: buf.key.chatID, MessageID: first},
		Scope:   domain.ScopeGroup,
		Reason:  reason,
		FirstID: first,
		LastID:  last,
	})
	metrics.MessagesFiltered.WithLabelValues(string(domain.ScopeGroup), reason).Inc()
}

func (a *Aggregator) publishFiltered(ctx context.Context, msg domain.Message, scope domain.FilterScope, reason string) {
	a.publish(ctx, domain.Event{
		Type:   domain.EventFiltered,
		Ref:    domain.Ref{ChatID: msg.ChatID, MessageID: msg.ID},
		Scope:  scope,
		Reason: reason,
	})
	metrics.MessagesFiltered.WithLabelValues(string(scope), reason).Inc()
}

func (a *Aggregator) publish(ctx context.Context, event domain.Event) {
	if a.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = a.now()
	if err := a.events.Publish(ctx, event); err != nil {
		a.log.Error().Err(err).Str("type", string(event.Type)).Msg("aggregate: не удалось опубликовать событие")
	}
}

// groupStructural применяет структурные запреты к группе целиком:
// достаточно одного участника с запрещённым признаком.
func groupStructural(messages []domain.Message, cfg domain.ChannelPairConfig) (bool, string) {
	for _, msg := range messages {
		if filtered, reason := filters.ApplyStructuralExclusions(msg, cfg); filtered && reason != filters.ReasonTextOnly {
			return true, reason
		}
	}
	return false, ""
}

// insert держит инвариант буфера: сортировка по возрастанию ID, без
// дубликатов.
func (b *buffer) insert(msg domain.Message) {
	idx := sort.Search(len(b.messages), func(i int) bool {
		return b.messages[i].ID >= msg.ID
	})
	if idx < len(b.messages) && b.messages[idx].ID == msg.ID {
		return
	}
	b.messages = append(b.messages, domain.Message{})
	copy(b.messages[idx+1:], b.messages[idx:])
	b.messages[idx] = msg
}

func (b *buffer) idRange() (int64, int64) {
	if len(b.messages) == 0 {
		return 0, 0
	}
	return b.messages[0].ID, b.messages[len(b.messages)-1].ID
}

// finalCaption применяет к извлечённой подписи политику пары.
func (b *buffer) finalCaption() (string, bool) {
	if b.pair.RemoveCaptions {
		return "", b.caption != ""
	}
	return filters.ApplyTextReplacement(b.caption, b.pair.Replacements)
}
