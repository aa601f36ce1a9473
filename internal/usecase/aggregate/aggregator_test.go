package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/usecase/filters"
)

type sinkStub struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *sinkStub) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *sinkStub) byType(t domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testAggregator(sink domain.EventSink) *Aggregator {
	return New(Config{
		GraceWindow: 5 * time.Second,
		Staleness:   8 * time.Second,
		SweepEvery:  time.Second,
		MaxItems:    10,
	}, 64, sink, zerolog.Nop())
}

func pairAllowing(kinds ...domain.MediaKind) domain.ChannelPairConfig {
	return domain.ChannelPairConfig{
		Source:       "@src",
		SourceID:     1,
		Targets:      []domain.Target{{ID: 2, Name: "Зеркало"}},
		AllowedKinds: kinds,
		Enabled:      true,
	}
}

func groupMsg(id int64, kind domain.MediaKind, text string) domain.Message {
	return domain.Message{ID: id, ChatID: 1, GroupID: 77, Kind: kind, Text: text}
}

func TestExpectedCountCompletesImmediately(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()

	for i, id := range []int64{11, 12, 13} {
		msg := groupMsg(id, domain.MediaPhoto, "")
		msg.GroupSize = 3
		a.Add(ctx, msg, pair)
		if i < 2 && a.Buffered() != 1 {
			t.Fatal("группа должна собираться до заявленного размера")
		}
	}

	select {
	case done := <-a.Ready():
		if done.Trigger != TriggerExpectedCount {
			t.Fatalf("ожидали завершение по заявленному размеру, получили %s", done.Trigger)
		}
		if len(done.Messages) != 3 {
			t.Fatalf("ожидали 3 элемента, получили %d", len(done.Messages))
		}
	default:
		t.Fatal("группа с достигнутым размером завершается сразу, без таймера")
	}
	if a.Buffered() != 0 {
		t.Fatal("буфер должен быть удалён")
	}
}

func TestGraceWindowViaSweep(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	current := time.Unix(1000, 0)
	a.now = func() time.Time { return current }

	a.Add(ctx, groupMsg(21, domain.MediaPhoto, "подпись"), pairAllowing())
	a.sweep(ctx)
	select {
	case <-a.Ready():
		t.Fatal("до истечения окна группа не завершается")
	default:
	}

	current = current.Add(6 * time.Second)
	a.sweep(ctx)
	select {
	case done := <-a.Ready():
		if done.Trigger != TriggerGraceWindow {
			t.Fatalf("ожидали grace_window, получили %s", done.Trigger)
		}
	default:
		t.Fatal("после окна группа должна завершиться")
	}
}

func TestStalenessSweep(t *testing.T) {
	sink := &sinkStub{}
	a := New(Config{Staleness: 8 * time.Second, SweepEvery: time.Second, MaxItems: 10}, 64, sink, zerolog.Nop())
	ctx := context.Background()
	current := time.Unix(2000, 0)
	a.now = func() time.Time { return current }

	a.Add(ctx, groupMsg(31, domain.MediaVideo, ""), pairAllowing())
	current = current.Add(9 * time.Second)
	a.sweep(ctx)

	select {
	case done := <-a.Ready():
		if done.Trigger != TriggerStaleness {
			t.Fatalf("ожидали staleness, получили %s", done.Trigger)
		}
	default:
		t.Fatal("простой должен гарантировать продвижение")
	}
}

func TestHardItemCap(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()

	for id := int64(1); id <= 10; id++ {
		a.Add(ctx, groupMsg(id, domain.MediaPhoto, ""), pair)
	}
	select {
	case done := <-a.Ready():
		if done.Trigger != TriggerMaxItems {
			t.Fatalf("ожидали max_items, получили %s", done.Trigger)
		}
		if len(done.Messages) != 10 {
			t.Fatalf("ожидали 10 элементов, получили %d", len(done.Messages))
		}
	default:
		t.Fatal("жёсткий предел должен завершать группу")
	}
}

func TestProcessedExactlyOnce(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()

	msg := groupMsg(41, domain.MediaPhoto, "")
	msg.GroupSize = 1
	a.Add(ctx, msg, pair)
	<-a.Ready()

	// Поздний дубликат после завершения не воскрешает группу.
	a.Add(ctx, groupMsg(42, domain.MediaPhoto, ""), pair)
	if a.Buffered() != 0 {
		t.Fatal("обработанная группа не должна собираться заново")
	}
}

func TestDuplicateIDsIgnored(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()

	msg := groupMsg(51, domain.MediaPhoto, "")
	msg.GroupSize = 2
	a.Add(ctx, msg, pair)
	a.Add(ctx, msg, pair) // повтор того же ID не приближает завершение

	select {
	case <-a.Ready():
		t.Fatal("дубликат не должен учитываться в заявленном размере")
	default:
	}
}

func TestMessagesSortedByID(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()

	// Элементы группы приходят не по порядку.
	for _, id := range []int64{63, 61, 62} {
		msg := groupMsg(id, domain.MediaPhoto, "")
		msg.GroupSize = 3
		a.Add(ctx, msg, pair)
	}
	done := <-a.Ready()
	for i := 1; i < len(done.Messages); i++ {
		if done.Messages[i].ID <= done.Messages[i-1].ID {
			t.Fatalf("элементы должны быть отсортированы по ID: %v", done.Messages)
		}
	}
}

func TestScenarioPartialTypeFiltering(t *testing.T) {
	// Группа {photo(cap="Launch day"), video, photo, document} при
	// allow-списке {photo, video}: документ выбывает, группа пересобирается
	// из трёх элементов, подпись уходит первому.
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing(domain.MediaPhoto, domain.MediaVideo)

	items := []domain.Message{
		groupMsg(71, domain.MediaPhoto, "Launch day"),
		groupMsg(72, domain.MediaVideo, ""),
		groupMsg(73, domain.MediaPhoto, ""),
		groupMsg(74, domain.MediaDocument, ""),
	}
	for i := range items {
		items[i].GroupSize = 4
		a.Add(ctx, items[i], pair)
	}

	done := <-a.Ready()
	if len(done.Messages) != 3 {
		t.Fatalf("ожидали 3 уцелевших, получили %d", len(done.Messages))
	}
	if !done.Rebuilt {
		t.Fatal("частично отфильтрованная группа обязана пересобираться поэлементно")
	}
	if done.Caption != "Launch day" {
		t.Fatalf("подпись должна сохраниться, получили %q", done.Caption)
	}
	filteredEvents := sink.byType(domain.EventFiltered)
	if len(filteredEvents) != 1 || filteredEvents[0].Reason != filters.ReasonMediaType {
		t.Fatalf("документ должен дать событие отбраковки, получили %v", filteredEvents)
	}
}

func TestGroupKeywordUnityAtCompletion(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()
	pair.Keywords = []string{"запуск"}

	for _, m := range []domain.Message{
		groupMsg(81, domain.MediaPhoto, "Запуск сегодня"),
		groupMsg(82, domain.MediaVideo, ""),
	} {
		m.GroupSize = 2
		a.Add(ctx, m, pair)
	}
	done := <-a.Ready()
	if len(done.Messages) != 2 {
		t.Fatal("совпадение у одного участника пропускает группу целиком")
	}

	// Группа без совпадений выбывает целиком и не попадает в Ready.
	pair2 := pairAllowing()
	pair2.Keywords = []string{"посадка"}
	for _, id := range []int64{91, 92} {
		m := domain.Message{ID: id, ChatID: 5, GroupID: 99, GroupSize: 2, Kind: domain.MediaPhoto, Text: "про другое"}
		a.Add(ctx, m, pair2)
	}
	select {
	case <-a.Ready():
		t.Fatal("группа без ключевых слов должна быть отброшена")
	default:
	}
	groupEvents := sink.byType(domain.EventFiltered)
	found := false
	for _, e := range groupEvents {
		if e.Scope == domain.ScopeGroup && e.Reason == filters.ReasonNoKeyword {
			found = true
		}
	}
	if !found {
		t.Fatal("отброс группы должен давать событие с причиной no keyword match")
	}
}

func TestZeroSurvivorsDroppedSilently(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing(domain.MediaPhoto)

	for _, id := range []int64{101, 102} {
		m := groupMsg(id, domain.MediaDocument, "")
		m.GroupSize = 2
		a.Add(ctx, m, pair)
	}
	select {
	case <-a.Ready():
		t.Fatal("группа без уцелевших не пересылается")
	default:
	}
	if a.Buffered() != 0 {
		t.Fatal("пустая группа всё равно завершается и удаляется")
	}
}

func TestRemoveCaptionsOnCompletion(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()
	pair.RemoveCaptions = true

	m := groupMsg(111, domain.MediaPhoto, "подпись")
	m.GroupSize = 1
	a.Add(ctx, m, pair)
	done := <-a.Ready()
	if done.Caption != "" || !done.CaptionChanged {
		t.Fatalf("remove_captions снимает подпись группы, получили %q", done.Caption)
	}
}

func TestCompletionNeverBlocksOnBackpressure(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing()

	// Потребитель не читает Ready: завершений больше, чем помещается в
	// канал, но путь добавления обязан возвращаться сразу.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for g := int64(1); g <= 40; g++ {
			msg := domain.Message{ID: g, ChatID: 1, GroupID: g, GroupSize: 1, Kind: domain.MediaPhoto}
			a.Add(ctx, msg, pair)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("добавление не должно блокироваться на отставшем потребителе")
	}

	// Накопленное выходит в порядке завершения.
	for want := int64(1); want <= 40; want++ {
		select {
		case completed := <-a.Ready():
			if completed.Messages[0].ID != want {
				t.Fatalf("порядок завершений нарушен: ожидали %d, получили %d", want, completed.Messages[0].ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("не дождались группы %d", want)
		}
	}
}

func TestTypeFilteredCaptionKeepsKeywordMatch(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()
	pair := pairAllowing(domain.MediaPhoto)
	pair.Keywords = []string{"запуск"}

	// Единственный носитель ключевого слова выбывает по типу на входе,
	// но его подпись уже извлечена и засчитывается группе.
	items := []domain.Message{
		groupMsg(131, domain.MediaDocument, "Запуск в полдень"),
		groupMsg(132, domain.MediaPhoto, ""),
	}
	for i := range items {
		items[i].GroupSize = 2
		a.Add(ctx, items[i], pair)
	}

	done := <-a.Ready()
	if len(done.Messages) != 1 || done.Messages[0].ID != 132 {
		t.Fatalf("фото должно уцелеть: %+v", done.Messages)
	}
	if !done.Rebuilt || done.Caption != "Запуск в полдень" {
		t.Fatalf("подпись выбывшего элемента должна сохраниться: %+v", done)
	}
}

func TestFlushAbandonsBuffers(t *testing.T) {
	sink := &sinkStub{}
	a := testAggregator(sink)
	ctx := context.Background()

	a.Add(ctx, groupMsg(121, domain.MediaPhoto, ""), pairAllowing())
	a.Flush(ctx)

	if a.Buffered() != 0 {
		t.Fatal("Flush должен опустошить буферы")
	}
	select {
	case <-a.Ready():
		t.Fatal("брошенные группы не пересылаются даже частично")
	default:
	}
	if len(sink.byType(domain.EventGroupFlushed)) != 1 {
		t.Fatal("сброс буфера должен дать событие")
	}
	// Брошенная группа помечена обработанной: поздние элементы игнорируются.
	a.Add(ctx, groupMsg(122, domain.MediaPhoto, ""), pairAllowing())
	if a.Buffered() != 0 {
		t.Fatal("после Flush группа не собирается заново")
	}
}
