// Package queue реализует ограниченную приоритетную очередь запросов
// к платформе: фиксированный пул воркеров, потолок одновременности и
// token-bucket ограничитель частоты. Очередь не выполняет повторов —
// бюджет повторов принадлежит вызывающему.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tg-relay-bot/internal/infra/metrics"
)

// Приоритеты запросов: меньшее значение обслуживается раньше.
const (
	PriorityHigh   = 0
	PriorityNormal = 5
	PriorityLow    = 9
)

var (
	// ErrQueueFull — очередь переполнена. Отдельная, немедленно видимая
	// ошибка: молчаливого сброса не бывает.
	ErrQueueFull = errors.New("очередь запросов переполнена")
	// ErrQueueClosed — очередь остановлена и не принимает работу.
	ErrQueueClosed = errors.New("очередь запросов остановлена")
)

// Request — единица работы очереди.
type Request struct {
	ID        string
	Kind      string
	Priority  int
	Timeout   time.Duration
	CreatedAt time.Time
	Op        func(ctx context.Context) error

	seq  uint64
	done chan error
}

// Handle — результат постановки в очередь: позволяет дождаться исхода.
type Handle struct {
	id   string
	done <-chan error
}

// ID возвращает идентификатор запроса.
func (h *Handle) ID() string { return h.id }

// Wait блокируется до завершения запроса или отмены контекста.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue — ограниченная приоритетная очередь с пулом воркеров.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending requestHeap
	seq     uint64

	capacity int
	workers  int
	limiter  *rate.Limiter
	closed   bool
	wg       sync.WaitGroup
}

// New создаёт очередь на capacity запросов с workers воркерами и
// ограничением rps запросов в секунду (burst — ёмкость ведра).
func New(capacity, workers int, rps float64, burst int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	q := &Queue{
		capacity: capacity,
		workers:  workers,
		limiter:  rate.NewLimiter(limit, burst),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start запускает воркеры. Работа продолжается до Close или отмены ctx.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		q.Close()
	}()
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue ставит запрос в очередь. Перегруженная очередь отвечает
// ErrQueueFull сразу, запрос с превышением частоты ждёт освобождения
// ведра внутри воркера, а не отклоняется.
func (q *Queue) Enqueue(req Request) (*Handle, error) {
	if req.Op == nil {
		return nil, errors.New("запрос без операции")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	req.done = make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if q.pending.Len() >= q.capacity {
		q.mu.Unlock()
		metrics.QueueRejects.Inc()
		return nil, ErrQueueFull
	}
	q.seq++
	req.seq = q.seq
	heap.Push(&q.pending, &req)
	metrics.QueueDepth.Set(float64(q.pending.Len()))
	q.mu.Unlock()

	q.cond.Signal()
	return &Handle{id: req.ID, done: req.done}, nil
}

// Depth возвращает число запросов, ожидающих выполнения.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Close останавливает приём. Начатая работа завершается сама, ещё не
// начатые запросы получают ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for q.pending.Len() > 0 {
		req := heap.Pop(&q.pending).(*Request)
		req.done <- ErrQueueClosed
	}
	metrics.QueueDepth.Set(0)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Wait блокируется, пока все воркеры не завершатся.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		req, ok := q.next()
		if !ok {
			return
		}
		if err := q.limiter.Wait(ctx); err != nil {
			req.done <- err
			continue
		}
		runCtx := ctx
		cancel := context.CancelFunc(func() {})
		if req.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		}
		req.done <- req.Op(runCtx)
		cancel()
	}
}

func (q *Queue) next() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.pending.Len() == 0 {
		return nil, false
	}
	req := heap.Pop(&q.pending).(*Request)
	metrics.QueueDepth.Set(float64(q.pending.Len()))
	return req, true
}

// requestHeap упорядочивает запросы: меньший приоритет первее,
// при равенстве — порядок прибытия (FIFO внутри приоритета).
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*Request)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
