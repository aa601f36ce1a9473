// Package conn реализует машину состояний подключения к платформе:
// переподключение с экспоненциальной выдержкой, потолок последовательных
// отказов и периодическую проверку живости.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/usecase/faultclass"
)

// State — состояние подключения.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	// Error терминально до ручного Reset: потолок отказов исчерпан либо
	// требуется вмешательство оператора.
	Error
	// Stopping терминально и намеренно: дальнейшие переподключения подавлены.
	Stopping
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Reconnecting: "reconnecting",
	Error:        "error",
	Stopping:     "stopping",
}

// String возвращает имя состояния.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Metrics — счётчики подключения.
type Metrics struct {
	ConnectCount        int
	ReconnectCount      int
	ConsecutiveFailures int
	LastConnectedAt     time.Time
}

// Config — параметры переподключения.
type Config struct {
	Base        time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxFailures int
	ProbeEvery  time.Duration
	// AutoReconnect выключается только в тестах и при ручном управлении.
	AutoReconnect bool
}

// Manager ведёт жизненный цикл подключения. Dial устанавливает сессию,
// Probe — лёгкая проверка живости, ловящая тихие обрывы.
type Manager struct {
	dial    func(ctx context.Context) error
	probe   func(ctx context.Context) error
	onState func(State)
	cfg     Config
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	metrics Metrics

	backoff *backoff.ExponentialBackOff
	sleep   func(ctx context.Context, d time.Duration) error
	stopCh  chan struct{}
	stopped sync.Once
}

// ErrFailuresExhausted — потолок последовательных отказов исчерпан.
var ErrFailuresExhausted = errors.New("потолок отказов подключения исчерпан")

// New создаёт менеджер. onState вызывается на каждом переходе.
func New(cfg Config, dial, probe func(ctx context.Context) error, onState func(State), log zerolog.Logger) *Manager {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Base
	exp.Multiplier = cfg.Multiplier
	exp.MaxInterval = cfg.Cap
	// Детерминированная сетка выдержек: base × multiplier^attempt с потолком.
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Manager{
		dial:    dial,
		probe:   probe,
		onState: onState,
		cfg:     cfg,
		log:     log,
		state:   Disconnected,
		backoff: exp,
		sleep:   sleepCtx,
		stopCh:  make(chan struct{}),
	}
}

// State возвращает текущее состояние.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot возвращает копию счётчиков.
func (m *Manager) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Stop переводит менеджер в Stopping и подавляет переподключения.
func (m *Manager) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
}

// Reset выводит менеджер из терминального Error вручную.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.state == Error {
		m.state = Disconnected
		m.metrics.ConsecutiveFailures = 0
		m.backoff.Reset()
	}
	m.mu.Unlock()
}

// Run ведёт подключение до Stop, отмены контекста или терминального Error.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if m.halted(ctx) {
			m.setState(Stopping)
			return nil
		}
		m.setState(Connecting)
		err := m.dial(ctx)
		if m.halted(ctx) {
			m.setState(Stopping)
			return nil
		}
		if err == nil {
			m.connected()
			err = m.probeLoop(ctx)
			if err == nil {
				m.setState(Stopping)
				return nil
			}
			// Тихий обрыв или отказ во время сессии: фиксируем простой.
			m.setState(Disconnected)
		} else {
			m.setState(Disconnected)
		}

		m.mu.Lock()
		m.metrics.ConsecutiveFailures++
		failures := m.metrics.ConsecutiveFailures
		m.mu.Unlock()

		decision := faultclass.Classify(err)
		if decision.Strategy == faultclass.StrategyRequireIntervention {
			m.log.Error().Err(err).Str("category", string(decision.Category)).
				Msg("conn: требуется вмешательство оператора")
			m.setState(Error)
			return err
		}
		if !m.cfg.AutoReconnect || failures > m.cfg.MaxFailures {
			m.log.Error().Err(err).Int("failures", failures).
				Msg("conn: потолок отказов исчерпан")
			m.setState(Error)
			return ErrFailuresExhausted
		}

		m.setState(Reconnecting)
		metrics.Reconnects.Inc()
		m.mu.Lock()
		m.metrics.ReconnectCount++
		m.mu.Unlock()

		delay := m.backoff.NextBackOff()
		if decision.Wait > delay {
			delay = decision.Wait
		}
		m.log.Warn().Err(err).Dur("delay", delay).Int("attempt", failures).
			Msg("conn: переподключение после выдержки")
		if err := m.sleep(ctx, delay); err != nil {
			m.setState(Stopping)
			return nil
		}
	}
}

func (m *Manager) connected() {
	m.mu.Lock()
	m.state = Connected
	m.metrics.ConnectCount++
	m.metrics.ConsecutiveFailures = 0
	m.metrics.LastConnectedAt = time.Now()
	// Каждое успешное подключение возвращает выдержку к базе.
	m.backoff.Reset()
	m.mu.Unlock()
	m.notify(Connected)
	m.log.Info().Msg("conn: подключение установлено")
}

// probeLoop возвращает nil при остановке и ошибку при отказе живости.
func (m *Manager) probeLoop(ctx context.Context) error {
	if m.probe == nil || m.cfg.ProbeEvery <= 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		}
	}
	ticker := time.NewTicker(m.cfg.ProbeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		case <-ticker.C:
			if err := m.probe(ctx); err != nil {
				m.log.Warn().Err(err).Msg("conn: проверка живости провалилась")
				return err
			}
		}
	}
}

func (m *Manager) halted(ctx context.Context) bool {
	select {
	case <-m.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (m *Manager) setState(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()
	m.notify(next)
}

func (m *Manager) notify(state State) {
	metrics.ConnectionState.Set(float64(state))
	if m.onState != nil {
		m.onState(state)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
