// Package events публикует события ядра внешним потребителям.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// AMQPSink публикует события в долговечную очередь RabbitMQ. Потребители
// (телеметрия, панель наблюдения) живут вне ядра.
type AMQPSink struct {
	url   string
	queue string
	log   zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPSink создаёт издателя. Соединение устанавливается лениво и
// переустанавливается после обрыва при следующей публикации.
func NewAMQPSink(url, queue string, log zerolog.Logger) *AMQPSink {
	return &AMQPSink{url: url, queue: queue, log: log}
}

// Publish сериализует событие и кладёт его в очередь.
func (s *AMQPSink) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	channel, err := s.ensureChannel()
	if err != nil {
		return err
	}

	start := time.Now()
	err = channel.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.At,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", s.queue, start, err)
	if err != nil {
		s.reset()
		return fmt.Errorf("публикация события: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.channel = nil
	return err
}

func (s *AMQPSink) ensureChannel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil && !s.conn.IsClosed() {
		return s.channel, nil
	}

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("соединение с rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if _, err := channel.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("объявление очереди: %w", err)
	}
	s.conn = conn
	s.channel = channel
	s.log.Info().Str("queue", s.queue).Msg("events: очередь событий готова")
	return channel, nil
}

func (s *AMQPSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.channel = nil
}
