// Package history хранит записи о доставленных сообщениях.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tg-relay-bot/internal/infra/metrics"
)

// Postgres реализует domain.HistoryRepo на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицу истории, если её ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS forwarded_messages (
			source_id    BIGINT      NOT NULL,
			message_id   BIGINT      NOT NULL,
			target_id    BIGINT      NOT NULL,
			delivered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source_id, message_id, target_id)
		)`)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "forwarded_messages", start, err)
	if err != nil {
		return fmt.Errorf("создание схемы истории: %w", err)
	}
	return nil
}

// IsDelivered сообщает, доставлялось ли сообщение в направление ранее.
func (p *Postgres) IsDelivered(ctx context.Context, sourceID, messageID, targetID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM forwarded_messages
			WHERE source_id = $1 AND message_id = $2 AND target_id = $3
		)`, sourceID, messageID, targetID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "history_is_delivered", "forwarded_messages", start, err)
	if err != nil {
		return false, fmt.Errorf("проверка истории доставки: %w", err)
	}
	return exists, nil
}

// RecordDelivered фиксирует успешную доставку. Повторная запись той же
// тройки безвредна: при падении между отправкой и записью доставка
// повторится, но не потеряется.
func (p *Postgres) RecordDelivered(ctx context.Context, sourceID, messageID, targetID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO forwarded_messages (source_id, message_id, target_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id, message_id, target_id) DO NOTHING`,
		sourceID, messageID, targetID)
	metrics.ObserveNetworkRequest("postgres", "history_record", "forwarded_messages", start, err)
	if err != nil {
		return fmt.Errorf("запись истории доставки: %w", err)
	}
	return nil
}
