package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/adapters/events"
	"tg-relay-bot/internal/adapters/history"
	"tg-relay-bot/internal/adapters/mtproto"
	"tg-relay-bot/internal/adapters/resolver"
	"tg-relay-bot/internal/adapters/telegram"
	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/cache"
	"tg-relay-bot/internal/infra/config"
	"tg-relay-bot/internal/infra/conn"
	"tg-relay-bot/internal/infra/db"
	relayhttp "tg-relay-bot/internal/infra/http"
	applog "tg-relay-bot/internal/infra/log"
	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/infra/queue"
	"tg-relay-bot/internal/usecase/aggregate"
	"tg-relay-bot/internal/usecase/forward"
	"tg-relay-bot/internal/usecase/monitor"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("relay: не указан адрес БД (PG_DSN)")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: нет подключения к БД")
	}
	defer pool.Close()

	historyRepo := history.NewPostgres(pool)
	if err := historyRepo.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("relay: не удалось подготовить схему истории")
	}

	pairs, err := config.LoadPairs(cfg.PairsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.PairsFile).Msg("relay: не удалось загрузить пары каналов")
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("relay: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: не удалось создать бота")
	}
	sender := telegram.NewSender(botAPI, logger.With().Str("component", "sender").Logger())

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
		logger.Fatal().Msg("relay: не указаны ключи MTProto (TG_API_ID, TG_API_HASH)")
	}
	sink := buildEventSink(cfg, logger)
	client := mtproto.NewClient(
		cfg.Telegram.APIID,
		cfg.Telegram.APIHash,
		cfg.MTProto.SessionFile,
		"",
		sink,
		logger.With().Str("component", "mtproto").Logger(),
	)

	var channelResolver domain.ChannelResolver = client
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		channelResolver = resolver.NewCached(
			client,
			cache.NewRedis(redisClient),
			cfg.Caches.ResolverTTL,
			logger.With().Str("component", "resolver").Logger(),
		)
	}

	requests := queue.New(cfg.Queue.Capacity, cfg.Queue.Workers, cfg.Queue.RPS, cfg.Queue.Burst)
	requests.Start(ctx)

	engine := forward.New(
		sender,
		client,
		client,
		cfg.Caches.CapabilityTTL,
		historyRepo,
		requests,
		sink,
		cfg.Forward.MaxRetries,
		logger.With().Str("component", "forward").Logger(),
	)

	aggregator := aggregate.New(aggregate.Config{
		GraceWindow: cfg.Groups.GraceWindow,
		Staleness:   cfg.Groups.Staleness,
		SweepEvery:  cfg.Groups.SweepEvery,
		MaxItems:    cfg.Groups.MaxItems,
	}, cfg.Caches.DedupSize, sink, logger.With().Str("component", "aggregate").Logger())

	relayMonitor := monitor.New(
		client,
		pairs,
		aggregator,
		engine,
		sink,
		cfg.Caches.DedupSize,
		logger.With().Str("component", "monitor").Logger(),
	)

	manager := conn.New(conn.Config{
		Base:          cfg.Reconnect.Base,
		Multiplier:    cfg.Reconnect.Multiplier,
		Cap:           cfg.Reconnect.Cap,
		MaxFailures:   cfg.Reconnect.MaxFailures,
		ProbeEvery:    cfg.Reconnect.ProbeEvery,
		AutoReconnect: true,
	}, client.Connect, client.Ping, func(state conn.State) {
		_ = sink.Publish(ctx, domain.Event{Type: domain.EventConnectionState, State: state.String()})
	}, logger.With().Str("component", "conn").Logger())

	server := relayhttp.NewServer(
		logger.With().Str("component", "http").Logger(),
		statusSource{manager: manager, requests: requests, aggregator: aggregator},
	)
	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("relay: HTTP сервер остановился")
		}
	}()

	go func() {
		if err := manager.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("relay: менеджер подключения завершился")
			stop()
		}
	}()

	if err := waitConnected(ctx, manager, 30*time.Second); err != nil {
		logger.Fatal().Err(err).Msg("relay: соединение не установилось")
	}
	if err := pairs.ResolveSources(ctx, channelResolver); err != nil {
		logger.Fatal().Err(err).Msg("relay: не удалось разрешить источники")
	}

	logger.Info().Int("pairs", len(pairs.Pairs())).Msg("relay: запуск")
	if err := relayMonitor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("relay: цикл монитора завершился с ошибкой")
	}

	manager.Stop()
	client.Disconnect()
	requests.Close()
	requests.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info().Msg("relay: остановлен")
}

// waitConnected ждёт первого установленного соединения.
func waitConnected(ctx context.Context, manager *conn.Manager, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		switch manager.State() {
		case conn.Connected:
			return nil
		case conn.Error:
			return fmt.Errorf("менеджер подключения в состоянии %s", manager.State())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("соединение не установилось за %s", timeout)
}

func buildEventSink(cfg config.AppConfig, logger zerolog.Logger) domain.EventSink {
	logSink := events.NewLogSink(logger.With().Str("component", "events").Logger())
	if cfg.RabbitURL == "" {
		return logSink
	}
	amqpSink := events.NewAMQPSink(cfg.RabbitURL, cfg.EventsQueue, logger.With().Str("component", "events").Logger())
	return events.NewFanout(logSink, amqpSink)
}

// statusSource агрегирует живые показатели для /status.
type statusSource struct {
	manager    *conn.Manager
	requests   *queue.Queue
	aggregator *aggregate.Aggregator
}

func (s statusSource) ConnectionState() string { return s.manager.State().String() }
func (s statusSource) QueueDepth() int         { return s.requests.Depth() }
func (s statusSource) BufferedGroups() int     { return s.aggregator.Buffered() }
