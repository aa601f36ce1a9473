// Package mtproto реализует принимающую сторону: живой поток сообщений
// каналов, скачивание вложений и разрешение идентификаторов через
// клиентский протокол.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// ErrNotAuthorized — файл сессии отсутствует или устарел; нужен
// интерактивный вход отдельной утилитой.
var ErrNotAuthorized = errors.New("mtproto: сессия не авторизована")

var errNoAccessHash = errors.New("mtproto: канал ещё не встречался, нет access hash")

// Client держит MTProto соединение и реализует domain.Subscriber,
// domain.Downloader, domain.CapabilityChecker и domain.ChannelResolver.
type Client struct {
	client *telegram.Client
	events domain.EventSink
	log    zerolog.Logger

	mu     sync.Mutex
	api    *tg.Client
	hashes map[int64]int64
	watch  map[int64]struct{}
	stream chan domain.Message
	cancel context.CancelFunc

	downloadDir string
}

// NewClient создаёт клиента на файловой сессии. events получает событие
// о каждом сообщении, потерянном на переполненном приёмном потоке.
func NewClient(apiID int, apiHash, sessionFile, downloadDir string, events domain.EventSink, log zerolog.Logger) *Client {
	c := &Client{
		events:      events,
		log:         log,
		hashes:      make(map[int64]int64),
		watch:       make(map[int64]struct{}),
		stream:      make(chan domain.Message, 64),
		downloadDir: downloadDir,
	}
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(c.onNewChannelMessage)
	c.client = telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionFile},
		UpdateHandler:  dispatcher,
	})
	return c
}

// Connect устанавливает соединение и возвращает управление, когда клиент
// готов принимать обновления. Само соединение живёт в фоне до Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	// Предыдущая сессия, если была, гасится до нового набора.
	c.Disconnect()

	ready := make(chan error, 1)
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.cancel = cancel
	c.api = nil
	c.mu.Unlock()

	go func() {
		err := c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("статус авторизации: %w", err)
			}
			if !status.Authorized {
				return ErrNotAuthorized
			}
			c.mu.Lock()
			c.api = c.client.API()
			c.mu.Unlock()
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case ready <- err:
		default:
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msg("mtproto: соединение завершилось с ошибкой")
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return mapRPCError(err)
		}
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Disconnect разрывает соединение. Повторный вызов безопасен.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Ping проверяет живость соединения лёгким запросом.
func (c *Client) Ping(ctx context.Context) error {
	api, err := c.apiReady()
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = api.HelpGetNearestDC(ctx)
	metrics.ObserveNetworkRequest("mtproto", "ping", "dc", start, err)
	return mapRPCError(err)
}

func (c *Client) apiReady() (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil, &domain.Fault{Kind: domain.FaultNetwork, Message: "соединение не установлено"}
	}
	return c.api, nil
}

func (c *Client) rememberHash(channelID, accessHash int64) {
	c.mu.Lock()
	c.hashes[channelID] = accessHash
	c.mu.Unlock()
}

func (c *Client) inputChannel(botChatID int64) (*tg.InputChannel, error) {
	channelID := ChannelID(botChatID)
	c.mu.Lock()
	hash, ok := c.hashes[channelID]
	c.mu.Unlock()
	if !ok {
		return nil, errNoAccessHash
	}
	return &tg.InputChannel{ChannelID: channelID, AccessHash: hash}, nil
}

// mapRPCError переводит ошибку MTProto в типизированный domain.Fault.
func mapRPCError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotAuthorized) {
		return &domain.Fault{Kind: domain.FaultAuth, Message: err.Error(), Err: err}
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &domain.Fault{Kind: domain.FaultFlood, Message: err.Error(), RetryAfter: wait, Err: err}
	}
	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		fault := &domain.Fault{Code: rpc.Code, Message: rpc.Type, Err: err}
		switch {
		case rpc.Code == 401:
			fault.Kind = domain.FaultAuth
		case rpc.Type == "CHANNEL_PRIVATE" || rpc.Type == "CHAT_WRITE_FORBIDDEN":
			fault.Kind = domain.FaultPermission
		case rpc.Code >= 500:
			fault.Kind = domain.FaultPlatform
		case rpc.Code == 400:
			fault.Kind = domain.FaultBadRequest
		default:
			fault.Kind = domain.FaultUnknown
		}
		return fault
	}
	return &domain.Fault{Kind: domain.FaultNetwork, Message: err.Error(), Err: err}
}

func (c *Client) downloadPath(chatID, messageID int64) string {
	dir := c.downloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("relay-%d-%d", -chatID, messageID))
}
