// Package telegram реализует отправляющую сторону через Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// Sender — domain.Sender поверх tgbotapi. Все ошибки платформы
// переводятся в типизированные domain.Fault, чтобы классификатор сбоев
// работал с единым словарём.
type Sender struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewSender создаёт отправителя на готовом клиенте Bot API.
func NewSender(bot *tgbotapi.BotAPI, log zerolog.Logger) *Sender {
	return &Sender{bot: bot, log: log}
}

// SendText отправляет текст, разбивая его по лимиту платформы.
func (s *Sender) SendText(ctx context.Context, targetID int64, text string) error {
	start := time.Now()
	var err error
	for _, chunk := range SplitMessage(text) {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		if _, sendErr := s.bot.Send(tgbotapi.NewMessage(targetID, chunk)); sendErr != nil {
			err = sendErr
			break
		}
	}
	metrics.ObserveNetworkRequest("telegram", "send_text", strconv.FormatInt(targetID, 10), start, err)
	return mapError(err)
}

// Forward пересылает сообщение штатно, с атрибуцией источника.
func (s *Sender) Forward(ctx context.Context, targetID int64, ref domain.Ref) error {
	start := time.Now()
	_, err := s.bot.Send(tgbotapi.NewForward(targetID, ref.ChatID, int(ref.MessageID)))
	metrics.ObserveNetworkRequest("telegram", "forward", strconv.FormatInt(targetID, 10), start, err)
	return mapError(err)
}

// Copy копирует сообщение без атрибуции, с переопределением подписи.
func (s *Sender) Copy(ctx context.Context, targetID int64, ref domain.Ref, caption string) error {
	start := time.Now()
	cfg := tgbotapi.NewCopyMessage(targetID, ref.ChatID, int(ref.MessageID))
	cfg.Caption = caption
	_, err := s.bot.Request(cfg)
	metrics.ObserveNetworkRequest("telegram", "copy", strconv.FormatInt(targetID, 10), start, err)
	return mapError(err)
}

// NativeGroupCopy копирует медиагруппу целиком. Без переопределения
// подписи используется групповой метод платформы; платформа не умеет
// менять подпись при групповом копировании, поэтому с новой подписью
// элементы копируются по одному, подпись уходит первому.
func (s *Sender) NativeGroupCopy(ctx context.Context, targetID int64, refs []domain.Ref, caption string) error {
	if len(refs) == 0 {
		return nil
	}
	if caption == "" {
		return s.copyMessages(targetID, refs)
	}
	for i, ref := range refs {
		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		if err := s.Copy(ctx, targetID, ref, itemCaption); err != nil {
			return fmt.Errorf("элемент %d: %w", ref.MessageID, err)
		}
	}
	return nil
}

func (s *Sender) copyMessages(targetID int64, refs []domain.Ref) error {
	start := time.Now()
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.MessageID)
	}
	rawIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("сериализация идентификаторов: %w", err)
	}
	params := tgbotapi.Params{
		"chat_id":      strconv.FormatInt(targetID, 10),
		"from_chat_id": strconv.FormatInt(refs[0].ChatID, 10),
		"message_ids":  string(rawIDs),
	}
	_, err = s.bot.MakeRequest("copyMessages", params)
	metrics.ObserveNetworkRequest("telegram", "copy_messages", strconv.FormatInt(targetID, 10), start, err)
	return mapError(err)
}

// Upload загружает локальный файл как новое сообщение нужного типа.
func (s *Sender) Upload(ctx context.Context, targetID int64, file domain.LocalFile, caption string) error {
	start := time.Now()
	cfg, err := uploadConfig(targetID, file, caption)
	if err != nil {
		return err
	}
	_, err = s.bot.Send(cfg)
	metrics.ObserveNetworkRequest("telegram", "upload", strconv.FormatInt(targetID, 10), start, err)
	return mapError(err)
}

func uploadConfig(targetID int64, file domain.LocalFile, caption string) (tgbotapi.Chattable, error) {
	path := tgbotapi.FilePath(file.Path)
	switch file.Kind {
	case domain.MediaPhoto:
		cfg := tgbotapi.NewPhoto(targetID, path)
		cfg.Caption = caption
		return cfg, nil
	case domain.MediaVideo:
		cfg := tgbotapi.NewVideo(targetID, path)
		cfg.Caption = caption
		return cfg, nil
	case domain.MediaAudio:
		cfg := tgbotapi.NewAudio(targetID, path)
		cfg.Caption = caption
		return cfg, nil
	case domain.MediaAnimation:
		cfg := tgbotapi.NewAnimation(targetID, path)
		cfg.Caption = caption
		return cfg, nil
	case domain.MediaVoice:
		cfg := tgbotapi.NewVoice(targetID, path)
		cfg.Caption = caption
		return cfg, nil
	case domain.MediaVideoNote:
		return tgbotapi.NewVideoNote(targetID, 0, path), nil
	case domain.MediaSticker:
		return tgbotapi.NewSticker(targetID, path), nil
	case domain.MediaDocument, domain.MediaUnknown:
		cfg := tgbotapi.NewDocument(targetID, path)
		cfg.Caption = caption
		return cfg, nil
	}
	return nil, &domain.Fault{Kind: domain.FaultBadRequest, Message: "неизвестный тип вложения: " + string(file.Kind)}
}

// mapError переводит ошибку Bot API в типизированный domain.Fault.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		// Не ответ платформы, а сбой доставки запроса.
		return &domain.Fault{Kind: domain.FaultNetwork, Message: err.Error(), Err: err}
	}
	fault := &domain.Fault{Code: tgErr.Code, Message: tgErr.Message, Err: err}
	switch {
	case tgErr.Code == 429 || tgErr.RetryAfter > 0:
		fault.Kind = domain.FaultFlood
		fault.RetryAfter = time.Duration(tgErr.RetryAfter) * time.Second
	case tgErr.Code == 401:
		fault.Kind = domain.FaultAuth
	case tgErr.Code == 403:
		fault.Kind = domain.FaultPermission
	case capabilityMessage(tgErr.Message):
		fault.Kind = domain.FaultCapability
	case tgErr.Code >= 500:
		fault.Kind = domain.FaultPlatform
	case tgErr.Code == 400:
		fault.Kind = domain.FaultBadRequest
	default:
		fault.Kind = domain.FaultUnknown
	}
	return fault
}

// capabilityMessage распознаёт отказы защиты контента.
func capabilityMessage(message string) bool {
	lowered := strings.ToLower(message)
	for _, marker := range []string{
		"can't be forwarded",
		"can't be copied",
		"protected content",
		"message_cant_be_forwarded",
	} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
