package mtproto

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// AllowsForward сообщает, разрешает ли канал пересылку своего контента.
func (c *Client) AllowsForward(ctx context.Context, channelID int64) (bool, error) {
	api, err := c.apiReady()
	if err != nil {
		return false, err
	}
	input, err := c.inputChannel(channelID)
	if err != nil {
		return false, err
	}
	start := time.Now()
	chats, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{input})
	metrics.ObserveNetworkRequest("mtproto", "get_channels", strconv.FormatInt(channelID, 10), start, err)
	if err != nil {
		return false, mapRPCError(err)
	}
	for _, chat := range chats.GetChats() {
		if channel, ok := chat.(*tg.Channel); ok && channel.ID == ChannelID(channelID) {
			return !channel.Noforwards, nil
		}
	}
	return false, &domain.Fault{Kind: domain.FaultBadRequest, Message: "канал не найден в ответе"}
}

// Download перечитывает сообщение и скачивает его вложение во временный
// файл. Повторное чтение вместо кэша вложений: ссылки на файлы платформы
// недолговечны, свежие надёжнее.
func (c *Client) Download(ctx context.Context, msg domain.Message) (domain.LocalFile, error) {
	api, err := c.apiReady()
	if err != nil {
		return domain.LocalFile{}, err
	}
	input, err := c.inputChannel(msg.ChatID)
	if err != nil {
		return domain.LocalFile{}, err
	}

	start := time.Now()
	res, err := api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: input,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: int(msg.ID)}},
	})
	metrics.ObserveNetworkRequest("mtproto", "get_messages", strconv.FormatInt(msg.ChatID, 10), start, err)
	if err != nil {
		return domain.LocalFile{}, mapRPCError(err)
	}
	media, err := messageMedia(res, msg.ID)
	if err != nil {
		return domain.LocalFile{}, err
	}
	location, err := fileLocation(media)
	if err != nil {
		return domain.LocalFile{}, err
	}

	path := c.downloadPath(msg.ChatID, msg.ID)
	start = time.Now()
	_, err = downloader.NewDownloader().Download(api, location).ToPath(ctx, path)
	metrics.ObserveNetworkRequest("mtproto", "download", strconv.FormatInt(msg.ChatID, 10), start, err)
	if err != nil {
		return domain.LocalFile{}, mapRPCError(err)
	}
	return domain.LocalFile{Path: path, Kind: msg.Kind}, nil
}

func messageMedia(res tg.MessagesMessagesClass, messageID int64) (tg.MessageMediaClass, error) {
	channelMessages, ok := res.(*tg.MessagesChannelMessages)
	if !ok {
		return nil, &domain.Fault{Kind: domain.FaultPlatform, Message: "неожиданный тип ответа истории"}
	}
	for _, raw := range channelMessages.Messages {
		message, ok := raw.(*tg.Message)
		if !ok || int64(message.ID) != messageID {
			continue
		}
		if message.Media == nil {
			return nil, &domain.Fault{Kind: domain.FaultBadRequest, Message: "у сообщения нет вложения"}
		}
		return message.Media, nil
	}
	return nil, &domain.Fault{Kind: domain.FaultBadRequest, Message: fmt.Sprintf("сообщение %d не найдено", messageID)}
}

// fileLocation собирает адрес файла для скачивания.
func fileLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, &domain.Fault{Kind: domain.FaultBadRequest, Message: "фото недоступно"}
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     largestPhotoSize(photo),
		}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, &domain.Fault{Kind: domain.FaultBadRequest, Message: "документ недоступен"}
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, nil
	}
	return nil, &domain.Fault{Kind: domain.FaultBadRequest, Message: "вложение нельзя скачать"}
}

func largestPhotoSize(photo *tg.Photo) string {
	best := ""
	bestArea := 0
	for _, raw := range photo.Sizes {
		if size, ok := raw.(*tg.PhotoSize); ok {
			if area := size.W * size.H; area > bestArea {
				bestArea = area
				best = size.Type
			}
		}
	}
	if best == "" {
		best = "x"
	}
	return best
}
