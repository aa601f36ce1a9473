package mtproto

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// Resolve переводит идентификатор источника в числовой ID канала.
// Принимает @username, ссылку t.me и готовый числовой идентификатор.
func (c *Client) Resolve(ctx context.Context, identifier string) (int64, error) {
	username := normalizeIdentifier(identifier)
	if id, err := strconv.ParseInt(username, 10, 64); err == nil {
		return id, nil
	}

	api, err := c.apiReady()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	peer, err := api.ContactsResolveUsername(ctx, username)
	metrics.ObserveNetworkRequest("mtproto", "resolve", username, start, err)
	if err != nil {
		return 0, mapRPCError(err)
	}
	for _, chat := range peer.Chats {
		if channel, ok := chat.(*tg.Channel); ok {
			c.rememberHash(channel.ID, channel.AccessHash)
			return BotChatID(channel.ID), nil
		}
	}
	return 0, &domain.Fault{Kind: domain.FaultBadRequest, Message: "идентификатор не указывает на канал: " + identifier}
}

// DisplayInfo отдаёт отображаемые метаданные канала.
func (c *Client) DisplayInfo(ctx context.Context, channelID int64) (domain.ChannelInfo, error) {
	api, err := c.apiReady()
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	input, err := c.inputChannel(channelID)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	start := time.Now()
	chats, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{input})
	metrics.ObserveNetworkRequest("mtproto", "display_info", strconv.FormatInt(channelID, 10), start, err)
	if err != nil {
		return domain.ChannelInfo{}, mapRPCError(err)
	}
	for _, chat := range chats.GetChats() {
		if channel, ok := chat.(*tg.Channel); ok && channel.ID == ChannelID(channelID) {
			return domain.ChannelInfo{
				ID:    channelID,
				Name:  channel.Username,
				Title: channel.Title,
			}, nil
		}
	}
	return domain.ChannelInfo{}, &domain.Fault{Kind: domain.FaultBadRequest, Message: "канал не найден в ответе"}
}

func normalizeIdentifier(identifier string) string {
	s := strings.TrimSpace(identifier)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	return strings.TrimSuffix(s, "/")
}
