package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/centromex/rental-bot/internal/notify"
)

// ChatDirectory lists the chats the bot has seen submissions in.
type ChatDirectory interface {
	ListChats(ctx context.Context) ([]int64, error)
	HasOrigin(ctx context.Context, chatID, messageID int64) (bool, error)
}

// Resolver finds the chat a message was posted in. Telegram cannot look a
// message up by ID, so it scans the known chats for a recorded origin and
// checks the bot can still reach the chat.
type Resolver struct {
	api    API
	chats  ChatDirectory
	logger Logger
}

// NewResolver returns a resolver over the chats in dir, probing them through api.
func NewResolver(api API, chats ChatDirectory, logger Logger) *Resolver {
	return &Resolver{api: api, chats: chats, logger: logger}
}

// Resolve returns the first accessible chat that recorded messageID, or
// notify.ErrTargetNotFound.
func (r *Resolver) Resolve(ctx context.Context, messageID int64) (notify.Target, error) {
	chats, err := r.chats.ListChats(ctx)
	if err != nil {
		return notify.Target{}, fmt.Errorf("list chats: %w", err)
	}

	for _, chatID := range chats {
		if err := ctx.Err(); err != nil {
			return notify.Target{}, err
		}
		ok, err := r.chats.HasOrigin(ctx, chatID, messageID)
		if err != nil {
			return notify.Target{}, fmt.Errorf("look up message %d in chat %d: %w", messageID, chatID, err)
		}
		if !ok {
			continue
		}

		_, err = r.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
		if isForbidden(err) {
			r.logger.Printf("[bot] no permission to access chat %d", chatID)
			continue
		}
		if err != nil {
			return notify.Target{}, fmt.Errorf("get chat %d: %w", chatID, err)
		}
		return notify.Target{ChatID: chatID, MessageID: int(messageID)}, nil
	}
	return notify.Target{}, notify.ErrTargetNotFound
}

func isForbidden(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden
}
