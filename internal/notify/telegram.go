// Package notify pushes operator-facing events over Telegram. Everything is
// nil-safe so the rest of the system never has to care whether a bot is
// configured.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/rs/zerolog"

	"github.com/KudcraftsHQ/mediacache/internal/asset"
)

type Telegram struct {
	bot    *bot.Bot
	chatID int64
	log    zerolog.Logger
}

func NewTelegram(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	b, err := bot.New(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:    b,
		chatID: chatID,
		log:    log.With().Str("component", "notify").Logger(),
	}, nil
}

// AssetFailed reports an asset that exhausted its retry budget. Send
// failures are logged and dropped; notification is best effort.
func (t *Telegram) AssetFailed(ctx context.Context, a asset.Asset) {
	if t == nil || t.bot == nil {
		return
	}
	text := fmt.Sprintf("media cache FAILED\nasset: %s\norigin: %s\nerror: %s", a.ID, a.OriginalURL, a.LastError)
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		t.log.Warn().Err(err).Str("asset_id", a.ID).Msg("send operator notification")
	}
}
