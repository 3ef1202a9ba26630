package tasks

import (
	"time"

	"go.uber.org/zap"

	"github.com/linecraftx/linecraft-bot/internal/telegram"
)

// withChatAction keeps a chat presence indicator alive while fn runs. Telegram
// drops the indicator after ~5s, so it is re-sent on an interval; the first
// send happens immediately. The repeating sender is always stopped when fn
// settles, whether it returns nil or an error.
func withChatAction(tg telegram.Client, logger *zap.Logger, chatID int64, action string, interval time.Duration, fn func() error) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := tg.SendChatAction(chatID, action); err != nil {
					logger.Warn("Failed to send chat action",
						zap.Error(err),
						zap.Int64("chat_id", chatID))
				}
			}
		}
	}()

	if err := tg.SendChatAction(chatID, action); err != nil {
		logger.Warn("Failed to send chat action",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}

	return fn()
}
