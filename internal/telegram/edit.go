package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const editAttempts = 3

// editor is the slice of the bot API the safe-edit path needs. *bot.Bot
// satisfies it.
type editor interface {
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

// safeEdit edits a status message under Telegram's error contract:
// "message is not modified" counts as success, a message that can no longer
// be edited fails silently, rate limits wait out the server-given backoff,
// and anything else is retried once after a short delay. It reports whether
// the message now shows the requested text.
func (h *Handlers) safeEdit(ctx context.Context, e editor, chatID int64, messageID int, text string) bool {
	for attempt := 0; attempt < editAttempts; attempt++ {
		_, err := e.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: messageID,
			Text:      text,
		})
		if err == nil {
			return true
		}

		var tooMany *bot.TooManyRequestsError
		if errors.As(err, &tooMany) {
			h.logger.Warn().Int("retry_after", tooMany.RetryAfter).Msg("telegram: edit rate limited")
			if !sleepCtx(ctx, time.Duration(tooMany.RetryAfter)*time.Second) {
				return false
			}
			continue
		}

		if errors.Is(err, bot.ErrorBadRequest) {
			detail := strings.ToLower(err.Error())
			if strings.Contains(detail, "message is not modified") {
				return true
			}
			if strings.Contains(detail, "message can't be edited") ||
				strings.Contains(detail, "message to edit not found") {
				return false
			}
			h.logger.Error().Err(err).Int("message_id", messageID).Msg("telegram: edit rejected")
			return false
		}

		h.logger.Error().Err(err).Int("message_id", messageID).Msg("telegram: edit failed")
		if attempt < editAttempts-1 {
			if !sleepCtx(ctx, h.editDelay) {
				return false
			}
		}
	}
	return false
}

// sleepCtx waits for d or until the context ends, reporting whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
