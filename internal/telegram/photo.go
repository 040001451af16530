package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"photomotion/internal/generate"
	"photomotion/internal/i18n"
	"photomotion/internal/phase"
	"photomotion/internal/providers/comfy"
	"photomotion/pkg/zip"
)

func (h *Handlers) handlePhoto(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	userID := msg.From.ID
	chatID := msg.Chat.ID
	loc := h.bundle.Locale(msg.From.LanguageCode)

	start := time.Now()
	clientID := fmt.Sprintf("telegram_%d_%d", userID, start.UnixMilli())
	logger := h.logger.With().Int64("user_id", userID).Str("client_id", clientID).Logger()
	logger.Info().Msg("telegram: new photo request")

	account, err := h.accounts.Account(ctx, userID, profileFrom(msg.From))
	if err != nil {
		logger.Error().Err(err).Msg("telegram: ledger unavailable")
		h.send(ctx, b, chatID, loc.T(i18n.MsgErrorGeneric, loc.FormatDuration(time.Since(start))))
		return
	}
	if account.Balance < h.videoCost {
		logger.Info().Int("balance", account.Balance).Int("cost", h.videoCost).Msg("telegram: insufficient tokens")
		h.send(ctx, b, chatID, loc.T(i18n.MsgInsufficientTokens, h.videoCost, account.Balance))
		return
	}

	status, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: loc.T(i18n.MsgReceivingImage)})
	if err != nil {
		logger.Error().Err(err).Msg("telegram: status message failed")
		return
	}

	// Telegram orders photo sizes ascending, so the last entry is the
	// largest rendition.
	photo := msg.Photo[len(msg.Photo)-1]
	image, err := h.downloadPhoto(ctx, b, photo.FileID)
	if err != nil {
		logger.Error().Err(err).Msg("telegram: photo download failed")
		h.safeEdit(ctx, b, chatID, status.ID, loc.T(i18n.MsgErrorGeneric, loc.FormatDuration(time.Since(start))))
		return
	}
	logger.Info().Int("bytes", len(image)).Msg("telegram: photo downloaded")

	h.safeEdit(ctx, b, chatID, status.ID, loc.T(i18n.MsgSendingToServer))

	req := generate.Request{
		ClientID:    clientID,
		Image:       image,
		SubmittedAt: start,
	}
	// The stock workflow already runs with these defaults; only explicit
	// non-default choices ride along as parameter overrides.
	prefs := h.prefs.Get(userID)
	if prefs.Duration != DefaultDuration {
		req.Duration = &comfy.Param{Value: prefs.Duration}
	}
	if prefs.Quality != QualityStandard {
		req.Quality = &comfy.Param{Value: prefs.Quality}
	}

	onProgress := func(snap phase.Snapshot, ratio float64, remaining time.Duration) {
		h.safeEdit(ctx, b, chatID, status.ID, renderProgress(loc, snap, ratio, remaining))
	}

	result, err := h.svc.Run(ctx, req, onProgress)
	elapsed := time.Since(start)
	if err != nil {
		h.safeEdit(ctx, b, chatID, status.ID, failureText(loc, err, elapsed))
		return
	}

	if spent, err := h.accounts.SpendTokens(ctx, userID, h.videoCost); err != nil {
		logger.Error().Err(err).Msg("telegram: token spend failed")
	} else if !spent {
		// The balance was drained by a concurrent request after the gate
		// check. The video exists, so deliver it anyway.
		logger.Warn().Msg("telegram: balance drained mid-request")
	}
	if err := h.accounts.IncrementVideoCount(ctx, userID); err != nil {
		logger.Error().Err(err).Msg("telegram: video count update failed")
	}
	h.archiveVideo(ctx, clientID, image, result, logger)

	h.safeEdit(ctx, b, chatID, status.ID, loc.T(i18n.MsgDoneUploading, loc.FormatDuration(result.Elapsed)))

	filename := "video.mp4"
	if result.Format != "" {
		filename = "video." + result.Format
	}
	_, err = b.SendVideo(ctx, &bot.SendVideoParams{
		ChatID:  chatID,
		Video:   &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(result.Video)},
		Caption: loc.T(i18n.MsgVideoCaption, loc.FormatDuration(result.Elapsed)),
	})
	if err != nil {
		logger.Error().Err(err).Msg("telegram: video upload failed")
		h.safeEdit(ctx, b, chatID, status.ID, loc.T(i18n.MsgErrorGeneric, loc.FormatDuration(time.Since(start))))
		return
	}

	if _, err := b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: status.ID}); err != nil {
		logger.Warn().Err(err).Msg("telegram: status cleanup failed")
	}
	logger.Info().Dur("elapsed", elapsed).Int("bytes", len(result.Video)).Msg("telegram: video delivered")
}

// failureText maps a generation error to the user-facing failure message.
func failureText(loc *i18n.Locale, err error, elapsed time.Duration) string {
	when := loc.FormatDuration(elapsed)
	var statusErr *comfy.StatusError
	switch {
	case errors.Is(err, generate.ErrTimedOut):
		return loc.T(i18n.MsgTimedOut, when)
	case errors.As(err, &statusErr):
		return loc.T(i18n.MsgFailed, loc.T(i18n.MsgServerError, statusErr.Code), when)
	case errors.Is(err, generate.ErrDownloadFailed):
		return loc.T(i18n.MsgFailed, loc.T(i18n.MsgFailedNoVideo), when)
	default:
		return loc.T(i18n.MsgErrorGeneric, when)
	}
}

func (h *Handlers) downloadPhoto(ctx context.Context, b *bot.Bot, fileID string) ([]byte, error) {
	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	url := fmt.Sprintf("%s/file/bot%s/%s", h.fileBase, b.Token(), file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file endpoint status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// archiveVideo stores the source image next to the produced video so an
// operator can replay a request later.
func (h *Handlers) archiveVideo(ctx context.Context, clientID string, image []byte, result generate.Result, logger zerolog.Logger) {
	if h.archive == nil {
		return
	}
	ext := result.Format
	if ext == "" {
		ext = "mp4"
	}
	bundle, err := zip.Bundle([]zip.File{
		{Name: "input.jpg", Data: image},
		{Name: "video." + ext, Data: result.Video},
	})
	if err != nil {
		logger.Error().Err(err).Msg("telegram: archive bundle failed")
		return
	}
	key := clientID + ".zip"
	if err := h.archive.Write(ctx, key, bundle); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("telegram: archive write failed")
	}
}
