package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"photomotion/internal/i18n"
)

// Generation preference presets. Duration is the clip length in seconds.
const (
	DefaultDuration = 5
	QualityStandard = "standard"
	QualityHigh     = "high"
)

var durationChoices = []int{3, 5, 10}

// Prefs is one user's generation settings.
type Prefs struct {
	Duration int
	Quality  string
}

func defaultPrefs() Prefs {
	return Prefs{Duration: DefaultDuration, Quality: QualityStandard}
}

// PrefStore holds per-user settings in memory. Settings reset on restart,
// matching the product's session-scoped behavior.
type PrefStore struct {
	mu     sync.Mutex
	byUser map[int64]Prefs
}

func NewPrefStore() *PrefStore {
	return &PrefStore{byUser: make(map[int64]Prefs)}
}

func (s *PrefStore) Get(userID int64) Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byUser[userID]; ok {
		return p
	}
	return defaultPrefs()
}

func (s *PrefStore) SetDuration(userID int64, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byUser[userID]
	if !ok {
		p = defaultPrefs()
	}
	p.Duration = seconds
	s.byUser[userID] = p
}

func (s *PrefStore) SetQuality(userID int64, quality string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byUser[userID]
	if !ok {
		p = defaultPrefs()
	}
	p.Quality = quality
	s.byUser[userID] = p
}

func (h *Handlers) sendSettings(ctx context.Context, b *bot.Bot, chatID, userID int64, loc *i18n.Locale) {
	prefs := h.prefs.Get(userID)
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        settingsText(loc, prefs),
		ReplyMarkup: settingsKeyboard(loc, prefs),
	})
	if err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("telegram: settings send failed")
	}
}

// handleCallback applies a settings button press and re-renders the menu in
// place. Unknown callback data is answered silently so the client spinner
// always clears.
func (h *Handlers) handleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	userID := cq.From.ID
	loc := h.bundle.Locale(cq.From.LanguageCode)

	applied := false
	key, value, _ := strings.Cut(strings.TrimSpace(cq.Data), ":")
	switch key {
	case "duration":
		if n, err := strconv.Atoi(value); err == nil && allowedDuration(n) {
			h.prefs.SetDuration(userID, n)
			applied = true
		}
	case "quality":
		if value == QualityStandard || value == QualityHigh {
			h.prefs.SetQuality(userID, value)
			applied = true
		}
	}

	answer := ""
	if applied {
		answer = loc.T(i18n.MsgSettingsSaved)
	}
	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            answer,
	}); err != nil {
		h.logger.Warn().Err(err).Msg("telegram: callback answer failed")
	}
	if !applied || cq.Message.Message == nil {
		return
	}

	msg := cq.Message.Message
	prefs := h.prefs.Get(userID)
	_, err := b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      msg.Chat.ID,
		MessageID:   msg.ID,
		Text:        settingsText(loc, prefs),
		ReplyMarkup: settingsKeyboard(loc, prefs),
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("telegram: settings refresh failed")
	}
}

func allowedDuration(seconds int) bool {
	for _, d := range durationChoices {
		if d == seconds {
			return true
		}
	}
	return false
}

func settingsText(loc *i18n.Locale, p Prefs) string {
	return loc.T(i18n.MsgSettingsTitle, p.Duration, qualityLabel(loc, p.Quality))
}

func qualityLabel(loc *i18n.Locale, quality string) string {
	if quality == QualityHigh {
		return loc.T(i18n.MsgQualityHigh)
	}
	return loc.T(i18n.MsgQualityStandard)
}

func settingsKeyboard(loc *i18n.Locale, p Prefs) *models.InlineKeyboardMarkup {
	durations := make([]models.InlineKeyboardButton, 0, len(durationChoices))
	for _, d := range durationChoices {
		durations = append(durations, models.InlineKeyboardButton{
			Text:         marked(loc.T(i18n.MsgBtnDuration, d), p.Duration == d),
			CallbackData: fmt.Sprintf("duration:%d", d),
		})
	}
	qualities := []models.InlineKeyboardButton{
		{
			Text:         marked(loc.T(i18n.MsgQualityStandard), p.Quality == QualityStandard),
			CallbackData: "quality:" + QualityStandard,
		},
		{
			Text:         marked(loc.T(i18n.MsgQualityHigh), p.Quality == QualityHigh),
			CallbackData: "quality:" + QualityHigh,
		},
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{durations, qualities},
	}
}

func marked(label string, selected bool) string {
	if selected {
		return "✅ " + label
	}
	return label
}
