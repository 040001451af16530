// Package telegram wires bot updates to the generation pipeline: command
// dispatch, the photo flow with its live progress edits, the settings menu,
// and the safe-edit contract around Telegram's message API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"photomotion/internal/generate"
	"photomotion/internal/i18n"
	"photomotion/internal/ledger"
	"photomotion/internal/stats"
)

const defaultFileBase = "https://api.telegram.org"

// Archiver stores the bundled artifacts of completed requests. A nil
// Archiver disables archiving.
type Archiver interface {
	Write(ctx context.Context, key string, data []byte) error
}

// Options configures the update handlers.
type Options struct {
	// Service runs generation requests. Required.
	Service *generate.Service
	// Stats backs /start and /stats.
	Stats *stats.Store
	// Ledger holds token balances. Required.
	Ledger ledger.Store
	// Bundle resolves user locales. Required.
	Bundle *i18n.Bundle
	// Archive receives an input-plus-output bundle for every produced video
	// when set.
	Archive Archiver
	// AdminID is the only user allowed to /grant. Zero disables the command.
	AdminID int64
	// VideoCost is the token price per video. Defaults to 1.
	VideoCost int
	// HTTPClient downloads user photos from Telegram's file endpoint.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Handlers is the bot's update handler set. Register Route as the default
// handler; it dispatches on update content the way the original product's
// handler table did.
type Handlers struct {
	svc       *generate.Service
	stats     *stats.Store
	accounts  ledger.Store
	bundle    *i18n.Bundle
	prefs     *PrefStore
	archive   Archiver
	adminID   int64
	videoCost int
	client    *http.Client
	fileBase  string
	editDelay time.Duration
	logger    zerolog.Logger
}

func New(opts Options) (*Handlers, error) {
	if opts.Service == nil {
		return nil, errors.New("telegram: generation service is required")
	}
	if opts.Stats == nil {
		return nil, errors.New("telegram: stats store is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("telegram: ledger is required")
	}
	if opts.Bundle == nil {
		return nil, errors.New("telegram: i18n bundle is required")
	}
	if opts.VideoCost <= 0 {
		opts.VideoCost = 1
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Handlers{
		svc:       opts.Service,
		stats:     opts.Stats,
		accounts:  opts.Ledger,
		bundle:    opts.Bundle,
		prefs:     NewPrefStore(),
		archive:   opts.Archive,
		adminID:   opts.AdminID,
		videoCost: opts.VideoCost,
		client:    opts.HTTPClient,
		fileBase:  defaultFileBase,
		editDelay: time.Second,
		logger:    opts.Logger,
	}, nil
}

// Route dispatches one update. Photos start a generation, slash commands go
// to the command table, callback queries drive the settings menu, and any
// other text gets the "send a photo" reminder.
func (h *Handlers) Route(ctx context.Context, b *bot.Bot, update *models.Update) {
	switch {
	case update == nil:
		return
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, b, update)
	case update.Message == nil || update.Message.From == nil:
		return
	case len(update.Message.Photo) > 0:
		h.handlePhoto(ctx, b, update)
	case strings.HasPrefix(update.Message.Text, "/"):
		h.handleCommand(ctx, b, update)
	case update.Message.Text != "":
		h.handleText(ctx, b, update)
	}
}

func (h *Handlers) handleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	loc := h.bundle.Locale(msg.From.LanguageCode)

	switch cmd {
	case "/start":
		h.sendStart(ctx, b, msg.Chat.ID, loc)
	case "/stats":
		h.sendStats(ctx, b, msg.Chat.ID, loc)
	case "/balance":
		h.sendBalance(ctx, b, msg.Chat.ID, msg.From, loc)
	case "/grant":
		h.handleGrant(ctx, b, msg.Chat.ID, msg.From.ID, fields, loc)
	case "/settings":
		h.sendSettings(ctx, b, msg.Chat.ID, msg.From.ID, loc)
	}
}

func (h *Handlers) sendStart(ctx context.Context, b *bot.Bot, chatID int64, loc *i18n.Locale) {
	avgLine := ""
	if summary := h.stats.Summary(); summary.Count > 0 {
		avgLine = loc.T(i18n.MsgStartAvgLine, loc.FormatDuration(summary.Recent))
	}
	h.send(ctx, b, chatID, loc.T(i18n.MsgStartGreeting, avgLine))
}

func (h *Handlers) sendStats(ctx context.Context, b *bot.Bot, chatID int64, loc *i18n.Locale) {
	summary := h.stats.Summary()
	if summary.Count == 0 {
		h.send(ctx, b, chatID, loc.T(i18n.MsgStatsEmpty))
		return
	}
	h.send(ctx, b, chatID, loc.T(i18n.MsgStatsReport,
		summary.Count,
		loc.FormatDuration(summary.Fastest),
		loc.FormatDuration(summary.Mean),
		loc.FormatDuration(summary.Slowest),
		loc.FormatDuration(summary.Recent),
	))
}

func (h *Handlers) sendBalance(ctx context.Context, b *bot.Bot, chatID int64, from *models.User, loc *i18n.Locale) {
	account, err := h.accounts.Account(ctx, from.ID, profileFrom(from))
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", from.ID).Msg("telegram: balance lookup failed")
		h.send(ctx, b, chatID, loc.T(i18n.MsgErrorGeneric, loc.FormatDuration(0)))
		return
	}
	h.send(ctx, b, chatID, loc.T(i18n.MsgBalanceReport, account.Balance, account.VideoCount))
}

func (h *Handlers) handleGrant(ctx context.Context, b *bot.Bot, chatID, userID int64, fields []string, loc *i18n.Locale) {
	if h.adminID == 0 || userID != h.adminID {
		h.send(ctx, b, chatID, loc.T(i18n.MsgGrantDenied))
		return
	}
	if len(fields) != 3 {
		h.send(ctx, b, chatID, loc.T(i18n.MsgGrantUsage))
		return
	}
	target, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		h.send(ctx, b, chatID, loc.T(i18n.MsgGrantUsage))
		return
	}
	amount, err := strconv.Atoi(fields[2])
	if err != nil || amount <= 0 {
		h.send(ctx, b, chatID, loc.T(i18n.MsgGrantUsage))
		return
	}
	balance, err := h.accounts.AddTokens(ctx, target, amount, ledger.Profile{})
	if err != nil {
		h.logger.Error().Err(err).Int64("target", target).Msg("telegram: grant failed")
		h.send(ctx, b, chatID, loc.T(i18n.MsgErrorGeneric, loc.FormatDuration(0)))
		return
	}
	h.logger.Info().Int64("admin_id", userID).Int64("target", target).Int("amount", amount).Msg("telegram: tokens granted")
	h.send(ctx, b, chatID, loc.T(i18n.MsgGrantDone, amount, target, balance))
}

func (h *Handlers) handleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	loc := h.bundle.Locale(update.Message.From.LanguageCode)
	h.send(ctx, b, update.Message.Chat.ID, loc.T(i18n.MsgPhotoRequired))
}

func (h *Handlers) send(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("telegram: send failed")
	}
}

func profileFrom(from *models.User) ledger.Profile {
	if from == nil {
		return ledger.Profile{}
	}
	return ledger.Profile{Username: from.Username, FirstName: from.FirstName}
}
