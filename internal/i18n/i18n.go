// Package i18n holds the bot's message catalogs. Locales are matched from
// the Telegram language_code; unknown languages fall back to English. The
// Russian wording follows the product's original strings.
package i18n

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// Message ids.
const (
	MsgStartGreeting      = "start_greeting"
	MsgStartAvgLine       = "start_avg_line"
	MsgStatsEmpty         = "stats_empty"
	MsgStatsReport        = "stats_report"
	MsgReceivingImage     = "receiving_image"
	MsgSendingToServer    = "sending_to_server"
	MsgProgressFrame      = "progress_frame"
	MsgProgressQueueLine  = "progress_queue_line"
	MsgPhaseSubmitting    = "phase_submitting"
	MsgPhaseQueued        = "phase_queued"
	MsgPhaseGenerating    = "phase_generating"
	MsgPhaseDownloading   = "phase_downloading"
	MsgETAAlmostDone      = "eta_almost_done"
	MsgETASeconds         = "eta_seconds"
	MsgETAMinutes         = "eta_minutes"
	MsgTimeSeconds        = "time_seconds"
	MsgTimeMinutes        = "time_minutes"
	MsgTimeHours          = "time_hours"
	MsgDoneUploading      = "done_uploading"
	MsgVideoCaption       = "video_caption"
	MsgFailed             = "failed"
	MsgFailedNoVideo      = "failed_no_video"
	MsgServerError        = "server_error"
	MsgTimedOut           = "timed_out"
	MsgErrorGeneric       = "error_generic"
	MsgPhotoRequired      = "photo_required"
	MsgBalanceReport      = "balance_report"
	MsgInsufficientTokens = "insufficient_tokens"
	MsgGrantUsage         = "grant_usage"
	MsgGrantDenied        = "grant_denied"
	MsgGrantDone          = "grant_done"
	MsgSettingsTitle      = "settings_title"
	MsgSettingsSaved      = "settings_saved"
	MsgQualityStandard    = "quality_standard"
	MsgQualityHigh        = "quality_high"
	MsgBtnDuration        = "btn_duration"
)

type catalog map[string]string

var english = catalog{
	MsgStartGreeting:      "👋 Hi! I turn photos into videos.\n\n📸 Just send me any image,\nand I'll transform it into a video!%s\n\n💡 /stats shows processing statistics",
	MsgStartAvgLine:       "\n\n📊 Average time: %s",
	MsgStatsEmpty:         "📊 No statistics yet.\nSend a photo to get started!",
	MsgStatsReport:        "📊 Processing statistics (%d videos):\n\n⚡ Fastest: %s\n📈 Average: %s\n🐌 Slowest: %s\n🔄 Last 10: %s",
	MsgReceivingImage:     "🔄 Receiving your image...",
	MsgSendingToServer:    "📤 Sending to the server...",
	MsgProgressFrame:      "%s %s...\n\n📊 [%s] %d%%\n⏱ Elapsed: %s\n🎯 Remaining: %s",
	MsgProgressQueueLine:  "\n👥 Queue position: %d",
	MsgPhaseSubmitting:    "Submitting",
	MsgPhaseQueued:        "Waiting in queue",
	MsgPhaseGenerating:    "Creating your video",
	MsgPhaseDownloading:   "Downloading your video",
	MsgETAAlmostDone:      "almost done",
	MsgETASeconds:         "~%ds",
	MsgETAMinutes:         "~%dm %ds",
	MsgTimeSeconds:        "%ds",
	MsgTimeMinutes:        "%dm %ds",
	MsgTimeHours:          "%dh %dm",
	MsgDoneUploading:      "✅ Done in %s!\n📤 Uploading your video...",
	MsgVideoCaption:       "🎬 Your video is ready!\n⏱ Processed in %s",
	MsgFailed:             "❌ %s\n⏱ Time: %s\n\nTry again or contact the administrator.",
	MsgFailedNoVideo:      "Could not get the video",
	MsgServerError:        "Server error (HTTP %d)",
	MsgTimedOut:           "⏰ The request timed out\n⏱ Time: %s\n\nPlease try again.",
	MsgErrorGeneric:       "❌ Something went wrong\n⏱ Time: %s\n\nPlease try again.",
	MsgPhotoRequired:      "📸 Please send a photo!\nI only work with images.",
	MsgBalanceReport:      "💰 Balance: %d tokens\n🎬 Videos created: %d",
	MsgInsufficientTokens: "💸 Not enough tokens: this video costs %d, you have %d.\nContact the administrator.",
	MsgGrantUsage:         "Usage: /grant <user_id> <amount>",
	MsgGrantDenied:        "⛔ This command is admin-only.",
	MsgGrantDone:          "✅ Granted %d tokens to user %d. New balance: %d",
	MsgSettingsTitle:      "⚙️ Settings\n\n⏳ Duration: %d s\n✨ Quality: %s",
	MsgSettingsSaved:      "Saved",
	MsgQualityStandard:    "standard",
	MsgQualityHigh:        "high",
	MsgBtnDuration:        "⏳ %d s",
}

var russian = catalog{
	MsgStartGreeting:      "👋 Привет! Я создаю видео из фотографий.\n\n📸 Просто отправьте любое изображение,\nи я преобразую его в видео!%s\n\n💡 Команда /stats покажет статистику",
	MsgStartAvgLine:       "\n\n📊 Среднее время: %s",
	MsgStatsEmpty:         "📊 Статистика пока пуста.\nОтправьте фото для начала!",
	MsgStatsReport:        "📊 Статистика обработки (%d видео):\n\n⚡ Быстрее всего: %s\n📈 В среднем: %s\n🐌 Дольше всего: %s\n🔄 Последние 10: %s",
	MsgReceivingImage:     "🔄 Получаю изображение...",
	MsgSendingToServer:    "📤 Отправляю на сервер...",
	MsgProgressFrame:      "%s %s...\n\n📊 [%s] %d%%\n⏱ Прошло: %s\n🎯 Осталось: %s",
	MsgProgressQueueLine:  "\n👥 В очереди: %d",
	MsgPhaseSubmitting:    "Отправляю",
	MsgPhaseQueued:        "Жду в очереди",
	MsgPhaseGenerating:    "Создаю видео",
	MsgPhaseDownloading:   "Скачиваю видео",
	MsgETAAlmostDone:      "почти готово",
	MsgETASeconds:         "~%dс",
	MsgETAMinutes:         "~%dм %dс",
	MsgTimeSeconds:        "%dс",
	MsgTimeMinutes:        "%dм %dс",
	MsgTimeHours:          "%dч %dм",
	MsgDoneUploading:      "✅ Готово за %s!\n📤 Отправляю видео...",
	MsgVideoCaption:       "🎬 Ваше видео готово!\n⏱ Обработано за %s",
	MsgFailed:             "❌ %s\n⏱ Время: %s\n\nПопробуйте еще раз или обратитесь к администратору.",
	MsgFailedNoVideo:      "Не удалось получить видео",
	MsgServerError:        "Ошибка сервера (HTTP %d)",
	MsgTimedOut:           "⏰ Превышено время ожидания\n⏱ Время: %s\n\nПопробуйте еще раз.",
	MsgErrorGeneric:       "❌ Произошла ошибка\n⏱ Время: %s\n\nПопробуйте еще раз.",
	MsgPhotoRequired:      "📸 Пожалуйста, отправьте фото!\nЯ работаю только с изображениями.",
	MsgBalanceReport:      "💰 Баланс: %d токенов\n🎬 Создано видео: %d",
	MsgInsufficientTokens: "💸 Недостаточно токенов: видео стоит %d, у вас %d.\nОбратитесь к администратору.",
	MsgGrantUsage:         "Использование: /grant <user_id> <количество>",
	MsgGrantDenied:        "⛔ Команда доступна только администратору.",
	MsgGrantDone:          "✅ Начислено %d токенов пользователю %d. Новый баланс: %d",
	MsgSettingsTitle:      "⚙️ Настройки\n\n⏳ Длительность: %d с\n✨ Качество: %s",
	MsgSettingsSaved:      "Сохранено",
	MsgQualityStandard:    "стандартное",
	MsgQualityHigh:        "высокое",
	MsgBtnDuration:        "⏳ %d с",
}

// supported lists the catalog languages; the first entry is the fallback.
var supported = []language.Tag{language.English, language.Russian}

// Bundle resolves locales for incoming updates.
type Bundle struct {
	matcher  language.Matcher
	catalogs map[language.Tag]catalog
}

// NewBundle builds the bundle with the English and Russian catalogs.
func NewBundle() *Bundle {
	return &Bundle{
		matcher: language.NewMatcher(supported),
		catalogs: map[language.Tag]catalog{
			language.English: english,
			language.Russian: russian,
		},
	}
}

// Locale matches a Telegram language_code ("ru", "ru-RU", "en", ...) against
// the supported languages.
func (b *Bundle) Locale(code string) *Locale {
	_, index := language.MatchStrings(b.matcher, code)
	tag := supported[index]
	return &Locale{tag: tag, messages: b.catalogs[tag]}
}

// Locale is one user's resolved language.
type Locale struct {
	tag      language.Tag
	messages catalog
}

// Tag reports the matched language.
func (l *Locale) Tag() language.Tag {
	return l.tag
}

// T formats the message identified by key. A key missing from this catalog
// falls back to English; a key missing everywhere renders as itself so the
// gap is visible instead of silent.
func (l *Locale) T(key string, args ...any) string {
	format, ok := l.messages[key]
	if !ok {
		format, ok = english[key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// FormatDuration renders a duration the way the bot displays elapsed and
// processing times: seconds under a minute, minutes and seconds under an
// hour, hours and minutes beyond.
func (l *Locale) FormatDuration(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return l.T(MsgTimeSeconds, seconds)
	case seconds < 3600:
		return l.T(MsgTimeMinutes, seconds/60, seconds%60)
	default:
		return l.T(MsgTimeHours, seconds/3600, (seconds%3600)/60)
	}
}

// FormatETA renders the remaining-time estimate: "almost done" under 10
// seconds, seconds under a minute, minutes and seconds beyond.
func (l *Locale) FormatETA(remaining time.Duration) string {
	seconds := int(remaining.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 10:
		return l.T(MsgETAAlmostDone)
	case seconds < 60:
		return l.T(MsgETASeconds, seconds)
	default:
		return l.T(MsgETAMinutes, seconds/60, seconds%60)
	}
}
