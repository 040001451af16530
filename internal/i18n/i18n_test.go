package i18n

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"
)

func TestLocaleMatching(t *testing.T) {
	bundle := NewBundle()

	cases := []struct {
		code string
		want language.Tag
	}{
		{"ru", language.Russian},
		{"ru-RU", language.Russian},
		{"en", language.English},
		{"en-US", language.English},
		{"de", language.English},
		{"", language.English},
	}
	for _, tc := range cases {
		if got := bundle.Locale(tc.code).Tag(); got != tc.want {
			t.Errorf("Locale(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestRussianCatalogKeepsOriginalWording(t *testing.T) {
	locale := NewBundle().Locale("ru")

	if got := locale.T(MsgPhotoRequired); !strings.Contains(got, "Пожалуйста, отправьте фото") {
		t.Fatalf("photo message = %q", got)
	}
	if got := locale.T(MsgVideoCaption, "45с"); got != "🎬 Ваше видео готово!\n⏱ Обработано за 45с" {
		t.Fatalf("caption = %q", got)
	}
}

func TestSprintfArgs(t *testing.T) {
	locale := NewBundle().Locale("en")

	got := locale.T(MsgGrantDone, 5, int64(42), 15)
	if got != "✅ Granted 5 tokens to user 42. New balance: 15" {
		t.Fatalf("grant message = %q", got)
	}
}

func TestMissingKeyRendersAsItself(t *testing.T) {
	locale := NewBundle().Locale("en")
	if got := locale.T("no_such_key"); got != "no_such_key" {
		t.Fatalf("missing key = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	en := NewBundle().Locale("en")
	ru := NewBundle().Locale("ru")

	cases := []struct {
		d      time.Duration
		wantEN string
		wantRU string
	}{
		{45 * time.Second, "45s", "45с"},
		{95 * time.Second, "1m 35s", "1м 35с"},
		{2*time.Hour + 5*time.Minute, "2h 5m", "2ч 5м"},
		{-3 * time.Second, "0s", "0с"},
	}
	for _, tc := range cases {
		if got := en.FormatDuration(tc.d); got != tc.wantEN {
			t.Errorf("en FormatDuration(%v) = %q, want %q", tc.d, got, tc.wantEN)
		}
		if got := ru.FormatDuration(tc.d); got != tc.wantRU {
			t.Errorf("ru FormatDuration(%v) = %q, want %q", tc.d, got, tc.wantRU)
		}
	}
}

func TestFormatETABands(t *testing.T) {
	locale := NewBundle().Locale("en")

	if got := locale.FormatETA(5 * time.Second); got != "almost done" {
		t.Fatalf("eta under 10s = %q", got)
	}
	if got := locale.FormatETA(42 * time.Second); got != "~42s" {
		t.Fatalf("eta under 60s = %q", got)
	}
	if got := locale.FormatETA(95 * time.Second); got != "~1m 35s" {
		t.Fatalf("eta over 60s = %q", got)
	}
}

func TestEveryEnglishKeyHasRussian(t *testing.T) {
	for key := range english {
		if _, ok := russian[key]; !ok {
			t.Errorf("russian catalog missing %q", key)
		}
	}
	for key := range russian {
		if _, ok := english[key]; !ok {
			t.Errorf("english catalog missing %q", key)
		}
	}
}
