package report

import (
	"time"

	"github.com/goodsign/monday"
	"golang.org/x/text/language"
)

// DefaultLocale is used when no locale is configured or the configured one
// is not supported.
const DefaultLocale = "en-US"

// localeFormat holds the layouts for one supported locale.
type localeFormat struct {
	monday   monday.Locale
	dateTime string // medium date + hour:minute
	date     string // medium date only
}

var supportedTags = []language.Tag{
	language.AmericanEnglish, // first entry is the matcher fallback
	language.German,
	language.French,
	language.Korean,
	language.Japanese,
}

var localeFormats = []localeFormat{
	{monday: monday.LocaleEnUS, dateTime: "Jan 2, 2006, 03:04 PM", date: "Jan 2, 2006"},
	{monday: monday.LocaleDeDE, dateTime: "02.01.2006, 15:04", date: "02.01.2006"},
	{monday: monday.LocaleFrFR, dateTime: "2 Jan 2006, 15:04", date: "2 Jan 2006"},
	{monday: monday.LocaleKoKR, dateTime: "2006. 1. 2. PM 03:04", date: "2006. 1. 2."},
	{monday: monday.LocaleJaJP, dateTime: "2006/01/02 15:04", date: "2006/01/02"},
}

var matcher = language.NewMatcher(supportedTags)

func resolveLocale(tag string) localeFormat {
	t, err := language.Parse(tag)
	if err != nil {
		return localeFormats[0]
	}
	_, idx, conf := matcher.Match(t)
	if conf == language.No || idx < 0 || idx >= len(localeFormats) {
		return localeFormats[0]
	}
	return localeFormats[idx]
}

// FormatDateTime renders t as a medium date followed by hour:minute using
// the conventions of locale (a BCP 47 tag such as "en-US").
func FormatDateTime(t time.Time, locale string) string {
	lf := resolveLocale(locale)
	return monday.Format(t, lf.dateTime, lf.monday)
}

// FormatDate renders t as a medium date without a time component.
func FormatDate(t time.Time, locale string) string {
	lf := resolveLocale(locale)
	return monday.Format(t, lf.date, lf.monday)
}
