// Package polishtime converts the localized date strings OLX renders on
// listing cards ("Dzisiaj o 22:01", "07 stycznia 2026 o 22:01", ...) into
// timestamps. Parsing is pure: the reference "now" is a parameter, so callers
// and tests control it instead of the system clock.
package polishtime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrUnrecognizedFormat is returned when the input matches none of the
// supported date forms. A novel format usually means the site changed its
// rendering, which is worth surfacing loudly.
var ErrUnrecognizedFormat = errors.New("unrecognized date format")

// Month names as OLX renders them (genitive), plus nominative forms that show
// up in some card variants. Keys are lowercase with diacritics folded.
var polishMonths = map[string]time.Month{
	"stycznia": time.January, "styczen": time.January,
	"lutego": time.February, "luty": time.February,
	"marca": time.March, "marzec": time.March,
	"kwietnia": time.April, "kwiecien": time.April,
	"maja": time.May, "maj": time.May,
	"czerwca": time.June, "czerwiec": time.June,
	"lipca": time.July, "lipiec": time.July,
	"sierpnia": time.August, "sierpien": time.August,
	"wrzesnia": time.September, "wrzesien": time.September,
	"pazdziernika": time.October, "pazdziernik": time.October,
	"listopada": time.November, "listopad": time.November,
	"grudnia": time.December, "grudzien": time.December,
}

// Three-letter abbreviations used by the compact card layout ("07 sty 2026").
var polishMonthAbbrevs = map[string]time.Month{
	"sty": time.January, "lut": time.February, "mar": time.March,
	"kwi": time.April, "maj": time.May, "cze": time.June,
	"lip": time.July, "sie": time.August, "wrz": time.September,
	"paz": time.October, "lis": time.November, "gru": time.December,
}

var (
	todayRe     = regexp.MustCompile(`^dzisiaj\s+o\s+(\d{1,2}):(\d{2})$`)
	yesterdayRe = regexp.MustCompile(`^wczoraj\s+o\s+(\d{1,2}):(\d{2})$`)
	absoluteRe  = regexp.MustCompile(`^(\d{1,2})\s+(\p{L}+)\s+(\d{4})(?:\s+o\s+(\d{1,2}):(\d{2}))?$`)
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases s and strips combining diacritics so that "października"
// and "pazdziernika" hit the same table entry.
func fold(s string) string {
	folded, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

// Parse converts a localized card date into a timestamp, using now as the
// reference for the relative forms. Seconds and sub-seconds are always zero.
// A leading refresh marker ("Odświeżono dnia ", "Odświeżono ") is stripped
// before matching.
func Parse(s string, now time.Time) (time.Time, error) {
	in := fold(strings.TrimSpace(s))
	in = strings.TrimPrefix(in, "odswiezono dnia ")
	in = strings.TrimPrefix(in, "odswiezono ")
	in = strings.TrimSpace(in)

	if m := todayRe.FindStringSubmatch(in); m != nil {
		return atClock(now, m[1], m[2]), nil
	}
	if m := yesterdayRe.FindStringSubmatch(in); m != nil {
		return atClock(now.AddDate(0, 0, -1), m[1], m[2]), nil
	}
	if m := absoluteRe.FindStringSubmatch(in); m != nil {
		month, ok := lookupMonth(m[2])
		if !ok {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, s)
		}
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		hour, minute := 0, 0
		if m[4] != "" {
			hour, _ = strconv.Atoi(m[4])
			minute, _ = strconv.Atoi(m[5])
		}
		return time.Date(year, month, day, hour, minute, 0, 0, now.Location()), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, s)
}

func lookupMonth(name string) (time.Month, bool) {
	if m, ok := polishMonths[name]; ok {
		return m, true
	}
	if m, ok := polishMonthAbbrevs[name]; ok {
		return m, true
	}
	return 0, false
}

func atClock(day time.Time, hourStr, minuteStr string) time.Time {
	hour, _ := strconv.Atoi(hourStr)
	minute, _ := strconv.Atoi(minuteStr)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}
