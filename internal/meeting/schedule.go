package meeting

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// TimeResolution selects how free-text meeting times become timestamps.
type TimeResolution string

const (
	// ResolvePlaceholder maps "tomorrow…" to +24h, "next week" to +7d and
	// anything else to +24h.
	ResolvePlaceholder TimeResolution = "placeholder"

	// ResolvePrecise understands today/tomorrow/next week, weekdays and clock
	// times, and falls back to the placeholder rule for everything else.
	ResolvePrecise TimeResolution = "precise"
)

// Valid reports whether r is a known mode. The empty value means placeholder.
func (r TimeResolution) Valid() bool {
	return r == "" || r == ResolvePlaceholder || r == ResolvePrecise
}

// ResolveTime converts the free-text meeting time to an absolute timestamp.
func ResolveTime(now time.Time, text string, mode TimeResolution) time.Time {
	lower := strings.ToLower(strings.TrimSpace(text))
	if mode == ResolvePrecise {
		if t, ok := resolvePrecise(now, lower); ok {
			return t
		}
	}
	return resolvePlaceholder(now, lower)
}

func resolvePlaceholder(now time.Time, lower string) time.Time {
	switch {
	case strings.Contains(lower, "tomorrow"):
		return now.Add(24 * time.Hour)
	case strings.Contains(lower, "next week"):
		return now.Add(7 * 24 * time.Hour)
	default:
		return now.Add(24 * time.Hour)
	}
}

var (
	clockAMPM = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)`)
	clock24   = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	weekdayRE = regexp.MustCompile(`\b(?:(next|this|on)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func resolvePrecise(now time.Time, lower string) (time.Time, bool) {
	hour, minute, hasClock := parseClock(lower)

	var day time.Time
	hasDay := true
	switch {
	case strings.Contains(lower, "today") || strings.Contains(lower, "tonight"):
		day = now
	case strings.Contains(lower, "tomorrow"):
		day = now.AddDate(0, 0, 1)
	case strings.Contains(lower, "next week"):
		day = now.AddDate(0, 0, 7)
	default:
		m := weekdayRE.FindStringSubmatch(lower)
		if m == nil {
			hasDay = false
			break
		}
		ahead := (int(weekdays[m[2]]) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		day = now.AddDate(0, 0, ahead)
	}

	switch {
	case hasDay && hasClock:
		return atClock(day, hour, minute), true
	case hasDay:
		return day, true
	case hasClock:
		t := atClock(now, hour, minute)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, true
	}
	return time.Time{}, false
}

func atClock(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// parseClock finds "3pm", "3:30 pm" or "14:30" in lower.
func parseClock(lower string) (hour, minute int, ok bool) {
	if m := clockAMPM.FindStringSubmatch(lower); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, 0, false
		}
		pm := strings.HasPrefix(m[3], "p")
		switch {
		case pm && hour != 12:
			hour += 12
		case !pm && hour == 12:
			hour = 0
		}
		return hour, minute, true
	}
	if m := clock24.FindStringSubmatch(lower); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return 0, 0, false
		}
		return hour, minute, true
	}
	return 0, 0, false
}

// DefaultDuration is used when no duration can be parsed.
const DefaultDuration = 60

// MaxDuration is the longest meeting accepted, in minutes.
const MaxDuration = 24 * 60

// spokenDurations maps worded durations to minutes, longest phrase first.
var spokenDurations = []struct {
	prefix  string
	minutes int
}{
	{"an hour and a half", 90},
	{"one hour and a half", 90},
	{"half an hour", 30},
	{"half hour", 30},
	{"an hour", 60},
	{"one hour", 60},
	{"a quarter of an hour", 15},
	{"quarter of an hour", 15},
	{"quarter hour", 15},
}

// ParseDuration reads text as minutes: a leading integer ("30",
// "45 minutes", "2 hours") or a worded duration ("half an hour"). Absent,
// non-positive and out-of-range values, meaning anything above MaxDuration,
// yield DefaultDuration.
func ParseDuration(text string) int {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, d := range spokenDurations {
		if strings.HasPrefix(s, d.prefix) {
			return d.minutes
		}
	}
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(s)
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 || n > MaxDuration {
		return DefaultDuration
	}
	if strings.HasPrefix(strings.TrimSpace(s[end:]), "h") {
		if n > MaxDuration/60 {
			return DefaultDuration
		}
		n *= 60
	}
	return n
}
