package workflow

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var (
	leadingWords = regexp.MustCompile(`^(?:by|before|due|until|till|on|for|no later than|the)\s+`)
	inNRe        = regexp.MustCompile(`^in\s+(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten)\s+(day|days|week|weeks)$`)
	isoDateRe    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	monthDayRe   = regexp.MustCompile(`^([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?$`)
	dayMonthRe   = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?([a-z]+)(?:,?\s+(\d{4}))?$`)
	weekdayRe    = regexp.MustCompile(`^(?:(this|next|coming)\s+)?([a-z]+)$`)
	timeOfDayRe  = regexp.MustCompile(`\b(?:at\s+)?(?:\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.)|\d{1,2}:\d{2}|noon|midday|midnight)|` +
		`\b(?:in the\s+|this\s+)?(?:morning|afternoon|evening|night)\b|` +
		`\b(?:at\s+)?(?:eod|cob|close of business|end of (?:the )?day)\b`)
)

// duePhraseRe finds a deadline phrase inside free text. Longer alternatives come first.
var duePhraseRe = regexp.MustCompile(`(?i)\b(?:(?:by|before|due|until|on)\s+)?(` +
	`(?:eod|end of day|end of the day)\s+tomorrow|day after tomorrow|tomorrow|today|tonight|eod|cob|end of (?:the )?(?:day|week|month)|` +
	`in\s+(?:\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten)\s+(?:days?|weeks?)|` +
	`\d{4}-\d{2}-\d{2}|` +
	`(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?|` +
	`(?:(?:this|next|coming)\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)` +
	`)\b`)

// ResolveDueDate turns a deadline phrase into a calendar date relative to origin.
// The result is midnight of that date in origin's location. Phrases that do not
// name a specific day ("next week", "soon", "asap") resolve to nil.
//
// A time of day only narrows the deadline within a day, so "by 5pm tomorrow"
// and "Friday EOD" resolve like "tomorrow" and "Friday". A bare time such as
// "by noon" means today.
func ResolveDueDate(phrase string, origin time.Time) *time.Time {
	p := normalizePhrase(phrase)
	if p == "" {
		return nil
	}

	if due := resolveDay(p, origin); due != nil {
		return due
	}

	day := normalizePhrase(strings.Trim(timeOfDayRe.ReplaceAllString(p, " "), " ,"))
	if day == p {
		return nil
	}
	if day == "" {
		today := dateOf(origin)
		return &today
	}
	return resolveDay(day, origin)
}

func resolveDay(p string, origin time.Time) *time.Time {
	today := dateOf(origin)

	switch p {
	case "today", "tonight", "eod", "cob", "end of day", "end of the day", "end of today",
		"close of business", "this evening", "this afternoon":
		return &today
	case "tomorrow", "eod tomorrow", "end of day tomorrow", "end of the day tomorrow",
		"tomorrow eod", "tomorrow morning", "tomorrow afternoon", "tomorrow evening", "tomorrow night":
		return addDays(today, 1)
	case "day after tomorrow", "the day after tomorrow":
		return addDays(today, 2)
	case "end of week", "end of the week", "eow", "end of this week":
		return endOfWeek(today)
	case "end of month", "end of the month", "eom", "end of this month":
		return endOfMonth(today)
	}

	if m := inNRe.FindStringSubmatch(p); m != nil {
		n, ok := numberWords[m[1]]
		if !ok {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return nil
			}
			n = v
		}
		if strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		return addDays(today, n)
	}

	if m := isoDateRe.FindStringSubmatch(p); m != nil {
		t, err := time.ParseInLocation("2006-01-02", p, origin.Location())
		if err != nil {
			return nil
		}
		return &t
	}

	if m := monthDayRe.FindStringSubmatch(p); m != nil {
		if month, ok := months[m[1]]; ok {
			return monthDay(today, month, m[2], m[3])
		}
	}

	if m := dayMonthRe.FindStringSubmatch(p); m != nil {
		if month, ok := months[m[2]]; ok {
			return monthDay(today, month, m[1], m[3])
		}
	}

	if m := weekdayRe.FindStringSubmatch(p); m != nil {
		if wd, ok := weekdays[m[2]]; ok {
			return nextWeekday(today, wd, m[1])
		}
	}

	return nil
}

// DetectDuePhrase returns the first deadline phrase found in text, or ""
func DetectDuePhrase(text string) string {
	m := duePhraseRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func normalizePhrase(phrase string) string {
	p := strings.ToLower(strings.TrimSpace(phrase))
	p = strings.TrimRight(p, ".!?,;:")
	p = strings.Join(strings.Fields(p), " ")
	for {
		stripped := leadingWords.ReplaceAllString(p, "")
		if stripped == p {
			break
		}
		p = stripped
	}
	return p
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func addDays(day time.Time, n int) *time.Time {
	t := day.AddDate(0, 0, n)
	return &t
}

// endOfWeek is the coming Friday, or today when today is Friday. Weekends roll to next Friday.
func endOfWeek(today time.Time) *time.Time {
	ahead := (int(time.Friday) - int(today.Weekday()) + 7) % 7
	return addDays(today, ahead)
}

func endOfMonth(today time.Time) *time.Time {
	t := time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, today.Location()).AddDate(0, 0, -1)
	return &t
}

// nextWeekday resolves "friday", "this friday" and "next friday".
// A bare or "this" weekday is the next occurrence within seven days, today
// included only for "this". "next" means that weekday in the following
// Monday-based week.
func nextWeekday(today time.Time, wd time.Weekday, qualifier string) *time.Time {
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7

	switch qualifier {
	case "next":
		// Days until next Monday, then offset into that week
		toMonday := (int(time.Monday) - int(today.Weekday()) + 7) % 7
		if toMonday == 0 {
			toMonday = 7
		}
		offset := (int(wd) + 6) % 7
		return addDays(today, toMonday+offset)
	case "this":
		return addDays(today, ahead)
	default:
		if ahead == 0 {
			ahead = 7
		}
		return addDays(today, ahead)
	}
}

func monthDay(today time.Time, month time.Month, dayStr, yearStr string) *time.Time {
	day, err := strconv.Atoi(dayStr)
	if err != nil || day < 1 || day > 31 {
		return nil
	}

	year := today.Year()
	explicitYear := yearStr != ""
	if explicitYear {
		if year, err = strconv.Atoi(yearStr); err != nil {
			return nil
		}
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, today.Location())
	if t.Day() != day {
		// Feb 30 and the like
		return nil
	}
	if !explicitYear && t.Before(today) {
		t = t.AddDate(1, 0, 0)
	}
	return &t
}

// CalendarDaysBetween counts whole calendar days from a to b in a's location
func CalendarDaysBetween(a, b time.Time) int {
	da := dateOf(a)
	db := dateOf(b.In(a.Location()))
	return int(db.Sub(da).Round(time.Hour).Hours() / 24)
}
