package nl2query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/whisperer/whisperer/internal/dates"
	"github.com/whisperer/whisperer/internal/report"
)

// DateHint is a date range recognized directly in the question text. Literal
// hints (explicit dates, last month) carry calendar dates; the rest carry
// relative tokens.
type DateHint struct {
	Range   report.DateRange
	Phrase  string
	Literal bool
}

var (
	isoDatePattern    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dottedDatePattern = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})[./](\d{4})\b`)
	dayMonthPattern   = regexp.MustCompile(`(?i)\b(\d{1,2})\s+([a-zçğıöşü]+)\s+(\d{4})\b`)
	monthDayPattern   = regexp.MustCompile(`(?i)\b([a-z]+)\s+(\d{1,2}),?\s+(\d{4})\b`)
	lastNDaysPattern  = regexp.MustCompile(`(?i)\b(?:last|past|son)\s+(\d{1,3})\s+(?:days?|gün)`)
	yesterdayPattern  = regexp.MustCompile(`(?i)\byesterday\b|\bdün(?:kü|ün|de)?(?:\P{L}|$)`)
	lastMonthPattern  = regexp.MustCompile(`(?i)\b(?:last|previous)\s+month\b|\bgeçen\s+ay(?:ın|ki|da)?(?:\P{L}|$)`)
	thisYearPattern   = regexp.MustCompile(`(?i)\bthis\s+year\b|\byear\s+to\s+date\b|\bbu\s+y[ıi]l(?:ın|ki|da)?(?:\P{L}|$)`)
	todayPattern      = regexp.MustCompile(`(?i)\btoday\b|\bbugün(?:kü|de)?(?:\P{L}|$)`)
)

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January, "ocak": time.January,
	"feb": time.February, "february": time.February, "şubat": time.February, "subat": time.February,
	"mar": time.March, "march": time.March, "mart": time.March,
	"apr": time.April, "april": time.April, "nisan": time.April,
	"may": time.May, "mayıs": time.May, "mayis": time.May,
	"jun": time.June, "june": time.June, "haziran": time.June,
	"jul": time.July, "july": time.July, "temmuz": time.July,
	"aug": time.August, "august": time.August, "ağustos": time.August, "agustos": time.August,
	"sep": time.September, "sept": time.September, "september": time.September, "eylül": time.September, "eylul": time.September,
	"oct": time.October, "october": time.October, "ekim": time.October,
	"nov": time.November, "november": time.November, "kasım": time.November, "kasim": time.November,
	"dec": time.December, "december": time.December, "aralık": time.December, "aralik": time.December,
}

type hintMatch struct {
	at   int
	hint DateHint
}

// DetectDateHint returns the earliest date phrase in question, if any.
func DetectDateHint(question string, today time.Time) (DateHint, bool) {
	today = dates.Day(today)
	var matches []hintMatch
	add := func(loc []int, hint DateHint) {
		if loc != nil {
			matches = append(matches, hintMatch{at: loc[0], hint: hint})
		}
	}

	if loc, day, ok := findExplicitDate(question, today.Location()); ok {
		literal := dates.Format(day)
		add(loc, DateHint{Range: report.DateRange{StartDate: literal, EndDate: literal}, Phrase: strings.TrimSpace(question[loc[0]:loc[1]]), Literal: true})
	}
	if m := lastNDaysPattern.FindStringSubmatchIndex(question); m != nil {
		n, _ := strconv.Atoi(question[m[2]:m[3]])
		add(m, DateHint{Range: report.DateRange{StartDate: dates.DaysAgo(n), EndDate: dates.Yesterday}, Phrase: strings.TrimSpace(question[m[0]:m[1]])})
	}
	if loc := yesterdayPattern.FindStringIndex(question); loc != nil {
		add(loc, DateHint{Range: report.DateRange{StartDate: dates.Yesterday, EndDate: dates.Yesterday}, Phrase: strings.TrimSpace(question[loc[0]:loc[1]])})
	}
	if loc := lastMonthPattern.FindStringIndex(question); loc != nil {
		start, end := dates.PreviousMonth(today)
		add(loc, DateHint{Range: report.DateRange{StartDate: dates.Format(start), EndDate: dates.Format(end)}, Phrase: strings.TrimSpace(question[loc[0]:loc[1]]), Literal: true})
	}
	if loc := thisYearPattern.FindStringIndex(question); loc != nil {
		add(loc, DateHint{Range: report.DateRange{StartDate: dates.YearToDate, EndDate: dates.Yesterday}, Phrase: strings.TrimSpace(question[loc[0]:loc[1]])})
	}
	if loc := todayPattern.FindStringIndex(question); loc != nil {
		add(loc, DateHint{Range: report.DateRange{StartDate: dates.Today, EndDate: dates.Today}, Phrase: strings.TrimSpace(question[loc[0]:loc[1]])})
	}

	if len(matches) == 0 {
		return DateHint{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.at < best.at {
			best = m
		}
	}
	return best.hint, true
}

func findExplicitDate(question string, loc *time.Location) ([]int, time.Time, bool) {
	type candidate struct {
		span []int
		day  time.Time
	}
	var found []candidate
	try := func(span []int, y, m, d int) {
		if m < 1 || m > 12 || d < 1 || d > 31 {
			return
		}
		day := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
		if day.Day() != d {
			return
		}
		found = append(found, candidate{span: span, day: day})
	}

	for _, m := range isoDatePattern.FindAllStringSubmatchIndex(question, -1) {
		try(m[:2], atoi(question[m[2]:m[3]]), atoi(question[m[4]:m[5]]), atoi(question[m[6]:m[7]]))
	}
	for _, m := range dottedDatePattern.FindAllStringSubmatchIndex(question, -1) {
		try(m[:2], atoi(question[m[6]:m[7]]), atoi(question[m[4]:m[5]]), atoi(question[m[2]:m[3]]))
	}
	for _, m := range dayMonthPattern.FindAllStringSubmatchIndex(question, -1) {
		if month, ok := monthNames[strings.ToLower(question[m[4]:m[5]])]; ok {
			try(m[:2], atoi(question[m[6]:m[7]]), int(month), atoi(question[m[2]:m[3]]))
		}
	}
	for _, m := range monthDayPattern.FindAllStringSubmatchIndex(question, -1) {
		if month, ok := monthNames[strings.ToLower(question[m[2]:m[3]])]; ok {
			try(m[:2], atoi(question[m[6]:m[7]]), int(month), atoi(question[m[4]:m[5]]))
		}
	}
	if len(found) == 0 {
		return nil, time.Time{}, false
	}
	best := found[0]
	for _, c := range found[1:] {
		if c.span[0] < best.span[0] {
			best = c
		}
	}
	return best.span, best.day, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
