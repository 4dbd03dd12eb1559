package nl2query

import (
	"fmt"
	"strings"
	"time"

	"github.com/whisperer/whisperer/internal/dates"
	"github.com/whisperer/whisperer/internal/report"
)

const (
	maxAssistantTurnLen = 500
	previousSampleRows  = 5
)

const systemPrompt = "You convert analytics questions about a Google Analytics 4 property into a single Data API report request. " +
	"Return ONLY one JSON object. No markdown, no code fences, no explanation."

// BuildPrompt renders the instruction prompt for one question. today anchors
// every relative phrase.
func BuildPrompt(req Request, today time.Time) string {
	today = dates.Day(today)
	yesterday := today.AddDate(0, 0, -1)
	monthStart, monthEnd := dates.PreviousMonth(today)

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s (%s). Yesterday was %s. The previous calendar month ran from %s to %s.\n\n",
		dates.Format(today), today.Weekday(), dates.Format(yesterday), dates.Format(monthStart), dates.Format(monthEnd))

	b.WriteString("Date values are either a literal YYYY-MM-DD date or one of these tokens: ")
	b.WriteString("\"today\", \"yesterday\", \"NdaysAgo\" (for example \"7daysAgo\"), \"yearToDate\".\n")
	b.WriteString("Date rules:\n")
	b.WriteString("- \"last 30 days\" / \"son 30 gün\": startDate \"30daysAgo\", endDate \"yesterday\" (same pattern for any N).\n")
	fmt.Fprintf(&b, "- \"last month\" / \"geçen ay\": startDate %q, endDate %q.\n", dates.Format(monthStart), dates.Format(monthEnd))
	b.WriteString("- \"this year\" / \"bu yıl\": startDate \"yearToDate\", endDate \"yesterday\".\n")
	b.WriteString("- \"yesterday\" / \"dün\": startDate \"yesterday\", endDate \"yesterday\".\n")
	b.WriteString("- \"today\" / \"bugün\": startDate \"today\", endDate \"today\".\n")
	b.WriteString("- An explicit date named by the user is written as that literal YYYY-MM-DD date in both fields. Never replace it with a relative token.\n")
	b.WriteString("- If no period is mentioned, omit dateRanges.\n\n")

	fmt.Fprintf(&b, "Dimensions: %s\n", strings.Join(report.Dimensions, ", "))
	fmt.Fprintf(&b, "Metrics: %s\n", strings.Join(report.Metrics, ", "))
	b.WriteString("Synonyms:\n")
	for _, syn := range report.Synonyms {
		fmt.Fprintf(&b, "- %s -> %s\n", strings.Join(syn.Phrases, " / "), strings.Join(syn.Fields, " or "))
	}
	b.WriteString("\n")

	b.WriteString("Output shape for a data request:\n")
	b.WriteString(`{"dateRanges":[{"startDate":"...","endDate":"..."}],"dimensions":[{"name":"..."}],"metrics":[{"name":"..."}],"limit":100}`)
	b.WriteString("\nOmit dimensions when the user asks for a single total.\n\n")

	b.WriteString("If the question is a calculation on data already shown (currency conversion, growth versus the previous answer, rephrasing) ")
	b.WriteString("and needs no new data, answer it yourself in the user's language and return:\n")
	b.WriteString(`{"conversational":true,"reply":"..."}`)
	b.WriteString("\n\n")

	if history := renderHistory(req.History); history != "" {
		b.WriteString("Previous conversation:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}
	if req.Previous != nil && !req.Previous.Empty() {
		b.WriteString("Most recent table shown to the user:\n")
		b.WriteString(req.Previous.Table(previousSampleRows))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(req.Question))
	return b.String()
}

func renderHistory(turns []Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if turn.Role == RoleUser {
			fmt.Fprintf(&b, "User: %s\n", content)
			continue
		}
		if len(content) > maxAssistantTurnLen {
			content = truncateUTF8(content, maxAssistantTurnLen) + "..."
		}
		fmt.Fprintf(&b, "Assistant: %s\n", content)
	}
	return b.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// RecentTurns keeps the last n turns.
func RecentTurns(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
