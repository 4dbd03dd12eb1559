package nl2query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/whisperer/whisperer/internal/dates"
	"github.com/whisperer/whisperer/internal/jsonspan"
	"github.com/whisperer/whisperer/internal/llm"
	"github.com/whisperer/whisperer/internal/observability"
	"github.com/whisperer/whisperer/internal/report"
)

// Temperature is pinned for every translation call.
const Temperature = 0

const DefaultHistoryTurns = 4

type Config struct {
	LLM             llm.Client
	Logger          *slog.Logger
	Clock           clockwork.Clock
	HistoryTurns    int
	MaxOutputTokens int
}

type LLMTranslator struct {
	client       llm.Client
	logger       *slog.Logger
	clock        clockwork.Clock
	historyTurns int
	maxTokens    int
}

func NewLLMTranslator(cfg Config) (*LLMTranslator, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	return &LLMTranslator{
		client:       cfg.LLM,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		historyTurns: cfg.HistoryTurns,
		maxTokens:    cfg.MaxOutputTokens,
	}, nil
}

// Translate makes exactly one model call. Transport failures are returned as
// errors; unusable model output is an uninterpretable outcome.
func (t *LLMTranslator) Translate(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Outcome{Kind: KindUninterpretable, Reason: "empty question"}, nil
	}
	today := dates.Now(t.clock)
	req.History = RecentTurns(req.History, t.historyTurns)

	resp, err := t.client.Generate(ctx, llm.Request{
		Purpose:         "translate",
		System:          systemPrompt,
		Prompt:          BuildPrompt(req, today),
		Temperature:     Temperature,
		MaxOutputTokens: t.maxTokens,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("translate question: %w", err)
	}

	outcome := ParseResponse(resp.Text)
	outcome.Model = resp.Model
	if outcome.Kind == KindQuery {
		outcome.Query = applyDateHint(outcome.Query, req.Question, today)
		outcome.Query = report.Repair(outcome.Query)
	}
	observability.ObserveTranslateOutcome(string(outcome.Kind))
	t.logger.DebugContext(ctx, "question translated",
		append(observability.LogAttrs(ctx),
			slog.String("kind", string(outcome.Kind)),
			slog.String("reason", outcome.Reason),
		)...)
	return outcome, nil
}

// fieldsOfInterest are the keys that make a JSON object a usable answer.
var fieldsOfInterest = []string{"dateRanges", "date_ranges", "dimensions", "metrics", "limit", "conversational", "query"}

// ParseResponse classifies raw model text without repairing it.
func ParseResponse(text string) Outcome {
	span, ok := jsonspan.Extract(text)
	if !ok {
		return Outcome{Kind: KindUninterpretable, Reason: "no JSON object in model response", Raw: text}
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &keys); err != nil {
		return Outcome{Kind: KindUninterpretable, Reason: "malformed JSON: " + err.Error(), Raw: text}
	}
	known := false
	for _, key := range fieldsOfInterest {
		if _, ok := keys[key]; ok {
			known = true
			break
		}
	}
	if !known {
		return Outcome{Kind: KindUninterpretable, Reason: "JSON object has no report fields", Raw: text}
	}

	var envelope struct {
		Conversational bool            `json:"conversational"`
		Reply          string          `json:"reply"`
		Query          json.RawMessage `json:"query"`
	}
	if err := json.Unmarshal([]byte(span), &envelope); err != nil {
		return Outcome{Kind: KindUninterpretable, Reason: "malformed JSON: " + err.Error(), Raw: text}
	}
	if envelope.Conversational {
		return Outcome{Kind: KindConversational, Reply: strings.TrimSpace(envelope.Reply), Raw: text}
	}

	body := []byte(span)
	if len(bytes.TrimSpace(envelope.Query)) > 0 && string(envelope.Query) != "null" {
		body = envelope.Query
	}
	var q report.Query
	if err := json.Unmarshal(body, &q); err != nil {
		return Outcome{Kind: KindUninterpretable, Reason: "invalid query: " + err.Error(), Raw: text}
	}
	return Outcome{Kind: KindQuery, Query: q, Raw: text}
}

// applyDateHint pins the first date range to a phrase found in the question.
// A literal hint replaces a model range that does not already use its dates;
// relative hints only fill a missing range.
func applyDateHint(q report.Query, question string, today time.Time) report.Query {
	hint, ok := DetectDateHint(question, today)
	if !ok {
		return q
	}
	if len(q.DateRanges) == 0 {
		q.DateRanges = []report.DateRange{hint.Range}
		return q
	}
	if hint.Literal && !usesLiteralDates(q.DateRanges[0], hint.Range) {
		ranges := append([]report.DateRange{hint.Range}, q.DateRanges[1:]...)
		q.DateRanges = ranges
	}
	return q
}

// usesLiteralDates reports whether r is anchored on the hinted calendar dates:
// it starts or ends on one of them, or is a calendar range enclosing them.
func usesLiteralDates(r, hint report.DateRange) bool {
	switch {
	case r.StartDate == hint.StartDate, r.EndDate == hint.EndDate, r.EndDate == hint.StartDate:
		return true
	case !isCalendarDate(r.StartDate), !isCalendarDate(r.EndDate):
		return false
	}
	// ISO dates compare lexically.
	return r.StartDate <= hint.StartDate && hint.EndDate <= r.EndDate
}

func isCalendarDate(value string) bool {
	return dates.Valid(value) && !dates.IsToken(value)
}
