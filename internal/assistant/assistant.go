// Package assistant runs one conversation turn: translate the question,
// fetch the report, narrate it, and record everything on the session.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/whisperer/whisperer/internal/llm"
	"github.com/whisperer/whisperer/internal/nl2query"
	"github.com/whisperer/whisperer/internal/observability"
	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/session"
)

// Turn statuses. They are also stored on the assistant turn in the session.
const (
	StatusAnswered        = "answered"
	StatusConversational  = "conversational"
	StatusUninterpretable = "uninterpretable"
	StatusFetchFailed     = "fetch_failed"
	StatusNoData          = "no_data"
	StatusLLMFailed       = "llm_failed"
)

const (
	RetryMessage       = "I could not turn that into a report query. Please rephrase the question, for example with a metric and a time period."
	FetchFailedMessage = "The report could not be fetched."
	NoDataMessage      = "The report returned no rows for that period."
	LLMFailedMessage   = "The language model is unavailable right now. Please ask again in a moment."
	NoContextMessage   = "There is no earlier report in this conversation to work from. Ask for some data first."

	// ConversationalFallback is used when a follow-up answer over the last
	// table could not be generated.
	ConversationalFallback = "I could not work that out from the last report. Try asking for the data directly."

	conversationalRows = 50
)

var ErrEmptyQuestion = errors.New("question is required")

// TurnResult is what the caller displays for one turn.
type TurnResult struct {
	SessionID string         `json:"session_id"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Details   string         `json:"details,omitempty"`
	Query     *report.Query  `json:"query,omitempty"`
	Result    *report.Result `json:"result,omitempty"`
}

// Text is the content stored on the assistant turn.
func (r TurnResult) Text() string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.Message
}

type Executor interface {
	Execute(ctx context.Context, propertyID string, q report.Query) (report.Result, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, question string, result report.Result) string
}

type Config struct {
	Sessions     session.Store
	Translator   nl2query.Translator
	Executor     Executor
	Summarizer   Summarizer
	LLM          llm.Client
	Logger       *slog.Logger
	Clock        clockwork.Clock
	HistoryTurns int
	MaxTokens    int
}

type Assistant struct {
	sessions     session.Store
	translator   nl2query.Translator
	executor     Executor
	summarizer   Summarizer
	llm          llm.Client
	logger       *slog.Logger
	clock        clockwork.Clock
	historyTurns int
	maxTokens    int
	locks        *keyedMutex
}

func New(cfg Config) (*Assistant, error) {
	switch {
	case cfg.Sessions == nil:
		return nil, fmt.Errorf("session store is required")
	case cfg.Translator == nil:
		return nil, fmt.Errorf("translator is required")
	case cfg.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case cfg.Summarizer == nil:
		return nil, fmt.Errorf("summarizer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = nl2query.DefaultHistoryTurns
	}
	return &Assistant{
		sessions:     cfg.Sessions,
		translator:   cfg.Translator,
		executor:     cfg.Executor,
		summarizer:   cfg.Summarizer,
		llm:          cfg.LLM,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		historyTurns: cfg.HistoryTurns,
		maxTokens:    cfg.MaxTokens,
		locks:        newKeyedMutex(),
	}, nil
}

// Ask runs one turn for the session. Pipeline failures are reported through
// TurnResult.Status; an error is returned only when the session itself
// cannot be loaded or saved.
func (a *Assistant) Ask(ctx context.Context, sessionID, question string) (TurnResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return TurnResult{}, ErrEmptyQuestion
	}

	unlock := a.locks.Lock(sessionID)
	defer unlock()

	start := a.clock.Now()
	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	history := sess.RecentTurns(a.historyTurns)
	sess.AppendUser(question, a.clock.Now().UTC())

	result := a.run(ctx, &sess, question, history)
	result.SessionID = sess.ID

	sess.AppendAssistant(result.Text(), result.Status, a.clock.Now().UTC())
	if err := a.sessions.Save(ctx, sess); err != nil {
		return TurnResult{}, fmt.Errorf("save session: %w", err)
	}

	elapsed := a.clock.Since(start)
	observability.ObserveTurn(result.Status, elapsed)
	a.logger.InfoContext(ctx, "turn completed",
		append(observability.LogAttrs(ctx),
			slog.String("session_id", sess.ID),
			slog.String("status", result.Status),
			slog.Duration("elapsed", elapsed),
		)...)
	return result, nil
}

// Reset clears the session's conversation. It waits for a turn in flight on
// the same session so that turn cannot save the cleared state back.
func (a *Assistant) Reset(ctx context.Context, sessionID string) error {
	unlock := a.locks.Lock(sessionID)
	defer unlock()
	return a.sessions.Reset(ctx, sessionID)
}

func (a *Assistant) run(ctx context.Context, sess *session.Session, question string, history []nl2query.Turn) TurnResult {
	outcome, err := a.translator.Translate(ctx, nl2query.Request{
		Question: question,
		History:  history,
		Previous: sess.LastResult,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "translation failed",
			append(observability.LogAttrs(ctx), slog.String("error", err.Error()))...)
		return TurnResult{Status: StatusLLMFailed, Message: LLMFailedMessage, Details: err.Error()}
	}

	switch outcome.Kind {
	case nl2query.KindConversational:
		reply := outcome.Reply
		if reply == "" {
			reply = a.converse(ctx, question, sess.LastResult)
		}
		return TurnResult{Status: StatusConversational, Message: reply, Result: sess.LastResult}
	case nl2query.KindQuery:
	default:
		return TurnResult{Status: StatusUninterpretable, Message: RetryMessage, Details: outcome.Reason}
	}

	q := outcome.Query
	res, err := a.executor.Execute(ctx, sess.PropertyID, q)
	if err != nil {
		var fetchErr *report.FetchError
		details := err.Error()
		if errors.As(err, &fetchErr) {
			details = fetchErr.Detail()
		}
		return TurnResult{Status: StatusFetchFailed, Message: FetchFailedMessage, Details: details, Query: &q}
	}
	if res.Empty() {
		return TurnResult{Status: StatusNoData, Message: NoDataMessage, Query: &q, Result: &res}
	}

	summary := a.summarizer.Summarize(ctx, question, res)
	sess.LastQuestion = question
	sess.LastQuery = &q
	sess.LastResult = &res
	return TurnResult{Status: StatusAnswered, Summary: summary, Query: &q, Result: &res}
}

// converse answers a follow-up over the last fetched table.
func (a *Assistant) converse(ctx context.Context, question string, last *report.Result) string {
	if last == nil || last.Empty() {
		return NoContextMessage
	}
	if a.llm == nil {
		return ConversationalFallback
	}
	resp, err := a.llm.Generate(ctx, llm.Request{
		Purpose:         "converse",
		Prompt:          buildConversationalPrompt(question, *last),
		Temperature:     0.3,
		MaxOutputTokens: a.maxTokens,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "conversational answer failed",
			append(observability.LogAttrs(ctx), slog.String("error", err.Error()))...)
		return ConversationalFallback
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return ConversationalFallback
	}
	return text
}

func buildConversationalPrompt(question string, last report.Result) string {
	var b strings.Builder
	b.WriteString("Earlier in this conversation the following report was fetched:\n")
	b.WriteString(last.Table(conversationalRows))
	fmt.Fprintf(&b, "\nFollow-up from the user: %s\n\n", question)
	b.WriteString("Answer using only the table above. Show any calculation briefly and reply in the same language as the user. ")
	b.WriteString("If the table does not contain what is needed, say so.")
	return b.String()
}
