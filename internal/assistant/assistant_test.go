package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whisperer/whisperer/internal/llm"
	"github.com/whisperer/whisperer/internal/nl2query"
	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/session"
	"github.com/whisperer/whisperer/internal/summarize"
)

var december10 = time.Date(2025, time.December, 10, 9, 0, 0, 0, time.UTC)

const yesterdayRevenue = "```json\n" +
	`{"dateRanges":[{"startDate":"yesterday","endDate":"yesterday"}],"dimensions":[],"metrics":[{"name":"purchaseRevenue"}]}` +
	"\n```"

type reply struct {
	text string
	err  error
}

// scriptedLLM answers by request purpose. The last scripted reply for a
// purpose repeats once the queue is drained.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  map[string][]reply
	requests []llm.Request
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{replies: make(map[string][]reply)}
}

func (s *scriptedLLM) on(purpose string, text string, err error) *scriptedLLM {
	s.replies[purpose] = append(s.replies[purpose], reply{text: text, err: err})
	return s
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	queue := s.replies[req.Purpose]
	if len(queue) == 0 {
		return llm.Response{}, errors.New("no scripted reply for " + req.Purpose)
	}
	next := queue[0]
	if len(queue) > 1 {
		s.replies[req.Purpose] = queue[1:]
	}
	if next.err != nil {
		return llm.Response{}, next.err
	}
	return llm.Response{Text: next.text, Model: "scripted"}, nil
}

func (s *scriptedLLM) Provider() string { return "scripted" }
func (s *scriptedLLM) Model() string    { return "scripted" }

func (s *scriptedLLM) purposes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, req.Purpose)
	}
	return out
}

type fakeBackend struct {
	mu       sync.Mutex
	report   report.RawReport
	err      error
	requests []report.Request
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) RunReport(_ context.Context, req report.Request) (report.RawReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return report.RawReport{}, f.err
	}
	return f.report, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type harness struct {
	assistant *Assistant
	store     *session.MemoryStore
	llm       *scriptedLLM
	backend   *fakeBackend
	session   session.Session
}

func newHarness(t *testing.T, client *scriptedLLM, backend *fakeBackend) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(december10)
	store := session.NewMemoryStore(time.Hour, clock)

	translator, err := nl2query.NewLLMTranslator(nl2query.Config{LLM: client, Clock: clock})
	require.NoError(t, err)

	a, err := New(Config{
		Sessions:   store,
		Translator: translator,
		Executor:   report.NewExecutor(backend, nil, 0),
		Summarizer: summarize.New(client, nil, 0, 0),
		LLM:        client,
		Clock:      clock,
	})
	require.NoError(t, err)

	sess, err := store.Create(context.Background(), session.CreateInput{PropertyID: "properties/123", BrandName: "Acme"})
	require.NoError(t, err)
	return &harness{assistant: a, store: store, llm: client, backend: backend, session: sess}
}

func (h *harness) reload(t *testing.T) session.Session {
	t.Helper()
	sess, err := h.store.Get(context.Background(), h.session.ID)
	require.NoError(t, err)
	return sess
}

func revenueBackend() *fakeBackend {
	return &fakeBackend{report: report.RawReport{
		DimensionHeaders: []string{"date"},
		MetricHeaders:    []string{"purchaseRevenue"},
		Rows:             [][]string{{"20251209", "1250.5"}},
	}}
}

func TestAskYesterdayRevenueAnswers(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().
		on("translate", yesterdayRevenue, nil).
		on("summarize", "Dün ciro 1.250,50 oldu.", nil)
	h := newHarness(t, client, revenueBackend())

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro")
	require.NoError(t, err)

	assert.Equal(t, StatusAnswered, got.Status)
	assert.Equal(t, h.session.ID, got.SessionID)
	assert.Contains(t, got.Summary, "1.250,50")
	require.NotNil(t, got.Query)
	assert.Equal(t, []report.Dimension{{Name: "date"}}, got.Query.Dimensions)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Rows, 1)
	assert.Equal(t, 1250.5, got.Result.Rows[0]["purchaseRevenue"])

	require.Len(t, h.backend.requests, 1)
	req := h.backend.requests[0]
	assert.Equal(t, "123", req.PropertyID)
	assert.Equal(t, report.DateRange{StartDate: "yesterday", EndDate: "yesterday"}, req.DateRange)
	assert.Equal(t, []string{"date"}, req.Dimensions)

	sess := h.reload(t)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, nl2query.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, "dünkü ciro", sess.Turns[0].Content)
	assert.Equal(t, StatusAnswered, sess.Turns[1].Status)
	assert.Equal(t, got.Summary, sess.Turns[1].Content)
	assert.Equal(t, "dünkü ciro", sess.LastQuestion)
	require.NotNil(t, sess.LastResult)
	assert.Equal(t, int64(1), sess.LastResult.RowCount)
	assert.Equal(t, []string{"translate", "summarize"}, client.purposes())
}

func TestAskFollowUpIsConversational(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().
		on("translate", yesterdayRevenue, nil).
		on("translate", `{"conversational": true}`, nil).
		on("summarize", "Revenue yesterday was 1,250.50.", nil).
		on("converse", "At 42 per dollar that is about 29.77 USD.", nil)
	h := newHarness(t, client, revenueBackend())
	ctx := context.Background()

	_, err := h.assistant.Ask(ctx, h.session.ID, "dünkü ciro")
	require.NoError(t, err)

	got, err := h.assistant.Ask(ctx, h.session.ID, "bunu dolara çevir")
	require.NoError(t, err)
	assert.Equal(t, StatusConversational, got.Status)
	assert.Equal(t, "At 42 per dollar that is about 29.77 USD.", got.Message)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, h.backend.calls(), "a follow-up must not fetch again")

	// The second translation sees the first exchange as history.
	var translates []llm.Request
	for _, req := range client.requests {
		if req.Purpose == "translate" {
			translates = append(translates, req)
		}
	}
	require.Len(t, translates, 2)
	assert.Contains(t, translates[1].Prompt, "dünkü ciro")

	converse := client.requests[len(client.requests)-1]
	assert.Equal(t, "converse", converse.Purpose)
	assert.Contains(t, converse.Prompt, "1250.5")
	assert.Contains(t, converse.Prompt, "bunu dolara çevir")

	sess := h.reload(t)
	require.Len(t, sess.Turns, 4)
	assert.Equal(t, StatusConversational, sess.Turns[3].Status)
	assert.Equal(t, "dünkü ciro", sess.LastQuestion)
}

func TestAskConversationalReplyFromTranslatorIsUsedAsIs(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().on("translate", `{"conversational": true, "reply": "Sure, that is 10% growth."}`, nil)
	h := newHarness(t, client, revenueBackend())

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "what's the growth?")
	require.NoError(t, err)
	assert.Equal(t, StatusConversational, got.Status)
	assert.Equal(t, "Sure, that is 10% growth.", got.Message)
	assert.Equal(t, []string{"translate"}, client.purposes())
}

func TestAskConversationalWithoutPreviousResult(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().on("translate", `{"conversational": true}`, nil)
	h := newHarness(t, client, revenueBackend())

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "convert that to dollars")
	require.NoError(t, err)
	assert.Equal(t, StatusConversational, got.Status)
	assert.Equal(t, NoContextMessage, got.Message)
	assert.Nil(t, got.Result)
}

func TestAskUninterpretableAsksToRephrase(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().on("translate", "Sorry, I am not sure what you mean.", nil)
	h := newHarness(t, client, revenueBackend())

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "hmm")
	require.NoError(t, err)
	assert.Equal(t, StatusUninterpretable, got.Status)
	assert.Equal(t, RetryMessage, got.Message)
	assert.NotEmpty(t, got.Details)
	assert.Zero(t, h.backend.calls())

	sess := h.reload(t)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, StatusUninterpretable, sess.Turns[1].Status)
	assert.Nil(t, sess.LastResult)
}

func TestAskFetchFailureIsDisplayedNotRetried(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().on("translate", yesterdayRevenue, nil)
	backend := &fakeBackend{err: errors.New("Field fooBar is not a valid metric")}
	h := newHarness(t, client, backend)

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro")
	require.NoError(t, err)
	assert.Equal(t, StatusFetchFailed, got.Status)
	assert.Equal(t, FetchFailedMessage, got.Message)
	assert.Equal(t, "Field fooBar is not a valid metric", got.Details)
	require.NotNil(t, got.Query)
	assert.Nil(t, got.Result)
	assert.Equal(t, 1, backend.calls())
	assert.Equal(t, []string{"translate"}, client.purposes())

	sess := h.reload(t)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, StatusFetchFailed, sess.Turns[1].Status)
	assert.Nil(t, sess.LastResult)
}

func TestAskEmptyReportIsNoData(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().on("translate", yesterdayRevenue, nil)
	h := newHarness(t, client, &fakeBackend{})

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro")
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, got.Status)
	assert.Equal(t, NoDataMessage, got.Message)
	assert.Nil(t, h.reload(t).LastResult)
}

func TestAskSummaryFailureKeepsTable(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().
		on("translate", yesterdayRevenue, nil).
		on("summarize", "", errors.New("quota exceeded"))
	h := newHarness(t, client, revenueBackend())

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro")
	require.NoError(t, err)
	assert.Equal(t, StatusAnswered, got.Status)
	assert.Equal(t, summarize.FallbackSummary, got.Summary)
	require.NotNil(t, got.Result)
	assert.NotNil(t, h.reload(t).LastResult)
}

func TestAskTranslatorTransportFailure(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().on("translate", "", errors.New("connection reset"))
	h := newHarness(t, client, revenueBackend())

	got, err := h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro")
	require.NoError(t, err)
	assert.Equal(t, StatusLLMFailed, got.Status)
	assert.Contains(t, got.Details, "connection reset")
	assert.Zero(t, h.backend.calls())
	require.Len(t, h.reload(t).Turns, 2)
}

func TestAskRejectsEmptyQuestionAndUnknownSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newScriptedLLM(), revenueBackend())

	_, err := h.assistant.Ask(context.Background(), h.session.ID, "   ")
	require.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = h.assistant.Ask(context.Background(), "missing", "dünkü ciro")
	require.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, h.llm.purposes())
}

func TestAskSerializesTurnsPerSession(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().
		on("translate", yesterdayRevenue, nil).
		on("summarize", "ok", nil)
	h := newHarness(t, client, revenueBackend())

	const asks = 8
	var wg sync.WaitGroup
	for i := 0; i < asks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess := h.reload(t)
	require.Len(t, sess.Turns, 2*asks)
	for i, turn := range sess.Turns {
		want := nl2query.RoleUser
		if i%2 == 1 {
			want = nl2query.RoleAssistant
		}
		assert.Equal(t, want, turn.Role, "turn %d", i)
	}
	assert.Zero(t, h.assistant.locks.size())
}

// gatedTranslator holds the second translation until release is closed.
type gatedTranslator struct {
	next    nl2query.Translator
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedTranslator) Translate(ctx context.Context, req nl2query.Request) (nl2query.Outcome, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	if call == 2 {
		close(g.entered)
		<-g.release
	}
	return g.next.Translate(ctx, req)
}

func TestResetWaitsForTurnInFlight(t *testing.T) {
	t.Parallel()

	client := newScriptedLLM().
		on("translate", yesterdayRevenue, nil).
		on("summarize", "ok", nil)
	h := newHarness(t, client, revenueBackend())
	inner, err := nl2query.NewLLMTranslator(nl2query.Config{LLM: client, Clock: h.assistant.clock})
	require.NoError(t, err)
	gate := &gatedTranslator{next: inner, entered: make(chan struct{}), release: make(chan struct{})}
	h.assistant.translator = gate

	_, err = h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro")
	require.NoError(t, err)

	turnDone := make(chan error, 1)
	go func() {
		_, err := h.assistant.Ask(context.Background(), h.session.ID, "dünkü ciro tekrar")
		turnDone <- err
	}()
	<-gate.entered

	resetDone := make(chan error, 1)
	go func() {
		resetDone <- h.assistant.Reset(context.Background(), h.session.ID)
	}()
	select {
	case err := <-resetDone:
		t.Fatalf("Reset() returned while a turn was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-turnDone)
	require.NoError(t, <-resetDone)

	sess := h.reload(t)
	assert.Empty(t, sess.Turns)
	assert.Nil(t, sess.LastResult)
	assert.Nil(t, sess.LastQuery)
	assert.Equal(t, "properties/123", sess.PropertyID)
	assert.Zero(t, h.assistant.locks.size())
}

func TestResetUnknownSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newScriptedLLM(), revenueBackend())
	require.ErrorIs(t, h.assistant.Reset(context.Background(), "missing"), session.ErrNotFound)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "session store"))
}
