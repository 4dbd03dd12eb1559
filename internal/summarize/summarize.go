// Package summarize narrates a fetched report table in a few sentences.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whisperer/whisperer/internal/llm"
	"github.com/whisperer/whisperer/internal/observability"
	"github.com/whisperer/whisperer/internal/report"
)

const (
	SampleRows         = 10
	DefaultTemperature = 0.7

	// FallbackSummary is shown when the table was fetched but narration failed.
	FallbackSummary = "The report was fetched, but a written summary could not be generated. The table below has the results."
)

type Summarizer struct {
	client      llm.Client
	logger      *slog.Logger
	temperature float64
	maxTokens   int
}

func New(client llm.Client, logger *slog.Logger, temperature float64, maxTokens int) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Summarizer{client: client, logger: logger, temperature: temperature, maxTokens: maxTokens}
}

// Summarize never fails; generation errors degrade to FallbackSummary.
func (s *Summarizer) Summarize(ctx context.Context, question string, result report.Result) string {
	resp, err := s.client.Generate(ctx, llm.Request{
		Purpose:         "summarize",
		Prompt:          BuildPrompt(question, result),
		Temperature:     s.temperature,
		MaxOutputTokens: s.maxTokens,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "summary generation failed",
			append(observability.LogAttrs(ctx), slog.String("error", err.Error()))...)
		return FallbackSummary
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return FallbackSummary
	}
	return text
}

func BuildPrompt(question string, result report.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n\n", strings.TrimSpace(question))
	fmt.Fprintf(&b, "Report data (first %d of %d rows):\n", min(SampleRows, len(result.Rows)), result.RowCount)
	b.WriteString(result.Table(SampleRows))
	b.WriteString("\nWrite a friendly, clear answer of one to three sentences in the same language as the question. ")
	b.WriteString("Mention the key numbers; rounding is fine. Do not describe the table format.")
	return b.String()
}
