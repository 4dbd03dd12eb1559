// Package llm is the hosted text-generation boundary. Translation and
// summarization both call through Client with different prompts and
// temperatures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/whisperer/whisperer/internal/observability"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Fallback models used when no model is configured.
const (
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultOpenAIModel    = "gpt-5"
	DefaultAnthropicModel = "claude-sonnet-4-5"
)

var ErrEmptyResponse = errors.New("model returned no text")

// SafetyThreshold is the content-safety blocking level applied to every harm
// category. Providers without per-category controls ignore it.
type SafetyThreshold string

const (
	SafetyBlockNone   SafetyThreshold = "block_none"
	SafetyBlockHigh   SafetyThreshold = "block_only_high"
	SafetyBlockMedium SafetyThreshold = "block_medium_and_above"
	SafetyBlockLow    SafetyThreshold = "block_low_and_above"
)

func ParseSafetyThreshold(raw string) (SafetyThreshold, error) {
	switch t := SafetyThreshold(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return SafetyBlockNone, nil
	case SafetyBlockNone, SafetyBlockHigh, SafetyBlockMedium, SafetyBlockLow:
		return t, nil
	default:
		return "", fmt.Errorf("invalid safety threshold %q", raw)
	}
}

type Request struct {
	// Purpose labels the call in logs and metrics, e.g. "translate".
	Purpose         string
	System          string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
}

type Response struct {
	Text  string
	Model string
}

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Provider() string
	Model() string
}

type Config struct {
	Provider        string
	BaseURL         string
	APIKey          string
	Model           string
	MaxOutputTokens int
	Safety          SafetyThreshold
	Timeout         time.Duration
}

// ResolveModel returns the configured model or the provider's fallback.
func ResolveModel(provider, model string) string {
	if model = strings.TrimSpace(model); model != "" {
		return model
	}
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderAnthropic:
		return DefaultAnthropicModel
	default:
		return DefaultGeminiModel
	}
}

// New builds the configured provider client wrapped with logging and metrics.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Client, error) {
	cfg.Model = ResolveModel(cfg.Provider, cfg.Model)
	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case ProviderGemini, "":
		client, err = NewGemini(ctx, cfg)
	case ProviderOpenAI:
		client, err = NewOpenAI(cfg)
	case ProviderAnthropic:
		client, err = NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(client, logger), nil
}

type instrumented struct {
	next   Client
	logger *slog.Logger
}

// Instrument records latency and outcome for each call.
func Instrument(client Client, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumented{next: client, logger: logger}
}

func (c *instrumented) Provider() string { return c.next.Provider() }
func (c *instrumented) Model() string    { return c.next.Model() }

func (c *instrumented) Generate(ctx context.Context, req Request) (Response, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = "generic"
	}
	start := time.Now()
	resp, err := c.next.Generate(ctx, req)
	elapsed := time.Since(start)
	observability.ObserveLLMCall(c.next.Provider(), purpose, elapsed, err)

	attrs := append(observability.LogAttrs(ctx),
		slog.String("provider", c.next.Provider()),
		slog.String("model", c.next.Model()),
		slog.String("purpose", purpose),
		slog.Float64("temperature", req.Temperature),
		slog.Duration("elapsed", elapsed),
	)
	if err != nil {
		c.logger.WarnContext(ctx, "llm call failed", append(attrs, slog.String("error", err.Error()))...)
		return Response{}, err
	}
	c.logger.DebugContext(ctx, "llm call completed", append(attrs, slog.Int("response_len", len(resp.Text)))...)
	return resp, nil
}
