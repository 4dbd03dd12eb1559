package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Gemini struct {
	models    contentGenerator
	model     string
	maxTokens int
	safety    []*genai.SafetySetting
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiWithModels(client.Models, cfg), nil
}

func newGeminiWithModels(models contentGenerator, cfg Config) *Gemini {
	return &Gemini{
		models:    models,
		model:     ResolveModel(ProviderGemini, cfg.Model),
		maxTokens: cfg.MaxOutputTokens,
		safety:    geminiSafetySettings(cfg.Safety),
	}
}

func (g *Gemini) Provider() string { return ProviderGemini }
func (g *Gemini) Model() string    { return g.model }

func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(float32(req.Temperature)),
		SafetySettings: g.safety,
	}
	if tokens := firstPositive(req.MaxOutputTokens, g.maxTokens); tokens > 0 {
		config.MaxOutputTokens = int32(tokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), config)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{Text: text, Model: g.model}, nil
}

func geminiSafetySettings(threshold SafetyThreshold) []*genai.SafetySetting {
	var level genai.HarmBlockThreshold
	switch threshold {
	case SafetyBlockHigh:
		level = genai.HarmBlockThresholdBlockOnlyHigh
	case SafetyBlockMedium:
		level = genai.HarmBlockThresholdBlockMediumAndAbove
	case SafetyBlockLow:
		level = genai.HarmBlockThresholdBlockLowAndAbove
	default:
		level = genai.HarmBlockThresholdBlockNone
	}
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{Category: category, Threshold: level})
	}
	return settings
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
