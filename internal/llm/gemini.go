package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainz/internal/models"
)

const (
	geminiDefaultURL   = "https://generativelanguage.googleapis.com"
	geminiDefaultModel = "gemini-2.5-flash"
)

var ErrBadResponse = errors.New("unusable model response")

// GeminiEnhancer calls the Gemini generateContent endpoint.
type GeminiEnhancer struct {
	apiKey string
	model  string
	http   *resty.Client
	logger *zap.Logger
}

// NewGemini returns an enhancer for model. Empty baseURL and model use the public defaults.
func NewGemini(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *GeminiEnhancer {
	if baseURL == "" {
		baseURL = geminiDefaultURL
	}
	if model == "" {
		model = geminiDefaultModel
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiEnhancer{
		apiKey: apiKey,
		model:  model,
		http:   resty.New().SetBaseURL(baseURL).SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		logger: logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type narrative struct {
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
	Insights   []string `json:"insights"`
}

func (g *GeminiEnhancer) Enhance(ctx context.Context, loc models.Location, aggregated models.SourceForecast, sources []models.SourceForecast) (models.Enhancement, error) {
	if g.apiKey == "" {
		return models.Enhancement{}, ErrNotConfigured
	}
	var req geminiRequest
	req.Contents = []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(loc, aggregated, sources)}}}}
	req.GenerationConfig.Temperature = 0.2
	req.GenerationConfig.ResponseMimeType = "application/json"

	var out geminiResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", g.apiKey).
		SetBody(req).
		SetResult(&out).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", g.model))
	if err != nil {
		return models.Enhancement{}, fmt.Errorf("gemini request: %w", err)
	}
	if !resp.IsSuccess() {
		return models.Enhancement{}, fmt.Errorf("gemini: HTTP %d", resp.StatusCode())
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return models.Enhancement{}, fmt.Errorf("%w: no candidates", ErrBadResponse)
	}

	text := out.Candidates[0].Content.Parts[0].Text
	n, err := parseNarrative(text)
	if err != nil {
		g.logger.Debug("gemini response not usable", zap.Int("text_length", len(text)), zap.Error(err))
		return models.Enhancement{}, err
	}
	return models.Enhancement{
		Summary:    n.Summary,
		Insights:   n.Insights,
		Confidence: clamp(n.Confidence, 0, 100),
		Model:      g.model,
	}, nil
}

// parseNarrative decodes the model text, tolerating a surrounding fenced code block.
func parseNarrative(text string) (narrative, error) {
	text = stripFences(text)
	var n narrative
	if err := json.Unmarshal([]byte(text), &n); err != nil {
		return narrative{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	n.Summary = strings.TrimSpace(n.Summary)
	if n.Summary == "" {
		return narrative{}, fmt.Errorf("%w: empty summary", ErrBadResponse)
	}
	return n, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:] // language tag line
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
