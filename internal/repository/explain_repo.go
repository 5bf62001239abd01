package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"golang-backtest/config"
	"golang-backtest/internal/dto"
	"golang-backtest/pkg/httpclient"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/ratelimit"
)

const (
	ExplainModeConcise  = "concise"
	ExplainModeDetailed = "detailed"
)

// ExplainRepository turns a selection result into a plain-English summary.
// An empty string with a nil error means the explainer is switched off.
type ExplainRepository interface {
	Explain(ctx context.Context, ec dto.ExplainContext, mode string) (string, error)
}

type explainRepository struct {
	httpClient     httpclient.HTTPClient
	cfg            *config.Config
	log            *logger.Logger
	tokenLimiter   *ratelimit.TokenLimiter
	requestLimiter *rate.Limiter
	genAiClient    *genai.Client
}

// NewExplainRepository wires the Gemini-backed explainer. With the feature
// disabled or no API key configured it degrades to a no-op so callers never
// branch on configuration.
func NewExplainRepository(cfg *config.Config, log *logger.Logger) (ExplainRepository, error) {
	if !cfg.Gemini.Enabled || cfg.Gemini.APIKey == "" {
		return &disabledExplainRepository{}, nil
	}

	secondsPerRequest := time.Minute / time.Duration(cfg.Gemini.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)
	tokenLimiter := ratelimit.NewTokenLimiter(cfg.Gemini.MaxTokenPerMinute)

	genAiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &explainRepository{
		httpClient:     httpclient.New(log, cfg.Gemini.BaseURL, cfg.Gemini.Timeout, ""),
		cfg:            cfg,
		log:            log,
		requestLimiter: requestLimiter,
		tokenLimiter:   tokenLimiter,
		genAiClient:    genAiClient,
	}, nil
}

func (r *explainRepository) Explain(ctx context.Context, ec dto.ExplainContext, mode string) (string, error) {
	prompt, err := r.buildPrompt(ec, mode)
	if err != nil {
		return "", fmt.Errorf("failed to build explain prompt: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, "user"),
	}
	tokenResp, err := r.genAiClient.Models.CountTokens(ctx, r.cfg.Gemini.BaseModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to count tokens: %w", err)
	}

	r.log.Debug("Gemini token count",
		logger.IntField("total_tokens", int(tokenResp.TotalTokens)),
		logger.IntField("remaining", r.tokenLimiter.GetRemaining()),
	)
	if err := r.tokenLimiter.Wait(ctx, int(tokenResp.TotalTokens)); err != nil {
		return "", fmt.Errorf("failed to wait for gemini token limit: %w", err)
	}
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("failed to wait for gemini request limit: %w", err)
	}

	payload := dto.GeminiAPIRequest{
		Contents: []dto.Content{{Parts: []dto.Part{{Text: prompt}}}},
	}
	apiURL := fmt.Sprintf("/%s:generateContent?key=%s", r.cfg.Gemini.BaseModel, r.cfg.Gemini.APIKey)

	var apiResp dto.GeminiAPIResponse
	resp, err := r.httpClient.Post(ctx, apiURL, payload, nil, &apiResp)
	if err != nil {
		return "", fmt.Errorf("failed to send request to gemini: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.log.ErrorContext(ctx, "Gemini API returned non-OK status",
			logger.IntField("status_code", resp.StatusCode))
		return "", fmt.Errorf("gemini api returned status: %d", resp.StatusCode)
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("invalid response from gemini api: no content found")
	}

	text := apiResp.Candidates[0].Content.Parts[0].Text
	return strings.TrimSpace(strings.Trim(text, "`")), nil
}

func (r *explainRepository) buildPrompt(ec dto.ExplainContext, mode string) (string, error) {
	contextJSON, err := json.MarshalIndent(ec, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("You are a quantitative research assistant explaining backtest results " +
		"to a non-technical audience. Use ONLY the provided numbers. " +
		"Do not invent results or metrics not in the data. " +
		"Not financial advice. Keep it under 200 words.\n\n")

	if mode == ExplainModeDetailed {
		sb.WriteString("Explain the following strategy selection result in detail. " +
			"Cover: what the strategy does, why it was selected, key risks, " +
			"and what the numbers mean.\n\n")
	} else {
		sb.WriteString("Give a concise plain-English summary of this strategy selection. " +
			"Focus on: what was chosen, why, and the key risk/return tradeoff.\n\n")
	}

	sb.WriteString("```json\n")
	sb.Write(contextJSON)
	sb.WriteString("\n```")
	return sb.String(), nil
}

type disabledExplainRepository struct{}

func (*disabledExplainRepository) Explain(context.Context, dto.ExplainContext, string) (string, error) {
	return "", nil
}
