package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kielitutor/tutor/pkg/models"
)

// ── Gemini Provider ─────────────────────────────────────────

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxErrorBodySize     = 4 << 10
)

// GeminiDriver calls the Generative Language generateContent endpoint.
// Content mode sets responseMimeType to application/json.
type GeminiDriver struct {
	baseURL string
	client  *http.Client
}

// NewGeminiDriver creates the driver. An empty baseURL uses the public API.
func NewGeminiDriver(baseURL string, client *http.Client) *GeminiDriver {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiDriver{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *GeminiDriver) Kind() models.ProviderKind { return models.ProviderGemini }

type geminiGenerateRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiGenerateResponse struct {
	ResponseID string `json:"responseId"`
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Call sends one generateContent request.
func (d *GeminiDriver) Call(ctx context.Context, req *models.GenerateRequest) (*models.Generation, error) {
	if req.APIKey == "" {
		return nil, &models.ConfigurationError{Reason: "gemini api key not configured"}
	}

	body := geminiGenerateRequest{Contents: make([]geminiContent, 0, len(req.History))}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.History {
		role := m.Role
		switch role {
		case models.RoleSystem:
			continue
		case models.RoleAssistant:
			// Gemini uses "model" instead of "assistant"
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	body.GenerationConfig.Temperature = req.Temperature
	if req.MaxTokens != nil {
		body.GenerationConfig.MaxOutputTokens = *req.MaxTokens
	}
	if req.OutputMode == models.OutputContent {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, d.fail(req, 0, fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", d.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, d.fail(req, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The key travels in a header, never in the URL.
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, d.fail(req, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, d.fail(req, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	var gr geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, d.fail(req, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(gr.Candidates) == 0 {
		reason := "no candidates in response"
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			reason += " (blocked: " + gr.PromptFeedback.BlockReason + ")"
		}
		return nil, d.fail(req, resp.StatusCode, fmt.Errorf("%s", reason))
	}

	candidate := gr.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	gen := &models.Generation{
		ID:           gr.ResponseID,
		Model:        req.Model,
		FinishReason: candidate.FinishReason,
		Usage: models.TokenUsage{
			InputTokens:  gr.UsageMetadata.PromptTokenCount,
			OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  gr.UsageMetadata.TotalTokenCount,
		},
	}
	if gen.Usage.TotalTokens == 0 {
		gen.Usage.TotalTokens = gen.Usage.InputTokens + gen.Usage.OutputTokens
	}
	if req.OutputMode == models.OutputContent {
		gen.Content = []models.ContentBlock{{Type: "json", Text: text.String()}}
	} else {
		gen.Text = text.String()
	}
	return gen, nil
}

func (d *GeminiDriver) fail(req *models.GenerateRequest, status int, err error) error {
	return &models.ProviderError{
		Provider:   models.ProviderGemini,
		Model:      req.Model,
		StatusCode: status,
		Err:        fmt.Errorf("gemini: %w", err),
	}
}
