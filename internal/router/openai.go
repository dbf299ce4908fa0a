package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/kielitutor/tutor/pkg/models"
	"github.com/sashabaranov/go-openai"
)

// ── OpenAI Provider ─────────────────────────────────────────

// OpenAIDriver calls the Chat Completions API through go-openai. Content mode
// requests a JSON object response.
type OpenAIDriver struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*openai.Client // by API key
}

// NewOpenAIDriver creates the driver. An empty baseURL uses the public API.
func NewOpenAIDriver(baseURL string, httpClient *http.Client) *OpenAIDriver {
	return &OpenAIDriver{
		baseURL:    baseURL,
		httpClient: httpClient,
		clients:    make(map[string]*openai.Client),
	}
}

func (d *OpenAIDriver) Kind() models.ProviderKind { return models.ProviderOpenAI }

func (d *OpenAIDriver) client(apiKey string) *openai.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[apiKey]; ok {
		return c
	}
	cfg := openai.DefaultConfig(apiKey)
	if d.baseURL != "" {
		cfg.BaseURL = d.baseURL
	}
	if d.httpClient != nil {
		cfg.HTTPClient = d.httpClient
	}
	c := openai.NewClientWithConfig(cfg)
	d.clients[apiKey] = c
	return c
}

// Call sends one chat completion.
func (d *OpenAIDriver) Call(ctx context.Context, req *models.GenerateRequest) (*models.Generation, error) {
	if req.APIKey == "" {
		return nil, &models.ConfigurationError{Reason: "openai api key not configured"}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != nil {
		chatReq.Temperature = openAITemperature(*req.Temperature)
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if req.OutputMode == models.OutputContent {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := d.client(req.APIKey).CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, &models.ProviderError{
			Provider:   models.ProviderOpenAI,
			Model:      req.Model,
			StatusCode: openAIStatus(err),
			Err:        err,
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &models.ProviderError{
			Provider: models.ProviderOpenAI,
			Model:    req.Model,
			Err:      fmt.Errorf("empty chat response"),
		}
	}

	choice := resp.Choices[0]
	gen := &models.Generation{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: models.TokenUsage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:  int64(resp.Usage.TotalTokens),
		},
	}
	if req.OutputMode == models.OutputContent {
		gen.Content = []models.ContentBlock{{Type: "json", Text: choice.Message.Content}}
	} else {
		gen.Text = choice.Message.Content
	}
	return gen, nil
}

// openAITemperature maps t onto the request field. The field is omitempty, so
// an exact zero would fall back to the API default of 1.0.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
