// Package executor runs a single pipeline stage:
//
//	stage config + rendered system prompt + history → build request →
//	one Model Client call → generation + execution trace
//
// Both the teacher and the extractor stage go through the same executor; they
// differ only in their configuration and in what they feed it.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kielitutor/tutor/pkg/contracts"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/rs/zerolog/log"
)

// ExecutionTrace records one stage execution.
type ExecutionTrace struct {
	TraceID   string            `json:"trace_id"`
	Stage     string            `json:"stage"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Messages  int               `json:"messages"`
	TotalMs   int64             `json:"total_ms"`
	Usage     models.TokenUsage `json:"usage"`
	StartedAt time.Time         `json:"started_at"`
}

// Executor runs stages through a Model Client.
type Executor struct {
	client contracts.ModelClient
}

// NewExecutor creates a new stage executor.
func NewExecutor(client contracts.ModelClient) *Executor {
	return &Executor{client: client}
}

// Execute performs exactly one model call for stage.
//
// Errors from the client are returned unchanged so the caller can tell a
// ProviderError from a ConfigurationError.
func (e *Executor) Execute(ctx context.Context, stage *models.AgentConfig, systemPrompt string, history []models.ChatMessage) (*models.Generation, *ExecutionTrace, error) {
	trace := &ExecutionTrace{
		TraceID:   uuid.New().String(),
		Stage:     stage.Name,
		Provider:  string(stage.Provider),
		Model:     stage.Model,
		Messages:  len(history),
		StartedAt: time.Now().UTC(),
	}

	req := buildRequest(stage, systemPrompt, history)
	start := time.Now()
	gen, err := e.client.Generate(ctx, req)
	trace.TotalMs = time.Since(start).Milliseconds()
	if err != nil {
		return nil, trace, err
	}
	if gen == nil {
		return nil, trace, &models.ProviderError{
			Stage:    stage.Name,
			Provider: stage.Provider,
			Model:    stage.Model,
			Err:      fmt.Errorf("model client returned no generation"),
		}
	}
	trace.Usage = gen.Usage

	log.Info().
		Str("stage", stage.Name).
		Str("trace_id", trace.TraceID).
		Str("model", stage.Model).
		Int("history", len(history)).
		Int64("total_ms", trace.TotalMs).
		Int64("tokens", gen.Usage.TotalTokens).
		Msg("Stage execution complete")

	return gen, trace, nil
}

// buildRequest maps a stage configuration onto the adapter call shape.
func buildRequest(stage *models.AgentConfig, systemPrompt string, history []models.ChatMessage) *models.GenerateRequest {
	msgs := make([]models.ChatMessage, len(history))
	copy(msgs, history)

	return &models.GenerateRequest{
		Stage:        stage.Name,
		Provider:     stage.Provider,
		Model:        stage.Model,
		SystemPrompt: systemPrompt,
		History:      msgs,
		OutputMode:   stage.OutputMode,
		Temperature:  stage.Temperature,
		MaxTokens:    stage.MaxTokens,
		APIKey:       stage.APIKey,
	}
}
