// Package contracts defines the service interfaces the tutor pipeline is
// assembled from.
//
// The server wires concrete implementations (ModelRouter, MemorySessionStore,
// Pipeline) behind these interfaces, so tests and alternative deployments can
// swap any of them with a single change in pkg/server.
package contracts

import (
	"context"

	"github.com/kielitutor/tutor/pkg/models"
)

// ── Model Client ────────────────────────────────────────────

// ModelClient is the uniform capability over hosted model providers.
// OSS implementation: internal/router.ModelRouter
type ModelClient interface {
	// Generate performs exactly one outbound model call.
	// Failures are *models.ProviderError or *models.ConfigurationError.
	Generate(ctx context.Context, req *models.GenerateRequest) (*models.Generation, error)
}

// ── Provider Driver ─────────────────────────────────────────

// ProviderDriver is the interface for a single hosted-model provider.
// Built in: openai (go-openai), gemini (Generative Language REST API).
//
// Drivers are registered in the Model Router via RegisterDriver().
type ProviderDriver interface {
	// Kind returns the provider identifier.
	Kind() models.ProviderKind

	// Call sends one generation request to the provider.
	Call(ctx context.Context, req *models.GenerateRequest) (*models.Generation, error)
}

// ── Session Store ───────────────────────────────────────────

// SessionStore keeps the conversation context that the teacher stage needs
// between requests. The pipeline itself holds no state.
type SessionStore interface {
	// History returns a copy of the session's messages (empty for unknown sessions).
	History(ctx context.Context, sessionID string) ([]models.ChatMessage, error)

	// AppendTurn records one completed learner/tutor exchange.
	AppendTurn(ctx context.Context, sessionID string, user, assistant models.ChatMessage) error

	// Reset discards the session's history.
	Reset(ctx context.Context, sessionID string) error

	// PurgeExpired removes sessions idle past their expiry and returns how many.
	PurgeExpired(ctx context.Context) (int, error)
}

// ── Tutor ───────────────────────────────────────────────────

// Tutor is the single external entrypoint of the pipeline.
// OSS implementation: internal/pipeline.Pipeline
type Tutor interface {
	Handle(ctx context.Context, turn models.ConversationTurn) (*models.TutorResponse, error)
}

// ── Guardrails ──────────────────────────────────────────────

// GuardrailService validates learner input before any model is called.
type GuardrailService interface {
	EvaluateInput(ctx context.Context, message string) (*models.GuardrailEvaluation, error)
}

// ── Secrets ─────────────────────────────────────────────────

// SecretResolver looks up provider API keys by name.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}
