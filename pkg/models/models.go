// Package models defines the shared data types for the tutor pipeline:
// agent configuration, model-call requests and results, and the structured
// TutorResponse returned to callers.
package models

import (
	"strings"
	"time"
)

// ── Stages ──────────────────────────────────────────────────

// Stage names as they appear in the agent configuration file.
const (
	StageTeacher   = "teacher_agent"
	StageExtractor = "extractor_agent"
)

// RequiredStages lists the stages the pipeline cannot run without.
var RequiredStages = []string{StageTeacher, StageExtractor}

// ── Providers ───────────────────────────────────────────────

// ProviderKind identifies a hosted model provider.
type ProviderKind string

const (
	ProviderOpenAI ProviderKind = "openai"
	ProviderGemini ProviderKind = "gemini"
)

// SupportedModels is the closed set of provider/model pairs the router accepts.
var SupportedModels = map[ProviderKind][]string{
	ProviderOpenAI: {"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"},
	ProviderGemini: {"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash"},
}

// DefaultModels is used when a stage omits model_id.
var DefaultModels = map[ProviderKind]string{
	ProviderOpenAI: "gpt-4o",
	ProviderGemini: "gemini-2.5-flash",
}

// DefaultSecretNames maps a provider to the env var / secret holding its API key.
var DefaultSecretNames = map[ProviderKind]string{
	ProviderOpenAI: "OpenAIApiKey",
	ProviderGemini: "GeminiApiKey",
}

// IsSupportedModel reports whether model is in the provider's supported set.
func IsSupportedModel(provider ProviderKind, model string) bool {
	for _, m := range SupportedModels[provider] {
		if m == model {
			return true
		}
	}
	return false
}

// OutputMode selects between free text and a structured content block.
type OutputMode string

const (
	OutputText    OutputMode = "text"
	OutputContent OutputMode = "content"
)

// ── Agent Configuration ─────────────────────────────────────

// AgentConfig binds one pipeline stage to a prompt, provider and model.
// It is built once at startup and never mutated afterwards.
type AgentConfig struct {
	Name         string       `json:"name"`
	PromptPath   string       `json:"prompt_path"`
	Provider     ProviderKind `json:"model_type"`
	Model        string       `json:"model_id"`
	OutputMode   OutputMode   `json:"agent_type"`
	APIKeySecret string       `json:"api_key_secret,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
	MaxTokens    *int         `json:"max_tokens,omitempty"`

	// Variables fill the {{placeholders}} of the stage's prompt template.
	Variables map[string]string `json:"variables,omitempty"`

	// APIKey is only set when the key is inlined in the config file.
	APIKey string `json:"-"`
}

// ── Conversation ────────────────────────────────────────────

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged entry of a conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationTurn is a single inbound exchange. A nil Message starts a new
// conversation.
type ConversationTurn struct {
	Message   *string `json:"message"`
	SessionID string  `json:"session_id"`
}

// IsInitiation reports whether the turn carries no learner utterance.
func (t ConversationTurn) IsInitiation() bool {
	return t.Message == nil || strings.TrimSpace(*t.Message) == ""
}

// Session holds the conversation context kept between requests.
type Session struct {
	ID        string        `json:"id"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	TurnCount int           `json:"turn_count"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// ── Model Calls ─────────────────────────────────────────────

// GenerateRequest is the uniform call shape of the model client adapter.
type GenerateRequest struct {
	Stage        string        `json:"stage"`
	Provider     ProviderKind  `json:"provider"`
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt"`
	History      []ChatMessage `json:"history"`
	OutputMode   OutputMode    `json:"output_mode"`
	Temperature  *float64      `json:"temperature,omitempty"`
	MaxTokens    *int          `json:"max_tokens,omitempty"`

	// APIKey overrides the driver's default credential for this call.
	APIKey string `json:"-"`
}

// ContentBlock is one typed piece of a structured model response.
type ContentBlock struct {
	Type string `json:"type"` // "text" or "json"
	Text string `json:"text"`
}

// Generation is the adapter's result: Text for text mode, Content for
// content mode.
type Generation struct {
	ID           string         `json:"id"`
	Provider     ProviderKind   `json:"provider"`
	Model        string         `json:"model"`
	Mode         OutputMode     `json:"mode"`
	Text         string         `json:"text,omitempty"`
	Content      []ContentBlock `json:"content,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        TokenUsage     `json:"usage"`
	LatencyMs    int64          `json:"latency_ms"`
}

// Output returns the generated text regardless of output mode.
func (g *Generation) Output() string {
	if g == nil {
		return ""
	}
	if g.Mode == OutputContent {
		var b strings.Builder
		for _, c := range g.Content {
			b.WriteString(c.Text)
		}
		return b.String()
	}
	return g.Text
}

type TokenUsage struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	TotalTokens   int64   `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost_usd"`
}

type UsageSummary struct {
	TotalCostUSD float64            `json:"total_cost_usd"`
	TotalTokens  int64              `json:"total_tokens"`
	Requests     int64              `json:"requests"`
	ByStage      map[string]float64 `json:"by_stage"`
	ByModel      map[string]float64 `json:"by_model"`
	ByProvider   map[string]float64 `json:"by_provider"`
}

// ── Tutor Response ──────────────────────────────────────────

// MessageType categorises a tutor reply.
type MessageType string

const (
	MessageInitiation MessageType = "initiation"
	MessageFeedback   MessageType = "feedback"
	MessageConclusion MessageType = "conclusion"
)

// ErrorLevel reports whether the learner's last utterance contained a mistake.
type ErrorLevel string

const (
	ErrorYes   ErrorLevel = "YES"
	ErrorNo    ErrorLevel = "NO"
	ErrorMinor ErrorLevel = "MINOR"
)

// ParseMessageType matches s case-insensitively against the known message types.
func ParseMessageType(s string) (MessageType, bool) {
	switch MessageType(strings.ToLower(strings.TrimSpace(s))) {
	case MessageInitiation:
		return MessageInitiation, true
	case MessageFeedback:
		return MessageFeedback, true
	case MessageConclusion:
		return MessageConclusion, true
	}
	return "", false
}

// ParseErrorLevel matches s case-insensitively against the known error levels.
func ParseErrorLevel(s string) (ErrorLevel, bool) {
	switch ErrorLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case ErrorYes:
		return ErrorYes, true
	case ErrorNo:
		return ErrorNo, true
	case ErrorMinor:
		return ErrorMinor, true
	}
	return "", false
}

// ErrorDetail describes the learner's mistake and how to fix it.
type ErrorDetail struct {
	UserMistake *string  `json:"user_mistake,omitempty"`
	Corrections []string `json:"corrections"`
	Explanation *string  `json:"explanation,omitempty"`
}

// WordTip pairs a Finnish word or phrase with its English translation.
type WordTip struct {
	Finnish string `json:"finnish"`
	English string `json:"english"`
}

// Word tip bounds for initiation and feedback replies.
const (
	MinWordTips = 4
	MaxWordTips = 6
)

// TutorResponse is the structured reply produced by the extractor stage.
type TutorResponse struct {
	MessageType              MessageType  `json:"message_type"`
	HasError                 ErrorLevel   `json:"has_error"`
	FeedbackText             *string      `json:"feedback_text,omitempty"`
	ErrorDetails             *ErrorDetail `json:"error_details,omitempty"`
	Greeting                 *string      `json:"greeting,omitempty"`
	Scenario                 *string      `json:"scenario,omitempty"`
	ConversationContinuation string       `json:"conversation_continuation"`
	WordTips                 []WordTip    `json:"word_tips"`
}

// ── API Envelopes ───────────────────────────────────────────

// PromptRequest is the inbound chat payload.
type PromptRequest struct {
	Message   *string `json:"message"`
	SessionID string  `json:"sessionId"`
}

// AgentResponse wraps a successful tutor reply.
type AgentResponse struct {
	Success   bool           `json:"success"`
	Data      *TutorResponse `json:"data"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorBody names the failure kind so callers can tell failures apart.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse wraps a failed request.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     ErrorBody `json:"error"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Guardrails ──────────────────────────────────────────────

// GuardrailKind identifies the type of guardrail check.
type GuardrailKind string

const (
	GuardrailMaxLength       GuardrailKind = "max_length"
	GuardrailPromptInjection GuardrailKind = "prompt_injection"
	GuardrailControlToken    GuardrailKind = "control_token"
)

// Guardrail defines a single validation rule applied to the learner message.
type Guardrail struct {
	Kind    GuardrailKind          `json:"kind"`
	Enabled bool                   `json:"enabled"`
	Config  map[string]interface{} `json:"config,omitempty"`
}

// GuardrailResult is the outcome of a single guardrail evaluation.
type GuardrailResult struct {
	Passed  bool          `json:"passed"`
	Kind    GuardrailKind `json:"kind"`
	Message string        `json:"message,omitempty"`
}

// GuardrailEvaluation is the aggregate result of all guardrails for a message.
type GuardrailEvaluation struct {
	Passed  bool              `json:"passed"`
	Results []GuardrailResult `json:"results"`
}

// FirstFailure returns the message of the first failed guardrail.
func (e *GuardrailEvaluation) FirstFailure() string {
	for _, r := range e.Results {
		if !r.Passed {
			return r.Message
		}
	}
	return ""
}
