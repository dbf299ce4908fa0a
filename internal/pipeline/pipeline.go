// Package pipeline implements the tutor's two-stage orchestration.
//
// Each request moves through
//
//	AwaitingTeacherOutput → AwaitingExtraction → Complete
//
// and aborts on the first stage failure with the failure kind preserved. The
// pipeline keeps no per-request state between calls; conversation context
// lives in the session store and is only written after a request completes.
package pipeline

import (
	"context"
	"strings"

	"github.com/kielitutor/tutor/internal/agents"
	"github.com/kielitutor/tutor/internal/executor"
	"github.com/kielitutor/tutor/internal/telemetry"
	"github.com/kielitutor/tutor/pkg/contracts"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the position of a request in the pipeline.
type State int

const (
	StateAwaitingTeacherOutput State = iota
	StateAwaitingExtraction
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingTeacherOutput:
		return "awaiting_teacher_output"
	case StateAwaitingExtraction:
		return "awaiting_extraction"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the full record of one request.
type Outcome struct {
	Response    *models.TutorResponse
	TeacherText string
	State       State
	Teacher     *executor.ExecutionTrace
	Extractor   *executor.ExecutionTrace
}

// Options holds the pipeline's optional collaborators.
type Options struct {
	// Sessions keeps conversation history. Nil runs every turn without context.
	Sessions contracts.SessionStore
	// Guardrails vets learner messages. Nil disables input checks.
	Guardrails contracts.GuardrailService
}

// Pipeline is the implementation of contracts.Tutor.
type Pipeline struct {
	teacher    *TeacherStage
	extractor  *ExtractorStage
	sessions   contracts.SessionStore
	guardrails contracts.GuardrailService
	tracer     trace.Tracer
}

// New assembles the pipeline from a loaded agent configuration.
func New(cfg *agents.Configuration, client contracts.ModelClient, opts Options) (*Pipeline, error) {
	teacher, err := cfg.Stage(models.StageTeacher)
	if err != nil {
		return nil, err
	}
	extractor, err := cfg.Stage(models.StageExtractor)
	if err != nil {
		return nil, err
	}

	exec := executor.NewExecutor(client)
	return &Pipeline{
		teacher:    NewTeacherStage(exec, teacher, cfg.SystemPrompt(models.StageTeacher)),
		extractor:  NewExtractorStage(exec, extractor, cfg.SystemPrompt(models.StageExtractor)),
		sessions:   opts.Sessions,
		guardrails: opts.Guardrails,
		tracer:     telemetry.Tracer(),
	}, nil
}

// Handle runs one conversation turn and returns the structured reply.
func (p *Pipeline) Handle(ctx context.Context, turn models.ConversationTurn) (*models.TutorResponse, error) {
	out, err := p.Run(ctx, turn)
	if err != nil {
		return nil, err
	}
	return out.Response, nil
}

// Run is Handle with the intermediate teacher text and stage traces.
func (p *Pipeline) Run(ctx context.Context, turn models.ConversationTurn) (*Outcome, error) {
	initiation := turn.IsInitiation()
	out := &Outcome{State: StateAwaitingTeacherOutput}

	ctx, span := p.tracer.Start(ctx, "pipeline.Handle", trace.WithAttributes(
		attribute.String("tutor.session_id", turn.SessionID),
		attribute.Bool("tutor.initiation", initiation),
	))
	defer span.End()

	fail := func(err error) (*Outcome, error) {
		from := out.State
		out.State = StateFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("tutor.error_kind", models.ErrorKind(err)))
		log.Warn().
			Str("session_id", turn.SessionID).
			Str("state", from.String()).
			Str("kind", models.ErrorKind(err)).
			Err(err).
			Msg("Pipeline request failed")
		return out, err
	}

	if strings.TrimSpace(turn.SessionID) == "" {
		return fail(&models.ValidationError{Field: "session_id", Reason: "is required"})
	}
	if !initiation && p.guardrails != nil {
		eval, err := p.guardrails.EvaluateInput(ctx, *turn.Message)
		if err != nil {
			return fail(err)
		}
		if !eval.Passed {
			return fail(&models.ValidationError{Field: "message", Reason: eval.FirstFailure()})
		}
	}

	history, err := p.history(ctx, turn.SessionID, initiation)
	if err != nil {
		return fail(err)
	}

	// ── Teacher ──
	utterance := utteranceFor(turn)
	tctx, tspan := p.tracer.Start(ctx, "pipeline.teacher")
	text, ttrace, err := p.teacher.Run(tctx, history, utterance)
	out.Teacher = ttrace
	endSpan(tspan, err)
	if err != nil {
		return fail(err)
	}
	out.TeacherText = text
	out.State = StateAwaitingExtraction

	// ── Extractor ──
	xctx, xspan := p.tracer.Start(ctx, "pipeline.extractor")
	resp, xtrace, err := p.extractor.Run(xctx, text)
	out.Extractor = xtrace
	if err == nil && initiation {
		err = checkInitiation(resp)
	}
	endSpan(xspan, err)
	if err != nil {
		return fail(err)
	}

	out.Response = resp
	out.State = StateComplete

	if p.sessions != nil {
		assistant := models.ChatMessage{Role: models.RoleAssistant, Content: text}
		if err := p.sessions.AppendTurn(ctx, turn.SessionID, utterance, assistant); err != nil {
			log.Warn().Err(err).Str("session_id", turn.SessionID).Msg("Failed to record session history")
		}
	}

	span.SetAttributes(
		attribute.String("tutor.message_type", string(resp.MessageType)),
		attribute.String("tutor.has_error", string(resp.HasError)),
	)
	log.Info().
		Str("session_id", turn.SessionID).
		Bool("initiation", initiation).
		Str("message_type", string(resp.MessageType)).
		Str("has_error", string(resp.HasError)).
		Int("word_tips", len(resp.WordTips)).
		Msg("Pipeline request complete")
	return out, nil
}

// history returns the context for the teacher. Initiation starts a fresh
// conversation, so any previous history is discarded.
func (p *Pipeline) history(ctx context.Context, sessionID string, initiation bool) ([]models.ChatMessage, error) {
	if p.sessions == nil {
		return nil, nil
	}
	if initiation {
		return nil, p.sessions.Reset(ctx, sessionID)
	}
	return p.sessions.History(ctx, sessionID)
}

// checkInitiation enforces the opening-turn shape.
func checkInitiation(resp *models.TutorResponse) error {
	if resp.MessageType != models.MessageInitiation {
		return &models.ExtractionError{Reason: "conversation start produced message_type " + string(resp.MessageType)}
	}
	if resp.Greeting == nil || resp.Scenario == nil {
		return &models.ExtractionError{Reason: "initiation requires greeting and scenario"}
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
