package pipeline

import (
	"context"

	"github.com/kielitutor/tutor/internal/executor"
	"github.com/kielitutor/tutor/pkg/models"
)

// InitiationCue is sent to the teacher in place of a learner utterance when a
// conversation starts. The teacher prompt documents how to react to it.
const InitiationCue = "[START_CONVERSATION]"

// TeacherStage produces the tutor's free-text reply.
type TeacherStage struct {
	exec   *executor.Executor
	stage  *models.AgentConfig
	prompt string
}

// NewTeacherStage binds the teacher configuration and its rendered prompt.
func NewTeacherStage(exec *executor.Executor, stage *models.AgentConfig, prompt string) *TeacherStage {
	return &TeacherStage{exec: exec, stage: stage, prompt: prompt}
}

// Run sends history plus the new utterance and returns the raw reply text.
// Empty output is returned as-is; the extractor rejects it.
func (t *TeacherStage) Run(ctx context.Context, history []models.ChatMessage, utterance models.ChatMessage) (string, *executor.ExecutionTrace, error) {
	msgs := make([]models.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, utterance)

	gen, trace, err := t.exec.Execute(ctx, t.stage, t.prompt, msgs)
	if err != nil {
		return "", trace, err
	}
	return gen.Output(), trace, nil
}

// utteranceFor maps an inbound turn onto the user message sent to the teacher.
func utteranceFor(turn models.ConversationTurn) models.ChatMessage {
	if turn.IsInitiation() {
		return models.ChatMessage{Role: models.RoleUser, Content: InitiationCue}
	}
	return models.ChatMessage{Role: models.RoleUser, Content: *turn.Message}
}
