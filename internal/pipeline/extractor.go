package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/kielitutor/tutor/internal/executor"
	"github.com/kielitutor/tutor/pkg/models"
)

// ExtractorStage maps the teacher's free text onto a TutorResponse.
type ExtractorStage struct {
	exec   *executor.Executor
	stage  *models.AgentConfig
	prompt string
}

// NewExtractorStage binds the extractor configuration and its rendered prompt.
func NewExtractorStage(exec *executor.Executor, stage *models.AgentConfig, prompt string) *ExtractorStage {
	return &ExtractorStage{exec: exec, stage: stage, prompt: prompt}
}

// Run extracts a validated TutorResponse from teacherText. Provider failures
// are returned unchanged; everything else is an *models.ExtractionError.
func (x *ExtractorStage) Run(ctx context.Context, teacherText string) (*models.TutorResponse, *executor.ExecutionTrace, error) {
	if strings.TrimSpace(teacherText) == "" {
		return nil, nil, &models.ExtractionError{Reason: "teacher output is empty"}
	}

	gen, trace, err := x.exec.Execute(ctx, x.stage, x.prompt, []models.ChatMessage{
		{Role: models.RoleUser, Content: teacherText},
	})
	if err != nil {
		return nil, trace, err
	}

	raw := gen.Output()
	if strings.TrimSpace(raw) == "" {
		return nil, trace, &models.ExtractionError{Reason: "extractor returned no content"}
	}

	resp, err := ParseTutorResponse(raw)
	if err != nil {
		return nil, trace, err
	}
	return resp, trace, nil
}

// ── Parsing ─────────────────────────────────────────────────

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// level accepts a JSON string or boolean for has_error.
type level string

func (l *level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = level(s)
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("has_error must be a string or boolean")
	}
	if v {
		*l = level(models.ErrorYes)
	} else {
		*l = level(models.ErrorNo)
	}
	return nil
}

type rawErrorDetail struct {
	UserMistake *string  `json:"user_mistake"`
	Corrections []string `json:"corrections"`
	Explanation *string  `json:"explanation"`
}

type rawTutorResponse struct {
	MessageType              *string          `json:"message_type"`
	HasError                 *level           `json:"has_error"`
	FeedbackText             *string          `json:"feedback_text"`
	ErrorDetails             *rawErrorDetail  `json:"error_details"`
	Greeting                 *string          `json:"greeting"`
	Scenario                 *string          `json:"scenario"`
	ConversationContinuation *string          `json:"conversation_continuation"`
	WordTips                 []models.WordTip `json:"word_tips"`
}

// ParseTutorResponse decodes and validates extractor output. A surrounding
// markdown code fence is tolerated; enum values match case-insensitively;
// error_details is dropped when has_error is NO.
func ParseTutorResponse(raw string) (*models.TutorResponse, error) {
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(text, "{") {
		return nil, &models.ExtractionError{Reason: "extractor output is not a JSON object"}
	}

	var r rawTutorResponse
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&r); err != nil {
		return nil, &models.ExtractionError{Reason: "decode extractor output", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &models.ExtractionError{Reason: "extractor output has trailing content after the JSON object"}
	}

	if r.MessageType == nil {
		return nil, missing("message_type")
	}
	mt, ok := models.ParseMessageType(*r.MessageType)
	if !ok {
		return nil, &models.ExtractionError{Reason: fmt.Sprintf("unknown message_type %q", *r.MessageType)}
	}
	if r.HasError == nil {
		return nil, missing("has_error")
	}
	he, ok := models.ParseErrorLevel(string(*r.HasError))
	if !ok {
		return nil, &models.ExtractionError{Reason: fmt.Sprintf("unknown has_error %q", string(*r.HasError))}
	}

	resp := &models.TutorResponse{
		MessageType:  mt,
		HasError:     he,
		FeedbackText: optional(r.FeedbackText),
		Greeting:     optional(r.Greeting),
		Scenario:     optional(r.Scenario),
	}
	if r.ConversationContinuation != nil {
		resp.ConversationContinuation = strings.TrimSpace(*r.ConversationContinuation)
	}
	if resp.ConversationContinuation == "" {
		return nil, missing("conversation_continuation")
	}

	if he != models.ErrorNo {
		if r.ErrorDetails == nil {
			return nil, &models.ExtractionError{Reason: fmt.Sprintf("has_error is %s but error_details is missing", he)}
		}
		corrections := nonBlank(r.ErrorDetails.Corrections)
		if len(corrections) == 0 {
			return nil, &models.ExtractionError{Reason: fmt.Sprintf("has_error is %s but corrections is empty", he)}
		}
		resp.ErrorDetails = &models.ErrorDetail{
			UserMistake: optional(r.ErrorDetails.UserMistake),
			Corrections: corrections,
			Explanation: optional(r.ErrorDetails.Explanation),
		}
	}

	tips, err := wordTips(r.WordTips)
	if err != nil {
		return nil, err
	}
	resp.WordTips = tips
	if mt != models.MessageConclusion && (len(tips) < models.MinWordTips || len(tips) > models.MaxWordTips) {
		return nil, &models.ExtractionError{
			Reason: fmt.Sprintf("%s needs %d-%d word_tips, got %d", mt, models.MinWordTips, models.MaxWordTips, len(tips)),
		}
	}

	return resp, nil
}

func missing(field string) error {
	return &models.ExtractionError{Reason: "missing required field " + field}
}

// optional trims s and maps blank strings to nil.
func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// wordTips drops fully blank entries and rejects half-filled ones.
func wordTips(in []models.WordTip) ([]models.WordTip, error) {
	out := make([]models.WordTip, 0, len(in))
	for i, tip := range in {
		fi, en := strings.TrimSpace(tip.Finnish), strings.TrimSpace(tip.English)
		switch {
		case fi == "" && en == "":
			continue
		case fi == "" || en == "":
			return nil, &models.ExtractionError{Reason: fmt.Sprintf("word_tips[%d] needs both finnish and english", i)}
		}
		out = append(out, models.WordTip{Finnish: fi, English: en})
	}
	return out, nil
}
