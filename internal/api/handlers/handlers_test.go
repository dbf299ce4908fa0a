package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kielitutor/tutor/internal/sessions"
	"github.com/kielitutor/tutor/pkg/models"
)

type fakeTutor struct {
	got  []models.ConversationTurn
	resp *models.TutorResponse
	err  error
}

func (f *fakeTutor) Handle(_ context.Context, turn models.ConversationTurn) (*models.TutorResponse, error) {
	f.got = append(f.got, turn)
	return f.resp, f.err
}

type fakeAgents []models.AgentConfig

func (f fakeAgents) List() []models.AgentConfig { return f }

type fakeUsage struct{ summary models.UsageSummary }

func (f *fakeUsage) GetUsageSummary() *models.UsageSummary { return &f.summary }

func newTestHandlers(tutor *fakeTutor) (*Handlers, *sessions.MemorySessionStore) {
	store := sessions.NewMemorySessionStore(10, 0)
	agents := fakeAgents{{Name: models.StageTeacher, Provider: models.ProviderOpenAI, Model: "gpt-4o"}}
	return New(tutor, store, agents, &fakeUsage{summary: models.UsageSummary{Requests: 3}}), store
}

func postMessage(h *Handlers, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", strings.NewReader(body))
	h.SendMessage(rr, req)
	return rr
}

func TestSendMessage_Success(t *testing.T) {
	tutor := &fakeTutor{resp: &models.TutorResponse{
		MessageType:              models.MessageFeedback,
		HasError:                 models.ErrorNo,
		ConversationContinuation: "Mitä muuta?",
	}}
	h, _ := newTestHandlers(tutor)

	rr := postMessage(h, `{"message":"Minä olen Liisa","sessionId":"s1"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var body models.AgentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.SessionID != "s1" || body.Data.ConversationContinuation != "Mitä muuta?" {
		t.Errorf("body = %+v", body)
	}
	if len(tutor.got) != 1 || tutor.got[0].Message == nil || *tutor.got[0].Message != "Minä olen Liisa" {
		t.Errorf("turn = %+v", tutor.got)
	}
}

func TestSendMessage_AbsentAndNullMessageStartConversation(t *testing.T) {
	for _, body := range []string{`{"sessionId":"s1"}`, `{"message":null,"sessionId":"s1"}`} {
		tutor := &fakeTutor{resp: &models.TutorResponse{MessageType: models.MessageInitiation}}
		h, _ := newTestHandlers(tutor)

		rr := postMessage(h, body)

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", body, rr.Code)
		}
		if !tutor.got[0].IsInitiation() {
			t.Errorf("%s: turn should be an initiation", body)
		}
	}
}

func TestSendMessage_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"message":`},
		{"empty body", ``},
		{"missing session", `{"message":"Hei"}`},
		{"blank session", `{"message":"Hei","sessionId":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tutor := &fakeTutor{}
			h, _ := newTestHandlers(tutor)

			rr := postMessage(h, tt.body)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
			if len(tutor.got) != 0 {
				t.Errorf("tutor should not be called")
			}
		})
	}
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{&models.ValidationError{Field: "message", Reason: "too long"}, http.StatusBadRequest, models.KindValidation},
		{&models.ProviderError{Provider: models.ProviderOpenAI, Model: "gpt-4o", StatusCode: 503}, http.StatusBadGateway, models.KindProvider},
		{&models.ExtractionError{Reason: "not json"}, http.StatusBadGateway, models.KindExtraction},
		{&models.ConfigurationError{Reason: "no key"}, http.StatusInternalServerError, models.KindConfiguration},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			h, _ := newTestHandlers(&fakeTutor{err: tt.err})

			rr := postMessage(h, `{"message":"Hei","sessionId":"s1"}`)

			if rr.Code != tt.code {
				t.Errorf("status = %d, want %d", rr.Code, tt.code)
			}
			var body models.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Success || body.Error.Kind != tt.kind || body.SessionID != "s1" {
				t.Errorf("body = %+v, want kind %s", body, tt.kind)
			}
		})
	}
}

func TestResetSession(t *testing.T) {
	h, store := newTestHandlers(&fakeTutor{})
	ctx := context.Background()
	msg := models.ChatMessage{Role: models.RoleUser, Content: "Hei"}
	if err := store.AppendTurn(ctx, "s1", msg, msg); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Delete("/api/v1/chat/sessions/{sessionId}", h.ResetSession)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/sessions/s1", nil))

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if h, _ := store.History(ctx, "s1"); len(h) != 0 {
		t.Errorf("history = %v, want empty", h)
	}
}

func TestListAgentsAndUsage(t *testing.T) {
	h, _ := newTestHandlers(&fakeTutor{})

	rr := httptest.NewRecorder()
	h.ListAgents(rr, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	var agents []models.AgentConfig
	if err := json.Unmarshal(rr.Body.Bytes(), &agents); err != nil {
		t.Fatalf("decode agents: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != models.StageTeacher {
		t.Errorf("agents = %+v", agents)
	}

	rr = httptest.NewRecorder()
	h.GetUsage(rr, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	var usage models.UsageSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &usage); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if usage.Requests != 3 {
		t.Errorf("Requests = %d, want 3", usage.Requests)
	}
}
