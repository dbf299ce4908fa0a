package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kielitutor/tutor/internal/config"
	"github.com/kielitutor/tutor/pkg/models"
)

func writeAgentConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"teacher.md":   "Olet {{target_language}} opettaja.",
		"extractor.md": "Palauta JSON.",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "agent_config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(path string) *config.Config {
	cfg := config.Load()
	cfg.AgentConfigPath = path
	cfg.Secrets.AWSEnabled = false
	cfg.Telemetry.Enabled = false
	return cfg
}

func TestNewWithConfig(t *testing.T) {
	path := writeAgentConfig(t, `{
	  "teacher_agent": {"prompt_path": "teacher.md", "model_type": "openai", "agent_type": "text", "api_key_secret": "TUTOR_TEST_OPENAI"},
	  "extractor_agent": {"prompt_path": "extractor.md", "model_type": "gemini", "agent_type": "content", "api_key": "inline"}
	}`)
	t.Setenv("TUTOR_TEST_OPENAI", "sk-test")

	srv, err := NewWithConfig(context.Background(), testConfig(path))
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer srv.ShutdownFunc(context.Background())

	if srv.Pipeline == nil || srv.Janitor == nil {
		t.Fatal("pipeline and janitor must be wired")
	}
	teacher, _ := srv.Agents.Stage(models.StageTeacher)
	if teacher.APIKey != "sk-test" {
		t.Errorf("teacher APIKey = %q, want resolved from env", teacher.APIKey)
	}

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

func TestNewWithConfig_MissingKeyIsConfigurationError(t *testing.T) {
	path := writeAgentConfig(t, `{
	  "teacher_agent": {"prompt_path": "teacher.md", "model_type": "openai", "agent_type": "text", "api_key_secret": "TUTOR_TEST_UNSET_KEY"},
	  "extractor_agent": {"prompt_path": "extractor.md", "model_type": "gemini", "agent_type": "content", "api_key": "inline"}
	}`)
	os.Unsetenv("TUTOR_TEST_UNSET_KEY")

	_, err := NewWithConfig(context.Background(), testConfig(path))

	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigurationError", err)
	}
	if cfgErr.Stage != models.StageTeacher {
		t.Errorf("Stage = %q, want %q", cfgErr.Stage, models.StageTeacher)
	}
}

func TestNewWithConfig_InvalidProcessConfig(t *testing.T) {
	cfg := testConfig("agent_config.json")
	cfg.Port = 0
	if _, err := NewWithConfig(context.Background(), cfg); err == nil {
		t.Error("expected error for port 0")
	}
}

func TestNewWithConfig_MissingFile(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing.json"))

	_, err := NewWithConfig(context.Background(), cfg)

	if models.ErrorKind(err) != models.KindConfiguration {
		t.Errorf("ErrorKind = %q, want %q (err: %v)", models.ErrorKind(err), models.KindConfiguration, err)
	}
}
