// Package prompts loads the plain-text prompt templates that instruct each
// pipeline stage and renders their {{variable}} placeholders.
//
// Placeholder names are lowercase ({{target_language}}); the agent
// configuration file lowercases its variable keys, so a mixed-case
// placeholder could never be filled and is rejected on load.
//
// Templates are read once at startup. A rendered prompt is immutable for the
// lifetime of the process and shared by all requests.
package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kielitutor/tutor/pkg/models"
	"github.com/rs/zerolog/log"
)

// templateVarRegex matches {{variable}} placeholders in prompt templates.
var templateVarRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Prompt is a loaded template.
type Prompt struct {
	Path      string
	Template  string
	Variables []string
	Checksum  string
}

// Render substitutes vars into the template. Every placeholder must have a
// value; a missing one is reported rather than sent to the model verbatim.
func (p *Prompt) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, v := range p.Variables {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("unresolved prompt variables in %s: %s", p.Path, strings.Join(missing, ", "))
	}
	return RenderPrompt(p.Template, vars), nil
}

// Store caches templates by absolute path.
type Store struct {
	mu      sync.RWMutex
	baseDir string
	prompts map[string]*Prompt
}

// NewStore creates a store that resolves relative paths against baseDir.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		prompts: make(map[string]*Prompt),
	}
}

// Load reads the template at path, or returns the cached copy.
func (s *Store) Load(path string) (*Prompt, error) {
	full := s.resolve(path)

	s.mu.RLock()
	p, ok := s.prompts[full]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, &models.ConfigurationError{Reason: "read prompt " + path, Err: err}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, &models.ConfigurationError{Reason: "prompt " + path + " is empty"}
	}

	vars := ExtractVariables(text)
	for _, v := range vars {
		if v != strings.ToLower(v) {
			return nil, &models.ConfigurationError{Reason: fmt.Sprintf("prompt %s: placeholder {{%s}} must be lowercase", path, v)}
		}
	}

	sum := sha256.Sum256([]byte(text))
	p = &Prompt{
		Path:      full,
		Template:  text,
		Variables: vars,
		Checksum:  hex.EncodeToString(sum[:8]),
	}

	s.mu.Lock()
	s.prompts[full] = p
	s.mu.Unlock()

	log.Debug().
		Str("path", full).
		Int("chars", len(text)).
		Strs("variables", p.Variables).
		Msg("Prompt loaded")
	return p, nil
}

func (s *Store) resolve(path string) string {
	if filepath.IsAbs(path) || s.baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(s.baseDir, path)
}

// RenderPrompt replaces {{variable}} placeholders with the given values in a
// single pass. Substituted values are not scanned again; placeholders without
// a value are left as written.
func RenderPrompt(template string, variables map[string]string) string {
	return templateVarRegex.ReplaceAllStringFunc(template, func(match string) string {
		if val, ok := variables[match[2:len(match)-2]]; ok {
			return val
		}
		return match
	})
}

// ExtractVariables extracts {{variable}} placeholder names from a prompt template.
func ExtractVariables(template string) []string {
	matches := templateVarRegex.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, match := range matches {
		if len(match) > 1 && !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}
	return vars
}
