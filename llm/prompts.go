package llm

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Template names, one per agent capability.
const (
	TemplateReviewSecurity    = "review_security"
	TemplateReviewPerformance = "review_performance"
	TemplateReviewQuality     = "review_quality"
	TemplateReviewTesting     = "review_testing"
	TemplateRefactorCode      = "refactor_code"
	TemplateGenericTask       = "generic_task"
)

// Placeholder keys the embedded templates expect.
const (
	PlaceholderCodeDiff    = "CODE_DIFF"
	PlaceholderCodeSnippet = "CODE_SNIPPET"
	PlaceholderTaskType    = "TASK_TYPE"
	PlaceholderDetails     = "DETAILS"
)

// ErrTemplateNotFound is returned when a template exists neither in the
// override directory nor in the embedded set.
var ErrTemplateNotFound = errors.New("prompt template not found")

//go:embed prompts/*.txt
var embeddedPrompts embed.FS

// PromptStore loads prompt templates and renders them by replacing
// {{PLACEHOLDER}} markers. Templates ship embedded in the binary; an
// optional override directory lets operators tune prompts without a
// rebuild (files there shadow embedded ones by name).
type PromptStore struct {
	dir string
}

// NewPromptStore creates a store serving the embedded templates.
func NewPromptStore() *PromptStore {
	return &PromptStore{}
}

// WithDir sets the on-disk override directory.
func (s *PromptStore) WithDir(dir string) *PromptStore {
	s.dir = dir
	return s
}

// Template returns the raw template text for name (no ".txt" suffix).
func (s *PromptStore) Template(name string) (string, error) {
	filename := name + ".txt"

	if s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, filename))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt template %s: %w", name, err)
		}
	}

	data, err := embeddedPrompts.ReadFile("prompts/" + filename)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return string(data), nil
}

// Render loads the named template and substitutes each {{KEY}} with its
// value. Unknown placeholders left in the template remain verbatim; the
// substitution is plain text, not a template language.
func (s *PromptStore) Render(name string, placeholders map[string]string) (string, error) {
	prompt, err := s.Template(name)
	if err != nil {
		return "", err
	}
	for key, value := range placeholders {
		prompt = strings.ReplaceAll(prompt, "{{"+key+"}}", value)
	}
	return prompt, nil
}
