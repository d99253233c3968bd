package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptStore_EmbeddedTemplates(t *testing.T) {
	store := NewPromptStore()

	names := []string{
		TemplateReviewSecurity,
		TemplateReviewPerformance,
		TemplateReviewQuality,
		TemplateReviewTesting,
		TemplateRefactorCode,
		TemplateGenericTask,
	}
	for _, name := range names {
		tpl, err := store.Template(name)
		require.NoError(t, err, "template %s", name)
		assert.NotEmpty(t, tpl)
	}
}

func TestPromptStore_Render(t *testing.T) {
	store := NewPromptStore()

	prompt, err := store.Render(TemplateReviewSecurity, map[string]string{
		PlaceholderCodeDiff: "+ exec(userInput)",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "+ exec(userInput)")
	assert.NotContains(t, prompt, "{{CODE_DIFF}}")
}

func TestPromptStore_RenderRefactor(t *testing.T) {
	store := NewPromptStore()

	prompt, err := store.Render(TemplateRefactorCode, map[string]string{
		PlaceholderCodeSnippet: "func f() { f() }",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "func f() { f() }")
	assert.NotContains(t, prompt, "{{CODE_SNIPPET}}")
}

func TestPromptStore_MissingTemplate(t *testing.T) {
	store := NewPromptStore()

	_, err := store.Template("no_such_template")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = store.Render("no_such_template", nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestPromptStore_UnknownPlaceholderLeftVerbatim(t *testing.T) {
	store := NewPromptStore()

	prompt, err := store.Render(TemplateGenericTask, map[string]string{
		PlaceholderTaskType: "summarize",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "summarize")
	assert.Contains(t, prompt, "{{DETAILS}}", "unreplaced placeholders stay verbatim")
}

func TestPromptStore_DirOverride(t *testing.T) {
	dir := t.TempDir()
	override := "custom security prompt: {{CODE_DIFF}}"
	err := os.WriteFile(filepath.Join(dir, "review_security.txt"), []byte(override), 0o644)
	require.NoError(t, err)

	store := NewPromptStore().WithDir(dir)

	prompt, err := store.Render(TemplateReviewSecurity, map[string]string{
		PlaceholderCodeDiff: "+ x := 1",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom security prompt: + x := 1", prompt)

	// Templates absent from the override dir fall back to the embedded set.
	tpl, err := store.Template(TemplateRefactorCode)
	require.NoError(t, err)
	assert.NotEmpty(t, tpl)
}
