package llm

import (
	"context"
	"strings"
	"sync"
)

// Generator produces text for a fully rendered prompt. Implementations must
// be safe for concurrent use; agents share one generator across tasks.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// defaultScriptedResponse is returned by a ScriptedGenerator constructed
// without responses. Neutral enough to read as a review or a recommendation.
const defaultScriptedResponse = "No blocking issues found."

// ScriptedGenerator replays a fixed list of responses in order, repeating the
// last one once the script is exhausted. It is deterministic and offline, so
// tests and the demo run without a model provider. Prompts are recorded for
// assertions.
type ScriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	next      int
	prompts   []string
	err       error
}

// NewScriptedGenerator creates a generator that replays responses in order.
// With no responses it always returns a neutral default.
func NewScriptedGenerator(responses ...string) *ScriptedGenerator {
	return &ScriptedGenerator{responses: responses}
}

// FailWith makes every subsequent Generate call return err until Reset.
func (g *ScriptedGenerator) FailWith(err error) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
	return g
}

// Generate records the prompt and returns the next scripted response.
func (g *ScriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return defaultScriptedResponse, nil
	}

	response := g.responses[g.next]
	if g.next < len(g.responses)-1 {
		g.next++
	}
	return response, nil
}

// Prompts returns a copy of every prompt seen so far, in call order.
func (g *ScriptedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.prompts))
	copy(out, g.prompts)
	return out
}

// Calls reports how many times Generate has been invoked.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// LastPromptContains reports whether the most recent prompt contains substr.
// Convenience for tests asserting that a template actually rendered.
func (g *ScriptedGenerator) LastPromptContains(substr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return false
	}
	return strings.Contains(g.prompts[len(g.prompts)-1], substr)
}

// Reset clears the script position, recorded prompts, and any forced error.
func (g *ScriptedGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 0
	g.prompts = nil
	g.err = nil
}

var (
	_ Generator = (*ScriptedGenerator)(nil)
	_ Generator = (GeneratorFunc)(nil)
)
