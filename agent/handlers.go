package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/llm"
	"github.com/BaSui01/swarmflow/types"
)

// Capability names the specialty an agent advertises. It selects the handler
// from the table; there is no inheritance hierarchy behind it.
type Capability string

const (
	CapabilitySecurity    Capability = "security"
	CapabilityPerformance Capability = "performance"
	CapabilityQuality     Capability = "quality"
	CapabilityTesting     Capability = "testing"
	CapabilityRefactor    Capability = "refactor"
	CapabilityGeneric     Capability = "generic"
)

// Task types the built-in handlers understand.
const (
	TaskReviewCode   = "review_code"
	TaskRefactorCode = "refactor_code"
)

// Detail keys the built-in handlers read.
const (
	DetailCodeDiff    = "code_diff"
	DetailCodeSnippet = "code_snippet"
)

// Result keys the built-in handlers write next to the status.
const (
	ResultKeyReview         = "review"
	ResultKeyRecommendation = "recommendation"
	ResultKeyAgentResponse  = "agent_response"
)

// Handler executes one task and returns the result payload. Returning an
// error never crashes the consume loop: the runtime converts it into a
// RESULT with status=error.
type Handler func(ctx context.Context, taskType string, details map[string]any) (map[string]any, error)

// HandlerTable maps a capability to its handler.
type HandlerTable map[Capability]Handler

// HandlerSet owns the dependencies the built-in handlers share: the prompt
// store, the generator, and a tokenizer for prompt accounting.
type HandlerSet struct {
	prompts   *llm.PromptStore
	generator llm.Generator
	tokenizer llm.Tokenizer
	logger    *zap.Logger
}

// NewHandlerSet wires the built-in handlers. prompts and tokenizer may be
// nil (embedded templates and the default encoding are used); generator is
// required.
func NewHandlerSet(prompts *llm.PromptStore, generator llm.Generator, tokenizer llm.Tokenizer, logger *zap.Logger) *HandlerSet {
	if prompts == nil {
		prompts = llm.NewPromptStore()
	}
	if tokenizer == nil {
		tokenizer = llm.NewTokenizer("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandlerSet{
		prompts:   prompts,
		generator: generator,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "handlers")),
	}
}

// Table builds the capability-keyed handler table.
func (h *HandlerSet) Table() HandlerTable {
	return HandlerTable{
		CapabilitySecurity:    h.review(CapabilitySecurity, llm.TemplateReviewSecurity),
		CapabilityPerformance: h.review(CapabilityPerformance, llm.TemplateReviewPerformance),
		CapabilityQuality:     h.review(CapabilityQuality, llm.TemplateReviewQuality),
		CapabilityTesting:     h.review(CapabilityTesting, llm.TemplateReviewTesting),
		CapabilityRefactor:    h.refactor(),
		CapabilityGeneric:     h.generic(),
	}
}

// review builds the handler shared by the four review capabilities. They
// differ only in the prompt template and the wording of the empty-input
// error.
func (h *HandlerSet) review(capability Capability, template string) Handler {
	return func(ctx context.Context, taskType string, details map[string]any) (map[string]any, error) {
		if taskType != TaskReviewCode {
			return nil, unknownTaskTypeError(taskType, capability)
		}

		diff, _ := details[DetailCodeDiff].(string)
		if diff == "" {
			return nil, types.NewHandlerError(
				fmt.Sprintf("No code diff provided for %s review.", capability), nil)
		}

		review, err := h.generate(ctx, template, map[string]string{
			llm.PlaceholderCodeDiff: diff,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			types.ResultKeyStatus: types.ResultStatusSuccess,
			ResultKeyReview:       review,
		}, nil
	}
}

func (h *HandlerSet) refactor() Handler {
	return func(ctx context.Context, taskType string, details map[string]any) (map[string]any, error) {
		if taskType != TaskRefactorCode {
			return nil, unknownTaskTypeError(taskType, CapabilityRefactor)
		}

		snippet, _ := details[DetailCodeSnippet].(string)
		if snippet == "" {
			return nil, types.NewHandlerError("No code snippet provided for refactoring.", nil)
		}

		recommendation, err := h.generate(ctx, llm.TemplateRefactorCode, map[string]string{
			llm.PlaceholderCodeSnippet: snippet,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			types.ResultKeyStatus:   types.ResultStatusSuccess,
			ResultKeyRecommendation: recommendation,
		}, nil
	}
}

// generic accepts any task type and reports a completion summary.
func (h *HandlerSet) generic() Handler {
	return func(ctx context.Context, taskType string, details map[string]any) (map[string]any, error) {
		encoded, err := json.Marshal(details)
		if err != nil {
			encoded = []byte("{}")
		}

		response, err := h.generate(ctx, llm.TemplateGenericTask, map[string]string{
			llm.PlaceholderTaskType: taskType,
			llm.PlaceholderDetails:  string(encoded),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			types.ResultKeyStatus:  types.ResultStatusSuccess,
			ResultKeyAgentResponse: response,
		}, nil
	}
}

// generate renders the template and calls the generator, logging the prompt
// token count for budget visibility.
func (h *HandlerSet) generate(ctx context.Context, template string, placeholders map[string]string) (string, error) {
	prompt, err := h.prompts.Render(template, placeholders)
	if err != nil {
		return "", types.NewHandlerError("render prompt template "+template, err)
	}

	if n, err := h.tokenizer.CountTokens(prompt); err == nil {
		h.logger.Debug("prompt rendered",
			zap.String("template", template),
			zap.Int("prompt_tokens", n))
	}

	out, err := h.generator.Generate(ctx, prompt)
	if err != nil {
		return "", types.NewHandlerError("generate response for "+template, err)
	}
	return out, nil
}

func unknownTaskTypeError(taskType string, capability Capability) error {
	return types.NewHandlerError(
		fmt.Sprintf("Unknown task type: %s for %s agent.", taskType, capability), nil)
}

// resultForError converts a handler failure into the RESULT payload reported
// to the orchestrator. Typed errors keep their message; raw errors are
// stringified.
func resultForError(err error) map[string]any {
	if e, ok := types.AsError(err); ok {
		return types.ErrorResult(e.Message)
	}
	return types.ErrorResult(err.Error())
}
