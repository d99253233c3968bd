// Package llm is the boundary to the generative collaborator. A Generator
// turns a rendered prompt into text, a PromptStore renders capability
// templates, and tokenizers account prompt budgets. The coordination core
// depends only on the Generator interface and never talks to a model
// provider directly.
package llm
