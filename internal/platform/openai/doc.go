// Package openai provides a generation.Generator backed by the OpenAI Chat
// Completions API through github.com/openai/openai-go.
package openai
