// Package llm provides the text-generation client used by the mediator.
package llm

import "context"

// Client is the single capability the engine needs from a language model.
// Output is untrusted free text; callers must run it through the extractor
// and validators before structural use. Calls may be slow and may fail
// transiently.
type Client interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}
