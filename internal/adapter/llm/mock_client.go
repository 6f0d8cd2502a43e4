package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient is a canned Client for local runs without an API key. It answers
// question-generation prompts with an empty questions object (forcing the
// engine's fallback question path) and synthesis prompts with a minimal valid
// three-option decision.
type MockClient struct{}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ Client = (*MockClient)(nil)

// Generate returns a deterministic response keyed off the prompt shape.
func (m *MockClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	switch {
	case strings.Contains(prompt, `"proposed_solutions"`) && strings.Contains(prompt, "transcript"):
		return `{"summary":"[MOCK] The group converged on a balanced plan.",` +
			`"key_agreements":["[MOCK] shared budget ceiling"],` +
			`"remaining_tensions":["[MOCK] scheduling"],` +
			`"proposed_solutions":[` +
			`{"title":"[MOCK] Option A","description":"First canned option.","pros":["cheap"],"cons":["slow"]},` +
			`{"title":"[MOCK] Option B","description":"Second canned option.","pros":["fast"],"cons":["costly"]},` +
			`{"title":"[MOCK] Option C","description":"Third canned option.","pros":["simple"],"cons":["rigid"]}]}`, nil
	case strings.Contains(prompt, "Tie-Breaker"):
		return "**The Tie-Breaker Decision:** Option 1\n**Rationale:** [MOCK] The first option best respects the stated deal-breakers.", nil
	case strings.Contains(prompt, `"questions"`):
		return `{"analysis":"[MOCK] no analysis","questions":{}}`, nil
	default:
		return fmt.Sprintf("[MOCK] Received prompt of %d chars.", len(prompt)), nil
	}
}
