package llm

import (
	"log"
	"os"
	"time"
)

const (
	// EnvMediatorMode is the environment variable name for mode selection.
	EnvMediatorMode = "MEDIATOR_MODE"
	// ModeMock indicates the mock client should be used.
	ModeMock = "MOCK"
)

// NewClient creates an LLM client based on the MEDIATOR_MODE environment
// variable. MEDIATOR_MODE=MOCK returns the mock client; anything else returns
// the real chat-completions client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) Client {
	if os.Getenv(EnvMediatorMode) == ModeMock {
		log.Println("MEDIATOR_MODE=MOCK detected, using mock LLM client")
		return NewMockClient()
	}
	return NewHTTPClient(baseURL, apiKey, model, timeout)
}
