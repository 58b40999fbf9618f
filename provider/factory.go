package provider

import (
	"context"

	"github.com/agentive-dev/agentive/errors"
)

// New constructs the translator selected by name. Credentials are read
// from the environment the same way the per-provider constructors do.
func New(ctx context.Context, name, model string) (Client, error) {
	switch name {
	case "openai":
		return NewOpenAI(model)
	case "anthropic":
		return NewAnthropic(model)
	case "gemini":
		return NewGemini(model)
	case "bedrock":
		return NewBedrock(ctx, model)
	default:
		return nil, errors.New("unsupported llm client: %q", name)
	}
}
