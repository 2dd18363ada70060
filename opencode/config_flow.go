package opencode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llm"
)

var userSchema = flow.Schema{
	{Key: ConfAPIKey, Required: true, Selector: flow.TextSelector{Password: true}},
}

// ConfigFlow creates an OpenCode entry from an API key.
type ConfigFlow struct {
	env         *flow.Env
	integration *Integration
}

func (f *ConfigFlow) Step(ctx context.Context, stepID string, input flow.Input) (*flow.Result, error) {
	if stepID != stepUser {
		return nil, fmt.Errorf("opencode: unknown config step %q", stepID)
	}
	if input == nil {
		return flow.ShowForm(stepUser, userSchema, nil), nil
	}

	if res := f.env.AbortIfEntriesMatch(input); res != nil {
		return res, nil
	}

	apiKey, _ := input[ConfAPIKey].(string)
	if code := f.integration.validateKey(ctx, apiKey); code != "" {
		return flow.ShowForm(stepUser, userSchema, map[string]string{"base": code}), nil
	}

	return flow.CreateEntry(DefaultTitle, input), nil
}

// validateKey returns a form error code, or "" when the key works.
func (i *Integration) validateKey(ctx context.Context, apiKey string) string {
	err := i.newClient(apiKey).Validate(ctx)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, llm.ErrAuthentication):
		return ErrorInvalidAuth
	case errors.Is(err, llm.ErrUnavailable):
		return ErrorCannotConnect
	default:
		log.Error().Err(err).Msg("Unexpected exception validating OpenCode API key")
		return ErrorUnknown
	}
}
