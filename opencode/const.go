// Package opencode runs the OpenCode API as a conversation agent and task
// backend on host configuration entries.
package opencode

import (
	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

const (
	Domain       = "open_code"
	DefaultTitle = "OpenCode"
	BaseURL      = llm.DefaultBaseURL
)

// Entry and subentry data keys.
const (
	ConfAPIKey      = "api_key"
	ConfModel       = "model"
	ConfPrompt      = "prompt"
	ConfLLMHassAPI  = "llm_hass_api"
	ConfRecommended = "recommended"
)

const (
	SubentryConversation = "conversation"
	SubentryAITaskData   = "ai_task_data"
)

// Form error codes and abort reasons.
const (
	ErrorInvalidAuth   = "invalid_auth"
	ErrorCannotConnect = "cannot_connect"
	ErrorUnknown       = "unknown"

	ReasonEntryNotLoaded = "entry_not_loaded"
	ReasonCannotConnect  = "cannot_connect"
	ReasonUnknown        = "unknown"
)

const (
	stepUser        = "user"
	stepReconfigure = "reconfigure"
	stepInit        = "init"
)

// RecommendedConversationOptions returns a fresh copy of the defaults a new
// conversation profile starts from.
func RecommendedConversationOptions() map[string]any {
	return map[string]any{
		ConfRecommended: true,
		ConfLLMHassAPI:  []string{llmapi.AssistID},
		ConfPrompt:      llmapi.DefaultInstructionsPrompt,
	}
}
