package opencode

import (
	"slices"

	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

// ConversationOptions is the conversation profile stored in a subentry.
type ConversationOptions struct {
	Model       string
	Prompt      string
	LLMAPIs     []string
	Recommended bool
}

func ConversationOptionsFromData(data map[string]any) ConversationOptions {
	opts := ConversationOptions{}
	opts.Model, _ = data[ConfModel].(string)
	opts.Prompt, _ = data[ConfPrompt].(string)
	opts.Recommended, _ = data[ConfRecommended].(bool)
	if apis, ok := flow.StringList(data[ConfLLMHassAPI]); ok {
		opts.LLMAPIs = apis
	}
	return opts
}

func (o ConversationOptions) Data() map[string]any {
	data := map[string]any{
		ConfModel:       o.Model,
		ConfRecommended: o.Recommended,
	}
	if o.Prompt != "" {
		data[ConfPrompt] = o.Prompt
	}
	if len(o.LLMAPIs) > 0 {
		data[ConfLLMHassAPI] = append([]string(nil), o.LLMAPIs...)
	}
	return data
}

// isRecommended reports whether the profile uses the recommended prompt and APIs.
func (o ConversationOptions) isRecommended() bool {
	return o.Prompt == llmapi.DefaultInstructionsPrompt &&
		slices.Equal(o.LLMAPIs, []string{llmapi.AssistID})
}

// TaskOptions is the AI task profile stored in a subentry.
type TaskOptions struct {
	Model string
}

func TaskOptionsFromData(data map[string]any) TaskOptions {
	model, _ := data[ConfModel].(string)
	return TaskOptions{Model: model}
}

func (o TaskOptions) Data() map[string]any {
	return map[string]any{ConfModel: o.Model}
}
