package opencode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

// subentryVariant is what differs between conversation and AI task profiles.
type subentryVariant interface {
	defaults() map[string]any
	extraFields(options map[string]any, apis *llmapi.Registry) flow.Schema
	normalize(input flow.Input) map[string]any
}

// SubentryFlow creates or reconfigures a conversation or AI task profile.
type SubentryFlow struct {
	env         *flow.SubentryEnv
	integration *Integration
	variant     subentryVariant

	options map[string]any
	models  map[string]llm.ModelDescriptor
}

func newSubentryFlow(env *flow.SubentryEnv, i *Integration, v subentryVariant) *SubentryFlow {
	return &SubentryFlow{env: env, integration: i, variant: v}
}

func (f *SubentryFlow) Step(ctx context.Context, stepID string, input flow.Input) (*flow.Result, error) {
	switch stepID {
	case stepUser:
		f.options = f.variant.defaults()
	case stepReconfigure:
		sub, err := f.env.ReconfigureSubentry()
		if err != nil {
			return nil, err
		}
		f.options = entries.CloneData(sub.Data)
	case stepInit:
	default:
		return nil, fmt.Errorf("opencode: unknown subentry step %q", stepID)
	}
	return f.stepInit(ctx, input)
}

// Precheck aborts a submission to an entry that is no longer loaded,
// whatever the input holds.
func (f *SubentryFlow) Precheck(context.Context, string) (*flow.Result, error) {
	entry, err := f.env.Entry()
	if err != nil {
		return nil, err
	}
	if entry.State() != entries.StateLoaded {
		return flow.Abort(ReasonEntryNotLoaded), nil
	}
	return nil, nil
}

func (f *SubentryFlow) stepInit(ctx context.Context, input flow.Input) (*flow.Result, error) {
	if res, err := f.Precheck(ctx, stepInit); err != nil || res != nil {
		return res, err
	}
	entry, err := f.env.Entry()
	if err != nil {
		return nil, err
	}

	if input != nil {
		data := f.variant.normalize(input)
		if f.env.IsNew() {
			return flow.CreateEntry(f.title(data), data), nil
		}
		return f.env.UpdateAndAbort(ctx, data)
	}

	models, err := f.integration.newClient(apiKeyOf(entry)).ListModels(ctx)
	switch {
	case errors.Is(err, llm.ErrAuthentication), errors.Is(err, llm.ErrUnavailable):
		log.Warn().Err(err).Str("entry_id", entry.ID()).Msg("Could not list OpenCode models")
		return flow.Abort(ReasonCannotConnect), nil
	case err != nil:
		log.Error().Err(err).Str("entry_id", entry.ID()).Msg("Unexpected exception listing OpenCode models")
		return flow.Abort(ReasonUnknown), nil
	}
	f.models = models

	schema := flow.Schema{f.modelField()}
	schema = append(schema, f.variant.extraFields(f.options, f.env.APIs)...)
	return flow.ShowForm(stepInit, schema, nil), nil
}

func (f *SubentryFlow) modelField() flow.Field {
	options := make([]flow.SelectOption, 0, len(f.models))
	for id, m := range f.models {
		options = append(options, flow.SelectOption{Value: id, Label: m.Name})
	}

	field := flow.Field{
		Key:      ConfModel,
		Required: true,
		Selector: flow.SelectSelector{
			Options: options,
			Mode:    flow.SelectModeDropdown,
			Sort:    true,
		},
	}
	if model, ok := f.options[ConfModel].(string); ok && model != "" {
		field.Default = model
	}
	return field
}

// title is the display name of the chosen model, or its id when the model
// list was never loaded in this flow.
func (f *SubentryFlow) title(data map[string]any) string {
	model, _ := data[ConfModel].(string)
	if m, ok := f.models[model]; ok && m.Name != "" {
		return m.Name
	}
	return model
}

type conversationVariant struct{}

func (conversationVariant) defaults() map[string]any {
	return RecommendedConversationOptions()
}

func (conversationVariant) extraFields(options map[string]any, apis *llmapi.Registry) flow.Schema {
	prompt, _ := options[ConfPrompt].(string)
	if prompt == "" {
		prompt = llmapi.DefaultInstructionsPrompt
	}

	var apiOptions []flow.SelectOption
	for _, api := range apis.APIs() {
		apiOptions = append(apiOptions, flow.SelectOption{Value: api.ID, Label: api.Name})
	}
	enabled, ok := flow.StringList(options[ConfLLMHassAPI])
	if !ok || len(enabled) == 0 {
		enabled = []string{llmapi.AssistID}
	}

	return flow.Schema{
		{Key: ConfPrompt, Suggested: prompt, Selector: flow.TemplateSelector{}},
		{Key: ConfLLMHassAPI, Default: enabled, Selector: flow.SelectSelector{
			Options:  apiOptions,
			Multiple: true,
		}},
	}
}

// normalize drops an empty API selection and marks profiles that kept the
// recommended prompt and APIs.
func (conversationVariant) normalize(input flow.Input) map[string]any {
	data := entries.CloneData(input)
	if apis, ok := flow.StringList(data[ConfLLMHassAPI]); !ok || len(apis) == 0 {
		delete(data, ConfLLMHassAPI)
	}
	opts := ConversationOptionsFromData(data)
	data[ConfRecommended] = opts.isRecommended()
	return data
}

type taskVariant struct{}

func (taskVariant) defaults() map[string]any {
	return map[string]any{}
}

func (taskVariant) extraFields(map[string]any, *llmapi.Registry) flow.Schema {
	return nil
}

func (taskVariant) normalize(input flow.Input) map[string]any {
	return TaskOptionsFromData(input).Data()
}
