package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelSchema() Schema {
	return Schema{
		{Key: "model", Required: true, Selector: SelectSelector{
			Options: []SelectOption{{Value: "gpt-y", Label: "gpt-y"}, {Value: "gpt-x", Label: "gpt-x"}},
			Mode:    SelectModeDropdown,
			Sort:    true,
		}},
		{Key: "prompt", Suggested: "be nice", Selector: TemplateSelector{}},
		{Key: "apis", Default: []string{"assist"}, Selector: SelectSelector{
			Options:  []SelectOption{{Value: "assist", Label: "Assist"}, {Value: "weather", Label: "Weather"}},
			Multiple: true,
		}},
	}
}

func TestSchemaValidateFillsDefaults(t *testing.T) {
	out, errs := modelSchema().Validate(Input{"model": "gpt-x"})
	require.Empty(t, errs)

	assert.Equal(t, Input{"model": "gpt-x", "apis": []string{"assist"}}, out)
}

func TestSchemaValidateNormalisesLists(t *testing.T) {
	out, errs := modelSchema().Validate(Input{
		"model":  "gpt-y",
		"prompt": "Hello {{ .Name }}",
		"apis":   []any{"weather"},
	})
	require.Empty(t, errs)

	assert.Equal(t, []string{"weather"}, out["apis"])
	assert.Equal(t, "Hello {{ .Name }}", out["prompt"])
}

func TestSchemaValidateErrors(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		want  map[string]string
	}{
		{"missing required", Input{}, map[string]string{"model": ErrorRequired}},
		{"blank required", Input{"model": "  "}, map[string]string{"model": ErrorRequired}},
		{"unknown model", Input{"model": "gpt-z"}, map[string]string{"model": ErrorInvalidOption}},
		{"wrong type", Input{"model": 3}, map[string]string{"model": ErrorInvalidType}},
		{"bad template", Input{"model": "gpt-x", "prompt": "{{ .Broken"}, map[string]string{"prompt": ErrorInvalidTemplate}},
		{"unknown api", Input{"model": "gpt-x", "apis": []string{"nope"}}, map[string]string{"apis": ErrorInvalidOption}},
		{"extra key", Input{"model": "gpt-x", "other": 1}, map[string]string{"other": ErrorExtraKey}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, errs := modelSchema().Validate(tc.input)
			assert.Nil(t, out)
			assert.Equal(t, tc.want, errs)
		})
	}
}

func TestSelectDisplayOptionsSorted(t *testing.T) {
	f, ok := modelSchema().Field("model")
	require.True(t, ok)

	sel := f.Selector.(SelectSelector)
	assert.Equal(t, []SelectOption{{Value: "gpt-x", Label: "gpt-x"}, {Value: "gpt-y", Label: "gpt-y"}}, sel.DisplayOptions())
	// the declared order is left alone
	assert.Equal(t, "gpt-y", sel.Options[0].Value)
}

func TestStringList(t *testing.T) {
	got, ok := StringList([]any{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	_, ok = StringList([]any{"a", 1})
	assert.False(t, ok)

	_, ok = StringList("a")
	assert.False(t, ok)
}
