package flow

import (
	"sort"
	"strings"
	"text/template"
)

// Validation error codes reported per field.
const (
	ErrorRequired        = "required"
	ErrorInvalidOption   = "invalid_option"
	ErrorInvalidType     = "invalid_type"
	ErrorInvalidTemplate = "invalid_template"
	ErrorExtraKey        = "extra_key"
)

// Input is what a user submitted for a step. A nil Input means "render the step".
type Input map[string]any

// Selector describes how a field is edited and which values it accepts.
type Selector interface {
	Kind() string
	// Validate returns the normalised value or an error code.
	Validate(v any) (any, string)
}

type Field struct {
	Key      string
	Required bool
	// Default is used when the field is absent from the input.
	Default any
	// Suggested pre-fills the editor but is not applied on submit.
	Suggested any
	Selector  Selector
}

type Schema []Field

func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks input against the schema, fills defaults and normalises
// values. The returned error map is keyed by field.
func (s Schema) Validate(input Input) (Input, map[string]string) {
	out := make(Input, len(s))
	errs := map[string]string{}

	for key := range input {
		if _, ok := s.Field(key); !ok {
			errs[key] = ErrorExtraKey
		}
	}

	for _, f := range s {
		v, present := input[f.Key]
		if present && isEmpty(v) {
			present = false
		}
		if !present {
			switch {
			case f.Default != nil:
				out[f.Key] = f.Default
			case f.Required:
				errs[f.Key] = ErrorRequired
			}
			continue
		}

		if f.Selector == nil {
			out[f.Key] = v
			continue
		}
		norm, code := f.Selector.Validate(v)
		if code != "" {
			errs[f.Key] = code
			continue
		}
		out[f.Key] = norm
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

type TextSelector struct {
	Password bool
}

func (TextSelector) Kind() string { return "text" }

func (TextSelector) Validate(v any) (any, string) {
	s, ok := v.(string)
	if !ok {
		return nil, ErrorInvalidType
	}
	return s, ""
}

// TemplateSelector accepts a Go text/template.
type TemplateSelector struct{}

func (TemplateSelector) Kind() string { return "template" }

func (TemplateSelector) Validate(v any) (any, string) {
	s, ok := v.(string)
	if !ok {
		return nil, ErrorInvalidType
	}
	if _, err := template.New("prompt").Parse(s); err != nil {
		return nil, ErrorInvalidTemplate
	}
	return s, ""
}

type SelectMode string

const (
	SelectModeList     SelectMode = "list"
	SelectModeDropdown SelectMode = "dropdown"
)

type SelectOption struct {
	Value string
	Label string
}

type SelectSelector struct {
	Options  []SelectOption
	Multiple bool
	Mode     SelectMode
	// Sort orders DisplayOptions by label.
	Sort bool
}

func (SelectSelector) Kind() string { return "select" }

// DisplayOptions returns the options in the order they should be shown.
func (s SelectSelector) DisplayOptions() []SelectOption {
	out := append([]SelectOption(nil), s.Options...)
	if s.Sort {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	}
	return out
}

func (s SelectSelector) has(value string) bool {
	for _, o := range s.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

func (s SelectSelector) Validate(v any) (any, string) {
	if !s.Multiple {
		value, ok := v.(string)
		if !ok {
			return nil, ErrorInvalidType
		}
		if !s.has(value) {
			return nil, ErrorInvalidOption
		}
		return value, ""
	}

	values, ok := StringList(v)
	if !ok {
		return nil, ErrorInvalidType
	}
	for _, value := range values {
		if !s.has(value) {
			return nil, ErrorInvalidOption
		}
	}
	return values, ""
}

// StringList converts []string or []any of strings, as found in decoded
// entry data, to []string.
func StringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case nil:
		return []string{}, true
	}
	return nil, false
}
