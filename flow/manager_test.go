package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

type nopIntegration struct{}

func (nopIntegration) Domain() string { return "toy" }

func (nopIntegration) SetupEntry(context.Context, *entries.Manager, *entries.ConfigEntry) error {
	return nil
}

func (nopIntegration) UnloadEntry(context.Context, *entries.Manager, *entries.ConfigEntry) error {
	return nil
}

// toyConfigFlow asks for a name and creates an entry titled with it.
type toyConfigFlow struct {
	env *Env
}

func (f *toyConfigFlow) Step(_ context.Context, stepID string, input Input) (*Result, error) {
	if input != nil {
		if res := f.env.AbortIfEntriesMatch(input); res != nil {
			return res, nil
		}
		if input["name"] == "explode" {
			return nil, errors.New("boom")
		}
		return CreateEntry(input["name"].(string), input), nil
	}
	return ShowForm("user", Schema{{Key: "name", Required: true, Selector: TextSelector{}}}, nil), nil
}

// toySubentryFlow records the env it was built with.
type toySubentryFlow struct {
	env *SubentryEnv
}

func (f *toySubentryFlow) Step(ctx context.Context, stepID string, input Input) (*Result, error) {
	if input == nil {
		return ShowForm("init", Schema{{Key: "color", Required: true, Selector: SelectSelector{
			Options: []SelectOption{{Value: "red", Label: "Red"}, {Value: "blue", Label: "Blue"}},
		}}}, nil), nil
	}
	if f.env.IsNew() {
		return CreateEntry("Profile "+input["color"].(string), input), nil
	}
	return f.env.UpdateAndAbort(ctx, input)
}

func newToyManager(t *testing.T) (*Manager, *entries.Manager) {
	t.Helper()
	em := entries.NewManager(entries.NewFileStore(""))
	require.NoError(t, em.Register(nopIntegration{}))

	m := NewManager(em, llmapi.NewRegistry())
	m.RegisterConfigFlow("toy", func(env *Env) Handler { return &toyConfigFlow{env: env} })
	m.RegisterSubentryFlow("toy", "profile", func(env *SubentryEnv) Handler { return &toySubentryFlow{env: env} })
	return m, em
}

func TestConfigFlowCreatesEntry(t *testing.T) {
	m, em := newToyManager(t)
	ctx := context.Background()

	res, err := m.InitConfigFlow(ctx, "toy")
	require.NoError(t, err)
	assert.Equal(t, ResultForm, res.Type)
	assert.Equal(t, "user", res.StepID)
	assert.Equal(t, "toy", res.Handler)
	assert.Equal(t, []string{res.FlowID}, m.InProgress())

	res, err = m.Configure(ctx, res.FlowID, Input{})
	require.NoError(t, err)
	assert.Equal(t, ResultForm, res.Type)
	assert.Equal(t, map[string]string{"name": ErrorRequired}, res.Errors)

	res, err = m.Configure(ctx, res.FlowID, Input{"name": "home"})
	require.NoError(t, err)
	assert.Equal(t, ResultCreateEntry, res.Type)
	assert.NotEmpty(t, res.EntryID)
	assert.Empty(t, m.InProgress())

	entry, err := em.Entry(res.EntryID)
	require.NoError(t, err)
	assert.Equal(t, "home", entry.Title())
	assert.Equal(t, entries.StateLoaded, entry.State())

	_, err = m.Configure(ctx, res.FlowID, Input{"name": "again"})
	require.ErrorIs(t, err, ErrUnknownFlow)
}

func TestConfigFlowAbortsDuplicates(t *testing.T) {
	m, _ := newToyManager(t)
	ctx := context.Background()

	for _, want := range []ResultType{ResultCreateEntry, ResultAbort} {
		res, err := m.InitConfigFlow(ctx, "toy")
		require.NoError(t, err)
		res, err = m.Configure(ctx, res.FlowID, Input{"name": "home"})
		require.NoError(t, err)
		assert.Equal(t, want, res.Type)
		if want == ResultAbort {
			assert.Equal(t, ReasonAlreadyConfigured, res.Reason)
		}
	}
}

func TestStepErrorAbortsUnknown(t *testing.T) {
	m, _ := newToyManager(t)
	ctx := context.Background()

	res, err := m.InitConfigFlow(ctx, "toy")
	require.NoError(t, err)
	res, err = m.Configure(ctx, res.FlowID, Input{"name": "explode"})
	require.NoError(t, err)

	assert.Equal(t, ResultAbort, res.Type)
	assert.Equal(t, ReasonUnknown, res.Reason)
	assert.Empty(t, m.InProgress())
}

func TestSubentryFlowCreateAndReconfigure(t *testing.T) {
	m, em := newToyManager(t)
	ctx := context.Background()
	entry, err := em.AddEntry(ctx, entries.NewEntry{Domain: "toy"})
	require.NoError(t, err)

	assert.Equal(t, []string{"profile"}, m.SubentryTypes("toy"))

	res, err := m.InitSubentryFlow(ctx, entry.ID(), "profile", entries.SourceUser, "")
	require.NoError(t, err)
	res, err = m.Configure(ctx, res.FlowID, Input{"color": "green"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"color": ErrorInvalidOption}, res.Errors)

	res, err = m.Configure(ctx, res.FlowID, Input{"color": "red"})
	require.NoError(t, err)
	require.Equal(t, ResultCreateEntry, res.Type)
	assert.Equal(t, entry.ID(), res.EntryID)

	sub, ok := entry.Subentry(res.SubentryID)
	require.True(t, ok)
	assert.Equal(t, "Profile red", sub.Title)

	res, err = m.InitSubentryFlow(ctx, entry.ID(), "profile", entries.SourceReconfigure, sub.SubentryID)
	require.NoError(t, err)
	res, err = m.Configure(ctx, res.FlowID, Input{"color": "blue"})
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, res.Type)
	assert.Equal(t, ReasonReconfigureSuccessful, res.Reason)

	sub, ok = entry.Subentry(sub.SubentryID)
	require.True(t, ok)
	assert.Equal(t, "Profile red", sub.Title)
	assert.Equal(t, map[string]any{"color": "blue"}, sub.Data)
}

func TestInitErrors(t *testing.T) {
	m, em := newToyManager(t)
	ctx := context.Background()
	entry, err := em.AddEntry(ctx, entries.NewEntry{Domain: "toy"})
	require.NoError(t, err)

	_, err = m.InitConfigFlow(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownHandler)

	_, err = m.InitSubentryFlow(ctx, entry.ID(), "nope", entries.SourceUser, "")
	require.ErrorIs(t, err, ErrUnknownHandler)

	_, err = m.InitSubentryFlow(ctx, "nope", "profile", entries.SourceUser, "")
	require.ErrorIs(t, err, entries.ErrUnknownEntry)

	_, err = m.InitSubentryFlow(ctx, entry.ID(), "profile", entries.SourceReconfigure, "missing")
	require.ErrorIs(t, err, entries.ErrUnknownSubentry)

	require.ErrorIs(t, m.Abort("missing"), ErrUnknownFlow)
}

func TestAbortDiscardsFlow(t *testing.T) {
	m, _ := newToyManager(t)
	ctx := context.Background()

	res, err := m.InitConfigFlow(ctx, "toy")
	require.NoError(t, err)
	require.NoError(t, m.Abort(res.FlowID))

	_, err = m.Configure(ctx, res.FlowID, Input{"name": "home"})
	require.ErrorIs(t, err, ErrUnknownFlow)
}

// gatedFlow ends every submission with its gate result, when set.
type gatedFlow struct {
	toySubentryFlow
	gate *Result
}

func (f *gatedFlow) Precheck(context.Context, string) (*Result, error) {
	return f.gate, nil
}

func TestPrecheckRunsBeforeValidation(t *testing.T) {
	m, em := newToyManager(t)
	ctx := context.Background()

	var gated *gatedFlow
	m.RegisterSubentryFlow("toy", "gated", func(env *SubentryEnv) Handler {
		gated = &gatedFlow{toySubentryFlow: toySubentryFlow{env: env}}
		return gated
	})
	entry, err := em.AddEntry(ctx, entries.NewEntry{Domain: "toy", Title: "Toy"})
	require.NoError(t, err)

	res, err := m.InitSubentryFlow(ctx, entry.ID(), "gated", entries.SourceUser, "")
	require.NoError(t, err)
	require.Equal(t, ResultForm, res.Type)

	// without a gate the form checks the input
	res, err = m.Configure(ctx, res.FlowID, Input{"color": "green"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"color": ErrorInvalidOption}, res.Errors)

	gated.gate = Abort("closed")
	res, err = m.Configure(ctx, res.FlowID, Input{"bogus": 1})
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, res.Type)
	assert.Equal(t, "closed", res.Reason)
	assert.Empty(t, m.InProgress())
	assert.Empty(t, entry.Subentries(""))
}
