package services

import (
	ctx "context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llm/opencodetest"
	"github.com/requiem-ai/opencode-agent/llmapi"
	"github.com/requiem-ai/opencode-agent/opencode"
)

// bootWithProfiles starts the services on an entry holding one conversation
// and one AI task profile.
func bootWithProfiles(t *testing.T, srv *opencodetest.Server) *testApp {
	t.Helper()
	cfg := newTestConfig(t, srv)
	cfg.SetupSkip = true
	app := bootApp(t, cfg, "")

	c := ctx.Background()
	em := app.host.Entries()
	entry, err := em.AddEntry(c, entries.NewEntry{
		Domain: opencode.Domain,
		Title:  opencode.DefaultTitle,
		Source: entries.SourceUser,
		Data:   map[string]any{opencode.ConfAPIKey: opencodetest.ValidKey},
	})
	require.NoError(t, err)
	_, err = em.AddSubentry(c, entry.ID(), entries.Subentry{
		SubentryType: opencode.SubentryConversation,
		Title:        "gpt-x",
		Data:         opencode.ConversationOptions{Model: "gpt-x"}.Data(),
	})
	require.NoError(t, err)
	_, err = em.AddSubentry(c, entry.ID(), entries.Subentry{
		SubentryType: opencode.SubentryAITaskData,
		Title:        "big-pickle",
		Data:         opencode.TaskOptions{Model: "big-pickle"}.Data(),
	})
	require.NoError(t, err)
	require.Equal(t, entries.StateLoaded, entry.State())
	return app
}

func TestAgentServiceRun(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x", "big-pickle")
	defer srv.Close()
	app := bootWithProfiles(t, srv)
	c := ctx.Background()

	srv.SetReply("pong")
	resp, err := app.agent.Run(c, "", "", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)

	agents := app.agent.Agents()
	require.Len(t, agents, 1)
	_, err = app.agent.Run(c, agents[0].ID, resp.ConversationID, "ping again")
	require.NoError(t, err)
	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)

	require.NoError(t, app.agent.Clear(c, agents[0].ID, resp.ConversationID))

	_, err = app.agent.Run(c, "missing", "", "ping")
	require.ErrorIs(t, err, ErrNoAgent)
}

func TestAgentServiceGenerate(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x", "big-pickle")
	defer srv.Close()
	app := bootWithProfiles(t, srv)
	c := ctx.Background()

	srv.SetReply(`{"ok": true}`)
	res, err := app.agent.Generate(c, "", opencode.TaskRequest{Name: "check", Instructions: "Say ok", Structured: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, res.Data)
	assert.Equal(t, "big-pickle", srv.Requests()[0].Model)

	tasks := app.agent.Tasks()
	require.Len(t, tasks, 1)
	_, err = app.agent.Generate(c, tasks[0].ID, opencode.TaskRequest{Name: "check", Instructions: "Say ok"})
	require.NoError(t, err)

	_, err = app.agent.Generate(c, "missing", opencode.TaskRequest{Name: "check"})
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestAgentServiceModels(t *testing.T) {
	srv := opencodetest.NewServer("gpt-y", "big-pickle", "gpt-x")
	defer srv.Close()
	app := bootWithProfiles(t, srv)

	models, err := app.agent.Models(ctx.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"big-pickle", "gpt-x", "gpt-y"}, models)
}

func TestAgentServiceWithoutEntries(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x")
	defer srv.Close()
	cfg := newTestConfig(t, srv)
	cfg.SetupSkip = true
	app := bootApp(t, cfg, "")
	c := ctx.Background()

	assert.Empty(t, app.agent.Agents())
	_, err := app.agent.Run(c, "", "", "ping")
	require.ErrorIs(t, err, ErrNoAgent)
	_, err = app.agent.Models(c)
	require.Error(t, err)
}

func TestAgentServiceReconfigure(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x", "big-pickle")
	defer srv.Close()
	app := bootWithProfiles(t, srv)
	c := ctx.Background()

	agent := app.agent.Agents()[0]
	res, err := app.agent.Reconfigure(c, agent.ID, "big-pickle")
	require.NoError(t, err)
	assert.Equal(t, flow.ReasonReconfigureSuccessful, res.Reason)

	agents := app.agent.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, AgentInfo{ID: agent.ID, Name: "gpt-x", Model: "big-pickle"}, agents[0])

	entry := app.host.Entries().Entries(opencode.Domain)[0]
	sub, ok := entry.Subentry(agent.ID)
	require.True(t, ok)
	assert.Equal(t, opencode.ConversationOptions{
		Model:       "big-pickle",
		Prompt:      llmapi.DefaultInstructionsPrompt,
		LLMAPIs:     []string{llmapi.AssistID},
		Recommended: true,
	}, opencode.ConversationOptionsFromData(sub.Data))

	task := app.agent.Tasks()[0]
	_, err = app.agent.Reconfigure(c, task.ID, "gpt-x")
	require.NoError(t, err)
	assert.Equal(t, "gpt-x", app.agent.Tasks()[0].Model)

	_, err = app.agent.Reconfigure(c, task.ID, "gpt-retired")
	require.ErrorIs(t, err, ErrUnknownModel)
	assert.Empty(t, app.host.Flows().InProgress())

	_, err = app.agent.Reconfigure(c, "missing", "gpt-x")
	require.ErrorIs(t, err, ErrUnknownProfile)
}

func TestAgentServiceRemove(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x", "big-pickle")
	defer srv.Close()
	app := bootWithProfiles(t, srv)
	c := ctx.Background()

	require.NoError(t, app.agent.Remove(c, app.agent.Tasks()[0].ID))
	assert.Empty(t, app.agent.Tasks())
	_, err := app.agent.Generate(c, "", opencode.TaskRequest{Name: "check", Instructions: "Say ok"})
	require.ErrorIs(t, err, ErrUnknownTask)

	require.NoError(t, app.agent.Remove(c, app.agent.Agents()[0].ID))
	assert.Empty(t, app.agent.Agents())

	require.ErrorIs(t, app.agent.Remove(c, "missing"), ErrUnknownProfile)
}
