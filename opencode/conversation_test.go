package opencode

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/llm/opencodetest"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

func newTestClient(srv *opencodetest.Server) *llm.OpenCodeClient {
	return llm.NewOpenCodeClient(opencodetest.ValidKey, llm.OpenCodeOptions{BaseURL: srv.BaseURL()})
}

func TestConversationAgentSend(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x")
	defer srv.Close()
	srv.SetReply("Hello there")

	apis := llmapi.NewRegistry()
	agent := newConversationAgent("sub-1", "Kitchen", ConversationOptions{
		Model:   "gpt-x",
		Prompt:  "You are {{ .Agent }}. Today is {{ .Now.Format \"2006-01-02\" }}.",
		LLMAPIs: []string{llmapi.AssistID, "missing"},
	}, newTestClient(srv), apis)
	agent.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	resp, err := agent.Send(ctx, llm.Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Text)
	require.NotEmpty(t, resp.ConversationID)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-x", reqs[0].Model)
	assert.Nil(t, reqs[0].ResponseFormat)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, llm.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "You are Kitchen. Today is 2024-05-01.\n\n"+llmapi.Assist.Prompt, reqs[0].Messages[0].Content)
	assert.Equal(t, opencodetest.Message{Role: llm.RoleUser, Content: "hi"}, reqs[0].Messages[1])

	_, err = agent.Send(ctx, llm.Request{ConversationID: resp.ConversationID, Message: "again"})
	require.NoError(t, err)
	reqs = srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []opencodetest.Message{
		{Role: llm.RoleSystem, Content: reqs[0].Messages[0].Content},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "Hello there"},
		{Role: llm.RoleUser, Content: "again"},
	}, reqs[1].Messages)

	require.NoError(t, agent.Clear(ctx, resp.ConversationID))
	_, err = agent.Send(ctx, llm.Request{ConversationID: resp.ConversationID, Message: "fresh"})
	require.NoError(t, err)
	assert.Len(t, srv.Requests()[2].Messages, 2)
}

func TestConversationAgentWithoutPrompt(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x")
	defer srv.Close()

	agent := newConversationAgent("sub-1", "Plain", ConversationOptions{Model: "gpt-x"}, newTestClient(srv), llmapi.NewRegistry())
	_, err := agent.Send(context.Background(), llm.Request{ConversationID: "c1", Message: "hi"})
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []opencodetest.Message{{Role: llm.RoleUser, Content: "hi"}}, reqs[0].Messages)
}

func TestConversationAgentErrors(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x")
	defer srv.Close()
	ctx := context.Background()

	broken := newConversationAgent("sub-1", "Broken", ConversationOptions{Model: "gpt-x", Prompt: "{{ .Broken"},
		newTestClient(srv), llmapi.NewRegistry())
	_, err := broken.Send(ctx, llm.Request{Message: "hi"})
	require.Error(t, err)
	assert.Empty(t, srv.Requests())

	srv.FailWith(http.StatusServiceUnavailable)
	agent := newConversationAgent("sub-2", "Down", ConversationOptions{Model: "gpt-x"}, newTestClient(srv), llmapi.NewRegistry())
	_, err = agent.Send(ctx, llm.Request{ConversationID: "c1", Message: "hi"})
	require.ErrorIs(t, err, llm.ErrUnavailable)

	// failed turns are not remembered
	srv.FailWith(0)
	_, err = agent.Send(ctx, llm.Request{ConversationID: "c1", Message: "hi"})
	require.NoError(t, err)
	assert.Len(t, srv.Requests()[0].Messages, 1)
}

func TestTaskGenerateData(t *testing.T) {
	srv := opencodetest.NewServer("gpt-x")
	defer srv.Close()
	ctx := context.Background()
	task := newTaskEntity("sub-1", "gpt-x", TaskOptions{Model: "gpt-x"}, newTestClient(srv))

	srv.SetReply("A short poem.")
	res, err := task.GenerateData(ctx, TaskRequest{Name: "poem", Instructions: "Write a poem"})
	require.NoError(t, err)
	assert.Equal(t, "A short poem.", res.Data)
	assert.NotEmpty(t, res.ConversationID)

	srv.SetReply(`{"temperature": 21.5, "unit": "C"}`)
	res, err = task.GenerateData(ctx, TaskRequest{Name: "climate", Instructions: "Report the climate", Structured: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temperature": 21.5, "unit": "C"}, res.Data)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Nil(t, reqs[0].ResponseFormat)
	require.NotNil(t, reqs[1].ResponseFormat)
	assert.Equal(t, "json_object", reqs[1].ResponseFormat.Type)
	assert.Equal(t, llm.RoleSystem, reqs[1].Messages[0].Role)

	srv.SetReply("not json")
	_, err = task.GenerateData(ctx, TaskRequest{Name: "climate", Instructions: "Report the climate", Structured: true})
	require.ErrorIs(t, err, ErrInvalidStructuredResponse)
}
