package opencode

import (
	"sort"

	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

// Runtime is the runtime data of a loaded OpenCode entry.
type Runtime struct {
	Client *llm.OpenCodeClient

	agents map[string]*ConversationAgent
	tasks  map[string]*TaskEntity
}

func newRuntime(client *llm.OpenCodeClient, entry *entries.ConfigEntry, apis *llmapi.Registry) *Runtime {
	rt := &Runtime{
		Client: client,
		agents: make(map[string]*ConversationAgent),
		tasks:  make(map[string]*TaskEntity),
	}
	for _, sub := range entry.Subentries(SubentryConversation) {
		rt.agents[sub.SubentryID] = newConversationAgent(sub.SubentryID, sub.Title,
			ConversationOptionsFromData(sub.Data), client, apis)
	}
	for _, sub := range entry.Subentries(SubentryAITaskData) {
		rt.tasks[sub.SubentryID] = newTaskEntity(sub.SubentryID, sub.Title,
			TaskOptionsFromData(sub.Data), client)
	}
	return rt
}

// RuntimeOf returns the runtime of a loaded OpenCode entry.
func RuntimeOf(entry *entries.ConfigEntry) (*Runtime, bool) {
	rt, ok := entry.RuntimeData().(*Runtime)
	return rt, ok
}

func (r *Runtime) Agent(id string) (*ConversationAgent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

// Agents returns the conversation agents sorted by name.
func (r *Runtime) Agents() []*ConversationAgent {
	out := make([]*ConversationAgent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].id < out[j].id
	})
	return out
}

func (r *Runtime) Task(id string) (*TaskEntity, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// Tasks returns the AI task entities sorted by name.
func (r *Runtime) Tasks() []*TaskEntity {
	out := make([]*TaskEntity, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].id < out[j].id
	})
	return out
}

func (r *Runtime) close() {
	for _, a := range r.agents {
		a.reset()
	}
}
