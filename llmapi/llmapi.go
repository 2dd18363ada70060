// Package llmapi keeps the capability APIs the host exposes to conversation agents.
package llmapi

import (
	"fmt"
	"sort"
	"sync"
)

const AssistID = "assist"

// DefaultInstructionsPrompt is the recommended agent prompt.
const DefaultInstructionsPrompt = `You are a voice assistant for the home.
Answer questions about the world truthfully.
Answer in plain text. Keep it simple and to the point.
`

// API is a capability set an agent may be granted.
type API struct {
	ID   string
	Name string
	// Prompt is appended to the agent system prompt when the API is enabled.
	Prompt string
}

var Assist = API{
	ID:   AssistID,
	Name: "Assist",
	Prompt: "When controlling the home, prefer the exposed devices and areas. " +
		"Ask for clarification when a request is ambiguous.",
}

type Registry struct {
	mu   sync.RWMutex
	apis map[string]API
}

// NewRegistry returns a registry holding the Assist API.
func NewRegistry() *Registry {
	r := &Registry{apis: make(map[string]API)}
	_ = r.Register(Assist)
	return r
}

func (r *Registry) Register(api API) error {
	if api.ID == "" {
		return fmt.Errorf("llm api without id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apis[api.ID]; ok {
		return fmt.Errorf("llm api %s already registered", api.ID)
	}
	r.apis[api.ID] = api
	return nil
}

func (r *Registry) Get(id string) (API, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, ok := r.apis[id]
	return api, ok
}

// APIs returns all registered APIs ordered by id.
func (r *Registry) APIs() []API {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]API, 0, len(r.apis))
	for _, api := range r.apis {
		out = append(out, api)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
