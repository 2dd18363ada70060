package opencode

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

// completer is the part of the OpenCode client agents and tasks use.
type completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// promptData is what a prompt template can reference.
type promptData struct {
	Now   time.Time
	Agent string
}

// ConversationAgent answers messages with one conversation profile.
type ConversationAgent struct {
	id     string
	name   string
	opts   ConversationOptions
	client completer
	apis   *llmapi.Registry
	now    func() time.Time

	mu      sync.Mutex
	history map[string][]llm.Message
}

var _ llm.Client = (*ConversationAgent)(nil)

func newConversationAgent(id, name string, opts ConversationOptions, client completer, apis *llmapi.Registry) *ConversationAgent {
	return &ConversationAgent{
		id:      id,
		name:    name,
		opts:    opts,
		client:  client,
		apis:    apis,
		now:     time.Now,
		history: make(map[string][]llm.Message),
	}
}

func (a *ConversationAgent) ID() string {
	return a.id
}

func (a *ConversationAgent) Name() string {
	return a.name
}

func (a *ConversationAgent) Options() ConversationOptions {
	return a.opts
}

// Send answers req.Message. An empty ConversationID starts a new conversation.
func (a *ConversationAgent) Send(ctx context.Context, req llm.Request) (llm.Response, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = ulid.Make().String()
	}

	system, err := a.systemPrompt()
	if err != nil {
		return llm.Response{}, err
	}

	a.mu.Lock()
	past := append([]llm.Message(nil), a.history[conversationID]...)
	a.mu.Unlock()

	msgs := make([]llm.Message, 0, len(past)+2)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, past...)
	user := llm.Message{Role: llm.RoleUser, Content: req.Message}
	msgs = append(msgs, user)

	text, err := a.client.Complete(ctx, llm.CompletionRequest{Model: a.opts.Model, Messages: msgs})
	if err != nil {
		log.Error().Err(err).Str("subentry_id", a.id).Str("model", a.opts.Model).Msg("Conversation request failed")
		return llm.Response{}, err
	}

	a.mu.Lock()
	a.history[conversationID] = append(a.history[conversationID], user,
		llm.Message{Role: llm.RoleAssistant, Content: text})
	a.mu.Unlock()

	return llm.Response{ConversationID: conversationID, Text: text}, nil
}

func (a *ConversationAgent) Clear(_ context.Context, conversationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.history, conversationID)
	return nil
}

// systemPrompt renders the profile prompt and appends the prompts of the
// enabled capability APIs. Unknown API ids are skipped.
func (a *ConversationAgent) systemPrompt() (string, error) {
	var parts []string

	if a.opts.Prompt != "" {
		tmpl, err := template.New("prompt").Parse(a.opts.Prompt)
		if err != nil {
			return "", fmt.Errorf("parse prompt: %w", err)
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, promptData{Now: a.now(), Agent: a.name}); err != nil {
			return "", fmt.Errorf("render prompt: %w", err)
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}

	for _, id := range a.opts.LLMAPIs {
		api, ok := a.apis.Get(id)
		if !ok {
			log.Warn().Str("subentry_id", a.id).Str("api", id).Msg("Conversation profile references unknown API")
			continue
		}
		if api.Prompt != "" {
			parts = append(parts, api.Prompt)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func (a *ConversationAgent) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = make(map[string][]llm.Message)
}
