package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/requiem-ai/opencode-agent/llm"
)

const structuredInstructions = "Respond with a single JSON object and nothing else."

var ErrInvalidStructuredResponse = errors.New("opencode: response is not a JSON object")

type TaskRequest struct {
	Name         string
	Instructions string
	// Structured asks for a JSON object and decodes it into TaskResult.Data.
	Structured bool
}

type TaskResult struct {
	ConversationID string
	// Data is a string, or a map for structured requests.
	Data any
}

// TaskEntity generates data with one AI task profile.
type TaskEntity struct {
	id     string
	name   string
	opts   TaskOptions
	client completer
}

func newTaskEntity(id, name string, opts TaskOptions, client completer) *TaskEntity {
	return &TaskEntity{id: id, name: name, opts: opts, client: client}
}

func (t *TaskEntity) ID() string {
	return t.id
}

func (t *TaskEntity) Name() string {
	return t.name
}

func (t *TaskEntity) Options() TaskOptions {
	return t.opts
}

func (t *TaskEntity) GenerateData(ctx context.Context, req TaskRequest) (TaskResult, error) {
	var msgs []llm.Message
	if req.Structured {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: structuredInstructions})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Instructions})

	text, err := t.client.Complete(ctx, llm.CompletionRequest{
		Model:    t.opts.Model,
		Messages: msgs,
		JSON:     req.Structured,
	})
	if err != nil {
		return TaskResult{}, fmt.Errorf("task %q: %w", req.Name, err)
	}

	result := TaskResult{ConversationID: ulid.Make().String(), Data: text}
	if !req.Structured {
		return result, nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return TaskResult{}, fmt.Errorf("task %q: %w: %w", req.Name, ErrInvalidStructuredResponse, err)
	}
	result.Data = data
	return result, nil
}
