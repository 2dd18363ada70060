package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL         = "https://opencode.ai/zen/v1"
	DefaultValidateTimeout = 10 * time.Second
)

// ModelDescriptor describes one model offered by the service.
type ModelDescriptor struct {
	ID                  string
	Name                string
	SupportedParameters []string
}

// Message is one chat turn sent to Complete.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// CompletionRequest asks a model for the next assistant turn.
type CompletionRequest struct {
	Model    string
	Messages []Message
	// JSON asks the model for a single JSON object.
	JSON bool
}

type OpenCodeOptions struct {
	BaseURL         string
	ValidateTimeout time.Duration
	HTTPClient      *http.Client
}

// OpenCodeClient talks to the OpenAI-compatible OpenCode API.
type OpenCodeClient struct {
	inner           *openai.Client
	validateTimeout time.Duration
}

func NewOpenCodeClient(apiKey string, opts OpenCodeOptions) *OpenCodeClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	timeout := opts.ValidateTimeout
	if timeout <= 0 {
		timeout = DefaultValidateTimeout
	}

	return &OpenCodeClient{
		inner:           openai.NewClientWithConfig(cfg),
		validateTimeout: timeout,
	}
}

// Validate makes one time-bounded model listing call. Any successful answer,
// even an empty list, proves the key.
func (c *OpenCodeClient) Validate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.validateTimeout)
	defer cancel()

	_, err := c.inner.ListModels(ctx)
	return classify(err)
}

// ListModels returns every model keyed by id. Later duplicates win.
func (c *OpenCodeClient) ListModels(ctx context.Context) (map[string]ModelDescriptor, error) {
	list, err := c.inner.ListModels(ctx)
	if err != nil {
		return nil, classify(err)
	}

	models := make(map[string]ModelDescriptor, len(list.Models))
	for _, m := range list.Models {
		models[m.ID] = ModelDescriptor{
			ID:                  m.ID,
			Name:                m.ID,
			SupportedParameters: []string{},
		}
	}
	return models, nil
}

var errEmptyCompletion = errors.New("opencode: completion returned no choices")

// Complete returns the content of the first choice.
func (c *OpenCodeClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.inner.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
