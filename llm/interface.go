package llm

import "context"

type Request struct {
	ConversationID string
	Message        string
}

type Response struct {
	ConversationID string
	Text           string
}

// Client is a conversation agent: it answers messages and can forget a conversation.
type Client interface {
	ID() string
	Send(ctx context.Context, req Request) (Response, error)
	Clear(ctx context.Context, conversationID string) error
}
