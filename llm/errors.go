package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrAuthentication means the API key was rejected.
	ErrAuthentication = errors.New("opencode: invalid api key")
	// ErrUnavailable covers every other remote or transport failure.
	ErrUnavailable = errors.New("opencode: service unavailable")
)

// classify maps client errors onto ErrAuthentication / ErrUnavailable.
// Errors it does not recognise are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrAuthentication, apiErr.Message)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}
