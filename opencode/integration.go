package opencode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

type Options struct {
	BaseURL         string
	ValidateTimeout time.Duration
	HTTPClient      *http.Client
	APIs            *llmapi.Registry
}

// Integration sets up OpenCode config entries and owns their flows.
type Integration struct {
	opts Options
}

func New(opts Options) *Integration {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.ValidateTimeout <= 0 {
		opts.ValidateTimeout = llm.DefaultValidateTimeout
	}
	if opts.APIs == nil {
		opts.APIs = llmapi.NewRegistry()
	}
	return &Integration{opts: opts}
}

// Register installs the integration and its config/subentry flows on the host.
func (i *Integration) Register(em *entries.Manager, fm *flow.Manager) error {
	if err := em.Register(i); err != nil {
		return err
	}
	fm.RegisterConfigFlow(Domain, func(env *flow.Env) flow.Handler {
		return &ConfigFlow{env: env, integration: i}
	})
	fm.RegisterSubentryFlow(Domain, SubentryConversation, func(env *flow.SubentryEnv) flow.Handler {
		return newSubentryFlow(env, i, conversationVariant{})
	})
	fm.RegisterSubentryFlow(Domain, SubentryAITaskData, func(env *flow.SubentryEnv) flow.Handler {
		return newSubentryFlow(env, i, taskVariant{})
	})
	return nil
}

func (i *Integration) Domain() string {
	return Domain
}

func (i *Integration) newClient(apiKey string) *llm.OpenCodeClient {
	return llm.NewOpenCodeClient(apiKey, llm.OpenCodeOptions{
		BaseURL:         i.opts.BaseURL,
		ValidateTimeout: i.opts.ValidateTimeout,
		HTTPClient:      i.opts.HTTPClient,
	})
}

func apiKeyOf(entry *entries.ConfigEntry) string {
	key, _ := entry.Data()[ConfAPIKey].(string)
	return key
}

// SetupEntry validates the stored key, then exposes one agent per conversation
// subentry and one task entity per AI task subentry.
func (i *Integration) SetupEntry(ctx context.Context, m *entries.Manager, entry *entries.ConfigEntry) error {
	client := i.newClient(apiKeyOf(entry))

	if err := client.Validate(ctx); err != nil {
		if errors.Is(err, llm.ErrAuthentication) {
			log.Error().Err(err).Str("entry_id", entry.ID()).Msg("Invalid API key")
			return fmt.Errorf("%w: Invalid API key", entries.ErrSetupFailed)
		}
		return fmt.Errorf("%w: %w", entries.ErrNotReady, err)
	}

	entry.SetRuntimeData(newRuntime(client, entry, i.opts.APIs))

	remove, err := m.AddUpdateListener(entry.ID(), i.updateListener)
	if err != nil {
		return err
	}
	entry.OnUnload(remove)

	return nil
}

func (i *Integration) updateListener(ctx context.Context, m *entries.Manager, entry *entries.ConfigEntry) {
	if err := m.Reload(ctx, entry.ID()); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID()).Msg("Failed to reload OpenCode entry")
	}
}

func (i *Integration) UnloadEntry(_ context.Context, _ *entries.Manager, entry *entries.ConfigEntry) error {
	if rt, ok := entry.RuntimeData().(*Runtime); ok {
		rt.close()
	}
	return nil
}
