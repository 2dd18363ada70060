package services

import (
	ctx "context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/opencode-agent/config"
	"github.com/requiem-ai/opencode-agent/context"
	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llmapi"
	"github.com/requiem-ai/opencode-agent/opencode"
)

// HostService owns the config entries, the flows that create them and the
// capability APIs agents can be granted.
type HostService struct {
	context.DefaultService

	Config *config.Config
	// HTTPClient overrides the client used for OpenCode calls.
	HTTPClient *http.Client

	entries *entries.Manager
	flows   *flow.Manager
	apis    *llmapi.Registry
}

const HOST_SVC = "host_svc"

func (svc HostService) Id() string {
	return HOST_SVC
}

func (svc *HostService) Configure(c *context.Context) error {
	if err := svc.DefaultService.Configure(c); err != nil {
		return err
	}

	svc.apis = llmapi.NewRegistry()
	svc.entries = entries.NewManager(entries.NewFileStore(svc.Config.StoragePath))
	svc.flows = flow.NewManager(svc.entries, svc.apis)

	integration := opencode.New(opencode.Options{
		BaseURL:         svc.Config.BaseURL,
		ValidateTimeout: svc.Config.ValidateTimeout,
		HTTPClient:      svc.HTTPClient,
		APIs:            svc.apis,
	})
	if err := integration.Register(svc.entries, svc.flows); err != nil {
		return err
	}

	if err := svc.entries.Load(); err != nil {
		return err
	}
	svc.entries.SetupAll(ctx.Background())

	for _, e := range svc.entries.Entries(opencode.Domain) {
		log.Info().Str("entry_id", e.ID()).Str("state", string(e.State())).Msg("OpenCode entry")
	}

	return nil
}

func (svc *HostService) Shutdown() {
	if svc.entries == nil {
		return
	}
	svc.entries.UnloadAll(ctx.Background())
}

func (svc *HostService) Entries() *entries.Manager {
	return svc.entries
}

func (svc *HostService) Flows() *flow.Manager {
	return svc.flows
}

func (svc *HostService) APIs() *llmapi.Registry {
	return svc.apis
}

// Runtimes returns the runtimes of every loaded OpenCode entry.
func (svc *HostService) Runtimes() []*opencode.Runtime {
	var out []*opencode.Runtime
	for _, e := range svc.entries.Entries(opencode.Domain) {
		if rt, ok := opencode.RuntimeOf(e); ok {
			out = append(out, rt)
		}
	}
	return out
}
