package services

import (
	context2 "context"
	"errors"
	"fmt"
	"sort"

	"github.com/requiem-ai/opencode-agent/context"
	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/opencode"
)

var (
	ErrNoAgent     = errors.New("no conversation agent configured")
	ErrUnknownTask = errors.New("unknown AI task")
	// ErrUnknownProfile is returned for ids that name no agent or task.
	ErrUnknownProfile = errors.New("unknown agent or task")
	ErrUnknownModel   = errors.New("unknown model")
)

// AgentInfo describes a conversation agent or AI task entity.
type AgentInfo struct {
	ID    string
	Name  string
	Model string
}

// AgentService routes messages to the conversation agents and AI task
// entities of loaded OpenCode entries.
type AgentService struct {
	context.DefaultService

	host *HostService
}

const AGENT_SVC = "agent_svc"

func (svc AgentService) Id() string {
	return AGENT_SVC
}

func (svc *AgentService) Start() error {
	host, ok := svc.Service(HOST_SVC).(*HostService)
	if !ok {
		return errors.New("host service not available")
	}
	svc.host = host
	return nil
}

func (svc *AgentService) Agents() []AgentInfo {
	var out []AgentInfo
	for _, rt := range svc.host.Runtimes() {
		for _, a := range rt.Agents() {
			out = append(out, AgentInfo{ID: a.ID(), Name: a.Name(), Model: a.Options().Model})
		}
	}
	return out
}

func (svc *AgentService) Tasks() []AgentInfo {
	var out []AgentInfo
	for _, rt := range svc.host.Runtimes() {
		for _, t := range rt.Tasks() {
			out = append(out, AgentInfo{ID: t.ID(), Name: t.Name(), Model: t.Options().Model})
		}
	}
	return out
}

// Agent returns the agent with the given id, or the first agent when id is empty.
func (svc *AgentService) Agent(id string) (llm.Client, error) {
	for _, rt := range svc.host.Runtimes() {
		if id == "" {
			if agents := rt.Agents(); len(agents) > 0 {
				return agents[0], nil
			}
			continue
		}
		if a, ok := rt.Agent(id); ok {
			return a, nil
		}
	}
	if id == "" {
		return nil, ErrNoAgent
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAgent, id)
}

// Run sends msg to an agent and returns the reply with its conversation id.
func (svc *AgentService) Run(ctx context2.Context, agentID, conversationID, msg string) (llm.Response, error) {
	agent, err := svc.Agent(agentID)
	if err != nil {
		return llm.Response{}, err
	}
	return agent.Send(ctx, llm.Request{ConversationID: conversationID, Message: msg})
}

func (svc *AgentService) Clear(ctx context2.Context, agentID, conversationID string) error {
	agent, err := svc.Agent(agentID)
	if err != nil {
		return err
	}
	return agent.Clear(ctx, conversationID)
}

// Generate runs an AI task. An empty taskID picks the first task entity.
func (svc *AgentService) Generate(ctx context2.Context, taskID string, req opencode.TaskRequest) (opencode.TaskResult, error) {
	for _, rt := range svc.host.Runtimes() {
		if taskID == "" {
			if tasks := rt.Tasks(); len(tasks) > 0 {
				return tasks[0].GenerateData(ctx, req)
			}
			continue
		}
		if t, ok := rt.Task(taskID); ok {
			return t.GenerateData(ctx, req)
		}
	}
	return opencode.TaskResult{}, fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
}

// Models lists the model ids offered to the first loaded entry.
func (svc *AgentService) Models(ctx context2.Context) ([]string, error) {
	runtimes := svc.host.Runtimes()
	if len(runtimes) == 0 {
		return nil, errors.New("no OpenCode entry loaded")
	}

	models, err := runtimes[0].Client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// profile finds the OpenCode entry holding the agent or task subentry id.
func (svc *AgentService) profile(id string) (*entries.ConfigEntry, entries.Subentry, error) {
	for _, entry := range svc.host.Entries().Entries(opencode.Domain) {
		if sub, ok := entry.Subentry(id); ok {
			return entry, sub, nil
		}
	}
	return nil, entries.Subentry{}, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
}

// Reconfigure moves an agent or task to another model through its
// reconfigure flow. Every other option keeps the value the form offers.
func (svc *AgentService) Reconfigure(ctx context2.Context, id, model string) (*flow.Result, error) {
	entry, sub, err := svc.profile(id)
	if err != nil {
		return nil, err
	}

	flows := svc.host.Flows()
	res, err := flows.InitSubentryFlow(ctx, entry.ID(), sub.SubentryType, entries.SourceReconfigure, sub.SubentryID)
	if err != nil || res.Type != flow.ResultForm {
		return res, err
	}

	input := flow.Input{}
	for _, f := range res.Schema {
		switch {
		case f.Default != nil:
			input[f.Key] = f.Default
		case f.Suggested != nil:
			input[f.Key] = f.Suggested
		}
	}
	input[opencode.ConfModel] = model

	res, err = flows.Configure(ctx, res.FlowID, input)
	if err != nil {
		return nil, err
	}
	if res.Type == flow.ResultForm {
		_ = flows.Abort(res.FlowID)
		if res.Errors[opencode.ConfModel] == flow.ErrorInvalidOption {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
		}
		return nil, fmt.Errorf("reconfigure %s rejected: %v", id, res.Errors)
	}
	return res, nil
}

// Remove deletes an agent or task. Its entry reloads without it.
func (svc *AgentService) Remove(ctx context2.Context, id string) error {
	entry, sub, err := svc.profile(id)
	if err != nil {
		return err
	}
	return svc.host.Entries().RemoveSubentry(ctx, entry.ID(), sub.SubentryID)
}
