// Package flow runs the host's multi-step forms. A flow is created for one
// handler, answers each submitted step with a Result and is discarded as soon
// as a step ends it.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

var (
	ErrUnknownFlow    = errors.New("unknown flow")
	ErrUnknownHandler = errors.New("unknown flow handler")
)

// Handler runs the steps of one flow instance. A nil input asks for the
// step to be rendered.
type Handler interface {
	Step(ctx context.Context, stepID string, input Input) (*Result, error)
}

// Prechecker is implemented by handlers that can end a step before its input
// is checked against the shown form. A nil result lets the submission through.
type Prechecker interface {
	Precheck(ctx context.Context, stepID string) (*Result, error)
}

type (
	ConfigFlowFactory   func(env *Env) Handler
	SubentryFlowFactory func(env *SubentryEnv) Handler
)

type instance struct {
	mu      sync.Mutex
	id      string
	handler Handler
	name    string
	domain  string
	// entryID is set for subentry flows.
	entryID      string
	subentryType string
	source       string
	last         *Result
}

type Manager struct {
	entries *entries.Manager
	apis    *llmapi.Registry

	mu            sync.Mutex
	configFlows   map[string]ConfigFlowFactory
	subentryFlows map[string]map[string]SubentryFlowFactory
	flows         map[string]*instance
}

func NewManager(em *entries.Manager, apis *llmapi.Registry) *Manager {
	return &Manager{
		entries:       em,
		apis:          apis,
		configFlows:   make(map[string]ConfigFlowFactory),
		subentryFlows: make(map[string]map[string]SubentryFlowFactory),
		flows:         make(map[string]*instance),
	}
}

func (m *Manager) RegisterConfigFlow(domain string, factory ConfigFlowFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configFlows[domain] = factory
}

func (m *Manager) RegisterSubentryFlow(domain, subentryType string, factory SubentryFlowFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subentryFlows[domain] == nil {
		m.subentryFlows[domain] = make(map[string]SubentryFlowFactory)
	}
	m.subentryFlows[domain][subentryType] = factory
}

// SubentryTypes lists the subentry types a domain supports.
func (m *Manager) SubentryTypes(domain string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.subentryFlows[domain]))
	for t := range m.subentryFlows[domain] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// InitConfigFlow starts a config flow for domain at the "user" step.
func (m *Manager) InitConfigFlow(ctx context.Context, domain string) (*Result, error) {
	m.mu.Lock()
	factory, ok := m.configFlows[domain]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, domain)
	}

	inst := &instance{
		id:     ulid.Make().String(),
		name:   domain,
		domain: domain,
		source: entries.SourceUser,
	}
	inst.handler = factory(&Env{
		FlowID:  inst.id,
		Domain:  domain,
		Source:  entries.SourceUser,
		Entries: m.entries,
		APIs:    m.apis,
	})
	return m.start(ctx, inst, entries.SourceUser)
}

// InitSubentryFlow starts a subentry flow. source is entries.SourceUser to
// create a subentry or entries.SourceReconfigure to edit subentryID.
func (m *Manager) InitSubentryFlow(ctx context.Context, entryID, subentryType, source, subentryID string) (*Result, error) {
	entry, err := m.entries.Entry(entryID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	factory, ok := m.subentryFlows[entry.Domain()][subentryType]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownHandler, entry.Domain(), subentryType)
	}

	if source == entries.SourceReconfigure {
		sub, ok := entry.Subentry(subentryID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", entries.ErrUnknownSubentry, subentryID)
		}
		if sub.SubentryType != subentryType {
			return nil, fmt.Errorf("subentry %s is %s, not %s", subentryID, sub.SubentryType, subentryType)
		}
	} else {
		source = entries.SourceUser
		subentryID = ""
	}

	inst := &instance{
		id:           ulid.Make().String(),
		name:         entry.Domain() + "/" + subentryType,
		domain:       entry.Domain(),
		entryID:      entryID,
		subentryType: subentryType,
		source:       source,
	}
	inst.handler = factory(&SubentryEnv{
		Env: Env{
			FlowID:  inst.id,
			Domain:  entry.Domain(),
			Source:  source,
			Entries: m.entries,
			APIs:    m.apis,
		},
		EntryID:      entryID,
		SubentryType: subentryType,
		SubentryID:   subentryID,
	})
	return m.start(ctx, inst, source)
}

func (m *Manager) start(ctx context.Context, inst *instance, stepID string) (*Result, error) {
	m.mu.Lock()
	m.flows[inst.id] = inst
	m.mu.Unlock()

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return m.run(ctx, inst, stepID, nil)
}

// Configure submits input to the step the flow is showing. Input that does
// not satisfy the shown form is answered with the same form and errors,
// unless the handler's Precheck ends the step first.
func (m *Manager) Configure(ctx context.Context, flowID string, input Input) (*Result, error) {
	m.mu.Lock()
	inst, ok := m.flows[flowID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.last == nil {
		return nil, fmt.Errorf("%w: %s has finished", ErrUnknownFlow, flowID)
	}
	if input == nil {
		input = Input{}
	}

	if pc, ok := inst.handler.(Prechecker); ok {
		res, err := pc.Precheck(ctx, inst.last.StepID)
		if err != nil || res != nil {
			return m.apply(ctx, inst, inst.last.StepID, res, err)
		}
	}

	cleaned, errs := inst.last.Schema.Validate(input)
	if len(errs) > 0 {
		log.Debug().Str("flow_id", inst.id).Str("step", inst.last.StepID).
			Interface("errors", errs).Msg("Flow input rejected")
		res := *inst.last
		res.Errors = errs
		inst.last = &res
		return &res, nil
	}

	return m.run(ctx, inst, inst.last.StepID, cleaned)
}

// Abort discards a flow.
func (m *Manager) Abort(flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[flowID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}
	delete(m.flows, flowID)
	return nil
}

// InProgress returns the ids of running flows.
func (m *Manager) InProgress() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.flows))
	for id := range m.flows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// run executes a step with inst.mu held and applies its result.
func (m *Manager) run(ctx context.Context, inst *instance, stepID string, input Input) (*Result, error) {
	res, err := inst.handler.Step(ctx, stepID, input)
	return m.apply(ctx, inst, stepID, res, err)
}

// apply records the outcome of a step with inst.mu held.
func (m *Manager) apply(ctx context.Context, inst *instance, stepID string, res *Result, err error) (*Result, error) {
	logger := log.With().Str("flow_id", inst.id).Str("handler", inst.name).Str("step", stepID).Logger()

	if err == nil && res == nil {
		err = fmt.Errorf("step %s returned no result", stepID)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Flow step failed")
		res = Abort(ReasonUnknown)
	}
	res.FlowID = inst.id
	res.Handler = inst.name

	switch res.Type {
	case ResultForm:
		inst.last = res
		return res, nil
	case ResultCreateEntry:
		if err := m.create(ctx, inst, res); err != nil {
			m.finish(inst)
			return nil, err
		}
	}

	logger.Info().Str("result", string(res.Type)).Str("reason", res.Reason).Msg("Flow finished")
	m.finish(inst)
	return res, nil
}

func (m *Manager) create(ctx context.Context, inst *instance, res *Result) error {
	if inst.entryID == "" {
		entry, err := m.entries.AddEntry(ctx, entries.NewEntry{
			Domain: inst.domain,
			Title:  res.Title,
			Source: inst.source,
			Data:   res.Data,
		})
		if err != nil {
			return err
		}
		res.EntryID = entry.ID()
		return nil
	}

	sub, err := m.entries.AddSubentry(ctx, inst.entryID, entries.Subentry{
		SubentryType: inst.subentryType,
		Title:        res.Title,
		Data:         res.Data,
	})
	if err != nil {
		return err
	}
	res.EntryID = inst.entryID
	res.SubentryID = sub.SubentryID
	return nil
}

func (m *Manager) finish(inst *instance) {
	inst.last = nil
	m.mu.Lock()
	delete(m.flows, inst.id)
	m.mu.Unlock()
}
