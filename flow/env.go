package flow

import (
	"context"

	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/llmapi"
)

// Env is what a running config flow can see of the host.
type Env struct {
	FlowID  string
	Domain  string
	Source  string
	Entries *entries.Manager
	APIs    *llmapi.Registry
}

// AbortIfEntriesMatch returns an already_configured abort when an entry of the
// flow's domain already holds match, nil otherwise.
func (e *Env) AbortIfEntriesMatch(match map[string]any) *Result {
	if e.Entries.EntriesMatch(e.Domain, match) {
		return Abort(ReasonAlreadyConfigured)
	}
	return nil
}

// SubentryEnv is what a running subentry flow can see of the host.
type SubentryEnv struct {
	Env
	EntryID      string
	SubentryType string
	// SubentryID is set for reconfigure flows.
	SubentryID string
}

// IsNew reports whether the flow creates a subentry rather than reconfiguring one.
func (e *SubentryEnv) IsNew() bool {
	return e.Source == entries.SourceUser
}

// Entry returns the owning configuration entry.
func (e *SubentryEnv) Entry() (*entries.ConfigEntry, error) {
	return e.Entries.Entry(e.EntryID)
}

// ReconfigureSubentry returns the subentry being reconfigured.
func (e *SubentryEnv) ReconfigureSubentry() (entries.Subentry, error) {
	entry, err := e.Entry()
	if err != nil {
		return entries.Subentry{}, err
	}
	sub, ok := entry.Subentry(e.SubentryID)
	if !ok {
		return entries.Subentry{}, entries.ErrUnknownSubentry
	}
	return sub, nil
}

// UpdateAndAbort overwrites the reconfigured subentry and ends the flow.
func (e *SubentryEnv) UpdateAndAbort(ctx context.Context, data map[string]any) (*Result, error) {
	if err := e.Entries.UpdateSubentry(ctx, e.EntryID, e.SubentryID, "", data); err != nil {
		return nil, err
	}
	return Abort(ReasonReconfigureSuccessful), nil
}
