// Package entries is the host side of configuration entries: it stores them,
// drives integration setup and unload, and notifies update listeners.
package entries

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSetupFailed marks a setup failure that retrying will not fix.
	ErrSetupFailed = errors.New("entry setup failed")
	// ErrNotReady marks a transient setup failure.
	ErrNotReady = errors.New("entry not ready")

	ErrUnknownEntry       = errors.New("unknown config entry")
	ErrUnknownSubentry    = errors.New("unknown subentry")
	ErrUnknownIntegration = errors.New("unknown integration")
)

// Integration is implemented by anything that can run on a configuration entry.
type Integration interface {
	Domain() string
	SetupEntry(ctx context.Context, m *Manager, entry *ConfigEntry) error
	UnloadEntry(ctx context.Context, m *Manager, entry *ConfigEntry) error
}

// NewEntry describes an entry to create.
type NewEntry struct {
	Domain  string
	Title   string
	Version int
	Source  string
	Data    map[string]any
}

type Manager struct {
	store Store
	// writeMu serialises changes with the save that persists them.
	writeMu sync.Mutex

	mu           sync.RWMutex
	integrations map[string]Integration
	entries      map[string]*ConfigEntry
	order        []string
}

func NewManager(store Store) *Manager {
	return &Manager{
		store:        store,
		integrations: make(map[string]Integration),
		entries:      make(map[string]*ConfigEntry),
	}
}

func (m *Manager) Register(integration Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.integrations[integration.Domain()]; ok {
		return fmt.Errorf("integration %s already registered", integration.Domain())
	}
	m.integrations[integration.Domain()] = integration
	return nil
}

// Load reads persisted entries. Loaded entries start as not_loaded.
func (m *Manager) Load() error {
	records, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if _, ok := m.entries[rec.EntryID]; ok {
			continue
		}
		m.entries[rec.EntryID] = newEntry(rec)
		m.order = append(m.order, rec.EntryID)
	}
	log.Info().Int("entries", len(records)).Msg("Loaded config entries")
	return nil
}

func (m *Manager) Entry(id string) (*ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	return e, nil
}

// Entries returns the entries of a domain ("" for all) in creation order.
func (m *Manager) Entries(domain string) []*ConfigEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ConfigEntry, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if domain == "" || e.domain == domain {
			out = append(out, e)
		}
	}
	return out
}

// EntriesMatch reports whether an entry of domain has data containing every
// key/value pair of match.
func (m *Manager) EntriesMatch(domain string, match map[string]any) bool {
	for _, e := range m.Entries(domain) {
		data := e.Data()
		matched := true
		for k, v := range match {
			if got, ok := data[k]; !ok || !reflect.DeepEqual(got, v) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// AddEntry persists a new entry and sets it up. A failed setup is recorded
// on the entry, not returned.
func (m *Manager) AddEntry(ctx context.Context, ne NewEntry) (*ConfigEntry, error) {
	if ne.Version == 0 {
		ne.Version = 1
	}
	e := newEntry(Record{
		EntryID: ulid.Make().String(),
		Domain:  ne.Domain,
		Title:   ne.Title,
		Version: ne.Version,
		Source:  ne.Source,
		Data:    ne.Data,
	})

	m.writeMu.Lock()
	m.mu.Lock()
	m.entries[e.id] = e
	m.order = append(m.order, e.id)
	m.mu.Unlock()

	err := m.save()
	if err != nil {
		m.forget(e.id)
	}
	m.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	log.Info().Str("entry_id", e.id).Str("domain", e.domain).Msg("Config entry created")

	_ = m.Setup(ctx, e.id)
	return e, nil
}

// RemoveEntry unloads and deletes an entry. The entry stays known, unloaded,
// when the store cannot save the removal.
func (m *Manager) RemoveEntry(ctx context.Context, id string) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}
	if err := m.Unload(ctx, id); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	pos := m.forget(id)
	if err := m.save(); err != nil {
		m.restore(e, pos)
		return err
	}
	log.Info().Str("entry_id", id).Msg("Config entry removed")
	return nil
}

// forget drops an entry and returns its position in the creation order.
func (m *Manager) forget(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return i
		}
	}
	return len(m.order)
}

func (m *Manager) restore(e *ConfigEntry, pos int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.id] = e
	m.order = append(m.order, "")
	copy(m.order[pos+1:], m.order[pos:])
	m.order[pos] = e.id
}

// SetupAll sets up every entry that is not loaded yet.
func (m *Manager) SetupAll(ctx context.Context) {
	for _, e := range m.Entries("") {
		_ = m.Setup(ctx, e.id)
	}
}

// Setup runs the integration setup for an entry and records the outcome.
// The returned error is the integration error, if any.
func (m *Manager) Setup(ctx context.Context, id string) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return m.setup(ctx, e)
}

func (m *Manager) setup(ctx context.Context, e *ConfigEntry) error {
	if e.State() == StateLoaded {
		return nil
	}

	integration, err := m.integration(e.domain)
	if err != nil {
		e.setState(StateSetupError, err.Error())
		return err
	}

	logger := log.With().Str("entry_id", e.id).Str("domain", e.domain).Logger()

	err = integration.SetupEntry(ctx, m, e)
	switch {
	case err == nil:
		e.setState(StateLoaded, "")
		logger.Info().Msg("Config entry loaded")
	case errors.Is(err, ErrNotReady):
		m.runUnloadCallbacks(e)
		e.setState(StateSetupRetry, err.Error())
		logger.Warn().Err(err).Msg("Config entry not ready")
	case errors.Is(err, ErrSetupFailed):
		m.runUnloadCallbacks(e)
		e.setState(StateSetupError, err.Error())
		logger.Error().Err(err).Msg("Config entry setup failed")
	default:
		m.runUnloadCallbacks(e)
		e.setState(StateSetupError, "unknown error")
		logger.Error().Err(err).Msg("Unexpected error setting up config entry")
	}
	return err
}

// UnloadAll unloads every loaded entry, newest first.
func (m *Manager) UnloadAll(ctx context.Context) {
	all := m.Entries("")
	for i := len(all) - 1; i >= 0; i-- {
		if err := m.Unload(ctx, all[i].id); err != nil {
			log.Error().Err(err).Str("entry_id", all[i].id).Msg("Failed to unload config entry")
		}
	}
}

func (m *Manager) Unload(ctx context.Context, id string) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return m.unload(ctx, e)
}

func (m *Manager) unload(ctx context.Context, e *ConfigEntry) error {
	if e.State() == StateLoaded {
		integration, err := m.integration(e.domain)
		if err != nil {
			return err
		}
		if err := integration.UnloadEntry(ctx, m, e); err != nil {
			return fmt.Errorf("unload %s: %w", e.id, err)
		}
	}

	m.runUnloadCallbacks(e)
	e.setState(StateNotLoaded, "")
	log.Info().Str("entry_id", e.id).Msg("Config entry unloaded")
	return nil
}

// Reload unloads then sets up an entry.
func (m *Manager) Reload(ctx context.Context, id string) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if err := m.unload(ctx, e); err != nil {
		return err
	}
	return m.setup(ctx, e)
}

func (m *Manager) runUnloadCallbacks(e *ConfigEntry) {
	for _, fn := range e.drainUnload() {
		fn()
	}
}

// AddUpdateListener registers fn for changes to the entry and returns a
// function removing it.
func (m *Manager) AddUpdateListener(id string, fn UpdateListener) (func(), error) {
	e, err := m.Entry(id)
	if err != nil {
		return nil, err
	}
	return e.addListener(fn), nil
}

// UpdateEntry replaces the entry title (when non-empty) and data.
func (m *Manager) UpdateEntry(ctx context.Context, id, title string, data map[string]any) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}

	var oldTitle string
	var oldData map[string]any
	return m.commit(ctx, e, func() error {
		oldTitle, oldData = e.title, e.data
		if title != "" {
			e.title = title
		}
		if data != nil {
			e.data = CloneData(data)
		}
		return nil
	}, func() {
		e.title, e.data = oldTitle, oldData
	})
}

// AddSubentry stores a new subentry under an entry and returns it with its id.
func (m *Manager) AddSubentry(ctx context.Context, id string, sub Subentry) (Subentry, error) {
	e, err := m.Entry(id)
	if err != nil {
		return Subentry{}, err
	}

	sub = sub.clone()
	sub.SubentryID = ulid.Make().String()

	err = m.commit(ctx, e, func() error {
		e.subentries[sub.SubentryID] = sub
		return nil
	}, func() {
		delete(e.subentries, sub.SubentryID)
	})
	if err != nil {
		return Subentry{}, err
	}
	log.Info().Str("entry_id", id).Str("subentry_id", sub.SubentryID).
		Str("subentry_type", sub.SubentryType).Msg("Subentry created")
	return sub.clone(), nil
}

// UpdateSubentry overwrites the data (and title when non-empty) of a subentry in place.
func (m *Manager) UpdateSubentry(ctx context.Context, id, subentryID, title string, data map[string]any) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}

	var old Subentry
	err = m.commit(ctx, e, func() error {
		sub, ok := e.subentries[subentryID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSubentry, subentryID)
		}
		old = sub
		if title != "" {
			sub.Title = title
		}
		sub.Data = CloneData(data)
		e.subentries[subentryID] = sub
		return nil
	}, func() {
		e.subentries[subentryID] = old
	})
	if err != nil {
		return err
	}
	log.Info().Str("entry_id", id).Str("subentry_id", subentryID).Msg("Subentry updated")
	return nil
}

func (m *Manager) RemoveSubentry(ctx context.Context, id, subentryID string) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}

	var old Subentry
	err = m.commit(ctx, e, func() error {
		sub, ok := e.subentries[subentryID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSubentry, subentryID)
		}
		old = sub
		delete(e.subentries, subentryID)
		return nil
	}, func() {
		e.subentries[subentryID] = old
	})
	if err != nil {
		return err
	}
	log.Info().Str("entry_id", id).Str("subentry_id", subentryID).Msg("Subentry removed")
	return nil
}

// commit applies a change to e and saves it, undoing the change when the
// save fails. Listeners run after a successful save, outside of any lock.
func (m *Manager) commit(ctx context.Context, e *ConfigEntry, apply func() error, undo func()) error {
	m.writeMu.Lock()
	e.mu.Lock()
	err := apply()
	e.mu.Unlock()
	if err != nil {
		m.writeMu.Unlock()
		return err
	}

	if err := m.save(); err != nil {
		e.mu.Lock()
		undo()
		e.mu.Unlock()
		m.writeMu.Unlock()
		return err
	}
	m.writeMu.Unlock()

	for _, fn := range e.snapshotListeners() {
		fn(ctx, m, e)
	}
	return nil
}

func (m *Manager) save() error {
	all := m.Entries("")
	records := make([]Record, 0, len(all))
	for _, e := range all {
		records = append(records, e.record())
	}
	if err := m.store.Save(records); err != nil {
		return fmt.Errorf("save entries: %w", err)
	}
	return nil
}

func (m *Manager) integration(domain string) (Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	integration, ok := m.integrations[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntegration, domain)
	}
	return integration, nil
}
