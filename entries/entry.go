package entries

import (
	"context"
	"sort"
	"sync"
)

// State is the runtime lifecycle state of a configuration entry.
type State string

const (
	StateNotLoaded  State = "not_loaded"
	StateLoaded     State = "loaded"
	StateSetupError State = "setup_error"
	StateSetupRetry State = "setup_retry"
)

const (
	SourceUser        = "user"
	SourceReconfigure = "reconfigure"
)

// Subentry is one usage profile nested under a configuration entry.
type Subentry struct {
	SubentryID   string         `yaml:"subentry_id"`
	SubentryType string         `yaml:"subentry_type"`
	Title        string         `yaml:"title"`
	Data         map[string]any `yaml:"data"`
}

func (s Subentry) clone() Subentry {
	s.Data = CloneData(s.Data)
	return s
}

// UpdateListener runs after an entry or one of its subentries changed.
type UpdateListener func(ctx context.Context, m *Manager, entry *ConfigEntry)

// ConfigEntry is one connection to a remote service. The persisted part is
// only changed through the Manager; accessors return copies.
type ConfigEntry struct {
	// lifecycle serialises setup, unload and reload of this entry.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	id         string
	domain     string
	title      string
	version    int
	source     string
	data       map[string]any
	subentries map[string]Subentry

	state     State
	reason    string
	runtime   any
	onUnload  []func()
	listeners map[int]UpdateListener
	nextListn int
}

func newEntry(rec Record) *ConfigEntry {
	e := &ConfigEntry{
		id:         rec.EntryID,
		domain:     rec.Domain,
		title:      rec.Title,
		version:    rec.Version,
		source:     rec.Source,
		data:       CloneData(rec.Data),
		subentries: make(map[string]Subentry, len(rec.Subentries)),
		state:      StateNotLoaded,
		listeners:  make(map[int]UpdateListener),
	}
	for _, sub := range rec.Subentries {
		e.subentries[sub.SubentryID] = sub.clone()
	}
	return e
}

func (e *ConfigEntry) ID() string     { return e.id }
func (e *ConfigEntry) Domain() string { return e.domain }

func (e *ConfigEntry) Title() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.title
}

// Data returns a copy of the entry data.
func (e *ConfigEntry) Data() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return CloneData(e.data)
}

func (e *ConfigEntry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Reason explains the last failed setup.
func (e *ConfigEntry) Reason() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reason
}

// RuntimeData is whatever the integration stored during setup.
func (e *ConfigEntry) RuntimeData() any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runtime
}

func (e *ConfigEntry) SetRuntimeData(v any) {
	e.mu.Lock()
	e.runtime = v
	e.mu.Unlock()
}

// OnUnload registers fn to run once when the entry is next unloaded.
func (e *ConfigEntry) OnUnload(fn func()) {
	e.mu.Lock()
	e.onUnload = append(e.onUnload, fn)
	e.mu.Unlock()
}

func (e *ConfigEntry) Subentry(id string) (Subentry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sub, ok := e.subentries[id]
	if !ok {
		return Subentry{}, false
	}
	return sub.clone(), true
}

// Subentries returns copies of the subentries of the given type ("" for all),
// ordered by id.
func (e *ConfigEntry) Subentries(subentryType string) []Subentry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Subentry, 0, len(e.subentries))
	for _, sub := range e.subentries {
		if subentryType == "" || sub.SubentryType == subentryType {
			out = append(out, sub.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubentryID < out[j].SubentryID })
	return out
}

func (e *ConfigEntry) record() Record {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec := Record{
		EntryID: e.id,
		Domain:  e.domain,
		Title:   e.title,
		Version: e.version,
		Source:  e.source,
		Data:    CloneData(e.data),
	}
	for _, sub := range e.subentries {
		rec.Subentries = append(rec.Subentries, sub.clone())
	}
	sort.Slice(rec.Subentries, func(i, j int) bool {
		return rec.Subentries[i].SubentryID < rec.Subentries[j].SubentryID
	})
	return rec
}

func (e *ConfigEntry) setState(state State, reason string) {
	e.mu.Lock()
	e.state = state
	e.reason = reason
	e.mu.Unlock()
}

func (e *ConfigEntry) addListener(fn UpdateListener) func() {
	e.mu.Lock()
	id := e.nextListn
	e.nextListn++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *ConfigEntry) snapshotListeners() []UpdateListener {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]UpdateListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.listeners[id])
	}
	return out
}

// drainUnload clears runtime data and hands back the pending unload callbacks.
func (e *ConfigEntry) drainUnload() []func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	fns := e.onUnload
	e.onUnload = nil
	e.runtime = nil
	return fns
}

// CloneData copies entry data, including nested slices and maps.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
