package credential

import (
	"strings"
	"sync"

	"github.com/JohnPreston/credproxy/internal/config"
	"github.com/JohnPreston/credproxy/internal/log"
	"github.com/JohnPreston/credproxy/internal/metrics"
)

// Table is the authoritative mapping of service name to Entry, plus the
// token index the HTTP façade resolves requests through. Structural
// mutations are serialized under one mutex; reads take the read lock only
// for the map lookup and never wait on a fetch.
//
// Invariant: the name and token indexes are always mutually consistent, and
// exactly one Entry exists per active name.
type Table struct {
	settings   config.CredentialSettings
	newFetcher func(config.ServiceDefinition) Fetcher

	mu      sync.RWMutex
	entries map[string]*Entry
	tokens  map[string]string // auth token -> service name
}

// NewTable creates an empty table. Entries registered into it fetch via STS
// unless a fetcher factory override is installed.
func NewTable(settings config.CredentialSettings) *Table {
	return &Table{
		settings:   settings,
		newFetcher: func(config.ServiceDefinition) Fetcher { return NewSTSFetcher() },
		entries:    make(map[string]*Entry),
		tokens:     make(map[string]string),
	}
}

// SetFetcherFactory overrides how fetchers are built (for testing).
func (t *Table) SetFetcherFactory(fn func(config.ServiceDefinition) Fetcher) {
	t.newFetcher = fn
}

// Register creates and starts an Entry for the definition. It fails with a
// CollisionError when the name or the token is already held, leaving the
// table unchanged.
func (t *Table) Register(def config.ServiceDefinition) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkCollision(def, ""); err != nil {
		return err
	}
	t.installLocked(def)

	log.Info("registered service",
		"service", def.Name, "origin", def.Origin,
		"token", log.TokenPrefix(def.AuthToken))
	return nil
}

// Replace atomically swaps the entry for def.Name: the old entry is stopped,
// a fresh one starts with the new parameters, and readers resolving the name
// during the swap observe either the old entry's snapshot or the new entry's
// not-ready state, never a missing entry. Registers when the name is absent.
func (t *Table) Replace(def config.ServiceDefinition) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.entries[def.Name]
	if !ok {
		if err := t.checkCollision(def, ""); err != nil {
			return err
		}
		t.installLocked(def)
		return nil
	}

	if err := t.checkCollision(def, def.Name); err != nil {
		return err
	}

	old.Stop()
	delete(t.tokens, old.Definition().AuthToken)
	t.installLocked(def)

	log.Info("replaced service", "service", def.Name, "origin", def.Origin)
	return nil
}

// Unregister stops and removes an entry. A missing name is a no-op.
func (t *Table) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[name]
	if !ok {
		return
	}
	entry.Stop()
	delete(t.entries, name)
	delete(t.tokens, entry.Definition().AuthToken)
	metrics.SetActiveServices(len(t.entries))

	log.Info("unregistered service", "service", name)
}

// ResolveToken returns the service name owning the auth token.
func (t *Table) ResolveToken(token string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.tokens[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return name, nil
}

// SnapshotFor returns the named service's current snapshot, delegating to
// the entry's non-blocking read.
func (t *Table) SnapshotFor(name string) (*Snapshot, error) {
	t.mu.RLock()
	entry, ok := t.entries[name]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownService
	}
	return entry.CurrentSnapshot()
}

// Entry returns the live entry for a name, when present.
func (t *Table) Entry(name string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[name]
	return entry, ok
}

// Has reports whether a name is registered, regardless of origin.
func (t *Table) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[name]
	return ok
}

// Count returns the number of active entries.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// DefinitionsForOrigin returns the definitions owned by one origin tag,
// keyed by name. Used by directory reconciliation to diff desired against
// actual without touching entries owned elsewhere.
func (t *Table) DefinitionsForOrigin(origin string) map[string]config.ServiceDefinition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	defs := make(map[string]config.ServiceDefinition)
	for name, entry := range t.entries {
		if def := entry.Definition(); def.Origin == origin {
			defs[name] = def
		}
	}
	return defs
}

// StopAll stops every entry and clears the table. Called at shutdown; no
// credential state is persisted.
func (t *Table) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.entries {
		entry.Stop()
	}
	t.entries = make(map[string]*Entry)
	t.tokens = make(map[string]string)
	metrics.SetActiveServices(0)
}

// checkCollision enforces name and token uniqueness. selfName exempts the
// entry being replaced from the token check.
func (t *Table) checkCollision(def config.ServiceDefinition, selfName string) error {
	if selfName == "" {
		if _, ok := t.entries[def.Name]; ok {
			return &CollisionError{Service: def.Name, Field: "name", Existing: def.Name}
		}
	}
	if owner, ok := t.tokens[def.AuthToken]; ok && owner != selfName {
		return &CollisionError{Service: def.Name, Field: "token", Existing: owner}
	}
	return nil
}

// installLocked creates, indexes and starts an entry. Caller holds the lock.
func (t *Table) installLocked(def config.ServiceDefinition) {
	entry := NewEntry(def, t.newFetcher(def), t.settings)
	t.entries[def.Name] = entry
	t.tokens[def.AuthToken] = def.Name
	metrics.SetActiveServices(len(t.entries))
	entry.Start()
}

// DirectoryOrigin builds the origin tag for a watched directory.
func DirectoryOrigin(directory string) string {
	return "dynamic:" + strings.ReplaceAll(directory, "\\", "/")
}
