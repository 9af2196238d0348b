package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofhir/quality/rules"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/settings"
)

// Memory is an in-memory store implementing every persistence contract
// in the system: settings records, rules with version history, raw
// resources and validation results. It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	settings map[string]*settings.Settings
	activeID string

	rules    map[string]*rules.Rule
	versions map[string][]rules.VersionRecord

	resources map[string]map[string]any
	results   map[string][]ResultRecord
}

var (
	_ settings.Store         = (*Memory)(nil)
	_ rules.Store            = (*Memory)(nil)
	_ ResourceStore          = (*Memory)(nil)
	_ ResultStore            = (*Memory)(nil)
	_ service.ResourceFinder = (*Memory)(nil)
)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		settings:  make(map[string]*settings.Settings),
		rules:     make(map[string]*rules.Rule),
		versions:  make(map[string][]rules.VersionRecord),
		resources: make(map[string]map[string]any),
		results:   make(map[string][]ResultRecord),
	}
}

func resourceKey(resourceType, id string) string {
	return resourceType + "/" + id
}

// GetSettings returns a copy of the record with the given id.
func (m *Memory) GetSettings(_ context.Context, id string) (*settings.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	return s.Clone(), nil
}

// ListSettings returns copies of all records ordered by id.
func (m *Memory) ListSettings(_ context.Context) ([]*settings.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*settings.Settings, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveSettings inserts or replaces a record. Saving a record with
// Active set does not deactivate others; use ActivateSettings for the
// activation invariant.
func (m *Memory) SaveSettings(_ context.Context, s *settings.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[s.ID] = s.Clone()
	if s.Active {
		m.activeID = s.ID
	} else if m.activeID == s.ID {
		m.activeID = ""
	}
	return nil
}

// DeleteSettings removes a record.
func (m *Memory) DeleteSettings(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settings[id]; !ok {
		return service.ErrNotFound
	}
	delete(m.settings, id)
	if m.activeID == id {
		m.activeID = ""
	}
	return nil
}

// ActiveSettings returns a copy of the active record.
func (m *Memory) ActiveSettings(_ context.Context) (*settings.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.activeID == "" {
		return nil, service.ErrNotFound
	}
	s, ok := m.settings[m.activeID]
	if !ok {
		return nil, service.ErrNotFound
	}
	return s.Clone(), nil
}

// ActivateSettings flips the active flag to the given record,
// deactivating every other record under the same lock.
func (m *Memory) ActivateSettings(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.settings[id]
	if !ok {
		return service.ErrNotFound
	}
	for _, s := range m.settings {
		s.Active = false
	}
	target.Active = true
	target.UpdatedAt = time.Now().UTC()
	m.activeID = id
	return nil
}

// GetRule returns a copy of the rule with the given id.
func (m *Memory) GetRule(_ context.Context, id string) (*rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRules returns copies of all rules, deleted ones included, ordered
// by name.
func (m *Memory) ListRules(_ context.Context) ([]*rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*rules.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveRule inserts or replaces a rule.
func (m *Memory) SaveRule(_ context.Context, rule *rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

// AppendVersion appends a history record for a rule.
func (m *Memory) AppendVersion(_ context.Context, record rules.VersionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions[record.RuleID] = append(m.versions[record.RuleID], record)
	return nil
}

// VersionHistory returns the history records for a rule in append
// order.
func (m *Memory) VersionHistory(_ context.Context, ruleID string) ([]rules.VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.versions[ruleID]
	out := make([]rules.VersionRecord, len(history))
	copy(out, history)
	return out, nil
}

// FindResource returns the stored resource for type+id.
func (m *Memory) FindResource(_ context.Context, resourceType, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.resources[resourceKey(resourceType, id)]
	if !ok {
		return nil, service.ErrNotFound
	}
	return r, nil
}

// PutResource stores a resource under type+id.
func (m *Memory) PutResource(_ context.Context, resourceType, id string, resource map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resources[resourceKey(resourceType, id)] = resource
	return nil
}

// DeleteResource removes a stored resource.
func (m *Memory) DeleteResource(_ context.Context, resourceType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := resourceKey(resourceType, id)
	if _, ok := m.resources[key]; !ok {
		return service.ErrNotFound
	}
	delete(m.resources, key)
	return nil
}

// SaveResult appends a validation result record.
func (m *Memory) SaveResult(_ context.Context, rec ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	key := resourceKey(rec.ResourceType, rec.ResourceID)
	m.results[key] = append(m.results[key], rec)
	return nil
}

// LatestResult returns the record with the newest StoredAt for a
// resource.
func (m *Memory) LatestResult(_ context.Context, resourceType, id string) (*ResultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.results[resourceKey(resourceType, id)]
	if len(recs) == 0 {
		return nil, service.ErrNotFound
	}
	latest := recs[0]
	for _, r := range recs[1:] {
		if r.StoredAt.After(latest.StoredAt) {
			latest = r
		}
	}
	return &latest, nil
}

// ResultHistory returns all records for a resource, newest first.
func (m *Memory) ResultHistory(_ context.Context, resourceType, id string) ([]ResultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.results[resourceKey(resourceType, id)]
	out := make([]ResultRecord, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].StoredAt.After(out[j].StoredAt) })
	return out, nil
}
