package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gofhir/quality/cache"
	"github.com/gofhir/quality/service"
)

// Load retry tuning. The backoff doubles per attempt and is capped.
const (
	loadAttempts   = 3
	loadBackoff    = 250 * time.Millisecond
	maxLoadBackoff = 5 * time.Second
)

// Cache tags.
const (
	tagActive = "active"
	tagRecent = "recent"
)

// Store persists settings records. Implementations live in the storage
// package.
type Store interface {
	GetSettings(ctx context.Context, id string) (*Settings, error)
	ListSettings(ctx context.Context) ([]*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error
	DeleteSettings(ctx context.Context, id string) error
	ActiveSettings(ctx context.Context) (*Settings, error)

	// ActivateSettings deactivates the current active record and
	// activates the given one as a single transaction.
	ActivateSettings(ctx context.Context, id string) error
}

// Service maintains the active settings singleton and the record cache.
type Service struct {
	store  Store
	logger zerolog.Logger

	mu     sync.RWMutex
	active *Settings

	cache *cache.Tagged[string, *Settings]

	subMu       sync.RWMutex
	subscribers []Subscriber
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCacheSize bounds the record cache.
func WithCacheSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cache = cache.NewTagged[string, *Settings](n)
		}
	}
}

// NewService creates a settings service over the store. Call Load
// before first use.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zerolog.Nop(),
		cache:  cache.NewTagged[string, *Settings](100),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a subscriber for settings events.
func (s *Service) Subscribe(sub Subscriber) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.subMu.Unlock()
}

func (s *Service) publish(e Event) {
	s.subMu.RLock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.Notify(e)
	}
}

// Load initializes the active settings with self-healing: retry with
// backoff, migrate an invalid record, fall back to any valid record,
// create defaults when storage is empty, and finally run on hardcoded
// defaults if storage stays unusable. After Load returns, Active never
// returns nil.
func (s *Service) Load(ctx context.Context) error {
	var lastErr error
	backoff := loadBackoff

	for attempt := 1; attempt <= loadAttempts; attempt++ {
		active, err := s.loadOnce(ctx)
		if err == nil {
			s.setActive(active)
			return nil
		}
		lastErr = err
		s.logger.Warn().Int("attempt", attempt).Err(err).Msg("settings load failed")

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = loadAttempts
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxLoadBackoff {
			backoff = maxLoadBackoff
		}
	}

	// Storage is unusable. Run on defaults so validation keeps working,
	// and tell subscribers something is wrong.
	s.setActive(Default())
	s.logger.Error().Err(lastErr).Msg("running on hardcoded default settings")
	s.publish(Event{Type: EventLoadFailed})
	return nil
}

// loadOnce is one pass of the self-healing load sequence.
func (s *Service) loadOnce(ctx context.Context) (*Settings, error) {
	active, err := s.store.ActiveSettings(ctx)
	switch {
	case err == nil:
		if verr := active.Validate(); verr != nil {
			if active.migrate() && active.Validate() == nil {
				active.UpdatedAt = time.Now().UTC()
				if err := s.store.SaveSettings(ctx, active); err != nil {
					return nil, fmt.Errorf("persisting migrated settings: %w", err)
				}
				s.logger.Info().Str("id", active.ID).Msg("migrated settings record")
				return active, nil
			}
			return nil, verr
		}
		return active, nil

	case errors.Is(err, service.ErrNotFound):
		// No active record; find any valid record or create defaults.
		if found := s.findAnyValid(ctx); found != nil {
			if err := s.store.ActivateSettings(ctx, found.ID); err != nil {
				return nil, fmt.Errorf("activating %s: %w", found.ID, err)
			}
			found.Active = true
			return found, nil
		}
		return s.createDefault(ctx)

	default:
		return nil, err
	}
}

func (s *Service) findAnyValid(ctx context.Context) *Settings {
	all, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil
	}
	for _, candidate := range all {
		if candidate.Validate() == nil {
			return candidate
		}
	}
	return nil
}

func (s *Service) createDefault(ctx context.Context) (*Settings, error) {
	def := Default()
	def.Active = true
	if err := s.store.SaveSettings(ctx, def); err != nil {
		return nil, fmt.Errorf("creating default settings: %w", err)
	}
	s.logger.Info().Msg("created default settings record")
	return def, nil
}

func (s *Service) setActive(active *Settings) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	s.cacheRecord(active, true)
}

// Active returns the active settings. Never nil after Load.
func (s *Service) Active() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Get returns a settings record by id, consulting the cache first.
func (s *Service) Get(ctx context.Context, id string) (*Settings, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached, nil
	}

	record, err := s.store.GetSettings(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheRecord(record, record.Active)
	return record, nil
}

// Create stores a new record, inactive by default.
func (s *Service) Create(ctx context.Context, record *Settings) error {
	record.Active = false
	if record.Version < 1 {
		record.Version = 1
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := record.Validate(); err != nil {
		return err
	}
	return s.store.SaveSettings(ctx, record)
}

// Update merges changes into an existing record. The version is bumped
// when server configuration changed, and dependent cache entries are
// invalidated.
func (s *Service) Update(ctx context.Context, record *Settings) error {
	existing, err := s.store.GetSettings(ctx, record.ID)
	if err != nil {
		return err
	}

	record.Active = existing.Active
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	if record.Version < existing.Version {
		record.Version = existing.Version
	}
	if serversChanged(existing, record) {
		record.Version = existing.Version + 1
	}

	if err := record.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveSettings(ctx, record); err != nil {
		return err
	}

	s.cache.Delete(record.ID)
	if record.Active {
		s.setActive(record)
	}
	s.publish(Event{Type: EventUpdated, SettingsID: record.ID})
	return nil
}

// Activate makes the record the single active settings. The store
// swaps the active flag transactionally.
func (s *Service) Activate(ctx context.Context, id string) error {
	record, err := s.store.GetSettings(ctx, id)
	if err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	if err := s.store.ActivateSettings(ctx, id); err != nil {
		return err
	}

	record.Active = true
	s.cache.InvalidateTag(tagActive)
	s.setActive(record)
	s.publish(Event{Type: EventActivated, SettingsID: id})
	return nil
}

// Deactivate clears a record's active flag. The service falls back to
// hardcoded defaults until another record is activated.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	record, err := s.store.GetSettings(ctx, id)
	if err != nil {
		return err
	}
	if !record.Active {
		return nil
	}

	record.Active = false
	record.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveSettings(ctx, record); err != nil {
		return err
	}

	s.cache.Delete(id)
	s.setActive(Default())
	return nil
}

// ErrDeleteActive is returned when deleting the active record.
var ErrDeleteActive = errors.New("cannot delete the active settings record")

// Delete removes a record. The active record cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.store.GetSettings(ctx, id)
	if err != nil {
		return err
	}
	if record.Active {
		return ErrDeleteActive
	}

	if err := s.store.DeleteSettings(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(id)
	return nil
}

// ServerChanged invalidates every cached record that depends on the
// given server id and reloads the active record if affected.
func (s *Service) ServerChanged(ctx context.Context, serverID string) int {
	invalidated := s.cache.InvalidateDependency(serverID)

	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active != nil && dependsOn(active, serverID) {
		if refreshed, err := s.store.GetSettings(ctx, active.ID); err == nil {
			s.setActive(refreshed)
		}
	}

	s.publish(Event{Type: EventServerChanged, ServerID: serverID})
	return invalidated
}

// CacheLen returns the number of cached records.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

func (s *Service) cacheRecord(record *Settings, active bool) {
	if record == nil {
		return
	}
	tags := []string{tagRecent}
	if active {
		tags = append(tags, tagActive)
	}
	s.cache.Set(record.ID, record, tags, record.ServerIDs())
}

func serversChanged(a, b *Settings) bool {
	if len(a.TerminologyServers) != len(b.TerminologyServers) ||
		len(a.ProfileServers) != len(b.ProfileServers) {
		return true
	}
	for i := range a.TerminologyServers {
		if a.TerminologyServers[i] != b.TerminologyServers[i] {
			return true
		}
	}
	for i := range a.ProfileServers {
		if a.ProfileServers[i] != b.ProfileServers[i] {
			return true
		}
	}
	return false
}

func dependsOn(record *Settings, serverID string) bool {
	for _, id := range record.ServerIDs() {
		if id == serverID {
			return true
		}
	}
	return false
}
