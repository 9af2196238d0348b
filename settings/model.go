// Package settings maintains the versioned validation settings record
// that drives engine behavior: which aspects run, which servers are
// consulted, and the bulk/cache tuning knobs.
//
// Exactly one record is active at a time. Reads go through a tagged
// LRU cache whose entries carry the server ids they depend on, so a
// server-configuration change invalidates only the affected records.
package settings

import (
	"time"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/resolver"
)

// AspectConfig controls a single validation aspect.
type AspectConfig struct {
	Enabled bool `json:"enabled"`
}

// TerminologyServer describes one terminology server.
type TerminologyServer struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Priority int           `json:"priority"`
	Enabled  bool          `json:"enabled"`
	Timeout  time.Duration `json:"timeout"`
}

// Settings is one versioned validation-settings record.
type Settings struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Active  bool   `json:"active"`

	// Aspects toggles each of the six validators.
	Aspects map[fq.Aspect]AspectConfig `json:"aspects"`

	// ExternalTerminology enables code existence checks against the
	// terminology servers.
	ExternalTerminology bool `json:"externalTerminology"`

	// ExternalReferences enables reference existence checks against
	// the FHIR server.
	ExternalReferences bool `json:"externalReferences"`

	// TerminologyServers are consulted in priority order.
	TerminologyServers []TerminologyServer `json:"terminologyServers"`

	// ProfileServers are the profile-resolution servers.
	ProfileServers []resolver.ServerConfig `json:"profileServers"`

	// RequestTimeout bounds each external call.
	RequestTimeout time.Duration `json:"requestTimeout"`

	// Bulk tuning.
	BatchSize     int  `json:"batchSize"`
	SubBatchSize  int  `json:"subBatchSize"`
	SkipUnchanged bool `json:"skipUnchanged"`

	// Cache tuning.
	CacheSize int           `json:"cacheSize"`
	CacheTTL  time.Duration `json:"cacheTTL"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Default returns the hardcoded default settings, used when storage is
// empty or unrecoverable.
func Default() *Settings {
	now := time.Now().UTC()
	aspects := make(map[fq.Aspect]AspectConfig, len(fq.Aspects))
	for _, aspect := range fq.Aspects {
		aspects[aspect] = AspectConfig{Enabled: true}
	}

	return &Settings{
		ID:                  "default",
		Version:             1,
		Aspects:             aspects,
		ExternalTerminology: false,
		ExternalReferences:  false,
		RequestTimeout:      30 * time.Second,
		BatchSize:           1000,
		SubBatchSize:        50,
		SkipUnchanged:       true,
		CacheSize:           100,
		CacheTTL:            10 * time.Minute,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// AspectEnabled reports whether an aspect is enabled, defaulting to
// true for aspects the record does not mention.
func (s *Settings) AspectEnabled(aspect fq.Aspect) bool {
	if s == nil || s.Aspects == nil {
		return true
	}
	cfg, ok := s.Aspects[aspect]
	if !ok {
		return true
	}
	return cfg.Enabled
}

// ServerIDs returns the ids of every server the record references.
// Cache entries for the record depend on these ids.
func (s *Settings) ServerIDs() []string {
	ids := make([]string, 0, len(s.TerminologyServers)+len(s.ProfileServers))
	for _, server := range s.TerminologyServers {
		ids = append(ids, server.ID)
	}
	for _, server := range s.ProfileServers {
		ids = append(ids, server.ID)
	}
	return ids
}

// Validate checks the record for holes a migration has to fill.
func (s *Settings) Validate() error {
	if s.ID == "" {
		return ErrInvalidSettings{"id is empty"}
	}
	if s.Version < 1 {
		return ErrInvalidSettings{"version must be at least 1"}
	}
	if s.Aspects == nil {
		return ErrInvalidSettings{"aspects map is missing"}
	}
	if s.BatchSize <= 0 {
		return ErrInvalidSettings{"batchSize must be positive"}
	}
	if s.SubBatchSize <= 0 {
		return ErrInvalidSettings{"subBatchSize must be positive"}
	}
	if s.RequestTimeout <= 0 {
		return ErrInvalidSettings{"requestTimeout must be positive"}
	}
	return nil
}

// ErrInvalidSettings reports a schema-validation failure on a loaded
// settings record.
type ErrInvalidSettings struct {
	Reason string
}

func (e ErrInvalidSettings) Error() string {
	return "invalid settings: " + e.Reason
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	if s.Aspects != nil {
		out.Aspects = make(map[fq.Aspect]AspectConfig, len(s.Aspects))
		for k, v := range s.Aspects {
			out.Aspects[k] = v
		}
	}
	out.TerminologyServers = append([]TerminologyServer(nil), s.TerminologyServers...)
	out.ProfileServers = append([]resolver.ServerConfig(nil), s.ProfileServers...)
	return &out
}

// migrate backfills missing fields from the defaults, returning true
// when anything changed.
func (s *Settings) migrate() bool {
	def := Default()
	changed := false

	if s.Version < 1 {
		s.Version = 1
		changed = true
	}
	if s.Aspects == nil {
		s.Aspects = def.Aspects
		changed = true
	} else {
		for _, aspect := range fq.Aspects {
			if _, ok := s.Aspects[aspect]; !ok {
				s.Aspects[aspect] = AspectConfig{Enabled: true}
				changed = true
			}
		}
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = def.RequestTimeout
		changed = true
	}
	if s.BatchSize <= 0 {
		s.BatchSize = def.BatchSize
		changed = true
	}
	if s.SubBatchSize <= 0 {
		s.SubBatchSize = def.SubBatchSize
		changed = true
	}
	if s.CacheSize <= 0 {
		s.CacheSize = def.CacheSize
		changed = true
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = def.CacheTTL
		changed = true
	}
	return changed
}
