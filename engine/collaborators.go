package engine

import (
	"sort"

	"github.com/gofhir/quality/resolver"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/settings"
	"github.com/gofhir/quality/terminology"
)

// rebuildCollaborators derives the profile resolver and terminology
// chain from the active settings record. The record is the source of
// truth for server lists; the collaborators passed to New serve as
// bootstrap until a record carries servers of its own. Safe to call
// concurrently with validation: the swap happens under the lock and
// in-flight validations keep the collaborators they already picked up.
func (e *Engine) rebuildCollaborators() {
	profiles := e.profiles
	term := e.terminology

	var active *settings.Settings
	if e.settings != nil {
		active = e.settings.Active()
	}
	if active != nil {
		if hasEnabledProfileServer(active.ProfileServers) {
			opts := []resolver.Option{resolver.WithLogger(e.logger)}
			if active.RequestTimeout > 0 {
				opts = append(opts, resolver.WithAttemptTimeout(active.RequestTimeout))
			}
			profiles = resolver.New(active.ProfileServers, opts...)
		}
		if chain := e.terminologyChain(active); chain != nil {
			term = chain
		}
	}

	if profiles != nil {
		size, ttl := e.profileCacheConfig()
		profiles = newCachingResolver(profiles, size, ttl, e.metrics)
	}

	e.collabMu.Lock()
	e.activeProfiles = profiles
	e.activeTerminology = term
	e.collabMu.Unlock()
}

// terminologyChain builds a priority-ordered code validation chain
// from the record's enabled terminology servers, wrapped in the
// sharded result cache. Returns nil when the record names no usable
// server.
func (e *Engine) terminologyChain(active *settings.Settings) service.CodeValidator {
	servers := make([]settings.TerminologyServer, 0, len(active.TerminologyServers))
	for _, s := range active.TerminologyServers {
		if s.Enabled && s.URL != "" {
			servers = append(servers, s)
		}
	}
	if len(servers) == 0 {
		return nil
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].Priority < servers[j].Priority
	})

	validators := make([]service.CodeValidator, 0, len(servers))
	for _, s := range servers {
		opts := []terminology.ClientOption{terminology.WithLogger(e.logger)}
		if s.Timeout > 0 {
			opts = append(opts, terminology.WithTimeout(s.Timeout))
		}
		validators = append(validators, terminology.NewClient(s.URL, opts...))
	}

	cacheCfg := terminology.DefaultCacheConfig()
	if active.CacheTTL > 0 {
		cacheCfg.TTL = active.CacheTTL
	}
	return terminology.NewCachedValidator(service.NewCodeChain(validators...), cacheCfg)
}

func hasEnabledProfileServer(servers []resolver.ServerConfig) bool {
	for _, s := range servers {
		if s.Enabled && s.URL != "" {
			return true
		}
	}
	return false
}
