// Package resolver resolves canonical profile URLs against a
// priority-ordered list of profile servers.
//
// Two server types are supported: registry-style servers that serve
// StructureDefinitions by canonical URL query, and implementation-guide
// sites where the definition lives at one of a few conventional paths.
// Each attempt has its own timeout; failures are logged and swallowed,
// and a fully failed resolution returns nil rather than an error so
// callers can degrade gracefully.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"

	"github.com/gofhir/quality/service"
)

// Server types.
const (
	ServerTypeRegistry            = "registry"
	ServerTypeImplementationGuide = "implementation-guide"
)

// DefaultAttemptTimeout bounds each individual server attempt.
const DefaultAttemptTimeout = 10 * time.Second

// maxDefinitionBytes caps the response body read per attempt.
const maxDefinitionBytes = 8 << 20

// ServerConfig describes one profile-resolution server.
type ServerConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// Resolver implements service.ProfileResolver over a server list.
type Resolver struct {
	servers        []ServerConfig
	httpClient     *http.Client
	attemptTimeout time.Duration
	logger         zerolog.Logger
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithAttemptTimeout sets the per-server-attempt timeout.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		r.attemptTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a resolver over the given servers. Disabled servers are
// dropped and the rest are ordered by ascending priority.
func New(servers []ServerConfig, opts ...Option) *Resolver {
	enabled := make([]ServerConfig, 0, len(servers))
	for _, s := range servers {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})

	r := &Resolver{
		servers:        enabled,
		httpClient:     &http.Client{Timeout: DefaultAttemptTimeout},
		attemptTimeout: DefaultAttemptTimeout,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Servers returns the enabled servers in resolution order.
func (r *Resolver) Servers() []ServerConfig {
	out := make([]ServerConfig, len(r.servers))
	copy(out, r.servers)
	return out
}

// ResolveProfile tries each server in priority order and returns the
// first StructureDefinition found. Returns (nil, nil) when no server
// can resolve the URL; callers must treat that as "could not resolve",
// not as a failure.
func (r *Resolver) ResolveProfile(ctx context.Context, profileURL string) (*service.StructureDefinition, error) {
	if profileURL == "" {
		return nil, nil
	}

	for _, server := range r.servers {
		sd, err := r.tryServer(ctx, server, profileURL)
		if err != nil {
			r.logger.Debug().
				Str("server", server.Name).
				Str("profile", profileURL).
				Err(err).
				Msg("profile resolution attempt failed")
			continue
		}
		if sd != nil {
			return sd, nil
		}
	}

	return nil, nil
}

// tryServer runs one server's fetch strategy under its own timeout.
func (r *Resolver) tryServer(ctx context.Context, server ServerConfig, profileURL string) (*service.StructureDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	switch server.Type {
	case ServerTypeImplementationGuide:
		return r.fetchFromGuide(ctx, server, profileURL)
	default:
		return r.fetchFromRegistry(ctx, server, profileURL)
	}
}

// fetchFromRegistry queries a registry-style server by canonical URL.
func (r *Resolver) fetchFromRegistry(ctx context.Context, server ServerConfig, profileURL string) (*service.StructureDefinition, error) {
	endpoint := strings.TrimSuffix(server.URL, "/") + "/StructureDefinition?url=" + url.QueryEscape(profileURL)
	return r.fetch(ctx, endpoint)
}

// fetchFromGuide tries the conventional paths an implementation guide
// publishes its definitions under, ending with the canonical URL plus
// a .json suffix.
func (r *Resolver) fetchFromGuide(ctx context.Context, server ServerConfig, profileURL string) (*service.StructureDefinition, error) {
	name := profileURL
	if i := strings.LastIndex(profileURL, "/"); i >= 0 {
		name = profileURL[i+1:]
	}

	base := strings.TrimSuffix(server.URL, "/")
	candidates := []string{
		base + "/StructureDefinition-" + name + ".json",
		base + "/StructureDefinition/" + name + ".json",
		profileURL + ".json",
	}

	var lastErr error
	for _, candidate := range candidates {
		sd, err := r.fetch(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if sd != nil {
			return sd, nil
		}
	}
	return nil, lastErr
}

// fetch GETs one URL and decodes a StructureDefinition from it.
func (r *Resolver) fetch(ctx context.Context, endpoint string) (*service.StructureDefinition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/fhir+json, application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDefinitionBytes))
	if err != nil {
		return nil, err
	}

	return decodeStructureDefinition(body)
}

// decodeStructureDefinition parses a response body that is either a
// StructureDefinition or a search Bundle containing one.
func decodeStructureDefinition(body []byte) (*service.StructureDefinition, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	switch probe.ResourceType {
	case "StructureDefinition":
		var sd r4.StructureDefinition
		if err := json.Unmarshal(body, &sd); err != nil {
			return nil, fmt.Errorf("decoding StructureDefinition: %w", err)
		}
		converted := convertStructureDefinition(&sd)
		if converted == nil || converted.URL == "" {
			return nil, fmt.Errorf("response is not a usable StructureDefinition")
		}
		return converted, nil

	case "Bundle":
		var bundle struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		}
		if err := json.Unmarshal(body, &bundle); err != nil {
			return nil, fmt.Errorf("decoding Bundle: %w", err)
		}
		for _, entry := range bundle.Entry {
			sd, err := decodeStructureDefinition(entry.Resource)
			if err == nil && sd != nil {
				return sd, nil
			}
		}
		return nil, fmt.Errorf("bundle contains no StructureDefinition")

	default:
		return nil, fmt.Errorf("unexpected resourceType %q", probe.ResourceType)
	}
}

var _ service.ProfileResolver = (*Resolver)(nil)
