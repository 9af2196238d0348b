package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofhir/quality/resolver"
	"github.com/gofhir/quality/settings"
	"github.com/gofhir/quality/storage"
	"github.com/gofhir/quality/terminology"
)

// seedActiveSettings stores an active record carrying the given server
// lists so Initialize picks it up instead of creating the default.
func seedActiveSettings(t *testing.T, store *storage.Memory, profiles []resolver.ServerConfig, terms []settings.TerminologyServer) *settings.Settings {
	t.Helper()
	record := settings.Default()
	record.Active = true
	record.ProfileServers = profiles
	record.TerminologyServers = terms
	if err := store.SaveSettings(context.Background(), record); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	return record
}

func TestInitializeDerivesCollaboratorsFromSettings(t *testing.T) {
	ctx := context.Background()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	seedActiveSettings(t, store,
		[]resolver.ServerConfig{{ID: "ps1", Name: "registry", URL: srv.URL, Enabled: true}},
		[]settings.TerminologyServer{{ID: "ts1", Name: "tx", URL: srv.URL, Enabled: true}},
	)

	bootstrap := &countingResolver{}
	e := New(
		WithSettings(settings.NewService(store)),
		WithProfileResolver(bootstrap),
	)
	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer e.Close()

	cached, ok := e.activeProfiles.(*cachingResolver)
	if !ok {
		t.Fatalf("activeProfiles = %T, want *cachingResolver", e.activeProfiles)
	}
	if _, ok := cached.inner.(*resolver.Resolver); !ok {
		t.Fatalf("caching inner = %T, want *resolver.Resolver from settings record", cached.inner)
	}
	if _, ok := e.activeTerminology.(*terminology.CachedValidator); !ok {
		t.Fatalf("activeTerminology = %T, want *terminology.CachedValidator", e.activeTerminology)
	}

	// Resolution must reach the record's server, not the bootstrap.
	if _, err := e.activeProfiles.ResolveProfile(ctx, "http://example.org/StructureDefinition/vital"); err != nil {
		t.Fatalf("ResolveProfile: %v", err)
	}
	if hits.Load() == 0 {
		t.Error("settings-configured profile server received no requests")
	}
	if bootstrap.calls != 0 {
		t.Errorf("bootstrap resolver calls = %d, want 0", bootstrap.calls)
	}
}

func TestInitializeKeepsBootstrapWithoutServers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	bootstrap := &countingResolver{}
	e := New(
		WithSettings(settings.NewService(store)),
		WithProfileResolver(bootstrap),
	)
	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer e.Close()

	cached, ok := e.activeProfiles.(*cachingResolver)
	if !ok {
		t.Fatalf("activeProfiles = %T, want *cachingResolver", e.activeProfiles)
	}
	if cached.inner != bootstrap {
		t.Errorf("caching inner = %T, want the bootstrap resolver when the record names no servers", cached.inner)
	}
}

func TestSettingsUpdateRebuildsCollaborators(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	svc := settings.NewService(store)

	bootstrap := &countingResolver{}
	e := New(
		WithSettings(svc),
		WithProfileResolver(bootstrap),
	)
	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer e.Close()

	if cached := e.activeProfiles.(*cachingResolver); cached.inner != bootstrap {
		t.Fatalf("caching inner = %T before update, want bootstrap", cached.inner)
	}

	record := svc.Active().Clone()
	record.ProfileServers = []resolver.ServerConfig{
		{ID: "ps1", Name: "registry", URL: "http://profiles.example.org", Enabled: true},
	}
	if err := svc.Update(ctx, record); err != nil {
		t.Fatalf("Update: %v", err)
	}

	e.collabMu.RLock()
	inner := e.activeProfiles.(*cachingResolver).inner
	e.collabMu.RUnlock()
	if _, ok := inner.(*resolver.Resolver); !ok {
		t.Errorf("caching inner = %T after update, want *resolver.Resolver", inner)
	}
}

func TestDisabledServersKeepBootstrap(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	seedActiveSettings(t, store,
		[]resolver.ServerConfig{{ID: "ps1", Name: "off", URL: "http://profiles.example.org", Enabled: false}},
		[]settings.TerminologyServer{{ID: "ts1", Name: "off", URL: "http://tx.example.org", Enabled: false}},
	)

	bootstrap := &countingResolver{}
	e := New(
		WithSettings(settings.NewService(store)),
		WithProfileResolver(bootstrap),
	)
	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer e.Close()

	if cached := e.activeProfiles.(*cachingResolver); cached.inner != bootstrap {
		t.Errorf("caching inner = %T, want bootstrap when every record server is disabled", cached.inner)
	}
}
