package fhir

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTestConnection(t *testing.T) {
	t.Run("reachable server", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/metadata" {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(`{"resourceType":"CapabilityStatement","fhirVersion":"4.0.1"}`))
		}))
		defer srv.Close()

		status := NewClient(srv.URL).TestConnection(context.Background())
		if !status.Connected {
			t.Fatalf("Connected = false; Error = %q", status.Error)
		}
		if status.Version != "4.0.1" {
			t.Errorf("Version = %q; want 4.0.1", status.Version)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		status := NewClient("http://127.0.0.1:1").TestConnection(context.Background())
		if status.Connected {
			t.Error("Connected = true; want false")
		}
		if status.Error == "" {
			t.Error("Error is empty")
		}
	})
}

func TestSearchResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("_count"); got != "2" {
			t.Errorf("_count = %q; want 2", got)
		}
		if got := r.URL.Query().Get("_getpagesoffset"); got != "10" {
			t.Errorf("_getpagesoffset = %q; want 10", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"resourceType": "Bundle",
			"total":        42,
			"entry": []any{
				map[string]any{"resource": map[string]any{"resourceType": "Patient", "id": "p1"}},
				map[string]any{"resource": map[string]any{"resourceType": "Patient", "id": "p2"}},
			},
		})
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).SearchResources(context.Background(), "Patient", nil, 2, 10)
	if err != nil {
		t.Fatalf("SearchResources: %v", err)
	}
	if result.Total != 42 {
		t.Errorf("Total = %d; want 42", result.Total)
	}
	if len(result.Entries) != 2 {
		t.Errorf("len(Entries) = %d; want 2", len(result.Entries))
	}
}

func TestGetResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Patient/p1" {
			w.Write([]byte(`{"resourceType":"Patient","id":"p1"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	resource, err := client.GetResource(context.Background(), "Patient", "p1")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if resource["id"] != "p1" {
		t.Errorf("id = %v; want p1", resource["id"])
	}

	resource, err = client.GetResource(context.Background(), "Patient", "ghost")
	if err != nil {
		t.Fatalf("GetResource(ghost): %v", err)
	}
	if resource != nil {
		t.Errorf("resource = %v; want nil for 404", resource)
	}
}

func TestGetResourceCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("_summary") != "count" {
			t.Errorf("_summary = %q; want count", r.URL.Query().Get("_summary"))
		}
		w.Write([]byte(`{"resourceType":"Bundle","total":7}`))
	}))
	defer srv.Close()

	count, err := NewClient(srv.URL).GetResourceCount(context.Background(), "Observation")
	if err != nil {
		t.Fatalf("GetResourceCount: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d; want 7", count)
	}
}

func TestValidateResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Patient/$validate" {
			t.Errorf("path = %q; want /Patient/$validate", r.URL.Path)
		}
		if got := r.URL.Query().Get("profile"); got != "http://example.org/profile" {
			t.Errorf("profile = %q", got)
		}
		// Findings come back on a 422 as well as on a 200.
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"required","diagnostics":"Patient.name: minimum required = 1"}]}`))
	}))
	defer srv.Close()

	outcome, err := NewClient(srv.URL).ValidateResource(context.Background(),
		map[string]any{"resourceType": "Patient", "id": "p1"},
		"http://example.org/profile")
	if err != nil {
		t.Fatalf("ValidateResource: %v", err)
	}
	if len(outcome.Issue) != 1 || outcome.Issue[0].Severity != "error" {
		t.Errorf("outcome = %+v", outcome)
	}
}
