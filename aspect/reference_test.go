package aspect

import (
	"context"
	"errors"
	"testing"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
	"github.com/gofhir/quality/service"
)

type fakeFinder struct {
	resources map[string]map[string]any
	err       error
}

func (f *fakeFinder) FindResource(_ context.Context, resourceType, id string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.resources[resourceType+"/"+id]
	if !ok {
		return nil, service.ErrNotFound
	}
	return r, nil
}

type fakeGetClient struct {
	service.ResourceClient

	resources map[string]map[string]any
	err       error
	gets      int
}

func (f *fakeGetClient) GetResource(_ context.Context, resourceType, id string) (map[string]any, error) {
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	return f.resources[resourceType+"/"+id], nil
}

func conditionReferencing(ref string) map[string]any {
	return map[string]any{
		"resourceType": "Condition",
		"id":           "c1",
		"subject":      map[string]any{"reference": ref},
	}
}

func TestReferenceShapes(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		wantCode string
	}{
		{"valid local", "Patient/p1", ""},
		{"valid https", "https://example.org/fhir/Patient/p1", ""},
		{"valid uuid", "urn:uuid:53fefa32-fcbb-4ff8-8a92-55ee120877b7", ""},
		{"valid oid", "urn:oid:1.2.840.113619", ""},
		{"valid fragment", "#contained-1", ""},
		{"plain http", "http://example.org/fhir/Patient/p1", "insecure-http-reference"},
		{"empty fragment", "#", "empty-fragment-reference"},
		{"malformed uuid", "urn:uuid:not-a-uuid", "invalid-reference-format"},
		{"malformed oid", "urn:oid:abc", "invalid-reference-format"},
		{"garbage", "patient p1", "invalid-reference-format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pctx := newTestContext(conditionReferencing(tt.ref))
			out := NewReference().Validate(context.Background(), pctx)

			if tt.wantCode == "" {
				if len(out.Issues) != 0 {
					t.Errorf("Issues = %v; want none", out.Issues)
				}
				return
			}
			if _, ok := findIssue(out.Issues, tt.wantCode); !ok {
				t.Errorf("issue %q not found in %v", tt.wantCode, out.Issues)
			}
		})
	}
}

func TestReferenceLocalExistence(t *testing.T) {
	t.Run("found in storage", func(t *testing.T) {
		pctx := newTestContext(conditionReferencing("Patient/p1"))
		pctx.Resources = &fakeFinder{resources: map[string]map[string]any{
			"Patient/p1": {"resourceType": "Patient", "id": "p1"},
		}}

		out := NewReference().Validate(context.Background(), pctx)
		if len(out.Issues) != 0 {
			t.Errorf("Issues = %v; want none", out.Issues)
		}
	})

	t.Run("missing everywhere is an error", func(t *testing.T) {
		pctx := newTestContext(conditionReferencing("Patient/ghost"))
		pctx.Resources = &fakeFinder{}
		pctx.Options.ExternalReferences = true
		pctx.Client = &fakeGetClient{}

		out := NewReference().Validate(context.Background(), pctx)
		if issue, ok := findIssue(out.Issues, "reference-not-found"); !ok {
			t.Error("reference-not-found issue not found")
		} else if issue.Severity != fq.SeverityError {
			t.Errorf("severity = %v; want error", issue.Severity)
		}
	})

	t.Run("server failure downgrades to warning", func(t *testing.T) {
		pctx := newTestContext(conditionReferencing("Patient/ghost"))
		pctx.Resources = &fakeFinder{}
		pctx.Options.ExternalReferences = true
		pctx.Client = &fakeGetClient{err: errors.New("connection refused")}

		out := NewReference().Validate(context.Background(), pctx)
		if issue, ok := findIssue(out.Issues, "reference-unverifiable"); !ok {
			t.Error("reference-unverifiable issue not found")
		} else if issue.Severity != fq.SeverityWarning {
			t.Errorf("severity = %v; want warning", issue.Severity)
		}
	})

	t.Run("storage fallback to server", func(t *testing.T) {
		client := &fakeGetClient{resources: map[string]map[string]any{
			"Patient/p1": {"resourceType": "Patient", "id": "p1"},
		}}
		pctx := newTestContext(conditionReferencing("Patient/p1"))
		pctx.Resources = &fakeFinder{}
		pctx.Options.ExternalReferences = true
		pctx.Client = client

		out := NewReference().Validate(context.Background(), pctx)
		if len(out.Issues) != 0 {
			t.Errorf("Issues = %v; want none", out.Issues)
		}
		if client.gets != 1 {
			t.Errorf("gets = %d; want 1", client.gets)
		}
	})
}

func TestReferenceCircularGraph(t *testing.T) {
	// A and B reference each other; validated through one shared
	// context the cycle must surface exactly once, as a warning.
	a := map[string]any{
		"resourceType": "Patient",
		"id":           "A",
		"link": []any{
			map[string]any{"other": map[string]any{"reference": "Patient/B"}},
		},
	}
	b := map[string]any{
		"resourceType": "Patient",
		"id":           "B",
		"link": []any{
			map[string]any{"other": map[string]any{"reference": "Patient/A"}},
		},
	}

	pctx := pipeline.NewContext()
	pctx.Options = pipeline.DefaultContextOptions()
	validator := NewReference()

	var warnings []fq.Issue
	for _, resource := range []map[string]any{a, b} {
		pctx.ResourceMap = resource
		pctx.ResourceType = resource["resourceType"].(string)
		pctx.ResourceID = resource["id"].(string)

		out := validator.Validate(context.Background(), pctx)
		for _, issue := range out.Issues {
			if issue.Code == "circular-reference" {
				warnings = append(warnings, issue)
			}
		}
	}

	if len(warnings) != 1 {
		t.Fatalf("circular-reference warnings = %d; want exactly 1", len(warnings))
	}
	if warnings[0].Severity != fq.SeverityWarning {
		t.Errorf("severity = %v; want warning", warnings[0].Severity)
	}
}

func TestReferenceCountsReferences(t *testing.T) {
	resource := map[string]any{
		"resourceType": "Encounter",
		"id":           "e1",
		"status":       "finished",
		"period":       map[string]any{"start": "2024-01-01T10:00:00Z", "end": "2024-01-01T11:00:00Z"},
		"subject":      map[string]any{"reference": "Patient/p1"},
		"serviceProvider": map[string]any{
			"reference": "Organization/org1",
		},
	}

	out := NewReference().Validate(context.Background(), newTestContext(resource))

	if out.Counters.ReferencesChecked != 2 {
		t.Errorf("ReferencesChecked = %d; want 2", out.Counters.ReferencesChecked)
	}
}
