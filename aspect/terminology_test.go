package aspect

import (
	"context"
	"errors"
	"testing"

	fq "github.com/gofhir/quality"
)

type fakeCodeValidator struct {
	valid bool
	err   error
	calls int
}

func (f *fakeCodeValidator) ValidateCode(_ context.Context, _, _ string) (bool, error) {
	f.calls++
	return f.valid, f.err
}

func observationWith(coding map[string]any) map[string]any {
	return map[string]any{
		"resourceType": "Observation",
		"id":           "o1",
		"status":       "final",
		"code": map[string]any{
			"coding": []any{coding},
		},
	}
}

func TestTerminologyCodeRules(t *testing.T) {
	tests := []struct {
		name     string
		coding   map[string]any
		wantCode string
		severity fq.Severity
	}{
		{
			name:     "invalid system",
			coding:   map[string]any{"system": "not a uri", "code": "x"},
			wantCode: "invalid-system-uri",
			severity: fq.SeverityError,
		},
		{
			name:     "denied LOINC code",
			coding:   map[string]any{"system": "http://loinc.org", "code": "0000-0"},
			wantCode: "denied-code",
			severity: fq.SeverityError,
		},
		{
			name:     "malformed LOINC code",
			coding:   map[string]any{"system": "http://loinc.org", "code": "ABC123"},
			wantCode: "invalid-code-format",
			severity: fq.SeverityError,
		},
		{
			name:     "malformed SNOMED code",
			coding:   map[string]any{"system": "http://snomed.info/sct", "code": "12AB"},
			wantCode: "invalid-code-format",
			severity: fq.SeverityError,
		},
		{
			name:     "bad observation status member",
			coding:   map[string]any{"system": "http://hl7.org/fhir/observation-status", "code": "done"},
			wantCode: "invalid-code-value",
			severity: fq.SeverityError,
		},
		{
			name:     "display mismatch",
			coding:   map[string]any{"system": "http://loinc.org", "code": "8867-4", "display": "Body weight"},
			wantCode: "display-mismatch",
			severity: fq.SeverityWarning,
		},
		{
			name:     "bad country code",
			coding:   map[string]any{"system": "urn:iso:std:iso:3166", "code": "usa"},
			wantCode: "invalid-code-format",
			severity: fq.SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pctx := newTestContext(observationWith(tt.coding))
			out := NewTerminology().Validate(context.Background(), pctx)

			issue, ok := findIssue(out.Issues, tt.wantCode)
			if !ok {
				t.Fatalf("issue %q not found in %v", tt.wantCode, out.Issues)
			}
			if issue.Severity != tt.severity {
				t.Errorf("severity = %v; want %v", issue.Severity, tt.severity)
			}
		})
	}
}

func TestTerminologyValidCodings(t *testing.T) {
	codings := []map[string]any{
		{"system": "http://loinc.org", "code": "8867-4", "display": "Heart rate"},
		{"system": "http://snomed.info/sct", "code": "38341003"},
		{"system": "urn:iso:std:iso:3166", "code": "DE"},
		{"system": "http://hl7.org/fhir/observation-status", "code": "final"},
	}

	for _, c := range codings {
		pctx := newTestContext(observationWith(c))
		out := NewTerminology().Validate(context.Background(), pctx)
		if len(out.Issues) != 0 {
			t.Errorf("coding %v produced issues %v; want none", c, out.Issues)
		}
	}
}

func TestTerminologyCountsCodes(t *testing.T) {
	pctx := newTestContext(map[string]any{
		"resourceType": "Observation",
		"id":           "o1",
		"status":       "final",
		"code": map[string]any{
			"coding": []any{
				map[string]any{"system": "http://loinc.org", "code": "8867-4"},
				map[string]any{"system": "http://snomed.info/sct", "code": "364075005"},
			},
		},
	})

	out := NewTerminology().Validate(context.Background(), pctx)

	if out.Counters.CodesChecked != 2 {
		t.Errorf("CodesChecked = %d; want 2", out.Counters.CodesChecked)
	}
}

func TestTerminologyExternalCheck(t *testing.T) {
	t.Run("server unavailable downgrades to information", func(t *testing.T) {
		validator := &fakeCodeValidator{err: errors.New("timeout")}
		pctx := newTestContext(observationWith(map[string]any{
			"system": "http://loinc.org", "code": "8867-4",
		}))
		pctx.Options.ExternalTerminology = true
		pctx.Terminology = validator

		out := NewTerminology().Validate(context.Background(), pctx)

		issue, ok := findIssue(out.Issues, "terminology-server-unavailable")
		if !ok {
			t.Fatal("terminology-server-unavailable issue not found")
		}
		if issue.Severity != fq.SeverityInformation {
			t.Errorf("severity = %v; want information", issue.Severity)
		}
		if !out.Passed {
			t.Error("Passed = false; server unavailability must not fail the aspect")
		}
	})

	t.Run("definite negative is an error", func(t *testing.T) {
		validator := &fakeCodeValidator{valid: false}
		pctx := newTestContext(observationWith(map[string]any{
			"system": "http://loinc.org", "code": "99999-9",
		}))
		pctx.Options.ExternalTerminology = true
		pctx.Terminology = validator

		out := NewTerminology().Validate(context.Background(), pctx)

		if _, ok := findIssue(out.Issues, "unknown-code"); !ok {
			t.Error("unknown-code issue not found")
		}
	})

	t.Run("disabled option skips the call", func(t *testing.T) {
		validator := &fakeCodeValidator{valid: true}
		pctx := newTestContext(observationWith(map[string]any{
			"system": "http://loinc.org", "code": "8867-4",
		}))
		pctx.Terminology = validator

		NewTerminology().Validate(context.Background(), pctx)

		if validator.calls != 0 {
			t.Errorf("calls = %d; want 0", validator.calls)
		}
	})
}
