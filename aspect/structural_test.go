package aspect

import (
	"context"
	"testing"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
)

func newTestContext(resource map[string]any) *pipeline.Context {
	pctx := pipeline.NewContext()
	pctx.ResourceMap = resource
	pctx.ResourceType, _ = resource["resourceType"].(string)
	pctx.ResourceID, _ = resource["id"].(string)
	pctx.Options = pipeline.DefaultContextOptions()
	return pctx
}

func findIssue(issues []fq.Issue, code string) (fq.Issue, bool) {
	for _, issue := range issues {
		if issue.Code == code {
			return issue, true
		}
	}
	return fq.Issue{}, false
}

func TestStructuralMissingResourceType(t *testing.T) {
	pctx := newTestContext(map[string]any{})

	out := NewStructural().Validate(context.Background(), pctx)

	if len(out.Issues) != 1 {
		t.Fatalf("len(Issues) = %d; want 1", len(out.Issues))
	}
	if out.Issues[0].Code != "missing-resource-type" {
		t.Errorf("Code = %q; want missing-resource-type", out.Issues[0].Code)
	}
	if out.Passed {
		t.Error("Passed = true; want false")
	}
}

func TestStructuralBarePatient(t *testing.T) {
	pctx := newTestContext(map[string]any{"resourceType": "Patient"})

	out := NewStructural().Validate(context.Background(), pctx)

	if issue, ok := findIssue(out.Issues, "missing-id"); !ok {
		t.Error("missing-id issue not found")
	} else if issue.Severity != fq.SeverityWarning {
		t.Errorf("missing-id severity = %v; want warning", issue.Severity)
	}

	if issue, ok := findIssue(out.Issues, "cardinality-violation"); !ok {
		t.Error("cardinality-violation issue not found")
	} else if issue.Severity != fq.SeverityError {
		t.Errorf("cardinality-violation severity = %v; want error", issue.Severity)
	}

	if _, ok := findIssue(out.Issues, "missing-narrative"); !ok {
		t.Error("missing-narrative issue not found")
	}
	if _, ok := findIssue(out.Issues, "missing-meta"); !ok {
		t.Error("missing-meta issue not found")
	}
	if out.Passed {
		t.Error("Passed = true; want false")
	}
}

func TestStructuralPrimitiveFormats(t *testing.T) {
	tests := []struct {
		name     string
		resource map[string]any
		wantCode string
	}{
		{
			name: "bad birthDate",
			resource: map[string]any{
				"resourceType": "Patient",
				"id":           "p1",
				"name":         []any{map[string]any{"family": "Chalmers"}},
				"birthDate":    "01/02/1974",
			},
			wantCode: "invalid-date-format",
		},
		{
			name: "bad gender",
			resource: map[string]any{
				"resourceType": "Patient",
				"id":           "p1",
				"name":         []any{map[string]any{"family": "Chalmers"}},
				"gender":       "M",
			},
			wantCode: "invalid-gender-code",
		},
		{
			name: "bad effectiveDateTime",
			resource: map[string]any{
				"resourceType":      "Observation",
				"id":                "o1",
				"status":            "final",
				"code":              map[string]any{"text": "BP"},
				"effectiveDateTime": "not-a-timestamp",
			},
			wantCode: "invalid-datetime-format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewStructural().Validate(context.Background(), newTestContext(tt.resource))
			if _, ok := findIssue(out.Issues, tt.wantCode); !ok {
				t.Errorf("issue %q not found in %v", tt.wantCode, out.Issues)
			}
		})
	}
}

func TestStructuralValidDateFormats(t *testing.T) {
	for _, date := range []string{"1974", "1974-12", "1974-12-25"} {
		resource := map[string]any{
			"resourceType": "Patient",
			"id":           "p1",
			"name":         []any{map[string]any{"family": "Chalmers"}},
			"birthDate":    date,
		}
		out := NewStructural().Validate(context.Background(), newTestContext(resource))
		if _, ok := findIssue(out.Issues, "invalid-date-format"); ok {
			t.Errorf("birthDate %q flagged as invalid", date)
		}
	}
}

func TestStructuralObservationCardinality(t *testing.T) {
	resource := map[string]any{
		"resourceType": "Observation",
		"id":           "o1",
	}

	out := NewStructural().Validate(context.Background(), newTestContext(resource))

	violations := 0
	for _, issue := range out.Issues {
		if issue.Code == "cardinality-violation" {
			violations++
		}
	}
	if violations != 2 {
		t.Errorf("cardinality violations = %d; want 2 (status, code)", violations)
	}
}

func TestStructuralCleanResource(t *testing.T) {
	resource := map[string]any{
		"resourceType": "Patient",
		"id":           "p1",
		"meta":         map[string]any{"versionId": "1"},
		"text":         map[string]any{"status": "generated", "div": "<div>ok</div>"},
		"name":         []any{map[string]any{"family": "Chalmers"}},
		"gender":       "male",
		"birthDate":    "1974-12-25",
	}

	out := NewStructural().Validate(context.Background(), newTestContext(resource))

	if len(out.Issues) != 0 {
		t.Errorf("Issues = %v; want none", out.Issues)
	}
	if !out.Passed {
		t.Error("Passed = false; want true")
	}
}
