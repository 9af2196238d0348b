package aspect

import (
	"context"
	"fmt"
	"strings"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
	"github.com/gofhir/quality/walker"
)

// requiredFields lists resource-type-specific minimum-cardinality
// elements. A missing or empty entry is a cardinality violation.
var requiredFields = map[string][]string{
	"AllergyIntolerance": {"patient"},
	"Condition":          {"subject"},
	"DiagnosticReport":   {"status", "code"},
	"Encounter":          {"status"},
	"Immunization":       {"status", "vaccineCode"},
	"MedicationRequest":  {"status", "intent"},
	"Observation":        {"status", "code"},
	"Patient":            {"name"},
	"Procedure":          {"status", "subject"},
}

// Structural validates the basic shape of a resource: presence of
// resourceType and id, primitive value formats discovered by walking
// the tree, and per-resource-type minimum cardinality rules.
//
// Structural validity is foundational: the pipeline treats an internal
// failure here as fatal for the whole run, unlike every other aspect.
type Structural struct{}

// NewStructural creates the structural validator.
func NewStructural() *Structural {
	return &Structural{}
}

// Aspect returns the aspect identifier.
func (s *Structural) Aspect() fq.Aspect {
	return fq.AspectStructural
}

// Validate performs structural validation.
func (s *Structural) Validate(_ context.Context, pctx *pipeline.Context) fq.AspectOutcome {
	out := fq.NewOutcome(fq.AspectStructural)

	if pctx.ResourceType == "" {
		out.Add(fq.Error(fq.AspectStructural, "missing-resource-type").
			Message("resource must declare a resourceType").
			At("resourceType").
			Build())
		return out
	}

	if pctx.ResourceID == "" {
		out.Add(fq.Warning(fq.AspectStructural, "missing-id").
			Message("resource has no id").
			At("id").
			Suggest("assign a logical id before persisting the resource").
			Build())
	}

	if !fieldPresent(pctx.ResourceMap, "text") {
		out.Add(fq.Info(fq.AspectStructural, "missing-narrative").
			Message("resource has no narrative (text)").
			At("text").
			Build())
	}
	if !fieldPresent(pctx.ResourceMap, "meta") {
		out.Add(fq.Info(fq.AspectStructural, "missing-meta").
			Message("resource has no meta element").
			At("meta").
			Build())
	}

	s.checkPrimitives(pctx.ResourceMap, &out)
	s.checkCardinality(pctx.ResourceType, pctx.ResourceMap, &out)

	return out
}

// checkPrimitives walks the whole tree validating primitive formats.
func (s *Structural) checkPrimitives(resource map[string]any, out *fq.AspectOutcome) {
	walker.Walk(resource, func(n walker.Node) bool {
		str, ok := n.Value.(string)
		if !ok {
			return true
		}

		switch {
		case isDateKey(n.Key):
			if !isValidDate(str) {
				out.Add(fq.Error(fq.AspectStructural, "invalid-date-format").
					Message(fmt.Sprintf("%q is not a valid date", str)).
					At(n.Path).
					Suggest("use YYYY, YYYY-MM or YYYY-MM-DD").
					Build())
			}
		case isDateTimeKey(n.Key):
			if !isValidDate(str) {
				out.Add(fq.Error(fq.AspectStructural, "invalid-datetime-format").
					Message(fmt.Sprintf("%q is not a valid dateTime", str)).
					At(n.Path).
					Suggest("use an ISO 8601 timestamp").
					Build())
			}
		case n.Key == "gender":
			if _, known := genderCodes[str]; !known {
				out.Add(fq.Error(fq.AspectStructural, "invalid-gender-code").
					Message(fmt.Sprintf("%q is not a valid administrative gender", str)).
					At(n.Path).
					Suggest("use one of: male, female, other, unknown").
					Build())
			}
		}
		return true
	})
}

// checkCardinality enforces the required-element table for the type.
func (s *Structural) checkCardinality(resourceType string, resource map[string]any, out *fq.AspectOutcome) {
	for _, field := range requiredFields[resourceType] {
		if !fieldPresent(resource, field) {
			out.Add(fq.Error(fq.AspectStructural, "cardinality-violation").
				Message(fmt.Sprintf("%s requires at least one %s", resourceType, field)).
				At(field).
				Build())
		}
	}
}

func isDateKey(key string) bool {
	if key == "birthDate" || key == "date" {
		return true
	}
	return strings.HasSuffix(key, "Date")
}

func isDateTimeKey(key string) bool {
	if key == "issued" || key == "instant" {
		return true
	}
	return strings.HasSuffix(key, "DateTime")
}
