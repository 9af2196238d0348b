package aspect

import (
	"context"
	"fmt"
	"time"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
)

// maxPlausibleAge is the oldest age, in years, considered plausible for
// a living patient.
const maxPlausibleAge = 150

// vitalRange is a sanity range for a vital-sign observation value.
type vitalRange struct {
	name string
	min  float64
	max  float64
}

// vitalRanges maps LOINC codes of common vital signs to their
// plausible value ranges. Out-of-range values warn, never error.
var vitalRanges = map[string]vitalRange{
	"8867-4": {"heart rate", 20, 300},
	"8480-6": {"systolic blood pressure", 40, 300},
	"8462-4": {"diastolic blood pressure", 20, 200},
	"8310-5": {"body temperature", 30, 45},
	"9279-1": {"respiratory rate", 4, 60},
}

// BusinessRule applies per-resource-type plausibility predicates:
// temporal ordering of clinical dates, no future timestamps where the
// event must already have happened, and vital-sign value ranges.
// Resource types without a dedicated rule set get the generic checks
// only.
//
// These are fixed built-in predicates. Administrator-defined rules are
// managed by the rules package and are not evaluated here.
type BusinessRule struct{}

// NewBusinessRule creates the business-rule validator.
func NewBusinessRule() *BusinessRule {
	return &BusinessRule{}
}

// Aspect returns the aspect identifier.
func (b *BusinessRule) Aspect() fq.Aspect {
	return fq.AspectBusinessRule
}

// Validate applies the rule set for the resource type.
func (b *BusinessRule) Validate(_ context.Context, pctx *pipeline.Context) fq.AspectOutcome {
	out := fq.NewOutcome(fq.AspectBusinessRule)
	now := time.Now().UTC()
	resource := pctx.ResourceMap

	switch pctx.ResourceType {
	case "Patient":
		b.patientRules(resource, now, &out)
	case "Observation":
		b.observationRules(resource, now, &out)
	case "Condition":
		b.conditionRules(resource, now, &out)
	case "Encounter":
		b.encounterRules(resource, &out)
	case "Procedure":
		b.procedureRules(resource, now, &out)
	default:
		b.genericRules(resource, now, &out)
	}

	return out
}

func (b *BusinessRule) patientRules(resource map[string]any, now time.Time, out *fq.AspectOutcome) {
	birth, hasBirth := dateField(resource, "birthDate")

	if hasBirth {
		out.Counters.RulesChecked++
		if birth.After(now) {
			out.Add(fq.Error(fq.AspectBusinessRule, "future-birth-date").
				Message("birthDate is in the future").
				At("birthDate").
				Build())
		} else if now.Sub(birth) > maxPlausibleAge*365*24*time.Hour {
			out.Add(fq.Warning(fq.AspectBusinessRule, "implausible-age").
				Message(fmt.Sprintf("birthDate implies an age over %d years", maxPlausibleAge)).
				At("birthDate").
				Build())
		}
	}

	if death, ok := dateField(resource, "deceasedDateTime"); ok {
		out.Counters.RulesChecked++
		if hasBirth && death.Before(birth) {
			out.Add(fq.Error(fq.AspectBusinessRule, "birth-after-death").
				Message("deceasedDateTime precedes birthDate").
				At("deceasedDateTime").
				Build())
		}
	}
}

func (b *BusinessRule) observationRules(resource map[string]any, now time.Time, out *fq.AspectOutcome) {
	if effective, ok := dateField(resource, "effectiveDateTime"); ok {
		out.Counters.RulesChecked++
		if effective.After(now) {
			out.Add(fq.Warning(fq.AspectBusinessRule, "future-observation-date").
				Message("effectiveDateTime is in the future").
				At("effectiveDateTime").
				Build())
		}
	}

	if issued, ok := dateField(resource, "issued"); ok {
		out.Counters.RulesChecked++
		if issued.After(now) {
			out.Add(fq.Warning(fq.AspectBusinessRule, "future-issued-date").
				Message("issued timestamp is in the future").
				At("issued").
				Build())
		}
	}

	b.vitalSignRules(resource, out)
}

// vitalSignRules checks valueQuantity against the range for the
// observation's primary LOINC code.
func (b *BusinessRule) vitalSignRules(resource map[string]any, out *fq.AspectOutcome) {
	code := primaryLoincCode(resource)
	r, ok := vitalRanges[code]
	if !ok {
		return
	}

	quantity, ok := mapField(resource, "valueQuantity")
	if !ok {
		return
	}
	value, ok := quantity["value"].(float64)
	if !ok {
		return
	}

	out.Counters.RulesChecked++
	if value < r.min || value > r.max {
		out.Add(fq.Warning(fq.AspectBusinessRule, "implausible-vital-sign").
			Message(fmt.Sprintf("%s of %g is outside the plausible range [%g, %g]", r.name, value, r.min, r.max)).
			At("valueQuantity.value").
			Build())
	}
}

func (b *BusinessRule) conditionRules(resource map[string]any, now time.Time, out *fq.AspectOutcome) {
	onset, hasOnset := dateField(resource, "onsetDateTime")

	if abatement, ok := dateField(resource, "abatementDateTime"); ok && hasOnset {
		out.Counters.RulesChecked++
		if abatement.Before(onset) {
			out.Add(fq.Error(fq.AspectBusinessRule, "onset-after-abatement").
				Message("abatementDateTime precedes onsetDateTime").
				At("abatementDateTime").
				Build())
		}
	}

	if recorded, ok := dateField(resource, "recordedDate"); ok {
		out.Counters.RulesChecked++
		if recorded.After(now) {
			out.Add(fq.Warning(fq.AspectBusinessRule, "future-recorded-date").
				Message("recordedDate is in the future").
				At("recordedDate").
				Build())
		}
	}
}

func (b *BusinessRule) encounterRules(resource map[string]any, out *fq.AspectOutcome) {
	status, _ := stringField(resource, "status")
	period, hasPeriod := mapField(resource, "period")

	var start, end time.Time
	var hasStart, hasEnd bool
	if hasPeriod {
		start, hasStart = dateField(period, "start")
		end, hasEnd = dateField(period, "end")
	}

	if hasStart && hasEnd {
		out.Counters.RulesChecked++
		if end.Before(start) {
			out.Add(fq.Error(fq.AspectBusinessRule, "encounter-end-before-start").
				Message("period.end precedes period.start").
				At("period.end").
				Build())
		}
	}

	if status == "finished" {
		out.Counters.RulesChecked++
		if !hasEnd {
			out.Add(fq.Error(fq.AspectBusinessRule, "finished-without-end").
				Message("a finished encounter must have period.end").
				At("period.end").
				Build())
		}
	}
}

func (b *BusinessRule) procedureRules(resource map[string]any, now time.Time, out *fq.AspectOutcome) {
	if performed, ok := dateField(resource, "performedDateTime"); ok {
		out.Counters.RulesChecked++
		if performed.After(now) {
			out.Add(fq.Warning(fq.AspectBusinessRule, "future-procedure-date").
				Message("performedDateTime is in the future").
				At("performedDateTime").
				Build())
		}
	}

	if period, ok := mapField(resource, "performedPeriod"); ok {
		start, hasStart := dateField(period, "start")
		end, hasEnd := dateField(period, "end")
		if hasStart && hasEnd {
			out.Counters.RulesChecked++
			if end.Before(start) {
				out.Add(fq.Error(fq.AspectBusinessRule, "period-end-before-start").
					Message("performedPeriod.end precedes performedPeriod.start").
					At("performedPeriod.end").
					Build())
			}
		}
	}
}

// genericRules is the fallback for resource types without a dedicated
// rule set: the top-level date must not be in the future.
func (b *BusinessRule) genericRules(resource map[string]any, now time.Time, out *fq.AspectOutcome) {
	if date, ok := dateField(resource, "date"); ok {
		out.Counters.RulesChecked++
		if date.After(now) {
			out.Add(fq.Warning(fq.AspectBusinessRule, "future-date").
				Message("date is in the future").
				At("date").
				Build())
		}
	}
}

// dateField reads and parses a date/dateTime field. Malformed values
// return false; the structural aspect reports those.
func dateField(m map[string]any, key string) (time.Time, bool) {
	s, ok := stringField(m, key)
	if !ok || s == "" {
		return time.Time{}, false
	}
	return parseDateTime(s)
}

// primaryLoincCode returns the first LOINC code in code.coding.
func primaryLoincCode(resource map[string]any) string {
	code, ok := mapField(resource, "code")
	if !ok {
		return ""
	}
	arr, ok := code["coding"].([]any)
	if !ok {
		return ""
	}
	for _, e := range arr {
		c, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if system, _ := c["system"].(string); system == "http://loinc.org" {
			if v, ok := c["code"].(string); ok {
				return v
			}
		}
	}
	return ""
}
