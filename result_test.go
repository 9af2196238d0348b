package fhirquality

import "testing"

func TestResultMergeOutcome(t *testing.T) {
	r := NewResult("Patient", "p1")

	structural := NewOutcome(AspectStructural)
	structural.Add(Warning(AspectStructural, "missing-id").Message("no id").Build())

	rules := NewOutcome(AspectBusinessRule)
	rules.Add(Error(AspectBusinessRule, "future-birth-date").Message("birthDate in future").At("birthDate").Build())
	rules.Counters.RulesChecked = 3

	r.MergeOutcome(structural)
	r.MergeOutcome(rules)

	if len(r.Issues) != 2 {
		t.Fatalf("len(Issues) = %d; want 2", len(r.Issues))
	}
	// issue order preserves aspect execution order
	if r.Issues[0].Aspect != AspectStructural || r.Issues[1].Aspect != AspectBusinessRule {
		t.Errorf("issue order = [%s, %s]; want [structural, businessRule]",
			r.Issues[0].Aspect, r.Issues[1].Aspect)
	}
	if r.Valid {
		t.Error("Valid = true after merging a failed outcome")
	}
	if got := r.Counters().RulesChecked; got != 3 {
		t.Errorf("Counters().RulesChecked = %d; want 3", got)
	}
}

func TestResultIssuesAreUnionOfOutcomes(t *testing.T) {
	r := NewResult("Observation", "o1")

	for _, aspect := range Aspects {
		outcome := NewOutcome(aspect)
		outcome.Add(Info(aspect, "note").Message("from " + string(aspect)).Build())
		r.MergeOutcome(outcome)
	}

	total := 0
	for _, outcome := range r.AspectOutcomes {
		total += len(outcome.Issues)
	}
	if len(r.Issues) != total {
		t.Errorf("len(Issues) = %d; want union size %d", len(r.Issues), total)
	}
	for i, aspect := range Aspects {
		if r.Issues[i].Aspect != aspect {
			t.Errorf("Issues[%d].Aspect = %q; want %q", i, r.Issues[i].Aspect, aspect)
		}
	}
}

func TestResultFinalize(t *testing.T) {
	r := NewResult("Patient", "p1")
	outcome := NewOutcome(AspectStructural)
	outcome.Add(Error(AspectStructural, "cardinality-violation").Build())
	r.MergeOutcome(outcome)
	r.Finalize()

	if r.Valid {
		t.Error("Valid = true with an error issue")
	}
	if r.Score > 40 {
		t.Errorf("Score = %d; want <= 40 with one error", r.Score)
	}
	if r.ValidatedAt.IsZero() {
		t.Error("ValidatedAt not stamped")
	}
}

func TestResultCounts(t *testing.T) {
	r := NewResult("Patient", "p1")
	r.AddIssue(Error(AspectStructural, "a").Build())
	r.AddIssue(Warning(AspectMetadata, "b").Build())
	r.AddIssue(Warning(AspectMetadata, "c").Build())
	r.AddIssue(Info(AspectTerminology, "d").Build())

	if got := r.ErrorCount(); got != 1 {
		t.Errorf("ErrorCount() = %d; want 1", got)
	}
	if got := r.WarningCount(); got != 2 {
		t.Errorf("WarningCount() = %d; want 2", got)
	}
	if got := r.InformationCount(); got != 1 {
		t.Errorf("InformationCount() = %d; want 1", got)
	}
	if !r.HasErrors() {
		t.Error("HasErrors() = false")
	}
}

func TestResultPoolReuse(t *testing.T) {
	r := AcquireResult()
	r.ResourceType = "Patient"
	r.AddIssue(Error(AspectStructural, "x").Build())
	r.Release()

	r2 := AcquireResult()
	defer r2.Release()
	if len(r2.Issues) != 0 {
		t.Errorf("pooled result not reset: %d issues", len(r2.Issues))
	}
	if !r2.Valid || r2.Score != 100 {
		t.Errorf("pooled result not reset: valid=%v score=%d", r2.Valid, r2.Score)
	}
}

func TestResultClone(t *testing.T) {
	r := NewResult("Patient", "p1")
	outcome := NewOutcome(AspectReference)
	outcome.Add(Warning(AspectReference, "circular-reference").Build())
	r.MergeOutcome(outcome)

	clone := r.Clone()
	clone.Issues[0].Code = "changed"

	if r.Issues[0].Code == "changed" {
		t.Error("Clone shares issue backing array with original")
	}
	if clone.ResourceType != r.ResourceType {
		t.Errorf("clone.ResourceType = %q; want %q", clone.ResourceType, r.ResourceType)
	}
}
