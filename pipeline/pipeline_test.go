package pipeline

import (
	"context"
	"testing"

	fq "github.com/gofhir/quality"
)

type fakeAspect struct {
	aspect fq.Aspect
	issues []fq.Issue
	panics bool
	calls  int
}

func (f *fakeAspect) Aspect() fq.Aspect { return f.aspect }

func (f *fakeAspect) Validate(_ context.Context, _ *Context) fq.AspectOutcome {
	f.calls++
	if f.panics {
		panic("boom")
	}
	outcome := fq.NewOutcome(f.aspect)
	outcome.AddAll(f.issues)
	return outcome
}

func newTestContext() *Context {
	pctx := NewContext()
	pctx.ResourceType = "Patient"
	pctx.ResourceMap = map[string]any{"resourceType": "Patient"}
	pctx.Options = DefaultContextOptions()
	return pctx
}

func TestPipelineRunsAspectsInFixedOrder(t *testing.T) {
	// Register out of order; execution must follow fq.Aspects order.
	meta := &fakeAspect{aspect: fq.AspectMetadata,
		issues: []fq.Issue{fq.Info(fq.AspectMetadata, "m").Build()}}
	structural := &fakeAspect{aspect: fq.AspectStructural,
		issues: []fq.Issue{fq.Info(fq.AspectStructural, "s").Build()}}
	reference := &fakeAspect{aspect: fq.AspectReference,
		issues: []fq.Issue{fq.Info(fq.AspectReference, "r").Build()}}

	p := New(meta, reference, structural)
	result := p.Execute(context.Background(), newTestContext())

	if len(result.Issues) != 3 {
		t.Fatalf("len(Issues) = %d; want 3", len(result.Issues))
	}
	wantOrder := []fq.Aspect{fq.AspectStructural, fq.AspectReference, fq.AspectMetadata}
	for i, aspect := range wantOrder {
		if result.Issues[i].Aspect != aspect {
			t.Errorf("Issues[%d].Aspect = %q; want %q", i, result.Issues[i].Aspect, aspect)
		}
	}
}

func TestPipelineSkipsDisabledAspects(t *testing.T) {
	term := &fakeAspect{aspect: fq.AspectTerminology}
	structural := &fakeAspect{aspect: fq.AspectStructural}

	pctx := newTestContext()
	pctx.Options.Terminology = false

	New(term, structural).Execute(context.Background(), pctx)

	if term.calls != 0 {
		t.Errorf("disabled terminology aspect ran %d times", term.calls)
	}
	if structural.calls != 1 {
		t.Errorf("structural aspect ran %d times; want 1", structural.calls)
	}
}

func TestPipelineStructuralPanicVoidsRun(t *testing.T) {
	structural := &fakeAspect{aspect: fq.AspectStructural, panics: true}
	rules := &fakeAspect{aspect: fq.AspectBusinessRule}

	result := New(structural, rules).Execute(context.Background(), newTestContext())

	if result.Valid {
		t.Error("Valid = true after structural failure")
	}
	if result.Score != 0 {
		t.Errorf("Score = %d; want 0", result.Score)
	}
	if len(result.Issues) != 1 || result.Issues[0].Code != "validation-engine-error" {
		t.Fatalf("Issues = %v; want a single validation-engine-error", result.Issues)
	}
	if rules.calls != 0 {
		t.Error("aspects after a structural failure must not run")
	}
}

func TestPipelineNonStructuralPanicDegrades(t *testing.T) {
	structural := &fakeAspect{aspect: fq.AspectStructural}
	term := &fakeAspect{aspect: fq.AspectTerminology, panics: true}
	meta := &fakeAspect{aspect: fq.AspectMetadata}

	result := New(structural, term, meta).Execute(context.Background(), newTestContext())

	if meta.calls != 1 {
		t.Error("aspects after a non-structural failure must still run")
	}

	found := false
	for _, issue := range result.Issues {
		if issue.Code == "aspect-internal-failure" {
			found = true
			if issue.Severity != fq.SeverityWarning {
				t.Errorf("failure severity = %q; want warning", issue.Severity)
			}
		}
	}
	if !found {
		t.Error("no aspect-internal-failure issue recorded")
	}
	if !result.Valid {
		t.Error("a degraded non-structural aspect must not invalidate the run")
	}
}

func TestPipelineScoreBounds(t *testing.T) {
	structural := &fakeAspect{aspect: fq.AspectStructural, issues: []fq.Issue{
		fq.Error(fq.AspectStructural, "a").Build(),
		fq.Error(fq.AspectStructural, "b").Build(),
		fq.Error(fq.AspectStructural, "c").Build(),
		fq.Error(fq.AspectStructural, "d").Build(),
	}}

	result := New(structural).Execute(context.Background(), newTestContext())

	if result.Score < 0 || result.Score > 100 {
		t.Errorf("Score = %d; out of [0,100]", result.Score)
	}
	if result.Valid {
		t.Error("Valid = true with error issues")
	}
}

func TestContextVisitedPushPop(t *testing.T) {
	pctx := NewContext()

	if !pctx.PushVisited("Patient/a") {
		t.Fatal("first push should succeed")
	}
	if pctx.PushVisited("Patient/a") {
		t.Error("re-push while on path should report circularity")
	}
	pctx.PopVisited("Patient/a")
	if !pctx.PushVisited("Patient/a") {
		t.Error("push after pop should succeed again")
	}
}

func TestContextPoolReset(t *testing.T) {
	pctx := AcquireContext()
	pctx.ResourceType = "Patient"
	pctx.SeedVisited("Patient/a")
	pctx.Release()

	pctx2 := AcquireContext()
	defer pctx2.Release()
	if pctx2.ResourceType != "" {
		t.Error("pooled context not reset")
	}
	if !pctx2.PushVisited("Patient/a") {
		t.Error("visited set leaked through the pool")
	}
}
