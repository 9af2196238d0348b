package pipeline

import (
	"context"
	"fmt"
	"time"

	fq "github.com/gofhir/quality"
)

// AspectValidator is a single validation aspect.
//
// Validators should be:
//   - Stateless: all per-run state lives in the Context
//   - Thread-safe: multiple goroutines may call Validate concurrently
//   - Non-throwing: findings are issues, not errors; the pipeline treats
//     a panic as an aspect-internal failure
type AspectValidator interface {
	// Aspect returns the dimension this validator covers.
	Aspect() fq.Aspect

	// Validate runs the aspect and returns its outcome.
	Validate(ctx context.Context, pctx *Context) fq.AspectOutcome
}

// Pipeline runs the aspect validators in their fixed execution order.
// Later aspects never depend on earlier aspects' output; the sequence is
// fixed so merged issue ordering is deterministic.
type Pipeline struct {
	validators []AspectValidator
	metrics    *fq.Metrics
}

// New creates a pipeline over the given validators. Validators are run
// in the order of fq.Aspects regardless of registration order.
func New(validators ...AspectValidator) *Pipeline {
	byAspect := make(map[fq.Aspect]AspectValidator, len(validators))
	for _, v := range validators {
		byAspect[v.Aspect()] = v
	}

	ordered := make([]AspectValidator, 0, len(validators))
	for _, aspect := range fq.Aspects {
		if v, ok := byAspect[aspect]; ok {
			ordered = append(ordered, v)
		}
	}

	return &Pipeline{validators: ordered}
}

// SetMetrics attaches a metrics collector.
func (p *Pipeline) SetMetrics(m *fq.Metrics) {
	p.metrics = m
}

// Execute runs all enabled aspects over the context's resource and
// returns the merged, tier-scored result.
//
// Failure policy is asymmetric: a panic inside the structural aspect
// invalidates the whole run with a single validation-engine-error issue
// and score 0; a panic in any other aspect degrades to a warning issue
// and the run continues.
func (p *Pipeline) Execute(ctx context.Context, pctx *Context) *fq.Result {
	start := time.Now()

	if pctx.Result == nil {
		pctx.Result = fq.AcquireResult()
		pctx.Result.ResourceType = pctx.ResourceType
		pctx.Result.ResourceID = pctx.ResourceID
	}
	result := pctx.Result

	for _, v := range p.validators {
		if !pctx.Options.AspectEnabled(v.Aspect()) {
			continue
		}

		select {
		case <-ctx.Done():
			result.AddIssue(fq.Warning(v.Aspect(), "validation-cancelled").
				Message("validation cancelled: " + ctx.Err().Error()).
				Build())
			result.Finalize()
			return result
		default:
		}

		aspectStart := time.Now()
		outcome, failure := p.runAspect(ctx, v, pctx)
		if failure != nil {
			if v.Aspect() == fq.AspectStructural {
				// Structural validity is foundational: an internal
				// failure there voids the whole run.
				result.AddIssue(fq.Error(fq.AspectStructural, "validation-engine-error").
					Message(fmt.Sprintf("structural validation failed internally: %v", failure)).
					Build())
				result.Score = 0
				result.Valid = false
				result.ValidatedAt = time.Now().UTC()
				return result
			}

			degraded := fq.NewOutcome(v.Aspect())
			degraded.Add(fq.Warning(v.Aspect(), "aspect-internal-failure").
				Message(fmt.Sprintf("%s validation failed internally and was skipped: %v", v.Aspect(), failure)).
				Build())
			result.MergeOutcome(degraded)
			continue
		}

		result.MergeOutcome(outcome)

		if p.metrics != nil {
			p.metrics.RecordAspect(v.Aspect(), time.Since(aspectStart), len(outcome.Issues))
		}
	}

	result.Finalize()

	if p.metrics != nil {
		p.metrics.RecordValidation(time.Since(start), result.Valid)
		p.metrics.RecordIssues(result.Issues)
	}

	return result
}

// runAspect invokes one validator, converting panics into failures.
func (p *Pipeline) runAspect(ctx context.Context, v AspectValidator, pctx *Context) (outcome fq.AspectOutcome, failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Errorf("panic: %v", r)
		}
	}()
	outcome = v.Validate(ctx, pctx)
	return outcome, nil
}

// AspectCount returns the number of registered validators.
func (p *Pipeline) AspectCount() int {
	return len(p.validators)
}
