package bulk

import (
	"time"
)

// Progress is the live state of a bulk run. It is mutated from the
// orchestrator loop only; callbacks and callers receive copies.
type Progress struct {
	TotalResources      int           `json:"totalResources"`
	ProcessedResources  int           `json:"processedResources"`
	ValidResources      int           `json:"validResources"`
	ErrorResources      int           `json:"errorResources"`
	SkippedResources    int           `json:"skippedResources"`
	CurrentResourceType string        `json:"currentResourceType"`
	StartTime           time.Time     `json:"startTime"`
	EstimatedRemaining  time.Duration `json:"estimatedTimeRemaining"`
	IsComplete          bool          `json:"isComplete"`
	Errors              []string      `json:"errors,omitempty"`
}

// clamp enforces the progress invariants: processed never exceeds
// total, and valid+errors never exceed processed. The error count is
// adjusted down first when the second invariant is violated.
func (p *Progress) clamp() {
	if p.ProcessedResources > p.TotalResources {
		p.ProcessedResources = p.TotalResources
	}
	if p.ValidResources > p.ProcessedResources {
		p.ValidResources = p.ProcessedResources
	}
	if p.ValidResources+p.ErrorResources > p.ProcessedResources {
		p.ErrorResources = p.ProcessedResources - p.ValidResources
	}
}

// updateEstimate recomputes the remaining time from the processing
// rate so far. With nothing processed the estimate stays zero.
func (p *Progress) updateEstimate(now time.Time) {
	if p.ProcessedResources <= 0 || p.TotalResources <= 0 {
		p.EstimatedRemaining = 0
		return
	}
	elapsed := now.Sub(p.StartTime)
	if elapsed <= 0 {
		p.EstimatedRemaining = 0
		return
	}
	perResource := elapsed / time.Duration(p.ProcessedResources)
	remaining := p.TotalResources - p.ProcessedResources
	if remaining < 0 {
		remaining = 0
	}
	p.EstimatedRemaining = perResource * time.Duration(remaining)
}

// recordError appends a message to the run's error log.
func (p *Progress) recordError(msg string) {
	p.Errors = append(p.Errors, msg)
}

// snapshot returns a copy safe to hand to callbacks and callers.
func (p *Progress) snapshot() Progress {
	cp := *p
	cp.Errors = make([]string, len(p.Errors))
	copy(cp.Errors, p.Errors)
	return cp
}
