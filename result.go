package fhirquality

import (
	"sync"
	"time"
)

// Counters holds aspect-specific work counters.
type Counters struct {
	ProfilesChecked   int `json:"profilesChecked,omitempty"`
	CodesChecked      int `json:"codesChecked,omitempty"`
	ReferencesChecked int `json:"referencesChecked,omitempty"`
	RulesChecked      int `json:"rulesChecked,omitempty"`
}

// Add accumulates another set of counters into this one.
func (c *Counters) Add(other Counters) {
	c.ProfilesChecked += other.ProfilesChecked
	c.CodesChecked += other.CodesChecked
	c.ReferencesChecked += other.ReferencesChecked
	c.RulesChecked += other.RulesChecked
}

// AspectOutcome is the output of one aspect validator for one run.
// Outcomes are never shared across runs.
type AspectOutcome struct {
	// Aspect is the dimension that produced this outcome.
	Aspect Aspect `json:"aspect"`

	// Passed is true if the aspect found no error or fatal issues.
	Passed bool `json:"passed"`

	// Issues in the order the validator emitted them.
	Issues []Issue `json:"issues,omitempty"`

	// Counters are the aspect-specific work counters.
	Counters Counters `json:"counters"`
}

// NewOutcome creates an outcome for the given aspect, initially passed.
func NewOutcome(aspect Aspect) AspectOutcome {
	return AspectOutcome{Aspect: aspect, Passed: true}
}

// Add appends an issue and updates the passed flag.
func (o *AspectOutcome) Add(issue Issue) {
	o.Issues = append(o.Issues, issue)
	if issue.IsError() {
		o.Passed = false
	}
}

// AddAll appends multiple issues and updates the passed flag.
func (o *AspectOutcome) AddAll(issues []Issue) {
	for _, issue := range issues {
		o.Add(issue)
	}
}

// Result contains the merged outcome of validating a single FHIR resource.
// It is created fresh per validation invocation and superseded, never
// mutated, by later validations of the same resource.
type Result struct {
	// ResourceType is the type of resource that was validated.
	ResourceType string `json:"resourceType"`

	// ResourceID is the resource id if present.
	ResourceID string `json:"resourceId,omitempty"`

	// Issues is the union of all aspect issues, ordered by aspect
	// execution order and, within an aspect, by emission order.
	Issues []Issue `json:"issues,omitempty"`

	// AspectOutcomes maps each executed aspect to its outcome.
	AspectOutcomes map[Aspect]AspectOutcome `json:"aspectOutcomes,omitempty"`

	// Score is the 0-100 validation score.
	Score int `json:"validationScore"`

	// Valid is true when no error or fatal issues were found.
	Valid bool `json:"isValid"`

	// ValidatedAt is when the validation completed.
	ValidatedAt time.Time `json:"validatedAt"`

	// mu protects Issues during parallel collection
	mu sync.Mutex
}

// resultPool holds reusable Result instances.
var resultPool = sync.Pool{
	New: func() any {
		return &Result{
			Issues:         make([]Issue, 0, 16),
			AspectOutcomes: make(map[Aspect]AspectOutcome, len(Aspects)),
		}
	},
}

// AcquireResult gets a Result from the pool.
// The result starts valid, score 100, with no issues.
func AcquireResult() *Result {
	r := resultPool.Get().(*Result)
	r.Reset()
	return r
}

// Release returns the Result to the pool.
// After calling Release, the Result should not be used.
func (r *Result) Release() {
	if r == nil {
		return
	}
	if cap(r.Issues) <= 1024 {
		resultPool.Put(r)
	}
}

// Reset clears the result for reuse.
func (r *Result) Reset() {
	r.ResourceType = ""
	r.ResourceID = ""
	r.Issues = r.Issues[:0]
	for k := range r.AspectOutcomes {
		delete(r.AspectOutcomes, k)
	}
	r.Score = 100
	r.Valid = true
	r.ValidatedAt = time.Time{}
}

// MergeOutcome records an aspect outcome and appends its issues.
func (r *Result) MergeOutcome(outcome AspectOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.AspectOutcomes[outcome.Aspect] = outcome
	r.Issues = append(r.Issues, outcome.Issues...)
	if !outcome.Passed {
		r.Valid = false
	}
}

// AddIssue appends a single issue outside the aspect pipeline
// (e.g. an engine-error issue).
func (r *Result) AddIssue(issue Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Issues = append(r.Issues, issue)
	if issue.IsError() {
		r.Valid = false
	}
}

// AppendToOutcome merges extra issues into one aspect's outcome, then
// rebuilds the issue union in aspect execution order and rescores.
// Used for issues produced outside the pipeline, such as
// administrator-defined rules evaluated after the fixed aspects ran.
func (r *Result) AppendToOutcome(aspect Aspect, issues []Issue) {
	if len(issues) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	outcome, ok := r.AspectOutcomes[aspect]
	if !ok {
		outcome = NewOutcome(aspect)
	}
	outcome.AddAll(issues)
	r.AspectOutcomes[aspect] = outcome

	union := make([]Issue, 0, len(r.Issues)+len(issues))
	for _, a := range Aspects {
		union = append(union, r.AspectOutcomes[a].Issues...)
	}
	r.Issues = union
	r.Score, r.Valid = TieredScore(r.Issues)
}

// HasErrors returns true if there are any error or fatal issues.
func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, issue := range r.Issues {
		if issue.IsError() {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of error and fatal issues.
func (r *Result) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return countBySeverity(r.Issues, func(i Issue) bool { return i.IsError() })
}

// WarningCount returns the number of warning issues.
func (r *Result) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return countBySeverity(r.Issues, func(i Issue) bool { return i.IsWarning() })
}

// InformationCount returns the number of information issues.
func (r *Result) InformationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return countBySeverity(r.Issues, func(i Issue) bool { return i.Severity == SeverityInformation })
}

func countBySeverity(issues []Issue, match func(Issue) bool) int {
	n := 0
	for _, issue := range issues {
		if match(issue) {
			n++
		}
	}
	return n
}

// Counters returns the summed counters of all aspect outcomes.
func (r *Result) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total Counters
	for _, outcome := range r.AspectOutcomes {
		total.Add(outcome.Counters)
	}
	return total
}

// Finalize stamps the result with the tiered score and completion time.
func (r *Result) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Score, r.Valid = TieredScore(r.Issues)
	r.ValidatedAt = time.Now().UTC()
}

// Clone creates a deep copy of the result (not pooled).
func (r *Result) Clone() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := &Result{
		ResourceType:   r.ResourceType,
		ResourceID:     r.ResourceID,
		Issues:         make([]Issue, len(r.Issues)),
		AspectOutcomes: make(map[Aspect]AspectOutcome, len(r.AspectOutcomes)),
		Score:          r.Score,
		Valid:          r.Valid,
		ValidatedAt:    r.ValidatedAt,
	}
	copy(clone.Issues, r.Issues)
	for k, v := range r.AspectOutcomes {
		clone.AspectOutcomes[k] = v
	}
	return clone
}

// NewResult creates a new (non-pooled) result.
// Prefer AcquireResult() for better performance.
func NewResult(resourceType, resourceID string) *Result {
	return &Result{
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Issues:         make([]Issue, 0, 8),
		AspectOutcomes: make(map[Aspect]AspectOutcome, len(Aspects)),
		Score:          100,
		Valid:          true,
	}
}
