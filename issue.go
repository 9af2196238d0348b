package fhirquality

// Severity represents the severity of a validation issue.
// Maps to OperationOutcome.issue.severity in FHIR.
type Severity string

const (
	// SeverityFatal indicates the issue is fatal and validation cannot continue.
	SeverityFatal Severity = "fatal"
	// SeverityError indicates a validation error that causes the resource to be invalid.
	SeverityError Severity = "error"
	// SeverityWarning indicates a potential problem that should be reviewed.
	SeverityWarning Severity = "warning"
	// SeverityInformation indicates informational feedback.
	SeverityInformation Severity = "information"
)

// Aspect identifies one of the six independent validation dimensions.
type Aspect string

const (
	// AspectStructural covers resourceType/id presence, primitive formats
	// and resource-type cardinality rules.
	AspectStructural Aspect = "structural"
	// AspectProfile covers StructureDefinition conformance checks.
	AspectProfile Aspect = "profile"
	// AspectTerminology covers coding system and code checks.
	AspectTerminology Aspect = "terminology"
	// AspectReference covers reference shape, existence and circularity checks.
	AspectReference Aspect = "reference"
	// AspectBusinessRule covers cross-field plausibility rules.
	AspectBusinessRule Aspect = "businessRule"
	// AspectMetadata covers meta, narrative and extension checks.
	AspectMetadata Aspect = "metadata"
)

// Aspects lists all aspects in pipeline execution order.
// The order is fixed so merged issue sequences are deterministic.
var Aspects = []Aspect{
	AspectStructural,
	AspectProfile,
	AspectTerminology,
	AspectReference,
	AspectBusinessRule,
	AspectMetadata,
}

// Issue represents a single validation finding.
// Issues are immutable once built and owned by the aspect that created them.
type Issue struct {
	// Severity of the issue (fatal, error, warning, information)
	Severity Severity `json:"severity"`

	// Code is a stable machine-readable identifier, e.g. "missing-id",
	// "circular-reference", "validation-engine-error".
	Code string `json:"code"`

	// Aspect is the validation dimension that produced the issue.
	Aspect Aspect `json:"aspect"`

	// Message contains human-readable details about the issue.
	Message string `json:"message"`

	// Path locates the offending element in dot/bracket notation,
	// e.g. "name[0].given".
	Path string `json:"path,omitempty"`

	// Expression is an optional FHIRPath-style expression for the element.
	Expression string `json:"expression,omitempty"`

	// Suggestion is an optional hint on how to fix the finding.
	Suggestion string `json:"suggestion,omitempty"`
}

// IsError returns true if this is an error or fatal issue.
func (i Issue) IsError() bool {
	return i.Severity == SeverityError || i.Severity == SeverityFatal
}

// IsWarning returns true if this is a warning.
func (i Issue) IsWarning() bool {
	return i.Severity == SeverityWarning
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	s := string(i.Severity) + " [" + string(i.Aspect) + "/" + i.Code + "]: " + i.Message
	if i.Path != "" {
		s += " at " + i.Path
	}
	return s
}

// IssueBuilder provides a fluent API for building issues.
type IssueBuilder struct {
	issue Issue
}

// NewIssue creates a new IssueBuilder.
func NewIssue(severity Severity, aspect Aspect, code string) *IssueBuilder {
	return &IssueBuilder{
		issue: Issue{
			Severity: severity,
			Aspect:   aspect,
			Code:     code,
		},
	}
}

// Fatal creates a fatal issue builder.
func Fatal(aspect Aspect, code string) *IssueBuilder {
	return NewIssue(SeverityFatal, aspect, code)
}

// Error creates an error issue builder.
func Error(aspect Aspect, code string) *IssueBuilder {
	return NewIssue(SeverityError, aspect, code)
}

// Warning creates a warning issue builder.
func Warning(aspect Aspect, code string) *IssueBuilder {
	return NewIssue(SeverityWarning, aspect, code)
}

// Info creates an informational issue builder.
func Info(aspect Aspect, code string) *IssueBuilder {
	return NewIssue(SeverityInformation, aspect, code)
}

// Message sets the human-readable message.
func (b *IssueBuilder) Message(msg string) *IssueBuilder {
	b.issue.Message = msg
	return b
}

// At sets the element path.
func (b *IssueBuilder) At(path string) *IssueBuilder {
	b.issue.Path = path
	return b
}

// Expression sets the FHIRPath-style expression.
func (b *IssueBuilder) Expression(expr string) *IssueBuilder {
	b.issue.Expression = expr
	return b
}

// Suggest sets the fix suggestion.
func (b *IssueBuilder) Suggest(s string) *IssueBuilder {
	b.issue.Suggestion = s
	return b
}

// Build returns the constructed issue.
func (b *IssueBuilder) Build() Issue {
	return b.issue
}
