// Package service defines the shared model types and small, composable
// interfaces the validation aspects consume. Following Go's philosophy
// of small interfaces, each interface has one or two methods; concrete
// clients live in the resolver, terminology, fhir and storage packages.
package service

// StructureDefinition is a simplified internal representation of a FHIR
// StructureDefinition, carrying only what profile validation needs.
type StructureDefinition struct {
	URL            string
	Name           string
	Type           string
	Kind           string
	Abstract       bool
	BaseDefinition string
	FHIRVersion    string
	Snapshot       []ElementDefinition
	Differential   []ElementDefinition
}

// ElementDefinition is a simplified FHIR ElementDefinition.
type ElementDefinition struct {
	ID          string
	Path        string
	Min         int
	Max         string
	Types       []TypeRef
	Binding     *Binding
	MustSupport bool
	IsModifier  bool
}

// TypeRef represents a type reference in an ElementDefinition.
type TypeRef struct {
	Code          string
	Profile       []string
	TargetProfile []string
}

// Binding represents a terminology binding.
type Binding struct {
	Strength    string
	ValueSet    string
	Description string
}

// OperationOutcome mirrors the shape of a FHIR OperationOutcome
// returned by a server-side $validate call.
type OperationOutcome struct {
	Issue []OutcomeIssue `json:"issue"`
}

// OutcomeIssue is a single OperationOutcome.issue entry.
type OutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Location    []string `json:"location,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

// SearchResult is one page of a resource search.
type SearchResult struct {
	Total   int
	Entries []map[string]any
}

// ConnectionStatus is the outcome of a server connectivity probe.
type ConnectionStatus struct {
	Connected bool
	Version   string
	Error     string
}
