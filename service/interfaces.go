package service

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a resource or record cannot be found.
var ErrNotFound = errors.New("not found")

// ProfileResolver resolves a canonical profile URL to a
// StructureDefinition. A nil result with nil error means "could not
// resolve" and must not be treated as a failure by callers.
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, url string) (*StructureDefinition, error)
}

// CodeValidator checks code existence against a terminology service.
// An error means the check was indeterminate, never that the code is
// invalid.
type CodeValidator interface {
	ValidateCode(ctx context.Context, system, code string) (bool, error)
}

// ResourceFinder looks up a resource in local storage.
// Returns ErrNotFound when absent.
type ResourceFinder interface {
	FindResource(ctx context.Context, resourceType, id string) (map[string]any, error)
}

// ResourceClient is the contract of an external FHIR server.
type ResourceClient interface {
	TestConnection(ctx context.Context) ConnectionStatus
	SearchResources(ctx context.Context, resourceType string, params map[string]string, pageSize, offset int) (*SearchResult, error)
	GetResource(ctx context.Context, resourceType, id string) (map[string]any, error)
	GetResourceCount(ctx context.Context, resourceType string) (int, error)
	ValidateResource(ctx context.Context, resource map[string]any, profileURL string) (*OperationOutcome, error)
}
