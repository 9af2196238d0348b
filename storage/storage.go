package storage

import (
	"context"
	"time"

	fq "github.com/gofhir/quality"
)

// ResultRecord is one persisted validation outcome. Results are
// append-only; the record with the newest StoredAt for a resource is
// the current one. Hash carries the structural hash of the resource at
// validation time so unchanged resources can be skipped on later runs.
type ResultRecord struct {
	ResourceType string     `json:"resourceType"`
	ResourceID   string     `json:"resourceId"`
	Hash         uint64     `json:"hash"`
	Result       *fq.Result `json:"result"`

	// ContinuousScore is the weighted-deduction score used by bulk
	// runs and change-detection comparisons; the tiered score lives
	// on the Result itself.
	ContinuousScore int `json:"continuousScore"`

	StoredAt time.Time `json:"storedAt"`
}

// ResultStore persists validation results with append semantics.
type ResultStore interface {
	// SaveResult appends a record. A zero StoredAt is stamped with
	// the current time.
	SaveResult(ctx context.Context, rec ResultRecord) error

	// LatestResult returns the newest record for a resource, or
	// service.ErrNotFound when the resource was never validated.
	LatestResult(ctx context.Context, resourceType, id string) (*ResultRecord, error)

	// ResultHistory returns all records for a resource, newest first.
	ResultHistory(ctx context.Context, resourceType, id string) ([]ResultRecord, error)
}

// ResourceStore holds raw resources keyed by type and id. It satisfies
// service.ResourceFinder so the reference aspect can check local
// existence against it.
type ResourceStore interface {
	FindResource(ctx context.Context, resourceType, id string) (map[string]any, error)
	PutResource(ctx context.Context, resourceType, id string, resource map[string]any) error
	DeleteResource(ctx context.Context, resourceType, id string) error
}
