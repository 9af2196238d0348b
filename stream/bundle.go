// Package stream validates Bundle resources entry by entry without
// holding the whole document in memory.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	fq "github.com/gofhir/quality"
)

// Validator validates one parsed resource. Implemented by the engine.
type Validator interface {
	ValidateMap(ctx context.Context, resource map[string]any) *fq.Result
}

// EntryResult is the outcome for a single bundle entry. Index is -1
// for failures that concern the bundle itself rather than an entry.
type EntryResult struct {
	Index        int
	FullURL      string
	ResourceType string
	ResourceID   string
	Result       *fq.Result
	Err          error
}

// BundleValidator walks a bundle's entry array with a streaming JSON
// decoder and validates each resource as it is read.
type BundleValidator struct {
	validator  Validator
	bufferSize int
}

// Option configures a BundleValidator.
type Option func(*BundleValidator)

// WithBufferSize sets the result channel buffer.
func WithBufferSize(n int) Option {
	return func(v *BundleValidator) {
		if n > 0 {
			v.bufferSize = n
		}
	}
}

// NewBundleValidator creates a streaming validator over the given
// per-resource validator.
func NewBundleValidator(validator Validator, opts ...Option) *BundleValidator {
	v := &BundleValidator{
		validator:  validator,
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateStream reads a bundle from r and emits one EntryResult per
// entry, in bundle order. The channel closes when the bundle is
// exhausted or an unrecoverable decode error occurs.
func (v *BundleValidator) ValidateStream(ctx context.Context, r io.Reader) <-chan EntryResult {
	results := make(chan EntryResult, v.bufferSize)

	go func() {
		defer close(results)

		decoder := json.NewDecoder(r)

		token, err := decoder.Token()
		if err != nil {
			results <- EntryResult{Index: -1, Err: fmt.Errorf("reading bundle: %w", err)}
			return
		}
		if delim, ok := token.(json.Delim); !ok || delim != '{' {
			results <- EntryResult{Index: -1, Err: fmt.Errorf("expected object start, got %v", token)}
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				results <- EntryResult{Index: -1, Err: ctx.Err()}
				return
			}

			token, err := decoder.Token()
			if err != nil {
				results <- EntryResult{Index: -1, Err: fmt.Errorf("reading field: %w", err)}
				return
			}
			field, ok := token.(string)
			if !ok {
				continue
			}

			if field == "entry" {
				v.walkEntries(ctx, decoder, results)
				return
			}

			// Skip fields preceding the entry array.
			var skip any
			if err := decoder.Decode(&skip); err != nil {
				results <- EntryResult{Index: -1, Err: fmt.Errorf("skipping field %s: %w", field, err)}
				return
			}
		}
		// A bundle with no entry array yields no results.
	}()

	return results
}

func (v *BundleValidator) walkEntries(ctx context.Context, decoder *json.Decoder, results chan<- EntryResult) {
	token, err := decoder.Token()
	if err != nil {
		results <- EntryResult{Index: -1, Err: fmt.Errorf("reading entry array: %w", err)}
		return
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		results <- EntryResult{Index: -1, Err: fmt.Errorf("expected array start, got %v", token)}
		return
	}

	index := 0
	for decoder.More() {
		if ctx.Err() != nil {
			results <- EntryResult{Index: index, Err: ctx.Err()}
			return
		}

		var entry map[string]any
		if err := decoder.Decode(&entry); err != nil {
			results <- EntryResult{Index: index, Err: fmt.Errorf("decoding entry %d: %w", index, err)}
			index++
			continue
		}

		results <- v.validateEntry(ctx, entry, index)
		index++
	}
}

func (v *BundleValidator) validateEntry(ctx context.Context, entry map[string]any, index int) EntryResult {
	out := EntryResult{Index: index}
	if fullURL, ok := entry["fullUrl"].(string); ok {
		out.FullURL = fullURL
	}

	resource, ok := entry["resource"].(map[string]any)
	if !ok {
		out.Err = fmt.Errorf("entry %d has no resource", index)
		return out
	}
	if rt, ok := resource["resourceType"].(string); ok {
		out.ResourceType = rt
	}
	if id, ok := resource["id"].(string); ok {
		out.ResourceID = id
	}

	out.Result = v.validator.ValidateMap(ctx, resource)
	return out
}

// Summary aggregates the entry results of one bundle pass.
type Summary struct {
	Entries      int
	Valid        int
	Invalid      int
	Failed       int
	TotalIssues  int
	AverageScore int
}

// HasFailures reports whether any entry was invalid or failed to
// process.
func (s Summary) HasFailures() bool {
	return s.Invalid > 0 || s.Failed > 0
}

// Summarize drains a result channel into aggregate counts.
func Summarize(results <-chan EntryResult) Summary {
	var s Summary
	scoreSum := 0
	for r := range results {
		s.Entries++
		switch {
		case r.Err != nil:
			s.Failed++
		case r.Result == nil:
			s.Failed++
		case r.Result.Valid:
			s.Valid++
			s.TotalIssues += len(r.Result.Issues)
			scoreSum += r.Result.Score
		default:
			s.Invalid++
			s.TotalIssues += len(r.Result.Issues)
			scoreSum += r.Result.Score
		}
	}
	if scored := s.Valid + s.Invalid; scored > 0 {
		s.AverageScore = scoreSum / scored
	}
	return s
}

// String returns a one-line human-readable summary.
func (s Summary) String() string {
	return fmt.Sprintf("validated %d entries: %d valid, %d invalid, %d failed, %d issues",
		s.Entries, s.Valid, s.Invalid, s.Failed, s.TotalIssues)
}
