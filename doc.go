// Package fhirquality provides multi-aspect FHIR resource quality validation.
//
// A resource is validated along six independent aspects, each producing a
// typed issue list and counters, merged into a single scored result:
//
//   - Structural: resourceType/id presence, primitive formats, per-type
//     cardinality rules
//   - Profile: StructureDefinition conformance (mustSupport, min
//     cardinality, bindings) with server-side $validate fallback
//   - Terminology: coding system and code checks with optional external
//     existence lookup
//   - Reference: reference shape, existence and circular-reference checks
//   - BusinessRule: cross-field plausibility rules per resource type
//   - Metadata: meta, narrative and extension checks
//
// # Quick Start
//
//	import (
//	    fq "github.com/gofhir/quality"
//	    "github.com/gofhir/quality/engine"
//	)
//
//	eng := engine.New(engine.WithWorkerCount(8))
//	if err := eng.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	result := eng.Validate(ctx, resourceJSON)
//	for _, issue := range result.Issues {
//	    fmt.Println(issue)
//	}
//
// # Scoring
//
// Two scoring algorithms are carried side by side. The tiered score backs
// interactive results: errors cap the score at max(0, 60-20*errors),
// warnings at max(70, 100-5*warnings). The continuous score backs bulk
// runs with a smooth weighted deduction. See TieredScore and
// ContinuousScore.
//
// # Bulk Validation
//
// The bulk package drives validation over whole resource populations with
// pausable, resumable batched execution, parallel sub-batches and
// structural-hash change detection. The settings package is the single
// source of truth for which aspects run and which external servers are
// consulted, with versioned, cached, dependency-invalidated records.
//
// # Error Policy
//
// Validation findings are issues, never errors. Aspect-internal failures
// degrade to warnings except in the structural aspect, where a failure
// invalidates the whole run. External-dependency failures are downgraded
// to warning or information severity; the engine favors availability over
// strictness when collaborators are unreachable.
package fhirquality
