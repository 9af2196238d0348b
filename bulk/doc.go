// Package bulk runs validation over entire server populations. The
// Orchestrator pages through resource types on an external FHIR
// server, fans each page out into bounded sub-batches, and tracks a
// single-writer progress object that survives pause and resume.
//
// Per-resource failures are recorded in the progress error log and
// never abort a run; only Stop discards progress.
package bulk
