// Package aspect implements the six validation aspects: structural,
// profile, terminology, reference, businessRule and metadata.
//
// Each validator implements pipeline.AspectValidator, is stateless and
// safe for concurrent use, and reports findings as issues rather than
// errors. External collaborators (profile resolvers, terminology
// servers, FHIR servers) are reached through the small interfaces in
// the service package and may be nil, in which case the dependent
// checks are skipped.
package aspect
