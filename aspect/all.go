package aspect

import "github.com/gofhir/quality/pipeline"

// All returns one validator per aspect, in no particular order; the
// pipeline sequences them itself.
func All() []pipeline.AspectValidator {
	return []pipeline.AspectValidator{
		NewStructural(),
		NewProfile(),
		NewTerminology(),
		NewReference(),
		NewBusinessRule(),
		NewMetadata(),
	}
}
