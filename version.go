package fhirquality

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case R4, R4B, R5:
		return true
	default:
		return false
	}
}

// ParseFHIRVersion maps a specification release string, as found in a
// StructureDefinition's fhirVersion element, to its release name.
// Returns false for releases this engine does not support.
func ParseFHIRVersion(release string) (FHIRVersion, bool) {
	switch release {
	case "4.0", "4.0.0", "4.0.1", string(R4):
		return R4, true
	case "4.3", "4.3.0", string(R4B):
		return R4B, true
	case "5.0", "5.0.0", string(R5):
		return R5, true
	default:
		return "", false
	}
}
