package resolver

import (
	"github.com/gofhir/fhir/r4"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/service"
)

// convertStructureDefinition maps the decoded r4 model onto the
// internal service model, keeping only what profile validation reads.
func convertStructureDefinition(sd *r4.StructureDefinition) *service.StructureDefinition {
	if sd == nil {
		return nil
	}

	result := &service.StructureDefinition{
		URL:            derefString(sd.Url),
		Name:           derefString(sd.Name),
		Type:           derefString(sd.Type),
		Kind:           convertKind(sd.Kind),
		Abstract:       derefBool(sd.Abstract),
		BaseDefinition: derefString(sd.BaseDefinition),
		FHIRVersion:    convertFHIRVersion(sd.FhirVersion),
	}

	if sd.Snapshot != nil {
		result.Snapshot = convertElements(sd.Snapshot.Element)
	}
	if sd.Differential != nil {
		result.Differential = convertElements(sd.Differential.Element)
	}

	return result
}

func convertElements(elements []r4.ElementDefinition) []service.ElementDefinition {
	if len(elements) == 0 {
		return nil
	}

	result := make([]service.ElementDefinition, 0, len(elements))
	for i := range elements {
		ed := &elements[i]
		result = append(result, service.ElementDefinition{
			ID:          derefString(ed.Id),
			Path:        derefString(ed.Path),
			Min:         convertMin(ed.Min),
			Max:         derefString(ed.Max),
			Types:       convertTypes(ed.Type),
			Binding:     convertBinding(ed.Binding),
			MustSupport: derefBool(ed.MustSupport),
			IsModifier:  derefBool(ed.IsModifier),
		})
	}
	return result
}

func convertTypes(types []r4.ElementDefinitionType) []service.TypeRef {
	if len(types) == 0 {
		return nil
	}

	result := make([]service.TypeRef, 0, len(types))
	for i := range types {
		t := &types[i]
		result = append(result, service.TypeRef{
			Code:          derefString(t.Code),
			Profile:       t.Profile,
			TargetProfile: t.TargetProfile,
		})
	}
	return result
}

func convertBinding(binding *r4.ElementDefinitionBinding) *service.Binding {
	if binding == nil {
		return nil
	}
	return &service.Binding{
		Strength:    convertBindingStrength(binding.Strength),
		ValueSet:    derefString(binding.ValueSet),
		Description: derefString(binding.Description),
	}
}

func convertKind(kind *r4.StructureDefinitionKind) string {
	if kind == nil {
		return ""
	}
	return string(*kind)
}

// convertFHIRVersion normalizes the release string ("4.0.1") to its
// release name ("R4"). Unrecognized releases pass through raw so the
// caller can still surface them.
func convertFHIRVersion(version *r4.FHIRVersion) string {
	if version == nil {
		return ""
	}
	if release, ok := fq.ParseFHIRVersion(string(*version)); ok {
		return release.String()
	}
	return string(*version)
}

func convertBindingStrength(strength *r4.BindingStrength) string {
	if strength == nil {
		return ""
	}
	return string(*strength)
}

func convertMin(minVal *uint32) int {
	if minVal == nil {
		return 0
	}
	return int(*minVal)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
