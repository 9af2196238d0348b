package aspect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
	"github.com/gofhir/quality/walker"
)

// knownSystemPrefixes are system URIs accepted without being
// well-formed absolute URIs themselves.
var knownSystemPrefixes = []string{
	"http://hl7.org/fhir",
	"http://terminology.hl7.org",
	"http://loinc.org",
	"http://snomed.info",
	"http://unitsofmeasure.org",
	"http://www.nlm.nih.gov/research/umls/rxnorm",
	"urn:ietf:bcp:47",
	"urn:iso:std:iso:3166",
}

// deniedCodes lists codes known to be retired or placeholder values
// per system.
var deniedCodes = map[string]map[string]struct{}{
	"http://loinc.org": {
		"0000-0": {},
	},
	"http://snomed.info/sct": {
		"000000": {},
	},
}

// systemFormats validate the code format per system.
var (
	loincFormat  = regexp.MustCompile(`^\d{1,5}-\d$`)
	snomedFormat = regexp.MustCompile(`^\d{6,18}$`)
	iso3166Alpha = regexp.MustCompile(`^[A-Z]{2}$`)
)

// systemEnums are closed code sets for small FHIR code systems.
var systemEnums = map[string]map[string]struct{}{
	"http://hl7.org/fhir/administrative-gender": {
		"male": {}, "female": {}, "other": {}, "unknown": {},
	},
	"http://hl7.org/fhir/observation-status": {
		"registered": {}, "preliminary": {}, "final": {}, "amended": {},
		"corrected": {}, "cancelled": {}, "entered-in-error": {}, "unknown": {},
	},
}

// knownDisplays cross-checks display text for a handful of very common
// codes. Mismatches are warnings, not errors.
var knownDisplays = map[string]map[string]string{
	"http://loinc.org": {
		"8867-4": "Heart rate",
		"8480-6": "Systolic blood pressure",
		"8462-4": "Diastolic blood pressure",
		"8310-5": "Body temperature",
		"9279-1": "Respiratory rate",
	},
	"http://hl7.org/fhir/administrative-gender": {
		"male":   "Male",
		"female": "Female",
	},
}

// Terminology validates every coding discovered in the resource tree:
// system URI well-formedness, per-system deny lists, per-system code
// format rules, display-text cross-checks and, when enabled, an
// existence check against the external terminology server.
type Terminology struct{}

// NewTerminology creates the terminology validator.
func NewTerminology() *Terminology {
	return &Terminology{}
}

// Aspect returns the aspect identifier.
func (t *Terminology) Aspect() fq.Aspect {
	return fq.AspectTerminology
}

// Validate performs terminology validation.
func (t *Terminology) Validate(ctx context.Context, pctx *pipeline.Context) fq.AspectOutcome {
	out := fq.NewOutcome(fq.AspectTerminology)

	for _, c := range walker.CollectCodings(pctx.ResourceMap) {
		t.checkCoding(ctx, pctx, c, &out)
		out.Counters.CodesChecked++
	}

	return out
}

// checkCoding validates one (system, code, display) triple.
func (t *Terminology) checkCoding(ctx context.Context, pctx *pipeline.Context, c walker.Coding, out *fq.AspectOutcome) {
	if c.System == "" {
		out.Add(fq.Warning(fq.AspectTerminology, "missing-system").
			Message(fmt.Sprintf("coding %q has no system", c.Code)).
			At(c.Path).
			Build())
		return
	}

	if !knownSystem(c.System) && !isAbsoluteURI(c.System) {
		out.Add(fq.Error(fq.AspectTerminology, "invalid-system-uri").
			Message(fmt.Sprintf("coding system %q is not a valid URI", c.System)).
			At(c.Path).
			Build())
		return
	}

	if c.Code == "" {
		out.Add(fq.Error(fq.AspectTerminology, "missing-code").
			Message(fmt.Sprintf("coding from system %s has no code", c.System)).
			At(c.Path).
			Build())
		return
	}

	if denied, ok := deniedCodes[c.System]; ok {
		if _, hit := denied[c.Code]; hit {
			out.Add(fq.Error(fq.AspectTerminology, "denied-code").
				Message(fmt.Sprintf("code %q from %s is retired or a placeholder", c.Code, c.System)).
				At(c.Path).
				Build())
			return
		}
	}

	if !t.checkFormat(c, out) {
		return
	}

	t.checkDisplay(c, out)

	if pctx.Options != nil && pctx.Options.ExternalTerminology && pctx.Terminology != nil {
		t.checkExistence(ctx, pctx, c, out)
	}
}

// checkFormat applies the per-system code format rules. Returns false
// when the code is malformed for its system.
func (t *Terminology) checkFormat(c walker.Coding, out *fq.AspectOutcome) bool {
	if enum, ok := systemEnums[c.System]; ok {
		if _, known := enum[c.Code]; !known {
			out.Add(fq.Error(fq.AspectTerminology, "invalid-code-value").
				Message(fmt.Sprintf("%q is not a member of %s", c.Code, c.System)).
				At(c.Path).
				Build())
			return false
		}
		return true
	}

	var format *regexp.Regexp
	var hint string
	switch c.System {
	case "http://loinc.org":
		format, hint = loincFormat, "LOINC codes look like 12345-6"
	case "http://snomed.info/sct":
		format, hint = snomedFormat, "SNOMED CT codes are 6-18 digits"
	case "urn:iso:std:iso:3166":
		format, hint = iso3166Alpha, "ISO 3166 alpha-2 codes are two uppercase letters"
	default:
		return true
	}

	if !format.MatchString(c.Code) {
		out.Add(fq.Error(fq.AspectTerminology, "invalid-code-format").
			Message(fmt.Sprintf("%q is malformed for system %s", c.Code, c.System)).
			At(c.Path).
			Suggest(hint).
			Build())
		return false
	}
	return true
}

// checkDisplay cross-checks display text against the built-in map.
func (t *Terminology) checkDisplay(c walker.Coding, out *fq.AspectOutcome) {
	displays, ok := knownDisplays[c.System]
	if !ok || c.Display == "" {
		return
	}
	want, ok := displays[c.Code]
	if !ok {
		return
	}
	if !strings.EqualFold(c.Display, want) {
		out.Add(fq.Warning(fq.AspectTerminology, "display-mismatch").
			Message(fmt.Sprintf("display %q does not match expected %q for %s|%s", c.Display, want, c.System, c.Code)).
			At(c.Path).
			Build())
	}
}

// checkExistence delegates to the terminology server. A failed call is
// indeterminate and downgrades to information, never an error.
func (t *Terminology) checkExistence(ctx context.Context, pctx *pipeline.Context, c walker.Coding, out *fq.AspectOutcome) {
	valid, err := pctx.Terminology.ValidateCode(ctx, c.System, c.Code)
	if err != nil {
		out.Add(fq.Info(fq.AspectTerminology, "terminology-server-unavailable").
			Message(fmt.Sprintf("could not verify %s|%s: %v", c.System, c.Code, err)).
			At(c.Path).
			Build())
		return
	}
	if !valid {
		out.Add(fq.Error(fq.AspectTerminology, "unknown-code").
			Message(fmt.Sprintf("terminology server does not know %s|%s", c.System, c.Code)).
			At(c.Path).
			Build())
	}
}

func knownSystem(system string) bool {
	for _, prefix := range knownSystemPrefixes {
		if strings.HasPrefix(system, prefix) {
			return true
		}
	}
	return false
}
