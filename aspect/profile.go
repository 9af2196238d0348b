package aspect

import (
	"context"
	"fmt"
	"strings"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/walker"
)

// baseProfileURL is the canonical prefix of the core FHIR profiles.
const baseProfileURL = "http://hl7.org/fhir/StructureDefinition/"

// Profile validates a resource against the StructureDefinitions named
// in meta.profile, defaulting to the core profile for the resource
// type when none are declared.
//
// When a profile resolves, the differential elements drive three
// checks: mustSupport presence, minimum cardinality and declared
// bindings. When no configured source can resolve a profile, the
// aspect falls back to the external server's $validate operation, and
// a total failure of both paths degrades to a single warning.
type Profile struct{}

// NewProfile creates the profile validator.
func NewProfile() *Profile {
	return &Profile{}
}

// Aspect returns the aspect identifier.
func (p *Profile) Aspect() fq.Aspect {
	return fq.AspectProfile
}

// Validate performs profile conformance checks.
func (p *Profile) Validate(ctx context.Context, pctx *pipeline.Context) fq.AspectOutcome {
	out := fq.NewOutcome(fq.AspectProfile)

	urls := profileURLs(pctx.ResourceMap, pctx.ResourceType)
	if len(urls) == 0 {
		return out
	}

	for _, profileURL := range urls {
		p.validateAgainst(ctx, pctx, profileURL, &out)
		out.Counters.ProfilesChecked++
	}

	return out
}

// validateAgainst checks the resource against one profile URL.
func (p *Profile) validateAgainst(ctx context.Context, pctx *pipeline.Context, profileURL string, out *fq.AspectOutcome) {
	var sd *service.StructureDefinition
	if pctx.Profiles != nil {
		resolved, err := pctx.Profiles.ResolveProfile(ctx, profileURL)
		if err == nil {
			sd = resolved
		}
	}

	if sd != nil {
		p.checkElements(pctx.ResourceMap, sd, profileURL, out)
		return
	}

	// No source could resolve the profile; delegate to the server's
	// $validate operation before giving up.
	if pctx.Client != nil {
		outcome, err := pctx.Client.ValidateResource(ctx, pctx.ResourceMap, profileURL)
		if err == nil && outcome != nil {
			translateOutcome(outcome, profileURL, out)
			return
		}
	}

	out.Add(fq.Warning(fq.AspectProfile, "profile-unverified").
		Message(fmt.Sprintf("profile %s could not be resolved or validated remotely", profileURL)).
		Build())
}

// checkElements validates the resource against the profile's
// differential elements, falling back to the snapshot when the
// differential is empty.
func (p *Profile) checkElements(resource map[string]any, sd *service.StructureDefinition, profileURL string, out *fq.AspectOutcome) {
	elements := sd.Differential
	if len(elements) == 0 {
		elements = sd.Snapshot
	}

	for _, elem := range elements {
		path := walker.StripRoot(elem.Path)
		if path == "" || strings.Contains(path, "[x]") {
			continue
		}

		present := walker.HasPath(resource, path)

		if elem.Min > 0 && !present {
			out.Add(fq.Error(fq.AspectProfile, "cardinality-violation").
				Message(fmt.Sprintf("element %s is required by profile %s", elem.Path, profileURL)).
				At(path).
				Build())
			continue
		}

		if elem.MustSupport && !present {
			out.Add(fq.Warning(fq.AspectProfile, "missing-must-support").
				Message(fmt.Sprintf("must-support element %s is absent", elem.Path)).
				At(path).
				Build())
		}

		if elem.Binding != nil && elem.Binding.Strength == "required" && present {
			if v, ok := walker.GetPath(resource, path); ok {
				if s, isStr := v.(string); isStr && s == "" {
					out.Add(fq.Error(fq.AspectProfile, "empty-bound-value").
						Message(fmt.Sprintf("element %s has a required binding but an empty value", elem.Path)).
						At(path).
						Build())
				}
			}
		}
	}
}

// translateOutcome converts error-level OperationOutcome issues from a
// server-side $validate call into profile issues. Warnings and
// informational entries from the server are dropped: remote validators
// tend to be noisy about constraints outside this aspect's scope.
func translateOutcome(outcome *service.OperationOutcome, profileURL string, out *fq.AspectOutcome) {
	for _, oi := range outcome.Issue {
		if oi.Severity != "error" && oi.Severity != "fatal" {
			continue
		}
		msg := oi.Diagnostics
		if msg == "" {
			msg = fmt.Sprintf("server-side validation against %s reported %s", profileURL, oi.Code)
		}
		b := fq.Error(fq.AspectProfile, "profile-violation").Message(msg)
		if len(oi.Location) > 0 {
			b.At(oi.Location[0])
		}
		if len(oi.Expression) > 0 {
			b.Expression(oi.Expression[0])
		}
		out.Add(b.Build())
	}
}

// profileURLs returns the declared meta.profile URLs, or the core
// profile for the resource type when none are declared.
func profileURLs(resource map[string]any, resourceType string) []string {
	if meta, ok := mapField(resource, "meta"); ok {
		if arr, ok := meta["profile"].([]any); ok {
			var urls []string
			for _, e := range arr {
				if s, ok := e.(string); ok && s != "" {
					urls = append(urls, s)
				}
			}
			if len(urls) > 0 {
				return urls
			}
		}
	}
	if resourceType == "" {
		return nil
	}
	return []string{baseProfileURL + resourceType}
}
