package aspect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/walker"
)

var (
	// localRefPattern matches relative ResourceType/id references.
	localRefPattern = regexp.MustCompile(`^([A-Z][A-Za-z]+)/([A-Za-z0-9\-\.]{1,64})$`)
	uuidRefPattern  = regexp.MustCompile(`^urn:uuid:[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	oidRefPattern   = regexp.MustCompile(`^urn:oid:\d+(\.\d+)*$`)
)

// Reference validates every reference discovered in the resource tree:
// accepted shape (ResourceType/id, #fragment, absolute URL, urn:uuid,
// urn:oid), circular-reference detection through the context's visited
// set, and existence of local references against storage and then the
// external server.
//
// Fragment references are only checked for a non-empty id; resolving
// them would require the enclosing Bundle, which this validator does
// not see.
type Reference struct{}

// NewReference creates the reference validator.
func NewReference() *Reference {
	return &Reference{}
}

// Aspect returns the aspect identifier.
func (r *Reference) Aspect() fq.Aspect {
	return fq.AspectReference
}

// Validate performs reference validation.
func (r *Reference) Validate(ctx context.Context, pctx *pipeline.Context) fq.AspectOutcome {
	out := fq.NewOutcome(fq.AspectReference)

	// The resource's own key stays on the path for the lifetime of the
	// context, so mutual references in a shared-context graph surface
	// as circular.
	if pctx.ResourceType != "" && pctx.ResourceID != "" {
		pctx.SeedVisited(pctx.ResourceType + "/" + pctx.ResourceID)
	}

	for _, ref := range walker.CollectReferences(pctx.ResourceMap) {
		r.checkReference(ctx, pctx, ref, &out)
		out.Counters.ReferencesChecked++
	}

	return out
}

// checkReference validates one reference string.
func (r *Reference) checkReference(ctx context.Context, pctx *pipeline.Context, ref walker.Reference, out *fq.AspectOutcome) {
	v := ref.Value

	switch {
	case localRefPattern.MatchString(v):
		r.checkLocal(ctx, pctx, ref, out)

	case strings.HasPrefix(v, "#"):
		if len(v) == 1 {
			out.Add(fq.Error(fq.AspectReference, "empty-fragment-reference").
				Message("fragment reference has no id").
				At(ref.Path).
				Build())
		}

	case strings.HasPrefix(v, "https://"):
		// Absolute secure URL, accepted as-is.

	case strings.HasPrefix(v, "http://"):
		out.Add(fq.Warning(fq.AspectReference, "insecure-http-reference").
			Message(fmt.Sprintf("reference %q uses plain HTTP", v)).
			At(ref.Path).
			Suggest("use an https URL").
			Build())

	case strings.HasPrefix(v, "urn:uuid:"):
		if !uuidRefPattern.MatchString(v) {
			out.Add(fq.Error(fq.AspectReference, "invalid-reference-format").
				Message(fmt.Sprintf("%q is not a valid urn:uuid reference", v)).
				At(ref.Path).
				Build())
		}

	case strings.HasPrefix(v, "urn:oid:"):
		if !oidRefPattern.MatchString(v) {
			out.Add(fq.Error(fq.AspectReference, "invalid-reference-format").
				Message(fmt.Sprintf("%q is not a valid urn:oid reference", v)).
				At(ref.Path).
				Build())
		}

	default:
		out.Add(fq.Error(fq.AspectReference, "invalid-reference-format").
			Message(fmt.Sprintf("%q matches no accepted reference shape", v)).
			At(ref.Path).
			Suggest("use ResourceType/id, #fragment, an absolute URL, urn:uuid or urn:oid").
			Build())
	}
}

// checkLocal handles ResourceType/id references: circularity first,
// then existence against local storage and the external server.
func (r *Reference) checkLocal(ctx context.Context, pctx *pipeline.Context, ref walker.Reference, out *fq.AspectOutcome) {
	target := ref.Value

	if !pctx.PushVisited(target) {
		// Re-encountered while still on the active path. Legitimate in
		// some bundle shapes, so a warning rather than an error.
		out.Add(fq.Warning(fq.AspectReference, "circular-reference").
			Message(fmt.Sprintf("reference %q is circular on the current validation path", target)).
			At(ref.Path).
			Build())
		return
	}
	defer pctx.PopVisited(target)

	parts := localRefPattern.FindStringSubmatch(target)
	resourceType, id := parts[1], parts[2]

	missingLocally := false
	if pctx.Resources != nil {
		_, err := pctx.Resources.FindResource(ctx, resourceType, id)
		switch {
		case err == nil:
			return
		case errors.Is(err, service.ErrNotFound):
			missingLocally = true
		default:
			out.Add(fq.Warning(fq.AspectReference, "reference-unverifiable").
				Message(fmt.Sprintf("could not check %q in local storage: %v", target, err)).
				At(ref.Path).
				Build())
			return
		}
	}

	if pctx.Options == nil || !pctx.Options.ExternalReferences || pctx.Client == nil {
		if missingLocally {
			out.Add(fq.Error(fq.AspectReference, "reference-not-found").
				Message(fmt.Sprintf("referenced resource %q does not exist", target)).
				At(ref.Path).
				Build())
		}
		return
	}

	resource, err := pctx.Client.GetResource(ctx, resourceType, id)
	if err != nil {
		out.Add(fq.Warning(fq.AspectReference, "reference-unverifiable").
			Message(fmt.Sprintf("server lookup of %q failed: %v", target, err)).
			At(ref.Path).
			Build())
		return
	}
	if resource == nil {
		out.Add(fq.Error(fq.AspectReference, "reference-not-found").
			Message(fmt.Sprintf("referenced resource %q does not exist", target)).
			At(ref.Path).
			Build())
	}
}
