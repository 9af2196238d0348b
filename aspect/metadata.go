package aspect

import (
	"context"
	"fmt"
	"strings"
	"time"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/pipeline"
	"github.com/gofhir/quality/walker"
)

// narrativeStatuses are the allowed Narrative.status codes.
var narrativeStatuses = map[string]struct{}{
	"generated":  {},
	"extensions": {},
	"additional": {},
	"empty":      {},
}

// deprecatedFields lists elements removed from recent FHIR versions
// that still show up in migrated data.
var deprecatedFields = map[string][]string{
	"Patient":    {"animal"},
	"Medication": {"package"},
}

// Metadata validates the meta element, the narrative, and every
// extension in the resource tree. Extensions need a canonical URL and
// either a value or nested extensions.
type Metadata struct{}

// NewMetadata creates the metadata validator.
func NewMetadata() *Metadata {
	return &Metadata{}
}

// Aspect returns the aspect identifier.
func (m *Metadata) Aspect() fq.Aspect {
	return fq.AspectMetadata
}

// Validate performs metadata validation.
func (m *Metadata) Validate(_ context.Context, pctx *pipeline.Context) fq.AspectOutcome {
	out := fq.NewOutcome(fq.AspectMetadata)

	m.checkMeta(pctx.ResourceMap, &out)
	m.checkNarrative(pctx.ResourceMap, &out)
	m.checkExtensions(pctx.ResourceMap, &out)
	m.checkDeprecated(pctx.ResourceType, pctx.ResourceMap, &out)

	return out
}

func (m *Metadata) checkMeta(resource map[string]any, out *fq.AspectOutcome) {
	meta, ok := mapField(resource, "meta")
	if !ok {
		return
	}

	if v, present := meta["versionId"]; present {
		if s, isStr := v.(string); !isStr || s == "" {
			out.Add(fq.Error(fq.AspectMetadata, "invalid-version-id").
				Message("meta.versionId must be a non-empty string").
				At("meta.versionId").
				Build())
		}
	}

	if s, present := stringField(meta, "lastUpdated"); present {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			out.Add(fq.Error(fq.AspectMetadata, "invalid-last-updated").
				Message(fmt.Sprintf("meta.lastUpdated %q is not a valid instant", s)).
				At("meta.lastUpdated").
				Build())
		} else if t.After(time.Now().UTC()) {
			out.Add(fq.Warning(fq.AspectMetadata, "future-last-updated").
				Message("meta.lastUpdated is in the future").
				At("meta.lastUpdated").
				Build())
		}
	}

	if s, present := stringField(meta, "source"); present && !isAbsoluteURI(s) {
		out.Add(fq.Error(fq.AspectMetadata, "invalid-source-uri").
			Message(fmt.Sprintf("meta.source %q is not a valid URI", s)).
			At("meta.source").
			Build())
	}

	if arr, present := meta["profile"].([]any); present {
		for i, e := range arr {
			s, isStr := e.(string)
			if !isStr || !isAbsoluteURI(s) {
				out.Add(fq.Error(fq.AspectMetadata, "invalid-profile-uri").
					Message("meta.profile entries must be canonical URIs").
					At(fmt.Sprintf("meta.profile[%d]", i)).
					Build())
			}
		}
	}

	for _, field := range []string{"security", "tag"} {
		arr, present := meta[field].([]any)
		if !present {
			continue
		}
		for i, e := range arr {
			coding, isMap := e.(map[string]any)
			if !isMap || !fieldPresent(coding, "code") {
				out.Add(fq.Error(fq.AspectMetadata, "invalid-meta-coding").
					Message(fmt.Sprintf("meta.%s entries must be codings with a code", field)).
					At(fmt.Sprintf("meta.%s[%d]", field, i)).
					Build())
			}
		}
	}
}

func (m *Metadata) checkNarrative(resource map[string]any, out *fq.AspectOutcome) {
	text, ok := mapField(resource, "text")
	if !ok {
		return
	}

	status, _ := stringField(text, "status")
	if _, known := narrativeStatuses[status]; !known {
		out.Add(fq.Error(fq.AspectMetadata, "invalid-narrative-status").
			Message(fmt.Sprintf("text.status %q is not a valid narrative status", status)).
			At("text.status").
			Suggest("use one of: generated, extensions, additional, empty").
			Build())
	}

	if div, _ := stringField(text, "div"); strings.TrimSpace(div) == "" {
		out.Add(fq.Warning(fq.AspectMetadata, "empty-narrative-div").
			Message("narrative has no div content").
			At("text.div").
			Build())
	}
}

func (m *Metadata) checkExtensions(resource map[string]any, out *fq.AspectOutcome) {
	for _, ext := range walker.CollectExtensions(resource) {
		if !isAbsoluteURI(ext.URL) {
			out.Add(fq.Error(fq.AspectMetadata, "extension-missing-url").
				Message("extension must declare a canonical url").
				At(ext.Path).
				Build())
			continue
		}

		if !extensionHasContent(ext.Node) {
			out.Add(fq.Error(fq.AspectMetadata, "extension-empty").
				Message(fmt.Sprintf("extension %s has neither a value nor nested extensions", ext.URL)).
				At(ext.Path).
				Build())
		}
	}
}

func (m *Metadata) checkDeprecated(resourceType string, resource map[string]any, out *fq.AspectOutcome) {
	for _, field := range deprecatedFields[resourceType] {
		if _, present := resource[field]; present {
			out.Add(fq.Warning(fq.AspectMetadata, "deprecated-element").
				Message(fmt.Sprintf("%s.%s was removed from the resource definition", resourceType, field)).
				At(field).
				Suggest("migrate the data to its replacement element").
				Build())
		}
	}
}

// extensionHasContent reports whether the extension node carries a
// value[x] or nested extensions.
func extensionHasContent(node map[string]any) bool {
	for key := range node {
		if strings.HasPrefix(key, "value") {
			return true
		}
	}
	if nested, ok := node["extension"].([]any); ok && len(nested) > 0 {
		return true
	}
	return false
}
