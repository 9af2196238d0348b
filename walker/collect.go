package walker

import "strconv"

// Coding is a (system, code, display) triple found in the resource tree.
type Coding struct {
	System  string
	Code    string
	Display string
	Path    string
}

// Reference is a reference string found in the resource tree.
type Reference struct {
	Value string
	Path  string
}

// Extension is an extension node found in the resource tree.
type Extension struct {
	URL      string
	Node     map[string]any
	Path     string
	Modifier bool
}

// CollectCodings walks the resource and returns every coding-shaped
// node: elements of `coding` arrays inside CodeableConcept-style
// objects, plus bare {system, code} pairs.
func CollectCodings(resource map[string]any) []Coding {
	var codings []Coding
	seen := make(map[string]struct{})

	Walk(resource, func(n Node) bool {
		obj, ok := n.Value.(map[string]any)
		if !ok {
			return true
		}

		// CodeableConcept-style: {coding: [{system, code, display}, ...]}
		if arr, ok := obj["coding"].([]any); ok {
			for i, elem := range arr {
				c, ok := elem.(map[string]any)
				if !ok {
					continue
				}
				coding := codingFrom(c, childPath(n.Path, "coding", i))
				if coding.System != "" || coding.Code != "" {
					if _, dup := seen[coding.Path]; !dup {
						seen[coding.Path] = struct{}{}
						codings = append(codings, coding)
					}
				}
			}
			return true
		}

		// Bare {system, code} pair outside a coding array
		_, hasSystem := obj["system"].(string)
		_, hasCode := obj["code"].(string)
		if hasSystem && hasCode {
			coding := codingFrom(obj, n.Path)
			if _, dup := seen[coding.Path]; !dup {
				seen[coding.Path] = struct{}{}
				codings = append(codings, coding)
			}
			return false
		}

		return true
	})

	return codings
}

func codingFrom(obj map[string]any, path string) Coding {
	c := Coding{Path: path}
	c.System, _ = obj["system"].(string)
	c.Code, _ = obj["code"].(string)
	c.Display, _ = obj["display"].(string)
	return c
}

// wellKnownReferenceFields are resource fields that carry references but
// may appear without a nested {reference} wrapper in malformed data.
// Kept sorted so collection order is deterministic.
var wellKnownReferenceFields = []string{
	"asserter",
	"author",
	"basedOn",
	"encounter",
	"generalPractitioner",
	"managingOrganization",
	"partOf",
	"patient",
	"performer",
	"recorder",
	"requester",
	"serviceProvider",
	"subject",
}

// CollectReferences walks the resource and returns every reference
// string: generic {reference: "..."} objects anywhere in the tree plus
// string values of well-known reference-bearing fields.
func CollectReferences(resource map[string]any) []Reference {
	var refs []Reference

	Walk(resource, func(n Node) bool {
		obj, ok := n.Value.(map[string]any)
		if !ok {
			return true
		}

		if ref, ok := obj["reference"].(string); ok {
			refs = append(refs, Reference{Value: ref, Path: joinPath(n.Path, "reference")})
		}

		for _, field := range wellKnownReferenceFields {
			if s, ok := obj[field].(string); ok && s != "" {
				refs = append(refs, Reference{Value: s, Path: joinPath(n.Path, field)})
			}
		}

		return true
	})

	return refs
}

// CollectExtensions walks the resource and returns every element of
// `extension` and `modifierExtension` arrays.
func CollectExtensions(resource map[string]any) []Extension {
	var exts []Extension

	Walk(resource, func(n Node) bool {
		obj, ok := n.Value.(map[string]any)
		if !ok {
			return true
		}

		for _, field := range []string{"extension", "modifierExtension"} {
			arr, ok := obj[field].([]any)
			if !ok {
				continue
			}
			for i, elem := range arr {
				node, ok := elem.(map[string]any)
				if !ok {
					continue
				}
				url, _ := node["url"].(string)
				exts = append(exts, Extension{
					URL:      url,
					Node:     node,
					Path:     childPath(n.Path, field, i),
					Modifier: field == "modifierExtension",
				})
			}
		}
		return true
	})

	return exts
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func childPath(base, key string, index int) string {
	return joinPath(base, key) + "[" + strconv.Itoa(index) + "]"
}
