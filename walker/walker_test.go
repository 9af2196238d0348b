package walker

import (
	"sort"
	"testing"
)

func patientFixture() map[string]any {
	return map[string]any{
		"resourceType": "Patient",
		"id":           "p1",
		"name": []any{
			map[string]any{
				"family": "Chalmers",
				"given":  []any{"Peter", "James"},
			},
		},
		"maritalStatus": map[string]any{
			"coding": []any{
				map[string]any{
					"system":  "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus",
					"code":    "M",
					"display": "Married",
				},
			},
		},
		"generalPractitioner": []any{
			map[string]any{"reference": "Practitioner/gp-1"},
		},
	}
}

func TestWalkVisitsAllNodesWithPaths(t *testing.T) {
	paths := make(map[string]bool)
	Walk(patientFixture(), func(n Node) bool {
		paths[n.Path] = true
		return true
	})

	for _, want := range []string{
		"", // root
		"id",
		"name[0].family",
		"name[0].given[1]",
		"maritalStatus.coding[0].code",
		"generalPractitioner[0].reference",
	} {
		if !paths[want] {
			t.Errorf("path %q not visited", want)
		}
	}
}

func TestWalkStopDescent(t *testing.T) {
	visited := 0
	Walk(patientFixture(), func(n Node) bool {
		visited++
		return n.Depth == 0 // only descend one level
	})

	// root + its five direct children, nothing deeper
	if visited != 6 {
		t.Errorf("visited %d nodes; want 6", visited)
	}
}

func TestGetPath(t *testing.T) {
	resource := patientFixture()

	tests := []struct {
		path string
		ok   bool
	}{
		{"id", true},
		{"name", true},
		{"name.family", true},      // array traversal
		{"name.given", true},
		{"maritalStatus.coding", true},
		{"name.suffix", false},
		{"deceasedBoolean", false},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if _, ok := GetPath(resource, tt.path); ok != tt.ok {
				t.Errorf("GetPath(%q) ok = %v; want %v", tt.path, ok, tt.ok)
			}
		})
	}
}

func TestStripRoot(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Patient.name.given", "name.given"},
		{"Observation.status", "status"},
		{"Patient", ""},
	}
	for _, tt := range tests {
		if got := StripRoot(tt.in); got != tt.want {
			t.Errorf("StripRoot(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollectCodings(t *testing.T) {
	codings := CollectCodings(patientFixture())

	if len(codings) != 1 {
		t.Fatalf("got %d codings; want 1", len(codings))
	}
	c := codings[0]
	if c.Code != "M" || c.Display != "Married" {
		t.Errorf("coding = %+v; want code M display Married", c)
	}
	if c.Path != "maritalStatus.coding[0]" {
		t.Errorf("coding path = %q; want maritalStatus.coding[0]", c.Path)
	}
}

func TestCollectCodingsBarePair(t *testing.T) {
	resource := map[string]any{
		"resourceType": "Observation",
		"valueQuantity": map[string]any{
			"system": "http://unitsofmeasure.org",
			"code":   "mm[Hg]",
		},
	}

	codings := CollectCodings(resource)
	if len(codings) != 1 {
		t.Fatalf("got %d codings; want 1", len(codings))
	}
	if codings[0].System != "http://unitsofmeasure.org" {
		t.Errorf("system = %q", codings[0].System)
	}
}

func TestCollectReferences(t *testing.T) {
	resource := map[string]any{
		"resourceType": "Observation",
		"subject":      map[string]any{"reference": "Patient/p1"},
		"performer": []any{
			map[string]any{"reference": "Practitioner/dr-1"},
		},
		"encounter": "Encounter/e1", // malformed bare string still found
	}

	refs := CollectReferences(resource)

	var values []string
	for _, r := range refs {
		values = append(values, r.Value)
	}
	sort.Strings(values)

	want := []string{"Encounter/e1", "Patient/p1", "Practitioner/dr-1"}
	if len(values) != len(want) {
		t.Fatalf("got %d references (%v); want %d", len(values), values, len(want))
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("references[%d] = %q; want %q", i, values[i], want[i])
		}
	}
}

func TestCollectExtensions(t *testing.T) {
	resource := map[string]any{
		"resourceType": "Patient",
		"extension": []any{
			map[string]any{
				"url":         "http://example.org/fhir/StructureDefinition/importance",
				"valueString": "high",
			},
		},
		"modifierExtension": []any{
			map[string]any{
				"url": "http://example.org/fhir/StructureDefinition/do-not-resuscitate",
			},
		},
	}

	exts := CollectExtensions(resource)
	if len(exts) != 2 {
		t.Fatalf("got %d extensions; want 2", len(exts))
	}

	modifiers := 0
	for _, e := range exts {
		if e.Modifier {
			modifiers++
		}
		if e.URL == "" && e.Node == nil {
			t.Error("extension with no url and no node")
		}
	}
	if modifiers != 1 {
		t.Errorf("got %d modifier extensions; want 1", modifiers)
	}
}

func TestWalkOrderIsDeterministic(t *testing.T) {
	resource := patientFixture()

	visitOrder := func() []string {
		var paths []string
		Walk(resource, func(n Node) bool {
			paths = append(paths, n.Path)
			return true
		})
		return paths
	}

	first := visitOrder()
	for i := 0; i < 10; i++ {
		again := visitOrder()
		if len(again) != len(first) {
			t.Fatalf("walk %d visited %d nodes, first visited %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("walk %d diverged at step %d: %q vs %q", i, j, again[j], first[j])
			}
		}
	}

	// Sibling keys come out sorted.
	var topLevel []string
	Walk(resource, func(n Node) bool {
		if n.Depth == 1 {
			topLevel = append(topLevel, n.Key)
		}
		return n.Depth < 1
	})
	if !sort.StringsAreSorted(topLevel) {
		t.Errorf("top-level keys not sorted: %v", topLevel)
	}
}
