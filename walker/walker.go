// Package walker provides generic recursive traversal over JSON-like
// resource trees (map[string]any / []any), with dot/bracket element
// paths and collectors for the node kinds the validation aspects care
// about: codings, references and extensions.
package walker

import (
	"sort"
	"strconv"
	"strings"

	"github.com/gofhir/quality/pool"
)

// Node is a single visited node during a walk.
type Node struct {
	// Key is the object key or "[i]" segment that led here ("" at root).
	Key string

	// Path is the full dot/bracket path from the root, e.g.
	// "name[0].given". Empty at the root.
	Path string

	// Value is the raw node value.
	Value any

	// Depth is 0 at the root.
	Depth int
}

// VisitorFunc is called for each node during a walk.
// Returning false stops descent into the node's children (the walk
// itself continues with siblings).
type VisitorFunc func(n Node) bool

// Walk traverses value depth-first, calling visitor for every node
// including the root. Object keys are visited in sorted order and
// array elements in index order, so issue ordering within one aspect
// is stable across runs.
func Walk(value any, visitor VisitorFunc) {
	pb := pool.AcquirePathBuilder()
	defer pb.Release()
	walk(value, "", pb, 0, visitor)
}

func walk(value any, key string, pb *pool.PathBuilder, depth int, visitor VisitorFunc) {
	n := Node{Key: key, Path: pb.String(), Value: value, Depth: depth}
	if !visitor(n) {
		return
	}

	switch v := value.(type) {
	case map[string]any:
		keysPtr := pool.AcquireStringSlice()
		keys := *keysPtr
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			mark := pb.Len()
			pb.AppendWithDot(k)
			walk(v[k], k, pb, depth+1, visitor)
			pb.Truncate(mark)
		}
		*keysPtr = keys
		pool.ReleaseStringSlice(keysPtr)
	case []any:
		for i, child := range v {
			mark := pb.Len()
			pb.AppendIndex(i)
			walk(child, "["+strconv.Itoa(i)+"]", pb, depth+1, visitor)
			pb.Truncate(mark)
		}
	}
}

// GetPath looks up a dotted path on a resource map, e.g. "meta.profile"
// or "name.family". Array nodes are traversed by taking every element:
// the lookup succeeds if any element carries the remaining path.
// Returns the first matching value.
func GetPath(resource map[string]any, path string) (any, bool) {
	return getPath(any(resource), path)
}

func getPath(current any, path string) (any, bool) {
	if path == "" {
		return current, true
	}

	head := path
	rest := ""
	if i := strings.IndexByte(path, '.'); i >= 0 {
		head, rest = path[:i], path[i+1:]
	}

	switch v := current.(type) {
	case map[string]any:
		child, ok := v[head]
		if !ok {
			return nil, false
		}
		return getPath(child, rest)
	case []any:
		for _, elem := range v {
			if found, ok := getPath(elem, path); ok {
				return found, ok
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// HasPath reports whether the dotted path is present on the resource.
// The first segment is expected to be a resource field, not the
// resource type: callers resolving StructureDefinition element paths
// should strip the root segment first (see StripRoot).
func HasPath(resource map[string]any, path string) bool {
	_, ok := GetPath(resource, path)
	return ok
}

// StripRoot removes the leading segment of a StructureDefinition element
// path ("Patient.name.given" -> "name.given"). Returns "" when the path
// has no remainder.
func StripRoot(elementPath string) string {
	if i := strings.IndexByte(elementPath, '.'); i >= 0 {
		return elementPath[i+1:]
	}
	return ""
}
