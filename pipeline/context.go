// Package pipeline provides the multi-aspect validation pipeline.
//
// A Context carries one resource through the enabled aspects in fixed
// order; the Pipeline merges each AspectOutcome into a scored Result.
package pipeline

import (
	"sync"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/service"
)

// Context holds all state needed during validation of a single resource.
// It is passed through all aspect validators and provides shared access
// to the resource data, collaborators and accumulated results.
//
// Context instances are pooled. Use AcquireContext() and Release().
type Context struct {
	// Resource is the raw JSON resource being validated.
	Resource []byte

	// ResourceMap is the parsed resource as a map.
	ResourceMap map[string]any

	// ResourceType is the FHIR resource type (e.g. "Patient").
	ResourceType string

	// ResourceID is the resource id if present.
	ResourceID string

	// Result accumulates merged aspect outcomes.
	Result *fq.Result

	// Options controls which aspects run and how.
	Options *Options

	// Profiles resolves canonical profile URLs (may be nil).
	Profiles service.ProfileResolver

	// Terminology checks code existence externally (may be nil).
	Terminology service.CodeValidator

	// Client is the external FHIR server (may be nil).
	Client service.ResourceClient

	// Resources finds resources in local storage (may be nil).
	Resources service.ResourceFinder

	// visited tracks reference targets on the active descent path for
	// circular-reference detection. Push before descending, pop after.
	visited map[string]struct{}

	mu sync.Mutex
}

// Options holds the per-run validation configuration the aspects read.
// The engine derives it from the active ValidationSettings record.
type Options struct {
	Structural   bool
	Profile      bool
	Terminology  bool
	Reference    bool
	BusinessRule bool
	Metadata     bool

	// ExternalTerminology enables the external code existence check.
	ExternalTerminology bool

	// ExternalReferences enables existence checks against the server.
	ExternalReferences bool
}

// DefaultContextOptions enables all aspects and no external calls.
func DefaultContextOptions() *Options {
	return &Options{
		Structural:   true,
		Profile:      true,
		Terminology:  true,
		Reference:    true,
		BusinessRule: true,
		Metadata:     true,
	}
}

// AspectEnabled reports whether the given aspect should run.
func (o *Options) AspectEnabled(aspect fq.Aspect) bool {
	if o == nil {
		return true
	}
	switch aspect {
	case fq.AspectStructural:
		return o.Structural
	case fq.AspectProfile:
		return o.Profile
	case fq.AspectTerminology:
		return o.Terminology
	case fq.AspectReference:
		return o.Reference
	case fq.AspectBusinessRule:
		return o.BusinessRule
	case fq.AspectMetadata:
		return o.Metadata
	default:
		return false
	}
}

// contextPool holds reusable Context instances.
var contextPool = sync.Pool{
	New: func() any {
		return &Context{
			visited: make(map[string]struct{}, 8),
		}
	},
}

// AcquireContext gets a Context from the pool.
// Call Release() when done to return it to the pool.
func AcquireContext() *Context {
	ctx := contextPool.Get().(*Context)
	ctx.Reset()
	return ctx
}

// Release returns the Context to the pool.
// After calling Release, the Context should not be used.
func (c *Context) Release() {
	if c == nil {
		return
	}
	if len(c.visited) <= 256 {
		contextPool.Put(c)
	}
}

// Reset clears the context for reuse.
func (c *Context) Reset() {
	c.Resource = nil
	c.ResourceMap = nil
	c.ResourceType = ""
	c.ResourceID = ""
	c.Result = nil
	c.Options = nil
	c.Profiles = nil
	c.Terminology = nil
	c.Client = nil
	c.Resources = nil
	for k := range c.visited {
		delete(c.visited, k)
	}
}

// PushVisited marks a reference target as being on the active descent
// path. Returns false if the target is already on the path, i.e. a
// circular reference.
func (c *Context) PushVisited(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, on := c.visited[target]; on {
		return false
	}
	c.visited[target] = struct{}{}
	return true
}

// PopVisited removes a reference target from the active descent path.
func (c *Context) PopVisited(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.visited, target)
}

// SeedVisited pre-marks a target as on-path, used when validating
// resource graphs together so mutual references surface as circular.
func (c *Context) SeedVisited(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visited[target] = struct{}{}
}

// GetField returns a top-level field value from the resource map.
func (c *Context) GetField(field string) (any, bool) {
	if c.ResourceMap == nil {
		return nil, false
	}
	v, ok := c.ResourceMap[field]
	return v, ok
}

// NewContext creates a new Context (non-pooled).
// Prefer AcquireContext() for better performance.
func NewContext() *Context {
	return &Context{
		visited: make(map[string]struct{}, 8),
	}
}
