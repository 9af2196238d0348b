// Package engine provides the top-level validation facade. It wires
// the aspect pipeline to the active settings record, the profile and
// terminology collaborators and the administrator-defined rules, and
// guarantees callers always get a complete scored result.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/aspect"
	"github.com/gofhir/quality/pipeline"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/settings"
)

// defaultWorkers bounds ValidateBatch concurrency when no worker count
// is configured.
const defaultWorkers = 4

// RuleEvaluator evaluates administrator-defined rules against a
// resource. Implemented by the rules service.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, resourceType string, resource map[string]any) ([]fq.Issue, error)
}

// Engine is the main resource validator. It coordinates the aspect
// pipeline and manages collaborator services.
type Engine struct {
	pipe    *pipeline.Pipeline
	metrics *fq.Metrics
	logger  zerolog.Logger
	options *fq.Options

	settings    *settings.Service
	rules       RuleEvaluator
	profiles    service.ProfileResolver
	terminology service.CodeValidator
	client      service.ResourceClient
	resources   service.ResourceFinder

	// The active collaborators are derived from the settings record and
	// swapped on settings events; profiles and terminology above are
	// the bootstrap fallbacks.
	collabMu          sync.RWMutex
	activeProfiles    service.ProfileResolver
	activeTerminology service.CodeValidator

	workerCount    int
	workerPool     chan struct{}
	workerPoolOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings attaches the settings service. Without it the engine
// runs every aspect with external checks disabled.
func WithSettings(s *settings.Service) Option {
	return func(e *Engine) { e.settings = s }
}

// WithOptions sets static validation options used when no settings
// service is attached (or before one is loaded). The active settings
// record takes precedence once available.
func WithOptions(o *fq.Options) Option {
	return func(e *Engine) { e.options = o }
}

// WithRules attaches the administrator-defined rule evaluator.
func WithRules(r RuleEvaluator) Option {
	return func(e *Engine) { e.rules = r }
}

// WithProfileResolver attaches the profile resolver. The engine wraps
// it with an LRU cache sized from the active settings.
func WithProfileResolver(r service.ProfileResolver) Option {
	return func(e *Engine) { e.profiles = r }
}

// WithTerminology attaches the external code validator.
func WithTerminology(v service.CodeValidator) Option {
	return func(e *Engine) { e.terminology = v }
}

// WithFHIRClient attaches the external FHIR server client.
func WithFHIRClient(c service.ResourceClient) Option {
	return func(e *Engine) { e.client = c }
}

// WithResourceFinder attaches local resource storage for reference
// existence checks.
func WithResourceFinder(f service.ResourceFinder) Option {
	return func(e *Engine) { e.resources = f }
}

// WithWorkerCount sets ValidateBatch concurrency.
func WithWorkerCount(n int) Option {
	return func(e *Engine) { e.workerCount = n }
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine running all six validation aspects.
func New(opts ...Option) *Engine {
	e := &Engine{
		metrics: fq.NewMetrics(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workerCount <= 0 {
		e.workerCount = defaultWorkers
		if e.options != nil && e.options.WorkerCount > 0 {
			e.workerCount = e.options.WorkerCount
		}
	}

	validators := make([]pipeline.AspectValidator, 0, len(fq.Aspects))
	for _, v := range aspect.All() {
		validators = append(validators, v)
	}
	e.pipe = pipeline.New(validators...)
	e.pipe.SetMetrics(e.metrics)

	e.rebuildCollaborators()
	return e
}

// Initialize loads the active settings and derives the profile and
// terminology collaborators from them. Call once before validating;
// later settings changes rebuild the collaborators through the event
// subscription.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.settings != nil {
		if err := e.settings.Load(ctx); err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		e.settings.Subscribe(settings.SubscriberFunc(func(ev settings.Event) {
			switch ev.Type {
			case settings.EventActivated, settings.EventUpdated,
				settings.EventServerChanged, settings.EventRestored:
				e.rebuildCollaborators()
			}
		}))
	}
	e.rebuildCollaborators()

	if e.client != nil {
		status := e.client.TestConnection(ctx)
		e.logger.Info().
			Bool("connected", status.Connected).
			Str("version", status.Version).
			Msg("fhir server connection tested")
	}
	return nil
}

// Close releases resources held by the engine.
func (e *Engine) Close() error {
	return nil
}

// Validate validates a raw JSON resource. The returned result is
// always complete: a resource that cannot even be parsed yields a
// single error issue and score 0.
func (e *Engine) Validate(ctx context.Context, resource []byte) *fq.Result {
	start := time.Now()

	var resourceMap map[string]any
	if err := json.Unmarshal(resource, &resourceMap); err != nil {
		result := fq.NewResult("", "")
		result.AddIssue(fq.Error(fq.AspectStructural, "invalid-json").
			Message(fmt.Sprintf("resource is not valid JSON: %v", err)).
			Build())
		result.Score = 0
		result.Valid = false
		result.ValidatedAt = time.Now().UTC()
		e.metrics.RecordValidation(time.Since(start), false)
		return result
	}

	return e.ValidateMap(ctx, resourceMap)
}

// ValidateMap validates an already-parsed resource.
func (e *Engine) ValidateMap(ctx context.Context, resourceMap map[string]any) *fq.Result {
	pctx := pipeline.AcquireContext()
	defer pctx.Release()

	pctx.ResourceMap = resourceMap
	pctx.ResourceType, _ = resourceMap["resourceType"].(string)
	pctx.ResourceID, _ = resourceMap["id"].(string)
	pctx.Options = e.activeOptions()
	e.collabMu.RLock()
	pctx.Profiles = e.activeProfiles
	pctx.Terminology = e.activeTerminology
	e.collabMu.RUnlock()
	pctx.Client = e.client
	pctx.Resources = e.resources

	result := e.pipe.Execute(ctx, pctx)
	pctx.Result = nil // the result outlives the pooled context

	e.applyRules(ctx, result, resourceMap)
	return result
}

// applyRules evaluates administrator-defined rules and merges their
// violations into the business-rule outcome. Skipped when the pipeline
// itself failed, so the single engine-error issue stays authoritative.
func (e *Engine) applyRules(ctx context.Context, result *fq.Result, resourceMap map[string]any) {
	if e.rules == nil || result.ResourceType == "" {
		return
	}
	for _, issue := range result.Issues {
		if issue.Code == "validation-engine-error" {
			return
		}
	}

	issues, err := e.rules.EvaluateAll(ctx, result.ResourceType, resourceMap)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("resourceType", result.ResourceType).
			Msg("some custom rules failed to evaluate")
	}
	result.AppendToOutcome(fq.AspectBusinessRule, issues)
}

// ValidateBatch validates multiple resources in parallel, bounded by
// the configured worker count. Result order matches input order.
func (e *Engine) ValidateBatch(ctx context.Context, resources [][]byte) []*fq.Result {
	results := make([]*fq.Result, len(resources))

	e.workerPoolOnce.Do(func() {
		workers := e.workerCount
		if workers <= 0 {
			workers = defaultWorkers
		}
		e.workerPool = make(chan struct{}, workers)
	})

	var wg sync.WaitGroup
	for i, resource := range resources {
		wg.Add(1)
		go func(idx int, res []byte) {
			defer wg.Done()

			e.workerPool <- struct{}{}
			defer func() { <-e.workerPool }()

			results[idx] = e.Validate(ctx, res)
		}(i, resource)
	}

	wg.Wait()
	return results
}

// activeOptions derives pipeline options from the active settings
// record, falling back to the static options and finally to
// everything-enabled defaults.
func (e *Engine) activeOptions() *pipeline.Options {
	var active *settings.Settings
	if e.settings != nil {
		active = e.settings.Active()
	}
	if active == nil {
		if e.options != nil {
			return pipelineOptions(e.options)
		}
		return pipeline.DefaultContextOptions()
	}

	return &pipeline.Options{
		Structural:          active.AspectEnabled(fq.AspectStructural),
		Profile:             active.AspectEnabled(fq.AspectProfile),
		Terminology:         active.AspectEnabled(fq.AspectTerminology),
		Reference:           active.AspectEnabled(fq.AspectReference),
		BusinessRule:        active.AspectEnabled(fq.AspectBusinessRule),
		Metadata:            active.AspectEnabled(fq.AspectMetadata),
		ExternalTerminology: active.ExternalTerminology,
		ExternalReferences:  active.ExternalReferences,
	}
}

// pipelineOptions converts static validation options to per-call
// pipeline options.
func pipelineOptions(o *fq.Options) *pipeline.Options {
	return &pipeline.Options{
		Structural:          o.ValidateStructural,
		Profile:             o.ValidateProfile,
		Terminology:         o.ValidateTerminology,
		Reference:           o.ValidateReferences,
		BusinessRule:        o.ValidateBusinessRule,
		Metadata:            o.ValidateMetadata,
		ExternalTerminology: o.ExternalTerminology,
		ExternalReferences:  o.ExternalReferences,
	}
}

// profileCacheConfig reads cache sizing from the active settings,
// falling back to the static options.
func (e *Engine) profileCacheConfig() (size int, ttl time.Duration) {
	size, ttl = 256, 10*time.Minute
	if e.options != nil && e.options.ProfileCacheSize > 0 {
		size = e.options.ProfileCacheSize
	}
	if e.settings == nil {
		return size, ttl
	}
	if active := e.settings.Active(); active != nil {
		if active.CacheSize > 0 {
			size = active.CacheSize
		}
		if active.CacheTTL > 0 {
			ttl = active.CacheTTL
		}
	}
	return size, ttl
}

// Metrics returns the engine's metrics collector.
func (e *Engine) Metrics() *fq.Metrics {
	return e.metrics
}
