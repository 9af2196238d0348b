package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/storage"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// Default batch geometry. A page of resources is fetched per batch and
// validated in concurrent sub-batches of the smaller width.
const (
	DefaultBatchSize    = 1000
	DefaultSubBatchSize = 50
)

var (
	// ErrAlreadyRunning is returned when Run is called while a run is
	// in progress or paused.
	ErrAlreadyRunning = errors.New("bulk validation already running")

	// ErrNotPaused is returned when Resume is called without a paused
	// run to continue.
	ErrNotPaused = errors.New("no paused bulk validation to resume")
)

// Validator validates one parsed resource. Implemented by the engine.
type Validator interface {
	ValidateMap(ctx context.Context, resource map[string]any) *fq.Result
}

// resumePoint records where a paused run re-enters the loop.
type resumePoint struct {
	typeIndex int
	offset    int
}

// Orchestrator drives population-wide validation runs against an
// external FHIR server.
type Orchestrator struct {
	client  service.ResourceClient
	engine  Validator
	results storage.ResultStore
	logger  zerolog.Logger
	metrics *fq.Metrics

	types         []string
	batchSize     int
	subBatchSize  int
	skipUnchanged bool
	force         bool
	onProgress    func(Progress)

	mu       sync.Mutex
	state    State
	progress *Progress
	resume   resumePoint

	pauseRequested bool
	stopRequested  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResultStore enables result persistence and skip-unchanged
// detection.
func WithResultStore(s storage.ResultStore) Option {
	return func(o *Orchestrator) { o.results = s }
}

// WithResourceTypes restricts the run to the given types, in order.
func WithResourceTypes(types []string) Option {
	return func(o *Orchestrator) { o.types = types }
}

// WithBatchSize sets the page size fetched per search request.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) { o.batchSize = n }
}

// WithSubBatchSize sets the concurrent validation width within a page.
func WithSubBatchSize(n int) Option {
	return func(o *Orchestrator) { o.subBatchSize = n }
}

// WithSkipUnchanged skips resources whose structural hash matches
// their latest stored result.
func WithSkipUnchanged(skip bool) Option {
	return func(o *Orchestrator) { o.skipUnchanged = skip }
}

// WithForce revalidates everything regardless of stored hashes.
func WithForce(force bool) Option {
	return func(o *Orchestrator) { o.force = force }
}

// WithProgressCallback invokes fn with a progress copy after every
// sub-batch.
func WithProgressCallback(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// WithMetrics attaches a metrics collector for skip counting.
func WithMetrics(m *fq.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the orchestrator logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an idle orchestrator over the given server client and
// validator.
func New(client service.ResourceClient, engine Validator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		engine:       engine,
		logger:       zerolog.Nop(),
		types:        DefaultResourceTypes,
		batchSize:    DefaultBatchSize,
		subBatchSize: DefaultSubBatchSize,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.subBatchSize <= 0 {
		o.subBatchSize = DefaultSubBatchSize
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CurrentProgress returns a copy of the live progress, or nil when no
// run is active or paused.
func (o *Orchestrator) CurrentProgress() *Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress == nil {
		return nil
	}
	p := o.progress.snapshot()
	return &p
}

// Run validates every configured resource type from the beginning.
// It returns the final progress, or nil when the run was stopped. A
// paused run returns the progress as of the pause; call Resume to
// continue it.
func (o *Orchestrator) Run(ctx context.Context) (*Progress, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.state = StateRunning
	o.pauseRequested = false
	o.stopRequested = false
	o.progress = &Progress{StartTime: time.Now().UTC()}
	o.resume = resumePoint{}
	o.mu.Unlock()

	o.logger.Info().Int("types", len(o.types)).Msg("bulk validation started")
	o.countTotal(ctx)
	return o.run(ctx)
}

// Resume continues a paused run from its recorded resume point. The
// remaining type counts are refreshed so the total reflects changes
// made while paused.
func (o *Orchestrator) Resume(ctx context.Context) (*Progress, error) {
	o.mu.Lock()
	if o.state != StatePaused {
		o.mu.Unlock()
		return nil, ErrNotPaused
	}
	o.state = StateRunning
	o.pauseRequested = false
	o.mu.Unlock()

	o.logger.Info().Msg("bulk validation resumed")
	o.recountRemaining(ctx)
	return o.run(ctx)
}

// Pause requests a pause. The in-flight sub-batch completes before the
// loop records its resume point; no-op unless running.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		o.pauseRequested = true
	}
}

// Stop cancels the run and discards progress. Unlike Pause this is
// irreversible; a later Run starts from scratch.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateRunning:
		o.state = StateStopping
		o.stopRequested = true
	case StatePaused:
		o.state = StateIdle
		o.progress = nil
		o.resume = resumePoint{}
	}
}

// run executes the type loop from the current resume point.
func (o *Orchestrator) run(ctx context.Context) (*Progress, error) {
	o.mu.Lock()
	start := o.resume
	o.mu.Unlock()

	for ti := start.typeIndex; ti < len(o.types); ti++ {
		resourceType := o.types[ti]

		if halted, p := o.checkControl(ti, 0); halted {
			return p, nil
		}

		o.withProgress(func(p *Progress) { p.CurrentResourceType = resourceType })

		offset := 0
		if ti == start.typeIndex {
			offset = start.offset
		}

		if halted, p, err := o.runType(ctx, ti, resourceType, offset); halted {
			return p, err
		}
	}

	return o.complete()
}

// runType pages through one resource type. The returned halted flag is
// true when a pause or stop interrupted the loop.
func (o *Orchestrator) runType(ctx context.Context, typeIndex int, resourceType string, offset int) (bool, *Progress, error) {
	for {
		page, err := o.client.SearchResources(ctx, resourceType, nil, o.batchSize, offset)
		if err != nil {
			// Per-type isolation: log and move to the next type.
			o.withProgress(func(p *Progress) {
				p.recordError(fmt.Sprintf("%s: fetching page at offset %d: %v", resourceType, offset, err))
			})
			o.logger.Warn().Err(err).Str("resourceType", resourceType).Msg("page fetch failed")
			return false, nil, nil
		}
		if len(page.Entries) == 0 {
			return false, nil, nil
		}

		for s := 0; s < len(page.Entries); s += o.subBatchSize {
			end := min(s+o.subBatchSize, len(page.Entries))
			o.runSubBatch(ctx, resourceType, page.Entries[s:end])

			if halted, p := o.checkControl(typeIndex, offset+end); halted {
				return true, p, nil
			}
		}

		offset += len(page.Entries)
		if len(page.Entries) < o.batchSize {
			return false, nil, nil
		}
	}
}

// runSubBatch validates a slice of resources concurrently and applies
// the aggregate to the progress object.
func (o *Orchestrator) runSubBatch(ctx context.Context, resourceType string, entries []map[string]any) {
	var (
		mu       sync.Mutex
		valid    int
		failed   int
		skipped  int
		messages []string
	)

	g := new(errgroup.Group)
	g.SetLimit(o.subBatchSize)
	for _, entry := range entries {
		resource := entry
		g.Go(func() error {
			ok, wasSkipped, err := o.validateOne(ctx, resourceType, resource)

			mu.Lock()
			defer mu.Unlock()
			if wasSkipped {
				skipped++
			}
			switch {
			case err != nil:
				failed++
				messages = append(messages, err.Error())
			case ok:
				valid++
			default:
				failed++
			}
			return nil
		})
	}
	g.Wait()

	now := time.Now().UTC()
	o.withProgress(func(p *Progress) {
		p.ProcessedResources += len(entries)
		p.ValidResources += valid
		p.ErrorResources += failed
		p.SkippedResources += skipped
		p.Errors = append(p.Errors, messages...)
		p.updateEstimate(now)
		p.clamp()
	})
	o.publishProgress()
}

// validateOne validates a single resource with full isolation: any
// failure is reported as an error string, never a panic or abort.
func (o *Orchestrator) validateOne(ctx context.Context, resourceType string, resource map[string]any) (valid, skipped bool, failure error) {
	id, _ := resource["id"].(string)
	defer func() {
		if r := recover(); r != nil {
			valid, skipped = false, false
			failure = fmt.Errorf("%s/%s: panic during validation: %v", resourceType, id, r)
		}
	}()

	hash := StableHash(resource)

	if o.skipUnchanged && !o.force && o.results != nil && id != "" {
		prior, err := o.results.LatestResult(ctx, resourceType, id)
		if err == nil && prior.Hash == hash {
			if o.metrics != nil {
				o.metrics.RecordSkipped()
			}
			return prior.Result.Valid, true, nil
		}
	}

	result := o.engine.ValidateMap(ctx, resource)

	if o.results != nil && id != "" {
		rec := storage.ResultRecord{
			ResourceType:    resourceType,
			ResourceID:      id,
			Hash:            hash,
			Result:          result,
			ContinuousScore: fq.ContinuousScore(result.Issues),
			StoredAt:        time.Now().UTC(),
		}
		if err := o.results.SaveResult(ctx, rec); err != nil {
			return result.Valid, false, fmt.Errorf("%s/%s: saving result: %w", resourceType, id, err)
		}
	}

	return result.Valid, false, nil
}

// checkControl honors pause and stop requests. On pause the resume
// point is recorded and the paused progress returned; on stop all
// progress is discarded.
func (o *Orchestrator) checkControl(typeIndex, offset int) (bool, *Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.stopRequested:
		o.state = StateIdle
		o.progress = nil
		o.resume = resumePoint{}
		o.logger.Info().Msg("bulk validation stopped")
		return true, nil
	case o.pauseRequested:
		o.state = StatePaused
		o.resume = resumePoint{typeIndex: typeIndex, offset: offset}
		p := o.progress.snapshot()
		o.logger.Info().
			Str("resourceType", o.types[typeIndex]).
			Int("offset", offset).
			Msg("bulk validation paused")
		return true, &p
	}
	return false, nil
}

// complete marks the run finished and returns to idle.
func (o *Orchestrator) complete() (*Progress, error) {
	o.mu.Lock()
	o.progress.IsComplete = true
	o.progress.CurrentResourceType = ""
	o.progress.EstimatedRemaining = 0
	final := o.progress.snapshot()
	o.progress = nil
	o.state = StateIdle
	o.resume = resumePoint{}
	cb := o.onProgress
	o.mu.Unlock()

	o.logger.Info().
		Int("processed", final.ProcessedResources).
		Int("valid", final.ValidResources).
		Int("errors", final.ErrorResources).
		Msg("bulk validation complete")

	if cb != nil {
		cb(final)
	}
	return &final, nil
}

// countTotal sums the per-type counts into the run total. A count
// failure excludes that type's resources from the total but does not
// abort the run.
func (o *Orchestrator) countTotal(ctx context.Context) {
	total := 0
	for _, resourceType := range o.types {
		n, err := o.client.GetResourceCount(ctx, resourceType)
		if err != nil {
			o.withProgress(func(p *Progress) {
				p.recordError(fmt.Sprintf("counting %s: %v", resourceType, err))
			})
			continue
		}
		total += n
	}
	o.withProgress(func(p *Progress) { p.TotalResources = total })
}

// recountRemaining refreshes the counts of the not-yet-finished types
// after a pause, keeping already-processed work in the total.
func (o *Orchestrator) recountRemaining(ctx context.Context) {
	o.mu.Lock()
	rp := o.resume
	processed := 0
	if o.progress != nil {
		processed = o.progress.ProcessedResources
	}
	o.mu.Unlock()

	remaining := 0
	for i := rp.typeIndex; i < len(o.types); i++ {
		n, err := o.client.GetResourceCount(ctx, o.types[i])
		if err != nil {
			o.withProgress(func(p *Progress) {
				p.recordError(fmt.Sprintf("recounting %s: %v", o.types[i], err))
			})
			continue
		}
		if i == rp.typeIndex {
			n -= rp.offset
			if n < 0 {
				n = 0
			}
		}
		remaining += n
	}

	o.withProgress(func(p *Progress) { p.TotalResources = processed + remaining })
}

// withProgress mutates the live progress under the lock, if a run is
// active.
func (o *Orchestrator) withProgress(fn func(*Progress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.progress != nil {
		fn(o.progress)
	}
}

// publishProgress hands a progress copy to the callback outside the
// lock.
func (o *Orchestrator) publishProgress() {
	o.mu.Lock()
	var snap Progress
	ok := o.progress != nil
	if ok {
		snap = o.progress.snapshot()
	}
	cb := o.onProgress
	o.mu.Unlock()

	if ok && cb != nil {
		cb(snap)
	}
}
