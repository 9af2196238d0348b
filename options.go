package fhirquality

import (
	"runtime"
	"time"
)

// Option configures the validation engine.
type Option func(*Options)

// Options holds all configuration for the validation engine.
type Options struct {
	// Aspect toggles
	ValidateStructural   bool
	ValidateProfile      bool
	ValidateTerminology  bool
	ValidateReferences   bool
	ValidateBusinessRule bool
	ValidateMetadata     bool

	// External calls
	ExternalTerminology bool
	ExternalReferences  bool
	RequestTimeout      time.Duration

	// Bulk behavior
	BatchSize     int
	SubBatchSize  int
	SkipUnchanged bool
	WorkerCount   int

	// Cache sizes and TTLs
	ProfileCacheSize    int
	SettingsCacheSize   int
	TerminologyCacheTTL time.Duration

	// Metrics collection
	CollectMetrics bool
}

// NewOptions builds an Options value from the defaults with the given
// overrides applied in order.
func NewOptions(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		// All six aspects enabled by default
		ValidateStructural:   true,
		ValidateProfile:      true,
		ValidateTerminology:  true,
		ValidateReferences:   true,
		ValidateBusinessRule: true,
		ValidateMetadata:     true,

		// External lookups disabled until clients are configured
		ExternalTerminology: false,
		ExternalReferences:  false,
		RequestTimeout:      30 * time.Second,

		// Bulk defaults
		BatchSize:     1000,
		SubBatchSize:  50,
		SkipUnchanged: true,
		WorkerCount:   runtime.NumCPU(),

		// Cache defaults
		ProfileCacheSize:    500,
		SettingsCacheSize:   100,
		TerminologyCacheTTL: 10 * time.Minute,

		CollectMetrics: true,
	}
}

// WithAspect enables or disables a single aspect.
func WithAspect(aspect Aspect, enable bool) Option {
	return func(o *Options) {
		switch aspect {
		case AspectStructural:
			o.ValidateStructural = enable
		case AspectProfile:
			o.ValidateProfile = enable
		case AspectTerminology:
			o.ValidateTerminology = enable
		case AspectReference:
			o.ValidateReferences = enable
		case AspectBusinessRule:
			o.ValidateBusinessRule = enable
		case AspectMetadata:
			o.ValidateMetadata = enable
		}
	}
}

// WithExternalTerminology enables the external code existence check.
// Requires a terminology client to be configured.
func WithExternalTerminology(enable bool) Option {
	return func(o *Options) {
		o.ExternalTerminology = enable
	}
}

// WithExternalReferences enables existence checking against the FHIR server.
// Requires a FHIR client to be configured.
func WithExternalReferences(enable bool) Option {
	return func(o *Options) {
		o.ExternalReferences = enable
	}
}

// WithRequestTimeout sets the timeout for individual external calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.RequestTimeout = d
	}
}

// WithBatchSize sets the bulk page size.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

// WithSubBatchSize sets the parallel sub-batch width for bulk runs.
func WithSubBatchSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.SubBatchSize = n
		}
	}
}

// WithSkipUnchanged controls change-detection caching in bulk runs.
func WithSkipUnchanged(enable bool) Option {
	return func(o *Options) {
		o.SkipUnchanged = enable
	}
}

// WithWorkerCount sets the worker count for batch validation.
func WithWorkerCount(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.WorkerCount = n
		}
	}
}

// WithProfileCacheSize sets the resolved-profile cache capacity.
func WithProfileCacheSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ProfileCacheSize = n
		}
	}
}

// WithMetrics enables or disables metric collection.
func WithMetrics(enable bool) Option {
	return func(o *Options) {
		o.CollectMetrics = enable
	}
}

// FastOptions returns options tuned for throughput: external calls off,
// change detection on.
func FastOptions() *Options {
	o := DefaultOptions()
	o.ValidateProfile = false
	o.ExternalTerminology = false
	o.ExternalReferences = false
	o.SkipUnchanged = true
	return o
}

// StrictOptions returns options with every check enabled.
func StrictOptions() *Options {
	o := DefaultOptions()
	o.ExternalTerminology = true
	o.ExternalReferences = true
	o.SkipUnchanged = false
	return o
}
