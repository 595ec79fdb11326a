package fsh

import "runtime"

// Option configures compilation.
type Option func(*Options)

// Options holds all configuration for a compilation run.
type Options struct {
	// Version is the FHIR version entities are compiled against.
	Version FHIRVersion

	// Canonical is the base canonical URL new entities are minted under,
	// e.g. "http://example.org/fhir".
	Canonical string

	// DependencyPackages lists additional FHIR packages (beyond the core
	// package implied by Version). The compiler does not load them:
	// definitions resolve only through the Definitions Cache passed to
	// assembler.Compile.
	DependencyPackages []string

	// MaxErrors stops compiling further entities after this many errors
	// have been recorded. 0 means unlimited.
	MaxErrors int

	// ParallelTanks allows independent Tanks to compile concurrently on a
	// bounded worker pool. It never parallelizes rule application within a
	// single entity or Tank; that stays strictly sequential.
	ParallelTanks bool
	WorkerCount   int

	// StrictMode is carried on Options but not read by the compiler:
	// warnings stay warnings. cmd/fsh applies its -strict flag itself, by
	// exiting with status 1 when any warning was recorded.
	StrictMode bool

	// SnapshotOnly is carried on Options but not read by the exporters:
	// exported StructureDefinitions always carry both the snapshot and the
	// differential.
	SnapshotOnly bool

	// Template is the IG template reference (e.g.
	// "hl7.fhir.template#0.0.5"); when set the IG Config Emitter generates
	// ig.ini even if one already exists on disk.
	Template string
}

// DefaultOptions returns the default compilation configuration.
func DefaultOptions() *Options {
	return &Options{
		Version:       R4,
		MaxErrors:     0,
		ParallelTanks: false,
		WorkerCount:   runtime.NumCPU(),
		StrictMode:    false,
	}
}

// Apply returns a copy of o with opts applied.
func (o *Options) Apply(opts ...Option) *Options {
	cp := *o
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// WithVersion sets the target FHIR version.
func WithVersion(v FHIRVersion) Option {
	return func(o *Options) { o.Version = v }
}

// WithCanonical sets the base canonical URL for minted entities.
func WithCanonical(url string) Option {
	return func(o *Options) { o.Canonical = url }
}

// WithDependencyPackages appends FHIR package references to
// DependencyPackages.
func WithDependencyPackages(pkgs ...string) Option {
	return func(o *Options) { o.DependencyPackages = append(o.DependencyPackages, pkgs...) }
}

// WithMaxErrors stops compilation of further entities after n errors.
// Use 0 for unlimited.
func WithMaxErrors(n int) Option {
	return func(o *Options) { o.MaxErrors = n }
}

// WithParallelTanks enables concurrent compilation of independent Tanks.
func WithParallelTanks(enable bool) Option {
	return func(o *Options) { o.ParallelTanks = enable }
}

// WithWorkerCount sets the worker pool size used when ParallelTanks is set.
// Defaults to runtime.NumCPU().
func WithWorkerCount(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.WorkerCount = n
		}
	}
}

// WithStrictMode sets StrictMode.
func WithStrictMode(enable bool) Option {
	return func(o *Options) { o.StrictMode = enable }
}

// WithSnapshotOnly sets SnapshotOnly.
func WithSnapshotOnly(enable bool) Option {
	return func(o *Options) { o.SnapshotOnly = enable }
}

// WithTemplate sets the IG template reference used by the IG Config Emitter.
func WithTemplate(template string) Option {
	return func(o *Options) { o.Template = template }
}
