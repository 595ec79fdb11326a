package fsh

import (
	"runtime"
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.Version != R4 {
		t.Errorf("Version = %v; want %v", opts.Version, R4)
	}
	if opts.MaxErrors != 0 {
		t.Errorf("MaxErrors = %d; want 0", opts.MaxErrors)
	}
	if opts.ParallelTanks != false {
		t.Error("ParallelTanks should be false by default")
	}
	if opts.WorkerCount != runtime.NumCPU() {
		t.Errorf("WorkerCount = %d; want %d", opts.WorkerCount, runtime.NumCPU())
	}
	if opts.StrictMode != false {
		t.Error("StrictMode should be false by default")
	}
	if opts.SnapshotOnly != false {
		t.Error("SnapshotOnly should be false by default")
	}
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := DefaultOptions()
	derived := base.Apply(WithVersion(R5), WithStrictMode(true))

	if base.Version != R4 {
		t.Errorf("base.Version mutated: = %v; want %v", base.Version, R4)
	}
	if derived.Version != R5 {
		t.Errorf("derived.Version = %v; want %v", derived.Version, R5)
	}
	if derived.StrictMode != true {
		t.Error("derived.StrictMode should be true")
	}
}

func TestWithCanonical(t *testing.T) {
	opts := DefaultOptions().Apply(WithCanonical("http://example.org/fhir"))
	if opts.Canonical != "http://example.org/fhir" {
		t.Errorf("Canonical = %q; want %q", opts.Canonical, "http://example.org/fhir")
	}
}

func TestWithDependencyPackagesAccumulates(t *testing.T) {
	opts := DefaultOptions().Apply(
		WithDependencyPackages("hl7.fhir.us.core#5.0.1"),
		WithDependencyPackages("hl7.fhir.uv.extensions#1.0.0"),
	)
	if len(opts.DependencyPackages) != 2 {
		t.Fatalf("len(DependencyPackages) = %d; want 2", len(opts.DependencyPackages))
	}
	if opts.DependencyPackages[0] != "hl7.fhir.us.core#5.0.1" {
		t.Errorf("DependencyPackages[0] = %q; want %q", opts.DependencyPackages[0], "hl7.fhir.us.core#5.0.1")
	}
}

func TestWithWorkerCountIgnoresNonPositive(t *testing.T) {
	opts := DefaultOptions().Apply(WithWorkerCount(0))
	if opts.WorkerCount != runtime.NumCPU() {
		t.Errorf("WorkerCount = %d; want unchanged %d", opts.WorkerCount, runtime.NumCPU())
	}

	opts = DefaultOptions().Apply(WithWorkerCount(4))
	if opts.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d; want 4", opts.WorkerCount)
	}
}

func TestWithSnapshotOnly(t *testing.T) {
	opts := DefaultOptions().Apply(WithSnapshotOnly(true))
	if !opts.SnapshotOnly {
		t.Error("SnapshotOnly should be true")
	}
}

func TestWithTemplate(t *testing.T) {
	opts := DefaultOptions().Apply(WithTemplate("hl7.fhir.template#0.0.5"))
	if opts.Template != "hl7.fhir.template#0.0.5" {
		t.Errorf("Template = %q; want %q", opts.Template, "hl7.fhir.template#0.0.5")
	}
}
