// Package assembler collates one compilation's artifacts into a Package:
// it batches imported documents into a Tank, drives the SD and Instance
// Exporters in dependency order, emits ValueSet and CodeSystem artifacts,
// and detects cross-entity conflicts (duplicate instance identities). It
// is the one component that appends to shared state; everything upstream
// owns its entity exclusively while processing it.
package assembler

import (
	"context"
	"fmt"
	"time"

	fsh "github.com/gofhir/fsh"
	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/fisher"
	"github.com/gofhir/fsh/pkg/instance"
	"github.com/gofhir/fsh/pkg/sdexport"
)

// Package is the collection of all emitted artifacts for one compilation.
type Package struct {
	// Canonical is the base URL the package's entities were minted under.
	Canonical string

	Profiles    []*sdexport.StructureDefinition
	Extensions  []*sdexport.StructureDefinition
	Instances   []*instance.InstanceDefinition
	ValueSets   []*ValueSetDefinition
	CodeSystems []*CodeSystemDefinition
}

// Compile runs the full pipeline over docs: Tank construction, SD export,
// terminology export, instance export, and conflict detection. Entity
// failures are recorded and skipped; only an empty document set is
// nothing to do.
func Compile(ctx context.Context, docs []*ast.Document, external fisher.DefinitionsCache, opts *fsh.Options) (*Package, *fsh.Result) {
	start := time.Now()
	res := diag.Acquire()
	defer res.Release()

	metrics := &fsh.Metrics{}
	pkg := compileTank(ctx, docs, external, opts, res, metrics)
	metrics.RecordDuration(time.Since(start))

	return pkg, fsh.FromDiagResult(res)
}

func compileTank(ctx context.Context, docs []*ast.Document, external fisher.DefinitionsCache, opts *fsh.Options, res *diag.Result, metrics *fsh.Metrics) *Package {
	tank := fisher.NewTank(docs, external)
	pkg := &Package{Canonical: opts.Canonical}

	for _, d := range docs {
		for range d.Entities() {
			metrics.RecordImport()
		}
	}

	sdx := sdexport.New(tank, opts.Canonical, opts.Version.VersionString(), res)
	for _, d := range docs {
		for _, p := range d.Profiles {
			if overLimit(opts, res) {
				return pkg
			}
			if sd, ok := sdx.ExportProfile(ctx, p); ok {
				pkg.Profiles = append(pkg.Profiles, sd)
				metrics.RecordExport()
			} else {
				metrics.RecordSkip()
			}
		}
		for _, x := range d.Extensions {
			if overLimit(opts, res) {
				return pkg
			}
			if sd, ok := sdx.ExportExtension(ctx, x); ok {
				pkg.Extensions = append(pkg.Extensions, sd)
				metrics.RecordExport()
			} else {
				metrics.RecordSkip()
			}
		}
	}

	exportTerminology(docs, opts, pkg)

	instx := instance.New(tank, sdx, res)
	seen := map[string]*instance.InstanceDefinition{}
	for _, d := range docs {
		for _, in := range d.Instances {
			if overLimit(opts, res) {
				return pkg
			}
			def, ok := instx.Export(ctx, in)
			if !ok {
				metrics.RecordSkip()
				continue
			}
			pkg.Instances = append(pkg.Instances, def)
			metrics.RecordExport()

			// Duplicate (resourceType, id) among non-inline instances is
			// an error on the later instance; both are still emitted.
			if def.Usage == ast.UsageInline {
				continue
			}
			key := def.ResourceType + "/" + def.ID
			if prev, dup := seen[key]; dup {
				res.Add(diag.Record{
					Level: diag.LevelError,
					Code:  diag.CodeDuplicateInstanceId,
					Message: fmt.Sprintf("instance %s reuses id %s already taken by %s",
						def.Name, key, prev.Name),
					File: def.Span.File,
					Span: diag.Span{StartLine: def.Span.StartLine, StartCol: def.Span.StartCol, EndLine: def.Span.EndLine, EndCol: def.Span.EndCol},
				})
				continue
			}
			seen[key] = def
		}
	}

	return pkg
}

// overLimit reports whether the MaxErrors budget is spent.
func overLimit(opts *fsh.Options, res *diag.Result) bool {
	if opts.MaxErrors <= 0 {
		return false
	}
	return len(res.Errors()) >= opts.MaxErrors
}
