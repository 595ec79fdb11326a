package assembler

import (
	"context"
	"runtime"
	"sync"

	fsh "github.com/gofhir/fsh"
	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/fisher"
)

// BatchResult pairs one Tank's Package with its diagnostics and its
// position in the submitted batch.
type BatchResult struct {
	Index   int
	Package *Package
	Result  *fsh.Result
}

// CompileBatch compiles independent Tanks concurrently on a bounded worker
// pool. Parallelism stops at the Tank boundary: within each Tank, rule
// application stays strictly sequential. The external DefinitionsCache is
// read-only and shared by every worker.
func CompileBatch(ctx context.Context, tanks [][]*ast.Document, external fisher.DefinitionsCache, opts *fsh.Options) []BatchResult {
	workers := opts.WorkerCount
	if !opts.ParallelTanks || workers <= 0 {
		workers = 1
	}
	if workers > runtime.NumCPU() {
		workers = runtime.NumCPU()
	}
	if workers > len(tanks) {
		workers = len(tanks)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	results := make([]BatchResult, len(tanks))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := diag.Acquire()
				metrics := &fsh.Metrics{}
				pkg := compileTank(ctx, tanks[i], external, opts, res, metrics)
				results[i] = BatchResult{Index: i, Package: pkg, Result: fsh.FromDiagResult(res)}
				res.Release()
			}
		}()
	}

	for i := range tanks {
		select {
		case <-ctx.Done():
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return results
}
