package fsh

import (
	"sync"

	"github.com/gofhir/fsh/pkg/diag"
)

// Diagnostic is the public, CLI-facing view of a compiler diagnostic. It is
// a flattened translation of diag.Record: the internal package keeps the
// richer Code taxonomy and separate Span types so every subsystem can stay
// decoupled from this root package, while callers of the public API only
// need one simple shape.
type Diagnostic struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`

	// AppliedFile/AppliedLine/AppliedColumn locate the entity a mixin or
	// insert rule was expanded into, distinct from the rule's own origin.
	AppliedFile   string `json:"appliedFile,omitempty"`
	AppliedLine   int    `json:"appliedLine,omitempty"`
	AppliedColumn int    `json:"appliedColumn,omitempty"`
}

// FromRecord translates an internal diag.Record into a public Diagnostic.
func FromRecord(r diag.Record) Diagnostic {
	return Diagnostic{
		Severity:      string(r.Level),
		Code:          string(r.Code),
		Message:       r.Message,
		File:          r.File,
		Line:          r.Span.StartLine,
		Column:        r.Span.StartCol,
		AppliedFile:   r.AppliedFile,
		AppliedLine:   r.AppliedSpan.StartLine,
		AppliedColumn: r.AppliedSpan.StartCol,
	}
}

// IsError reports whether this is an error-level diagnostic.
func (d Diagnostic) IsError() bool { return d.Severity == string(diag.LevelError) }

// IsWarning reports whether this is a warn-level diagnostic.
func (d Diagnostic) IsWarning() bool { return d.Severity == string(diag.LevelWarn) }

// Result is the outcome of a compilation run.
type Result struct {
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	mu sync.Mutex
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{Diagnostics: make([]Diagnostic, 0, 8)}
}

// FromDiagResult translates an internal diag.Result into a public Result.
func FromDiagResult(dr *diag.Result) *Result {
	r := NewResult()
	if dr == nil {
		return r
	}
	for _, rec := range dr.Records {
		r.Diagnostics = append(r.Diagnostics, FromRecord(rec))
	}
	return r
}

// Add appends a diagnostic, thread-safe.
func (r *Result) Add(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Diagnostics = append(r.Diagnostics, d)
}

// Merge appends another Result's diagnostics onto r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	other.mu.Lock()
	ds := make([]Diagnostic, len(other.Diagnostics))
	copy(ds, other.Diagnostics)
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Diagnostics = append(r.Diagnostics, ds...)
}

// HasErrors reports whether any diagnostic is at error level.
func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.Diagnostics {
		if d.IsError() {
			return true
		}
	}
	return false
}

// Errors returns every error-level diagnostic.
func (r *Result) Errors() []Diagnostic {
	return r.filter(Diagnostic.IsError)
}

// Warnings returns every warn-level diagnostic.
func (r *Result) Warnings() []Diagnostic {
	return r.filter(Diagnostic.IsWarning)
}

func (r *Result) filter(pred func(Diagnostic) bool) []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}
