// Package diag defines the compiler's structured diagnostic stream:
// severities, the full error-taxonomy code set from the specification, and
// a pooled Result that every pipeline stage appends Records to. Recoverable
// diagnostics never abort compilation; only a caller explicitly checking
// Result.HasErrors() decides what to do with them.
package diag

import (
	"fmt"
	"sync"
)

// Level is the severity of a diagnostic record.
type Level string

// Diagnostic levels.
const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Code identifies the kind of diagnostic. Each is a distinct kind, not a
// Go error type, per the specification's error taxonomy.
type Code string

// Resolution errors.
const (
	CodeParentNotDefined      Code = "ParentNotDefined"
	CodeInstanceOfNotDefined  Code = "InstanceOfNotDefined"
	CodeCannotResolvePath     Code = "CannotResolvePath"
	CodeTypeNotFound          Code = "TypeNotFound"
	CodeInvalidURI            Code = "InvalidUri"
	CodeSlicingNotDefined     Code = "SlicingNotDefined"
	CodeCannotResolveCanonical Code = "CannotResolveCanonical"
)

// Type/value errors.
const (
	CodeMismatchedType       Code = "MismatchedType"
	CodeNoSingleType         Code = "NoSingleType"
	CodeCodeAndSystemMismatch Code = "CodeAndSystemMismatch"
	CodeFixedToPattern       Code = "FixedToPattern"
	CodeValueAlreadyFixed    Code = "ValueAlreadyFixed"
	CodeInvalidFHIRId        Code = "InvalidFHIRId"
	CodeInvalidDateTime      Code = "InvalidDateTime"
	CodeInvalidPeriod        Code = "InvalidPeriod"
	CodeInvalidRangeValue    Code = "InvalidRangeValue"
	CodeUnitMismatch         Code = "UnitMismatch"
	CodeInvalidUnits         Code = "InvalidUnits"
)

// Cardinality/slicing errors.
const (
	CodeInvalidCardinality      Code = "InvalidCardinality"
	CodeWideningCardinality     Code = "WideningCardinality"
	CodeNarrowingRootCardinality Code = "NarrowingRootCardinality"
	CodeInvalidSumOfSliceMins   Code = "InvalidSumOfSliceMins"
	CodeInvalidMaxOfSlice       Code = "InvalidMaxOfSlice"
	CodeSliceTypeRemoval        Code = "SliceTypeRemoval"
	CodeSlicingDefinitionError  Code = "SlicingDefinitionError"
)

// Binding errors.
const (
	CodeBindingStrength    Code = "BindingStrength"
	CodeCodedTypeNotFound  Code = "CodedTypeNotFound"
	CodeValueSetCompose    Code = "ValueSetCompose"
	CodeValueSetFilter     Code = "ValueSetFilter"
)

// Reference/instance errors.
const (
	CodeInvalidResourceType       Code = "InvalidResourceType"
	CodeFixingNonResource         Code = "FixingNonResource"
	CodeInvalidExtensionParent    Code = "InvalidExtensionParent"
	CodeParentDeclaredAsProfileName Code = "ParentDeclaredAsProfileName"
	CodeDuplicateInstanceId       Code = "DuplicateInstanceId"
	CodeRequiredElementMissing    Code = "RequiredElementMissing"
)

// Package load errors.
const (
	CodePackageLoad        Code = "PackageLoad"
	CodeCurrentPackageLoad Code = "CurrentPackageLoad"
	CodeMissingSnapshot    Code = "MissingSnapshot"
)

// Importer diagnostics.
const (
	CodeUnsupportedRule  Code = "UnsupportedRule"
	CodeUnknownMetadata  Code = "UnknownMetadata"
	CodeReuseOfImporter  Code = "ReuseOfImporter"
	CodeSanitizedName    Code = "SanitizedName"
	CodeInsertCycle      Code = "InsertCycle"
)

// Record is one diagnostic emitted by a pipeline stage.
type Record struct {
	Level Level
	Code  Code

	// Message is the human-readable description.
	Message string

	// File/Span locate the rule or entity that produced the diagnostic.
	File string
	Span Span

	// AppliedFile/AppliedSpan locate the entity the diagnostic was applied
	// to, when raised during mixin/insert expansion (distinct from the
	// rule's origin span in Span).
	AppliedFile string
	AppliedSpan Span
}

// Span is a minimal source-location value; kept separate from pkg/ast.Span
// so this package has no dependency on the AST, but field-compatible with
// it so callers can convert with a plain struct literal.
type Span struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// IsError reports whether r is at error level.
func (r Record) IsError() bool { return r.Level == LevelError }

// IsWarn reports whether r is at warn level.
func (r Record) IsWarn() bool { return r.Level == LevelWarn }

// defaultCapacity is the pre-allocated capacity for a Result's Records
// slice; most compilations produce far fewer than this many diagnostics.
const defaultCapacity = 16

var resultPool = sync.Pool{
	New: func() any {
		return &Result{Records: make([]Record, 0, defaultCapacity)}
	},
}

// Result accumulates diagnostics for one compilation run or one entity's
// processing within it.
type Result struct {
	Records []Record
	mu      sync.Mutex
}

// Acquire returns a Result from the pool, reset to empty.
func Acquire() *Result {
	r, ok := resultPool.Get().(*Result)
	if !ok {
		r = &Result{Records: make([]Record, 0, defaultCapacity)}
	}
	r.Records = r.Records[:0]
	return r
}

// Release returns r to the pool.
func (r *Result) Release() {
	if r == nil {
		return
	}
	if cap(r.Records) <= 1024 {
		resultPool.Put(r)
	}
}

// Add appends a record, thread-safe.
func (r *Result) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Records = append(r.Records, rec)
}

// Errorf appends an error-level record.
func (r *Result) Errorf(code Code, format string, args ...any) {
	r.Add(Record{Level: LevelError, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warn-level record.
func (r *Result) Warnf(code Code, format string, args ...any) {
	r.Add(Record{Level: LevelWarn, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Infof appends an info-level record.
func (r *Result) Infof(code Code, format string, args ...any) {
	r.Add(Record{Level: LevelInfo, Code: code, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any record is at error level.
func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.Records {
		if rec.IsError() {
			return true
		}
	}
	return false
}

// Errors returns every error-level record.
func (r *Result) Errors() []Record {
	return r.filter(func(rec Record) bool { return rec.IsError() })
}

// Warnings returns every warn-level record.
func (r *Result) Warnings() []Record {
	return r.filter(func(rec Record) bool { return rec.IsWarn() })
}

func (r *Result) filter(pred func(Record) bool) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.Records {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Merge appends other's records onto r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	other.mu.Lock()
	recs := make([]Record, len(other.Records))
	copy(recs, other.Records)
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Records = append(r.Records, recs...)
}
