package fsh

import (
	"testing"

	"github.com/gofhir/fsh/pkg/diag"
)

func TestFromRecord(t *testing.T) {
	rec := diag.Record{
		Level:   diag.LevelError,
		Code:    diag.CodeMismatchedType,
		Message: "expected Quantity, got string",
		File:    "profiles.fsh",
		Span:    diag.Span{StartLine: 12, StartCol: 3},
	}
	d := FromRecord(rec)

	if d.Severity != "error" {
		t.Errorf("Severity = %q; want %q", d.Severity, "error")
	}
	if d.Code != "MismatchedType" {
		t.Errorf("Code = %q; want %q", d.Code, "MismatchedType")
	}
	if d.File != "profiles.fsh" {
		t.Errorf("File = %q; want %q", d.File, "profiles.fsh")
	}
	if d.Line != 12 || d.Column != 3 {
		t.Errorf("Line,Column = %d,%d; want 12,3", d.Line, d.Column)
	}
	if !d.IsError() {
		t.Error("IsError() should be true")
	}
	if d.IsWarning() {
		t.Error("IsWarning() should be false")
	}
}

func TestFromDiagResult(t *testing.T) {
	dr := diag.Acquire()
	defer dr.Release()
	dr.Errorf(diag.CodeParentNotDefined, "parent %q not found", "Patient")
	dr.Warnf(diag.CodeUnsupportedRule, "unsupported rule")

	r := FromDiagResult(dr)
	if len(r.Diagnostics) != 2 {
		t.Fatalf("len(Diagnostics) = %d; want 2", len(r.Diagnostics))
	}
	if !r.HasErrors() {
		t.Error("HasErrors() should be true")
	}
	if len(r.Errors()) != 1 {
		t.Errorf("len(Errors()) = %d; want 1", len(r.Errors()))
	}
	if len(r.Warnings()) != 1 {
		t.Errorf("len(Warnings()) = %d; want 1", len(r.Warnings()))
	}
}

func TestFromDiagResultNil(t *testing.T) {
	r := FromDiagResult(nil)
	if r == nil {
		t.Fatal("FromDiagResult(nil) returned nil")
	}
	if len(r.Diagnostics) != 0 {
		t.Errorf("len(Diagnostics) = %d; want 0", len(r.Diagnostics))
	}
}

func TestResultMerge(t *testing.T) {
	a := NewResult()
	a.Add(Diagnostic{Severity: "error", Code: "X"})

	b := NewResult()
	b.Add(Diagnostic{Severity: "warn", Code: "Y"})

	a.Merge(b)
	if len(a.Diagnostics) != 2 {
		t.Fatalf("len(Diagnostics) = %d; want 2", len(a.Diagnostics))
	}
}

func TestResultMergeNil(t *testing.T) {
	a := NewResult()
	a.Add(Diagnostic{Severity: "error", Code: "X"})
	a.Merge(nil)
	if len(a.Diagnostics) != 1 {
		t.Errorf("len(Diagnostics) = %d; want 1", len(a.Diagnostics))
	}
}
