package diag

import "testing"

func TestResultErrorfWarnfInfof(t *testing.T) {
	r := Acquire()
	defer r.Release()

	r.Errorf(CodeParentNotDefined, "parent %q not defined", "Patient")
	r.Warnf(CodeUnsupportedRule, "unsupported rule at %s", "obeda")
	r.Infof(CodeSanitizedName, "name sanitized")

	if len(r.Records) != 3 {
		t.Fatalf("len(Records) = %d; want 3", len(r.Records))
	}
	if r.Records[0].Message != `parent "Patient" not defined` {
		t.Errorf("Records[0].Message = %q", r.Records[0].Message)
	}
	if !r.Records[0].IsError() {
		t.Error("Records[0] should be error level")
	}
	if !r.Records[1].IsWarn() {
		t.Error("Records[1] should be warn level")
	}
	if r.Records[2].Level != LevelInfo {
		t.Errorf("Records[2].Level = %v; want %v", r.Records[2].Level, LevelInfo)
	}
}

func TestResultHasErrors(t *testing.T) {
	r := Acquire()
	defer r.Release()

	if r.HasErrors() {
		t.Error("fresh Result should have no errors")
	}
	r.Warnf(CodeUnsupportedRule, "warn only")
	if r.HasErrors() {
		t.Error("warn-only Result should have no errors")
	}
	r.Errorf(CodeTypeNotFound, "boom")
	if !r.HasErrors() {
		t.Error("Result with an error record should report HasErrors")
	}
}

func TestResultErrorsAndWarnings(t *testing.T) {
	r := Acquire()
	defer r.Release()

	r.Errorf(CodeTypeNotFound, "e1")
	r.Warnf(CodeUnsupportedRule, "w1")
	r.Errorf(CodeMismatchedType, "e2")

	if got := len(r.Errors()); got != 2 {
		t.Errorf("len(Errors()) = %d; want 2", got)
	}
	if got := len(r.Warnings()); got != 1 {
		t.Errorf("len(Warnings()) = %d; want 1", got)
	}
}

func TestResultMerge(t *testing.T) {
	a := Acquire()
	defer a.Release()
	b := Acquire()
	defer b.Release()

	a.Errorf(CodeTypeNotFound, "from a")
	b.Warnf(CodeUnsupportedRule, "from b")

	a.Merge(b)
	if len(a.Records) != 2 {
		t.Fatalf("len(a.Records) = %d; want 2", len(a.Records))
	}
	if len(b.Records) != 1 {
		t.Errorf("Merge should not mutate source; len(b.Records) = %d; want 1", len(b.Records))
	}
}

func TestResultMergeNil(t *testing.T) {
	a := Acquire()
	defer a.Release()
	a.Errorf(CodeTypeNotFound, "solo")
	a.Merge(nil)
	if len(a.Records) != 1 {
		t.Errorf("len(Records) = %d; want 1", len(a.Records))
	}
}

func TestAcquireResetsRecords(t *testing.T) {
	r := Acquire()
	r.Errorf(CodeTypeNotFound, "x")
	r.Release()

	r2 := Acquire()
	if len(r2.Records) != 0 {
		t.Errorf("len(Records) after Acquire = %d; want 0", len(r2.Records))
	}
	r2.Release()
}
