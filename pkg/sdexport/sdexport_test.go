package sdexport

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gofhir/fsh/internal/fhirtest"
	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/fisher"
)

const canonical = "http://example.org/fhir"

func newExporter(t *testing.T, docs ...*ast.Document) (*Exporter, *diag.Result) {
	t.Helper()
	tank := fisher.NewTank(docs, fhirtest.NewCache())
	res := diag.Acquire()
	t.Cleanup(res.Release)
	return New(tank, canonical, "4.0.1", res), res
}

func docWith(entities ...ast.Entity) *ast.Document {
	d := ast.NewDocument("test.fsh")
	for _, e := range entities {
		switch v := e.(type) {
		case *ast.Profile:
			d.Profiles = append(d.Profiles, v)
		case *ast.Extension:
			d.Extensions = append(d.Extensions, v)
		case *ast.RuleSet:
			d.RuleSets[v.Name] = v
		}
	}
	return d
}

func TestCardinalityNarrowing(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Foo"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewCard("subject", ast.Span{}, 1, "1", ast.FlagSet{}),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok {
		t.Fatalf("export failed: %+v", res.Records)
	}
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %+v", res.Errors())
	}

	idx, found := sd.Tree.Resolve("subject")
	if !found {
		t.Fatal("Observation.subject not in snapshot")
	}
	node := sd.Tree.At(idx)
	if node.Min != 1 || node.Max != "1" {
		t.Errorf("subject cardinality = %d..%s; want 1..1", node.Min, node.Max)
	}

	diff := sd.Tree.Differential()
	if len(diff) != 1 {
		t.Fatalf("differential has %d elements; want 1", len(diff))
	}
	changed := sd.Tree.At(diff[0])
	if changed.Path != "Observation.subject" || changed.Min != 1 {
		t.Errorf("differential element = %s min %d; want Observation.subject min 1", changed.Path, changed.Min)
	}
}

func TestWideningCardinalityRejected(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Foo"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewCard("status", ast.Span{}, 0, "2", ast.FlagSet{}),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok {
		t.Fatal("export failed")
	}
	if got := res.Errors(); len(got) != 1 || got[0].Code != diag.CodeWideningCardinality {
		t.Fatalf("errors = %+v; want one WideningCardinality", got)
	}

	idx, _ := sd.Tree.Resolve("status")
	if node := sd.Tree.At(idx); node.Min != 1 || node.Max != "1" {
		t.Errorf("status cardinality changed to %d..%s; want untouched 1..1", node.Min, node.Max)
	}
	if len(sd.Tree.Differential()) != 0 {
		t.Error("rejected rule still produced a differential entry")
	}
}

func TestChoiceNarrowingAndPatternLift(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewOnly("value[x]", ast.Span{}, []ast.TypeChoice{{Name: "Quantity"}}),
			ast.NewFixedValue("valueQuantity", ast.Span{}, ast.Code{System: "http://foo.com", Code: "foo"}, false),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}

	idx, found := sd.Tree.Resolve("value[x]")
	if !found {
		t.Fatal("value[x] not in snapshot")
	}
	node := sd.Tree.At(idx)
	if len(node.Types) != 1 || node.Types[0].Code != "Quantity" {
		t.Fatalf("value[x] types = %+v; want [Quantity]", node.Types)
	}
	if node.PatternType != "Quantity" {
		t.Fatalf("patternType = %q; want Quantity", node.PatternType)
	}
	var pattern map[string]any
	if err := json.Unmarshal(node.Pattern, &pattern); err != nil {
		t.Fatal(err)
	}
	if pattern["code"] != "foo" || pattern["system"] != "http://foo.com" {
		t.Errorf("patternQuantity = %v; want code foo, system http://foo.com", pattern)
	}
}

func TestOnlyRejectsNonSubset(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewOnly("value[x]", ast.Span{}, []ast.TypeChoice{{Name: "Ratio"}}),
		},
	}
	e, res := newExporter(t, docWith(p))

	e.ExportProfile(context.Background(), p)
	if got := res.Errors(); len(got) != 1 || got[0].Code != diag.CodeTypeNotFound {
		t.Fatalf("errors = %+v; want one TypeNotFound", got)
	}
}

func TestReferenceTargetNarrowing(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewOnly("subject", ast.Span{}, []ast.TypeChoice{{Name: "Patient", IsReference: true}}),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}
	idx, _ := sd.Tree.Resolve("subject")
	node := sd.Tree.At(idx)
	if len(node.Types) != 1 || node.Types[0].Code != "Reference" {
		t.Fatalf("subject types = %+v", node.Types)
	}
	want := []string{"http://hl7.org/fhir/StructureDefinition/Patient"}
	if len(node.Types[0].TargetProfile) != 1 || node.Types[0].TargetProfile[0] != want[0] {
		t.Errorf("targetProfile = %v; want %v", node.Types[0].TargetProfile, want)
	}
}

func TestBindingMustNotWeaken(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewValueSetBinding("status", ast.Span{}, "http://example.org/vs", ast.StrengthPreferred),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, _ := e.ExportProfile(context.Background(), p)
	if got := res.Errors(); len(got) != 1 || got[0].Code != diag.CodeBindingStrength {
		t.Fatalf("errors = %+v; want one BindingStrength", got)
	}
	idx, _ := sd.Tree.Resolve("status")
	if node := sd.Tree.At(idx); node.Binding.Strength != "required" {
		t.Errorf("binding weakened to %s", node.Binding.Strength)
	}
}

func TestBindingStrengthens(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewValueSetBinding("category", ast.Span{}, "http://example.org/vs", ast.StrengthRequired),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, _ := e.ExportProfile(context.Background(), p)
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %+v", res.Errors())
	}
	idx, _ := sd.Tree.Resolve("category")
	node := sd.Tree.At(idx)
	if node.Binding.Strength != "required" || node.Binding.ValueSet != "http://example.org/vs" {
		t.Errorf("binding = %+v", node.Binding)
	}
}

func TestContainsCreatesSlices(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewContains("category", ast.Span{}, []ast.ContainsItem{
				{Name: "niceSlice", Min: 1, Max: "1", Flags: ast.FlagSet{MustSupport: true}},
				{Name: "otherSlice", Min: 0, Max: "*"},
			}),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}

	baseIdx, _ := sd.Tree.Resolve("category")
	base := sd.Tree.At(baseIdx)
	if base.Slicing == nil || len(base.Slicing.Discriminator) == 0 {
		t.Fatal("sliced element has no discriminator")
	}
	if base.Slicing.Discriminator[0].Type != "value" {
		t.Errorf("default discriminator type = %s; want value", base.Slicing.Discriminator[0].Type)
	}

	sliceIdx, found := sd.Tree.Resolve("category[niceSlice]")
	if !found {
		t.Fatal("slice niceSlice not created")
	}
	s := sd.Tree.At(sliceIdx)
	if s.SliceName != "niceSlice" || s.Min != 1 || s.Max != "1" || !s.MustSupport {
		t.Errorf("slice = %+v", s)
	}
	if s.ID != "Observation.category:niceSlice" {
		t.Errorf("slice id = %s", s.ID)
	}
}

func TestNoOpProducesEmptyDifferential(t *testing.T) {
	p := &ast.Profile{Meta: ast.Meta{Name: "Foo"}, Parent: "Patient"}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}
	if diffs := sd.Tree.Differential(); len(diffs) != 0 {
		t.Errorf("no-op profile produced %d differential elements", len(diffs))
	}

	raw, err := json.Marshal(sd)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Differential struct {
			Element []json.RawMessage `json:"element"`
		} `json:"differential"`
		Snapshot struct {
			Element []json.RawMessage `json:"element"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Differential.Element) != 0 {
		t.Errorf("marshaled differential has %d elements; want 0", len(out.Differential.Element))
	}
	if len(out.Snapshot.Element) == 0 {
		t.Error("marshaled snapshot is empty")
	}
}

func TestFixedBlocksLaterConflict(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Pat"},
		Parent: "Patient",
		Rules: []ast.ConstraintRule{
			ast.NewFixedValue("active", ast.Span{}, ast.Bool(true), true),
			ast.NewFixedValue("active", ast.Span{}, ast.Bool(false), false),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, _ := e.ExportProfile(context.Background(), p)
	errs := res.Errors()
	if len(errs) != 1 || errs[0].Code != diag.CodeFixedToPattern {
		t.Fatalf("errors = %+v; want one FixedToPattern", errs)
	}
	idx, _ := sd.Tree.Resolve("active")
	node := sd.Tree.At(idx)
	if string(node.Fixed) != "true" || node.FixedType != "Boolean" {
		t.Errorf("fixed = %s (%s); want true (Boolean)", node.Fixed, node.FixedType)
	}
}

func TestFixedIsIdempotent(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Pat"},
		Parent: "Patient",
		Rules: []ast.ConstraintRule{
			ast.NewFixedValue("active", ast.Span{}, ast.Bool(true), true),
			ast.NewFixedValue("active", ast.Span{}, ast.Bool(true), true),
		},
	}
	e, res := newExporter(t, docWith(p))

	e.ExportProfile(context.Background(), p)
	if res.HasErrors() {
		t.Fatalf("re-asserting the same fixed value errored: %+v", res.Errors())
	}
}

func TestProfileParentChain(t *testing.T) {
	base := &ast.Profile{
		Meta:   ast.Meta{Name: "BasePatient"},
		Parent: "Patient",
		Rules: []ast.ConstraintRule{
			ast.NewCard("name", ast.Span{}, 1, "*", ast.FlagSet{}),
		},
	}
	child := &ast.Profile{
		Meta:   ast.Meta{Name: "ChildPatient"},
		Parent: "BasePatient",
		Rules: []ast.ConstraintRule{
			ast.NewCard("name", ast.Span{}, 1, "1", ast.FlagSet{}),
		},
	}
	e, res := newExporter(t, docWith(base, child))

	sd, ok := e.ExportProfile(context.Background(), child)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}
	if sd.BaseDefinition != canonical+"/StructureDefinition/BasePatient" {
		t.Errorf("baseDefinition = %s", sd.BaseDefinition)
	}
	idx, _ := sd.Tree.Resolve("name")
	if node := sd.Tree.At(idx); node.Min != 1 || node.Max != "1" {
		t.Errorf("name cardinality = %d..%s; want 1..1", node.Min, node.Max)
	}
}

func TestParentCycleReported(t *testing.T) {
	a := &ast.Profile{Meta: ast.Meta{Name: "A"}, Parent: "B"}
	b := &ast.Profile{Meta: ast.Meta{Name: "B"}, Parent: "A"}
	e, res := newExporter(t, docWith(a, b))

	if _, ok := e.ExportProfile(context.Background(), a); ok {
		t.Fatal("cyclic profile exported")
	}
	found := false
	for _, rec := range res.Errors() {
		if rec.Code == diag.CodeParentNotDefined && strings.Contains(rec.Message, "cycle") {
			found = true
		}
	}
	if !found {
		t.Errorf("no cycle diagnostic: %+v", res.Errors())
	}
}

func TestParentNotDefined(t *testing.T) {
	p := &ast.Profile{Meta: ast.Meta{Name: "Foo"}, Parent: "NoSuchThing"}
	e, res := newExporter(t, docWith(p))

	if _, ok := e.ExportProfile(context.Background(), p); ok {
		t.Fatal("export of orphan profile succeeded")
	}
	if got := res.Errors(); len(got) != 1 || got[0].Code != diag.CodeParentNotDefined {
		t.Fatalf("errors = %+v; want one ParentNotDefined", got)
	}
}

func TestExtensionDefaultsToExtensionParent(t *testing.T) {
	x := &ast.Extension{
		Meta: ast.Meta{Name: "FavoriteColor"},
		Rules: []ast.ConstraintRule{
			ast.NewOnly("value[x]", ast.Span{}, []ast.TypeChoice{{Name: "string"}}),
		},
	}
	e, res := newExporter(t, docWith(x))

	sd, ok := e.ExportExtension(context.Background(), x)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}
	if sd.Type != "Extension" {
		t.Errorf("type = %s; want Extension", sd.Type)
	}
	if len(sd.Context) == 0 {
		t.Error("parent context was not preserved")
	}
}

func TestCaretValueSetsElementField(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewCaretValue("category", ast.Span{}, "slicing.rules", ast.String("closed")),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}
	idx, _ := sd.Tree.Resolve("category")
	node := sd.Tree.At(idx)
	raw, found := node.Caret["slicing.rules"]
	if !found {
		t.Fatal("caret value not recorded")
	}
	if string(raw) != `"closed"` {
		t.Errorf("caret value = %s", raw)
	}

	elemJSON, err := node.MarshalElementJSON()
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(elemJSON, &out); err != nil {
		t.Fatal(err)
	}
	slicing, _ := out["slicing"].(map[string]any)
	if slicing == nil || slicing["rules"] != "closed" {
		t.Errorf("marshaled element slicing = %v", out["slicing"])
	}
}

func TestRuleSetInsertExpansion(t *testing.T) {
	rs := &ast.RuleSet{
		Meta: ast.Meta{Name: "Common"},
		Rules: []ast.Rule{
			ast.NewCard("subject", ast.Span{}, 1, "1", ast.FlagSet{}),
		},
	}
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Obs"},
		Parent: "Observation",
		Rules: []ast.ConstraintRule{
			ast.NewInsert("", ast.Span{}, "Common"),
		},
	}
	e, res := newExporter(t, docWith(p, rs))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}
	idx, _ := sd.Tree.Resolve("subject")
	if node := sd.Tree.At(idx); node.Min != 1 {
		t.Errorf("inserted rule did not apply; subject min = %d", node.Min)
	}
}

func TestUnfoldsComplexTypeForDeepPath(t *testing.T) {
	p := &ast.Profile{
		Meta:   ast.Meta{Name: "Pat"},
		Parent: "Patient",
		Rules: []ast.ConstraintRule{
			ast.NewFixedValue("maritalStatus.coding", ast.Span{}, ast.Code{System: "http://foo.com", Code: "foo"}, false),
		},
	}
	e, res := newExporter(t, docWith(p))

	sd, ok := e.ExportProfile(context.Background(), p)
	if !ok || res.HasErrors() {
		t.Fatalf("export failed: %+v", res.Records)
	}
	idx, found := sd.Tree.Resolve("maritalStatus.coding")
	if !found {
		t.Fatal("maritalStatus.coding was not grafted into the tree")
	}
	node := sd.Tree.At(idx)
	if node.PatternType != "Coding" {
		t.Fatalf("patternType = %q; want Coding", node.PatternType)
	}
	var pattern map[string]any
	_ = json.Unmarshal(node.Pattern, &pattern)
	if pattern["code"] != "foo" || pattern["system"] != "http://foo.com" {
		t.Errorf("pattern = %v", pattern)
	}
}
