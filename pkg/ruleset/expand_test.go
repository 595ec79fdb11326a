package ruleset

import (
	"testing"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
)

func finder(sets ...*ast.RuleSet) Finder {
	byName := map[string]*ast.RuleSet{}
	for _, rs := range sets {
		byName[rs.Name] = rs
	}
	return func(name string) (*ast.RuleSet, bool) {
		rs, ok := byName[name]
		return rs, ok
	}
}

func TestExpandConstraintRulesInlinesAtPosition(t *testing.T) {
	rs := &ast.RuleSet{
		Meta: ast.Meta{Name: "Common"},
		Rules: []ast.Rule{
			ast.NewCard("status", ast.Span{}, 1, "1", ast.FlagSet{}),
			ast.NewFlag("code", ast.Span{}, ast.FlagSet{MustSupport: true}),
		},
	}
	rules := []ast.ConstraintRule{
		ast.NewCard("subject", ast.Span{}, 0, "1", ast.FlagSet{}),
		ast.NewInsert("", ast.Span{}, "Common"),
		ast.NewCard("category", ast.Span{}, 0, "1", ast.FlagSet{}),
	}

	res := diag.Acquire()
	defer res.Release()
	out := ExpandConstraintRules(rules, finder(rs), "a.fsh", ast.Span{}, res)

	if len(out) != 4 {
		t.Fatalf("expanded = %d rules; want 4", len(out))
	}
	wantPaths := []string{"subject", "status", "code", "category"}
	for i, want := range wantPaths {
		if out[i].RulePath() != want {
			t.Errorf("out[%d] = %s; want %s (textual position preserved)", i, out[i].RulePath(), want)
		}
	}
	if res.HasErrors() {
		t.Errorf("unexpected errors: %+v", res.Errors())
	}
}

func TestExpandNestedRuleSets(t *testing.T) {
	inner := &ast.RuleSet{
		Meta:  ast.Meta{Name: "Inner"},
		Rules: []ast.Rule{ast.NewCard("status", ast.Span{}, 1, "1", ast.FlagSet{})},
	}
	outer := &ast.RuleSet{
		Meta:  ast.Meta{Name: "Outer"},
		Rules: []ast.Rule{ast.NewInsert("", ast.Span{}, "Inner")},
	}

	res := diag.Acquire()
	defer res.Release()
	out := ExpandConstraintRules(
		[]ast.ConstraintRule{ast.NewInsert("", ast.Span{}, "Outer")},
		finder(inner, outer), "a.fsh", ast.Span{}, res)

	if len(out) != 1 || out[0].RulePath() != "status" {
		t.Fatalf("expanded = %+v", out)
	}
}

func TestExpandDetectsCycle(t *testing.T) {
	a := &ast.RuleSet{Meta: ast.Meta{Name: "A"}, Rules: []ast.Rule{ast.NewInsert("", ast.Span{}, "B")}}
	b := &ast.RuleSet{Meta: ast.Meta{Name: "B"}, Rules: []ast.Rule{ast.NewInsert("", ast.Span{}, "A")}}

	res := diag.Acquire()
	defer res.Release()
	out := ExpandConstraintRules(
		[]ast.ConstraintRule{ast.NewInsert("", ast.Span{}, "A")},
		finder(a, b), "a.fsh", ast.Span{}, res)

	if len(out) != 0 {
		t.Errorf("cyclic expansion produced rules: %+v", out)
	}
	found := false
	for _, rec := range res.Errors() {
		if rec.Code == diag.CodeInsertCycle {
			found = true
		}
	}
	if !found {
		t.Errorf("no InsertCycle error: %+v", res.Records)
	}
}

func TestExpandUndefinedRuleSet(t *testing.T) {
	res := diag.Acquire()
	defer res.Release()
	out := ExpandConstraintRules(
		[]ast.ConstraintRule{ast.NewInsert("", ast.Span{}, "Nope")},
		finder(), "a.fsh", ast.Span{StartLine: 4}, res)

	if len(out) != 0 {
		t.Errorf("undefined insert expanded: %+v", out)
	}
	errs := res.Errors()
	if len(errs) != 1 {
		t.Fatalf("errors = %+v", errs)
	}
	if errs[0].AppliedFile != "a.fsh" || errs[0].AppliedSpan.StartLine != 4 {
		t.Errorf("applied site not carried: %+v", errs[0])
	}
}

func TestConstraintExpansionDropsAssignmentRules(t *testing.T) {
	rs := &ast.RuleSet{
		Meta: ast.Meta{Name: "Mixed"},
		Rules: []ast.Rule{
			ast.NewAssignment("status", ast.Span{}, ast.String("final"), false, false),
			ast.NewCard("subject", ast.Span{}, 1, "1", ast.FlagSet{}),
		},
	}

	res := diag.Acquire()
	defer res.Release()
	out := ExpandConstraintRules(
		[]ast.ConstraintRule{ast.NewInsert("", ast.Span{}, "Mixed")},
		finder(rs), "a.fsh", ast.Span{}, res)

	if len(out) != 1 || out[0].RulePath() != "subject" {
		t.Fatalf("expanded = %+v; assignment rule should be dropped", out)
	}
	if len(res.Errors()) != 1 {
		t.Errorf("dropped rule not diagnosed: %+v", res.Records)
	}
}

func TestExpandMixinsKeepsDeclarationOrder(t *testing.T) {
	first := &ast.RuleSet{
		Meta:  ast.Meta{Name: "First"},
		Rules: []ast.Rule{ast.NewAssignment("active", ast.Span{}, ast.Bool(true), false, false)},
	}
	second := &ast.RuleSet{
		Meta:  ast.Meta{Name: "Second"},
		Rules: []ast.Rule{ast.NewAssignment("gender", ast.Span{}, ast.String("female"), false, false)},
	}

	res := diag.Acquire()
	defer res.Release()
	out := ExpandMixins([]string{"First", "Second"}, finder(first, second), "a.fsh", ast.Span{}, res)

	if len(out) != 2 || out[0].RulePath() != "active" || out[1].RulePath() != "gender" {
		t.Fatalf("mixins = %+v", out)
	}
}
