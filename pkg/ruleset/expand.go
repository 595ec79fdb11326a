// Package ruleset expands Insert and Mixin rules by textual substitution
// before constraint/assignment dispatch: mixins first, in declaration
// order, then in-body rules with inserts expanded at their textual
// position. A per-entity expansion stack guards against a RuleSet that
// (directly or transitively) inserts itself.
package ruleset

import (
	"fmt"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
)

// Finder resolves a RuleSet by name across the whole Tank, not just the
// current Document, since "* insert Foo" may reference a RuleSet defined
// in a sibling file.
type Finder func(name string) (*ast.RuleSet, bool)

// ExpandConstraintRules expands Insert rules within rules (legal on a
// Profile/Extension), dropping assignment-only rule variants pulled in
// from a RuleSet with a diagnostic rather than silently ignoring them.
// appliedFile/appliedSpan let diagnostics raised during expansion carry
// both the rule's own span and the entity it was applied into.
func ExpandConstraintRules(rules []ast.ConstraintRule, find Finder, appliedFile string, appliedSpan ast.Span, res *diag.Result) []ast.ConstraintRule {
	return expandConstraint(rules, find, appliedFile, appliedSpan, map[string]bool{}, res)
}

func expandConstraint(rules []ast.ConstraintRule, find Finder, appliedFile string, appliedSpan ast.Span, stack map[string]bool, res *diag.Result) []ast.ConstraintRule {
	out := make([]ast.ConstraintRule, 0, len(rules))
	for _, r := range rules {
		ins, isInsert := r.(*ast.Insert)
		if !isInsert {
			out = append(out, r)
			continue
		}
		rs, ok := find(ins.RuleSetName)
		if !ok {
			res.Add(diag.Record{
				Level: diag.LevelError, Code: diag.CodeUnsupportedRule,
				Message:     fmt.Sprintf("insert: RuleSet %q not defined", ins.RuleSetName),
				Span:        toDiagSpan(ins.RuleSpan()),
				AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
			})
			continue
		}
		if stack[rs.Name] {
			res.Add(diag.Record{
				Level: diag.LevelError, Code: diag.CodeInsertCycle,
				Message:     fmt.Sprintf("insert: RuleSet %q cycles back to itself", rs.Name),
				Span:        toDiagSpan(ins.RuleSpan()),
				AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
			})
			continue
		}
		stack[rs.Name] = true
		var inner []ast.ConstraintRule
		for _, rr := range rs.Rules {
			if cr, ok := rr.(ast.ConstraintRule); ok {
				inner = append(inner, cr)
			} else {
				res.Add(diag.Record{
					Level: diag.LevelError, Code: diag.CodeUnsupportedRule,
					Message:     fmt.Sprintf("insert: RuleSet %q contains an assignment-only rule not legal on a Profile/Extension", rs.Name),
					Span:        toDiagSpan(rr.RuleSpan()),
					AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
				})
			}
		}
		out = append(out, expandConstraint(inner, find, appliedFile, appliedSpan, stack, res)...)
		delete(stack, rs.Name)
	}
	return out
}

// ExpandAssignmentRules expands Insert rules within rules (legal on an
// Instance), dropping constraint-only rule variants pulled in from a
// RuleSet with a diagnostic.
func ExpandAssignmentRules(rules []ast.AssignmentRule, find Finder, appliedFile string, appliedSpan ast.Span, res *diag.Result) []ast.AssignmentRule {
	return expandAssignment(rules, find, appliedFile, appliedSpan, map[string]bool{}, res)
}

func expandAssignment(rules []ast.AssignmentRule, find Finder, appliedFile string, appliedSpan ast.Span, stack map[string]bool, res *diag.Result) []ast.AssignmentRule {
	out := make([]ast.AssignmentRule, 0, len(rules))
	for _, r := range rules {
		ins, isInsert := r.(*ast.Insert)
		if !isInsert {
			out = append(out, r)
			continue
		}
		rs, ok := find(ins.RuleSetName)
		if !ok {
			res.Add(diag.Record{
				Level: diag.LevelError, Code: diag.CodeUnsupportedRule,
				Message:     fmt.Sprintf("insert: RuleSet %q not defined", ins.RuleSetName),
				Span:        toDiagSpan(ins.RuleSpan()),
				AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
			})
			continue
		}
		if stack[rs.Name] {
			res.Add(diag.Record{
				Level: diag.LevelError, Code: diag.CodeInsertCycle,
				Message:     fmt.Sprintf("insert: RuleSet %q cycles back to itself", rs.Name),
				Span:        toDiagSpan(ins.RuleSpan()),
				AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
			})
			continue
		}
		stack[rs.Name] = true
		var inner []ast.AssignmentRule
		for _, rr := range rs.Rules {
			if ar, ok := rr.(ast.AssignmentRule); ok {
				inner = append(inner, ar)
			} else {
				res.Add(diag.Record{
					Level: diag.LevelError, Code: diag.CodeUnsupportedRule,
					Message:     fmt.Sprintf("insert: RuleSet %q contains a constraint-only rule not legal on an Instance", rs.Name),
					Span:        toDiagSpan(rr.RuleSpan()),
					AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
				})
			}
		}
		out = append(out, expandAssignment(inner, find, appliedFile, appliedSpan, stack, res)...)
		delete(stack, rs.Name)
	}
	return out
}

// ExpandMixins resolves an Instance's Mixins list to their assignment
// rules, in declaration order; callers apply them before the instance's
// own in-body rules.
func ExpandMixins(mixinNames []string, find Finder, appliedFile string, appliedSpan ast.Span, res *diag.Result) []ast.AssignmentRule {
	var out []ast.AssignmentRule
	for _, name := range mixinNames {
		rs, ok := find(name)
		if !ok {
			res.Add(diag.Record{
				Level: diag.LevelError, Code: diag.CodeUnsupportedRule,
				Message:     fmt.Sprintf("mixin: RuleSet %q not defined", name),
				AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
			})
			continue
		}
		var direct []ast.AssignmentRule
		for _, rr := range rs.Rules {
			if ar, ok := rr.(ast.AssignmentRule); ok {
				direct = append(direct, ar)
			} else {
				res.Add(diag.Record{
					Level: diag.LevelError, Code: diag.CodeUnsupportedRule,
					Message:     fmt.Sprintf("mixin: RuleSet %q contains a constraint-only rule not legal on an Instance", rs.Name),
					Span:        toDiagSpan(rr.RuleSpan()),
					AppliedFile: appliedFile, AppliedSpan: toDiagSpan(appliedSpan),
				})
			}
		}
		out = append(out, expandAssignment(direct, find, appliedFile, appliedSpan, map[string]bool{name: true}, res)...)
	}
	return out
}

func toDiagSpan(s ast.Span) diag.Span {
	return diag.Span{StartLine: s.StartLine, StartCol: s.StartCol, EndLine: s.EndLine, EndCol: s.EndCol}
}
