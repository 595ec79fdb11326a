package sdexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/element"
)

// apply dispatches one constraint rule against sd's element tree. The rule
// sum is closed; every variant is handled here. A rule that fails its
// check records a diagnostic and leaves the element unchanged — the entity
// keeps exporting.
func (e *Exporter) apply(ctx context.Context, sd *StructureDefinition, r ast.ConstraintRule) {
	switch rule := r.(type) {
	case *ast.Card:
		e.applyCard(ctx, sd, rule)
	case *ast.Flag:
		e.applyFlag(ctx, sd, rule)
	case *ast.ValueSetBinding:
		e.applyBinding(ctx, sd, rule)
	case *ast.Only:
		e.applyOnly(ctx, sd, rule)
	case *ast.Contains:
		e.applyContains(ctx, sd, rule)
	case *ast.CaretValue:
		e.applyCaret(ctx, sd, rule)
	case *ast.FixedValue:
		e.applyFixed(ctx, sd, rule)
	case *ast.Insert:
		// Inserts are expanded before dispatch; one reaching here means
		// its RuleSet was undefined and already diagnosed.
	}
}

// ResolvePath walks path through sd's element tree, unfolding complex
// datatypes on demand: when a segment has no direct child, choice variant,
// or slice to step to, but the current element has exactly one complex
// type, that type's own element tree is fished and grafted in so the walk
// can continue ("maritalStatus.coding" descending through CodeableConcept
// on a snapshot that does not expand it).
func (e *Exporter) ResolvePath(ctx context.Context, sd *StructureDefinition, path string) (int, bool) {
	cur := sd.Tree.Get(sd.Tree.Type)
	if cur < 0 {
		return -1, false
	}
	if path == "." || path == "" {
		return cur, true
	}
	var prev element.Segment
	for _, seg := range element.ParseSegments(path) {
		next, ok := sd.Tree.Step(cur, seg)
		if !ok {
			tc, unfold := singleComplexType(sd.Tree.At(cur))
			if !unfold {
				// A choice element reached through a concrete variant
				// segment ("valueQuantity") descends through that
				// variant's type even while the choice still lists
				// several.
				tc, unfold = variantType(sd.Tree.At(cur), prev)
			}
			if unfold {
				if typeSD, found := e.ResolveSD(ctx, tc); found {
					sd.Tree.Graft(cur, typeSD.Tree)
					next, ok = sd.Tree.Step(cur, seg)
				}
			}
		}
		if !ok {
			return -1, false
		}
		cur = next
		prev = seg
	}
	return cur, true
}

// variantType extracts the concrete choice type a segment like
// "valueQuantity" selects on a "[x]" element, when that type is a complex
// datatype the walk can descend into.
func variantType(n *element.Node, seg element.Segment) (string, bool) {
	if len(n.Path) < 3 || n.Path[len(n.Path)-3:] != "[x]" {
		return "", false
	}
	base := choiceBaseOf(n.Path)
	if base == "" || len(seg.Name) <= len(base) || !hasPrefix(seg.Name, base) {
		return "", false
	}
	suffix := seg.Name[len(base):]
	for _, t := range n.Types {
		if upperFirst(t.Code) == suffix && t.Code != "" && t.Code[0] >= 'A' && t.Code[0] <= 'Z' && t.Code != "Reference" {
			return t.Code, true
		}
	}
	return "", false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// singleComplexType returns the element's one type code when it is a
// complex (uppercase-initial) datatype a walk could descend into.
func singleComplexType(n *element.Node) (string, bool) {
	if len(n.Types) != 1 {
		return "", false
	}
	code := n.Types[0].Code
	if code == "" || code[0] < 'A' || code[0] > 'Z' || code == "Reference" {
		return "", false
	}
	return code, true
}

// resolve maps a rule path to an element node, diagnosing a miss.
func (e *Exporter) resolve(ctx context.Context, sd *StructureDefinition, path string, span ast.Span) (int, bool) {
	idx, ok := e.ResolvePath(ctx, sd, path)
	if !ok {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeCannotResolvePath,
			Message: fmt.Sprintf("cannot resolve path %s on %s", path, sd.Name),
			File:    span.File,
			Span:    toDiagSpan(span),
		})
		return -1, false
	}
	return idx, true
}

// maxCount parses a cardinality max ("*" or an integer) as a comparable
// count, with "*" mapping to the largest value.
func maxCount(max string) uint64 {
	if max == "*" || max == "" {
		return ^uint64(0)
	}
	n, err := strconv.ParseUint(max, 10, 32)
	if err != nil {
		return ^uint64(0)
	}
	return n
}

func (e *Exporter) applyCard(ctx context.Context, sd *StructureDefinition, rule *ast.Card) {
	idx, ok := e.resolve(ctx, sd, rule.RulePath(), rule.RuleSpan())
	if !ok {
		return
	}
	node := sd.Tree.At(idx)

	if rule.Max != "*" {
		mx, err := strconv.ParseUint(rule.Max, 10, 32)
		if err != nil || uint64(rule.Min) > mx {
			e.res.Add(diag.Record{
				Level:   diag.LevelError,
				Code:    diag.CodeInvalidCardinality,
				Message: fmt.Sprintf("invalid cardinality %d..%s on %s", rule.Min, rule.Max, rule.RulePath()),
				File:    rule.RuleSpan().File,
				Span:    toDiagSpan(rule.RuleSpan()),
			})
			return
		}
	}
	if rule.Min < node.Min || maxCount(rule.Max) > maxCount(node.Max) {
		e.res.Add(diag.Record{
			Level: diag.LevelError,
			Code:  diag.CodeWideningCardinality,
			Message: fmt.Sprintf("cardinality %d..%s on %s widens inherited %d..%s",
				rule.Min, rule.Max, rule.RulePath(), node.Min, node.Max),
			File: rule.RuleSpan().File,
			Span: toDiagSpan(rule.RuleSpan()),
		})
		return
	}
	if node.Min != rule.Min || node.Max != rule.Max {
		node.Min = rule.Min
		node.Max = rule.Max
		sd.Tree.MarkMutated(idx)
	}
	e.mergeFlags(sd, idx, rule.Flags)
}

// mergeFlags ORs set into the node; flags are enable-only, so a merge can
// never clear mustSupport or modifier inherited from the parent.
func (e *Exporter) mergeFlags(sd *StructureDefinition, idx int, set ast.FlagSet) {
	node := sd.Tree.At(idx)
	changed := (set.MustSupport && !node.MustSupport) ||
		(set.Summary && !node.Summary) ||
		(set.Modifier && !node.Modifier)
	if !changed {
		return
	}
	node.MustSupport = node.MustSupport || set.MustSupport
	node.Summary = node.Summary || set.Summary
	node.Modifier = node.Modifier || set.Modifier
	sd.Tree.MarkMutated(idx)
}

func (e *Exporter) applyFlag(ctx context.Context, sd *StructureDefinition, rule *ast.Flag) {
	idx, ok := e.resolve(ctx, sd, rule.RulePath(), rule.RuleSpan())
	if !ok {
		return
	}
	e.mergeFlags(sd, idx, rule.Set)
}

// codeableTypes are the element types a ValueSetBinding may attach to.
// A plain string element may take a new binding but never replace one.
var codeableTypes = map[string]bool{
	"code":            true,
	"Coding":          true,
	"CodeableConcept": true,
	"Quantity":        true,
}

func (e *Exporter) applyBinding(ctx context.Context, sd *StructureDefinition, rule *ast.ValueSetBinding) {
	idx, ok := e.resolve(ctx, sd, rule.RulePath(), rule.RuleSpan())
	if !ok {
		return
	}
	node := sd.Tree.At(idx)

	bindable := false
	for _, t := range node.Types {
		if codeableTypes[t.Code] {
			bindable = true
			break
		}
		if t.Code == "string" && node.Binding == nil {
			bindable = true
			break
		}
	}
	if !bindable {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeCodedTypeNotFound,
			Message: fmt.Sprintf("element %s has no codeable type to bind", rule.RulePath()),
			File:    rule.RuleSpan().File,
			Span:    toDiagSpan(rule.RuleSpan()),
		})
		return
	}

	if node.Binding != nil {
		old := ast.BindingStrength(node.Binding.Strength)
		if rule.Strength.Rank() < old.Rank() {
			e.res.Add(diag.Record{
				Level: diag.LevelError,
				Code:  diag.CodeBindingStrength,
				Message: fmt.Sprintf("binding on %s weakens strength from %s to %s",
					rule.RulePath(), old, rule.Strength),
				File: rule.RuleSpan().File,
				Span: toDiagSpan(rule.RuleSpan()),
			})
			return
		}
	}
	newBinding := &element.Binding{Strength: string(rule.Strength), ValueSet: rule.ValueSet}
	if node.Binding == nil || *node.Binding != *newBinding {
		node.Binding = newBinding
		sd.Tree.MarkMutated(idx)
	}
}

func (e *Exporter) applyOnly(ctx context.Context, sd *StructureDefinition, rule *ast.Only) {
	idx, ok := e.resolve(ctx, sd, rule.RulePath(), rule.RuleSpan())
	if !ok {
		return
	}
	node := sd.Tree.At(idx)

	var refChoices []string
	var plainChoices []string
	for _, tc := range rule.Types {
		if tc.IsReference {
			refChoices = append(refChoices, tc.Name)
		} else {
			plainChoices = append(plainChoices, tc.Name)
		}
	}

	var newTypes []element.TypeRef
	for _, want := range plainChoices {
		found := false
		for _, t := range node.Types {
			if t.Code == want {
				newTypes = append(newTypes, t)
				found = true
				break
			}
		}
		if !found {
			e.res.Add(diag.Record{
				Level:   diag.LevelError,
				Code:    diag.CodeTypeNotFound,
				Message: fmt.Sprintf("type %s is not an inherited choice of %s", want, rule.RulePath()),
				File:    rule.RuleSpan().File,
				Span:    toDiagSpan(rule.RuleSpan()),
			})
			return
		}
	}

	if len(refChoices) > 0 {
		var refType *element.TypeRef
		for i := range node.Types {
			if node.Types[i].Code == "Reference" {
				refType = &node.Types[i]
				break
			}
		}
		if refType == nil {
			e.res.Add(diag.Record{
				Level:   diag.LevelError,
				Code:    diag.CodeTypeNotFound,
				Message: fmt.Sprintf("element %s has no Reference type to narrow", rule.RulePath()),
				File:    rule.RuleSpan().File,
				Span:    toDiagSpan(rule.RuleSpan()),
			})
			return
		}
		narrowed, ok := narrowTargets(refType.TargetProfile, refChoices)
		if !ok {
			e.res.Add(diag.Record{
				Level:   diag.LevelError,
				Code:    diag.CodeTypeNotFound,
				Message: fmt.Sprintf("no Reference target of %s matches %v", rule.RulePath(), refChoices),
				File:    rule.RuleSpan().File,
				Span:    toDiagSpan(rule.RuleSpan()),
			})
			return
		}
		newTypes = append(newTypes, element.TypeRef{Code: "Reference", TargetProfile: narrowed})
	}

	if len(newTypes) == 0 {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeNoSingleType,
			Message: fmt.Sprintf("only rule on %s removes every type", rule.RulePath()),
			File:    rule.RuleSpan().File,
			Span:    toDiagSpan(rule.RuleSpan()),
		})
		return
	}
	node.Types = newTypes
	sd.Tree.MarkMutated(idx)
}

// narrowTargets intersects a Reference type's inherited targetProfile list
// with the requested target names: narrowed targets come first in request
// order, then any untouched inherited entries in their original order. An
// empty inherited list means the parent placed no restriction and the
// request stands as given.
func narrowTargets(old []string, wanted []string) ([]string, bool) {
	toURL := func(name string) string {
		if bytes.ContainsAny([]byte(name), ":/") {
			return name
		}
		return fhirCoreBase + name
	}
	if len(old) == 0 {
		out := make([]string, len(wanted))
		for i, w := range wanted {
			out[i] = toURL(w)
		}
		return out, true
	}

	matched := map[string]bool{}
	var narrowed []string
	for _, w := range wanted {
		url := toURL(w)
		for _, o := range old {
			if o == url {
				narrowed = append(narrowed, o)
				matched[o] = true
				break
			}
		}
	}
	if len(narrowed) == 0 {
		return nil, false
	}
	return narrowed, true
}

func (e *Exporter) applyContains(ctx context.Context, sd *StructureDefinition, rule *ast.Contains) {
	idx, ok := e.resolve(ctx, sd, rule.RulePath(), rule.RuleSpan())
	if !ok {
		return
	}

	base := sd.Tree.At(idx)
	baseMax := maxCount(base.Max)
	if baseMax <= 1 {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeSlicingDefinitionError,
			Message: fmt.Sprintf("element %s is not repeating and cannot be sliced", rule.RulePath()),
			File:    rule.RuleSpan().File,
			Span:    toDiagSpan(rule.RuleSpan()),
		})
		return
	}

	var minSum uint64
	for _, s := range sd.Tree.Nodes {
		if s.Path == base.Path && s.SliceName != "" {
			minSum += uint64(s.Min)
		}
	}
	for _, item := range rule.Items {
		if maxCount(item.Max) > baseMax {
			e.res.Add(diag.Record{
				Level:   diag.LevelError,
				Code:    diag.CodeInvalidMaxOfSlice,
				Message: fmt.Sprintf("slice %s max %s exceeds %s max %s", item.Name, item.Max, rule.RulePath(), base.Max),
				File:    rule.RuleSpan().File,
				Span:    toDiagSpan(rule.RuleSpan()),
			})
			continue
		}
		minSum += uint64(item.Min)
		if minSum > baseMax {
			e.res.Add(diag.Record{
				Level:   diag.LevelError,
				Code:    diag.CodeInvalidSumOfSliceMins,
				Message: fmt.Sprintf("sum of slice mins on %s exceeds its max %s", rule.RulePath(), base.Max),
				File:    rule.RuleSpan().File,
				Span:    toDiagSpan(rule.RuleSpan()),
			})
			continue
		}
		sliceIdx := sd.Tree.AddSlice(idx, item.Name, item.Type, item.Min, item.Max)
		e.mergeFlags(sd, sliceIdx, item.Flags)
	}
}

func (e *Exporter) applyCaret(ctx context.Context, sd *StructureDefinition, rule *ast.CaretValue) {
	idx, ok := e.resolve(ctx, sd, rule.RulePath(), rule.RuleSpan())
	if !ok {
		return
	}
	raw, _, ok := EncodeValue(rule.Value, "")
	if !ok {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeMismatchedType,
			Message: fmt.Sprintf("caret value on %s ^%s cannot be encoded", rule.RulePath(), rule.CaretPath),
			File:    rule.RuleSpan().File,
			Span:    toDiagSpan(rule.RuleSpan()),
		})
		return
	}
	node := sd.Tree.At(idx)
	if node.Caret == nil {
		node.Caret = map[string]json.RawMessage{}
	}
	node.Caret[rule.CaretPath] = raw
	sd.Tree.MarkMutated(idx)
}

func (e *Exporter) applyFixed(ctx context.Context, sd *StructureDefinition, rule *ast.FixedValue) {
	idx, ok := e.resolve(ctx, sd, rule.RulePath(), rule.RuleSpan())
	if !ok {
		return
	}
	node := sd.Tree.At(idx)

	typeCode, ok := singleTypeFor(node, rule.RulePath())
	if !ok {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeNoSingleType,
			Message: fmt.Sprintf("element %s has multiple types; narrow with an only rule before assigning", rule.RulePath()),
			File:    rule.RuleSpan().File,
			Span:    toDiagSpan(rule.RuleSpan()),
		})
		return
	}

	raw, suffix, ok := EncodeValue(rule.Value, typeCode)
	if !ok {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeMismatchedType,
			Message: fmt.Sprintf("value on %s does not fit type %s", rule.RulePath(), typeCode),
			File:    rule.RuleSpan().File,
			Span:    toDiagSpan(rule.RuleSpan()),
		})
		return
	}

	// An inherited or earlier fixed value can never be replaced or
	// loosened to a pattern; a re-assertion of the same value is a no-op.
	if node.Fixed != nil {
		if bytes.Equal(node.Fixed, raw) && node.FixedType == suffix {
			return
		}
		code := diag.CodeValueAlreadyFixed
		if !rule.Exactly {
			code = diag.CodeFixedToPattern
		}
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    code,
			Message: fmt.Sprintf("element %s already has fixed%s %s", rule.RulePath(), node.FixedType, node.Fixed),
			File:    rule.RuleSpan().File,
			Span:    toDiagSpan(rule.RuleSpan()),
		})
		return
	}

	if rule.Exactly {
		node.Fixed = raw
		node.FixedType = suffix
		node.Pattern = nil
		node.PatternType = ""
	} else {
		if node.Pattern != nil && bytes.Equal(node.Pattern, raw) && node.PatternType == suffix {
			return
		}
		node.Pattern = raw
		node.PatternType = suffix
	}
	sd.Tree.MarkMutated(idx)
}

// singleTypeFor picks the one type a fixed/pattern value attaches under.
// A choice path spelled as a concrete variant ("valueQuantity") selects
// that variant's type even when the choice element itself still lists
// several.
func singleTypeFor(node *element.Node, rulePath string) (string, bool) {
	if len(node.Types) == 1 {
		return node.Types[0].Code, true
	}
	segs := element.ParseSegments(rulePath)
	if len(segs) == 0 || len(node.Types) == 0 {
		return "", false
	}
	last := segs[len(segs)-1].Name
	for _, t := range node.Types {
		if last == choiceBaseOf(node.Path)+upperFirst(t.Code) {
			return t.Code, true
		}
	}
	return "", false
}

// choiceBaseOf returns the choice stem of a "[x]" path's last segment,
// e.g. "value" for "Observation.value[x]".
func choiceBaseOf(path string) string {
	segs := element.ParseSegments(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1].Name
}
