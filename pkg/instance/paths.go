package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/element"
	"github.com/gofhir/fsh/pkg/sdexport"
)

// part is one concrete segment of an assignment path: an element name plus
// at most one of an array index, a slice name, or the "[x]" choice marker.
type part struct {
	Name   string
	Index  int // -1 when no numeric index was written
	Slice  string
	Choice bool
}

// parseParts normalizes an assignment path into concrete parts. Numeric
// zero indexes ("[0]", "[00]") collapse to the bare segment, so "[0]" and
// no index address the same occurrence.
func parseParts(path string) []part {
	segs := element.ParseSegments(path)
	out := make([]part, len(segs))
	for i, s := range segs {
		p := part{Name: s.Name, Index: -1}
		switch {
		case s.Bracket == "":
		case s.Bracket == "x":
			p.Choice = true
		case isNumeric(s.Bracket):
			n, _ := strconv.Atoi(s.Bracket)
			p.Index = n
			if n == 0 {
				p.Index = -1
			}
		default:
			p.Slice = s.Bracket
		}
		out[i] = p
	}
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// concreteKey renders parts[0:n] as a canonical dotted key used for
// override prefixes, implied-value dedup, and protection tracking.
func concreteKey(parts []part) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p.Name)
		switch {
		case p.Index > 0:
			fmt.Fprintf(&b, "[%d]", p.Index)
		case p.Slice != "":
			fmt.Fprintf(&b, "[%s]", p.Slice)
		}
	}
	return b.String()
}

// elementPath renders parts as the path form the element tree resolver
// understands: names with slice brackets kept, numeric indexes dropped.
func elementPath(parts []part) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p.Name)
		if p.Slice != "" {
			fmt.Fprintf(&b, "[%s]", p.Slice)
		}
	}
	return b.String()
}

// builder holds the per-instance state of one export: the active inline
// resource overrides, slice-to-index allocation, and which concrete leaf
// paths hold SD-supplied values an explicit assignment may not replace.
type builder struct {
	exporter *Exporter
	sd       *sdexport.StructureDefinition
	def      *InstanceDefinition

	// overrides maps a concrete path prefix to the resourceType every
	// descendant path validates against instead of the declared element's
	// type (inline resources).
	overrides map[string]string

	// sliceIdx allocates array positions for named slices, keyed by
	// "concretePrefix:sliceName".
	sliceIdx map[string]int

	// implied dedups implied-value materialization per concrete path.
	implied map[string]bool

	// protected marks concrete leaf paths whose value came from an SD
	// fixed[x]/pattern[x]; an explicit conflicting assignment is rejected
	// and the SD value preserved.
	protected map[string]bool
}

// prescanInlineResources records, before any rule applies, every path
// whose assigned value is itself a resource instance (or an explicit
// .resourceType assignment), so descendant paths validate against the
// nested resource's type rather than the declared element's.
func (b *builder) prescanInlineResources(ctx context.Context, rules []ast.AssignmentRule) {
	for _, r := range rules {
		a, ok := r.(*ast.Assignment)
		if !ok {
			continue
		}
		parts := parseParts(a.RulePath())
		if ref, ok := a.Value.(ast.InstanceRef); ok && a.IsInstance {
			if ent, found := b.exporter.tank.FindEntity(ref.Name); found {
				if inst, isInst := ent.(*ast.Instance); isInst {
					if sd, ok := b.exporter.sds.ResolveSD(ctx, inst.InstanceOf); ok {
						b.overrides[concreteKey(parts)] = sd.Type
					}
				}
			}
			continue
		}
		if len(parts) > 1 && parts[len(parts)-1].Name == "resourceType" {
			if s, isStr := a.Value.(ast.String); isStr {
				b.overrides[concreteKey(parts[:len(parts)-1])] = string(s)
			}
		}
	}
}

// elementFor resolves parts against the instance's StructureDefinition,
// honoring the longest matching inline-resource override prefix. It
// returns the element node and the definition it was found in.
func (b *builder) elementFor(ctx context.Context, parts []part) (*element.Node, *sdexport.StructureDefinition, bool) {
	sd := b.sd
	rest := parts
	// Longest override prefix wins.
	for n := len(parts) - 1; n > 0; n-- {
		if rt, ok := b.overrides[concreteKey(parts[:n])]; ok {
			overrideSD, found := b.exporter.sds.ResolveSD(ctx, rt)
			if !found {
				return nil, nil, false
			}
			sd = overrideSD
			rest = parts[n:]
			break
		}
	}
	if len(rest) == 0 {
		return nil, nil, false
	}
	idx, ok := b.exporter.sds.ResolvePath(ctx, sd, elementPath(rest))
	if !ok {
		return nil, nil, false
	}
	return sd.Tree.At(idx), sd, true
}

// applyAssignment runs one explicit rule: materialize implied ancestor
// values, resolve and encode the value against the element's type, and
// write it into the instance data.
func (b *builder) applyAssignment(ctx context.Context, a *ast.Assignment) {
	parts := parseParts(a.RulePath())
	if len(parts) == 0 {
		return
	}

	node, _, ok := b.elementFor(ctx, parts)
	if !ok {
		b.exporter.errf(a.RuleSpan(), diag.CodeCannotResolvePath,
			"cannot resolve path %s on %s", a.RulePath(), b.def.Name)
		return
	}

	b.materializeImplied(ctx, parts)

	value, ok := b.resolveValue(ctx, a, node)
	if !ok {
		return
	}
	b.set(ctx, parts, value, a.RuleSpan())
}

// materializeImplied applies pattern[x]/fixed[x] values carried by every
// ancestor element of a rule path, once per concrete ancestor. Implied
// values never overwrite explicit ones; they exist only because this rule
// reached below them.
func (b *builder) materializeImplied(ctx context.Context, parts []part) {
	for n := 1; n < len(parts); n++ {
		prefix := parts[:n]
		key := concreteKey(prefix)
		if b.implied[key] {
			continue
		}
		b.implied[key] = true

		node, _, ok := b.elementFor(ctx, prefix)
		if !ok {
			continue
		}
		raw := node.Pattern
		if node.Fixed != nil {
			raw = node.Fixed
		}
		if raw == nil {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		b.writeImplied(ctx, prefix, v)
	}
}

// writeImplied merges an SD-supplied value at prefix without overwriting
// anything already present, and marks every scalar leaf it creates as
// protected.
func (b *builder) writeImplied(ctx context.Context, prefix []part, v any) {
	existing := b.lookup(prefix)
	merged := mergeImplied(existing, v, concreteKey(prefix), b.protected)
	b.set(ctx, prefix, merged, ast.Span{})
}

// mergeImplied layers an implied value under an existing one: the existing
// value wins every conflict, and implied scalars record themselves in
// protected keyed by their concrete path.
func mergeImplied(existing, implied any, key string, protected map[string]bool) any {
	impliedMap, impliedIsMap := implied.(map[string]any)
	existingMap, existingIsMap := existing.(map[string]any)
	switch {
	case existing == nil:
		markProtected(implied, key, protected)
		return implied
	case impliedIsMap && existingIsMap:
		for k, iv := range impliedMap {
			existingMap[k] = mergeImplied(existingMap[k], iv, key+"."+k, protected)
		}
		return existingMap
	default:
		return existing
	}
}

// markProtected records every scalar leaf of v under key as SD-supplied.
func markProtected(v any, key string, protected map[string]bool) {
	switch vv := v.(type) {
	case map[string]any:
		for k, child := range vv {
			markProtected(child, key+"."+k, protected)
		}
	case []any:
		for i, child := range vv {
			k := key
			if i > 0 {
				k = fmt.Sprintf("%s[%d]", key, i)
			}
			markProtected(child, k, protected)
		}
	default:
		protected[key] = true
	}
}

// lookup returns the current value at a concrete path, or nil.
func (b *builder) lookup(parts []part) any {
	var cur any = b.def.Data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		key := b.dataKey(nil, nil, p)
		v, ok := m[key]
		if !ok {
			return nil
		}
		if arr, isArr := v.([]any); isArr {
			i := b.indexFor(parts, p, false)
			if i < 0 || i >= len(arr) {
				return nil
			}
			cur = arr[i]
			continue
		}
		cur = v
	}
	return cur
}

// dataKey decides the JSON object key one part writes under. A choice
// part ("value[x]") collapses to its single narrowed type's concrete name.
func (b *builder) dataKey(ctx context.Context, node *element.Node, p part) string {
	if !p.Choice {
		return p.Name
	}
	if node != nil && len(node.Types) == 1 {
		return p.Name + upperFirst(node.Types[0].Code)
	}
	return p.Name
}

// indexFor allocates or recalls the array position a part addresses:
// explicit numeric index, named slice (first-use order), or 0.
func (b *builder) indexFor(parts []part, p part, allocate bool) int {
	if p.Index >= 0 {
		return p.Index
	}
	if p.Slice != "" {
		var prefix []part
		for _, q := range parts {
			prefix = append(prefix, q)
			if q == p {
				break
			}
		}
		key := concreteKey(prefix[:len(prefix)-1]) + "." + p.Name + ":" + p.Slice
		if i, ok := b.sliceIdx[key]; ok {
			return i
		}
		if !allocate {
			return 0
		}
		next := 0
		for k, i := range b.sliceIdx {
			if strings.HasPrefix(k, concreteKey(prefix[:len(prefix)-1])+"."+p.Name+":") && i >= next {
				next = i + 1
			}
		}
		b.sliceIdx[key] = next
		return next
	}
	return 0
}

// set writes value at parts, creating intermediate objects and arrays.
// Array-ness of a step follows the element definition's max cardinality.
// A conflicting write over a protected (SD-supplied) scalar is rejected
// with the SD value preserved; map-over-map writes union their fields.
func (b *builder) set(ctx context.Context, parts []part, value any, span ast.Span) {
	cur := b.def.Data
	for i, p := range parts {
		node, _, _ := b.elementFor(ctx, parts[:i+1])
		key := b.dataKey(ctx, node, p)
		isArray := p.Index >= 0 || p.Slice != "" ||
			(node != nil && node.Max != "1" && node.Max != "0" && node.Max != "")
		last := i == len(parts)-1

		if isArray {
			arr, _ := cur[key].([]any)
			idx := b.indexFor(parts[:i+1], p, true)
			for len(arr) <= idx {
				arr = append(arr, nil)
			}
			if last {
				arr[idx] = b.mergeExplicit(arr[idx], value, concreteKey(parts), span)
			} else {
				m, ok := arr[idx].(map[string]any)
				if !ok {
					m = map[string]any{}
					arr[idx] = m
				}
				cur[key] = arr
				cur = m
				continue
			}
			cur[key] = arr
			return
		}

		if last {
			cur[key] = b.mergeExplicit(cur[key], value, concreteKey(parts), span)
			return
		}
		m, ok := cur[key].(map[string]any)
		if !ok {
			m = map[string]any{}
			cur[key] = m
		}
		cur = m
	}
}

// mergeExplicit applies an explicit assignment over an existing value.
// Later assignments overwrite earlier ones, except that SD-protected
// scalars are preserved (with an error) and object assignments union with
// what the SD already supplied (the superset case).
func (b *builder) mergeExplicit(existing, value any, key string, span ast.Span) any {
	if existing == nil {
		return value
	}
	exMap, exIsMap := existing.(map[string]any)
	valMap, valIsMap := value.(map[string]any)
	if exIsMap && valIsMap {
		for k, v := range valMap {
			exMap[k] = b.mergeExplicit(exMap[k], v, key+"."+k, span)
		}
		return exMap
	}
	if b.protected[key] && !equalJSON(existing, value) {
		b.exporter.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeValueAlreadyFixed,
			Message: fmt.Sprintf("value at %s conflicts with the profile's fixed/pattern value and is ignored", key),
			File:    span.File,
			Span:    toDiagSpan(span),
		})
		return existing
	}
	return value
}

func equalJSON(a, b any) bool {
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return string(ja) == string(jb)
}

// pruneEmpty drops empty containers left by scaffolding walks.
func pruneEmpty(m map[string]any) {
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			pruneEmpty(vv)
			if len(vv) == 0 {
				delete(m, k)
			}
		case []any:
			out := vv[:0]
			for _, item := range vv {
				if im, ok := item.(map[string]any); ok {
					pruneEmpty(im)
					if len(im) == 0 {
						continue
					}
				}
				if item == nil {
					continue
				}
				out = append(out, item)
			}
			if len(out) == 0 {
				delete(m, k)
			} else {
				m[k] = out
			}
		case nil:
			delete(m, k)
		}
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
