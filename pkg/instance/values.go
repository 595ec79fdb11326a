package instance

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/element"
	"github.com/gofhir/fsh/pkg/sdexport"
)

// resolveValue turns an assignment's AST value into the JSON-shaped Go
// value written into the instance, resolving instance references,
// contained-resource rewrites, and canonicals against the Tank.
func (b *builder) resolveValue(ctx context.Context, a *ast.Assignment, node *element.Node) (any, bool) {
	switch v := a.Value.(type) {
	case ast.InstanceRef:
		if a.IsInstance {
			return b.resolveInlineInstance(ctx, v.Name, a)
		}
		// A bare name on a code-typed element is a code token.
		return v.Name, true

	case ast.Reference:
		return b.resolveReference(ctx, v.Target, a), true

	case ast.Canonical:
		return b.resolveCanonical(ctx, v.Target, a)

	default:
		typeCode := ""
		if len(node.Types) == 1 {
			typeCode = node.Types[0].Code
		}
		raw, _, ok := sdexport.EncodeValue(a.Value, typeCode)
		if !ok {
			b.exporter.errf(a.RuleSpan(), diag.CodeMismatchedType,
				"value on %s does not fit element type %s", a.RulePath(), typeCode)
			return nil, false
		}
		var out any
		d := json.NewDecoder(bytes.NewReader(raw))
		d.UseNumber()
		if err := d.Decode(&out); err != nil {
			return nil, false
		}
		return out, true
	}
}

// resolveInlineInstance exports the named instance and inlines a copy of
// its resource body.
func (b *builder) resolveInlineInstance(ctx context.Context, name string, a *ast.Assignment) (any, bool) {
	ent, ok := b.exporter.tank.FindEntity(name)
	if !ok {
		b.exporter.errf(a.RuleSpan(), diag.CodeMismatchedType,
			"instance %s assigned at %s is not defined", name, a.RulePath())
		return nil, false
	}
	inst, ok := ent.(*ast.Instance)
	if !ok {
		b.exporter.errf(a.RuleSpan(), diag.CodeFixingNonResource,
			"%s assigned at %s is not an Instance", name, a.RulePath())
		return nil, false
	}
	def, ok := b.exporter.Export(ctx, inst)
	if !ok {
		return nil, false
	}
	return deepCopy(def.Data), true
}

// resolveReference renders Reference(Name): "#id" when the referent is
// already contained in this instance, "Type/id" when it is another Tank
// instance, and the target text verbatim otherwise (an external literal).
func (b *builder) resolveReference(ctx context.Context, target string, a *ast.Assignment) any {
	if ent, ok := b.exporter.tank.FindEntity(target); ok {
		if inst, isInst := ent.(*ast.Instance); isInst {
			if def, ok := b.exporter.Export(ctx, inst); ok {
				if b.isContained(def.ID) {
					return map[string]any{"reference": "#" + def.ID}
				}
				return map[string]any{"reference": def.ResourceType + "/" + def.ID}
			}
		}
	}
	return map[string]any{"reference": target}
}

// isContained reports whether a resource with the given id is present in
// this instance's contained array at the time the reference resolves.
func (b *builder) isContained(id string) bool {
	contained, ok := b.def.Data["contained"].([]any)
	if !ok {
		return false
	}
	for _, c := range contained {
		if m, ok := c.(map[string]any); ok && m["id"] == id {
			return true
		}
	}
	return false
}

// resolveCanonical renders Canonical(Name) as the referent's canonical
// URL, resolved across Tank entities and the Definitions Cache.
func (b *builder) resolveCanonical(ctx context.Context, target string, a *ast.Assignment) (any, bool) {
	if ent, ok := b.exporter.tank.FindEntity(target); ok {
		switch v := ent.(type) {
		case *ast.ValueSet:
			if v.URL != "" {
				return v.URL, true
			}
		case *ast.CodeSystem:
			if v.URL != "" {
				return v.URL, true
			}
		case *ast.Profile, *ast.Extension:
			if sd, ok := b.exporter.sds.ResolveSD(ctx, target); ok {
				return sd.URL, true
			}
		}
	}
	if meta, ok := b.exporter.tank.FishForMetadata(ctx, target, ast.KindValueSet); ok && meta.URL != "" {
		return meta.URL, true
	}
	b.exporter.errf(a.RuleSpan(), diag.CodeCannotResolveCanonical,
		"cannot resolve Canonical(%s) at %s", target, a.RulePath())
	return nil, false
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return deepCopy(vv)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

