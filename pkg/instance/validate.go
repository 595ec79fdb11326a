package instance

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/sdexport"
)

// validateRequired walks the StructureDefinition's element tree and checks
// that every child with min > 0 has at least min occurrences in the
// instance. Choice elements count any concrete variant key; a primitive
// with only extension data present counts through its "_name" sibling.
// One error is emitted per missing element, attributed to the instance's
// own source span.
func (e *Exporter) validateRequired(ctx context.Context, sd *sdexport.StructureDefinition, def *InstanceDefinition) {
	root := sd.Tree.Get(sd.Tree.Type)
	if root < 0 {
		return
	}
	e.checkChildren(sd, root, def.Data, sd.Tree.Type, def)
}

func (e *Exporter) checkChildren(sd *sdexport.StructureDefinition, idx int, data map[string]any, at string, def *InstanceDefinition) {
	for _, c := range sd.Tree.Children(idx) {
		node := sd.Tree.At(c)
		if node.SliceName != "" {
			continue
		}
		name := lastPathSegment(node.Path)
		values := occurrencesOf(data, name)

		if node.Min > 0 && uint32(len(values)) < node.Min {
			e.res.Add(diag.Record{
				Level: diag.LevelError,
				Code:  diag.CodeRequiredElementMissing,
				Message: fmt.Sprintf("instance %s is missing required element %s (min %d, found %d)",
					def.Name, at+"."+strings.TrimSuffix(name, "[x]"), node.Min, len(values)),
				File: def.Span.File,
				Span: toDiagSpan(def.Span),
			})
			continue
		}

		// Descend only into instantiated subtrees; absent optional
		// elements have nothing to check below them.
		for _, v := range values {
			if m, ok := v.(map[string]any); ok {
				e.checkChildren(sd, c, m, at+"."+name, def)
			}
		}
	}
}

// occurrencesOf collects the concrete values data holds for an element
// name: the value itself, each member of an array value, any choice
// variant for a "[x]" name, and the "_name" primitive-extension sibling.
func occurrencesOf(data map[string]any, name string) []any {
	var keys []string
	if strings.HasSuffix(name, "[x]") {
		stem := strings.TrimSuffix(name, "[x]")
		for k := range data {
			if strings.HasPrefix(k, stem) && len(k) > len(stem) && k[len(stem)] >= 'A' && k[len(stem)] <= 'Z' {
				keys = append(keys, k)
			}
		}
	} else {
		keys = []string{name, "_" + name}
	}

	var out []any
	for _, k := range keys {
		v, ok := data[k]
		if !ok || v == nil {
			continue
		}
		if arr, isArr := v.([]any); isArr {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func lastPathSegment(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return path
	}
	return path[i+1:]
}
