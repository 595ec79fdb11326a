package element

import (
	"encoding/json"
	"strings"
)

// MarshalElementJSON renders n as a FHIR ElementDefinition JSON object,
// reassembling the dynamic fixed[x]/pattern[x] key from
// FixedType/PatternType and merging any CaretValue-set fields recorded in
// n.Caret.
func (n *Node) MarshalElementJSON() (json.RawMessage, error) {
	obj := map[string]any{
		"id":   n.ID,
		"path": n.Path,
		"min":  n.Min,
		"max":  n.Max,
	}
	if n.SliceName != "" {
		obj["sliceName"] = n.SliceName
	}
	if n.Short != "" {
		obj["short"] = n.Short
	}
	if n.Definition != "" {
		obj["definition"] = n.Definition
	}
	if len(n.Types) > 0 {
		obj["type"] = n.Types
	}
	if n.Binding != nil {
		obj["binding"] = n.Binding
	}
	if n.Slicing != nil {
		obj["slicing"] = n.Slicing
	}
	if n.MustSupport {
		obj["mustSupport"] = true
	}
	if n.Modifier {
		obj["isModifier"] = true
	}
	if n.Summary {
		obj["isSummary"] = true
	}
	if n.ContentReference != "" {
		obj["contentReference"] = n.ContentReference
	}
	if n.Fixed != nil && n.FixedType != "" {
		var v any
		if err := json.Unmarshal(n.Fixed, &v); err == nil {
			obj["fixed"+n.FixedType] = v
		}
	}
	if n.Pattern != nil && n.PatternType != "" {
		var v any
		if err := json.Unmarshal(n.Pattern, &v); err == nil {
			obj["pattern"+n.PatternType] = v
		}
	}
	for caretPath, raw := range n.Caret {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		setNested(obj, strings.Split(caretPath, "."), v)
	}
	return json.Marshal(obj)
}

// setNested assigns value at the dotted path inside obj, creating
// intermediate maps as needed. Array-indexed caret path segments (e.g.
// "discriminator[0]") are treated as literal map keys rather than true
// array indexing — CaretValue targets in practice are scalar leaf fields,
// and the richer array-splice case (multiple discriminators set via
// separate caret rules) is out of scope for this simplification.
func setNested(obj map[string]any, segs []string, value any) {
	if len(segs) == 1 {
		obj[segs[0]] = value
		return
	}
	child, ok := obj[segs[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		obj[segs[0]] = child
	}
	setNested(child, segs[1:], value)
}
