package sdexport

import (
	"encoding/json"
	"strings"

	"github.com/gofhir/fsh/pkg/ast"
)

// EncodeValue renders an AST value as the JSON it takes under a
// fixed[x]/pattern[x] field of an element typed typeCode, returning the raw
// JSON and the capitalized type suffix ("String", "CodeableConcept", ...).
// typeCode "" means no target type is known (caret values), in which case
// the value's natural JSON shape is used.
//
// The notable lift: a bare code literal assigned to a CodeableConcept
// element becomes {coding: [{system, code}]}, and to a Coding element
// becomes {system, code, display}; on code/string-family types only the
// code itself survives and a declared system is dropped.
func EncodeValue(v ast.Value, typeCode string) (json.RawMessage, string, bool) {
	switch val := v.(type) {
	case ast.String:
		raw, _ := json.Marshal(string(val))
		return raw, suffixFor(typeCode, "String"), true

	case ast.Number:
		return json.RawMessage(val.String()), suffixFor(typeCode, "Decimal"), true

	case ast.Bool:
		if bool(val) {
			return json.RawMessage("true"), suffixFor(typeCode, "Boolean"), true
		}
		return json.RawMessage("false"), suffixFor(typeCode, "Boolean"), true

	case ast.DateTime:
		raw, _ := json.Marshal(string(val))
		return raw, suffixFor(typeCode, "DateTime"), true

	case ast.Code:
		return encodeCode(val, typeCode)

	case ast.Quantity:
		raw, _ := json.Marshal(quantityJSON(val))
		return raw, "Quantity", true

	case ast.Ratio:
		raw, _ := json.Marshal(map[string]any{
			"numerator":   quantityJSON(val.Numerator),
			"denominator": quantityJSON(val.Denominator),
		})
		return raw, "Ratio", true

	case ast.Reference:
		raw, _ := json.Marshal(map[string]any{"reference": val.Target})
		return raw, "Reference", true

	case ast.Canonical:
		raw, _ := json.Marshal(val.Target)
		return raw, "Canonical", true

	default:
		return nil, "", false
	}
}

func encodeCode(c ast.Code, typeCode string) (json.RawMessage, string, bool) {
	switch typeCode {
	case "CodeableConcept":
		coding := map[string]any{"code": c.Code}
		if c.System != "" {
			coding["system"] = c.System
		}
		if c.Display != "" {
			coding["display"] = c.Display
		}
		raw, _ := json.Marshal(map[string]any{"coding": []any{coding}})
		return raw, "CodeableConcept", true
	case "Coding":
		obj := map[string]any{"code": c.Code}
		if c.System != "" {
			obj["system"] = c.System
		}
		if c.Display != "" {
			obj["display"] = c.Display
		}
		raw, _ := json.Marshal(obj)
		return raw, "Coding", true
	case "Quantity":
		obj := map[string]any{"code": c.Code}
		if c.System != "" {
			obj["system"] = c.System
		}
		raw, _ := json.Marshal(obj)
		return raw, "Quantity", true
	default:
		// code/string/uri family: the code alone is the value.
		raw, _ := json.Marshal(c.Code)
		return raw, suffixFor(typeCode, "Code"), true
	}
}

func quantityJSON(q ast.Quantity) map[string]any {
	obj := map[string]any{
		"value": json.RawMessage(q.Value.String()),
	}
	if q.Unit != "" {
		obj["system"] = "http://unitsofmeasure.org"
		obj["code"] = q.Unit
	}
	return obj
}

// suffixFor turns an element's type code into the fixed[x]/pattern[x]
// field suffix, falling back to the value's natural suffix when no type is
// known.
func suffixFor(typeCode, natural string) string {
	if typeCode == "" {
		return natural
	}
	return upperFirst(typeCode)
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
