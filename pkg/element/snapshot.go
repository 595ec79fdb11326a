package element

import (
	"encoding/json"
	"strings"
)

// rawElementDefinition mirrors the subset of a FHIR ElementDefinition JSON
// object this compiler reads when resolving a parent snapshot.
type rawElementDefinition struct {
	ID          string          `json:"id"`
	Path        string          `json:"path"`
	SliceName   string          `json:"sliceName,omitempty"`
	Short       string          `json:"short,omitempty"`
	Definition  string          `json:"definition,omitempty"`
	Min         *uint32         `json:"min,omitempty"`
	Max         string          `json:"max,omitempty"`
	Type        []TypeRef       `json:"type,omitempty"`
	Binding     *Binding        `json:"binding,omitempty"`
	Slicing     *Slicing        `json:"slicing,omitempty"`
	MustSupport bool            `json:"mustSupport,omitempty"`
	IsModifier  bool            `json:"isModifier,omitempty"`
	IsSummary   bool            `json:"isSummary,omitempty"`
	ContentRef  string          `json:"contentReference,omitempty"`
}

// rawStructureDefinition mirrors the subset of a FHIR StructureDefinition
// JSON object this compiler reads: identity fields plus the snapshot
// element array. Fixed/pattern values are recovered afterward via a raw
// per-element re-scan rather than hardcoding the 40+ possible
// fixed[x]/pattern[x] field names here.
type rawStructureDefinition struct {
	URL            string            `json:"url"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	BaseDefinition string            `json:"baseDefinition"`
	Derivation     string            `json:"derivation"`
	Context        []json.RawMessage `json:"context,omitempty"`
	Snapshot       *struct {
		Element []json.RawMessage `json:"element"`
	} `json:"snapshot"`
}

// ParentInfo carries the identity fields of a resolved parent
// StructureDefinition that the element Tree itself does not model (the
// Tree only holds the element list).
type ParentInfo struct {
	URL     string
	Type    string
	Context []json.RawMessage
}

// FromSnapshotJSON builds a Tree from a FHIR StructureDefinition's
// `snapshot.element` array. Elements are assumed to be in top-down document
// order (every FHIR-conformant snapshot is), so a node's parent is always
// already indexed by the time the node itself is processed.
func FromSnapshotJSON(sdJSON []byte) (*Tree, ParentInfo, error) {
	var raw rawStructureDefinition
	if err := json.Unmarshal(sdJSON, &raw); err != nil {
		return nil, ParentInfo{}, err
	}
	t := NewTree(raw.Type)
	info := ParentInfo{URL: raw.URL, Type: raw.Type, Context: raw.Context}
	if raw.Snapshot == nil {
		return t, info, nil
	}

	for _, elemRaw := range raw.Snapshot.Element {
		var re rawElementDefinition
		if err := json.Unmarshal(elemRaw, &re); err != nil {
			continue
		}
		n := Node{
			ID:               re.ID,
			Path:             re.Path,
			SliceName:        re.SliceName,
			Max:              re.Max,
			Types:            re.Type,
			Binding:          re.Binding,
			Slicing:          re.Slicing,
			MustSupport:      re.MustSupport,
			Modifier:         re.IsModifier,
			Summary:          re.IsSummary,
			Short:            re.Short,
			Definition:       re.Definition,
			ContentReference: re.ContentRef,
		}
		if re.Min != nil {
			n.Min = *re.Min
		}
		n.Fixed, n.FixedType, _ = extractPrefixed(elemRaw, "fixed")
		n.Pattern, n.PatternType, _ = extractPrefixed(elemRaw, "pattern")

		parentIdx := findParentIndex(t, re.Path, re.SliceName)
		t.add(n, parentIdx)
	}
	return t, info, nil
}

// findParentIndex locates the index of node's structural parent: for a
// slice entry (re.SliceName != ""), the parent is the base (unsliced)
// array element at the same path; otherwise it is the node at the path
// with its last segment (and any "[x]" choice suffix) removed.
func findParentIndex(t *Tree, path, sliceName string) int {
	if sliceName != "" {
		if idx, ok := t.byPath[path]; ok {
			return idx
		}
	}
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return -1
	}
	parentPath := path[:i]
	if idx, ok := t.byPath[parentPath]; ok {
		return idx
	}
	// The element may be a concrete choice-type variant path
	// ("Observation.valueQuantity") whose parent is "Observation.value[x]"
	// rather than a literal prefix match; fall back to a choice-base scan.
	for p, idx := range t.byPath {
		if strings.Contains(p, "[x]") && strings.HasPrefix(path, strings.TrimSuffix(p, "[x]")) {
			return idx
		}
	}
	return -1
}

// extractPrefixed finds the first JSON field whose key starts with prefix
// ("fixed" or "pattern") in elemRaw, returning its raw value and the type
// suffix (e.g. "CodeableConcept").
func extractPrefixed(elemRaw json.RawMessage, prefix string) (json.RawMessage, string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(elemRaw, &obj); err != nil {
		return nil, "", false
	}
	for key, val := range obj {
		if strings.HasPrefix(key, prefix) && key != prefix {
			return val, strings.TrimPrefix(key, prefix), true
		}
	}
	return nil, "", false
}
