package element

import "strings"

// Segment is one dot-separated component of a rule path, with its
// optional bracket suffix split out: an array index ("0"), a slice name
// ("niceSlice"), or the literal choice marker ("x" from "value[x]").
type Segment struct {
	Name    string
	Bracket string
}

// ParseSegments splits a rule path into its dotted Segments. "." (a caret
// rule applying to the entity's own root element) yields no segments.
func ParseSegments(path string) []Segment {
	if path == "." || path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		name, bracket := p, ""
		if lb := strings.IndexByte(p, '['); lb >= 0 && strings.HasSuffix(p, "]") {
			name = p[:lb]
			bracket = p[lb+1 : len(p)-1]
		}
		segs[i] = Segment{Name: name, Bracket: bracket}
	}
	return segs
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

// Resolve walks path from the tree's root element and returns the index
// of the node it names. Each segment takes one of four transitions: (a)
// direct child, (b) choice-base materialization ("valueQuantity" resolving
// against a "value[x]" sibling), (c) sliced array entry, (d) nascent slice
// (reported unresolved; Contains rule application creates slices
// explicitly via AddSlice rather than through this generic walk).
func (t *Tree) Resolve(path string) (idx int, ok bool) {
	cur := t.Get(t.Type)
	if cur < 0 {
		return -1, false
	}
	if path == "." || path == "" {
		return cur, true
	}
	for _, seg := range ParseSegments(path) {
		next, found := t.step(cur, seg)
		if !found {
			return -1, false
		}
		cur = next
	}
	return cur, true
}

// Step performs one segment transition from cur, exposing the walker's
// single state transition to callers that interleave resolution with lazy
// tree growth (type unfolding, slice creation).
func (t *Tree) Step(cur int, seg Segment) (int, bool) { return t.step(cur, seg) }

func (t *Tree) step(cur int, seg Segment) (int, bool) {
	// (a) direct child by name.
	if c := t.ChildByName(cur, seg.Name); c >= 0 {
		if seg.Bracket != "" && !isNumeric(seg.Bracket) && seg.Bracket != "x" {
			// (c) sliced array entry.
			if s := t.GetSlice(t.Nodes[c].Path, seg.Bracket); s >= 0 {
				return s, true
			}
			// (d) nascent slice: not created yet on this walk.
			return -1, false
		}
		return c, true
	}

	// (b) choice-base: seg.Name is either the literal "value[x]" base
	// ("value") or a concrete type variant ("valueQuantity") of a
	// sibling choice element.
	for _, c := range t.Nodes[cur].Children {
		childName := lastSegment(t.Nodes[c].Path)
		if !strings.HasSuffix(childName, "[x]") {
			continue
		}
		base := strings.TrimSuffix(childName, "[x]")
		if seg.Name == base {
			return c, true
		}
		if strings.HasPrefix(seg.Name, base) && len(seg.Name) > len(base) {
			return c, true
		}
	}
	return -1, false
}

// Graft copies typeTree's element hierarchy under the node at `at`,
// rebasing paths and ids from the type's own root ("CodeableConcept") to
// the target element's ("Patient.maritalStatus"). Grafted nodes arrive
// unmutated: they only enter the differential if a later rule touches
// them. This is how a rule path descends into a complex datatype the
// parent snapshot does not itself expand.
func (t *Tree) Graft(at int, typeTree *Tree) {
	rootIdx := typeTree.Get(typeTree.Type)
	if rootIdx < 0 {
		return
	}
	basePath := t.Nodes[at].Path
	baseID := t.Nodes[at].ID

	var rec func(srcIdx, dstParent int)
	rec = func(srcIdx, dstParent int) {
		for _, c := range typeTree.Nodes[srcIdx].Children {
			src := typeTree.Nodes[c]
			n := src
			n.Path = basePath + strings.TrimPrefix(src.Path, typeTree.Type)
			n.ID = baseID + strings.TrimPrefix(src.ID, typeTree.Type)
			n.Children = nil
			n.mutated = false
			newIdx := t.add(n, dstParent)
			rec(c, newIdx)
		}
	}
	rec(rootIdx, at)
}

// AddSlice creates (or returns an existing) named slice entry under the
// array element at baseIdx, installing a default "value" discriminator on
// the base element's Slicing if none is set yet.
func (t *Tree) AddSlice(baseIdx int, sliceName, itemType string, min uint32, max string) int {
	base := &t.Nodes[baseIdx]
	if idx := t.GetSlice(base.Path, sliceName); idx >= 0 {
		return idx
	}
	if base.Slicing == nil {
		base.Slicing = &Slicing{
			Discriminator: []Discriminator{{Type: "value", Path: "$this"}},
			Rules:         "open",
		}
	}
	types := base.Types
	if itemType != "" {
		types = []TypeRef{{Code: itemType}}
	}
	n := Node{
		ID:        base.ID + ":" + sliceName,
		Path:      base.Path,
		SliceName: sliceName,
		Min:       min,
		Max:       max,
		Types:     types,
	}
	idx := t.add(n, base.Parent)
	t.MarkMutated(baseIdx)
	t.MarkMutated(idx)
	return idx
}
