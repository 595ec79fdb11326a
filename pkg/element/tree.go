// Package element implements the arena-backed ElementDefinition tree that
// both the StructureDefinition Exporter and the Instance Exporter share:
// nodes live in a flat slice addressed by a path/id index (never a pointer
// tree), so cloning a parent's snapshot for a new derivation is a slice
// copy plus an index rebuild rather than a deep object graph walk.
package element

import (
	"encoding/json"
	"strings"
)

// TypeRef is one allowed type for an element, matching the FHIR
// ElementDefinition.type shape.
type TypeRef struct {
	Code          string   `json:"code"`
	Profile       []string `json:"profile,omitempty"`
	TargetProfile []string `json:"targetProfile,omitempty"`
}

// Binding is a terminology binding on an element.
type Binding struct {
	Strength string `json:"strength"`
	ValueSet string `json:"valueSet,omitempty"`
}

// Discriminator identifies how slices of a repeating element are told
// apart.
type Discriminator struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Slicing carries the discriminator set and rules for a sliced element.
type Slicing struct {
	Discriminator []Discriminator `json:"discriminator,omitempty"`
	Rules         string          `json:"rules,omitempty"`
	Ordered       bool            `json:"ordered,omitempty"`
}

// Node is one ElementDefinition in the arena. Parent/Children are indices
// into the owning Tree's Nodes slice, not pointers, so Clone can copy the
// whole arena with a slice copy.
type Node struct {
	ID        string
	Path      string
	SliceName string

	Min uint32
	Max string

	Types   []TypeRef
	Binding *Binding
	Slicing *Slicing

	MustSupport bool
	Summary     bool
	Modifier    bool

	Short       string
	Definition  string

	// Fixed/Pattern hold the raw JSON value and the type-suffix key it was
	// stored under (e.g. "CodeableConcept" for "patternCodeableConcept"),
	// so nothing here hardcodes the 40+ possible FHIR type suffixes.
	Fixed       json.RawMessage
	FixedType   string
	Pattern     json.RawMessage
	PatternType string

	// Caret sets additional ElementDefinition fields applied by a
	// CaretValue rule, keyed by dotted caret path (e.g.
	// "slicing.discriminator.type"). Stored generically because a
	// CaretValue rule may target any ElementDefinition field.
	Caret map[string]json.RawMessage

	ContentReference string

	Parent   int
	Children []int

	// mutated marks this node as changed by the owning entity's own rules,
	// distinct from nodes inherited unchanged from the parent snapshot.
	// It drives differential computation.
	mutated bool
}

// Tree is the full element arena for one StructureDefinition being built or
// consulted (a resolved parent's snapshot, or an in-progress derivation).
type Tree struct {
	// Type is the root resource/data type name, e.g. "Observation".
	Type string

	Nodes []Node

	byPath map[string]int
	byID   map[string]int
}

// NewTree returns an empty Tree rooted at rootType.
func NewTree(rootType string) *Tree {
	return &Tree{
		Type:   rootType,
		byPath: map[string]int{},
		byID:   map[string]int{},
	}
}

// Clone returns a deep-enough copy of t for a new derivation: the Nodes
// arena is copied by value (so mutations to the clone never affect t), but
// Types/Fixed/Pattern/Caret are copy-on-write safe because rule application
// always replaces them wholesale rather than mutating in place.
func (t *Tree) Clone() *Tree {
	out := &Tree{Type: t.Type, Nodes: make([]Node, len(t.Nodes))}
	copy(out.Nodes, t.Nodes)
	for i := range out.Nodes {
		out.Nodes[i].Children = append([]int(nil), t.Nodes[i].Children...)
		out.Nodes[i].mutated = false
		if t.Nodes[i].Caret != nil {
			m := make(map[string]json.RawMessage, len(t.Nodes[i].Caret))
			for k, v := range t.Nodes[i].Caret {
				m[k] = v
			}
			out.Nodes[i].Caret = m
		}
	}
	out.rebuildIndex()
	return out
}

func (t *Tree) rebuildIndex() {
	t.byPath = make(map[string]int, len(t.Nodes))
	t.byID = make(map[string]int, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.SliceName == "" {
			if _, ok := t.byPath[n.Path]; !ok {
				t.byPath[n.Path] = i
			}
		} else {
			t.byPath[n.Path+":"+n.SliceName] = i
		}
		t.byID[n.ID] = i
	}
}

// add appends a node to the arena, wiring it under parentIdx (-1 for
// root), and returns its new index.
func (t *Tree) add(n Node, parentIdx int) int {
	n.Parent = parentIdx
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, n)
	if parentIdx >= 0 {
		t.Nodes[parentIdx].Children = append(t.Nodes[parentIdx].Children, idx)
	}
	if n.SliceName == "" {
		if _, ok := t.byPath[n.Path]; !ok {
			t.byPath[n.Path] = idx
		}
	} else {
		t.byPath[n.Path+":"+n.SliceName] = idx
	}
	t.byID[n.ID] = idx
	return idx
}

// Get returns the node index for an exact base path (no slice), or -1.
func (t *Tree) Get(path string) int {
	idx, ok := t.byPath[path]
	if !ok {
		return -1
	}
	return idx
}

// GetSlice returns the node index for a named slice under path, or -1.
func (t *Tree) GetSlice(path, sliceName string) int {
	idx, ok := t.byPath[path+":"+sliceName]
	if !ok {
		return -1
	}
	return idx
}

// GetByID returns the node index for an ElementDefinition.id, or -1.
func (t *Tree) GetByID(id string) int {
	idx, ok := t.byID[id]
	if !ok {
		return -1
	}
	return idx
}

// At returns a pointer to the node at idx for in-place mutation.
func (t *Tree) At(idx int) *Node { return &t.Nodes[idx] }

// MarkMutated flags idx as changed by the current entity's rules, so it is
// included in the differential.
func (t *Tree) MarkMutated(idx int) { t.Nodes[idx].mutated = true }

// Children returns the child indices of idx in declaration order.
func (t *Tree) Children(idx int) []int { return t.Nodes[idx].Children }

// ChildByName returns the index of the direct child of idx whose path's
// last segment equals name (bracket-suffix stripped), or -1.
func (t *Tree) ChildByName(idx int, name string) int {
	for _, c := range t.Nodes[idx].Children {
		if lastSegment(t.Nodes[c].Path) == name {
			return c
		}
	}
	return -1
}

func lastSegment(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// Differential returns the indices of every node mutated since the last
// Clone, in arena order. An entity whose rules are all no-ops produces an
// empty Differential.
func (t *Tree) Differential() []int {
	var out []int
	for i, n := range t.Nodes {
		if n.mutated {
			out = append(out, i)
		}
	}
	return out
}
