package fisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofhir/fsh/cache"
	"github.com/gofhir/fsh/pkg/ast"
)

// Tank is the collection of all imported authoring documents for one
// compilation. It implements Fishable itself, layering the in-progress
// compilation's own entities over an external DefinitionsCache so callers
// never need to know whether a name resolved locally or to a dependency
// package.
type Tank struct {
	Documents []*ast.Document

	external DefinitionsCache

	// fhirCache/metaCache memoize external lookups keyed by
	// "kind\x00nameOrURL".
	fhirCache *cache.Cache[string, json.RawMessage]
	metaCache *cache.Cache[string, *Metadata]

	// inFlight guards the re-entrant fish-through-export recursion
	// (resolving one entity's parent may require exporting another FSH
	// entity first); a name already in flight signals a cycle.
	inFlight map[string]bool
}

// NewTank returns a Tank over docs, using external for names it cannot
// resolve itself. external may be nil (compilations with no external
// dependency packages).
func NewTank(docs []*ast.Document, external DefinitionsCache) *Tank {
	return &Tank{
		Documents: docs,
		external:  external,
		fhirCache: cache.New[string, json.RawMessage](256),
		metaCache: cache.New[string, *Metadata](256),
		inFlight:  map[string]bool{},
	}
}

// FindEntity looks up an entity across every Document in the Tank by name,
// id, or (for ValueSet/CodeSystem) url. The first document in import order
// to contain a match wins.
func (t *Tank) FindEntity(nameOrURL string) (ast.Entity, bool) {
	for _, d := range t.Documents {
		for _, p := range d.Profiles {
			if p.Name == nameOrURL || p.ID == nameOrURL {
				return p, true
			}
		}
		for _, e := range d.Extensions {
			if e.Name == nameOrURL || e.ID == nameOrURL {
				return e, true
			}
		}
		for _, i := range d.Instances {
			if i.Name == nameOrURL || i.ID == nameOrURL {
				return i, true
			}
		}
		for _, v := range d.ValueSets {
			if v.Name == nameOrURL || v.ID == nameOrURL || v.URL == nameOrURL {
				return v, true
			}
		}
		for _, c := range d.CodeSystems {
			if c.Name == nameOrURL || c.ID == nameOrURL || c.URL == nameOrURL {
				return c, true
			}
		}
	}
	return nil, false
}

// Enter marks name as in-flight for the re-entrant fish-through-export
// recursion, returning false if name is already in flight (a cycle).
// Callers must defer Leave(name) on success.
func (t *Tank) Enter(name string) bool {
	if t.inFlight[name] {
		return false
	}
	t.inFlight[name] = true
	return true
}

// Leave clears name's in-flight marker.
func (t *Tank) Leave(name string) { delete(t.inFlight, name) }

// FishForFHIR resolves nameOrURL to a raw StructureDefinition/ValueSet/
// CodeSystem JSON document from the external DefinitionsCache, memoized.
// The Tank's own entities are not served here: they are typed AST values,
// and callers resolve them via FindEntity plus re-entrant export rather
// than through this JSON-shaped method.
func (t *Tank) FishForFHIR(ctx context.Context, nameOrURL string, kinds ...ast.EntityKind) (json.RawMessage, bool) {
	key := cacheKey(kinds, nameOrURL)
	if v, ok := t.fhirCache.Get(key); ok {
		return v, true
	}
	if t.external == nil {
		return nil, false
	}
	v, ok := t.external.FishForFHIR(ctx, nameOrURL, kinds...)
	if ok {
		t.fhirCache.Set(key, v)
	}
	return v, ok
}

// FishForMetadata resolves nameOrURL to a Metadata summary, preferring a
// local Tank entity (built on the fly from its AST shape) over the
// external Definitions Cache.
func (t *Tank) FishForMetadata(ctx context.Context, nameOrURL string, kind ast.EntityKind) (*Metadata, bool) {
	if e, ok := t.FindEntity(nameOrURL); ok && e.EntityKind() == kind {
		return localMetadata(e), true
	}

	key := cacheKey([]ast.EntityKind{kind}, nameOrURL)
	if v, ok := t.metaCache.Get(key); ok {
		return v, true
	}
	if t.external == nil {
		return nil, false
	}
	v, ok := t.external.FishForMetadata(ctx, nameOrURL, kind)
	if ok {
		t.metaCache.Set(key, v)
	}
	return v, ok
}

func localMetadata(e ast.Entity) *Metadata {
	switch v := e.(type) {
	case *ast.Profile:
		return &Metadata{ID: v.ID, Name: v.Name, Kind: "resource"}
	case *ast.Extension:
		return &Metadata{ID: v.ID, Name: v.Name, Kind: "complex-type", BaseDefinition: "Extension"}
	case *ast.ValueSet:
		return &Metadata{ID: v.ID, Name: v.Name, URL: v.URL, Kind: "valueset"}
	case *ast.CodeSystem:
		return &Metadata{ID: v.ID, Name: v.Name, URL: v.URL, Kind: "codesystem"}
	default:
		return &Metadata{Name: e.EntityName()}
	}
}

func cacheKey(kinds []ast.EntityKind, nameOrURL string) string {
	return fmt.Sprintf("%v\x00%s", kinds, nameOrURL)
}
