package fisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/blang/semver/v4"
	"github.com/buger/jsonparser"

	"github.com/gofhir/fsh/pkg/ast"
)

// entry is one loaded definition, keyed by every name it can be looked up
// under (url, id, name).
type entry struct {
	raw  json.RawMessage
	kind ast.EntityKind
}

// MemCache is an in-memory DefinitionsCache: the real package-backed
// Definitions Cache is an external collaborator, but exporters need
// something satisfying Fishable to compile against in tests and in small
// standalone programs that embed a handful of core definitions directly.
type MemCache struct {
	byKey map[string]entry

	// packageVersions records, per package name, every version loaded —
	// used by ResolveVersion to pick the best match for a dependency
	// constraint the way pkg/fisher.Tank resolves a package reference.
	packageVersions map[string][]semver.Version
}

// NewMemCache returns an empty MemCache.
func NewMemCache() *MemCache {
	return &MemCache{
		byKey:           map[string]entry{},
		packageVersions: map[string][]semver.Version{},
	}
}

// AddDefinition registers a single StructureDefinition/ValueSet/CodeSystem
// JSON document under every name it can be fished by (its id, name, url,
// and type, each only if non-empty).
func (m *MemCache) AddDefinition(kind ast.EntityKind, raw json.RawMessage) error {
	var meta struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		URL  string `json:"url"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("fisher: decode definition: %w", err)
	}
	e := entry{raw: raw, kind: kind}
	for _, key := range []string{meta.ID, meta.Name, meta.URL, meta.Type} {
		if key != "" {
			m.byKey[key] = e
		}
	}
	return nil
}

// RegisterPackageVersion records that packageName@version has been loaded,
// for later ResolveVersion queries.
func (m *MemCache) RegisterPackageVersion(packageName, version string) error {
	v, err := semver.Parse(normalizeSemver(version))
	if err != nil {
		return fmt.Errorf("fisher: invalid package version %q: %w", version, err)
	}
	m.packageVersions[packageName] = append(m.packageVersions[packageName], v)
	return nil
}

// ResolveVersion returns the highest loaded version of packageName
// satisfying constraint (a semver range expression).
func (m *MemCache) ResolveVersion(packageName, constraint string) (string, bool) {
	versions := m.packageVersions[packageName]
	if len(versions) == 0 {
		return "", false
	}
	rng, err := semver.ParseRange(constraint)
	if err != nil {
		// No parseable range (e.g. an exact pin): fall back to the
		// highest loaded version.
		sorted := append([]semver.Version(nil), versions...)
		sort.Sort(semver.Versions(sorted))
		return sorted[len(sorted)-1].String(), true
	}
	var best *semver.Version
	for i := range versions {
		if rng(versions[i]) && (best == nil || versions[i].GT(*best)) {
			best = &versions[i]
		}
	}
	if best == nil {
		return "", false
	}
	return best.String(), true
}

func normalizeSemver(v string) string {
	// Accept bare "4.0.1" as well as already-valid semver strings.
	return v
}

// FishForFHIR implements Fishable against the registered definitions.
func (m *MemCache) FishForFHIR(_ context.Context, nameOrURL string, kinds ...ast.EntityKind) (json.RawMessage, bool) {
	e, ok := m.byKey[nameOrURL]
	if !ok {
		return nil, false
	}
	if len(kinds) > 0 && !containsKind(kinds, e.kind) {
		return nil, false
	}
	return e.raw, true
}

// FishForMetadata extracts just {id,name,url,type,baseDefinition,kind} from
// the matching raw JSON using jsonparser's partial-field extraction: no
// full unmarshal for a lookup that only needs a few scalar fields.
func (m *MemCache) FishForMetadata(_ context.Context, nameOrURL string, kind ast.EntityKind) (*Metadata, bool) {
	e, ok := m.byKey[nameOrURL]
	if !ok || e.kind != kind {
		return nil, false
	}
	meta := &Metadata{}
	meta.ID, _ = jsonparser.GetString(e.raw, "id")
	meta.Name, _ = jsonparser.GetString(e.raw, "name")
	meta.URL, _ = jsonparser.GetString(e.raw, "url")
	meta.SDType, _ = jsonparser.GetString(e.raw, "type")
	meta.BaseDefinition, _ = jsonparser.GetString(e.raw, "baseDefinition")
	meta.Kind, _ = jsonparser.GetString(e.raw, "kind")
	return meta, true
}

func containsKind(kinds []ast.EntityKind, k ast.EntityKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
