// Package sdexport implements the StructureDefinition Exporter: it takes a
// Profile or Extension from the Tank, resolves its parent to a snapshot
// element tree (through other in-flight FSH entities first, then the
// external Definitions Cache), and applies the entity's constraint rules in
// source order to produce a derived StructureDefinition carrying both the
// full snapshot and a differential of only the nodes this entity changed.
package sdexport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/element"
	"github.com/gofhir/fsh/pkg/fisher"
	"github.com/gofhir/fsh/pkg/ruleset"
)

// fhirCoreBase is the canonical URL prefix core FHIR types live under.
const fhirCoreBase = "http://hl7.org/fhir/StructureDefinition/"

// StructureDefinition is one exported artifact: the identity fields plus
// the element tree the constraint rules were applied to. The Tree holds
// both snapshot (all nodes) and differential (mutated nodes) views.
type StructureDefinition struct {
	ID             string
	URL            string
	Name           string
	Title          string
	Description    string
	Type           string
	Kind           string
	BaseDefinition string
	Derivation     string
	FHIRVersion    string
	Context        []json.RawMessage

	Tree *element.Tree
}

// Exporter compiles Profiles and Extensions against a Tank. One Exporter
// serves one compilation; it memoizes finished exports so re-entrant
// parent resolution (a Profile whose parent is another Profile in the same
// Tank) exports each entity exactly once.
type Exporter struct {
	tank      *fisher.Tank
	res       *diag.Result
	canonical string
	fhirVer   string

	exported map[string]*StructureDefinition
}

// New returns an Exporter over tank. canonical is the base URL minted
// entities live under; fhirVersion is stamped into each artifact.
func New(tank *fisher.Tank, canonical, fhirVersion string, res *diag.Result) *Exporter {
	return &Exporter{
		tank:      tank,
		res:       res,
		canonical: canonical,
		fhirVer:   fhirVersion,
		exported:  map[string]*StructureDefinition{},
	}
}

// ExportAll exports every Profile and Extension in the Tank, in document
// order. Entities that fail to resolve a parent are skipped; their
// diagnostics are already recorded and sibling entities still export.
func (e *Exporter) ExportAll(ctx context.Context) []*StructureDefinition {
	var out []*StructureDefinition
	for _, doc := range e.tank.Documents {
		for _, p := range doc.Profiles {
			if sd, ok := e.ExportProfile(ctx, p); ok {
				out = append(out, sd)
			}
		}
		for _, x := range doc.Extensions {
			if sd, ok := e.ExportExtension(ctx, x); ok {
				out = append(out, sd)
			}
		}
	}
	return out
}

// ExportProfile compiles one Profile into a StructureDefinition.
func (e *Exporter) ExportProfile(ctx context.Context, p *ast.Profile) (*StructureDefinition, bool) {
	if sd, ok := e.exported[p.Name]; ok {
		return sd, sd != nil
	}
	sd := e.export(ctx, p.Name, p.Meta, p.Parent, p.Rules, false)
	e.exported[p.Name] = sd
	return sd, sd != nil
}

// ExportExtension compiles one Extension. An Extension with no declared
// parent derives from the core Extension type.
func (e *Exporter) ExportExtension(ctx context.Context, x *ast.Extension) (*StructureDefinition, bool) {
	if sd, ok := e.exported[x.Name]; ok {
		return sd, sd != nil
	}
	parent := x.Parent
	if parent == "" {
		parent = "Extension"
	}
	sd := e.export(ctx, x.Name, x.Meta, parent, x.Rules, true)
	e.exported[x.Name] = sd
	return sd, sd != nil
}

// ResolveSD resolves nameOrURL to an exported StructureDefinition: a Tank
// Profile/Extension (exporting it on demand), or a definition from the
// Definitions Cache (base resources and types). This is the lookup the
// Instance Exporter uses for instanceOf.
func (e *Exporter) ResolveSD(ctx context.Context, nameOrURL string) (*StructureDefinition, bool) {
	if sd, ok := e.exported[nameOrURL]; ok && sd != nil {
		return sd, true
	}
	if ent, ok := e.tank.FindEntity(nameOrURL); ok {
		switch v := ent.(type) {
		case *ast.Profile:
			return e.ExportProfile(ctx, v)
		case *ast.Extension:
			return e.ExportExtension(ctx, v)
		}
	}
	raw, ok := e.tank.FishForFHIR(ctx, nameOrURL)
	if !ok {
		return nil, false
	}
	return e.fromRaw(nameOrURL, raw)
}

// fromRaw builds a read-only StructureDefinition view of an external
// definition's JSON, memoized under nameOrURL.
func (e *Exporter) fromRaw(nameOrURL string, raw json.RawMessage) (*StructureDefinition, bool) {
	tree, info, err := element.FromSnapshotJSON(raw)
	if err != nil || len(tree.Nodes) == 0 {
		return nil, false
	}
	var meta struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Kind       string `json:"kind"`
		Derivation string `json:"derivation"`
	}
	_ = json.Unmarshal(raw, &meta)
	sd := &StructureDefinition{
		ID:         meta.ID,
		URL:        info.URL,
		Name:       meta.Name,
		Type:       info.Type,
		Kind:       meta.Kind,
		Derivation: meta.Derivation,
		Context:    info.Context,
		Tree:       tree,
	}
	e.exported[nameOrURL] = sd
	return sd, true
}

// export runs the shared Profile/Extension pipeline: resolve the parent,
// clone its snapshot, expand inserts, apply constraint rules, and stamp
// identity fields.
func (e *Exporter) export(ctx context.Context, name string, meta ast.Meta, parent string, rules []ast.ConstraintRule, isExtension bool) *StructureDefinition {
	if !e.tank.Enter(name) {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeParentNotDefined,
			Message: fmt.Sprintf("parent of %s could not be resolved: cycle in parent chain", name),
			File:    meta.Span.File,
			Span:    toDiagSpan(meta.Span),
		})
		return nil
	}
	defer e.tank.Leave(name)

	if parent == "" {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeParentNotDefined,
			Message: fmt.Sprintf("%s declares no parent", name),
			File:    meta.Span.File,
			Span:    toDiagSpan(meta.Span),
		})
		return nil
	}

	parentSD, ok := e.resolveParent(ctx, parent)
	if !ok {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeParentNotDefined,
			Message: fmt.Sprintf("parent %s of %s is not defined", parent, name),
			File:    meta.Span.File,
			Span:    toDiagSpan(meta.Span),
		})
		return nil
	}
	if isExtension && parentSD.Type != "Extension" {
		e.res.Add(diag.Record{
			Level:   diag.LevelError,
			Code:    diag.CodeInvalidExtensionParent,
			Message: fmt.Sprintf("parent %s of extension %s is not an Extension", parent, name),
			File:    meta.Span.File,
			Span:    toDiagSpan(meta.Span),
		})
		return nil
	}

	id := meta.ID
	if id == "" {
		id = name
	}
	sd := &StructureDefinition{
		ID:             id,
		URL:            e.canonical + "/StructureDefinition/" + id,
		Name:           name,
		Title:          meta.Title,
		Description:    meta.Description,
		Type:           parentSD.Type,
		Kind:           parentSD.Kind,
		BaseDefinition: parentSD.URL,
		Derivation:     "constraint",
		FHIRVersion:    e.fhirVer,
		// An extension parent's context is preserved rather than
		// rewritten; a later revision makes context author-specified.
		Context: parentSD.Context,
		Tree:    parentSD.Tree.Clone(),
	}
	if sd.Description == "" {
		sd.Description = parentSD.Description
	}

	find := func(n string) (*ast.RuleSet, bool) {
		for _, d := range e.tank.Documents {
			if rs, ok := d.RuleSets[n]; ok {
				return rs, true
			}
		}
		return nil, false
	}
	expanded := ruleset.ExpandConstraintRules(rules, find, meta.Span.File, meta.Span, e.res)

	for _, r := range expanded {
		e.apply(ctx, sd, r)
	}
	return sd
}

// resolveParent finds parent as another FSH entity first (re-entrant
// export), then as an external definition fished by name, id, url, and
// finally as a bare core type name.
func (e *Exporter) resolveParent(ctx context.Context, parent string) (*StructureDefinition, bool) {
	if ent, ok := e.tank.FindEntity(parent); ok {
		switch v := ent.(type) {
		case *ast.Profile:
			return e.ExportProfile(ctx, v)
		case *ast.Extension:
			return e.ExportExtension(ctx, v)
		}
	}
	if raw, ok := e.tank.FishForFHIR(ctx, parent); ok {
		return e.fromRaw(parent, raw)
	}
	if raw, ok := e.tank.FishForFHIR(ctx, fhirCoreBase+parent); ok {
		return e.fromRaw(parent, raw)
	}
	return nil, false
}

func toDiagSpan(s ast.Span) diag.Span {
	return diag.Span{StartLine: s.StartLine, StartCol: s.StartCol, EndLine: s.EndLine, EndCol: s.EndCol}
}
