// Package instance implements the Instance Exporter: it resolves an
// Instance's instanceOf to a StructureDefinition, walks the instance's
// assignment rules over that definition's element tree, materializes the
// implied pattern/fixed values inherited along each reached path, and
// produces a concrete JSON-shaped resource. The walk is the write-side
// mirror of a type-aware validation walk: the same segment resolution, but
// building the data it would otherwise check.
package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/fisher"
	"github.com/gofhir/fsh/pkg/ruleset"
	"github.com/gofhir/fsh/pkg/sdexport"
)

// idPattern is the FHIR id constraint instance ids must satisfy.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)

// Resolver resolves names to StructureDefinitions and rule paths to
// element nodes. Satisfied by sdexport.Exporter; declared here so this
// package states exactly what it consumes.
type Resolver interface {
	ResolveSD(ctx context.Context, nameOrURL string) (*sdexport.StructureDefinition, bool)
	ResolvePath(ctx context.Context, sd *sdexport.StructureDefinition, path string) (int, bool)
}

// InstanceDefinition is one exported resource instance.
type InstanceDefinition struct {
	// Name is the FSH entity name the instance was declared under.
	Name         string
	ID           string
	ResourceType string
	Usage        ast.Usage

	// ProfileURL is the profile the instance conforms to, when instanceOf
	// resolved to a constraint derivation rather than a base resource.
	ProfileURL string

	// Data is the JSON-shaped resource body, resourceType and id included.
	Data map[string]any

	Span ast.Span
}

// MarshalJSON renders the instance's resource body.
func (d *InstanceDefinition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// Exporter compiles Instances against a Tank and a StructureDefinition
// resolver. One Exporter serves one compilation and memoizes finished
// instances so reference and inline resolution export each at most once.
type Exporter struct {
	tank *fisher.Tank
	sds  Resolver
	res  *diag.Result

	exported map[string]*InstanceDefinition
}

// New returns an Exporter over tank using sds for definition lookups.
func New(tank *fisher.Tank, sds Resolver, res *diag.Result) *Exporter {
	return &Exporter{
		tank:     tank,
		sds:      sds,
		res:      res,
		exported: map[string]*InstanceDefinition{},
	}
}

// ExportAll exports every Instance in the Tank in document order. Failed
// instances are skipped without aborting siblings.
func (e *Exporter) ExportAll(ctx context.Context) []*InstanceDefinition {
	var out []*InstanceDefinition
	for _, doc := range e.tank.Documents {
		for _, inst := range doc.Instances {
			if def, ok := e.Export(ctx, inst); ok {
				out = append(out, def)
			}
		}
	}
	return out
}

// Export compiles one Instance.
func (e *Exporter) Export(ctx context.Context, inst *ast.Instance) (*InstanceDefinition, bool) {
	if def, ok := e.exported[inst.Name]; ok {
		return def, def != nil
	}
	if !e.tank.Enter("Instance/" + inst.Name) {
		e.errf(inst.EntitySpan(), diag.CodeInstanceOfNotDefined,
			"instance %s participates in a reference cycle", inst.Name)
		return nil, false
	}
	defer e.tank.Leave("Instance/" + inst.Name)

	def := e.export(ctx, inst)
	e.exported[inst.Name] = def
	return def, def != nil
}

func (e *Exporter) export(ctx context.Context, inst *ast.Instance) *InstanceDefinition {
	if inst.InstanceOf == "" {
		e.errf(inst.EntitySpan(), diag.CodeInstanceOfNotDefined,
			"instance %s declares no InstanceOf", inst.Name)
		return nil
	}
	sd, ok := e.sds.ResolveSD(ctx, inst.InstanceOf)
	if !ok {
		e.errf(inst.EntitySpan(), diag.CodeInstanceOfNotDefined,
			"InstanceOf %s of instance %s is not defined", inst.InstanceOf, inst.Name)
		return nil
	}

	usage := inst.Usage
	if usage == "" {
		usage = ast.UsageExample
	}
	if sd.Kind != "resource" && usage != ast.UsageInline {
		e.res.Add(diag.Record{
			Level:   diag.LevelWarn,
			Code:    diag.CodeFixingNonResource,
			Message: fmt.Sprintf("instance %s of non-resource %s is forced to Inline usage", inst.Name, inst.InstanceOf),
			File:    inst.Span.File,
			Span:    toDiagSpan(inst.Span),
		})
		usage = ast.UsageInline
	}

	id := inst.ID
	if id == "" {
		id = inst.Name
	}
	if strings.Contains(id, "_") {
		sanitized := strings.ReplaceAll(id, "_", "-")
		e.res.Add(diag.Record{
			Level:   diag.LevelWarn,
			Code:    diag.CodeSanitizedName,
			Message: fmt.Sprintf("instance id %q sanitized to %q", id, sanitized),
			File:    inst.Span.File,
			Span:    toDiagSpan(inst.Span),
		})
		id = sanitized
	}
	if !idPattern.MatchString(id) {
		// Reported but still emitted.
		e.errf(inst.EntitySpan(), diag.CodeInvalidFHIRId,
			"instance id %q does not match [A-Za-z0-9\\-.]{1,64}", id)
	}

	def := &InstanceDefinition{
		Name:         inst.Name,
		ID:           id,
		ResourceType: sd.Type,
		Usage:        usage,
		Data:         map[string]any{},
		Span:         inst.Span,
	}
	if sd.Kind == "resource" {
		def.Data["resourceType"] = sd.Type
		def.Data["id"] = id
		if sd.Derivation == "constraint" {
			def.ProfileURL = sd.URL
			def.Data["meta"] = map[string]any{"profile": []any{sd.URL}}
		}
	}

	find := func(n string) (*ast.RuleSet, bool) {
		for _, d := range e.tank.Documents {
			if rs, ok := d.RuleSets[n]; ok {
				return rs, true
			}
		}
		return nil, false
	}
	rules := ruleset.ExpandMixins(inst.Mixins, find, inst.Span.File, inst.Span, e.res)
	rules = append(rules, ruleset.ExpandAssignmentRules(inst.Rules, find, inst.Span.File, inst.Span, e.res)...)

	b := &builder{
		exporter:  e,
		sd:        sd,
		def:       def,
		overrides: map[string]string{},
		sliceIdx:  map[string]int{},
		implied:   map[string]bool{},
		protected: map[string]bool{},
	}
	b.prescanInlineResources(ctx, rules)
	for _, r := range rules {
		a, ok := r.(*ast.Assignment)
		if !ok {
			continue
		}
		b.applyAssignment(ctx, a)
	}

	pruneEmpty(def.Data)
	e.validateRequired(ctx, sd, def)
	return def
}

func (e *Exporter) errf(span ast.Span, code diag.Code, format string, args ...any) {
	e.res.Add(diag.Record{
		Level:   diag.LevelError,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		File:    span.File,
		Span:    toDiagSpan(span),
	})
}

func toDiagSpan(s ast.Span) diag.Span {
	return diag.Span{StartLine: s.StartLine, StartCol: s.StartCol, EndLine: s.EndLine, EndCol: s.EndCol}
}
