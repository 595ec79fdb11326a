package ast

// EntityKind identifies which tagged variant an Entity is.
type EntityKind string

// Entity kinds, matching the shorthand's keyword headers.
const (
	KindProfile   EntityKind = "Profile"
	KindExtension EntityKind = "Extension"
	KindInstance  EntityKind = "Instance"
	KindRuleSet   EntityKind = "RuleSet"
	KindAlias     EntityKind = "Alias"
	KindValueSet  EntityKind = "ValueSet"
	KindCodeSystem EntityKind = "CodeSystem"
)

// Usage enumerates the Instance usage metadata values.
type Usage string

// Instance usage values.
const (
	UsageExample    Usage = "Example"
	UsageInline     Usage = "Inline"
	UsageDefinition Usage = "Definition"
)

// Entity is the common interface implemented by every tagged entity
// variant. Name identifies the entity within its Document; Span locates
// its header line for diagnostics.
type Entity interface {
	EntityKind() EntityKind
	EntityName() string
	EntitySpan() Span
}

// Meta holds the metadata lines common to Profile/Extension/Instance
// headers (Id:, Title:, Description:).
type Meta struct {
	Name        string
	ID          string
	Title       string
	Description string
	Span        Span
}

// Profile is a constraint on a base resource type.
type Profile struct {
	Meta
	Parent string // name, alias, or url; resolved by the SD Exporter
	Rules  []ConstraintRule
}

func (p *Profile) EntityKind() EntityKind { return KindProfile }
func (p *Profile) EntityName() string     { return p.Name }
func (p *Profile) EntitySpan() Span       { return p.Span }

// Extension is a profile whose base is the generic Extension type.
type Extension struct {
	Meta
	Parent string
	Rules  []ConstraintRule
}

func (e *Extension) EntityKind() EntityKind { return KindExtension }
func (e *Extension) EntityName() string     { return e.Name }
func (e *Extension) EntitySpan() Span       { return e.Span }

// Instance is a concrete resource instance assembled from assignment rules.
type Instance struct {
	Meta
	InstanceOf string
	Usage      Usage
	Mixins     []string
	Rules      []AssignmentRule
}

func (i *Instance) EntityKind() EntityKind { return KindInstance }
func (i *Instance) EntityName() string     { return i.Name }
func (i *Instance) EntitySpan() Span       { return i.Span }

// RuleSet is a named bag of rules applied to other entities by insert (in
// rule position) or mixin (entity scope).
type RuleSet struct {
	Meta
	Rules []Rule
}

func (r *RuleSet) EntityKind() EntityKind { return KindRuleSet }
func (r *RuleSet) EntityName() string     { return r.Name }
func (r *RuleSet) EntitySpan() Span       { return r.Span }

// Alias maps a short name to a URL, resolved within a Document in a
// separate pass before rule parsing completes.
type Alias struct {
	Name string
	URL  string
	Span Span
}

func (a *Alias) EntityKind() EntityKind { return KindAlias }
func (a *Alias) EntityName() string     { return a.Name }
func (a *Alias) EntitySpan() Span       { return a.Span }

// VSComponent is one compose.include/exclude entry of a ValueSet.
type VSComponent struct {
	System      string
	ValueSet    []string
	Concepts    []Code
	IsExclude   bool
}

// ValueSet is a named, versioned set of codes drawn from one or more code
// systems.
type ValueSet struct {
	Meta
	URL        string
	Components []VSComponent
}

func (v *ValueSet) EntityKind() EntityKind { return KindValueSet }
func (v *ValueSet) EntityName() string     { return v.Name }
func (v *ValueSet) EntitySpan() Span       { return v.Span }

// Concept is one CodeSystem concept definition.
type Concept struct {
	Code    string
	Display string
	Def     string
}

// CodeSystem is a named, versioned enumeration of codes.
type CodeSystem struct {
	Meta
	URL      string
	Concepts []Concept
}

func (c *CodeSystem) EntityKind() EntityKind { return KindCodeSystem }
func (c *CodeSystem) EntityName() string     { return c.Name }
func (c *CodeSystem) EntitySpan() Span       { return c.Span }

// Document is the bag of named entities produced by importing one source
// file.
type Document struct {
	File       string
	Aliases    map[string]*Alias
	Profiles   []*Profile
	Extensions []*Extension
	Instances  []*Instance
	RuleSets   map[string]*RuleSet
	ValueSets  []*ValueSet
	CodeSystems []*CodeSystem
}

// NewDocument returns an empty Document for the given file name.
func NewDocument(file string) *Document {
	return &Document{
		File:     file,
		Aliases:  map[string]*Alias{},
		RuleSets: map[string]*RuleSet{},
	}
}

// Entities returns every entity in declaration order, aliases and rule sets
// excluded (they are not independently exported).
func (d *Document) Entities() []Entity {
	out := make([]Entity, 0, len(d.Profiles)+len(d.Extensions)+len(d.Instances)+len(d.ValueSets)+len(d.CodeSystems))
	for _, p := range d.Profiles {
		out = append(out, p)
	}
	for _, e := range d.Extensions {
		out = append(out, e)
	}
	for _, i := range d.Instances {
		out = append(out, i)
	}
	for _, v := range d.ValueSets {
		out = append(out, v)
	}
	for _, c := range d.CodeSystems {
		out = append(out, c)
	}
	return out
}
