package assembler

import (
	"encoding/json"

	"github.com/gofhir/fhir/r4"

	fsh "github.com/gofhir/fsh"
	"github.com/gofhir/fsh/pkg/ast"
)

// ValueSetDefinition is one exported ValueSet artifact.
type ValueSetDefinition struct {
	Name string
	ID   string
	URL  string
	body map[string]any
}

// MarshalJSON renders the ValueSet artifact.
func (v *ValueSetDefinition) MarshalJSON() ([]byte, error) { return json.Marshal(v.body) }

// CodeSystemDefinition is one exported CodeSystem artifact.
type CodeSystemDefinition struct {
	Name string
	ID   string
	URL  string
	body map[string]any
}

// MarshalJSON renders the CodeSystem artifact.
func (c *CodeSystemDefinition) MarshalJSON() ([]byte, error) { return json.Marshal(c.body) }

// exportTerminology emits every ValueSet and CodeSystem in the documents.
// The compose/concept structures are built through the r4 model types and
// then overlaid with the identity fields, so the artifact shape is the
// same one the rest of the FHIR tooling round-trips.
func exportTerminology(docs []*ast.Document, opts *fsh.Options, pkg *Package) {
	for _, d := range docs {
		for _, vs := range d.ValueSets {
			pkg.ValueSets = append(pkg.ValueSets, exportValueSet(vs, opts))
		}
		for _, cs := range d.CodeSystems {
			pkg.CodeSystems = append(pkg.CodeSystems, exportCodeSystem(cs, opts))
		}
	}
}

func exportValueSet(vs *ast.ValueSet, opts *fsh.Options) *ValueSetDefinition {
	id := vs.ID
	if id == "" {
		id = vs.Name
	}
	url := vs.URL
	if url == "" {
		url = opts.Canonical + "/ValueSet/" + id
	}

	r4vs := &r4.ValueSet{Url: &url}
	if len(vs.Components) > 0 {
		compose := &r4.ValueSetCompose{}
		for _, comp := range vs.Components {
			include := r4.ValueSetComposeInclude{}
			if comp.System != "" {
				system := comp.System
				include.System = &system
			}
			for _, c := range comp.Concepts {
				code := c.Code
				concept := r4.ValueSetComposeIncludeConcept{Code: &code}
				if c.Display != "" {
					display := c.Display
					concept.Display = &display
				}
				include.Concept = append(include.Concept, concept)
			}
			if comp.IsExclude {
				compose.Exclude = append(compose.Exclude, include)
			} else {
				compose.Include = append(compose.Include, include)
			}
		}
		r4vs.Compose = compose
	}

	body := overlayIdentity(r4vs, "ValueSet", id, vs.Name, vs.Title, vs.Description)
	return &ValueSetDefinition{Name: vs.Name, ID: id, URL: url, body: body}
}

func exportCodeSystem(cs *ast.CodeSystem, opts *fsh.Options) *CodeSystemDefinition {
	id := cs.ID
	if id == "" {
		id = cs.Name
	}
	url := cs.URL
	if url == "" {
		url = opts.Canonical + "/CodeSystem/" + id
	}

	r4cs := &r4.CodeSystem{Url: &url}
	for _, c := range cs.Concepts {
		code := c.Code
		concept := r4.CodeSystemConcept{Code: &code}
		if c.Display != "" {
			display := c.Display
			concept.Display = &display
		}
		if c.Def != "" {
			def := c.Def
			concept.Definition = &def
		}
		r4cs.Concept = append(r4cs.Concept, concept)
	}

	body := overlayIdentity(r4cs, "CodeSystem", id, cs.Name, cs.Title, cs.Description)
	return &CodeSystemDefinition{Name: cs.Name, ID: id, URL: url, body: body}
}

// overlayIdentity marshals the r4 model and layers the identity fields the
// shorthand supplies over it.
func overlayIdentity(model any, resourceType, id, name, title, description string) map[string]any {
	body := map[string]any{}
	if raw, err := json.Marshal(model); err == nil {
		_ = json.Unmarshal(raw, &body)
	}
	body["resourceType"] = resourceType
	body["id"] = id
	body["name"] = name
	body["status"] = "active"
	if title != "" {
		body["title"] = title
	}
	if description != "" {
		body["description"] = description
	}
	return body
}
