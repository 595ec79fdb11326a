package sdexport

import "encoding/json"

// sdJSON is the serialized artifact shape; field order here is the order
// fields appear in emitted files.
type sdJSON struct {
	ResourceType   string            `json:"resourceType"`
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Name           string            `json:"name"`
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	FHIRVersion    string            `json:"fhirVersion,omitempty"`
	Kind           string            `json:"kind,omitempty"`
	Abstract       bool              `json:"abstract"`
	Context        []json.RawMessage `json:"context,omitempty"`
	Type           string            `json:"type"`
	BaseDefinition string            `json:"baseDefinition"`
	Derivation     string            `json:"derivation"`
	Snapshot       *elementsJSON     `json:"snapshot,omitempty"`
	Differential   *elementsJSON     `json:"differential,omitempty"`
}

type elementsJSON struct {
	Element []json.RawMessage `json:"element"`
}

// MarshalJSON renders the artifact as canonical StructureDefinition JSON
// with both snapshot and differential element arrays. Differential entries
// are exactly the nodes the entity's own rules mutated; an all-no-op
// entity produces an empty differential.
func (sd *StructureDefinition) MarshalJSON() ([]byte, error) {
	out := sdJSON{
		ResourceType:   "StructureDefinition",
		ID:             sd.ID,
		URL:            sd.URL,
		Name:           sd.Name,
		Title:          sd.Title,
		Description:    sd.Description,
		FHIRVersion:    sd.FHIRVersion,
		Kind:           sd.Kind,
		Context:        sd.Context,
		Type:           sd.Type,
		BaseDefinition: sd.BaseDefinition,
		Derivation:     sd.Derivation,
	}

	snap := &elementsJSON{Element: make([]json.RawMessage, 0, len(sd.Tree.Nodes))}
	for i := range sd.Tree.Nodes {
		raw, err := sd.Tree.Nodes[i].MarshalElementJSON()
		if err != nil {
			return nil, err
		}
		snap.Element = append(snap.Element, raw)
	}
	out.Snapshot = snap

	diff := &elementsJSON{Element: []json.RawMessage{}}
	for _, idx := range sd.Tree.Differential() {
		raw, err := sd.Tree.Nodes[idx].MarshalElementJSON()
		if err != nil {
			return nil, err
		}
		diff.Element = append(diff.Element, raw)
	}
	out.Differential = diff

	return json.Marshal(out)
}
