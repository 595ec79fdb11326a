// Package fhirtest provides canned core FHIR StructureDefinition JSON for
// exporter and assembler tests: a handful of resources and datatypes with
// realistic snapshots, small enough to read in a failure message. Tests
// load them into a fisher.MemCache instead of shipping a real definitions
// package.
package fhirtest

import (
	"encoding/json"
	"fmt"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/fisher"
)

// NewCache returns a MemCache loaded with every fixture definition.
func NewCache() *fisher.MemCache {
	c := fisher.NewMemCache()
	for _, raw := range []json.RawMessage{
		PatientSD(),
		ObservationSD(),
		OrganizationSD(),
		ExtensionSD(),
		CodeableConceptSD(),
		CodingSD(),
		QuantitySD(),
		HumanNameSD(),
	} {
		if err := c.AddDefinition(ast.KindProfile, raw); err != nil {
			panic(fmt.Sprintf("fhirtest: bad fixture: %v", err))
		}
	}
	return c
}

func sd(name, kind string, elements ...map[string]any) json.RawMessage {
	doc := map[string]any{
		"resourceType":   "StructureDefinition",
		"id":             name,
		"name":           name,
		"url":            "http://hl7.org/fhir/StructureDefinition/" + name,
		"type":           name,
		"kind":           kind,
		"derivation":     "specialization",
		"baseDefinition": "http://hl7.org/fhir/StructureDefinition/Element",
		"snapshot":       map[string]any{"element": elements},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return raw
}

func elem(path string, min int, max string, types ...string) map[string]any {
	e := map[string]any{"id": path, "path": path, "min": min, "max": max}
	if len(types) > 0 {
		var ts []map[string]any
		for _, t := range types {
			ts = append(ts, map[string]any{"code": t})
		}
		e["type"] = ts
	}
	return e
}

// PatientSD is a trimmed Patient resource definition.
func PatientSD() json.RawMessage {
	managing := elem("Patient.managingOrganization", 0, "1")
	managing["type"] = []map[string]any{{
		"code":          "Reference",
		"targetProfile": []string{"http://hl7.org/fhir/StructureDefinition/Organization"},
	}}
	return sd("Patient", "resource",
		elem("Patient", 0, "*"),
		elem("Patient.id", 0, "1", "id"),
		elem("Patient.contained", 0, "*", "Resource"),
		elem("Patient.active", 0, "1", "boolean"),
		elem("Patient.name", 0, "*", "HumanName"),
		elem("Patient.gender", 0, "1", "code"),
		elem("Patient.maritalStatus", 0, "1", "CodeableConcept"),
		managing,
	)
}

// ObservationSD is a trimmed Observation resource definition.
func ObservationSD() json.RawMessage {
	subject := elem("Observation.subject", 0, "1")
	subject["type"] = []map[string]any{{
		"code": "Reference",
		"targetProfile": []string{
			"http://hl7.org/fhir/StructureDefinition/Patient",
			"http://hl7.org/fhir/StructureDefinition/Group",
		},
	}}
	status := elem("Observation.status", 1, "1", "code")
	status["binding"] = map[string]any{
		"strength": "required",
		"valueSet": "http://hl7.org/fhir/ValueSet/observation-status",
	}
	category := elem("Observation.category", 0, "*", "CodeableConcept")
	category["binding"] = map[string]any{
		"strength": "preferred",
		"valueSet": "http://hl7.org/fhir/ValueSet/observation-category",
	}
	return sd("Observation", "resource",
		elem("Observation", 0, "*"),
		elem("Observation.id", 0, "1", "id"),
		elem("Observation.contained", 0, "*", "Resource"),
		status,
		category,
		elem("Observation.code", 1, "1", "CodeableConcept"),
		subject,
		elem("Observation.value[x]", 0, "1", "Quantity", "string", "CodeableConcept"),
		elem("Observation.note", 0, "*", "Annotation"),
	)
}

// OrganizationSD is a trimmed Organization resource definition.
func OrganizationSD() json.RawMessage {
	return sd("Organization", "resource",
		elem("Organization", 0, "*"),
		elem("Organization.id", 0, "1", "id"),
		elem("Organization.name", 0, "1", "string"),
	)
}

// ExtensionSD is the core Extension type definition.
func ExtensionSD() json.RawMessage {
	raw := sd("Extension", "complex-type",
		elem("Extension", 0, "*"),
		elem("Extension.id", 0, "1", "id"),
		elem("Extension.url", 1, "1", "uri"),
		elem("Extension.value[x]", 0, "1", "Quantity", "string", "boolean", "CodeableConcept"),
	)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	doc["context"] = []map[string]any{{"type": "element", "expression": "Element"}}
	out, _ := json.Marshal(doc)
	return out
}

// CodeableConceptSD is the CodeableConcept datatype definition.
func CodeableConceptSD() json.RawMessage {
	return sd("CodeableConcept", "complex-type",
		elem("CodeableConcept", 0, "*"),
		elem("CodeableConcept.coding", 0, "*", "Coding"),
		elem("CodeableConcept.text", 0, "1", "string"),
	)
}

// CodingSD is the Coding datatype definition.
func CodingSD() json.RawMessage {
	return sd("Coding", "complex-type",
		elem("Coding", 0, "*"),
		elem("Coding.system", 0, "1", "uri"),
		elem("Coding.version", 0, "1", "string"),
		elem("Coding.code", 0, "1", "code"),
		elem("Coding.display", 0, "1", "string"),
	)
}

// QuantitySD is the Quantity datatype definition.
func QuantitySD() json.RawMessage {
	return sd("Quantity", "complex-type",
		elem("Quantity", 0, "*"),
		elem("Quantity.value", 0, "1", "decimal"),
		elem("Quantity.unit", 0, "1", "string"),
		elem("Quantity.system", 0, "1", "uri"),
		elem("Quantity.code", 0, "1", "code"),
	)
}

// HumanNameSD is the HumanName datatype definition.
func HumanNameSD() json.RawMessage {
	return sd("HumanName", "complex-type",
		elem("HumanName", 0, "*"),
		elem("HumanName.family", 0, "1", "string"),
		elem("HumanName.given", 0, "*", "string"),
	)
}
