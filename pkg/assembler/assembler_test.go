package assembler

import (
	"context"
	"encoding/json"
	"testing"

	fsh "github.com/gofhir/fsh"
	"github.com/gofhir/fsh/internal/fhirtest"
	"github.com/gofhir/fsh/pkg/ast"
)

func options() *fsh.Options {
	return fsh.DefaultOptions().Apply(fsh.WithCanonical("http://example.org/fhir"))
}

func patientInstance(name, id string) *ast.Instance {
	return &ast.Instance{
		Meta:       ast.Meta{Name: name, ID: id},
		InstanceOf: "Patient",
		Usage:      ast.UsageExample,
	}
}

func TestDuplicateInstanceId(t *testing.T) {
	doc := ast.NewDocument("dup.fsh")
	doc.Instances = append(doc.Instances,
		patientInstance("First", "repeated-id"),
		patientInstance("Second", "repeated-id"),
	)

	pkg, result := Compile(context.Background(), []*ast.Document{doc}, fhirtest.NewCache(), options())

	if len(pkg.Instances) != 2 {
		t.Fatalf("instances emitted = %d; want both despite the duplicate", len(pkg.Instances))
	}
	var dups int
	for _, d := range result.Errors() {
		if d.Code == "DuplicateInstanceId" {
			dups++
		}
	}
	if dups != 1 {
		t.Fatalf("DuplicateInstanceId errors = %d; want 1 (on the second instance)", dups)
	}
}

func TestInlineInstancesExemptFromDuplicateCheck(t *testing.T) {
	doc := ast.NewDocument("dup.fsh")
	a := patientInstance("First", "shared")
	b := patientInstance("Second", "shared")
	b.Usage = ast.UsageInline
	doc.Instances = append(doc.Instances, a, b)

	_, result := Compile(context.Background(), []*ast.Document{doc}, fhirtest.NewCache(), options())
	for _, d := range result.Errors() {
		if d.Code == "DuplicateInstanceId" {
			t.Fatalf("inline instance triggered duplicate check: %+v", d)
		}
	}
}

func TestCompileProducesAllArtifactKinds(t *testing.T) {
	doc := ast.NewDocument("all.fsh")
	doc.Profiles = append(doc.Profiles, &ast.Profile{
		Meta:   ast.Meta{Name: "MyPatient"},
		Parent: "Patient",
		Rules: []ast.ConstraintRule{
			ast.NewCard("gender", ast.Span{}, 1, "1", ast.FlagSet{}),
		},
	})
	doc.Extensions = append(doc.Extensions, &ast.Extension{
		Meta: ast.Meta{Name: "FavoriteColor"},
	})
	doc.Instances = append(doc.Instances, &ast.Instance{
		Meta:       ast.Meta{Name: "Jane", ID: "jane"},
		InstanceOf: "MyPatient",
		Rules: []ast.AssignmentRule{
			ast.NewAssignment("gender", ast.Span{}, ast.InstanceRef{Name: "female"}, false, false),
		},
	})
	doc.ValueSets = append(doc.ValueSets, &ast.ValueSet{
		Meta: ast.Meta{Name: "Colors"},
		Components: []ast.VSComponent{
			{System: "http://example.org/cs", Concepts: []ast.Code{{System: "http://example.org/cs", Code: "red", Display: "Red"}}},
		},
	})
	doc.CodeSystems = append(doc.CodeSystems, &ast.CodeSystem{
		Meta:     ast.Meta{Name: "ColorCS"},
		Concepts: []ast.Concept{{Code: "red", Display: "Red", Def: "The color red"}},
	})

	pkg, result := Compile(context.Background(), []*ast.Document{doc}, fhirtest.NewCache(), options())
	if len(result.Errors()) != 0 {
		t.Fatalf("errors: %+v", result.Errors())
	}
	if len(pkg.Profiles) != 1 || len(pkg.Extensions) != 1 || len(pkg.Instances) != 1 ||
		len(pkg.ValueSets) != 1 || len(pkg.CodeSystems) != 1 {
		t.Fatalf("package = %d/%d/%d/%d/%d artifacts", len(pkg.Profiles), len(pkg.Extensions),
			len(pkg.Instances), len(pkg.ValueSets), len(pkg.CodeSystems))
	}

	raw, err := json.Marshal(pkg.ValueSets[0])
	if err != nil {
		t.Fatal(err)
	}
	var vs map[string]any
	if err := json.Unmarshal(raw, &vs); err != nil {
		t.Fatal(err)
	}
	if vs["resourceType"] != "ValueSet" || vs["url"] != "http://example.org/fhir/ValueSet/Colors" {
		t.Errorf("value set identity = %v / %v", vs["resourceType"], vs["url"])
	}
	compose, _ := vs["compose"].(map[string]any)
	if compose == nil {
		t.Fatal("value set has no compose")
	}
	include, _ := compose["include"].([]any)
	if len(include) != 1 {
		t.Fatalf("compose.include = %v", compose["include"])
	}

	raw, err = json.Marshal(pkg.CodeSystems[0])
	if err != nil {
		t.Fatal(err)
	}
	var cs map[string]any
	if err := json.Unmarshal(raw, &cs); err != nil {
		t.Fatal(err)
	}
	if cs["resourceType"] != "CodeSystem" {
		t.Errorf("code system resourceType = %v", cs["resourceType"])
	}
	concepts, _ := cs["concept"].([]any)
	if len(concepts) != 1 {
		t.Fatalf("concepts = %v", cs["concept"])
	}
}

func TestEntityFailureDoesNotAbortSiblings(t *testing.T) {
	doc := ast.NewDocument("mixed.fsh")
	doc.Profiles = append(doc.Profiles,
		&ast.Profile{Meta: ast.Meta{Name: "Broken"}, Parent: "NoSuchParent"},
		&ast.Profile{Meta: ast.Meta{Name: "Fine"}, Parent: "Patient"},
	)

	pkg, result := Compile(context.Background(), []*ast.Document{doc}, fhirtest.NewCache(), options())
	if len(pkg.Profiles) != 1 || pkg.Profiles[0].Name != "Fine" {
		t.Fatalf("profiles = %+v; want only Fine", pkg.Profiles)
	}
	if len(result.Errors()) == 0 {
		t.Error("broken profile produced no error")
	}
}

func TestCompileBatch(t *testing.T) {
	tank := func(name string) []*ast.Document {
		doc := ast.NewDocument(name + ".fsh")
		doc.Profiles = append(doc.Profiles, &ast.Profile{
			Meta: ast.Meta{Name: name}, Parent: "Patient",
		})
		return []*ast.Document{doc}
	}

	opts := options().Apply(fsh.WithParallelTanks(true), fsh.WithWorkerCount(2))
	results := CompileBatch(context.Background(),
		[][]*ast.Document{tank("A"), tank("B"), tank("C")},
		fhirtest.NewCache(), opts)

	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.Package == nil || len(r.Package.Profiles) != 1 {
			t.Errorf("tank %d: package = %+v", i, r.Package)
		}
		if r.Index != i {
			t.Errorf("tank %d: index = %d", i, r.Index)
		}
	}
}
