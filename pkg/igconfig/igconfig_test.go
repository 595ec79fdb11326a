package igconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofhir/fsh/pkg/diag"
)

func emit(t *testing.T, e *Emitter) (string, bool, *diag.Result) {
	t.Helper()
	res := diag.Acquire()
	t.Cleanup(res.Release)
	content, ok := e.Emit(res)
	return content, ok, res
}

func TestGeneratedWithTemplate(t *testing.T) {
	e := &Emitter{
		PackageID: "fhir.us.minimal",
		Template:  "hl7.fhir.template#0.0.5",
		IGDataDir: t.TempDir(),
	}
	content, ok, res := emit(t, e)
	if !ok {
		t.Fatal("nothing emitted")
	}

	if !strings.Contains(content, "[IG]") {
		t.Error("no [IG] section")
	}
	if !strings.Contains(content, "ig = input/ImplementationGuide-fhir.us.minimal.json") {
		t.Errorf("missing ig key:\n%s", content)
	}
	if !strings.Contains(content, "template = hl7.fhir.template#0.0.5") {
		t.Errorf("missing template key:\n%s", content)
	}
	if !strings.Contains(content, "DO NOT EDIT") {
		t.Error("missing warning banner")
	}
	if !strings.HasSuffix(content, "\n\n") {
		t.Error("missing trailing blank line")
	}

	infos := 0
	for _, rec := range res.Records {
		if rec.Level == diag.LevelInfo && rec.Message == "Generated ig.ini." {
			infos++
		}
	}
	if infos != 1 {
		t.Errorf("info records = %d; want exactly one \"Generated ig.ini.\"", infos)
	}
}

func TestTemplateOverridesOnDiskFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ig.ini"), []byte("[IG]\nig = custom.json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Emitter{PackageID: "fhir.us.minimal", Template: "hl7.fhir.template#0.0.5", IGDataDir: dir}
	content, ok, res := emit(t, e)
	if !ok {
		t.Fatal("nothing emitted")
	}
	if strings.Contains(content, "custom.json") {
		t.Error("on-disk content leaked into generated output")
	}
	warned := false
	for _, rec := range res.Warnings() {
		if strings.Contains(rec.Message, "overridden") {
			warned = true
		}
	}
	if !warned {
		t.Error("no override warning")
	}
}

func TestCopiedFileKeepsDeprecatedKeysWithWarnings(t *testing.T) {
	dir := t.TempDir()
	src := "[IG]\nig = input/ImplementationGuide-x.json\ntemplate = my.template#1.0.0\ncopyrightyear = 2020\nlicense = CC0-1.0\n"
	if err := os.WriteFile(filepath.Join(dir, "ig.ini"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Emitter{PackageID: "fhir.us.minimal", IGDataDir: dir}
	content, ok, res := emit(t, e)
	if !ok {
		t.Fatal("nothing emitted")
	}

	for _, keep := range []string{"copyrightyear = 2020", "license = CC0-1.0", "template = my.template#1.0.0"} {
		if !strings.Contains(content, keep) {
			t.Errorf("user content %q not preserved:\n%s", keep, content)
		}
	}
	deprecationWarnings := 0
	for _, rec := range res.Warnings() {
		if strings.Contains(rec.Message, "deprecated") {
			deprecationWarnings++
		}
	}
	if deprecationWarnings != 2 {
		t.Errorf("deprecation warnings = %d; want 2", deprecationWarnings)
	}
}

func TestMissingKeysMergedWithDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ig.ini"), []byte("[IG]\ncopyrightyear = 2020\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := &Emitter{PackageID: "fhir.us.minimal", IGDataDir: dir}
	content, ok, res := emit(t, e)
	if !ok {
		t.Fatal("nothing emitted")
	}
	if !strings.Contains(content, "ig = input/ImplementationGuide-fhir.us.minimal.json") {
		t.Errorf("default ig key not merged:\n%s", content)
	}
	if !strings.Contains(content, "template = "+defaultTemplate) {
		t.Errorf("default template key not merged:\n%s", content)
	}

	missingWarnings := 0
	for _, rec := range res.Warnings() {
		if strings.Contains(rec.Message, "missing") {
			missingWarnings++
		}
	}
	if missingWarnings != 2 {
		t.Errorf("missing-key warnings = %d; want 2", missingWarnings)
	}
}

func TestNothingToEmit(t *testing.T) {
	e := &Emitter{PackageID: "fhir.us.minimal", IGDataDir: t.TempDir()}
	if content, ok, _ := emit(t, e); ok || content != "" {
		t.Errorf("emitted %q with no template and no on-disk file", content)
	}
}
