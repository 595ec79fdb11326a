// Package igconfig emits the Implementation Guide ini metadata file
// (ig.ini): a single [IG] section of key = value lines behind a boxed
// banner comment. Which banner — and whether the file is generated fresh,
// copied from the author's ig-data, or merged with defaults — depends on
// the configuration/template/on-disk combination the specification lays
// out.
package igconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofhir/fsh/pkg/diag"
)

// deprecatedKeys are ig.ini keys newer IG publisher templates ignore; a
// user-supplied file keeps them, with a warning each.
var deprecatedKeys = []string{
	"copyrightyear",
	"license",
	"version",
	"ballotstatus",
	"fhirspec",
	"excludexml",
	"excludejson",
	"excludettl",
	"excludeMaps",
}

// defaultTemplate is merged in when a user-supplied ig.ini lacks a
// template key.
const defaultTemplate = "fhir.base.template"

// Emitter produces one compilation's ig.ini content.
type Emitter struct {
	// PackageID is the canonical package id ("fhir.us.minimal") naming
	// the generated ImplementationGuide resource.
	PackageID string

	// Template is the author-configured IG template reference; empty
	// means none was configured.
	Template string

	// IGDataDir is the directory an author-maintained ig.ini may live in.
	IGDataDir string
}

// Emit returns the ig.ini content and whether anything should be written.
// Diagnostics (generation notice, override and deprecation warnings) go
// to res.
func (e *Emitter) Emit(res *diag.Result) (string, bool) {
	onDisk, onDiskPath, exists := e.readExisting()

	if e.Template != "" {
		if exists {
			res.Warnf(diag.CodePackageLoad,
				"ig.ini found at %s is overridden by the configured template %s", onDiskPath, e.Template)
		}
		content := e.generate()
		res.Infof(diag.CodePackageLoad, "Generated ig.ini.")
		return content, true
	}

	if !exists {
		return "", false
	}
	return e.merge(onDisk, onDiskPath, res), true
}

// generate renders the fully-generated form: do-not-edit banner, [IG]
// section, ig and template keys.
func (e *Emitter) generate() string {
	var b strings.Builder
	writeBanner(&b,
		"WARNING: DO NOT EDIT THIS FILE",
		"",
		"This file is generated. Any edits will be overwritten",
		"the next time the compiler runs.")
	b.WriteString("[IG]\n")
	fmt.Fprintf(&b, "ig = input/ImplementationGuide-%s.json\n", e.PackageID)
	fmt.Fprintf(&b, "template = %s\n", e.Template)
	b.WriteString("\n")
	return b.String()
}

// merge copies a user-supplied ig.ini verbatim behind a provenance
// banner, warning about deprecated keys (preserved) and filling in any
// missing ig/template keys with defaults (warned per key).
func (e *Emitter) merge(lines []string, sourcePath string, res *diag.Result) string {
	present := map[string]bool{}
	for _, line := range lines {
		k, _, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		present[k] = true
		for _, dep := range deprecatedKeys {
			if k == dep {
				res.Warnf(diag.CodePackageLoad,
					"ig.ini key %q is deprecated and ignored by current IG templates; it is preserved as-is", k)
			}
		}
	}

	var b strings.Builder
	writeBanner(&b,
		"WARNING: DO NOT EDIT THIS FILE",
		"",
		fmt.Sprintf("This file is a copy of %s;", sourcePath),
		"edit that file instead and recompile.")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if !present["ig"] {
		fmt.Fprintf(&b, "ig = input/ImplementationGuide-%s.json\n", e.PackageID)
		res.Warnf(diag.CodePackageLoad, "ig.ini is missing the ig key; the default was merged in")
	}
	if !present["template"] {
		fmt.Fprintf(&b, "template = %s\n", defaultTemplate)
		res.Warnf(diag.CodePackageLoad, "ig.ini is missing the template key; the default was merged in")
	}
	if !strings.HasSuffix(b.String(), "\n\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// readExisting loads the author's ig.ini lines when one is on disk.
func (e *Emitter) readExisting() ([]string, string, bool) {
	if e.IGDataDir == "" {
		return nil, "", false
	}
	path := filepath.Join(e.IGDataDir, "ig.ini")
	f, err := os.Open(path)
	if err != nil {
		return nil, "", false
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	// Drop trailing blank lines; Emit re-appends the single trailing one.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, path, true
}

// splitKeyValue parses one "key = value" ini line.
func splitKeyValue(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ";") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
		return "", "", false
	}
	i := strings.Index(trimmed, "=")
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(trimmed[:i]), strings.TrimSpace(trimmed[i+1:]), true
}

// writeBanner renders a boxed ';' comment.
func writeBanner(b *strings.Builder, lines ...string) {
	width := 0
	for _, l := range lines {
		if len(l) > width {
			width = len(l)
		}
	}
	b.WriteString("; " + strings.Repeat("*", width+4) + "\n")
	for _, l := range lines {
		fmt.Fprintf(b, "; * %-*s *\n", width, l)
	}
	b.WriteString("; " + strings.Repeat("*", width+4) + "\n")
}
