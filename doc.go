// Package fsh compiles the FHIR Shorthand authoring language into canonical
// StructureDefinition, ValueSet, CodeSystem, and resource instance JSON,
// plus a companion Implementation Guide configuration file.
//
// # Quick Start
//
//	import (
//	    fsh "github.com/gofhir/fsh"
//	    "github.com/gofhir/fsh/pkg/assembler"
//	    "github.com/gofhir/fsh/pkg/importer"
//	)
//
//	doc, importDiags := importer.New().Import("profile.fsh", src)
//	if importDiags.HasErrors() {
//	    log.Fatal("profile.fsh has syntax errors")
//	}
//
//	pkg, result := assembler.Compile(ctx, []*ast.Document{doc}, cache, fsh.DefaultOptions())
//	if result.HasErrors() {
//	    for _, d := range result.Errors() {
//	        fmt.Println(d.Message)
//	    }
//	}
//
// # Architecture
//
// Source text flows through an Importer into an in-memory AST (pkg/ast),
// which a Package Assembler (pkg/assembler) batches into a Tank. The
// StructureDefinition Exporter (pkg/sdexport) resolves parents through the
// Tank and an external Definitions Cache (pkg/fisher) to produce derived
// StructureDefinitions; the Instance Exporter (pkg/instance) resolves each
// Instance's profile and applies assignment rules to produce resource
// instances. Both exporters share the element-tree path resolver in
// pkg/element. Diagnostics (pkg/diag) accumulate across the whole run
// without aborting it — only catastrophic errors halt compilation.
package fsh
