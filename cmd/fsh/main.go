// Package main implements the fsh CLI: it compiles a directory of FHIR
// Shorthand source files into StructureDefinition, ValueSet, CodeSystem,
// and instance JSON artifacts plus the IG's ig.ini metadata file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	fsh "github.com/gofhir/fsh"
	"github.com/gofhir/fsh/internal/logging"
	"github.com/gofhir/fsh/pkg/assembler"
	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/fisher"
	"github.com/gofhir/fsh/pkg/igconfig"
	"github.com/gofhir/fsh/pkg/importer"
	"github.com/gofhir/fsh/pkg/sdexport"
)

const (
	version = "0.1.0"
	usage   = `fsh - FHIR Shorthand compiler

Usage:
  fsh [options] <dir>

Examples:
  fsh input/fsh
  fsh -canonical http://example.org/fhir -out build input/fsh
  fsh -config fsh-config.yaml input/fsh
  fsh -output json input/fsh

Options:
`
)

// OutputFormat specifies the diagnostic output format.
type OutputFormat string

// Output format constants.
const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// Config holds CLI configuration.
type Config struct {
	Version     string
	Canonical   string
	Template    string
	OutDir      string
	ConfigFile  string
	Output      OutputFormat
	Strict      bool
	Quiet       bool
	Verbose     bool
	ShowVersion bool
	Help        bool
	Dir         string
}

// fileConfig is the optional fsh-config.yaml convenience file: the same
// knobs as the flags plus the dependency package list, so a project pins
// its build inputs in one committed file.
type fileConfig struct {
	Canonical    string   `yaml:"canonical"`
	Template     string   `yaml:"template"`
	FHIRVersion  string   `yaml:"fhirVersion"`
	Output       string   `yaml:"output"`
	Dependencies []string `yaml:"dependencies"`
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("fsh v%s\n", version)
		os.Exit(0)
	}

	if config.Help || config.Dir == "" {
		flag.Usage()
		os.Exit(0)
	}

	os.Exit(run(config))
}

func parseFlags() *Config {
	config := &Config{
		Version: "R4",
		Output:  OutputText,
		OutDir:  "fsh-generated",
	}

	var output string
	flag.StringVar(&config.Version, "version", "R4", "FHIR version (R4, R4B, R5)")
	flag.StringVar(&config.Canonical, "canonical", "http://example.org/fhir", "Base canonical URL for minted entities")
	flag.StringVar(&config.Template, "template", "", "IG template reference (e.g. hl7.fhir.template#0.0.5)")
	flag.StringVar(&config.OutDir, "out", "fsh-generated", "Output directory for artifacts")
	flag.StringVar(&config.ConfigFile, "config", "", "Optional fsh-config.yaml file")
	flag.StringVar(&output, "output", "text", "Diagnostic output format: text, json")
	flag.BoolVar(&config.Strict, "strict", false, "Treat warnings as errors")
	flag.BoolVar(&config.Quiet, "quiet", false, "Only print errors")
	flag.BoolVar(&config.Verbose, "verbose", false, "Print debug information")
	flag.BoolVar(&config.ShowVersion, "v", false, "Show version")
	flag.BoolVar(&config.Help, "help", false, "Show help")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	config.Output = OutputFormat(output)
	if args := flag.Args(); len(args) > 0 {
		config.Dir = args[0]
	}
	return config
}

func run(config *Config) int {
	log := logging.Default()
	switch {
	case config.Quiet:
		log.SetLevel(logging.LevelError)
	case config.Verbose:
		log.SetLevel(logging.LevelDebug)
	}

	opts := fsh.DefaultOptions().Apply(
		fsh.WithVersion(fsh.FHIRVersion(config.Version)),
		fsh.WithCanonical(config.Canonical),
		fsh.WithStrictMode(config.Strict),
		fsh.WithTemplate(config.Template),
	)
	if !opts.Version.IsValid() {
		log.Error("unsupported FHIR version %q", config.Version)
		return 2
	}
	if config.ConfigFile != "" {
		if err := applyFileConfig(config.ConfigFile, config, opts); err != nil {
			log.Error("read config: %v", err)
			return 2
		}
	}

	start := time.Now()
	docs, importDiags, err := importDir(config.Dir)
	if err != nil {
		log.Error("%v", err)
		return 2
	}
	if len(docs) == 0 {
		log.Error("no .fsh files under %s", config.Dir)
		return 2
	}

	ctx := context.Background()
	pkg, result := assembler.Compile(ctx, docs, fisher.NewMemCache(), opts)
	for _, d := range importDiags {
		result.Add(d)
	}

	if err := writeArtifacts(config.OutDir, pkg); err != nil {
		log.Error("write artifacts: %v", err)
		return 2
	}
	writeIGConfig(config, opts, log)

	switch config.Output {
	case OutputJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	default:
		printText(result, log)
	}

	errs := len(result.Errors())
	warns := len(result.Warnings())
	log.Info("compiled %d docs into %d profiles, %d extensions, %d instances, %d value sets, %d code systems in %s",
		len(docs), len(pkg.Profiles), len(pkg.Extensions), len(pkg.Instances), len(pkg.ValueSets), len(pkg.CodeSystems),
		time.Since(start).Round(time.Millisecond))

	if errs > 0 || (config.Strict && warns > 0) {
		return 1
	}
	return 0
}

func applyFileConfig(path string, config *Config, opts *fsh.Options) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.Canonical != "" {
		opts.Canonical = fc.Canonical
	}
	if fc.Template != "" {
		opts.Template = fc.Template
	}
	if fc.FHIRVersion != "" {
		opts.Version = fsh.FHIRVersion(fc.FHIRVersion)
	}
	if fc.Output != "" {
		config.OutDir = fc.Output
	}
	opts.DependencyPackages = append(opts.DependencyPackages, fc.Dependencies...)
	return nil
}

// importDir parses every .fsh file under dir, in sorted path order.
func importDir(dir string) ([]*ast.Document, []fsh.Diagnostic, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".fsh") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(files)

	var docs []*ast.Document
	var diags []fsh.Diagnostic
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, nil, err
		}
		doc, res := importer.New().Import(f, string(src))
		docs = append(docs, doc)
		for _, rec := range res.Records {
			diags = append(diags, fsh.FromRecord(rec))
		}
		res.Release()
	}
	return docs, diags, nil
}

func writeArtifacts(outDir string, pkg *assembler.Package) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	write := func(name string, v any) error {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(outDir, name), append(raw, '\n'), 0o644)
	}

	for _, sd := range append(append([]*sdexport.StructureDefinition{}, pkg.Profiles...), pkg.Extensions...) {
		if err := write(fmt.Sprintf("StructureDefinition-%s.json", sd.ID), sd); err != nil {
			return err
		}
	}
	for _, in := range pkg.Instances {
		if in.Usage == ast.UsageInline {
			continue
		}
		if err := write(fmt.Sprintf("%s-%s.json", in.ResourceType, in.ID), in); err != nil {
			return err
		}
	}
	for _, vs := range pkg.ValueSets {
		if err := write(fmt.Sprintf("ValueSet-%s.json", vs.ID), vs); err != nil {
			return err
		}
	}
	for _, cs := range pkg.CodeSystems {
		if err := write(fmt.Sprintf("CodeSystem-%s.json", cs.ID), cs); err != nil {
			return err
		}
	}
	return nil
}

func writeIGConfig(config *Config, opts *fsh.Options, log *logging.Logger) {
	res := diag.Acquire()
	defer res.Release()

	em := &igconfig.Emitter{
		PackageID: packageID(opts.Canonical),
		Template:  opts.Template,
		IGDataDir: filepath.Join(config.Dir, "ig-data"),
	}
	content, emit := em.Emit(res)
	for _, rec := range res.Records {
		log.Record(rec)
	}
	if !emit {
		return
	}
	if err := os.WriteFile(filepath.Join(config.OutDir, "ig.ini"), []byte(content), 0o644); err != nil {
		log.Error("write ig.ini: %v", err)
	}
}

// packageID derives the canonical package id from the canonical URL:
// the host-and-path tail with slashes collapsed to dots, so
// "http://hl7.org/fhir/us/minimal" becomes "fhir.us.minimal".
func packageID(canonical string) string {
	s := canonical
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	parts := strings.Split(s, "/")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}

func printText(result *fsh.Result, log *logging.Logger) {
	for _, d := range result.Diagnostics {
		msg := d.Message
		if d.File != "" {
			msg = fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, msg)
		}
		switch {
		case d.IsError():
			log.Error("%s [%s]", msg, d.Code)
		case d.IsWarning():
			log.Warn("%s [%s]", msg, d.Code)
		default:
			log.Info("%s [%s]", msg, d.Code)
		}
	}
}
