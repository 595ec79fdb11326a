// Package importer turns FSH source text into a pkg/ast.Document. It is a
// small recursive-descent parser over pkg/lexer's token stream: header
// keywords switch the current entity, metadata keywords bind to it, and
// "*"-led lines dispatch to one of the rule-line grammars. A single
// Importer value parses exactly one compilation; reuse is a diagnosed
// error rather than a panic, matching the rest of the pipeline's
// never-abort posture.
package importer

import (
	"strconv"
	"strings"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/lexer"
)

// Importer parses one FSH source file into a Document. It must not be
// reused after a call to Import.
type Importer struct {
	used bool
}

// New returns a ready-to-use Importer.
func New() *Importer { return &Importer{} }

// Import parses src (the contents of file) into a Document, along with any
// diagnostics raised while doing so. Syntax errors drop the offending line
// and continue; they never abort the parse.
func (im *Importer) Import(file, src string) (*ast.Document, *diag.Result) {
	res := diag.Acquire()
	if im.used {
		res.Errorf(diag.CodeReuseOfImporter, "importer instance reused for %s; each Importer parses exactly one document", file)
		return ast.NewDocument(file), res
	}
	im.used = true

	toks, lexRes := lexer.Lex(file, src)
	res.Merge(lexRes)
	lexRes.Release()

	p := &parser{toks: toks, doc: ast.NewDocument(file), res: res, file: file}
	p.run()

	p.resolveAliases()
	return p.doc, res
}

// parser consumes a token stream with one token of lookahead.
type parser struct {
	toks []lexer.Token
	pos  int
	doc  *ast.Document
	res  *diag.Result
	file string

	// current holds the entity being built; rule/metadata lines attach to it.
	current any
}

func (p *parser) peek() lexer.Token  { return p.toks[p.pos] }
func (p *parser) atEOF() bool        { return p.peek().Kind == lexer.KindEOF }
func (p *parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// skipNewlines consumes any run of blank lines.
func (p *parser) skipNewlines() {
	for p.peek().Kind == lexer.KindNewline {
		p.advance()
	}
}

// restOfLine collects every token up to (not including) the next newline or
// EOF, for error reporting and for free-form value grammars.
func (p *parser) restOfLine() []lexer.Token {
	var out []lexer.Token
	for p.peek().Kind != lexer.KindNewline && !p.atEOF() {
		out = append(out, p.advance())
	}
	return out
}

func lineText(toks []lexer.Token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

func (p *parser) run() {
	for !p.atEOF() {
		p.skipNewlines()
		if p.atEOF() {
			break
		}

		tok := p.peek()
		switch tok.Kind {
		case lexer.KindKeyword:
			if lexer.IsHeaderKeyword(tok.Text) {
				p.parseHeader()
			} else {
				p.parseMetadata()
			}
		case lexer.KindStar:
			p.parseRuleLine()
		default:
			line := p.restOfLine()
			p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unsupported rule: %s", p.file, tok.Span.StartLine, tok.Span.StartCol, lineText(append([]lexer.Token{tok}, line...)))
			p.advance()
		}
	}
}

func (p *parser) parseHeader() {
	kwTok := p.advance()
	nameToks := p.restOfLine()
	if len(nameToks) == 0 {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: %s: missing entity name", p.file, kwTok.Span.StartLine, kwTok.Span.StartCol, kwTok.Text)
		p.current = nil
		return
	}
	name := nameToks[0].Text
	span := ast.Span{File: p.file, StartLine: kwTok.Span.StartLine, StartCol: kwTok.Span.StartCol, EndLine: nameToks[len(nameToks)-1].Span.EndLine, EndCol: nameToks[len(nameToks)-1].Span.EndCol}
	meta := ast.Meta{Name: name, Span: span}

	switch kwTok.Text {
	case "Profile":
		e := &ast.Profile{Meta: meta}
		p.doc.Profiles = append(p.doc.Profiles, e)
		p.current = e
	case "Extension":
		e := &ast.Extension{Meta: meta}
		p.doc.Extensions = append(p.doc.Extensions, e)
		p.current = e
	case "Instance":
		e := &ast.Instance{Meta: meta}
		p.doc.Instances = append(p.doc.Instances, e)
		p.current = e
	case "RuleSet":
		e := &ast.RuleSet{Meta: meta}
		p.doc.RuleSets[e.Name] = e
		p.current = e
	case "ValueSet":
		e := &ast.ValueSet{Meta: meta}
		p.doc.ValueSets = append(p.doc.ValueSets, e)
		p.current = e
	case "CodeSystem":
		e := &ast.CodeSystem{Meta: meta}
		p.doc.CodeSystems = append(p.doc.CodeSystems, e)
		p.current = e
	case "Alias":
		// "Alias: NAME = URL"
		var url string
		for i, t := range nameToks {
			if t.Kind == lexer.KindEquals && i+1 < len(nameToks) {
				url = nameToks[i+1].Text
				break
			}
		}
		p.doc.Aliases[name] = &ast.Alias{Name: name, URL: url, Span: span}
		p.current = nil
	}
}

func (p *parser) parseMetadata() {
	kwTok := p.advance()
	valToks := p.restOfLine()
	value := joinValue(valToks)

	if p.current == nil {
		p.res.Warnf(diag.CodeUnknownMetadata, "%s:%d:%d: metadata %q outside any entity", p.file, kwTok.Span.StartLine, kwTok.Span.StartCol, kwTok.Text)
		return
	}

	switch e := p.current.(type) {
	case *ast.Profile:
		applyCommonMeta(&e.Meta, kwTok.Text, value, p.res, p.file, kwTok)
		if kwTok.Text == "Parent" {
			e.Parent = value
		}
	case *ast.Extension:
		applyCommonMeta(&e.Meta, kwTok.Text, value, p.res, p.file, kwTok)
		if kwTok.Text == "Parent" {
			e.Parent = value
		}
	case *ast.Instance:
		applyCommonMeta(&e.Meta, kwTok.Text, value, p.res, p.file, kwTok)
		switch kwTok.Text {
		case "InstanceOf":
			e.InstanceOf = value
		case "Usage":
			switch strings.ToLower(value) {
			case "inline":
				e.Usage = ast.UsageInline
			case "definition":
				e.Usage = ast.UsageDefinition
			default:
				e.Usage = ast.UsageExample
			}
		case "Mixins":
			for _, m := range strings.Split(value, ",") {
				m = strings.TrimSpace(m)
				if m != "" {
					e.Mixins = append(e.Mixins, m)
				}
			}
		}
	case *ast.ValueSet:
		applyCommonMeta(&e.Meta, kwTok.Text, value, p.res, p.file, kwTok)
	case *ast.CodeSystem:
		applyCommonMeta(&e.Meta, kwTok.Text, value, p.res, p.file, kwTok)
	case *ast.RuleSet:
		applyCommonMeta(&e.Meta, kwTok.Text, value, p.res, p.file, kwTok)
	default:
		p.res.Warnf(diag.CodeUnknownMetadata, "%s:%d:%d: metadata %q not legal here", p.file, kwTok.Span.StartLine, kwTok.Span.StartCol, kwTok.Text)
	}
}

func applyCommonMeta(m *ast.Meta, key, value string, res *diag.Result, file string, kwTok lexer.Token) {
	switch key {
	case "Id":
		m.ID = value
	case "Title":
		m.Title = value
	case "Description":
		m.Description = value
	case "Parent", "InstanceOf", "Usage", "Mixins":
		// handled by the caller for entity-specific fields
	default:
		res.Warnf(diag.CodeUnknownMetadata, "%s:%d:%d: unknown metadata key %q", file, kwTok.Span.StartLine, kwTok.Span.StartCol, key)
	}
}

func joinValue(toks []lexer.Token) string {
	if len(toks) == 1 && toks[0].Kind == lexer.KindString {
		return toks[0].Text
	}
	return lineText(toks)
}

// resolveAliases performs the second alias-resolution pass: a value equal
// to a known alias name is rewritten to the alias's URL in Profile and
// Extension parents, Instance InstanceOf, Only rule type names, and
// ValueSetBinding value sets. Alias names are not resolved anywhere else
// (code systems of code values, assignment and caret values, ValueSet and
// CodeSystem rules).
func (p *parser) resolveAliases() {
	if len(p.doc.Aliases) == 0 {
		return
	}
	table := make(map[string]string, len(p.doc.Aliases))
	for name, a := range p.doc.Aliases {
		table[name] = a.URL
	}

	resolve := func(s string) string {
		if url, ok := table[s]; ok {
			return url
		}
		return s
	}

	for _, pr := range p.doc.Profiles {
		pr.Parent = resolve(pr.Parent)
		resolveRuleAliases(pr.Rules, resolve)
	}
	for _, ext := range p.doc.Extensions {
		ext.Parent = resolve(ext.Parent)
		resolveRuleAliases(ext.Rules, resolve)
	}
	for _, inst := range p.doc.Instances {
		inst.InstanceOf = resolve(inst.InstanceOf)
	}
}

func resolveRuleAliases(rules []ast.ConstraintRule, resolve func(string) string) {
	for _, r := range rules {
		switch rr := r.(type) {
		case *ast.Only:
			for i := range rr.Types {
				rr.Types[i].Name = resolve(rr.Types[i].Name)
			}
		case *ast.ValueSetBinding:
			rr.ValueSet = resolve(rr.ValueSet)
		}
	}
}

// parseCardinality parses a "min..max" lexeme pair already split into
// separate tokens by the lexer (Number, DotDot, Number|StarWildcard).
func parseCardinality(toks []lexer.Token, idx int) (min uint32, max string, next int, ok bool) {
	if idx >= len(toks) || toks[idx].Kind != lexer.KindNumber {
		return 0, "", idx, false
	}
	n, err := strconv.ParseUint(toks[idx].Text, 10, 32)
	if err != nil {
		return 0, "", idx, false
	}
	idx++
	if idx >= len(toks) || toks[idx].Kind != lexer.KindDotDot {
		return 0, "", idx, false
	}
	idx++
	if idx >= len(toks) {
		return 0, "", idx, false
	}
	maxTok := toks[idx]
	if maxTok.Kind != lexer.KindNumber && maxTok.Kind != lexer.KindStarWildcard {
		return 0, "", idx, false
	}
	idx++
	return uint32(n), maxTok.Text, idx, true
}
