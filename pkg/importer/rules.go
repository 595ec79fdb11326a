package importer

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
	"github.com/gofhir/fsh/pkg/lexer"
)

// flagWords maps the recognized trailing flag tokens to the FlagSet bit
// they set. "?!" (modifier) is spelled "Modifier" here; the lexer treats
// '?' and '!' as unsupported punctuation outside string/code literals.
var flagWords = map[string]func(*ast.FlagSet){
	"MS":       func(f *ast.FlagSet) { f.MustSupport = true },
	"SU":       func(f *ast.FlagSet) { f.Summary = true },
	"Modifier": func(f *ast.FlagSet) { f.Modifier = true },
}

func isFlagWord(s string) bool { _, ok := flagWords[s]; return ok }

// parseRuleLine parses one "*"-led line and appends the resulting rule to
// the current entity (or RuleSet). A malformed line is reported as
// CodeUnsupportedRule and dropped; parsing continues at the next line.
func (p *parser) parseRuleLine() {
	starTok := p.advance()
	line := p.restOfLine()

	// ValueSet/CodeSystem bodies have their own concept grammar, distinct
	// from the constraint/assignment rule forms.
	switch e := p.current.(type) {
	case *ast.ValueSet:
		p.parseValueSetRule(e, starTok, line)
		return
	case *ast.CodeSystem:
		p.parseCodeSystemRule(e, starTok, line)
		return
	}

	rule, ok := p.parseRule(starTok, line)
	if !ok {
		return
	}
	p.attachRule(rule, starTok)
}

// parseValueSetRule handles "* SYSTEM#code \"display\"" concept inclusion
// and "* include|exclude codes from system URL [and valueset URL]" compose
// components.
func (p *parser) parseValueSetRule(vs *ast.ValueSet, starTok lexer.Token, line []lexer.Token) {
	if len(line) == 0 {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: empty value set rule", p.file, starTok.Span.StartLine, starTok.Span.StartCol)
		return
	}

	if line[0].Kind == lexer.KindCode {
		sys, code, display := splitCode(line[0].Text)
		if len(line) > 1 && line[1].Kind == lexer.KindString {
			display = line[1].Text
		}
		vs.Components = append(vs.Components, ast.VSComponent{
			System:   sys,
			Concepts: []ast.Code{{System: sys, Code: code, Display: display}},
		})
		return
	}

	if line[0].Kind == lexer.KindIdent && (line[0].Text == "include" || line[0].Text == "exclude") {
		comp := ast.VSComponent{IsExclude: line[0].Text == "exclude"}
		for i := 1; i < len(line)-1; i++ {
			if line[i].Kind != lexer.KindIdent {
				continue
			}
			switch line[i].Text {
			case "system":
				comp.System = line[i+1].Text
			case "valueset":
				comp.ValueSet = append(comp.ValueSet, line[i+1].Text)
			}
		}
		if comp.System == "" && len(comp.ValueSet) == 0 {
			p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unsupported rule: %s", p.file, starTok.Span.StartLine, starTok.Span.StartCol, lineText(line))
			return
		}
		vs.Components = append(vs.Components, comp)
		return
	}

	p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unsupported rule: %s", p.file, starTok.Span.StartLine, starTok.Span.StartCol, lineText(line))
}

// parseCodeSystemRule handles "* #code \"display\" \"definition\"".
func (p *parser) parseCodeSystemRule(cs *ast.CodeSystem, starTok lexer.Token, line []lexer.Token) {
	if len(line) == 0 || line[0].Kind != lexer.KindCode {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unsupported rule: %s", p.file, starTok.Span.StartLine, starTok.Span.StartCol, lineText(line))
		return
	}
	_, code, _ := splitCode(line[0].Text)
	concept := ast.Concept{Code: code}
	if len(line) > 1 && line[1].Kind == lexer.KindString {
		concept.Display = line[1].Text
	}
	if len(line) > 2 && line[2].Kind == lexer.KindString {
		concept.Def = line[2].Text
	}
	cs.Concepts = append(cs.Concepts, concept)
}

func (p *parser) attachRule(rule ast.Rule, starTok lexer.Token) {
	switch e := p.current.(type) {
	case *ast.Profile:
		cr, ok := rule.(ast.ConstraintRule)
		if !ok {
			p.res.Errorf(diag.CodeUnsupportedRule, "%s:%d:%d: assignment-only rule used on a Profile", p.file, starTok.Span.StartLine, starTok.Span.StartCol)
			return
		}
		e.Rules = append(e.Rules, cr)
	case *ast.Extension:
		cr, ok := rule.(ast.ConstraintRule)
		if !ok {
			p.res.Errorf(diag.CodeUnsupportedRule, "%s:%d:%d: assignment-only rule used on an Extension", p.file, starTok.Span.StartLine, starTok.Span.StartCol)
			return
		}
		e.Rules = append(e.Rules, cr)
	case *ast.Instance:
		ar, ok := rule.(ast.AssignmentRule)
		if !ok {
			p.res.Errorf(diag.CodeUnsupportedRule, "%s:%d:%d: constraint-only rule used on an Instance", p.file, starTok.Span.StartLine, starTok.Span.StartCol)
			return
		}
		e.Rules = append(e.Rules, ar)
	case *ast.RuleSet:
		e.Rules = append(e.Rules, rule)
	default:
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: rule outside any entity", p.file, starTok.Span.StartLine, starTok.Span.StartCol)
	}
}

// parseRule dispatches on the shape of line (the tokens after the leading
// "*") and returns the parsed rule. The boolean return is false when the
// line could not be parsed as any known rule form; a diagnostic has
// already been recorded in that case.
func (p *parser) parseRule(starTok lexer.Token, line []lexer.Token) (ast.Rule, bool) {
	if len(line) == 0 {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: empty rule line", p.file, starTok.Span.StartLine, starTok.Span.StartCol)
		return nil, false
	}

	span := ast.Span{File: p.file, StartLine: starTok.Span.StartLine, StartCol: starTok.Span.StartCol, EndLine: line[len(line)-1].Span.EndLine, EndCol: line[len(line)-1].Span.EndCol}

	// "* insert RuleSetName"
	if line[0].Kind == lexer.KindIdent && line[0].Text == "insert" && len(line) >= 2 {
		return ast.NewInsert("", span, line[1].Text), true
	}

	// A rule line always starts with a path (or a caret applying to the
	// implicit current-element path "."). Read it.
	idx := 0
	path := ""
	if line[idx].Kind == lexer.KindIdent || line[idx].Kind == lexer.KindCaret {
		if line[idx].Kind == lexer.KindIdent {
			path = line[idx].Text
			idx++
		} else {
			path = "." // caret on the element itself
		}
	} else {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unsupported rule: %s", p.file, starTok.Span.StartLine, starTok.Span.StartCol, lineText(line))
		return nil, false
	}

	// "* path1, path2 flag" — comma-joined path list, collapsed to the
	// first path; a real multi-path Flag rule would fan this out, but the
	// common case is a single path and callers can repeat the line.
	for idx < len(line) && line[idx].Kind == lexer.KindComma {
		idx += 2 // skip comma and the next path ident
	}

	if idx >= len(line) {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unsupported rule: %s", p.file, starTok.Span.StartLine, starTok.Span.StartCol, lineText(line))
		return nil, false
	}

	switch {
	case line[idx].Kind == lexer.KindCaret:
		return p.parseCaretValue(path, line, idx, span)

	case line[idx].Kind == lexer.KindEquals:
		return p.parseAssignOrFixed(path, line, idx, span)

	case line[idx].Kind == lexer.KindNumber && idx+1 < len(line) && line[idx+1].Kind == lexer.KindDotDot:
		return p.parseCard(path, line, idx, span)

	case line[idx].Kind == lexer.KindIdent && isFlagWord(line[idx].Text):
		return p.parseFlag(path, line, idx, span)

	case line[idx].Kind == lexer.KindIdent && line[idx].Text == "from":
		return p.parseBinding(path, line, idx, span)

	case line[idx].Kind == lexer.KindIdent && line[idx].Text == "only":
		return p.parseOnly(path, line, idx, span)

	case line[idx].Kind == lexer.KindIdent && line[idx].Text == "contains":
		return p.parseContains(path, line, idx, span)

	default:
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unsupported rule: %s", p.file, starTok.Span.StartLine, starTok.Span.StartCol, lineText(line))
		return nil, false
	}
}

func (p *parser) parseCard(path string, line []lexer.Token, idx int, span ast.Span) (ast.Rule, bool) {
	min, max, next, ok := parseCardinality(line, idx)
	if !ok {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: malformed cardinality on %q", p.file, span.StartLine, span.StartCol, path)
		return nil, false
	}
	var flags ast.FlagSet
	for i := next; i < len(line); i++ {
		if line[i].Kind == lexer.KindIdent {
			if setter, isFlag := flagWords[line[i].Text]; isFlag {
				setter(&flags)
			}
		}
	}
	return ast.NewCard(path, span, min, max, flags), true
}

func (p *parser) parseFlag(path string, line []lexer.Token, idx int, span ast.Span) (ast.Rule, bool) {
	var flags ast.FlagSet
	for i := idx; i < len(line); i++ {
		if line[i].Kind == lexer.KindIdent {
			if setter, isFlag := flagWords[line[i].Text]; isFlag {
				setter(&flags)
			}
		}
	}
	return ast.NewFlag(path, span, flags), true
}

func (p *parser) parseBinding(path string, line []lexer.Token, idx int, span ast.Span) (ast.Rule, bool) {
	idx++ // "from"
	if idx >= len(line) {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: binding missing value set on %q", p.file, span.StartLine, span.StartCol, path)
		return nil, false
	}
	vs := line[idx].Text
	idx++

	strength := ast.StrengthRequired
	if idx < len(line) && line[idx].Kind == lexer.KindLParen {
		idx++
		if idx < len(line) {
			switch strings.ToLower(line[idx].Text) {
			case "example":
				strength = ast.StrengthExample
			case "preferred":
				strength = ast.StrengthPreferred
			case "extensible":
				strength = ast.StrengthExtensible
			case "required":
				strength = ast.StrengthRequired
			}
		}
	}
	return ast.NewValueSetBinding(path, span, vs, strength), true
}

func (p *parser) parseOnly(path string, line []lexer.Token, idx int, span ast.Span) (ast.Rule, bool) {
	idx++ // "only"
	var types []ast.TypeChoice
	for idx < len(line) {
		if line[idx].Kind == lexer.KindPipe {
			idx++
			continue
		}
		if line[idx].Kind != lexer.KindIdent {
			idx++
			continue
		}
		name := line[idx].Text
		if strings.HasPrefix(name, "Reference(") {
			inner := strings.TrimSuffix(strings.TrimPrefix(name, "Reference("), ")")
			for _, target := range strings.Split(inner, "|") {
				if target != "" {
					types = append(types, ast.TypeChoice{Name: target, IsReference: true})
				}
			}
		} else {
			types = append(types, ast.TypeChoice{Name: name, IsReference: false})
		}
		idx++
	}
	if len(types) == 0 {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: only rule with no types on %q", p.file, span.StartLine, span.StartCol, path)
		return nil, false
	}
	return ast.NewOnly(path, span, types), true
}

func (p *parser) parseContains(path string, line []lexer.Token, idx int, span ast.Span) (ast.Rule, bool) {
	idx++ // "contains"
	var items []ast.ContainsItem
	for idx < len(line) {
		if line[idx].Kind == lexer.KindIdent && line[idx].Text == "and" {
			idx++
			continue
		}
		if line[idx].Kind != lexer.KindIdent {
			idx++
			continue
		}
		item := ast.ContainsItem{Name: line[idx].Text, Max: "*", Min: 0}
		idx++
		if min, max, next, ok := parseCardinality(line, idx); ok {
			item.Min, item.Max = min, max
			idx = next
			for idx < len(line) && line[idx].Kind == lexer.KindIdent {
				if setter, isFlag := flagWords[line[idx].Text]; isFlag {
					setter(&item.Flags)
					idx++
					continue
				}
				break
			}
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: contains rule with no items on %q", p.file, span.StartLine, span.StartCol, path)
		return nil, false
	}
	return ast.NewContains(path, span, items), true
}

func (p *parser) parseCaretValue(path string, line []lexer.Token, idx int, span ast.Span) (ast.Rule, bool) {
	caretPath := strings.TrimPrefix(line[idx].Text, "^")
	idx++
	if idx >= len(line) || line[idx].Kind != lexer.KindEquals {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: caret rule missing '=' on %q", p.file, span.StartLine, span.StartCol, path)
		return nil, false
	}
	idx++
	value, ok := p.parseValue(line, idx)
	if !ok {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: malformed value on %q", p.file, span.StartLine, span.StartCol, path)
		return nil, false
	}
	return ast.NewCaretValue(path, span, caretPath, value), true
}

func (p *parser) parseAssignOrFixed(path string, line []lexer.Token, idx int, span ast.Span) (ast.Rule, bool) {
	idx++ // "="
	value, ok := p.parseValue(line, idx)
	if !ok {
		p.res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: malformed value on %q", p.file, span.StartLine, span.StartCol, path)
		return nil, false
	}

	// A code value may carry its system as a trailing "from <url>" clause.
	if c, isCode := value.(ast.Code); isCode && c.System == "" {
		for i := idx; i < len(line)-1; i++ {
			if line[i].Kind == lexer.KindIdent && line[i].Text == "from" {
				c.System = line[i+1].Text
				value = c
				break
			}
		}
	}

	exactly := false
	for i := idx; i < len(line); i++ {
		if line[i].Kind == lexer.KindLParen && i+1 < len(line) && line[i+1].Text == "exactly" {
			exactly = true
		}
	}

	// An unquoted bare Name is an instance reference on an Instance; on a
	// Profile it stays a code-ish token handled downstream.
	_, isInstance := value.(ast.InstanceRef)

	switch p.current.(type) {
	case *ast.Instance:
		return ast.NewAssignment(path, span, value, exactly, isInstance), true
	default:
		return ast.NewFixedValue(path, span, value, exactly), true
	}
}

// parseValue parses a single literal value starting at idx; it returns the
// Value and whether parsing succeeded. It deliberately does not advance any
// shared cursor — callers operate over the already-sliced line.
func (p *parser) parseValue(line []lexer.Token, idx int) (ast.Value, bool) {
	if idx >= len(line) {
		return nil, false
	}
	t := line[idx]
	switch t.Kind {
	case lexer.KindString:
		return ast.String(t.Text), true
	case lexer.KindNumber:
		// "number 'unit'" quantity, a "q1 : q2" ratio, a bare decimal, or
		// a date/dateTime/time lexeme (opaque, not decimal-parseable).
		dec, err := decimalFromString(t.Text)
		if err != nil {
			return ast.DateTime(t.Text), true
		}
		width := 1
		q := ast.Quantity{Value: dec}
		if idx+1 < len(line) && line[idx+1].Kind == lexer.KindString {
			q.Unit = line[idx+1].Text
			width = 2
		}
		if idx+width < len(line) && line[idx+width].Kind == lexer.KindColon {
			denom, ok := p.parseValue(line, idx+width+1)
			if !ok {
				return nil, false
			}
			switch d := denom.(type) {
			case ast.Quantity:
				return ast.Ratio{Numerator: q, Denominator: d}, true
			case ast.Number:
				return ast.Ratio{Numerator: q, Denominator: ast.Quantity{Value: d.Decimal}}, true
			default:
				return nil, false
			}
		}
		if width == 2 {
			return q, true
		}
		return ast.Number{Decimal: dec}, true
	case lexer.KindCode:
		sys, code, display := splitCode(t.Text)
		if idx+1 < len(line) && line[idx+1].Kind == lexer.KindString {
			display = line[idx+1].Text
		}
		return ast.Code{System: sys, Code: code, Display: display}, true
	case lexer.KindIdent:
		switch {
		case t.Text == "true":
			return ast.Bool(true), true
		case t.Text == "false":
			return ast.Bool(false), true
		case strings.HasPrefix(t.Text, "Reference("):
			return ast.Reference{Target: strings.TrimSuffix(strings.TrimPrefix(t.Text, "Reference("), ")")}, true
		case strings.HasPrefix(t.Text, "Canonical("):
			return ast.Canonical{Target: strings.TrimSuffix(strings.TrimPrefix(t.Text, "Canonical("), ")")}, true
		default:
			return ast.InstanceRef{Name: t.Text}, true
		}
	default:
		return nil, false
	}
}

func splitCode(s string) (system, code, display string) {
	idx := strings.LastIndex(s, "#")
	if idx < 0 {
		return "", s, ""
	}
	return s[:idx], s[idx+1:], ""
}

// decimalFromString parses a decimal literal exactly, with no float
// round-trip.
func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
