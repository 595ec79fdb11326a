package lexer

import (
	"strings"
	"unicode"

	"github.com/gofhir/fsh/pkg/ast"
	"github.com/gofhir/fsh/pkg/diag"
)

// Lex scans src (the contents of file) into a flat Token stream. Lexical
// errors never abort scanning: an unrecognized rune is skipped and recorded
// as a warning, matching the importer's general "keep going" posture.
func Lex(file, src string) ([]Token, *diag.Result) {
	res := diag.Acquire()
	c := newCursor(file, []rune(src))
	var toks []Token
	atLineStart := true

	for {
		c.skipSpacesAndComments()
		if c.isEOF() {
			break
		}

		startLine, startCol := c.position()
		r := c.peek()

		switch {
		case r == '\n':
			c.advance()
			toks = append(toks, newTok(KindNewline, "\n", file, startLine, startCol, c))
			atLineStart = true
			continue

		case r == '*' && (atLineStart || lastSignificant(toks) == KindNewline || len(toks) == 0):
			c.advance()
			if !unicode.IsSpace(c.peek()) && c.peek() != 0 {
				// A '*' immediately followed by a non-space is the wildcard
				// max-cardinality token ("*..*"), not a rule bullet.
				toks = append(toks, newTok(KindStarWildcard, "*", file, startLine, startCol, c))
			} else {
				toks = append(toks, newTok(KindStar, "*", file, startLine, startCol, c))
			}

		case r == '"':
			text, ok := lexString(c)
			if !ok {
				res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unterminated string literal", file, startLine, startCol)
				break
			}
			toks = append(toks, newTok(KindString, text, file, startLine, startCol, c))

		case r == '\'':
			// Single-quoted UCUM unit code, as in "85 'mm[Hg]'".
			c.advance()
			var sb strings.Builder
			for !c.isEOF() && c.peek() != '\'' && c.peek() != '\n' {
				sb.WriteRune(c.advance())
			}
			if c.peek() != '\'' {
				res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unterminated unit literal", file, startLine, startCol)
				break
			}
			c.advance()
			toks = append(toks, newTok(KindString, sb.String(), file, startLine, startCol, c))

		case r == '#':
			// A bare "#code" is a code literal with no system.
			c.advance()
			code := lexBareToken(c)
			toks = append(toks, newTok(KindCode, "#"+code, file, startLine, startCol, c))

		case r == '^':
			c.advance()
			path := lexBareToken(c)
			toks = append(toks, newTok(KindCaret, "^"+path, file, startLine, startCol, c))

		case r == '=':
			c.advance()
			toks = append(toks, newTok(KindEquals, "=", file, startLine, startCol, c))

		case r == '.' && c.peekAt(1) == '.':
			c.advance()
			c.advance()
			toks = append(toks, newTok(KindDotDot, "..", file, startLine, startCol, c))

		case r == '.':
			// A bare '.' names the entity's own root element in a caret
			// rule ("* . ^short = ...").
			c.advance()
			toks = append(toks, newTok(KindIdent, ".", file, startLine, startCol, c))

		case r == '|':
			c.advance()
			toks = append(toks, newTok(KindPipe, "|", file, startLine, startCol, c))

		case r == ':':
			c.advance()
			toks = append(toks, newTok(KindColon, ":", file, startLine, startCol, c))

		case r == ',':
			c.advance()
			toks = append(toks, newTok(KindComma, ",", file, startLine, startCol, c))

		case r == '(':
			c.advance()
			toks = append(toks, newTok(KindLParen, "(", file, startLine, startCol, c))

		case r == ')':
			c.advance()
			toks = append(toks, newTok(KindRParen, ")", file, startLine, startCol, c))

		case r == '*':
			c.advance()
			toks = append(toks, newTok(KindStarWildcard, "*", file, startLine, startCol, c))

		case unicode.IsDigit(r) || (r == '-' && unicode.IsDigit(c.peekAt(1))):
			text := lexNumber(c)
			toks = append(toks, newTok(KindNumber, text, file, startLine, startCol, c))

		case isIdentStart(r):
			word := lexBareToken(c)
			if (word == "Reference" || word == "Canonical") && c.peek() == '(' {
				// "Reference(A|B)" and "Canonical(Name)" are single value
				// lexemes, parens included.
				var sb strings.Builder
				sb.WriteString(word)
				for !c.isEOF() && c.peek() != ')' && c.peek() != '\n' {
					sb.WriteRune(c.advance())
				}
				if c.peek() == ')' {
					sb.WriteRune(c.advance())
				}
				toks = append(toks, newTok(KindIdent, compactSpaces(sb.String()), file, startLine, startCol, c))
				atLineStart = false
				continue
			}
			if code, isCode := maybeCode(c, word); isCode {
				toks = append(toks, newTok(KindCode, code, file, startLine, startCol, c))
			} else if c.peek() == ':' && (IsHeaderKeyword(word) || IsMetadataKeyword(word) || atLineStart) {
				// A known keyword's colon — or any "Word:" opening a line,
				// so unrecognized metadata keys still parse as metadata
				// and get the unknown-metadata warning downstream.
				c.advance()
				toks = append(toks, newTok(KindKeyword, word, file, startLine, startCol, c))
			} else {
				toks = append(toks, newTok(KindIdent, word, file, startLine, startCol, c))
			}

		default:
			res.Warnf(diag.CodeUnsupportedRule, "%s:%d:%d: unexpected character %q", file, startLine, startCol, r)
			c.advance()
			continue
		}

		atLineStart = false
	}

	toks = append(toks, Token{Kind: KindEOF, Span: ast.Span{File: file}})
	return toks, res
}

// compactSpaces drops whitespace inside a parenthesized lexeme so
// "Reference(Patient | Group)" and "Reference(Patient|Group)" read the
// same downstream.
func compactSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func lastSignificant(toks []Token) Kind {
	if len(toks) == 0 {
		return KindNewline
	}
	return toks[len(toks)-1].Kind
}

func newTok(kind Kind, text, file string, startLine, startCol int, c *cursor) Token {
	endLine, endCol := c.position()
	return Token{
		Kind: kind,
		Text: text,
		Span: ast.Span{
			File:      file,
			StartLine: startLine,
			StartCol:  startCol,
			EndLine:   endLine,
			EndCol:    endCol,
		},
	}
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '/' || r == '[' || r == ']'
}

func isIdentCont(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' ||
		r == '/' || r == '[' || r == ']' || r == '@'
}

// lexBareToken scans an unquoted run of identifier-ish runes: entity names,
// path segments (with bracketed slice/index suffixes), URLs, and flag
// keywords all share this shape. A ':' only continues the token when it
// introduces a URL scheme ("://"); a bare trailing ':' (as in a metadata
// keyword line or a ratio separator) is left for the caller.
func lexBareToken(c *cursor) string {
	var sb strings.Builder
	for !c.isEOF() {
		r := c.peek()
		if r == ':' && c.peekAt(1) == '/' && c.peekAt(2) == '/' {
			sb.WriteRune(c.advance())
			continue
		}
		if !isIdentCont(r) {
			break
		}
		sb.WriteRune(c.advance())
	}
	return sb.String()
}

// maybeCode extends word into a "System#code" lexeme when a literal '#'
// immediately follows it with no intervening space.
func maybeCode(c *cursor, word string) (string, bool) {
	if c.peek() != '#' {
		return word, false
	}
	c.advance()
	code := lexBareToken(c)
	return word + "#" + code, true
}

// lexNumber scans a decimal literal, or an ISO date/dateTime/time lexeme
// (which starts like a number and keeps going through its separators).
// Cardinality ".." is never swallowed: a '.' only continues the token when
// a digit follows it.
func lexNumber(c *cursor) string {
	var sb strings.Builder
	if c.peek() == '-' {
		sb.WriteRune(c.advance())
	}
	for !c.isEOF() && unicode.IsDigit(c.peek()) {
		sb.WriteRune(c.advance())
	}
	if c.peek() == '.' && unicode.IsDigit(c.peekAt(1)) {
		sb.WriteRune(c.advance())
		for !c.isEOF() && unicode.IsDigit(c.peek()) {
			sb.WriteRune(c.advance())
		}
	}
	for !c.isEOF() {
		r := c.peek()
		switch {
		case r == 'T' || r == 'Z':
			sb.WriteRune(c.advance())
		case (r == '-' || r == '+' || r == ':' || r == '.') && unicode.IsDigit(c.peekAt(1)):
			sb.WriteRune(c.advance())
		case unicode.IsDigit(r):
			sb.WriteRune(c.advance())
		default:
			return sb.String()
		}
	}
	return sb.String()
}

// lexString consumes a quoted or triple-quoted string literal and returns
// its decoded text (delimiters stripped). Triple-quoted literals have their
// common leading indentation stripped and a leading/trailing blank line
// discarded, per the multi-line string rule.
func lexString(c *cursor) (string, bool) {
	if c.peekAt(1) == '"' && c.peekAt(2) == '"' {
		return lexTripleString(c)
	}
	c.advance() // opening quote
	var sb strings.Builder
	for {
		if c.isEOF() {
			return "", false
		}
		r := c.peek()
		if r == '\\' {
			c.advance()
			if c.isEOF() {
				return "", false
			}
			sb.WriteRune(decodeEscape(c.advance()))
			continue
		}
		if r == '"' {
			c.advance()
			break
		}
		sb.WriteRune(c.advance())
	}
	return sb.String(), true
}

func decodeEscape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	default:
		return r
	}
}

func lexTripleString(c *cursor) (string, bool) {
	c.advance()
	c.advance()
	c.advance()
	var sb strings.Builder
	for {
		if c.isEOF() {
			return "", false
		}
		if c.peek() == '"' && c.peekAt(1) == '"' && c.peekAt(2) == '"' {
			c.advance()
			c.advance()
			c.advance()
			break
		}
		sb.WriteRune(c.advance())
	}
	return dedent(sb.String()), true
}

// dedent strips the common leading whitespace from every non-blank line,
// then discards a leading and trailing blank line if present.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	minIndent := -1
	for _, l := range lines {
		trimmed := strings.TrimLeft(l, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(l) - len(trimmed)
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent > 0 {
		for i, l := range lines {
			if len(l) >= minIndent {
				lines[i] = l[minIndent:]
			} else {
				lines[i] = strings.TrimLeft(l, " \t")
			}
		}
	}
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
