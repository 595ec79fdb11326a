package lexer

import "github.com/gofhir/fsh/pkg/ast"

// Kind identifies the lexical category of a Token.
type Kind int

// Token kinds.
const (
	KindEOF Kind = iota
	KindKeyword        // Profile:, Extension:, Instance:, RuleSet:, Alias:, Id:, Parent:, Title:, Description:, InstanceOf:, Usage:, Mixins:
	KindStar           // leading '*' of a rule line
	KindIdent          // bare word: path segment, entity name, alias name, flag keyword
	KindString         // "quoted" or """triple-quoted""" (dedented)
	KindNumber         // decimal literal lexeme, unparsed
	KindCode           // System#code, no display
	KindCaret          // ^caretPath
	KindEquals         // =
	KindDotDot         // ..
	KindStarWildcard   // bare '*' used as a max cardinality token
	KindPipe           // |
	KindColon          // :
	KindComma          // ,
	KindLParen         // (
	KindRParen         // )
	KindHash           // # outside a code literal (rare, defensive)
	KindNewline
)

// Token is one lexical unit with its source span.
type Token struct {
	Kind Kind
	Text string
	Span ast.Span
}

func (k Kind) String() string {
	switch k {
	case KindEOF:
		return "EOF"
	case KindKeyword:
		return "Keyword"
	case KindStar:
		return "Star"
	case KindIdent:
		return "Ident"
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindCode:
		return "Code"
	case KindCaret:
		return "Caret"
	case KindEquals:
		return "Equals"
	case KindDotDot:
		return "DotDot"
	case KindStarWildcard:
		return "StarWildcard"
	case KindPipe:
		return "Pipe"
	case KindColon:
		return "Colon"
	case KindComma:
		return "Comma"
	case KindLParen:
		return "LParen"
	case KindRParen:
		return "RParen"
	case KindHash:
		return "Hash"
	case KindNewline:
		return "Newline"
	default:
		return "Unknown"
	}
}

// headerKeywords are the entity-introducing tokens recognized at the start
// of a line (column 0, after whitespace).
var headerKeywords = map[string]bool{
	"Profile":   true,
	"Extension": true,
	"Instance":  true,
	"RuleSet":   true,
	"Alias":     true,
	"ValueSet":  true,
	"CodeSystem": true,
}

// metadataKeywords are keyword lines that bind to the most recent header.
var metadataKeywords = map[string]bool{
	"Id":          true,
	"Parent":      true,
	"Title":       true,
	"Description": true,
	"InstanceOf":  true,
	"Usage":       true,
	"Mixins":      true,
}

// IsHeaderKeyword reports whether word introduces a top-level entity.
func IsHeaderKeyword(word string) bool { return headerKeywords[word] }

// IsMetadataKeyword reports whether word is a recognized metadata line key.
func IsMetadataKeyword(word string) bool { return metadataKeywords[word] }
