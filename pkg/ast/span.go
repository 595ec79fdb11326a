// Package ast defines the in-memory entity and rule model produced by the
// Importer: Profiles, Extensions, Instances, RuleSets, Aliases, ValueSets,
// and CodeSystems, each built from typed constraint or assignment rules.
package ast

import "fmt"

// Span identifies a region of source text for diagnostics.
type Span struct {
	File      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// String renders the span as "file:line:col".
func (s Span) String() string {
	if s.File == "" {
		return fmt.Sprintf("%d:%d", s.StartLine, s.StartCol)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.StartLine, s.StartCol)
}

// IsZero reports whether the span carries no position information.
func (s Span) IsZero() bool {
	return s.File == "" && s.StartLine == 0 && s.StartCol == 0
}
