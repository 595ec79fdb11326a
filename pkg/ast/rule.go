package ast

// Rule is the common interface for every rule variant — constraint rules
// (legal on Profile/Extension), assignment rules (legal on Instance), and
// the Insert rule (legal in either, expanded before dispatch).
type Rule interface {
	RulePath() string
	RuleSpan() Span
}

// base carries the fields every rule shares. It is unexported so every
// rule variant is constructed through this package's New* functions,
// keeping Path/Span assignment in one place.
type base struct {
	Path string
	Span Span
}

func (b base) RulePath() string { return b.Path }
func (b base) RuleSpan() Span   { return b.Span }

func newBase(path string, span Span) base { return base{Path: path, Span: span} }

// ConstraintRule is implemented by every rule variant legal on a Profile or
// Extension.
type ConstraintRule interface {
	Rule
	constraintRule()
}

// AssignmentRule is implemented by every rule variant legal on an Instance.
type AssignmentRule interface {
	Rule
	assignmentRule()
}

// Card is a cardinality-narrowing rule: "* path min..max [flag...]".
type Card struct {
	base
	Min   uint32
	Max   string // "*" or a non-negative integer literal
	Flags FlagSet
}

func (Card) constraintRule() {}

// FlagSet toggles mustSupport/summary/modifier. It is embedded wherever the
// grammar allows trailing flag tokens (Card, Contains item) and is the
// payload of a standalone Flag rule.
type FlagSet struct {
	MustSupport bool
	Summary     bool
	Modifier    bool
}

// Merge ORs another FlagSet's set bits into f; flags are never cleared by
// a merge, matching the "enable-only" semantics of Flag rule application.
func (f *FlagSet) Merge(other FlagSet) {
	f.MustSupport = f.MustSupport || other.MustSupport
	f.Summary = f.Summary || other.Summary
	f.Modifier = f.Modifier || other.Modifier
}

// Flag is a standalone flag rule: "* path flag [flag ...]" or
// "* path1, path2 flag".
type Flag struct {
	base
	Set FlagSet
}

func (Flag) constraintRule() {}

// BindingStrength enumerates terminology binding strengths, ordered from
// loosest to strictest.
type BindingStrength string

// Binding strengths, in increasing strictness.
const (
	StrengthExample    BindingStrength = "example"
	StrengthPreferred  BindingStrength = "preferred"
	StrengthExtensible BindingStrength = "extensible"
	StrengthRequired   BindingStrength = "required"
)

// Rank returns the strength's position in the monotone ordering
// example < preferred < extensible < required.
func (s BindingStrength) Rank() int {
	switch s {
	case StrengthExample:
		return 0
	case StrengthPreferred:
		return 1
	case StrengthExtensible:
		return 2
	case StrengthRequired:
		return 3
	default:
		return -1
	}
}

// ValueSetBinding binds an element to a value set: "* path from url|name
// [(strength)]".
type ValueSetBinding struct {
	base
	ValueSet string
	Strength BindingStrength
}

func (ValueSetBinding) constraintRule() {}

// TypeChoice is one member of an Only rule's type list.
type TypeChoice struct {
	Name        string
	IsReference bool
}

// Only narrows an element's (or a Reference's target) type list:
// "* path only type[|type]...".
type Only struct {
	base
	Types []TypeChoice
}

func (Only) constraintRule() {}

// ContainsItem is one named slice declared by a Contains rule.
type ContainsItem struct {
	Name  string
	Type  string // optional; empty means inherit the sliced element's type
	Min   uint32
	Max   string
	Flags FlagSet
}

// Contains declares named slices of a repeating element:
// "* path contains item [card flag*] [and item ...]*".
type Contains struct {
	base
	Items []ContainsItem
}

func (Contains) constraintRule() {}

// CaretValue sets a field on the element definition itself (not on the
// data it describes): "* path ^caretPath = value".
type CaretValue struct {
	base
	CaretPath string
	Value     Value
}

func (CaretValue) constraintRule() {}

// FixedValue attaches a pattern (Exactly=false) or fixed (Exactly=true)
// value to an element: "* path = value [(exactly)]".
type FixedValue struct {
	base
	Value   Value
	Exactly bool
}

func (FixedValue) constraintRule() {}

// Insert queues a RuleSet's rules for textual substitution at this
// position, expanded before any dispatch. Legal in either a
// Profile/Extension's rule list or an Instance's rule list.
type Insert struct {
	base
	RuleSetName string
}

func (Insert) constraintRule()  {}
func (Insert) assignmentRule()  {}

// Assignment sets a concrete value at a path on an Instance:
// "* path = value [(exactly)]".
type Assignment struct {
	base
	Value      Value
	Exactly    bool
	IsInstance bool // true when Value is a bare Name taken as an instance reference
}

func (Assignment) assignmentRule() {}

// NewCard builds a Card rule.
func NewCard(path string, span Span, min uint32, max string, flags FlagSet) *Card {
	return &Card{base: newBase(path, span), Min: min, Max: max, Flags: flags}
}

// NewFlag builds a standalone Flag rule.
func NewFlag(path string, span Span, set FlagSet) *Flag {
	return &Flag{base: newBase(path, span), Set: set}
}

// NewValueSetBinding builds a ValueSetBinding rule.
func NewValueSetBinding(path string, span Span, valueSet string, strength BindingStrength) *ValueSetBinding {
	return &ValueSetBinding{base: newBase(path, span), ValueSet: valueSet, Strength: strength}
}

// NewOnly builds an Only rule.
func NewOnly(path string, span Span, types []TypeChoice) *Only {
	return &Only{base: newBase(path, span), Types: types}
}

// NewContains builds a Contains rule.
func NewContains(path string, span Span, items []ContainsItem) *Contains {
	return &Contains{base: newBase(path, span), Items: items}
}

// NewCaretValue builds a CaretValue rule.
func NewCaretValue(path string, span Span, caretPath string, value Value) *CaretValue {
	return &CaretValue{base: newBase(path, span), CaretPath: caretPath, Value: value}
}

// NewFixedValue builds a FixedValue rule.
func NewFixedValue(path string, span Span, value Value, exactly bool) *FixedValue {
	return &FixedValue{base: newBase(path, span), Value: value, Exactly: exactly}
}

// NewInsert builds an Insert rule.
func NewInsert(path string, span Span, ruleSetName string) *Insert {
	return &Insert{base: newBase(path, span), RuleSetName: ruleSetName}
}

// NewAssignment builds an Assignment rule.
func NewAssignment(path string, span Span, value Value, exactly, isInstance bool) *Assignment {
	return &Assignment{base: newBase(path, span), Value: value, Exactly: exactly, IsInstance: isInstance}
}
