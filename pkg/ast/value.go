package ast

import "github.com/shopspring/decimal"

// Value is the common interface for every literal/reference shape a
// Fixed/Pattern/CaretValue/Assignment rule may carry.
type Value interface {
	value()
}

// String is a quoted or triple-quoted string literal. Multi subsequent
// lines of a triple-quoted literal have already had their common leading
// indentation stripped by the importer.
type String string

func (String) value() {}

// Number is a decimal literal, preserved exactly (no float round-trip).
type Number struct {
	decimal.Decimal
}

func (Number) value() {}

// Bool is a true|false literal.
type Bool bool

func (Bool) value() {}

// DateTime is an opaque ISO date/dateTime/time lexeme; the shorthand does
// not interpret its structure beyond lexing it as one token.
type DateTime string

func (DateTime) value() {}

// Code is a "System#code \"display\"?" literal.
type Code struct {
	System  string
	Code    string
	Display string
}

func (Code) value() {}

// Quantity is a "number 'ucum-code'" literal.
type Quantity struct {
	Value decimal.Decimal
	Unit  string
}

func (Quantity) value() {}

// Ratio is a "q1 : q2" literal.
type Ratio struct {
	Numerator   Quantity
	Denominator Quantity
}

func (Ratio) value() {}

// Reference is a "Reference(Name)" literal; Name is resolved against the
// Tank's instances at export time.
type Reference struct {
	Target string
}

func (Reference) value() {}

// Canonical is a "Canonical(Name)" literal.
type Canonical struct {
	Target string
}

func (Canonical) value() {}

// InstanceRef is a bare, unquoted Name used as an Instance value; the
// Instance Exporter resolves it to the named instance's data, inlining it
// when isInstance is set on the owning Assignment rule.
type InstanceRef struct {
	Name string
}

func (InstanceRef) value() {}
