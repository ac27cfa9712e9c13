// Package value defines the tagged union of raw values extracted from a
// metadata record and the normalizer that turns them into index terms.
//
// Accessors for every metadata standard return Values; the path resolver
// walks Node values and hands everything else to Normalize.
package value

import (
	"math/big"
	"time"
)

// Kind tags the concrete variant held by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindInteger
	KindBigInteger
	KindFloat
	KindDecimal
	KindBoolean
	KindDate
	KindCode
	KindLocalized
	KindPosition
	KindNode
	KindList
)

var kindNames = [...]string{
	KindNone:       "none",
	KindText:       "text",
	KindInteger:    "integer",
	KindBigInteger: "big-integer",
	KindFloat:      "float",
	KindDecimal:    "decimal",
	KindBoolean:    "boolean",
	KindDate:       "date",
	KindCode:       "code",
	KindLocalized:  "localized",
	KindPosition:   "position",
	KindNode:       "node",
	KindList:       "list",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Node is one element of a metadata object graph. Resolve returns the values
// reachable through the named attribute; an absent attribute yields nil.
type Node interface {
	Resolve(segment string) []Value
}

// Leaf is implemented by nodes that stand for a single scalar when a path
// ends on them, such as an element wrapping one character string.
type Leaf interface {
	Leaf() (Value, bool)
}

// Code is one code-list element. Value is the stored token, Label its
// human-readable form.
type Code struct {
	List  string
	Value string
	Label string
}

// Localized is an internationalized string.
type Localized struct {
	Default      string
	Translations map[string]string
}

// Position is a direct position or coordinate tuple.
type Position struct {
	Coordinates []float64
	CRS         string
}

// Value is an immutable tagged union. The zero Value is KindNone.
type Value struct {
	kind     Kind
	text     string
	i        int64
	f        float64
	bigInt   *big.Int
	decimal  *big.Float
	b        bool
	t        time.Time
	dateOnly bool
	code     Code
	loc      Localized
	pos      Position
	node     Node
	list     []Value
}

// None is the absent value.
func None() Value { return Value{} }

// Text holds a character string.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Int holds an integer that fits in 64 bits.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// BigInt holds a copy of i. A nil i is None.
func BigInt(i *big.Int) Value {
	if i == nil {
		return None()
	}
	return Value{kind: KindBigInteger, bigInt: new(big.Int).Set(i)}
}

// Float holds a binary floating point number.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Decimal holds a copy of d. A nil d is None.
func Decimal(d *big.Float) Value {
	if d == nil {
		return None()
	}
	return Value{kind: KindDecimal, decimal: new(big.Float).Copy(d)}
}

// Bool holds a boolean.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// DateTime holds a full timestamp.
func DateTime(t time.Time) Value { return Value{kind: KindDate, t: t} }

// Date holds a calendar date without time of day.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t, dateOnly: true} }

// CodeOf holds a code list value.
func CodeOf(c Code) Value { return Value{kind: KindCode, code: c} }

// LocalizedOf holds a multilingual string.
func LocalizedOf(l Localized) Value { return Value{kind: KindLocalized, loc: l} }

// PositionOf holds a coordinate tuple.
func PositionOf(p Position) Value { return Value{kind: KindPosition, pos: p} }

// NodeOf wraps a nested object. A nil n is None.
func NodeOf(n Node) Value {
	if n == nil {
		return None()
	}
	return Value{kind: KindNode, node: n}
}

// List holds a sequence of values.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNone() bool { return v.kind == KindNone }

// Text returns the string of a text value.
func (v Value) Text() (string, bool) { return v.text, v.kind == KindText }

func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInteger }

func (v Value) BigInt() (*big.Int, bool) { return v.bigInt, v.kind == KindBigInteger }

func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

func (v Value) Decimal() (*big.Float, bool) { return v.decimal, v.kind == KindDecimal }

func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBoolean }

// Time returns the timestamp of a date value and whether it is date-only.
func (v Value) Time() (t time.Time, dateOnly bool, ok bool) {
	return v.t, v.dateOnly, v.kind == KindDate
}

func (v Value) Code() (Code, bool) { return v.code, v.kind == KindCode }

func (v Value) Localized() (Localized, bool) { return v.loc, v.kind == KindLocalized }

func (v Value) Position() (Position, bool) { return v.pos, v.kind == KindPosition }

func (v Value) Node() (Node, bool) { return v.node, v.kind == KindNode }

func (v Value) List() ([]Value, bool) { return v.list, v.kind == KindList }

// Unwrap replaces a node value by its leaf, repeatedly, when the node exposes
// one. Other values are returned unchanged.
func Unwrap(v Value) Value {
	for v.kind == KindNode {
		leaf, ok := v.node.(Leaf)
		if !ok {
			return v
		}
		inner, ok := leaf.Leaf()
		if !ok {
			return v
		}
		v = inner
	}
	return v
}

// Flatten expands nested lists depth-first, preserving order.
func Flatten(vs []Value) []Value {
	out := make([]Value, 0, len(vs))
	for _, v := range vs {
		if v.kind == KindList {
			out = append(out, Flatten(v.list)...)
			continue
		}
		out = append(out, v)
	}
	return out
}
