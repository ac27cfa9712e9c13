package path

import (
	"encoding/xml"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
)

// Typed is implemented by record roots that know their element name.
type Typed interface {
	TypeName() xml.Name
}

// ordinalBase is added to an expression ordinal to obtain the 1-based
// position of the repeated value it selects. Keeping the conversion in one
// place keeps "[0]" meaning "first" for every accessor.
const ordinalBase = 1

func position(ordinal int) int { return ordinal + ordinalBase }

// Resolve evaluates expr against root. A path that does not match the root
// type, or whose branches are absent, yields no values; Resolve never fails.
// Results are flattened in document order and leaf nodes are unwrapped.
func Resolve(expr *Expression, root value.Node) []value.Value {
	if expr == nil || root == nil || !MatchesRoot(expr, root) {
		return nil
	}

	current := walk([]value.Value{value.NodeOf(root)}, expr.steps)
	if expr.cond != nil {
		current = walk(filter(current, expr.cond), expr.cond.Suffix)
	}

	out := make([]value.Value, 0, len(current))
	for _, v := range current {
		v = value.Unwrap(v)
		if v.IsNone() {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ResolveEach evaluates all but the last step of expr, then the last step
// under each node reached, and returns one value list per such node in
// document order. Attributes of repeated elements stay paired with their
// element this way. Conditional paths and paths that do not match root
// yield nil.
func ResolveEach(expr *Expression, root value.Node) [][]value.Value {
	if expr == nil || root == nil || expr.cond != nil || len(expr.steps) == 0 || !MatchesRoot(expr, root) {
		return nil
	}
	last := len(expr.steps) - 1
	parents := walk([]value.Value{value.NodeOf(root)}, expr.steps[:last])
	out := make([][]value.Value, len(parents))
	for i, p := range parents {
		for _, v := range descend(p, expr.steps[last]) {
			if v = value.Unwrap(v); !v.IsNone() {
				out[i] = append(out[i], v)
			}
		}
	}
	return out
}

// MatchesRoot reports whether expr applies to a record with the given root.
// Roots that do not expose their type match every expression.
func MatchesRoot(expr *Expression, root value.Node) bool {
	if expr.root == AnyRoot {
		return true
	}
	typed, ok := root.(Typed)
	if !ok {
		return true
	}
	return strings.EqualFold(typed.TypeName().Local, expr.root)
}

func walk(current []value.Value, steps []Step) []value.Value {
	for _, step := range steps {
		var next []value.Value
		for _, v := range current {
			next = append(next, descend(v, step)...)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// descend applies one step to one branch. The ordinal selects among the
// values this branch yields, so "keyword[0]" picks the first keyword of every
// keyword group rather than the first keyword overall.
func descend(v value.Value, step Step) []value.Value {
	node, ok := v.Node()
	if !ok {
		return nil
	}
	segment := step.Name
	if step.Attr {
		segment = "@" + segment
	}
	children := value.Flatten(node.Resolve(segment))
	if step.Ordinal == NoOrdinal {
		return children
	}
	want := position(step.Ordinal)
	for i, child := range children {
		if i+ordinalBase == want {
			return []value.Value{child}
		}
	}
	return nil
}

func filter(candidates []value.Value, cond *Condition) []value.Value {
	var kept []value.Value
	for _, c := range candidates {
		for _, attr := range descend(c, cond.Attribute) {
			if matchesLiteral(value.Unwrap(attr), cond.Literal) {
				kept = append(kept, c)
				break
			}
		}
	}
	return kept
}

// matchesLiteral compares case-insensitively. Codes match on their value or
// their label.
func matchesLiteral(v value.Value, literal string) bool {
	if c, ok := v.Code(); ok {
		return strings.EqualFold(c.Value, literal) || strings.EqualFold(c.Label, literal)
	}
	terms, err := value.Normalize(v, value.HintText)
	if err != nil {
		return false
	}
	for _, t := range terms {
		if strings.EqualFold(t.Text, literal) {
			return true
		}
	}
	return false
}
