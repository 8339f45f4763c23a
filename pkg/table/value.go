// Package table provides the in-memory columnar tables consumed and produced by the
// statistics engine.
package table

import (
	"cmp"
	"math"
	"strconv"
)

// Kind identifies the value kind stored in a Column.
type Kind uint8

const (
	// KindNumeric columns hold float64 values.
	KindNumeric Kind = iota
	// KindText columns hold string values.
	KindText
	// KindVariant columns hold a mix of numeric and text values.
	KindVariant
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindVariant:
		return "variant"
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "numeric":
		return KindNumeric, true
	case "text":
		return KindText, true
	case "variant":
		return KindVariant, true
	}

	return 0, false
}

// nanMarker stands in for NaN so that Values stay usable as map keys.
const nanMarker = "\x00NaN"

// Value is a tagged variant holding either a number or a text. Values are comparable
// and usable as map keys; NaN values compare equal to each other.
// The zero Value is the number 0.
type Value struct {
	text   string
	num    float64
	isText bool
}

// Num returns a numeric Value.
func Num(f float64) Value {
	if math.IsNaN(f) {
		return Value{text: nanMarker}
	}

	return Value{num: f}
}

// Text returns a text Value.
func Text(s string) Value {
	return Value{text: s, isText: true}
}

// IsText reports whether v holds a text.
func (v Value) IsText() bool {
	return v.isText
}

// IsNumeric reports whether v holds a number.
func (v Value) IsNumeric() bool {
	return !v.IsText()
}

// Float returns the numeric content. Texts are parsed; unparsable texts yield NaN.
func (v Value) Float() float64 {
	if v.IsNumeric() {
		if v.text == nanMarker {
			return math.NaN()
		}

		return v.num
	}

	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return math.NaN()
	}

	return f
}

// String returns the text content, or the shortest decimal form of a number.
func (v Value) String() string {
	if v.IsText() {
		return v.text
	}

	return strconv.FormatFloat(v.Float(), 'g', -1, 64)
}

// Equal reports whether v and o hold the same kind and content.
func (v Value) Equal(o Value) bool {
	return Compare(v, o) == 0
}

// Compare orders values: numbers before texts, numbers by value with NaN last,
// texts lexicographically.
func Compare(a, b Value) int {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		return compareFloat(a.Float(), b.Float())
	case a.IsNumeric():
		return -1
	case b.IsNumeric():
		return 1
	default:
		return cmp.Compare(a.text, b.text)
	}
}

func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)

	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}

	return cmp.Compare(a, b)
}
