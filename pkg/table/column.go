package table

import (
	"fmt"
	"math"
	"slices"
)

// Column is a named, typed sequence of values. Exactly one backing slice is used,
// selected by Kind.
type Column struct {
	name     string
	kind     Kind
	nums     []float64
	texts    []string
	variants []Value
}

// NewNumeric returns a numeric column holding a copy of vals.
func NewNumeric(name string, vals ...float64) *Column {
	return &Column{name: name, kind: KindNumeric, nums: slices.Clone(vals)}
}

// NewText returns a text column holding a copy of vals.
func NewText(name string, vals ...string) *Column {
	return &Column{name: name, kind: KindText, texts: slices.Clone(vals)}
}

// NewVariant returns a variant column holding a copy of vals.
func NewVariant(name string, vals ...Value) *Column {
	return &Column{name: name, kind: KindVariant, variants: slices.Clone(vals)}
}

// NewColumn returns an empty column of the given kind with room for capacity rows.
func NewColumn(name string, kind Kind, capacity int) *Column {
	col := &Column{name: name, kind: kind}

	switch kind {
	case KindNumeric:
		col.nums = make([]float64, 0, capacity)
	case KindText:
		col.texts = make([]string, 0, capacity)
	case KindVariant:
		col.variants = make([]Value, 0, capacity)
	}

	return col
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the column kind.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.kind {
	case KindNumeric:
		return len(c.nums)
	case KindText:
		return len(c.texts)
	default:
		return len(c.variants)
	}
}

// Value returns the i-th value as a Value.
func (c *Column) Value(i int) Value {
	switch c.kind {
	case KindNumeric:
		return Num(c.nums[i])
	case KindText:
		return Text(c.texts[i])
	default:
		return c.variants[i]
	}
}

// Float returns the i-th value as a number. Texts are parsed, NaN when unparsable.
func (c *Column) Float(i int) float64 {
	if c.kind == KindNumeric {
		return c.nums[i]
	}

	return c.Value(i).Float()
}

// Text returns the i-th value in its text form.
func (c *Column) Text(i int) string {
	if c.kind == KindText {
		return c.texts[i]
	}

	return c.Value(i).String()
}

// Floats exposes the numeric backing slice; nil for other kinds. Callers must not
// modify it.
func (c *Column) Floats() []float64 {
	return c.nums
}

// Texts exposes the text backing slice; nil for other kinds. Callers must not
// modify it.
func (c *Column) Texts() []string {
	return c.texts
}

// Values returns every value as a Value.
func (c *Column) Values() []Value {
	out := make([]Value, c.Len())
	for i := range out {
		out[i] = c.Value(i)
	}

	return out
}

// Append adds v at the end. Numeric columns store texts as NaN when unparsable and
// text columns store numbers in their shortest decimal form.
func (c *Column) Append(v Value) {
	switch c.kind {
	case KindNumeric:
		c.nums = append(c.nums, v.Float())
	case KindText:
		c.texts = append(c.texts, v.String())
	default:
		c.variants = append(c.variants, v)
	}
}

// AppendFloat adds a number at the end.
func (c *Column) AppendFloat(f float64) {
	c.Append(Num(f))
}

// AppendText adds a text at the end.
func (c *Column) AppendText(s string) {
	c.Append(Text(s))
}

// Set replaces the i-th value, converting as Append does.
func (c *Column) Set(i int, v Value) {
	switch c.kind {
	case KindNumeric:
		c.nums[i] = v.Float()
	case KindText:
		c.texts[i] = v.String()
	default:
		c.variants[i] = v
	}
}

// SetFloat replaces the i-th value with a number.
func (c *Column) SetFloat(i int, f float64) {
	c.Set(i, Num(f))
}

// Resize grows or shrinks the column to n values. New numeric cells are NaN, new text
// cells are empty.
func (c *Column) Resize(n int) {
	switch c.kind {
	case KindNumeric:
		for len(c.nums) < n {
			c.nums = append(c.nums, math.NaN())
		}

		c.nums = c.nums[:n]
	case KindText:
		for len(c.texts) < n {
			c.texts = append(c.texts, "")
		}

		c.texts = c.texts[:n]
	default:
		for len(c.variants) < n {
			c.variants = append(c.variants, Text(""))
		}

		c.variants = c.variants[:n]
	}
}

// Clone returns a deep copy, optionally renamed when name is non-empty.
func (c *Column) Clone(name string) *Column {
	if name == "" {
		name = c.name
	}

	return &Column{
		name:     name,
		kind:     c.kind,
		nums:     slices.Clone(c.nums),
		texts:    slices.Clone(c.texts),
		variants: slices.Clone(c.variants),
	}
}

// slice returns a copy of rows [lo, hi).
func (c *Column) slice(lo, hi int) *Column {
	out := &Column{name: c.name, kind: c.kind}

	switch c.kind {
	case KindNumeric:
		out.nums = slices.Clone(c.nums[lo:hi])
	case KindText:
		out.texts = slices.Clone(c.texts[lo:hi])
	default:
		out.variants = slices.Clone(c.variants[lo:hi])
	}

	return out
}

// String implements fmt.Stringer for debugging.
func (c *Column) String() string {
	return fmt.Sprintf("%s[%s x %d]", c.name, c.kind, c.Len())
}
