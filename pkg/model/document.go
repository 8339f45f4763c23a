package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// ErrBadDocument is returned when a document cannot be turned back into a model.
var ErrBadDocument = errors.New("invalid model document")

// Document is the nested-table form of a model used by the JSON, YAML and gob codecs.
type Document struct {
	Estimator string          `json:"estimator" yaml:"estimator"`
	Blocks    []BlockDocument `json:"blocks"    yaml:"blocks"`
}

// BlockDocument is one block of a Document.
type BlockDocument struct {
	Name    string           `json:"name"    yaml:"name"`
	Columns []ColumnDocument `json:"columns" yaml:"columns"`
}

// ColumnDocument is one column of a BlockDocument. Only the slice matching Kind is set.
type ColumnDocument struct {
	Name     string        `json:"name"               yaml:"name"`
	Kind     string        `json:"kind"               yaml:"kind"`
	Numbers  []Float       `json:"numbers,omitempty"  yaml:"numbers,omitempty"`
	Texts    []string      `json:"texts,omitempty"    yaml:"texts,omitempty"`
	Variants []VariantCell `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// VariantCell is one cell of a variant column; exactly one field is set.
type VariantCell struct {
	Number *Float  `json:"number,omitempty" yaml:"number,omitempty"`
	Text   *string `json:"text,omitempty"   yaml:"text,omitempty"`
}

// Float is a float64 whose JSON form spells non-finite values as strings.
type Float float64

// MarshalJSON writes NaN and infinities as "NaN", "+Inf" and "-Inf".
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}

	return json.Marshal(v)
}

// UnmarshalJSON accepts numbers and the spellings written by MarshalJSON.
func (f *Float) UnmarshalJSON(data []byte) error {
	var v float64

	err := json.Unmarshal(data, &v)
	if err == nil {
		*f = Float(v)

		return nil
	}

	var s string

	strErr := json.Unmarshal(data, &s)
	if strErr != nil {
		return fmt.Errorf("decode float: %w", err)
	}

	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decode float %q: %w", s, err)
	}

	*f = Float(v)

	return nil
}

// Document converts the model into its nested-table form.
func (m *Model) Document() *Document {
	doc := &Document{Estimator: m.estimator, Blocks: make([]BlockDocument, 0, len(m.blocks))}

	for _, b := range m.blocks {
		bd := BlockDocument{Name: b.Name, Columns: make([]ColumnDocument, 0, b.Table.NumColumns())}

		for _, col := range b.Table.Columns() {
			bd.Columns = append(bd.Columns, columnDocument(col))
		}

		doc.Blocks = append(doc.Blocks, bd)
	}

	return doc
}

func columnDocument(col *table.Column) ColumnDocument {
	cd := ColumnDocument{Name: col.Name(), Kind: col.Kind().String()}

	for i := range col.Len() {
		switch col.Kind() {
		case table.KindNumeric:
			cd.Numbers = append(cd.Numbers, Float(col.Float(i)))
		case table.KindText:
			cd.Texts = append(cd.Texts, col.Text(i))
		case table.KindVariant:
			v := col.Value(i)
			if v.IsText() {
				text := v.String()
				cd.Variants = append(cd.Variants, VariantCell{Text: &text})
			} else {
				num := Float(v.Float())
				cd.Variants = append(cd.Variants, VariantCell{Number: &num})
			}
		}
	}

	return cd
}

// FromDocument rebuilds a model from its nested-table form.
func FromDocument(doc *Document) (*Model, error) {
	m := New(doc.Estimator)

	for _, bd := range doc.Blocks {
		tbl := &table.Table{}

		for _, cd := range bd.Columns {
			col, err := documentColumn(cd)
			if err != nil {
				return nil, fmt.Errorf("block %q: %w", bd.Name, err)
			}

			err = tbl.AddColumn(col)
			if err != nil {
				return nil, fmt.Errorf("%w: block %q: %w", ErrBadDocument, bd.Name, err)
			}
		}

		m.Append(bd.Name, tbl)
	}

	return m, nil
}

func documentColumn(cd ColumnDocument) (*table.Column, error) {
	kind, ok := table.ParseKind(cd.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: column %q has kind %q", ErrBadDocument, cd.Name, cd.Kind)
	}

	switch kind {
	case table.KindNumeric:
		col := table.NewColumn(cd.Name, kind, len(cd.Numbers))
		for _, f := range cd.Numbers {
			col.AppendFloat(float64(f))
		}

		return col, nil
	case table.KindText:
		return table.NewText(cd.Name, cd.Texts...), nil
	default:
		col := table.NewColumn(cd.Name, kind, len(cd.Variants))

		for _, cell := range cd.Variants {
			switch {
			case cell.Number != nil:
				col.Append(table.Num(float64(*cell.Number)))
			case cell.Text != nil:
				col.Append(table.Text(*cell.Text))
			default:
				return nil, fmt.Errorf("%w: empty variant cell in column %q", ErrBadDocument, cd.Name)
			}
		}

		return col, nil
	}
}
