package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

// binaryMagic prefixes every encoded model.
const binaryMagic = "PSM1"

const (
	variantTagNumber byte = 0
	variantTagText   byte = 1
	textTerminator   byte = 0
	float64Size           = 8
)

// ErrCorruptModel is returned when a binary model cannot be decoded.
var ErrCorruptModel = errors.New("corrupt binary model")

// MarshalBinary encodes the model. Numeric columns are little-endian float64 words;
// text columns are a length array followed by the null-separated concatenation of
// their values.
func (m *Model) MarshalBinary() ([]byte, error) {
	buf := []byte(binaryMagic)
	buf = appendString(buf, m.estimator)
	buf = binary.AppendUvarint(buf, uint64(len(m.blocks)))

	for _, b := range m.blocks {
		buf = appendString(buf, b.Name)
		buf = binary.AppendUvarint(buf, uint64(b.Table.NumColumns()))
		buf = binary.AppendUvarint(buf, uint64(b.Table.NumRows()))

		for _, col := range b.Table.Columns() {
			buf = appendColumn(buf, col, b.Table.NumRows())
		}
	}

	return buf, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary into m.
func (m *Model) UnmarshalBinary(data []byte) error {
	if len(data) < len(binaryMagic) || string(data[:len(binaryMagic)]) != binaryMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptModel)
	}

	dec := &decoder{buf: data[len(binaryMagic):]}
	out := &Model{estimator: dec.readString()}
	nBlocks := dec.count()

	for range nBlocks {
		name := dec.readString()
		nCols := dec.count()
		nRows := dec.count()
		tbl := &table.Table{}

		for range nCols {
			col := dec.column(nRows)
			if dec.err != nil {
				break
			}

			err := tbl.AddColumn(col)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCorruptModel, err)
			}
		}

		if dec.err != nil {
			return dec.err
		}

		out.Append(name, tbl)
	}

	if dec.err != nil {
		return dec.err
	}

	if len(dec.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptModel, len(dec.buf))
	}

	*m = *out

	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))

	return append(buf, s...)
}

func appendFloat(buf []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
}

func appendColumn(buf []byte, col *table.Column, rows int) []byte {
	buf = appendString(buf, col.Name())
	buf = append(buf, byte(col.Kind()))

	switch col.Kind() {
	case table.KindNumeric:
		for i := range rows {
			buf = appendFloat(buf, col.Float(i))
		}
	case table.KindText:
		for i := range rows {
			buf = binary.AppendUvarint(buf, uint64(len(col.Text(i))))
		}

		for i := range rows {
			buf = append(buf, col.Text(i)...)
			buf = append(buf, textTerminator)
		}
	case table.KindVariant:
		for i := range rows {
			v := col.Value(i)
			if v.IsText() {
				buf = append(buf, variantTagText)
				buf = appendString(buf, v.String())
			} else {
				buf = append(buf, variantTagNumber)
				buf = appendFloat(buf, v.Float())
			}
		}
	}

	return buf
}

// decoder reads the binary layout; the first error sticks and later reads return
// zero values.
type decoder struct {
	err error
	buf []byte
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrCorruptModel}, args...)...)
	}
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}

	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail("bad varint")

		return 0
	}

	d.buf = d.buf[n:]

	return v
}

// count reads a length and checks it against the remaining input.
func (d *decoder) count() int {
	v := d.uvarint()
	if v > uint64(len(d.buf)) {
		d.fail("count %d exceeds input", v)

		return 0
	}

	return int(v)
}

func (d *decoder) readBytes(n int) []byte {
	if d.err != nil {
		return nil
	}

	if n > len(d.buf) {
		d.fail("short buffer")

		return nil
	}

	out := d.buf[:n]
	d.buf = d.buf[n:]

	return out
}

func (d *decoder) readByte() byte {
	b := d.readBytes(1)
	if b == nil {
		return 0
	}

	return b[0]
}

func (d *decoder) readString() string {
	return string(d.readBytes(d.count()))
}

func (d *decoder) readFloat() float64 {
	b := d.readBytes(float64Size)
	if b == nil {
		return 0
	}

	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (d *decoder) column(rows int) *table.Column {
	name := d.readString()
	kind := table.Kind(d.readByte())

	switch kind {
	case table.KindNumeric:
		col := table.NewColumn(name, kind, rows)
		for range rows {
			col.AppendFloat(d.readFloat())
		}

		return col
	case table.KindText:
		lengths := make([]int, rows)
		for i := range rows {
			lengths[i] = d.count()
		}

		col := table.NewColumn(name, kind, rows)

		for i := range rows {
			col.AppendText(string(d.readBytes(lengths[i])))

			if d.readByte() != textTerminator {
				d.fail("missing text terminator in column %q", name)
			}
		}

		return col
	case table.KindVariant:
		col := table.NewColumn(name, kind, rows)

		for range rows {
			switch d.readByte() {
			case variantTagNumber:
				col.Append(table.Num(d.readFloat()))
			case variantTagText:
				col.Append(table.Text(d.readString()))
			default:
				d.fail("bad variant tag in column %q", name)
			}
		}

		return col
	}

	d.fail("unknown column kind %d", kind)

	return nil
}
