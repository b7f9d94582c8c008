package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidFrame is returned for frames whose columns are inconsistent.
var ErrInvalidFrame = errors.New("codec: invalid frame")

// ColumnKind is the element type of a Frame column.
type ColumnKind uint8

const (
	KindFloat64 ColumnKind = iota + 1
	KindInt64
	KindString
	KindBool
)

func (k ColumnKind) String() string {
	switch k {
	case KindFloat64:
		return "float64"
	case KindInt64:
		return "int64"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Column is one named, typed column of a Frame. Only the slice matching Kind
// may be set.
type Column struct {
	Name     string
	Kind     ColumnKind
	Float64s []float64
	Int64s   []int64
	Strings  []string
	Bools    []bool
}

// Float64Column builds a float64 column.
func Float64Column(name string, values ...float64) Column {
	return Column{Name: name, Kind: KindFloat64, Float64s: values}
}

// Int64Column builds an int64 column.
func Int64Column(name string, values ...int64) Column {
	return Column{Name: name, Kind: KindInt64, Int64s: values}
}

// StringColumn builds a string column.
func StringColumn(name string, values ...string) Column {
	return Column{Name: name, Kind: KindString, Strings: values}
}

// BoolColumn builds a bool column.
func BoolColumn(name string, values ...bool) Column {
	return Column{Name: name, Kind: KindBool, Bools: values}
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	switch c.Kind {
	case KindFloat64:
		return len(c.Float64s)
	case KindInt64:
		return len(c.Int64s)
	case KindString:
		return len(c.Strings)
	case KindBool:
		return len(c.Bools)
	default:
		return 0
	}
}

func (c Column) validate() error {
	var ok bool
	switch c.Kind {
	case KindFloat64:
		ok = c.Int64s == nil && c.Strings == nil && c.Bools == nil
	case KindInt64:
		ok = c.Float64s == nil && c.Strings == nil && c.Bools == nil
	case KindString:
		ok = c.Float64s == nil && c.Int64s == nil && c.Bools == nil
	case KindBool:
		ok = c.Float64s == nil && c.Int64s == nil && c.Strings == nil
	default:
		return fmt.Errorf("%w: column %q has unknown kind %d", ErrInvalidFrame, c.Name, c.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: column %q values do not match kind %s", ErrInvalidFrame, c.Name, c.Kind)
	}
	return nil
}

// Frame is a column-oriented table. It is encoded as an opaque blob with a
// fixed binary layout; column order is significant.
type Frame struct {
	Columns []Column
}

// NewFrame builds a Frame and validates it.
func NewFrame(columns ...Column) (Frame, error) {
	f := Frame{Columns: columns}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks column kinds, unique names and equal row counts.
func (f Frame) Validate() error {
	seen := make(map[string]struct{}, len(f.Columns))
	rows := -1
	for _, c := range f.Columns {
		if err := c.validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidFrame, c.Name)
		}
		seen[c.Name] = struct{}{}
		if rows >= 0 && c.Len() != rows {
			return fmt.Errorf("%w: column %q has %d rows, want %d", ErrInvalidFrame, c.Name, c.Len(), rows)
		}
		rows = c.Len()
	}
	return nil
}

// NumRows returns the row count, or 0 for a frame without columns.
func (f Frame) NumRows() int {
	if len(f.Columns) == 0 {
		return 0
	}
	return f.Columns[0].Len()
}

// Column looks up a column by name.
func (f Frame) Column(name string) (Column, bool) {
	for _, c := range f.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// CacheTypeName implements Serializable.
func (f Frame) CacheTypeName() string {
	return "memocache.Frame"
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	b := appendLen(nil, f.Columns == nil, len(f.Columns))
	for _, c := range f.Columns {
		b = protowire.AppendString(b, c.Name)
		b = protowire.AppendVarint(b, uint64(c.Kind))
		switch c.Kind {
		case KindFloat64:
			b = appendLen(b, c.Float64s == nil, len(c.Float64s))
			for _, v := range c.Float64s {
				b = protowire.AppendFixed64(b, float64Bits(v))
			}
		case KindInt64:
			b = appendLen(b, c.Int64s == nil, len(c.Int64s))
			for _, v := range c.Int64s {
				b = appendInt(b, v)
			}
		case KindString:
			b = appendLen(b, c.Strings == nil, len(c.Strings))
			for _, v := range c.Strings {
				b = protowire.AppendString(b, v)
			}
		case KindBool:
			b = appendLen(b, c.Bools == nil, len(c.Bools))
			for _, v := range c.Bools {
				b = protowire.AppendVarint(b, protowire.EncodeBool(v))
			}
		}
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *Frame) UnmarshalBinary(data []byte) error {
	d := &decoder{buf: data}
	n, isNil, err := d.length()
	if err != nil {
		return err
	}
	var cols []Column
	if !isNil {
		cols = make([]Column, n)
	}
	for i := range cols {
		if cols[i], err = d.column(); err != nil {
			return err
		}
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes in frame", ErrMalformed, len(d.buf))
	}
	out := Frame{Columns: cols}
	if err := out.Validate(); err != nil {
		return err
	}
	*f = out
	return nil
}

func (d *decoder) column() (Column, error) {
	var c Column
	var err error
	if c.Name, err = d.string(); err != nil {
		return c, err
	}
	kind, err := d.varint()
	if err != nil {
		return c, err
	}
	c.Kind = ColumnKind(kind)

	n, isNil, err := d.length()
	if err != nil {
		return c, err
	}
	switch c.Kind {
	case KindFloat64:
		if !isNil {
			c.Float64s = make([]float64, n)
		}
		for i := range c.Float64s {
			if c.Float64s[i], err = d.float64(); err != nil {
				return c, err
			}
		}
	case KindInt64:
		if !isNil {
			c.Int64s = make([]int64, n)
		}
		for i := range c.Int64s {
			if c.Int64s[i], err = d.zigzag(); err != nil {
				return c, err
			}
		}
	case KindString:
		if !isNil {
			c.Strings = make([]string, n)
		}
		for i := range c.Strings {
			if c.Strings[i], err = d.string(); err != nil {
				return c, err
			}
		}
	case KindBool:
		if !isNil {
			c.Bools = make([]bool, n)
		}
		for i := range c.Bools {
			v, err := d.varint()
			if err != nil {
				return c, err
			}
			c.Bools[i] = protowire.DecodeBool(v)
		}
	default:
		return c, fmt.Errorf("%w: column %q has unknown kind %d", ErrMalformed, c.Name, kind)
	}
	return c, nil
}

func init() {
	Register(func() Serializable { return new(Frame) })
}
