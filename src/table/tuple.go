package table

import (
	"encoding/binary"
	"fmt"
	"strings"

	"pagestore/src/common"
)

// StringLen is the fixed number of payload bytes reserved for a string field.
const StringLen = 128

type Type int

const (
	IntType Type = iota
	StringType
)

// Len is the encoded width of a field of type t.
func (t Type) Len() int {
	if t == StringType {
		return 4 + StringLen
	}
	return 4
}

func (t Type) String() string {
	if t == StringType {
		return "STRING"
	}
	return "INT"
}

// Field is one value of a tuple.
type Field interface {
	Type() Type
	encode(buf []byte)
}

type IntField int32

func (f IntField) Type() Type { return IntType }

func (f IntField) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf, uint32(f))
}

// StringField values longer than StringLen bytes are truncated when stored.
type StringField string

func (f StringField) Type() Type { return StringType }

func (f StringField) encode(buf []byte) {
	s := string(f)
	if len(s) > StringLen {
		s = s[:StringLen]
	}
	binary.BigEndian.PutUint32(buf, uint32(len(s)))
	n := copy(buf[4:], s)
	for i := 4 + n; i < 4+StringLen; i++ {
		buf[i] = 0
	}
}

// TupleDesc is the schema of a table: an ordered list of field types with
// optional names.
type TupleDesc struct {
	Types []Type
	Names []string
}

func NewTupleDesc(types ...Type) *TupleDesc {
	return &TupleDesc{Types: types, Names: make([]string, len(types))}
}

func NewNamedTupleDesc(types []Type, names []string) (*TupleDesc, error) {
	if len(types) != len(names) {
		return nil, fmt.Errorf("%w: %d types but %d names", common.ErrSchemaMismatch, len(types), len(names))
	}
	return &TupleDesc{Types: types, Names: names}, nil
}

func (td *TupleDesc) NumFields() int { return len(td.Types) }

// Size is the encoded width in bytes of a tuple with this schema.
func (td *TupleDesc) Size() int {
	size := 0
	for _, t := range td.Types {
		size += t.Len()
	}
	return size
}

// Equals compares field types only.
func (td *TupleDesc) Equals(other *TupleDesc) bool {
	if td == nil || other == nil || len(td.Types) != len(other.Types) {
		return false
	}
	for i, t := range td.Types {
		if other.Types[i] != t {
			return false
		}
	}
	return true
}

func (td *TupleDesc) String() string {
	parts := make([]string, len(td.Types))
	for i, t := range td.Types {
		parts[i] = fmt.Sprintf("%s(%s)", t, td.Names[i])
	}
	return strings.Join(parts, ", ")
}

// Tuple is one row. RID is set once the tuple is stored on a page.
type Tuple struct {
	Desc   *TupleDesc
	Fields []Field
	RID    *common.RID
}

func NewTuple(desc *TupleDesc, fields ...Field) (*Tuple, error) {
	if len(fields) != desc.NumFields() {
		return nil, fmt.Errorf("%w: %d fields for %d columns", common.ErrSchemaMismatch, len(fields), desc.NumFields())
	}
	for i, f := range fields {
		if f.Type() != desc.Types[i] {
			return nil, fmt.Errorf("%w: field %d is %s, column is %s", common.ErrSchemaMismatch, i, f.Type(), desc.Types[i])
		}
	}
	return &Tuple{Desc: desc, Fields: fields}, nil
}

// Equal compares field values, ignoring the record locator.
func (t *Tuple) Equal(other *Tuple) bool {
	if len(t.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range t.Fields {
		if f != other.Fields[i] {
			return false
		}
	}
	return true
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = fmt.Sprint(f)
	}
	return strings.Join(parts, "\t")
}

// Encode writes the tuple into buf, which must be Desc.Size() bytes.
func (t *Tuple) Encode(buf []byte) {
	offset := 0
	for _, f := range t.Fields {
		width := f.Type().Len()
		f.encode(buf[offset : offset+width])
		offset += width
	}
}

func decodeTuple(desc *TupleDesc, buf []byte) (*Tuple, error) {
	fields := make([]Field, len(desc.Types))
	offset := 0
	for i, typ := range desc.Types {
		switch typ {
		case IntType:
			fields[i] = IntField(int32(binary.BigEndian.Uint32(buf[offset:])))
		case StringType:
			n := int(binary.BigEndian.Uint32(buf[offset:]))
			if n > StringLen {
				return nil, fmt.Errorf("%w: string length %d exceeds %d", common.ErrDbException, n, StringLen)
			}
			fields[i] = StringField(buf[offset+4 : offset+4+n])
		}
		offset += typ.Len()
	}
	return &Tuple{Desc: desc, Fields: fields}, nil
}
