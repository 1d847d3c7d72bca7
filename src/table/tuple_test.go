package table

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pagestore/src/common"
)

func TestTupleDesc(t *testing.T) {
	desc := NewTupleDesc(IntType, StringType, IntType)
	require.Equal(t, 3, desc.NumFields())
	require.Equal(t, 4+4+StringLen+4, desc.Size())
	require.True(t, desc.Equals(NewTupleDesc(IntType, StringType, IntType)))
	require.False(t, desc.Equals(NewTupleDesc(IntType, IntType, StringType)))
	require.False(t, desc.Equals(nil))

	_, err := NewNamedTupleDesc([]Type{IntType}, []string{"a", "b"})
	require.ErrorIs(t, err, common.ErrSchemaMismatch)
	named, err := NewNamedTupleDesc([]Type{IntType}, []string{"id"})
	require.Nil(t, err)
	require.True(t, named.Equals(NewTupleDesc(IntType)))
}

func TestTuple_EncodeDecode(t *testing.T) {
	desc := NewTupleDesc(IntType, StringType)
	tuple, err := NewTuple(desc, IntField(-17), StringField("hello"))
	require.Nil(t, err)

	buf := make([]byte, desc.Size())
	tuple.Encode(buf)
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xef}, buf[:4])
	require.Equal(t, []byte{0, 0, 0, 5}, buf[4:8])
	require.Equal(t, "hello", string(buf[8:13]))

	decoded, err := decodeTuple(desc, buf)
	require.Nil(t, err)
	require.True(t, tuple.Equal(decoded))
}

func TestTuple_LongStringTruncated(t *testing.T) {
	desc := NewTupleDesc(StringType)
	tuple, err := NewTuple(desc, StringField(strings.Repeat("x", StringLen+10)))
	require.Nil(t, err)

	buf := make([]byte, desc.Size())
	tuple.Encode(buf)
	decoded, err := decodeTuple(desc, buf)
	require.Nil(t, err)
	require.Equal(t, StringField(strings.Repeat("x", StringLen)), decoded.Fields[0])
}

func TestNewTuple_SchemaMismatch(t *testing.T) {
	desc := NewTupleDesc(IntType, IntType)
	_, err := NewTuple(desc, IntField(1))
	require.ErrorIs(t, err, common.ErrSchemaMismatch)
	_, err = NewTuple(desc, IntField(1), StringField("a"))
	require.ErrorIs(t, err, common.ErrSchemaMismatch)
}
