package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pagestore/src/common"
	"pagestore/src/disk"
)

const pageSize = 4096

func newTestHeapPage(desc *TupleDesc) *HeapPage {
	page := disk.NewPage(common.NewPageId(1, 0), EmptyPageData(pageSize))
	return NewHeapPage(page, desc)
}

func intTuple(t *testing.T, desc *TupleDesc, values ...int32) *Tuple {
	fields := make([]Field, len(values))
	for i, v := range values {
		fields[i] = IntField(v)
	}
	tuple, err := NewTuple(desc, fields...)
	require.Nil(t, err)
	return tuple
}

func TestHeapPage_Layout(t *testing.T) {
	desc := NewTupleDesc(IntType, IntType)
	hp := newTestHeapPage(desc)

	require.Equal(t, 504, hp.NumSlots())
	require.Equal(t, 63, hp.HeaderSize())
	require.Equal(t, 504, hp.NumEmptySlots())
	require.LessOrEqual(t, hp.HeaderSize()+hp.NumSlots()*desc.Size(), pageSize)

	require.Equal(t, 30, SlotsPerPage(pageSize, NewTupleDesc(StringType).Size()))
	require.Equal(t, 4, HeaderSize(30))
}

func TestHeapPage_InsertDelete(t *testing.T) {
	desc := NewTupleDesc(IntType, IntType)
	hp := newTestHeapPage(desc)

	for i := 0; i < 10; i++ {
		tuple := intTuple(t, desc, int32(i), int32(i*i))
		require.Nil(t, hp.InsertTuple(tuple))
		require.Equal(t, i, tuple.RID.SlotNum)
		require.Equal(t, hp.Page().PageId(), tuple.RID.PageId)
	}
	// Slot 9 is bit 1 of byte 1.
	require.Equal(t, byte(0xff), hp.Page().Data()[0])
	require.Equal(t, byte(0x03), hp.Page().Data()[1])
	require.Equal(t, 494, hp.NumEmptySlots())

	victim, err := hp.Tuple(3)
	require.Nil(t, err)
	require.Nil(t, hp.DeleteTuple(victim))
	require.Nil(t, victim.RID)
	require.False(t, hp.IsSlotUsed(3))
	require.Equal(t, byte(0xf7), hp.Page().Data()[0])

	// The freed slot is reused first.
	tuple := intTuple(t, desc, 100, 100)
	require.Nil(t, hp.InsertTuple(tuple))
	require.Equal(t, 3, tuple.RID.SlotNum)

	tuples, err := hp.Tuples()
	require.Nil(t, err)
	require.Len(t, tuples, 10)
	for i, got := range tuples {
		require.Equal(t, i, got.RID.SlotNum)
	}
	require.Equal(t, IntField(100), tuples[3].Fields[0])
	require.Equal(t, IntField(81), tuples[9].Fields[1])
}

func TestHeapPage_Errors(t *testing.T) {
	desc := NewTupleDesc(IntType)
	hp := newTestHeapPage(desc)

	tuple := intTuple(t, desc, 1)
	require.ErrorIs(t, hp.DeleteTuple(tuple), common.ErrCorruptRecordLocator)
	tuple.RID = &common.RID{PageId: hp.Page().PageId(), SlotNum: 5}
	require.ErrorIs(t, hp.DeleteTuple(tuple), common.ErrCorruptRecordLocator)
	tuple.RID = &common.RID{PageId: common.NewPageId(2, 0), SlotNum: 0}
	require.ErrorIs(t, hp.DeleteTuple(tuple), common.ErrCorruptRecordLocator)

	other := intTuple(t, NewTupleDesc(IntType, IntType), 1, 2)
	require.ErrorIs(t, hp.InsertTuple(other), common.ErrSchemaMismatch)

	for i := 0; i < hp.NumSlots(); i++ {
		require.Nil(t, hp.InsertTuple(intTuple(t, desc, int32(i))))
	}
	require.Equal(t, 0, hp.NumEmptySlots())
	require.ErrorIs(t, hp.InsertTuple(intTuple(t, desc, 0)), common.ErrDbException)
}
