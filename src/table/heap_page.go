package table

import (
	"fmt"

	"pagestore/src/common"
	"pagestore/src/disk"
)

// HeapPage interprets a page's bytes as a slot bitmap followed by fixed-width
// tuple slots. Bit i of the bitmap, counting from the least significant bit
// of byte i/8, is set when slot i holds a tuple.
type HeapPage struct {
	page     *disk.Page
	desc     *TupleDesc
	numSlots int
}

// SlotsPerPage leaves one header bit per slot.
func SlotsPerPage(pageSize, tupleSize int) int {
	return (pageSize * 8) / (tupleSize*8 + 1)
}

func HeaderSize(numSlots int) int {
	return (numSlots + 7) / 8
}

// EmptyPageData is a page with no occupied slots.
func EmptyPageData(pageSize int) []byte {
	return make([]byte, pageSize)
}

func NewHeapPage(page *disk.Page, desc *TupleDesc) *HeapPage {
	return &HeapPage{
		page:     page,
		desc:     desc,
		numSlots: SlotsPerPage(len(page.Data()), desc.Size()),
	}
}

func (hp *HeapPage) Page() *disk.Page { return hp.page }

func (hp *HeapPage) NumSlots() int { return hp.numSlots }

func (hp *HeapPage) HeaderSize() int { return HeaderSize(hp.numSlots) }

func (hp *HeapPage) IsSlotUsed(i int) bool {
	if i < 0 || i >= hp.numSlots {
		return false
	}
	return hp.page.Data()[i/8]&(1<<uint(i%8)) != 0
}

func (hp *HeapPage) setSlotUsed(i int, used bool) {
	data := hp.page.Data()
	if used {
		data[i/8] |= 1 << uint(i%8)
	} else {
		data[i/8] &^= 1 << uint(i%8)
	}
}

func (hp *HeapPage) NumEmptySlots() int {
	empty := 0
	for i := 0; i < hp.numSlots; i++ {
		if !hp.IsSlotUsed(i) {
			empty++
		}
	}
	return empty
}

func (hp *HeapPage) slotData(i int) []byte {
	width := hp.desc.Size()
	offset := hp.HeaderSize() + i*width
	return hp.page.Data()[offset : offset+width]
}

// InsertTuple stores t in the first free slot and sets t.RID.
func (hp *HeapPage) InsertTuple(t *Tuple) error {
	if !hp.desc.Equals(t.Desc) {
		return fmt.Errorf("%w: tuple (%s) on page of (%s)", common.ErrSchemaMismatch, t.Desc, hp.desc)
	}
	for i := 0; i < hp.numSlots; i++ {
		if hp.IsSlotUsed(i) {
			continue
		}
		t.Encode(hp.slotData(i))
		hp.setSlotUsed(i, true)
		t.RID = &common.RID{PageId: hp.page.PageId(), SlotNum: i}
		return nil
	}
	return fmt.Errorf("%w: %s has no empty slot", common.ErrDbException, hp.page.PageId())
}

// DeleteTuple frees the slot t.RID points at and clears t.RID.
func (hp *HeapPage) DeleteTuple(t *Tuple) error {
	rid := t.RID
	if rid == nil || rid.PageId != hp.page.PageId() {
		return fmt.Errorf("%w: tuple is not on %s", common.ErrCorruptRecordLocator, hp.page.PageId())
	}
	if !hp.IsSlotUsed(rid.SlotNum) {
		return fmt.Errorf("%w: slot %d of %s is empty", common.ErrCorruptRecordLocator, rid.SlotNum, rid.PageId)
	}
	hp.setSlotUsed(rid.SlotNum, false)
	t.RID = nil
	return nil
}

// Tuple decodes the tuple in slot i.
func (hp *HeapPage) Tuple(i int) (*Tuple, error) {
	if !hp.IsSlotUsed(i) {
		return nil, fmt.Errorf("%w: slot %d of %s is empty", common.ErrCorruptRecordLocator, i, hp.page.PageId())
	}
	t, err := decodeTuple(hp.desc, hp.slotData(i))
	if err != nil {
		return nil, err
	}
	t.RID = &common.RID{PageId: hp.page.PageId(), SlotNum: i}
	return t, nil
}

// Tuples decodes every occupied slot in slot order.
func (hp *HeapPage) Tuples() ([]*Tuple, error) {
	tuples := make([]*Tuple, 0, hp.numSlots)
	for i := 0; i < hp.numSlots; i++ {
		if !hp.IsSlotUsed(i) {
			continue
		}
		t, err := hp.Tuple(i)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}
