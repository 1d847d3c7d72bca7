package common

import "fmt"

// RID locates a tuple: the page it lives on and its slot within that page.
type RID struct {
	PageId  PageId
	SlotNum int
}

func (rid *RID) String() string {
	return fmt.Sprintf("[%s, slot num %d]", rid.PageId, rid.SlotNum)
}
