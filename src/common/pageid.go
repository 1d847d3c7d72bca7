package common

import "fmt"

// PageId identifies a page of a table. It is a plain value so it can be used
// directly as a map key.
type PageId struct {
	TableId uint64
	PageNo  int
}

func NewPageId(tableId uint64, pageNo int) PageId {
	return PageId{TableId: tableId, PageNo: pageNo}
}

func (pid PageId) String() string {
	return fmt.Sprintf("page(table %d, no %d)", pid.TableId, pid.PageNo)
}
