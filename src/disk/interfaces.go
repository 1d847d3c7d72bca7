package disk

import "pagestore/src/common"

// DbFile is the backing store of one table.
type DbFile interface {
	ID() uint64
	ReadPage(pageId common.PageId) (*Page, error)
	WritePage(page *Page) error
}

// Catalog tells the page cache which file backs a table.
type Catalog interface {
	ResolveTableFile(tableId uint64) (DbFile, error)
}
