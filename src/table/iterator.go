package table

import (
	"fmt"

	"pagestore/src/common"
)

// HeapFileIterator yields a table's tuples page by page, in slot order within
// a page. Each page is read through the cache with read permission when the
// iterator reaches it.
type HeapFileIterator struct {
	file     *HeapFile
	tid      common.TransactionID
	open     bool
	numPages int
	nextPage int
	buffer   []*Tuple
}

func (it *HeapFileIterator) Open() error {
	numPages, err := it.file.NumPages()
	if err != nil {
		return err
	}
	it.numPages = numPages
	it.nextPage = 0
	it.buffer = nil
	it.open = true
	return nil
}

func (it *HeapFileIterator) HasNext() (bool, error) {
	if !it.open {
		return false, fmt.Errorf("%w: iterator is not open", common.ErrDbException)
	}
	for len(it.buffer) == 0 {
		if it.nextPage >= it.numPages {
			return false, nil
		}
		pageId := common.NewPageId(it.file.ID(), it.nextPage)
		page, err := it.file.cache.GetPage(it.tid, pageId, common.ReadOnly)
		if err != nil {
			return false, err
		}
		tuples, err := NewHeapPage(page, it.file.desc).Tuples()
		if err != nil {
			return false, err
		}
		it.buffer = tuples
		it.nextPage++
	}
	return true, nil
}

func (it *HeapFileIterator) Next() (*Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no more tuples", common.ErrDbException)
	}
	t := it.buffer[0]
	it.buffer = it.buffer[1:]
	return t, nil
}

// Rewind starts over from the first page, picking up pages appended since Open.
func (it *HeapFileIterator) Rewind() error {
	it.Close()
	return it.Open()
}

func (it *HeapFileIterator) Close() {
	it.open = false
	it.buffer = nil
}
