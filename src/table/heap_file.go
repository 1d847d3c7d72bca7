package table

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"pagestore/src/common"
	"pagestore/src/disk"
)

// HeapFile stores the tuples of one table, unordered, in a file of HeapPages.
// Reads and writes of tuples go through the page cache so they are locked and
// rolled back with the transaction.
type HeapFile struct {
	id    uint64
	path  string
	desc  *TupleDesc
	cache *disk.PageCache
	dm    *disk.DiskManager
	// mu serializes appending pages to the file.
	mu sync.Mutex
}

// NewHeapFile opens or creates the file at path. Its table id is derived from
// the absolute path, so reopening the same file yields the same id.
func NewHeapFile(path string, desc *TupleDesc, cache *disk.PageCache, cfg common.Config) (*HeapFile, error) {
	if SlotsPerPage(cfg.PageSize, desc.Size()) == 0 {
		return nil, fmt.Errorf("%w: a %d byte tuple does not fit a %d byte page",
			common.ErrSchemaMismatch, desc.Size(), cfg.PageSize)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dm, err := disk.NewDiskManager(absPath, cfg.PageSize, cfg.DirectIO)
	if err != nil {
		return nil, err
	}
	return &HeapFile{
		id:    xxhash.Sum64String(absPath),
		path:  absPath,
		desc:  desc,
		cache: cache,
		dm:    dm,
	}, nil
}

func (hf *HeapFile) ID() uint64 { return hf.id }

func (hf *HeapFile) Path() string { return hf.path }

func (hf *HeapFile) TupleDesc() *TupleDesc { return hf.desc }

func (hf *HeapFile) Close() error { return hf.dm.Close() }

func (hf *HeapFile) NumPages() (int, error) {
	return hf.dm.NumPages()
}

// ReadPage reads straight from disk, bypassing the cache and its locks.
func (hf *HeapFile) ReadPage(pageId common.PageId) (*disk.Page, error) {
	if pageId.TableId != hf.id {
		return nil, fmt.Errorf("%w: %s is not in table %d", common.ErrInvalidPageId, pageId, hf.id)
	}
	data, err := hf.dm.ReadPage(pageId.PageNo)
	if err != nil {
		return nil, err
	}
	return disk.NewPage(pageId, data), nil
}

func (hf *HeapFile) WritePage(page *disk.Page) error {
	if page.PageId().TableId != hf.id {
		return fmt.Errorf("%w: %s is not in table %d", common.ErrInvalidPageId, page.PageId(), hf.id)
	}
	return hf.dm.WritePage(page.PageId().PageNo, page.Data())
}

// InsertTuple puts t in the first page with a free slot, appending an empty
// page when every page is full, and returns the page it changed.
func (hf *HeapFile) InsertTuple(tid common.TransactionID, t *Tuple) ([]*disk.Page, error) {
	if !hf.desc.Equals(t.Desc) {
		return nil, fmt.Errorf("%w: tuple (%s) in table of (%s)", common.ErrSchemaMismatch, t.Desc, hf.desc)
	}
	scanned := 0
	for {
		numPages, err := hf.NumPages()
		if err != nil {
			return nil, err
		}
		for ; scanned < numPages; scanned++ {
			page, err := hf.insertIntoPage(tid, common.NewPageId(hf.id, scanned), t)
			if err != nil {
				return nil, err
			}
			if page != nil {
				return []*disk.Page{page}, nil
			}
		}

		hf.mu.Lock()
		numPages, err = hf.NumPages()
		if err != nil {
			hf.mu.Unlock()
			return nil, err
		}
		if numPages > scanned {
			// Someone else appended meanwhile; look there first.
			hf.mu.Unlock()
			continue
		}
		pageNo, err := hf.dm.AllocatePage()
		hf.mu.Unlock()
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"table": hf.id, "page": pageNo}).Debug("Heap file grew.")
	}
}

// insertIntoPage returns nil without error when the page is full. A lock
// taken here only to look at a full page is given back, so a scan does not
// keep every page it passed over locked.
func (hf *HeapFile) insertIntoPage(tid common.TransactionID, pageId common.PageId, t *Tuple) (*disk.Page, error) {
	held := hf.cache.HoldsLock(tid, pageId)
	release := func() {
		if !held {
			hf.cache.UnsafeReleasePage(tid, pageId)
		}
	}

	page, err := hf.cache.GetPage(tid, pageId, common.ReadOnly)
	if err != nil {
		return nil, err
	}
	if NewHeapPage(page, hf.desc).NumEmptySlots() == 0 {
		release()
		return nil, nil
	}
	// Two readers upgrading the same page would wait on each other with no
	// single exclusive holder to blame, so drop the read lock first.
	release()

	page, err = hf.cache.GetPage(tid, pageId, common.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp := NewHeapPage(page, hf.desc)
	if hp.NumEmptySlots() == 0 {
		release()
		return nil, nil
	}
	if err := hp.InsertTuple(t); err != nil {
		return nil, err
	}
	if err := hf.cache.MarkDirty(page, tid); err != nil {
		return nil, err
	}
	return page, nil
}

// DeleteTuple frees the slot t.RID points at and returns the page it changed.
func (hf *HeapFile) DeleteTuple(tid common.TransactionID, t *Tuple) ([]*disk.Page, error) {
	rid := t.RID
	if rid == nil {
		return nil, fmt.Errorf("%w: tuple has no record id", common.ErrCorruptRecordLocator)
	}
	if rid.PageId.TableId != hf.id {
		return nil, fmt.Errorf("%w: %s is not in table %d", common.ErrCorruptRecordLocator, rid.String(), hf.id)
	}
	numPages, err := hf.NumPages()
	if err != nil {
		return nil, err
	}
	if rid.PageId.PageNo < 0 || rid.PageId.PageNo >= numPages {
		return nil, fmt.Errorf("%w: %s is past the end of the table", common.ErrCorruptRecordLocator, rid.String())
	}

	page, err := hf.cache.GetPage(tid, rid.PageId, common.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := NewHeapPage(page, hf.desc).DeleteTuple(t); err != nil {
		return nil, err
	}
	if err := hf.cache.MarkDirty(page, tid); err != nil {
		return nil, err
	}
	return []*disk.Page{page}, nil
}

// Iterator walks every tuple of the table on behalf of tid.
func (hf *HeapFile) Iterator(tid common.TransactionID) *HeapFileIterator {
	return &HeapFileIterator{file: hf, tid: tid}
}
