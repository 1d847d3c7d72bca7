package disk

import (
	"sync"

	"github.com/ncw/directio"

	"pagestore/src/common"
)

// Page is one fixed-size page of a table file as held in memory. Its bytes
// are shared by every transaction that fetched it; the lock manager decides
// who may write them.
type Page struct {
	pageId      common.PageId
	data        []byte
	beforeImage []byte
	dirtier     common.TransactionID
	mu          sync.RWMutex
}

// NewPage wraps data, which the page takes ownership of. The before-image
// starts as a copy of data.
func NewPage(pageId common.PageId, data []byte) *Page {
	p := &Page{
		pageId: pageId,
		data:   data,
	}
	p.beforeImage = cloneBlock(data)
	return p
}

// NewEmptyPage returns a zeroed page of the given size.
func NewEmptyPage(pageId common.PageId, pageSize int) *Page {
	return NewPage(pageId, directio.AlignedBlock(pageSize))
}

func (p *Page) Data() []byte { return p.data }

func (p *Page) PageId() common.PageId { return p.pageId }

// Dirtier returns the transaction that dirtied the page, or common.NoTransaction.
func (p *Page) Dirtier() common.TransactionID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirtier
}

func (p *Page) IsDirty() bool { return p.Dirtier() != common.NoTransaction }

func (p *Page) MarkDirty(dirty bool, tid common.TransactionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dirty {
		p.dirtier = tid
	} else {
		p.dirtier = common.NoTransaction
	}
}

// BeforeImage returns a copy of the content the page will be restored to on abort.
func (p *Page) BeforeImage() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneBlock(p.beforeImage)
}

// SetBeforeImage makes the current content the restore point.
func (p *Page) SetBeforeImage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.beforeImage, p.data)
}

// RestoreBeforeImage overwrites the content in place so every holder of the
// page observes the rollback.
func (p *Page) RestoreBeforeImage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.data, p.beforeImage)
}

func cloneBlock(data []byte) []byte {
	block := directio.AlignedBlock(len(data))
	copy(block, data)
	return block
}
