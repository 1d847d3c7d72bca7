package disk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"pagestore/src/common"
	"pagestore/src/lock"
)

// PageCache is a bounded set of resident pages shared by every transaction.
// Each page is guarded by a page lock from the lock manager, taken before the
// page is handed out and held until the transaction commits or aborts.
//
// Dirty pages are never evicted. A transaction's changes reach disk only at
// commit and are undone in memory at abort.
type PageCache struct {
	capacity int
	pageSize int
	pages    map[common.PageId]*Page
	replacer Replacer
	catalog  Catalog
	locks    *lock.LockManager
	// dirtied holds, per transaction, every page it marked dirty since it began.
	dirtied map[common.TransactionID]map[common.PageId]*Page
	metrics *cacheMetrics
	mu      sync.Mutex
}

// NewPageCache registers the cache metrics on reg when reg is non-nil.
func NewPageCache(cfg common.Config, catalog Catalog, locks *lock.LockManager, reg prometheus.Registerer) *PageCache {
	return &PageCache{
		capacity: cfg.CacheCapacity,
		pageSize: cfg.PageSize,
		pages:    make(map[common.PageId]*Page),
		replacer: NewLRUReplacer(),
		catalog:  catalog,
		locks:    locks,
		dirtied:  make(map[common.TransactionID]map[common.PageId]*Page),
		metrics:  newCacheMetrics(reg),
	}
}

func (pc *PageCache) Capacity() int { return pc.capacity }

func (pc *PageCache) PageSize() int { return pc.pageSize }

func (pc *PageCache) Size() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.pages)
}

func (pc *PageCache) IsResident(pageId common.PageId) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	_, ok := pc.pages[pageId]
	return ok
}

// GetPage locks pageId for tid with the given permission, blocking while the
// lock is held elsewhere, and returns the resident page, loading it first if
// needed. Every caller gets the same *Page for a resident page.
func (pc *PageCache) GetPage(tid common.TransactionID, pageId common.PageId, perm common.Permission) (*Page, error) {
	if err := pc.locks.Acquire(tid, pageId, lock.ModeFor(perm)); err != nil {
		return nil, err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if page, ok := pc.pages[pageId]; ok {
		pc.replacer.Touch(pageId)
		pc.metrics.hits.Inc()
		return page, nil
	}
	pc.metrics.misses.Inc()

	file, err := pc.catalog.ResolveTableFile(pageId.TableId)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrPageLoad, pageId, err)
	}
	if len(pc.pages) >= pc.capacity {
		if err := pc.evictPage(); err != nil {
			return nil, err
		}
	}
	page, err := file.ReadPage(pageId)
	if err != nil {
		log.WithError(err).Warnf("Cannot load %s.", pageId)
		return nil, fmt.Errorf("%w: %s: %w", common.ErrPageLoad, pageId, err)
	}
	page.SetBeforeImage()
	pc.insertLocked(page)
	log.WithFields(log.Fields{"tid": tid, "page": pageId, "perm": perm}).Debug("Page loaded.")
	return page, nil
}

// MarkDirty records that tid changed page. The page goes back into the cache
// if it was evicted while clean between GetPage and MarkDirty.
func (pc *PageCache) MarkDirty(page *Page, tid common.TransactionID) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pageId := page.PageId()
	if resident, ok := pc.pages[pageId]; !ok || resident != page {
		if !ok && len(pc.pages) >= pc.capacity {
			if err := pc.evictPage(); err != nil {
				return err
			}
		}
		pc.insertLocked(page)
	}
	page.MarkDirty(true, tid)

	pages, ok := pc.dirtied[tid]
	if !ok {
		pages = make(map[common.PageId]*Page)
		pc.dirtied[tid] = pages
	}
	pages[pageId] = page
	return nil
}

// TransactionComplete commits or aborts tid.
func (pc *PageCache) TransactionComplete(tid common.TransactionID, commit bool) error {
	if commit {
		return pc.CommitTransaction(tid)
	}
	return pc.AbortTransaction(tid)
}

// CommitTransaction writes every page tid dirtied back to its file, makes the
// written content the new restore point and releases tid's locks. Locks are
// released even when a write fails; the failures are returned together.
func (pc *PageCache) CommitTransaction(tid common.TransactionID) error {
	pc.mu.Lock()
	var errs []error
	for pageId, page := range pc.dirtied[tid] {
		if _, ok := pc.pages[pageId]; !ok {
			log.Warnf("%s dirtied by %s is no longer resident at commit.", pageId, tid)
		}
		// A page flushed early is already on disk and only needs a new restore point.
		if page.Dirtier() == tid {
			if err := pc.writeLocked(page); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		page.SetBeforeImage()
	}
	delete(pc.dirtied, tid)
	pc.mu.Unlock()

	pc.locks.ReleaseAll(tid)
	log.WithField("tid", tid).Debug("Transaction committed.")
	return errors.Join(errs...)
}

// AbortTransaction restores every page tid dirtied to its before-image and
// releases tid's locks. A page that was flushed early is written back in its
// restored form. If a dirtied page is no longer resident its changes cannot be
// undone and the returned error wraps common.ErrInconsistentAbort.
func (pc *PageCache) AbortTransaction(tid common.TransactionID) error {
	pc.mu.Lock()
	var errs []error
	for pageId, page := range pc.dirtied[tid] {
		if resident, ok := pc.pages[pageId]; !ok || resident != page {
			errs = append(errs, fmt.Errorf("%w: %s dirtied by %s was dropped from the cache",
				common.ErrInconsistentAbort, pageId, tid))
			continue
		}
		flushed := !page.IsDirty()
		page.RestoreBeforeImage()
		page.MarkDirty(false, common.NoTransaction)
		if flushed {
			if err := pc.writeLocked(page); err != nil {
				errs = append(errs, fmt.Errorf("%w: %w", common.ErrInconsistentAbort, err))
			}
		}
	}
	delete(pc.dirtied, tid)
	pc.mu.Unlock()

	pc.locks.ReleaseAll(tid)
	if len(errs) > 0 {
		log.WithField("tid", tid).Error("Abort could not restore every page.")
	} else {
		log.WithField("tid", tid).Debug("Transaction aborted.")
	}
	return errors.Join(errs...)
}

// FlushPage writes pageId back if it is resident and dirty.
func (pc *PageCache) FlushPage(pageId common.PageId) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	page, ok := pc.pages[pageId]
	if !ok || !page.IsDirty() {
		return nil
	}
	return pc.writeLocked(page)
}

// FlushAllPages writes every dirty page back. Calling it while transactions
// are running makes their uncommitted changes durable.
func (pc *PageCache) FlushAllPages() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	for _, page := range pc.pages {
		if !page.IsDirty() {
			continue
		}
		if err := pc.writeLocked(page); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPage drops pageId without writing it.
func (pc *PageCache) DiscardPage(pageId common.PageId) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.removeLocked(pageId)
}

func (pc *PageCache) HoldsLock(tid common.TransactionID, pageId common.PageId) bool {
	return pc.locks.HoldsLock(tid, pageId)
}

// UnsafeReleasePage gives up tid's lock on pageId before the transaction ends.
func (pc *PageCache) UnsafeReleasePage(tid common.TransactionID, pageId common.PageId) {
	pc.locks.Release(tid, pageId)
}

// evictPage drops the least recently used clean page.
func (pc *PageCache) evictPage() error {
	victim, ok := pc.replacer.Victim(func(pageId common.PageId) bool {
		page, ok := pc.pages[pageId]
		return ok && !page.IsDirty()
	})
	if !ok {
		log.Warnf("Buffer pool is full, all %d pages are dirty.", len(pc.pages))
		return fmt.Errorf("%w: %d of %d pages dirty", common.ErrBufferFull, len(pc.pages), pc.capacity)
	}
	pc.removeLocked(victim)
	pc.metrics.evictions.Inc()
	log.WithField("page", victim).Debug("Page evicted.")
	return nil
}

func (pc *PageCache) insertLocked(page *Page) {
	pc.pages[page.PageId()] = page
	pc.replacer.Touch(page.PageId())
	pc.metrics.resident.Set(float64(len(pc.pages)))
}

func (pc *PageCache) removeLocked(pageId common.PageId) {
	delete(pc.pages, pageId)
	pc.replacer.Remove(pageId)
	pc.metrics.resident.Set(float64(len(pc.pages)))
}

func (pc *PageCache) writeLocked(page *Page) error {
	file, err := pc.catalog.ResolveTableFile(page.PageId().TableId)
	if err != nil {
		return err
	}
	if err := file.WritePage(page); err != nil {
		log.WithError(err).Errorf("Cannot flush %s.", page.PageId())
		return err
	}
	page.MarkDirty(false, common.NoTransaction)
	pc.metrics.flushes.Inc()
	return nil
}
