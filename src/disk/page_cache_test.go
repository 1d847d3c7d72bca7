package disk

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"pagestore/src/common"
	"pagestore/src/lock"
)

const testTableId = 42

// rawFile serves whole pages straight from a DiskManager.
type rawFile struct {
	id uint64
	dm *DiskManager
}

func (f *rawFile) ID() uint64 { return f.id }

func (f *rawFile) ReadPage(pageId common.PageId) (*Page, error) {
	data, err := f.dm.ReadPage(pageId.PageNo)
	if err != nil {
		return nil, err
	}
	return NewPage(pageId, data), nil
}

func (f *rawFile) WritePage(page *Page) error {
	return f.dm.WritePage(page.PageId().PageNo, page.Data())
}

type singleFileCatalog struct {
	file *rawFile
}

func (c *singleFileCatalog) ResolveTableFile(tableId uint64) (DbFile, error) {
	if tableId != c.file.id {
		return nil, fmt.Errorf("%w: %d", common.ErrNoSuchTable, tableId)
	}
	return c.file, nil
}

type cacheFixture struct {
	cache *PageCache
	locks *lock.LockManager
	file  *rawFile
	reg   *prometheus.Registry
}

func newCacheFixture(t *testing.T, capacity, numPages int) *cacheFixture {
	dm, err := NewDiskManager(filepath.Join(t.TempDir(), "table.dat"), testPageSize, false)
	require.Nil(t, err)
	t.Cleanup(func() { dm.Close() })
	for i := 0; i < numPages; i++ {
		pageNo, err := dm.AllocatePage()
		require.Nil(t, err)
		data := make([]byte, testPageSize)
		data[0] = byte(i)
		require.Nil(t, dm.WritePage(pageNo, data))
	}

	cfg := common.DefaultConfig()
	cfg.PageSize = testPageSize
	cfg.CacheCapacity = capacity
	cfg.LockPollInterval = 10 * time.Millisecond

	reg := prometheus.NewRegistry()
	locks := lock.NewLockManager(cfg.LockPollInterval, reg)
	file := &rawFile{id: testTableId, dm: dm}
	return &cacheFixture{
		cache: NewPageCache(cfg, &singleFileCatalog{file: file}, locks, reg),
		locks: locks,
		file:  file,
		reg:   reg,
	}
}

func pageAt(no int) common.PageId {
	return common.NewPageId(testTableId, no)
}

func TestPageCache_GetPage(t *testing.T) {
	f := newCacheFixture(t, 4, 3)
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	page, err := f.cache.GetPage(t1, pageAt(1), common.ReadOnly)
	require.Nil(t, err)
	require.Equal(t, byte(1), page.Data()[0])
	require.False(t, page.IsDirty())
	require.True(t, f.cache.HoldsLock(t1, pageAt(1)))

	same, err := f.cache.GetPage(t2, pageAt(1), common.ReadOnly)
	require.Nil(t, err)
	require.Same(t, page, same)
	require.Equal(t, 1, f.cache.Size())
	require.True(t, f.cache.IsResident(pageAt(1)))

	require.Equal(t, float64(1), testutil.ToFloat64(f.cache.metrics.hits))
	require.Equal(t, float64(1), testutil.ToFloat64(f.cache.metrics.misses))
	require.Equal(t, float64(1), testutil.ToFloat64(f.cache.metrics.resident))
}

func TestPageCache_GetPageErrors(t *testing.T) {
	f := newCacheFixture(t, 4, 1)
	tid := common.NewTransactionID()

	_, err := f.cache.GetPage(tid, pageAt(5), common.ReadOnly)
	require.ErrorIs(t, err, common.ErrPageLoad)
	require.ErrorIs(t, err, common.ErrInvalidPageId)

	_, err = f.cache.GetPage(tid, common.NewPageId(testTableId+1, 0), common.ReadOnly)
	require.ErrorIs(t, err, common.ErrPageLoad)
	require.ErrorIs(t, err, common.ErrNoSuchTable)
	require.Equal(t, 0, f.cache.Size())
}

func TestPageCache_EvictsLeastRecentlyUsedClean(t *testing.T) {
	f := newCacheFixture(t, 2, 3)
	tid := common.NewTransactionID()

	for _, no := range []int{0, 1, 0} {
		_, err := f.cache.GetPage(tid, pageAt(no), common.ReadOnly)
		require.Nil(t, err)
	}
	_, err := f.cache.GetPage(tid, pageAt(2), common.ReadOnly)
	require.Nil(t, err)

	require.Equal(t, 2, f.cache.Size())
	require.True(t, f.cache.IsResident(pageAt(0)))
	require.False(t, f.cache.IsResident(pageAt(1)))
	require.True(t, f.cache.IsResident(pageAt(2)))
	require.Equal(t, float64(1), testutil.ToFloat64(f.cache.metrics.evictions))
}

func TestPageCache_BufferFull(t *testing.T) {
	f := newCacheFixture(t, 2, 3)
	tid := common.NewTransactionID()

	for i := 0; i < 2; i++ {
		page, err := f.cache.GetPage(tid, pageAt(i), common.ReadWrite)
		require.Nil(t, err)
		page.Data()[1] = 0xff
		require.Nil(t, f.cache.MarkDirty(page, tid))
	}
	_, err := f.cache.GetPage(tid, pageAt(2), common.ReadOnly)
	require.ErrorIs(t, err, common.ErrBufferFull)
	require.Equal(t, 2, f.cache.Size())
	require.True(t, f.cache.IsResident(pageAt(0)))
	require.True(t, f.cache.IsResident(pageAt(1)))

	// Once committed the pages are clean and can make room again.
	require.Nil(t, f.cache.CommitTransaction(tid))
	tid2 := common.NewTransactionID()
	_, err = f.cache.GetPage(tid2, pageAt(2), common.ReadOnly)
	require.Nil(t, err)
}

func TestPageCache_CommitWritesThrough(t *testing.T) {
	f := newCacheFixture(t, 4, 2)
	tid := common.NewTransactionID()

	page, err := f.cache.GetPage(tid, pageAt(1), common.ReadWrite)
	require.Nil(t, err)
	page.Data()[10] = 7
	require.Nil(t, f.cache.MarkDirty(page, tid))
	require.Equal(t, tid, page.Dirtier())

	onDisk, err := f.file.dm.ReadPage(1)
	require.Nil(t, err)
	require.Equal(t, byte(0), onDisk[10])

	require.Nil(t, f.cache.TransactionComplete(tid, true))
	require.False(t, page.IsDirty())
	require.False(t, f.cache.HoldsLock(tid, pageAt(1)))
	require.Equal(t, page.Data(), page.BeforeImage())

	onDisk, err = f.file.dm.ReadPage(1)
	require.Nil(t, err)
	require.Equal(t, byte(7), onDisk[10])
	require.Equal(t, float64(1), testutil.ToFloat64(f.cache.metrics.flushes))
}

func TestPageCache_AbortRestoresBeforeImage(t *testing.T) {
	f := newCacheFixture(t, 4, 2)
	before, err := f.file.dm.ReadPage(0)
	require.Nil(t, err)

	// A committed change becomes the restore point for later transactions.
	t1 := common.NewTransactionID()
	page, err := f.cache.GetPage(t1, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	page.Data()[20] = 1
	require.Nil(t, f.cache.MarkDirty(page, t1))
	require.Nil(t, f.cache.CommitTransaction(t1))
	before[20] = 1

	t2 := common.NewTransactionID()
	page, err = f.cache.GetPage(t2, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	for i := range page.Data() {
		page.Data()[i] = 0xab
	}
	require.Nil(t, f.cache.MarkDirty(page, t2))
	require.Nil(t, f.cache.TransactionComplete(t2, false))

	require.False(t, page.IsDirty())
	require.Equal(t, before, page.Data())
	require.False(t, f.cache.HoldsLock(t2, pageAt(0)))
	onDisk, err := f.file.dm.ReadPage(0)
	require.Nil(t, err)
	require.Equal(t, before, onDisk)
}

func TestPageCache_AbortAfterEarlyFlush(t *testing.T) {
	f := newCacheFixture(t, 4, 1)
	before, err := f.file.dm.ReadPage(0)
	require.Nil(t, err)

	tid := common.NewTransactionID()
	page, err := f.cache.GetPage(tid, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	page.Data()[5] = 9
	require.Nil(t, f.cache.MarkDirty(page, tid))
	require.Nil(t, f.cache.FlushPage(pageAt(0)))
	require.False(t, page.IsDirty())

	require.Nil(t, f.cache.AbortTransaction(tid))
	onDisk, err := f.file.dm.ReadPage(0)
	require.Nil(t, err)
	require.Equal(t, before, onDisk)
}

func TestPageCache_AbortAfterDiscard(t *testing.T) {
	f := newCacheFixture(t, 4, 1)
	tid := common.NewTransactionID()

	page, err := f.cache.GetPage(tid, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	require.Nil(t, f.cache.MarkDirty(page, tid))
	f.cache.DiscardPage(pageAt(0))
	require.False(t, f.cache.IsResident(pageAt(0)))

	err = f.cache.AbortTransaction(tid)
	require.ErrorIs(t, err, common.ErrInconsistentAbort)
	require.False(t, f.cache.HoldsLock(tid, pageAt(0)))
}

func TestPageCache_MarkDirtyAfterEviction(t *testing.T) {
	f := newCacheFixture(t, 1, 2)
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	page, err := f.cache.GetPage(t1, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	// Another transaction pushes the still-clean page out.
	_, err = f.cache.GetPage(t2, pageAt(1), common.ReadOnly)
	require.Nil(t, err)
	require.False(t, f.cache.IsResident(pageAt(0)))
	require.Nil(t, f.cache.CommitTransaction(t2))

	page.Data()[3] = 3
	require.Nil(t, f.cache.MarkDirty(page, t1))
	require.True(t, f.cache.IsResident(pageAt(0)))
	require.Nil(t, f.cache.CommitTransaction(t1))

	onDisk, err := f.file.dm.ReadPage(0)
	require.Nil(t, err)
	require.Equal(t, byte(3), onDisk[3])
}

func TestPageCache_FlushAllPages(t *testing.T) {
	f := newCacheFixture(t, 4, 3)
	tid := common.NewTransactionID()
	for i := 0; i < 3; i++ {
		page, err := f.cache.GetPage(tid, pageAt(i), common.ReadWrite)
		require.Nil(t, err)
		page.Data()[100] = byte(i + 1)
		require.Nil(t, f.cache.MarkDirty(page, tid))
	}
	require.Nil(t, f.cache.FlushAllPages())
	for i := 0; i < 3; i++ {
		onDisk, err := f.file.dm.ReadPage(i)
		require.Nil(t, err)
		require.Equal(t, byte(i+1), onDisk[100])
	}
	require.Nil(t, f.cache.FlushPage(pageAt(7)))
}

func TestPageCache_UnsafeReleasePage(t *testing.T) {
	f := newCacheFixture(t, 4, 1)
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	_, err := f.cache.GetPage(t1, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	f.cache.UnsafeReleasePage(t1, pageAt(0))
	require.False(t, f.cache.HoldsLock(t1, pageAt(0)))

	_, err = f.cache.GetPage(t2, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	require.True(t, f.cache.HoldsLock(t2, pageAt(0)))
}

func TestPageCache_Deadlock(t *testing.T) {
	f := newCacheFixture(t, 2, 2)
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	_, err := f.cache.GetPage(t1, pageAt(0), common.ReadWrite)
	require.Nil(t, err)
	_, err = f.cache.GetPage(t2, pageAt(1), common.ReadWrite)
	require.Nil(t, err)

	results := make(chan error, 2)
	finish := func(tid common.TransactionID, pageId common.PageId) {
		_, err := f.cache.GetPage(tid, pageId, common.ReadWrite)
		if err != nil {
			f.cache.AbortTransaction(tid)
		} else {
			f.cache.CommitTransaction(tid)
		}
		results <- err
	}
	go finish(t1, pageAt(1))
	go finish(t2, pageAt(0))

	aborted := 0
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				require.True(t, errors.Is(err, common.ErrTransactionAborted))
				aborted++
			}
		case <-time.After(2 * time.Second):
			t.Fatal("deadlock was not resolved")
		}
	}
	require.Equal(t, 1, aborted)
	require.Equal(t, float64(1), counterValue(t, f.reg, "pagestore_lock_deadlocks_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	require.Nil(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
