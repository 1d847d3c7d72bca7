package lock

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"pagestore/src/common"
)

type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// ModeFor maps a page permission onto the lock mode that grants it.
func ModeFor(perm common.Permission) Mode {
	if perm == common.ReadWrite {
		return Exclusive
	}
	return Shared
}

// pageLocks is the lock state of one page. Either exclusive is set or shared
// is non-empty, never both.
type pageLocks struct {
	exclusive common.TransactionID
	shared    map[common.TransactionID]struct{}
	waiters   map[common.TransactionID]Mode
	// wake is closed and replaced whenever a lock on the page is released.
	wake chan struct{}
}

func newPageLocks() *pageLocks {
	return &pageLocks{
		shared:  make(map[common.TransactionID]struct{}),
		waiters: make(map[common.TransactionID]Mode),
		wake:    make(chan struct{}),
	}
}

func (pl *pageLocks) writerPending(tid common.TransactionID) bool {
	for waiter, mode := range pl.waiters {
		if waiter != tid && mode == Exclusive {
			return true
		}
	}
	return false
}

func (pl *pageLocks) unused() bool {
	return pl.exclusive == common.NoTransaction && len(pl.shared) == 0 && len(pl.waiters) == 0
}

// LockManager grants page-level shared and exclusive locks under strict
// two-phase locking. A blocked request polls on a fixed interval and runs
// deadlock detection on every wake.
type LockManager struct {
	mu           sync.Mutex
	pages        map[common.PageId]*pageLocks
	held         map[common.TransactionID]map[common.PageId]struct{}
	waiting      map[common.TransactionID]common.PageId
	detector     *DeadlockDetector
	pollInterval time.Duration
	metrics      *lockMetrics
}

// NewLockManager registers its metrics on reg when reg is non-nil.
func NewLockManager(pollInterval time.Duration, reg prometheus.Registerer) *LockManager {
	if pollInterval <= 0 {
		pollInterval = common.DefaultLockPollInterval
	}
	return &LockManager{
		pages:        make(map[common.PageId]*pageLocks),
		held:         make(map[common.TransactionID]map[common.PageId]struct{}),
		waiting:      make(map[common.TransactionID]common.PageId),
		detector:     NewDeadlockDetector(),
		pollInterval: pollInterval,
		metrics:      newLockMetrics(reg),
	}
}

// Acquire blocks until tid holds pid in at least the requested mode. It
// returns an error wrapping common.ErrTransactionAborted when waiting would
// close a cycle in the wait-for graph; tid is then no longer registered as a
// waiter but keeps every lock it already held.
func (lm *LockManager) Acquire(tid common.TransactionID, pid common.PageId, mode Mode) error {
	lm.mu.Lock()
	if lm.tryGrant(tid, pid, mode, true) {
		lm.mu.Unlock()
		return nil
	}

	pl := lm.pages[pid]
	pl.waiters[tid] = mode
	lm.waiting[tid] = pid
	lm.metrics.waits.Inc()
	log.WithFields(log.Fields{"tid": tid, "page": pid, "mode": mode}).Debug("Lock request blocked.")

	for {
		if lm.detector.Detect(lm.snapshot(), tid) {
			lm.stopWaiting(tid, pid)
			lm.mu.Unlock()
			lm.metrics.deadlocks.Inc()
			log.WithFields(log.Fields{"tid": tid, "page": pid, "mode": mode}).Info("Deadlock detected, aborting requester.")
			return fmt.Errorf("%w: %s deadlocked waiting for %s on %s", common.ErrTransactionAborted, tid, mode, pid)
		}

		wake := pl.wake
		lm.mu.Unlock()
		timer := time.NewTimer(lm.pollInterval)
		select {
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
		lm.mu.Lock()

		pl = lm.pages[pid]
		if lm.tryGrant(tid, pid, mode, false) {
			lm.stopWaiting(tid, pid)
			lm.mu.Unlock()
			return nil
		}
	}
}

// tryGrant must be called with lm.mu held. It leaves a page entry behind even
// when the request is refused so the caller can register as a waiter.
// A fresh shared request with yield set queues behind another transaction's
// pending exclusive request; once waiting it is granted on compatibility alone.
func (lm *LockManager) tryGrant(tid common.TransactionID, pid common.PageId, mode Mode, yield bool) bool {
	pl, ok := lm.pages[pid]
	if !ok {
		pl = newPageLocks()
		lm.pages[pid] = pl
	}
	if pl.exclusive == tid {
		return true
	}

	switch mode {
	case Shared:
		if _, ok := pl.shared[tid]; ok {
			return true
		}
		if pl.exclusive != common.NoTransaction {
			return false
		}
		if yield && pl.writerPending(tid) {
			return false
		}
		pl.shared[tid] = struct{}{}
	case Exclusive:
		if pl.exclusive != common.NoTransaction {
			return false
		}
		_, holdsShared := pl.shared[tid]
		if len(pl.shared) > 1 || (len(pl.shared) == 1 && !holdsShared) {
			return false
		}
		// Unlocked, or tid is the sole reader: upgrade in place.
		delete(pl.shared, tid)
		pl.exclusive = tid
	}

	pages, ok := lm.held[tid]
	if !ok {
		pages = make(map[common.PageId]struct{})
		lm.held[tid] = pages
	}
	pages[pid] = struct{}{}
	return true
}

func (lm *LockManager) stopWaiting(tid common.TransactionID, pid common.PageId) {
	delete(lm.waiting, tid)
	if pl, ok := lm.pages[pid]; ok {
		delete(pl.waiters, tid)
		if pl.unused() {
			delete(lm.pages, pid)
		}
	}
}

// Release drops whatever lock tid holds on pid and wakes the page's waiters.
// Releasing before the end of the transaction breaks two-phase locking.
func (lm *LockManager) Release(tid common.TransactionID, pid common.PageId) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.releaseLocked(tid, pid)
	if pages, ok := lm.held[tid]; ok && len(pages) == 0 {
		delete(lm.held, tid)
	}
}

// ReleaseAll drops every lock held by tid. It is called once, at commit or abort.
func (lm *LockManager) ReleaseAll(tid common.TransactionID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for pid := range lm.held[tid] {
		lm.releaseLocked(tid, pid)
	}
	delete(lm.held, tid)
	if pid, ok := lm.waiting[tid]; ok {
		lm.stopWaiting(tid, pid)
	}
}

func (lm *LockManager) releaseLocked(tid common.TransactionID, pid common.PageId) {
	if pages, ok := lm.held[tid]; ok {
		delete(pages, pid)
	}
	pl, ok := lm.pages[pid]
	if !ok {
		return
	}
	released := false
	if pl.exclusive == tid {
		pl.exclusive = common.NoTransaction
		released = true
	}
	if _, ok := pl.shared[tid]; ok {
		delete(pl.shared, tid)
		released = true
	}
	if released {
		close(pl.wake)
		pl.wake = make(chan struct{})
	}
	if pl.unused() {
		delete(lm.pages, pid)
	}
}

func (lm *LockManager) HoldsLock(tid common.TransactionID, pid common.PageId) bool {
	_, ok := lm.LockMode(tid, pid)
	return ok
}

// LockMode reports the mode tid currently holds on pid.
func (lm *LockManager) LockMode(tid common.TransactionID, pid common.PageId) (Mode, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	pl, ok := lm.pages[pid]
	if !ok {
		return Shared, false
	}
	if pl.exclusive == tid {
		return Exclusive, true
	}
	if _, ok := pl.shared[tid]; ok {
		return Shared, true
	}
	return Shared, false
}

// Holders returns the transactions holding any lock on pid, sorted, together
// with the mode they hold it in.
func (lm *LockManager) Holders(pid common.PageId) ([]common.TransactionID, Mode) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	pl, ok := lm.pages[pid]
	if !ok {
		return nil, Shared
	}
	if pl.exclusive != common.NoTransaction {
		return []common.TransactionID{pl.exclusive}, Exclusive
	}
	holders := make([]common.TransactionID, 0, len(pl.shared))
	for tid := range pl.shared {
		holders = append(holders, tid)
	}
	sortTransactions(holders)
	return holders, Shared
}

// LockedPages returns the pages tid holds a lock on.
func (lm *LockManager) LockedPages(tid common.TransactionID) []common.PageId {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	pages := make([]common.PageId, 0, len(lm.held[tid]))
	for pid := range lm.held[tid] {
		pages = append(pages, pid)
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].TableId != pages[j].TableId {
			return pages[i].TableId < pages[j].TableId
		}
		return pages[i].PageNo < pages[j].PageNo
	})
	return pages
}

// Snapshot copies the current wait state for inspection.
func (lm *LockManager) Snapshot() WaitState {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.snapshot()
}

func (lm *LockManager) snapshot() *stateSnapshot {
	s := &stateSnapshot{
		waiting:   make(map[common.TransactionID]common.PageId, len(lm.waiting)),
		exclusive: make(map[common.PageId]common.TransactionID),
	}
	seen := make(map[common.TransactionID]struct{})
	for tid := range lm.held {
		seen[tid] = struct{}{}
	}
	for tid, pid := range lm.waiting {
		s.waiting[tid] = pid
		seen[tid] = struct{}{}
	}
	for pid, pl := range lm.pages {
		if pl.exclusive != common.NoTransaction {
			s.exclusive[pid] = pl.exclusive
		}
	}
	s.transactions = make([]common.TransactionID, 0, len(seen))
	for tid := range seen {
		s.transactions = append(s.transactions, tid)
	}
	sortTransactions(s.transactions)
	return s
}

type stateSnapshot struct {
	transactions []common.TransactionID
	waiting      map[common.TransactionID]common.PageId
	exclusive    map[common.PageId]common.TransactionID
}

func (s *stateSnapshot) Transactions() []common.TransactionID {
	return s.transactions
}

func (s *stateSnapshot) WaitingFor(tid common.TransactionID) (common.PageId, bool) {
	pid, ok := s.waiting[tid]
	return pid, ok
}

func (s *stateSnapshot) SoleExclusiveHolder(pid common.PageId) (common.TransactionID, bool) {
	tid, ok := s.exclusive[pid]
	return tid, ok
}

func sortTransactions(tids []common.TransactionID) {
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
}
