package godb

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// lockMode is the mode a page's lock is currently held in.
type lockMode int

const (
	lockNone lockMode = iota
	lockShared
	lockExclusive
)

// lockState is the per-page state machine described in spec.md §4.2: a
// mode, a set of owners, and a set of waiters. Never embeds back-pointers
// to other transactions' state — the wait-for graph is a separate flat
// map, per spec.md §9's explicit instruction.
type lockState struct {
	mode    lockMode
	owners  map[TransactionID]struct{}
	waiters map[TransactionID]struct{}
	cond    *sync.Cond
}

func newLockState(mu *sync.Mutex) *lockState {
	return &lockState{
		owners:  make(map[TransactionID]struct{}),
		waiters: make(map[TransactionID]struct{}),
		cond:    sync.NewCond(mu),
	}
}

// lockManager grants shared/exclusive per-page locks under strict
// two-phase locking and detects deadlock via wait-for graph cycle
// detection (spec.md §4.2). A single mutex protects every page's
// lockState and the wait-for graph together, so the cycle check is always
// consistent with the graph it inspects (spec.md §5).
type lockManager struct {
	mu       sync.Mutex
	pages    map[any]*lockState
	waitFor  map[TransactionID]map[TransactionID]struct{}
	timeout  time.Duration
	log      *zap.Logger
}

func newLockManager(timeout time.Duration, log *zap.Logger) *lockManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &lockManager{
		pages:   make(map[any]*lockState),
		waitFor: make(map[TransactionID]map[TransactionID]struct{}),
		timeout: timeout,
		log:     log,
	}
}

func (lm *lockManager) stateFor(pid any) *lockState {
	ls, ok := lm.pages[pid]
	if !ok {
		ls = newLockState(&lm.mu)
		lm.pages[pid] = ls
	}
	return ls
}

// addWaitAndCheckCycle records that tid is waiting for exactly the
// current owners of ls (discarding any edges left over from a previous
// call, since an owner tid was waiting on may have released in the
// meantime), and returns whether doing so would close a cycle back to
// tid (a deadlock). Must be called with lm.mu held.
func (lm *lockManager) addWaitAndCheckCycle(tid TransactionID, ls *lockState) bool {
	edges := make(map[TransactionID]struct{})
	for owner := range ls.owners {
		if owner == tid {
			continue
		}
		edges[owner] = struct{}{}
	}
	lm.waitFor[tid] = edges
	return lm.reaches(tid, tid, make(map[TransactionID]bool))
}

// reaches is a recursive depth-first search over the wait-for graph
// checking whether start can,
// via one or more edges, reach back to target through a cycle (i.e.
// whether a path start -> ... -> target of length >= 1 exists). Called
// with lm.mu held.
func (lm *lockManager) reaches(start, target TransactionID, visited map[TransactionID]bool) bool {
	for next := range lm.waitFor[start] {
		if next == target {
			return true
		}
		if visited[next] {
			continue
		}
		visited[next] = true
		if lm.reaches(next, target, visited) {
			return true
		}
	}
	return false
}

func (lm *lockManager) clearWaitEdges(tid TransactionID) {
	delete(lm.waitFor, tid)
	for _, edges := range lm.waitFor {
		delete(edges, tid)
	}
}

// acquireShared grants tid a shared lock on pid, blocking (and
// deadlock-checking) if necessary.
func (lm *lockManager) acquireShared(tid TransactionID, pid any) error {
	return lm.acquire(tid, pid, lockShared)
}

// acquireExclusive grants tid an exclusive lock on pid, blocking (and
// deadlock-checking) if necessary. Handles in-place upgrade when tid is
// the sole shared holder.
func (lm *lockManager) acquireExclusive(tid TransactionID, pid any) error {
	return lm.acquire(tid, pid, lockExclusive)
}

func (lm *lockManager) acquire(tid TransactionID, pid any, want lockMode) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ls := lm.stateFor(pid)
	for {
		if lm.canGrant(tid, ls, want) {
			lm.grant(tid, ls, want)
			lm.clearWaitEdges(tid)
			return nil
		}

		ls.waiters[tid] = struct{}{}
		if lm.addWaitAndCheckCycle(tid, ls) {
			delete(ls.waiters, tid)
			lm.clearWaitEdges(tid)
			lm.log.Warn("deadlock detected, aborting requester",
				zap.Int32("tid", int32(tid)))
			return GoDBError{TransactionAbortedError, "deadlock detected"}
		}

		woke := lm.waitWithTimeout(ls)
		delete(ls.waiters, tid)
		if !woke {
			lm.clearWaitEdges(tid)
			return GoDBError{TransactionAbortedError, "lock wait timed out"}
		}
		// loop: reacquire lm.mu (Cond.Wait already did), re-test predicate.
	}
}

// canGrant reports whether want can be granted to tid immediately, per the
// state table in spec.md §4.2.
func (lm *lockManager) canGrant(tid TransactionID, ls *lockState, want lockMode) bool {
	switch ls.mode {
	case lockNone:
		return true
	case lockShared:
		if want == lockShared {
			return true
		}
		// upgrade: only tid itself may hold shared locks right now.
		_, holds := ls.owners[tid]
		return holds && len(ls.owners) == 1
	case lockExclusive:
		_, holds := ls.owners[tid]
		return holds
	default:
		return false
	}
}

func (lm *lockManager) grant(tid TransactionID, ls *lockState, want lockMode) {
	switch ls.mode {
	case lockNone:
		ls.mode = want
		ls.owners[tid] = struct{}{}
	case lockShared:
		if want == lockShared {
			ls.owners[tid] = struct{}{}
		} else {
			ls.mode = lockExclusive
		}
	case lockExclusive:
		// reentrant: already the sole owner.
	}
}

// waitWithTimeout blocks on ls.cond until woken or the configured
// deadlock-wait timeout elapses (the liveness backstop of spec.md §5; the
// primary mechanism is cycle detection above). Returns false on timeout.
func (lm *lockManager) waitWithTimeout(ls *lockState) bool {
	if lm.timeout <= 0 {
		ls.cond.Wait()
		return true
	}
	done := make(chan struct{})
	timer := time.AfterFunc(lm.timeout, func() {
		lm.mu.Lock()
		close(done)
		ls.cond.Broadcast()
		lm.mu.Unlock()
	})
	defer timer.Stop()
	ls.cond.Wait()
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// release drops tid's hold on pid. If tid was not a holder, this is a
// no-op.
func (lm *lockManager) release(tid TransactionID, pid any) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	ls, ok := lm.pages[pid]
	if !ok {
		return
	}
	if _, held := ls.owners[tid]; !held {
		return
	}
	delete(ls.owners, tid)
	if len(ls.owners) == 0 {
		ls.mode = lockNone
	}
	ls.cond.Broadcast()
}

// releaseAll drops every lock tid holds across all pages.
func (lm *lockManager) releaseAll(tid TransactionID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, ls := range lm.pages {
		if _, held := ls.owners[tid]; held {
			delete(ls.owners, tid)
			if len(ls.owners) == 0 {
				ls.mode = lockNone
			}
			ls.cond.Broadcast()
		}
	}
	lm.clearWaitEdges(tid)
}

// holdsLock reports whether tid currently holds any lock on pid.
func (lm *lockManager) holdsLock(tid TransactionID, pid any) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	ls, ok := lm.pages[pid]
	if !ok {
		return false
	}
	_, held := ls.owners[tid]
	return held
}
