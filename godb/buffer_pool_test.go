package godb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHeapFile(t *testing.T, bp *BufferPool, desc *TupleDesc) *HeapFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.dat")
	hf, err := NewHeapFile(path, desc, bp)
	require.NoError(t, err)
	return hf
}

func TestBufferPoolEvictLockedRefusesAllDirtyPool(t *testing.T) {
	bp, err := NewBufferPool(1, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	tid := NewTID()
	require.NoError(t, bp.BeginTransaction(tid))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}}}, tid))

	// The one cached page is dirty and uncommitted: NO-STEAL means the
	// pool must refuse to evict it rather than write it to disk early.
	bp.mu.Lock()
	evictErr := bp.evictLocked()
	bp.mu.Unlock()
	require.Error(t, evictErr)
}

func TestBufferPoolCommitFlushesAndUnlocks(t *testing.T) {
	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	tid := NewTID()
	require.NoError(t, bp.BeginTransaction(tid))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}}}, tid))
	require.NoError(t, bp.TransactionComplete(tid, true))

	// Locks are released by commit: a second transaction can write the
	// same page immediately.
	tid2 := NewTID()
	_, err = bp.GetPage(hf, 0, tid2, WritePerm)
	require.NoError(t, err)
}

func TestBufferPoolAbortRevertsInPlace(t *testing.T) {
	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	tid := NewTID()
	require.NoError(t, bp.BeginTransaction(tid))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}}}, tid))
	require.NoError(t, bp.TransactionComplete(tid, true))

	tid2 := NewTID()
	require.NoError(t, bp.BeginTransaction(tid2))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 2}}}, tid2))
	require.NoError(t, bp.TransactionComplete(tid2, false))

	tid3 := NewTID()
	iter, err := hf.Iterator(tid3)
	require.NoError(t, err)
	var values []int64
	for {
		tup, err := iter()
		require.NoError(t, err)
		if tup == nil {
			break
		}
		values = append(values, tup.Fields[0].(IntField).Value)
	}
	require.Equal(t, []int64{1}, values)

	os.Remove(hf.BackingFile())
}

// TestBufferPoolRollbackRevertsViaLog exercises the path Rollback exists
// for: tid's before-image has already been discarded from the cache (e.g.
// by an earlier crash or an explicit DiscardPage), so the only surviving
// copy is the one written to the log. Ordinary TransactionComplete(tid,
// false) never takes this path, since NO-STEAL keeps the in-memory
// before-image around for the whole transaction.
func TestBufferPoolRollbackRevertsViaLog(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.txt")
	require.NoError(t, os.WriteFile(catalogPath, []byte("t (age int)\n"), 0644))

	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	catalog := NewCatalog(catalogPath, bp, dir)
	require.NoError(t, catalog.parseCatalogFile())
	hf, err := catalog.GetTable("t")
	require.NoError(t, err)

	logFile, err := NewLogFile(filepath.Join(dir, "log.dat"), bp, catalog)
	require.NoError(t, err)
	require.NoError(t, bp.Recover(logFile))

	desc := hf.Descriptor()
	tid := NewTID()
	require.NoError(t, bp.BeginTransaction(tid))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 9}}}, tid))

	dirtied := bp.dirtiedPages(tid)
	require.Len(t, dirtied, 1)
	var key any
	var hp *heapPage
	for k, pg := range dirtied {
		key = k
		hp = pg.(*heapPage)
	}
	before := hp.getBeforeImage()

	logFile.LogBegin(tid)
	require.NoError(t, logFile.LogUpdate(tid, before, hp))
	require.NoError(t, logFile.Force())

	// Simulate the before-image having fallen out of the cache: only the
	// log retains it now.
	bp.DiscardPage(key)

	require.NoError(t, bp.Rollback(tid))
	// Rollback does not release tid's locks; completing tid does.
	require.NoError(t, bp.TransactionComplete(tid, false))

	tid2 := NewTID()
	iter, err := hf.Iterator(tid2)
	require.NoError(t, err)
	tup, err := iter()
	require.NoError(t, err)
	require.Nil(t, tup, "rollback via log should have reverted the inserted tuple")
}

// TestConcurrentReaderBlocksThenObservesCommit covers T2 blocking on T1's
// uncommitted insert and, once T1 commits, observing the inserted tuple.
func TestConcurrentReaderBlocksThenObservesCommit(t *testing.T) {
	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	t1 := NewTID()
	require.NoError(t, bp.BeginTransaction(t1))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 42}}}, t1))

	t2 := NewTID()
	require.NoError(t, bp.BeginTransaction(t2))
	scanDone := make(chan []int64, 1)
	go func() {
		iter, err := hf.Iterator(t2)
		require.NoError(t, err)
		var vals []int64
		for {
			tup, err := iter()
			require.NoError(t, err)
			if tup == nil {
				break
			}
			vals = append(vals, tup.Fields[0].(IntField).Value)
		}
		scanDone <- vals
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-scanDone:
		t.Fatal("T2's scan completed before T1 resolved; it should have blocked on T1's exclusive lock")
	default:
	}

	require.NoError(t, bp.TransactionComplete(t1, true))

	select {
	case vals := <-scanDone:
		require.Equal(t, []int64{42}, vals)
	case <-time.After(2 * time.Second):
		t.Fatal("T2 never observed T1's commit")
	}
}

// TestConcurrentReaderBlocksThenObservesAbort is the abort counterpart: T2
// must not see t1's tuple once t1 aborts.
func TestConcurrentReaderBlocksThenObservesAbort(t *testing.T) {
	bp, err := NewBufferPool(10, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	t1 := NewTID()
	require.NoError(t, bp.BeginTransaction(t1))
	require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 42}}}, t1))

	t2 := NewTID()
	require.NoError(t, bp.BeginTransaction(t2))
	scanDone := make(chan []int64, 1)
	go func() {
		iter, err := hf.Iterator(t2)
		require.NoError(t, err)
		var vals []int64
		for {
			tup, err := iter()
			require.NoError(t, err)
			if tup == nil {
				break
			}
			vals = append(vals, tup.Fields[0].(IntField).Value)
		}
		scanDone <- vals
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bp.TransactionComplete(t1, false))

	select {
	case vals := <-scanDone:
		require.Empty(t, vals, "T2 must not observe a tuple inserted by an aborted transaction")
	case <-time.After(2 * time.Second):
		t.Fatal("T2 never resolved after T1's abort")
	}
}

// TestBufferPoolEvictionRefusalThenSuccessAfterCommit is the faithful,
// public-API version of the eviction-refusal scenario: fill the pool to
// capacity with dirty pages under one open transaction via GetPage, fetch
// one more page and see BufferPoolFullError, then commit and confirm the
// same fetch now succeeds.
func TestBufferPoolEvictionRefusalThenSuccessAfterCommit(t *testing.T) {
	const capacity = 3
	bp, err := NewBufferPool(capacity, nil, nil)
	require.NoError(t, err)
	desc := &TupleDesc{Fields: []FieldType{{Fname: "age", Ftype: IntType}}}
	hf := newTestHeapFile(t, bp, desc)

	tid := NewTID()
	require.NoError(t, bp.BeginTransaction(tid))

	// Force capacity distinct pages to exist and be dirtied by tid.
	for i := 0; i < capacity; i++ {
		require.NoError(t, hf.insertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: int64(i)}}}, tid))
		hp, err := bp.GetPage(hf, i, tid, WritePerm)
		require.NoError(t, err)
		hp.(*heapPage).setDirty(tid, true)
		// keep lastEmptyPage from reusing page i for the next insert.
		hf.Lock()
		hf.lastEmptyPage = i + 1
		hf.Unlock()
	}

	// Put one more (empty) page on disk, not cached, for the extra fetch.
	extra, err := newHeapPage(desc, capacity, hf)
	require.NoError(t, err)
	require.NoError(t, hf.flushPage(extra))

	// The pool is now full of dirty pages belonging to tid: fetching a
	// page not already cached must fail rather than silently evict one.
	_, err = bp.GetPage(hf, capacity, tid, ReadPerm)
	require.Error(t, err)
	gerr, ok := err.(GoDBError)
	require.True(t, ok)
	require.Equal(t, BufferPoolFullError, gerr.Kind)

	require.NoError(t, bp.TransactionComplete(tid, true))

	// Now that tid's pages are committed (clean), the same fetch succeeds
	// by evicting one of them.
	tid2 := NewTID()
	require.NoError(t, bp.BeginTransaction(tid2))
	_, err = bp.GetPage(hf, capacity, tid2, ReadPerm)
	require.NoError(t, err)
}
