package godb

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// A HeapFile is an unordered collection of tuples, stored as a sequence of
// fixed-format pages (spec.md §4.1) in a single backing file on disk.
type HeapFile struct {
	td            *TupleDesc
	numPages      int
	backingFile   string
	lastEmptyPage int
	bufPool       *BufferPool
	sync.Mutex
}

// heapFileRid identifies a tuple by the page and slot it occupies.
type heapFileRid struct {
	pageNo int
	slotNo int
}

// NewHeapFile creates a HeapFile backed by fromFile, which may be empty or
// a previously created heap file, using bp to cache pages read from it.
func NewHeapFile(fromFile string, td *TupleDesc, bp *BufferPool) (*HeapFile, error) {
	f, err := os.OpenFile(fromFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	numPages := fi.Size() / int64(PageSize)
	return &HeapFile{
		td:            td,
		numPages:      int(numPages),
		backingFile:   fromFile,
		lastEmptyPage: -1,
		bufPool:       bp,
	}, nil
}

// BackingFile returns the path of the file this HeapFile is stored in.
func (f *HeapFile) BackingFile() string {
	return f.backingFile
}

// NumPages returns the number of pages currently allocated in the file.
func (f *HeapFile) NumPages() int {
	f.Lock()
	defer f.Unlock()
	return f.numPages
}

// LoadFromCSV populates the HeapFile from a CSV file, one tuple per
// transaction so the buffer pool never has to hold more dirty pages than
// fit in its capacity at once. hasHeader skips the first line; sep is the
// field separator; skipLastField drops a trailing empty field produced by
// a trailing separator on each line.
func (f *HeapFile) LoadFromCSV(file *os.File, hasHeader bool, sep string, skipLastField bool) error {
	scanner := bufio.NewScanner(file)
	cnt := 0
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, sep)
		if skipLastField {
			fields = fields[0 : len(fields)-1]
		}
		numFields := len(fields)
		cnt++

		desc := f.Descriptor()
		if desc == nil || desc.Fields == nil {
			return GoDBError{MalformedDataError, "Descriptor was nil"}
		}
		if numFields != len(desc.Fields) {
			return GoDBError{MalformedDataError, fmt.Sprintf("LoadFromCSV: line %d (%s) does not have expected number of fields (expected %d, got %d)", cnt, line, len(desc.Fields), numFields)}
		}
		if cnt == 1 && hasHeader {
			continue
		}

		var newFields []DBValue
		for fno, field := range fields {
			switch desc.Fields[fno].Ftype {
			case IntType:
				field = strings.TrimSpace(field)
				floatVal, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return GoDBError{TypeMismatchError, fmt.Sprintf("LoadFromCSV: couldn't convert value %s to int, tuple %d", field, cnt)}
				}
				newFields = append(newFields, IntField{Value: int64(floatVal)})
			case StringType:
				if len(field) > StringLength {
					field = field[0:StringLength]
				}
				newFields = append(newFields, StringField{Value: field})
			}
		}

		newT := Tuple{Desc: *desc, Fields: newFields}
		tid := NewTID()
		if err := f.bufPool.BeginTransaction(tid); err != nil {
			return err
		}
		if err := f.insertTuple(&newT, tid); err != nil {
			return err
		}
		if err := f.bufPool.TransactionComplete(tid, true); err != nil {
			return err
		}
	}
	return nil
}

// readPage loads pageNo from disk. Called by BufferPool.GetPage on a cache
// miss.
func (f *HeapFile) readPage(pageNo int) (Page, error) {
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	b := make([]byte, PageSize)
	n, err := file.ReadAt(b, int64(pageNo*PageSize))
	if err != nil {
		return nil, err
	}
	if n != PageSize {
		return nil, GoDBError{MalformedDataError, "not enough bytes read in readPage"}
	}
	pg, err := newHeapPage(f.Descriptor(), pageNo, f)
	if err != nil {
		return nil, err
	}
	if err := pg.initFromBuffer(bytes.NewBuffer(b)); err != nil {
		return nil, err
	}
	return pg, nil
}

// insertTuple scans from lastEmptyPage for a page with a free slot,
// inserting there if found; otherwise a new page is appended to the file.
// lastEmptyPage is only a hint, never a correctness requirement: a stale
// value just costs an extra scan.
func (f *HeapFile) insertTuple(t *Tuple, tid TransactionID) error {
	f.Lock()
	start := f.lastEmptyPage
	if start < 0 {
		start = 0
	}
	endPage := f.numPages
	f.Unlock()

	for p := start; p < endPage; p++ {
		pg, err := f.bufPool.GetPage(f, p, tid, ReadPerm)
		if err != nil {
			return err
		}
		if pg.(*heapPage).getNumEmptySlots() == 0 {
			continue
		}

		pg, err = f.bufPool.GetPage(f, p, tid, WritePerm)
		if err != nil {
			return err
		}
		heapp := pg.(*heapPage)
		if _, err := heapp.insertTuple(t); err != nil {
			if err == ErrPageFull {
				continue
			}
			return err
		}
		heapp.setDirty(tid, true)
		f.Lock()
		f.lastEmptyPage = p
		f.Unlock()
		return nil
	}

	f.Lock()
	p := f.numPages
	heapp, err := newHeapPage(f.td, p, f)
	if err != nil {
		f.Unlock()
		return err
	}
	if err := f.flushPageLocked(heapp); err != nil {
		f.Unlock()
		return err
	}
	f.numPages++
	f.Unlock()

	pg, err := f.bufPool.GetPage(f, p, tid, WritePerm)
	if err != nil {
		return err
	}
	heapp = pg.(*heapPage)
	if _, err := heapp.insertTuple(t); err != nil {
		return err
	}
	heapp.setDirty(tid, true)

	f.Lock()
	f.lastEmptyPage = p
	f.Unlock()
	return nil
}

// deleteTuple removes t, identified by its Rid (set by Iterator or by the
// caller), from the page it occupies.
func (f *HeapFile) deleteTuple(t *Tuple, tid TransactionID) error {
	if t.Rid == nil {
		return GoDBError{TupleNotFoundError, "provided tuple has nil rid, cannot delete"}
	}

	rid, ok := t.Rid.(heapFileRid)
	if !ok {
		return GoDBError{TupleNotFoundError, "provided tuple is not a heap file tuple, based on rid"}
	}

	if rid.pageNo < 0 || rid.pageNo >= f.NumPages() {
		return GoDBError{TupleNotFoundError, "provided tuple references a page that does not exist"}
	}

	pg, err := f.bufPool.GetPage(f, rid.pageNo, tid, WritePerm)
	if err != nil {
		return err
	}
	hp, ok := pg.(*heapPage)
	if !ok {
		return GoDBError{IncompatibleTypesError, "buffer pool returned non-heap page when heap page expected"}
	}
	hp.setDirty(tid, true)
	if err := hp.deleteTuple(rid); err != nil {
		return err
	}

	f.Lock()
	if rid.pageNo < f.lastEmptyPage || f.lastEmptyPage < 0 {
		f.lastEmptyPage = rid.pageNo
	}
	f.Unlock()

	return nil
}

// flushPage writes p back to its offset in the backing file. Called by
// BufferPool on commit and from FlushAllPages, and by log recovery and
// rollback; eviction drops clean pages without writing them.
func (f *HeapFile) flushPage(p Page) error {
	f.Lock()
	defer f.Unlock()
	return f.flushPageLocked(p)
}

func (f *HeapFile) flushPageLocked(p Page) error {
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	hp := p.(*heapPage)

	buf, err := hp.toBuffer()
	if err != nil {
		return err
	}
	_, err = file.WriteAt(buf.Bytes(), int64(hp.pageNo*PageSize))
	return err
}

// Descriptor returns the TupleDesc supplied to NewHeapFile.
func (f *HeapFile) Descriptor() *TupleDesc {
	return f.td
}

// Iterator returns a function yielding each tuple stored in the file, in
// page then slot order, reading pages through bp.GetPage so that cache
// eviction and page-level locking apply uniformly. Returned tuples have
// their Rid set so deleteTuple can be called on them.
func (f *HeapFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	nPages := f.NumPages()
	pgNo := 0
	var pgIter func() (*Tuple, error)
	return func() (*Tuple, error) {
		for {
			if pgIter == nil {
				if pgNo == nPages {
					return nil, nil
				}
				p, err := f.bufPool.GetPage(f, pgNo, tid, ReadPerm)
				if err != nil {
					return nil, err
				}
				pgIter = p.(*heapPage).tupleIter()
				pgNo++
			}
			next, err := pgIter()
			if err != nil {
				return nil, err
			}
			if next == nil {
				pgIter = nil
				continue
			}
			return &Tuple{Desc: *f.td, Fields: next.Fields, Rid: next.Rid}, nil
		}
	}, nil
}

// heapHash is the pageKey used by BufferPool to identify cached pages of
// a HeapFile.
type heapHash struct {
	FileName string
	PageNo   int
}

func (f *HeapFile) pageKey(pgNo int) any {
	return heapHash{FileName: f.backingFile, PageNo: pgNo}
}
