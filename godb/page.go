package godb

import (
	"bytes"
	"sync"
)

// heapPage implements Page for pages of a HeapFile. Tuples are fixed size,
// so given a TupleDesc the page can compute how many slots fit once, at
// construction.
//
// On-disk layout (spec.md §6): a header bitmap of ceil(numSlots/8) bytes,
// bit i set iff slot i is occupied, packed MSB-first within each byte,
// followed by the numSlots slots in increasing order, each
// desc.bytesPerTuple() bytes. Deleted slots retain their position; an
// empty slot is written as zero bytes and skipped on read via the header
// bitmap, so a page never needs to renumber slots on write-back.
type heapPage struct {
	sync.Mutex
	desc        TupleDesc
	numSlots    int
	tuples      []*Tuple // nil entry == empty slot
	pageNo      int
	file        *HeapFile
	dirtyBy     *TransactionID
	beforeImage []byte
}

func headerBytes(numSlots int) int {
	return (numSlots + 7) / 8
}

// numSlotsForPage returns floor((PageSize*8) / (tupleBits+1)), the slot
// count spec.md §4.1 specifies: one header bit per slot plus the tuple
// body.
func numSlotsForPage(desc *TupleDesc) int {
	tupleBits := desc.bytesPerTuple() * 8
	return (PageSize * 8) / (tupleBits + 1)
}

func newHeapPage(desc *TupleDesc, pageNo int, f *HeapFile) (*heapPage, error) {
	pg := &heapPage{
		desc:     *desc,
		numSlots: numSlotsForPage(desc),
		pageNo:   pageNo,
		file:     f,
	}
	pg.tuples = make([]*Tuple, pg.numSlots)
	buf, err := pg.toBuffer()
	if err != nil {
		return nil, err
	}
	pg.beforeImage = append([]byte{}, buf.Bytes()...)
	return pg, nil
}

func (h *heapPage) getNumSlots() int {
	return h.numSlots
}

func (h *heapPage) getNumEmptySlots() int {
	used := 0
	for _, t := range h.tuples {
		if t != nil {
			used++
		}
	}
	return h.numSlots - used
}

func (h *heapPage) PageNo() int {
	return h.pageNo
}

// insertTuple stores t in the lowest-numbered free slot, stamps t's
// record id, and returns it. Returns ErrPageFull if no slot is free.
func (h *heapPage) insertTuple(t *Tuple) (recordID, error) {
	for i := 0; i < h.numSlots; i++ {
		if h.tuples[i] == nil {
			h.tuples[i] = t
			rid := heapFileRid{pageNo: h.pageNo, slotNo: i}
			t.Rid = rid
			return rid, nil
		}
	}
	return nil, ErrPageFull
}

// deleteTuple clears the slot named by rid's record id.
func (h *heapPage) deleteTuple(rid recordID) error {
	heapRid, ok := rid.(heapFileRid)
	if !ok {
		return GoDBError{TupleNotFoundError, "supplied rid is not a heapFileRid"}
	}
	if heapRid.slotNo < 0 || heapRid.slotNo >= h.numSlots {
		return GoDBError{TupleNotFoundError, "slot does not exist on delete"}
	}
	if h.tuples[heapRid.slotNo] == nil {
		return GoDBError{TupleNotFoundError, "slot already empty"}
	}
	h.tuples[heapRid.slotNo] = nil
	return nil
}

func (h *heapPage) isDirty() bool {
	h.Lock()
	defer h.Unlock()
	return h.dirtyBy != nil
}

func (h *heapPage) setDirty(tid TransactionID, dirty bool) {
	h.Lock()
	defer h.Unlock()
	if dirty {
		t := tid
		h.dirtyBy = &t
	} else {
		h.dirtyBy = nil
	}
}

func (h *heapPage) getFile() DBFile {
	return h.file
}

// getBeforeImage reconstructs the page as it stood at the moment of its
// last load or commit, per spec.md §3's before-image invariant. Used for
// abort revert and as the "before" half of a log update record.
func (h *heapPage) getBeforeImage() Page {
	pg, err := newHeapPage(&h.desc, h.pageNo, h.file)
	if err != nil {
		return nil
	}
	if err := pg.initFromBuffer(bytes.NewBuffer(h.beforeImage)); err != nil {
		return nil
	}
	return pg
}

// setBeforeImage freezes the page's current contents as its new
// before-image; called after a successful commit.
func (h *heapPage) setBeforeImage() {
	buf, err := h.toBuffer()
	if err != nil {
		return
	}
	h.beforeImage = append([]byte{}, buf.Bytes()...)
}

// toBuffer serializes the page to its on-disk representation: the slot
// occupancy bitmap followed by the packed tuple bodies.
func (h *heapPage) toBuffer() (*bytes.Buffer, error) {
	b := new(bytes.Buffer)
	header := make([]byte, headerBytes(h.numSlots))
	for i, t := range h.tuples {
		if t == nil {
			continue
		}
		header[i/8] |= 1 << (7 - uint(i%8))
	}
	if _, err := b.Write(header); err != nil {
		return nil, err
	}
	for _, t := range h.tuples {
		if t == nil {
			if _, err := b.Write(make([]byte, h.desc.bytesPerTuple())); err != nil {
				return nil, err
			}
			continue
		}
		if err := t.writeTo(b); err != nil {
			return nil, err
		}
	}
	if b.Len() > PageSize {
		return nil, GoDBError{MalformedDataError, "serialized page exceeds page size"}
	}
	b.Write(make([]byte, PageSize-b.Len()))
	return b, nil
}

// initFromBuffer parses a PageSize-byte buffer into this page's header
// bitmap and tuple slots.
func (h *heapPage) initFromBuffer(buf *bytes.Buffer) error {
	header := make([]byte, headerBytes(h.numSlots))
	if _, err := buf.Read(header); err != nil {
		return err
	}
	tuples := make([]*Tuple, h.numSlots)
	for i := 0; i < h.numSlots; i++ {
		occupied := header[i/8]&(1<<(7-uint(i%8))) != 0
		if !occupied {
			buf.Next(h.desc.bytesPerTuple())
			continue
		}
		t, err := readTupleFrom(buf, &h.desc)
		if err != nil {
			return err
		}
		t.Rid = heapFileRid{pageNo: h.pageNo, slotNo: i}
		tuples[i] = t
	}
	h.tuples = tuples
	h.dirtyBy = nil
	return nil
}

// tupleIter returns a function yielding each live tuple on the page in
// slot order, then nil, nil.
func (p *heapPage) tupleIter() func() (*Tuple, error) {
	i := 0
	return func() (*Tuple, error) {
		for i < len(p.tuples) {
			t := p.tuples[i]
			i++
			if t != nil {
				return t, nil
			}
		}
		return nil, nil
	}
}
