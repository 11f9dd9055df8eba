package heap

import (
	"iter"
	"sync"

	"heapdb/pkg/page"
	"heapdb/pkg/tuple"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// HeapPage is the decoded form of a slotted heap page: a header bitmap with one bit
// per slot followed by fixed-width tuple slots.
//
// The header and tuples are protected by the page lock held through the buffer pool;
// the dirty flag and before image have their own mutex since the pool inspects them
// without holding a page lock.
type HeapPage struct {
	pid      tuple.PageID
	desc     *tuple.TupleDesc
	pageSize int
	numSlots int
	header   *bitset.BitSet // bit i is set iff slot i holds a live tuple
	tuples   []*tuple.Tuple

	mtx     sync.Mutex
	dirty   bool
	dirtier uuid.UUID // transaction that last dirtied the page
	oldData []byte    // before image
}

var _ page.Page = (*HeapPage)(nil)

// NumSlots returns how many tuples of desc fit on a page of pageSize bytes, counting
// one header bit per tuple.
func NumSlots(desc *tuple.TupleDesc, pageSize int) int {
	return (pageSize * 8) / (desc.Size()*8 + 1)
}

// headerSize returns the number of header bytes needed for numSlots bits.
func headerSize(numSlots int) int {
	return (numSlots + 7) / 8
}

// EmptyPageData returns the bytes of a page with no live tuples.
func EmptyPageData(pageSize int) []byte {
	return make([]byte, pageSize)
}

// NewHeapPage decodes a heap page from data, which must hold at least pageSize bytes.
func NewHeapPage(pid tuple.PageID, desc *tuple.TupleDesc, pageSize int, data []byte) (*HeapPage, error) {
	if len(data) < pageSize {
		return nil, errors.Wrapf(ErrShortPage, "page %v: got %d of %d bytes", pid, len(data), pageSize)
	}
	numSlots := NumSlots(desc, pageSize)
	p := &HeapPage{
		pid:      pid,
		desc:     desc,
		pageSize: pageSize,
		numSlots: numSlots,
		header:   bitset.New(uint(numSlots)),
		tuples:   make([]*tuple.Tuple, numSlots),
	}
	for i := 0; i < numSlots; i++ {
		if data[i/8]&(1<<(i%8)) != 0 {
			p.header.Set(uint(i))
		}
	}
	size := desc.Size()
	off := headerSize(numSlots)
	for i := 0; i < numSlots; i, off = i+1, off+size {
		// Unused slots are skipped without materializing a tuple.
		if !p.header.Test(uint(i)) {
			continue
		}
		t, err := tuple.Parse(desc, data[off:off+size])
		if err != nil {
			return nil, errors.Wrapf(err, "page %v slot %d", pid, i)
		}
		t.SetRecordID(&tuple.RecordID{PageID: pid, Slot: i})
		p.tuples[i] = t
	}
	if err := p.SetBeforeImage(); err != nil {
		return nil, err
	}
	return p, nil
}

// ID returns the page id.
func (p *HeapPage) ID() tuple.PageID {
	return p.pid
}

// TupleDesc returns the descriptor of the tuples on this page.
func (p *HeapPage) TupleDesc() *tuple.TupleDesc {
	return p.desc
}

// NumSlots returns the page's tuple capacity.
func (p *HeapPage) NumSlots() int {
	return p.numSlots
}

// Data encodes the page into exactly pageSize bytes. Unused slots are zero filled.
func (p *HeapPage) Data() ([]byte, error) {
	buf := make([]byte, p.pageSize)
	for i := 0; i < p.numSlots; i++ {
		if p.header.Test(uint(i)) {
			buf[i/8] |= 1 << (i % 8)
		}
	}
	size := p.desc.Size()
	off := headerSize(p.numSlots)
	for i := 0; i < p.numSlots; i, off = i+1, off+size {
		if !p.header.Test(uint(i)) {
			continue
		}
		if err := p.tuples[i].Serialize(buf[off : off+size]); err != nil {
			return nil, errors.Wrapf(err, "page %v slot %d", p.pid, i)
		}
	}
	return buf, nil
}

// IsSlotUsed reports whether slot i holds a live tuple.
func (p *HeapPage) IsSlotUsed(i int) bool {
	if i < 0 || i >= p.numSlots {
		return false
	}
	return p.header.Test(uint(i))
}

// NumEmptySlots returns the number of free slots on the page.
func (p *HeapPage) NumEmptySlots() int {
	return p.numSlots - int(p.header.Count())
}

// NumTuples returns the number of live tuples on the page.
func (p *HeapPage) NumTuples() int {
	return int(p.header.Count())
}

// InsertTuple stores a copy of t in the lowest-numbered free slot and sets the record
// id of both the copy and t. Later changes to t do not reach the page.
func (p *HeapPage) InsertTuple(t *tuple.Tuple) error {
	if !t.Desc().Equals(p.desc) {
		return errors.Wrapf(ErrDescMismatch, "insert into page %v", p.pid)
	}
	for i := 0; i < p.numSlots; i++ {
		if p.header.Test(uint(i)) {
			continue
		}
		stored := t.Copy()
		stored.SetRecordID(&tuple.RecordID{PageID: p.pid, Slot: i})
		t.SetRecordID(&tuple.RecordID{PageID: p.pid, Slot: i})
		p.tuples[i] = stored
		p.header.Set(uint(i))
		return nil
	}
	return errors.Wrapf(ErrPageFull, "page %v", p.pid)
}

// DeleteTuple removes the live tuple whose record id matches t's. Only the header bit
// is cleared; the slot's bytes are overwritten on the next insert or encode.
func (p *HeapPage) DeleteTuple(t *tuple.Tuple) error {
	rid := t.RecordID()
	if rid == nil {
		return ErrNoRecordID
	}
	if rid.PageID != p.pid || !p.IsSlotUsed(rid.Slot) {
		return errors.Wrapf(ErrTupleNotFound, "%v on page %v", rid, p.pid)
	}
	p.header.Clear(uint(rid.Slot))
	p.tuples[rid.Slot] = nil
	return nil
}

// Tuples returns copies of the live tuples in increasing slot order. The set of tuples
// is fixed when Tuples is called; call it again to re-scan. Modifying a returned tuple
// does not change the page.
func (p *HeapPage) Tuples() iter.Seq[*tuple.Tuple] {
	live := make([]*tuple.Tuple, 0, p.NumTuples())
	for i := 0; i < p.numSlots; i++ {
		if p.header.Test(uint(i)) {
			live = append(live, p.tuples[i].Copy())
		}
	}
	return func(yield func(*tuple.Tuple) bool) {
		for _, t := range live {
			if !yield(t) {
				return
			}
		}
	}
}

// MarkDirty sets the dirty flag and remembers which transaction dirtied the page.
func (p *HeapPage) MarkDirty(dirty bool, tid uuid.UUID) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.dirty = dirty
	p.dirtier = tid
}

// IsDirty returns the transaction that last dirtied the page, if the page is dirty.
func (p *HeapPage) IsDirty() (uuid.UUID, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if !p.dirty {
		return uuid.Nil, false
	}
	return p.dirtier, true
}

// BeforeImage decodes the snapshot taken by the last SetBeforeImage.
func (p *HeapPage) BeforeImage() (page.Page, error) {
	p.mtx.Lock()
	old := p.oldData
	p.mtx.Unlock()
	return NewHeapPage(p.pid, p.desc, p.pageSize, old)
}

// SetBeforeImage snapshots the page's current encoded contents.
func (p *HeapPage) SetBeforeImage() error {
	data, err := p.Data()
	if err != nil {
		return err
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.oldData = data
	return nil
}
