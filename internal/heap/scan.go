package heap

import "github.com/cloudsql/storagecore/internal/pageserver"

// MetaIterator is the "with metadata" scan variant of spec.md §4.2: it
// yields every non-empty, parseable slot across the file in (page, slot)
// order, including dead versions. A page whose free_space_offset is 0
// terminates the scan.
type MetaIterator struct {
	t        *Table
	buf      []byte
	pageIdx  uint32
	slot     uint16
	numSlots uint16
	loaded   bool
	done     bool
	cur      TupleMeta
	curRID   RID
}

func (t *Table) ScanMeta() *MetaIterator {
	return &MetaIterator{t: t, buf: make([]byte, pageserver.PageSize)}
}

func (it *MetaIterator) loadPage() bool {
	if err := it.t.storage.ReadPage(fileName(it.t.name), it.pageIdx, it.buf); err != nil {
		return false
	}
	if uninitialized(it.buf) {
		return false
	}
	h := readHeader(it.buf)
	it.numSlots = h.numSlots
	it.slot = 0
	it.loaded = true
	return true
}

// Next advances to the next non-empty, parseable slot (dead versions
// included), returning false once the scan is exhausted.
func (it *MetaIterator) Next() bool {
	if it.done {
		return false
	}
	for {
		if !it.loaded {
			if !it.loadPage() {
				it.done = true
				return false
			}
		}
		for it.slot < it.numSlots {
			slot := it.slot
			it.slot++
			off := readSlot(it.buf, slot)
			if off == 0 {
				continue
			}
			rec, err := decodeRecord(it.buf[off:], it.t.schema.NumColumns())
			if err != nil {
				continue
			}
			it.cur = TupleMeta{Tuple: rec.tuple, Xmin: rec.xmin, Xmax: rec.xmax}
			it.curRID = NewRID(it.pageIdx, slot)
			return true
		}
		// Exhausted this page's slots; advance to the next page.
		it.pageIdx++
		it.loaded = false
	}
}

func (it *MetaIterator) Meta() TupleMeta { return it.cur }
func (it *MetaIterator) RID() RID        { return it.curRID }

// Iterator is the "live only" scan variant: it filters Xmax == 0.
type Iterator struct {
	inner *MetaIterator
}

func (t *Table) Scan() *Iterator {
	return &Iterator{inner: t.ScanMeta()}
}

func (it *Iterator) Next() bool {
	for it.inner.Next() {
		if it.inner.cur.Xmax == 0 {
			return true
		}
	}
	return false
}

func (it *Iterator) Tuple() TupleMeta { return it.inner.Meta() }
func (it *Iterator) RID() RID         { return it.inner.RID() }
