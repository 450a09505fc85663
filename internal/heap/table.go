// Package heap implements the slotted-page heap table described in
// spec.md §4.2: an MVCC-versioned, variable-length record store with
// forward-only scan, point get, logical/physical delete and update.
package heap

import (
	"sync"

	log "github.com/AlexStocks/log4go"
	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/value"
)

// TupleMeta pairs a tuple with its MVCC header, for callers that need the
// raw version rather than a visibility-filtered read. Grouping the triple
// follows original_source/src/storage/heap_table.cpp's GetMeta, which
// returns one struct instead of three separate values.
type TupleMeta struct {
	Tuple value.Tuple
	Xmin  uint64
	Xmax  uint64
}

// Table is a single physical heap file named "<name>.heap".
type Table struct {
	name    string
	storage *pageserver.Server
	schema  *value.Schema

	mu sync.Mutex
}

func fileName(table string) string { return table + ".heap" }

// New constructs a handle over an existing or not-yet-created heap file.
func New(name string, storage *pageserver.Server, schema *value.Schema) *Table {
	return &Table{name: name, storage: storage, schema: schema}
}

// Create initializes page 0, per spec.md §4.2.
func (t *Table) Create() error {
	buf := make([]byte, pageserver.PageSize)
	initPage(buf)
	if err := t.storage.WritePage(fileName(t.name), 0, buf); err != nil {
		return errors.Wrapf(err, "heap: create %s", t.name)
	}
	log.Info("heap: created table %s", t.name)
	return nil
}

// Drop closes the underlying file.
func (t *Table) Drop() error {
	return t.storage.Close(fileName(t.name))
}

// Insert writes tuple as a new version created by xmin, walking pages in
// ascending order to find room, per spec.md §4.2's insertion algorithm.
func (t *Table) Insert(tuple value.Tuple, xmin uint64) (RID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := record{xmin: xmin, xmax: 0, tuple: tuple}
	body := encodeRecord(rec)

	fname := fileName(t.name)
	buf := make([]byte, pageserver.PageSize)
	for pageIdx := uint32(0); ; pageIdx++ {
		if err := t.storage.ReadPage(fname, pageIdx, buf); err != nil {
			return RID{}, errors.Wrapf(err, "heap: insert read page %d", pageIdx)
		}
		fresh := uninitialized(buf)
		if fresh {
			initPage(buf)
		}
		h := readHeader(buf)
		if !h.fits(len(body)) {
			if fresh {
				// Not even a newly initialized page can hold this record:
				// no later page will have more room than a fresh one, so
				// walking further would loop forever. Per spec.md §7's
				// Capacity error kind, fail instead.
				return RID{}, errPageFull
			}
			continue
		}

		slot := h.numSlots
		copy(buf[h.freeSpaceOffset:], body)
		writeSlot(buf, slot, h.freeSpaceOffset)
		h.freeSpaceOffset += uint16(len(body))
		h.numSlots++
		writeHeader(buf, h)

		if err := t.storage.WritePage(fname, pageIdx, buf); err != nil {
			return RID{}, errors.Wrapf(err, "heap: insert write page %d", pageIdx)
		}
		return NewRID(pageIdx, slot), nil
	}
}

// Get returns the live-tuple-agnostic raw version for rid, or ok=false if
// the slot is empty or the record is corrupt (treated as "not present" per
// spec.md §4.2).
func (t *Table) Get(rid RID) (value.Tuple, bool) {
	meta, ok := t.GetMeta(rid)
	if !ok {
		return nil, false
	}
	return meta.Tuple, true
}

func (t *Table) GetMeta(rid RID) (TupleMeta, bool) {
	if !rid.Valid {
		return TupleMeta{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, pageserver.PageSize)
	if err := t.storage.ReadPage(fileName(t.name), rid.Page, buf); err != nil {
		return TupleMeta{}, false
	}
	if uninitialized(buf) {
		return TupleMeta{}, false
	}
	h := readHeader(buf)
	if rid.Slot >= h.numSlots {
		return TupleMeta{}, false
	}
	off := readSlot(buf, rid.Slot)
	if off == 0 {
		return TupleMeta{}, false
	}
	rec, err := decodeRecord(buf[off:], t.schema.NumColumns())
	if err != nil {
		log.Warn("heap: corrupt record at %s: %v", rid, err)
		return TupleMeta{}, false
	}
	return TupleMeta{Tuple: rec.tuple, Xmin: rec.xmin, Xmax: rec.xmax}, true
}

// Remove logically deletes rid by setting xmax, reorganizing the page if
// the grown record no longer fits in place (spec.md §4.2).
func (t *Table) Remove(rid RID, xmax uint64) error {
	if !rid.Valid {
		return errors.New("heap: remove of invalid rid")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fname := fileName(t.name)
	buf := make([]byte, pageserver.PageSize)
	if err := t.storage.ReadPage(fname, rid.Page, buf); err != nil {
		return errors.Wrapf(err, "heap: remove read page %d", rid.Page)
	}
	h := readHeader(buf)
	if rid.Slot >= h.numSlots {
		return errors.Errorf("heap: remove: slot %d out of range", rid.Slot)
	}
	off := readSlot(buf, rid.Slot)
	if off == 0 {
		return errors.Errorf("heap: remove: slot %d already empty", rid.Slot)
	}
	oldLen := recordLenAt(buf, off, t.schema.NumColumns())
	if oldLen < 0 {
		return errors.New("heap: remove: corrupt record")
	}
	rec, err := decodeRecord(buf[off:off+oldLen], t.schema.NumColumns())
	if err != nil {
		return errors.Wrap(err, "heap: remove: corrupt record")
	}
	rec.xmax = xmax
	newBody := encodeRecord(rec)

	if len(newBody) <= oldLen {
		copy(buf[off:], newBody)
		// zero any leftover bytes from the shrink so a stale tail can't
		// be misread if the page is later re-parsed from this offset.
		for i := off + uint16(len(newBody)); i < off+uint16(oldLen); i++ {
			buf[i] = 0
		}
		if err := t.storage.WritePage(fname, rid.Page, buf); err != nil {
			return errors.Wrap(err, "heap: remove write page")
		}
		return nil
	}
	return t.reorganizeWithOverride(fname, rid.Page, buf, rid.Slot, newBody)
}

// reorganizeWithOverride re-emits every live slot in order, preserving
// slot indexes, substituting overrideBody for overrideSlot. This preserves
// RID stability (spec.md §3) while accommodating a record that grew.
func (t *Table) reorganizeWithOverride(fname string, pageIdx uint32, buf []byte, overrideSlot uint16, overrideBody []byte) error {
	h := readHeader(buf)
	numCols := t.schema.NumColumns()

	type slotBody struct {
		slot uint16
		body []byte
	}
	var bodies []slotBody
	for slot := uint16(0); slot < h.numSlots; slot++ {
		if slot == overrideSlot {
			bodies = append(bodies, slotBody{slot: slot, body: overrideBody})
			continue
		}
		off := readSlot(buf, slot)
		if off == 0 {
			continue
		}
		l := recordLenAt(buf, off, numCols)
		if l < 0 {
			continue
		}
		bodies = append(bodies, slotBody{slot: slot, body: append([]byte(nil), buf[off:off+uint16(l)]...)})
	}

	fresh := make([]byte, pageserver.PageSize)
	initPage(fresh)
	fh := readHeader(fresh)
	fh.numSlots = h.numSlots
	writeHeader(fresh, fh)

	cursor := fh.freeSpaceOffset
	for _, sb := range bodies {
		if int(cursor)+len(sb.body) > pageserver.PageSize {
			return errPageFull
		}
		copy(fresh[cursor:], sb.body)
		writeSlot(fresh, sb.slot, cursor)
		cursor += uint16(len(sb.body))
	}
	fh = readHeader(fresh)
	fh.freeSpaceOffset = cursor
	writeHeader(fresh, fh)

	if err := t.storage.WritePage(fname, pageIdx, fresh); err != nil {
		return errors.Wrap(err, "heap: reorganize write page")
	}
	return nil
}

// recordLenAt returns the byte length of the record at off, or -1 if it
// cannot be parsed (treated as corrupt).
func recordLenAt(buf []byte, off uint16, numCols int) int {
	rec, err := decodeRecord(buf[off:], numCols)
	if err != nil {
		return -1
	}
	return len(encodeRecord(rec))
}

// PhysicalRemove zeros rid's slot offset without compacting, so later slot
// indexes are never reused (spec.md §4.2). Used only by rollback of the
// inserting transaction.
func (t *Table) PhysicalRemove(rid RID) error {
	if !rid.Valid {
		return errors.New("heap: physical_remove of invalid rid")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fname := fileName(t.name)
	buf := make([]byte, pageserver.PageSize)
	if err := t.storage.ReadPage(fname, rid.Page, buf); err != nil {
		return errors.Wrap(err, "heap: physical_remove read page")
	}
	h := readHeader(buf)
	if rid.Slot >= h.numSlots {
		return errors.Errorf("heap: physical_remove: slot %d out of range", rid.Slot)
	}
	writeSlot(buf, rid.Slot, 0)
	if err := t.storage.WritePage(fname, rid.Page, buf); err != nil {
		return errors.Wrap(err, "heap: physical_remove write page")
	}
	return nil
}

// Update is equivalent to Remove(rid, txn) then Insert(newTuple, txn); the
// heap discards the new RID (the transaction's undo log is the thing that
// remembers the act), per spec.md §4.2.
func (t *Table) Update(rid RID, newTuple value.Tuple, txn uint64) error {
	if err := t.Remove(rid, txn); err != nil {
		return err
	}
	_, err := t.Insert(newTuple, txn)
	return err
}

// TupleCount returns the count of live versions (xmax == 0) via a full
// scan, per spec.md §4.2.
func (t *Table) TupleCount() int {
	n := 0
	it := t.ScanMeta()
	for it.Next() {
		if it.Meta().Xmax == 0 {
			n++
		}
	}
	return n
}

// Schema returns the table's column schema.
func (t *Table) Schema() *value.Schema { return t.schema }
