package heap

import (
	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/util"
)

// Slotted heap page layout (spec.md §3 "Heap page layout"):
//
//	offset 0:  next_page          uint32  (reserved, unused by the base design)
//	offset 4:  num_slots          uint16
//	offset 6:  free_space_offset  uint16  (0 = page uninitialized)
//	offset 8:  flags              uint16
//	offset 10: slot directory, reservedSlots * uint16 offsets
//	...free space...
//	record data, growing upward from free_space_offset toward PAGE_SIZE
const (
	headerSize    = 10
	reservedSlots = 64
	dirBytes      = reservedSlots * 2
	// initialFreeSpaceOffset is where record data starts on a freshly
	// initialized page, past the header and the reserved slot directory.
	initialFreeSpaceOffset = headerSize + dirBytes
)

type pageHeader struct {
	nextPage        uint32
	numSlots        uint16
	freeSpaceOffset uint16
	flags           uint16
}

func readHeader(buf []byte) pageHeader {
	_, next := util.ReadUint32(buf, 0)
	_, slots := util.ReadUint16(buf, 4)
	_, fso := util.ReadUint16(buf, 6)
	_, flags := util.ReadUint16(buf, 8)
	return pageHeader{nextPage: next, numSlots: slots, freeSpaceOffset: fso, flags: flags}
}

func writeHeader(buf []byte, h pageHeader) {
	util.PutUint32(buf[0:4], h.nextPage)
	util.PutUint16(buf[4:6], h.numSlots)
	util.PutUint16(buf[6:8], h.freeSpaceOffset)
	util.PutUint16(buf[8:10], h.flags)
}

// uninitialized reports whether buf's free_space_offset sentinel (0) means
// the page has never been written, per spec.md §3's invariant.
func uninitialized(buf []byte) bool {
	_, fso := util.ReadUint16(buf, 6)
	return fso == 0
}

func initPage(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	writeHeader(buf, pageHeader{freeSpaceOffset: initialFreeSpaceOffset})
}

func slotOffset(slot uint16) int {
	return headerSize + int(slot)*2
}

func readSlot(buf []byte, slot uint16) uint16 {
	_, off := util.ReadUint16(buf, slotOffset(slot))
	return off
}

func writeSlot(buf []byte, slot uint16, recordOffset uint16) {
	util.PutUint16(buf[slotOffset(slot):slotOffset(slot)+2], recordOffset)
}

// fits reports whether a record of recordSize bytes can be appended to a
// page with header h: the slot directory must have a free entry among its
// reservedSlots, and spec.md §4.2's admission check must hold.
func (h pageHeader) fits(recordSize int) bool {
	if int(h.numSlots) >= reservedSlots {
		return false
	}
	if int(h.freeSpaceOffset)+recordSize > pageserver.PageSize {
		return false
	}
	return headerSize+(int(h.numSlots)+1)*2 < int(h.freeSpaceOffset)
}

var errPageFull = errors.New("heap: record does not fit on any page (consider chunking)")
