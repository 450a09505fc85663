package heap

import "fmt"

// RID is a tuple id: the stable (page index, slot index) pair identifying
// a record version within a heap file (spec.md §3). Rather than overload
// (0,0) as a null sentinel, an explicit Valid flag is carried — spec.md §9
// names this as the preferred resolution of its last open question.
type RID struct {
	Page  uint32
	Slot  uint16
	Valid bool
}

func NewRID(page uint32, slot uint16) RID {
	return RID{Page: page, Slot: slot, Valid: true}
}

func (r RID) String() string {
	if !r.Valid {
		return "RID(nil)"
	}
	return fmt.Sprintf("RID(%d,%d)", r.Page, r.Slot)
}
