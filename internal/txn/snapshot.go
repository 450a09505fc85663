package txn

// Snapshot is the MVCC visibility triple captured at transaction begin
// (or per statement under READ COMMITTED), per spec.md §3.
type Snapshot struct {
	XminLo    uint64
	XmaxHi    uint64
	ActiveSet map[uint64]bool
}

// visible implements spec.md §3's "An id t is visible under S iff t <
// xmin_lo, or (t < xmax_hi and t not in active_set)".
func (s Snapshot) visible(t uint64) bool {
	if t < s.XminLo {
		return true
	}
	if t < s.XmaxHi && !s.ActiveSet[t] {
		return true
	}
	return false
}

// IsVisible implements the record visibility rule of spec.md §3: a record
// version is visible iff its xmin is visible and (xmax is 0 or xmax is
// not visible). creatorID is the snapshot-holding transaction's own id,
// so its own writes are always visible to itself.
func (s Snapshot) IsVisible(creatorID, xmin, xmax uint64) bool {
	xminVisible := xmin == creatorID || s.visible(xmin)
	if !xminVisible {
		return false
	}
	if xmax == 0 {
		return true
	}
	if xmax == creatorID {
		return false
	}
	return !s.visible(xmax)
}
