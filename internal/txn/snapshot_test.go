package txn

import "testing"

func TestSnapshotVisibleBeforeXminLo(t *testing.T) {
	s := Snapshot{XminLo: 10, XmaxHi: 20, ActiveSet: map[uint64]bool{}}
	if !s.visible(5) {
		t.Error("an id below xmin_lo must be visible")
	}
}

func TestSnapshotInvisibleIfActive(t *testing.T) {
	s := Snapshot{XminLo: 1, XmaxHi: 20, ActiveSet: map[uint64]bool{15: true}}
	if s.visible(15) {
		t.Error("an id in the active set must not be visible")
	}
}

func TestSnapshotInvisibleAtOrAboveXmaxHi(t *testing.T) {
	s := Snapshot{XminLo: 1, XmaxHi: 20, ActiveSet: map[uint64]bool{}}
	if s.visible(20) {
		t.Error("an id at xmax_hi must not be visible")
	}
}

func TestIsVisibleRecordRules(t *testing.T) {
	s := Snapshot{XminLo: 1, XmaxHi: 20, ActiveSet: map[uint64]bool{}}

	if !s.IsVisible(99, 5, 0) {
		t.Error("a live record whose creator is visible and has no deleter must be visible")
	}
	if s.IsVisible(99, 25, 0) {
		t.Error("a record whose creator is not yet visible must not be visible")
	}
	if !s.IsVisible(99, 99, 0) {
		t.Error("a record created by the snapshot holder itself must be visible to it")
	}
	if s.IsVisible(99, 5, 99) {
		t.Error("a record deleted by the snapshot holder itself must not be visible to it")
	}
	if !s.IsVisible(99, 5, 25) {
		t.Error("a record deleted by a not-yet-visible deleter must still be visible")
	}
	if s.IsVisible(99, 5, 10) {
		t.Error("a record deleted by a visible deleter must not be visible")
	}
}
