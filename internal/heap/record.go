package heap

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/value"
)

// record is the on-page byte layout of one tuple version: an MVCC header
// (xmin, xmax) followed by the column values, per spec.md §3 "Record
// layout". xmin and xmax are varint-encoded rather than fixed-width: xmax
// starts at 0 (one byte) and grows when a logical delete assigns a
// transaction id of 128 or more, which is what makes the §4.2 "reorganize
// the page on record growth" path a real, reachable case rather than dead
// code.
type record struct {
	xmin  uint64
	xmax  uint64
	tuple value.Tuple
}

func encodeRecord(r record) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*2+16)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], r.xmin)
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], r.xmax)
	buf = append(buf, tmp[:n]...)
	for _, v := range r.tuple {
		buf = value.Encode(buf, v)
	}
	return buf
}

// decodeRecord parses raw bytes into a record of numCols values. A
// corrupt or truncated record returns an error; callers treat that as
// "record absent" per spec.md §4.2's failure semantics.
func decodeRecord(raw []byte, numCols int) (record, error) {
	xmin, n := binary.Uvarint(raw)
	if n <= 0 {
		return record{}, errors.New("heap: corrupt record (xmin)")
	}
	cursor := n
	xmax, n := binary.Uvarint(raw[cursor:])
	if n <= 0 {
		return record{}, errors.New("heap: corrupt record (xmax)")
	}
	cursor += n

	tuple := make(value.Tuple, 0, numCols)
	for i := 0; i < numCols; i++ {
		next, v, err := value.Decode(raw, cursor)
		if err != nil {
			return record{}, errors.Wrap(err, "heap: corrupt record (value)")
		}
		cursor = next
		tuple = append(tuple, v)
	}
	return record{xmin: xmin, xmax: xmax, tuple: tuple}, nil
}
