// Package wal implements the write-ahead log described in spec.md §4.5: a
// single-writer appender with a bounded in-memory buffer, durable flush on
// demand and on buffer-full, and a background flusher thread.
package wal

import (
	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/heap"
	"github.com/cloudsql/storagecore/internal/util"
	"github.com/cloudsql/storagecore/internal/value"
)

type RecordType uint8

const (
	TypeBegin RecordType = iota + 1
	TypeCommit
	TypeAbort
	TypeInsert
	TypeMarkDelete
	TypeApplyDelete
	TypeRollbackDelete
	TypeUpdate
	TypeNewPage
)

// Record is the fixed-header, type-dependent-body log record of spec.md
// §4.5: header carries size, lsn, prev_lsn, txn_id, type in that order.
type Record struct {
	Size    uint32
	LSN     int64
	PrevLSN int64
	TxnID   uint64
	Type    RecordType

	Table    string
	RID      heap.RID
	OldTuple value.Tuple
	NewTuple value.Tuple
	PageIdx  uint32
}

// headerSize: size(4) + lsn(8) + prev_lsn(8) + txn_id(8) + type(1).
const headerSize = 4 + 8 + 8 + 8 + 1

func encodeRID(dst []byte, r heap.RID) []byte {
	dst = util.AppendUint32(dst, r.Page)
	dst = util.AppendUint16(dst, r.Slot)
	return dst
}

func decodeRID(buf []byte, cursor int) (int, heap.RID, error) {
	if cursor+6 > len(buf) {
		return cursor, heap.RID{}, errors.New("wal: truncated rid")
	}
	cursor, page := util.ReadUint32(buf, cursor)
	cursor, slot := util.ReadUint16(buf, cursor)
	return cursor, heap.NewRID(page, slot), nil
}

func encodeTuple(dst []byte, t value.Tuple) []byte {
	dst = util.AppendUint32(dst, uint32(len(t)))
	for _, v := range t {
		dst = value.Encode(dst, v)
	}
	return dst
}

func decodeTuple(buf []byte, cursor int) (int, value.Tuple, error) {
	if cursor+4 > len(buf) {
		return cursor, nil, errors.New("wal: truncated tuple count")
	}
	cursor, n := util.ReadUint32(buf, cursor)
	out := make(value.Tuple, 0, n)
	for i := uint32(0); i < n; i++ {
		next, v, err := value.Decode(buf, cursor)
		if err != nil {
			return cursor, nil, errors.Wrap(err, "wal: truncated tuple value")
		}
		cursor = next
		out = append(out, v)
	}
	return cursor, out, nil
}

// Encode serializes r into a self-contained byte slice, with Size set to
// the total length so a reader can skip corrupt entries, per spec.md
// §4.5's "Records are self-describing" contract.
func Encode(r Record) []byte {
	body := encodeBody(r)
	r.Size = uint32(headerSize + len(body))

	buf := make([]byte, 0, r.Size)
	buf = util.AppendUint32(buf, r.Size)
	buf = util.AppendInt64(buf, r.LSN)
	buf = util.AppendInt64(buf, r.PrevLSN)
	buf = util.AppendUint64(buf, r.TxnID)
	buf = append(buf, byte(r.Type))
	buf = append(buf, body...)
	return buf
}

func encodeBody(r Record) []byte {
	var buf []byte
	switch r.Type {
	case TypeBegin, TypeCommit, TypeAbort:
		return nil
	case TypeInsert:
		buf = util.AppendLenPrefixed(buf, []byte(r.Table))
		buf = encodeRID(buf, r.RID)
		buf = encodeTuple(buf, r.NewTuple)
	case TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete:
		buf = util.AppendLenPrefixed(buf, []byte(r.Table))
		buf = encodeRID(buf, r.RID)
		buf = encodeTuple(buf, r.OldTuple)
	case TypeUpdate:
		buf = util.AppendLenPrefixed(buf, []byte(r.Table))
		buf = encodeRID(buf, r.RID)
		buf = encodeTuple(buf, r.OldTuple)
		buf = encodeTuple(buf, r.NewTuple)
	case TypeNewPage:
		buf = util.AppendUint32(buf, r.PageIdx)
	}
	return buf
}

// Decode parses one record starting at buf[0]. It returns the number of
// bytes consumed (equal to the decoded Size) so a reader can advance to
// the next record.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < headerSize {
		return Record{}, 0, errors.New("wal: truncated header")
	}
	cursor, size := util.ReadUint32(buf, 0)
	if int(size) > len(buf) {
		return Record{}, 0, errors.New("wal: truncated record body")
	}
	cursor, lsn := util.ReadInt64(buf, cursor)
	cursor, prevLSN := util.ReadInt64(buf, cursor)
	cursor, txnID := util.ReadUint64(buf, cursor)
	typ := RecordType(buf[cursor])
	cursor++

	r := Record{Size: size, LSN: lsn, PrevLSN: prevLSN, TxnID: txnID, Type: typ}
	var err error
	switch typ {
	case TypeBegin, TypeCommit, TypeAbort:
		// empty body
	case TypeInsert:
		cursor, err = decodeTableRIDTuple(buf, cursor, &r.Table, &r.RID, &r.NewTuple)
	case TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete:
		cursor, err = decodeTableRIDTuple(buf, cursor, &r.Table, &r.RID, &r.OldTuple)
	case TypeUpdate:
		cursor, err = decodeTableRIDTuple(buf, cursor, &r.Table, &r.RID, &r.OldTuple)
		if err == nil {
			cursor, r.NewTuple, err = decodeTuple(buf, cursor)
		}
	case TypeNewPage:
		_, r.PageIdx = util.ReadUint32(buf, cursor)
	default:
		return Record{}, 0, errors.Errorf("wal: unknown record type %d", typ)
	}
	if err != nil {
		return Record{}, 0, err
	}
	return r, int(size), nil
}

func decodeTableRIDTuple(buf []byte, cursor int, table *string, rid *heap.RID, tup *value.Tuple) (int, error) {
	cursor, tbytes, err := util.ReadLenPrefixed(buf, cursor)
	if err != nil {
		return cursor, errors.Wrap(err, "wal: truncated table name")
	}
	*table = string(tbytes)
	cursor, r, err := decodeRID(buf, cursor)
	if err != nil {
		return cursor, err
	}
	*rid = r
	cursor, t, err := decodeTuple(buf, cursor)
	if err != nil {
		return cursor, err
	}
	*tup = t
	return cursor, nil
}
