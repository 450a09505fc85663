package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsql/storagecore/internal/heap"
	"github.com/cloudsql/storagecore/internal/value"
)

func TestEncodeDecodeBeginCommitAbort(t *testing.T) {
	for _, typ := range []RecordType{TypeBegin, TypeCommit, TypeAbort} {
		r := Record{LSN: 5, PrevLSN: 4, TxnID: 9, Type: typ}
		buf := Encode(r)

		got, n, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, int64(5), got.LSN)
		assert.Equal(t, int64(4), got.PrevLSN)
		assert.EqualValues(t, 9, got.TxnID)
		assert.Equal(t, typ, got.Type)
	}
}

func TestEncodeDecodeInsert(t *testing.T) {
	r := Record{
		LSN: 1, PrevLSN: -1, TxnID: 1, Type: TypeInsert,
		Table: "accounts", RID: heap.NewRID(0, 2),
		NewTuple: value.Tuple{value.NewInt64(7), value.NewVarchar("alice")},
	}
	buf := Encode(r)

	got, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, "accounts", got.Table)
	assert.Equal(t, heap.NewRID(0, 2), got.RID)
	assert.Equal(t, int64(7), got.NewTuple[0].Int)
}

func TestEncodeDecodeUpdateCarriesOldAndNew(t *testing.T) {
	r := Record{
		LSN: 2, PrevLSN: 1, TxnID: 1, Type: TypeUpdate,
		Table: "accounts", RID: heap.NewRID(0, 2),
		OldTuple: value.Tuple{value.NewInt64(7)},
		NewTuple: value.Tuple{value.NewInt64(8)},
	}
	buf := Encode(r)

	got, _, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.OldTuple[0].Int)
	assert.Equal(t, int64(8), got.NewTuple[0].Int)
}

func TestDecodeTruncatedHeaderFails(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeUnknownTypeFails(t *testing.T) {
	r := Record{LSN: 1, PrevLSN: 0, TxnID: 1, Type: TypeBegin}
	buf := Encode(r)
	buf[len(buf)-1] = 0xff // corrupt the type byte
	_, _, err := Decode(buf)
	assert.Error(t, err)
}
