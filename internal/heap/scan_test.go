package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/value"
)

func TestScanMetaIncludesDeadVersions(t *testing.T) {
	storage, err := pageserver.Open(t.TempDir())
	require.NoError(t, err)
	schema := value.NewSchema("t", value.Column{Name: "id", Typ: value.TypeInt64})
	tbl := New("t", storage, schema)
	require.NoError(t, tbl.Create())

	rid, err := tbl.Insert(value.Tuple{value.NewInt64(1)}, 1)
	require.NoError(t, err)
	require.NoError(t, tbl.Remove(rid, 2))

	it := tbl.ScanMeta()
	count := 0
	for it.Next() {
		count++
		require.EqualValues(t, 2, it.Meta().Xmax)
	}
	require.Equal(t, 1, count)
}

func TestScanTerminatesOnUninitializedPage(t *testing.T) {
	storage, err := pageserver.Open(t.TempDir())
	require.NoError(t, err)
	schema := value.NewSchema("t", value.Column{Name: "id", Typ: value.TypeInt64})
	tbl := New("t", storage, schema)
	require.NoError(t, tbl.Create())

	it := tbl.Scan()
	require.False(t, it.Next(), "an empty table must produce no scan results")
}
