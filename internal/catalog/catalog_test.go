package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/value"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	storage, err := pageserver.Open(t.TempDir())
	require.NoError(t, err)
	return New(storage)
}

func testSchema() *value.Schema {
	return value.NewSchema("accounts", value.Column{Name: "id", Typ: value.TypeInt64})
}

func TestCreateTableThenLookup(t *testing.T) {
	c := newTestCatalog(t)
	tbl, err := c.CreateTable("accounts", testSchema())
	require.NoError(t, err)
	require.NotNil(t, tbl)

	got, ok := c.Table("accounts")
	require.True(t, ok)
	assert.Same(t, tbl, got)
}

func TestCreateTableDuplicateFails(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable("accounts", testSchema())
	require.NoError(t, err)

	_, err = c.CreateTable("accounts", testSchema())
	assert.Error(t, err)
}

func TestTableMissingReturnsFalse(t *testing.T) {
	c := newTestCatalog(t)
	_, ok := c.Table("nope")
	assert.False(t, ok)
}

func TestGetTableSatisfiesTableProvider(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable("accounts", testSchema())
	require.NoError(t, err)

	th, ok := c.GetTable("accounts")
	require.True(t, ok)
	assert.NotNil(t, th)

	_, ok = c.GetTable("nope")
	assert.False(t, ok)
}

func TestCreateIndexOnMissingTableFails(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateIndex("nope", "by_id", value.TypeInt64, true)
	assert.Error(t, err)
}

func TestCreateIndexThenLookup(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable("accounts", testSchema())
	require.NoError(t, err)

	ix, err := c.CreateIndex("accounts", "by_id", value.TypeInt64, true)
	require.NoError(t, err)
	require.NotNil(t, ix)

	got, ok := c.Index("accounts", "by_id")
	require.True(t, ok)
	assert.Same(t, ix, got)
}

func TestCreateIndexDuplicateFails(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable("accounts", testSchema())
	require.NoError(t, err)
	_, err = c.CreateIndex("accounts", "by_id", value.TypeInt64, true)
	require.NoError(t, err)

	_, err = c.CreateIndex("accounts", "by_id", value.TypeInt64, true)
	assert.Error(t, err)
}

func TestCloseDropsTablesAndIndexes(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable("accounts", testSchema())
	require.NoError(t, err)
	_, err = c.CreateIndex("accounts", "by_id", value.TypeInt64, true)
	require.NoError(t, err)

	assert.NoError(t, c.Close())
}
