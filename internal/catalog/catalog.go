// Package catalog tracks the set of open heap tables and their secondary
// indexes by name, the narrow slice of the teacher's DictionaryManager
// (server/innodb/manager) this storage core needs: a name-to-handle
// lookup, not a full metadata store.
package catalog

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/btree"
	"github.com/cloudsql/storagecore/internal/heap"
	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/txn"
	"github.com/cloudsql/storagecore/internal/value"
)

type tableEntry struct {
	table   *heap.Table
	indexes map[string]*btree.Index
}

// Catalog is a process-local registry of open tables, satisfying
// txn.TableProvider for undo replay.
type Catalog struct {
	storage *pageserver.Server

	mu     sync.Mutex
	tables map[string]*tableEntry
}

func New(storage *pageserver.Server) *Catalog {
	return &Catalog{storage: storage, tables: make(map[string]*tableEntry)}
}

// CreateTable creates the heap file and registers it.
func (c *Catalog) CreateTable(name string, schema *value.Schema) (*heap.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; exists {
		return nil, errors.Errorf("catalog: table %s already exists", name)
	}
	t := heap.New(name, c.storage, schema)
	if err := t.Create(); err != nil {
		return nil, err
	}
	c.tables[name] = &tableEntry{table: t, indexes: make(map[string]*btree.Index)}
	return t, nil
}

// Table returns the open table, if any.
func (c *Catalog) Table(name string) (*heap.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[name]
	if !ok {
		return nil, false
	}
	return e.table, true
}

// GetTable implements txn.TableProvider.
func (c *Catalog) GetTable(name string) (txn.TableHeap, bool) {
	t, ok := c.Table(name)
	if !ok {
		return nil, false
	}
	return t, true
}

// CreateIndex creates a secondary index over table, registering it under
// indexName for later lookup via Index.
func (c *Catalog) CreateIndex(table, indexName string, keyType value.Type, unique bool) (*btree.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.tables[table]
	if !ok {
		return nil, errors.Errorf("catalog: table %s not found", table)
	}
	if _, exists := e.indexes[indexName]; exists {
		return nil, errors.Errorf("catalog: index %s already exists on %s", indexName, table)
	}
	ix := btree.New(table+"_"+indexName, c.storage, keyType, unique)
	if err := ix.Create(); err != nil {
		return nil, err
	}
	e.indexes[indexName] = ix
	return ix, nil
}

// Index returns a registered secondary index, if any.
func (c *Catalog) Index(table, indexName string) (*btree.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	ix, ok := e.indexes[indexName]
	return ix, ok
}

// Close drops every open table and index handle's underlying file.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, e := range c.tables {
		if err := e.table.Drop(); err != nil && firstErr == nil {
			firstErr = err
		}
		for _, ix := range e.indexes {
			if err := ix.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
