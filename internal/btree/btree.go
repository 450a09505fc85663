package btree

import (
	"sync"

	log "github.com/AlexStocks/log4go"
	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/heap"
	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/value"
)

// Index is a named B+-tree index over a single-column key type mapping
// key → set of RIDs, per spec.md §4.3. The index neither owns nor
// verifies table records; callers are responsible for keeping it
// consistent with their heap.
type Index struct {
	name    string
	storage *pageserver.Server
	keyType value.Type
	unique  bool

	mu sync.Mutex
}

func fileName(name string) string { return name + ".idx" }

func New(name string, storage *pageserver.Server, keyType value.Type, unique bool) *Index {
	return &Index{name: name, storage: storage, keyType: keyType, unique: unique}
}

// Create initializes the meta page and an empty root leaf.
func (ix *Index) Create() error {
	fname := fileName(ix.name)
	root := &node{typ: leafNode, page: 1, parent: noPage, nextLeaf: noPage, keyType: ix.keyType}
	rootBuf, err := root.encode()
	if err != nil {
		return err
	}
	if err := ix.storage.WritePage(fname, 1, rootBuf); err != nil {
		return errors.Wrap(err, "btree: create root")
	}
	m := meta{rootPage: 1, nextFree: 2, keyType: ix.keyType, unique: ix.unique}
	if err := ix.storage.WritePage(fname, metaPage, encodeMeta(m)); err != nil {
		return errors.Wrap(err, "btree: create meta")
	}
	log.Info("btree: created index %s", ix.name)
	return nil
}

func (ix *Index) Open() error  { return ix.storage.OpenFile(fileName(ix.name)) }
func (ix *Index) Close() error { return ix.storage.Close(fileName(ix.name)) }
func (ix *Index) Drop() error  { return ix.Close() }

func (ix *Index) readMeta() (meta, error) {
	buf := make([]byte, pageserver.PageSize)
	if err := ix.storage.ReadPage(fileName(ix.name), metaPage, buf); err != nil {
		return meta{}, err
	}
	return decodeMeta(buf), nil
}

func (ix *Index) writeMeta(m meta) error {
	return ix.storage.WritePage(fileName(ix.name), metaPage, encodeMeta(m))
}

func (ix *Index) readNode(pageIdx uint32) (*node, error) {
	buf := make([]byte, pageserver.PageSize)
	if err := ix.storage.ReadPage(fileName(ix.name), pageIdx, buf); err != nil {
		return nil, err
	}
	n, err := decodeNode(buf, pageIdx, ix.keyType)
	if err != nil {
		// A corrupt page is treated as empty for search, per spec.md §4.3.
		return &node{typ: leafNode, page: pageIdx, parent: noPage, nextLeaf: noPage}, nil
	}
	return n, nil
}

func (ix *Index) writeNode(n *node) error {
	buf, err := n.encode()
	if err != nil {
		return err
	}
	return ix.storage.WritePage(fileName(ix.name), n.page, buf)
}

func (ix *Index) allocatePage(m *meta) uint32 {
	p := m.nextFree
	m.nextFree++
	return p
}

// findLeaf descends from root to the leaf that would contain key,
// returning the full root-to-leaf path (for split propagation).
func (ix *Index) findLeaf(key value.Value) ([]*node, error) {
	m, err := ix.readMeta()
	if err != nil {
		return nil, err
	}
	var path []*node
	cur, err := ix.readNode(m.rootPage)
	if err != nil {
		return nil, err
	}
	path = append(path, cur)
	for cur.typ == internalNode {
		child := cur.firstChild
		for _, e := range cur.intEntries {
			if cmpKey(key, e.key) < 0 {
				break
			}
			child = e.child
		}
		cur, err = ix.readNode(child)
		if err != nil {
			return nil, err
		}
		path = append(path, cur)
	}
	return path, nil
}

// Search returns every RID associated with key (an equality lookup).
func (ix *Index) Search(key value.Value) ([]heap.RID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	path, err := ix.findLeaf(key)
	if err != nil {
		return nil, err
	}
	leaf := path[len(path)-1]
	var out []heap.RID
	for _, e := range leaf.leafEntries {
		if cmpKey(e.key, key) == 0 {
			out = append(out, e.rid)
		}
	}
	return out, nil
}

// RangeSearch returns RIDs for keys in [min, max]; a nil bound means
// unbounded on that side, per original_source/include/storage/btree_index.hpp.
func (ix *Index) RangeSearch(min, max *value.Value) ([]heap.RID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	m, err := ix.readMeta()
	if err != nil {
		return nil, err
	}

	var leaf *node
	if min != nil {
		path, err := ix.findLeafLocked(*min, m)
		if err != nil {
			return nil, err
		}
		leaf = path[len(path)-1]
	} else {
		leaf, err = ix.leftmostLeaf(m)
		if err != nil {
			return nil, err
		}
	}

	var out []heap.RID
	for leaf != nil {
		for _, e := range leaf.leafEntries {
			if min != nil && cmpKey(e.key, *min) < 0 {
				continue
			}
			if max != nil && cmpKey(e.key, *max) > 0 {
				return out, nil
			}
			out = append(out, e.rid)
		}
		if leaf.nextLeaf == noPage {
			break
		}
		leaf, err = ix.readNode(leaf.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ix *Index) findLeafLocked(key value.Value, m meta) ([]*node, error) {
	var path []*node
	cur, err := ix.readNode(m.rootPage)
	if err != nil {
		return nil, err
	}
	path = append(path, cur)
	for cur.typ == internalNode {
		child := cur.firstChild
		for _, e := range cur.intEntries {
			if cmpKey(key, e.key) < 0 {
				break
			}
			child = e.child
		}
		cur, err = ix.readNode(child)
		if err != nil {
			return nil, err
		}
		path = append(path, cur)
	}
	return path, nil
}

func (ix *Index) leftmostLeaf(m meta) (*node, error) {
	cur, err := ix.readNode(m.rootPage)
	if err != nil {
		return nil, err
	}
	for cur.typ == internalNode {
		cur, err = ix.readNode(cur.firstChild)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Insert adds key→rid. A unique index rejects an insert whose key already
// exists bound to a different RID, per spec.md §4.3; the caller decides
// whether to enforce uniqueness by constructing the index that way.
func (ix *Index) Insert(key value.Value, rid heap.RID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	m, err := ix.readMeta()
	if err != nil {
		return err
	}
	path, err := ix.findLeafLocked(key, m)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]

	if ix.unique {
		for _, e := range leaf.leafEntries {
			if cmpKey(e.key, key) == 0 && e.rid != rid {
				return errKeyExists
			}
		}
	}

	insertLeafSorted(leaf, leafEntry{key: key, rid: rid})

	if _, err := leaf.encode(); err == nil {
		if err := ix.writeNode(leaf); err != nil {
			return err
		}
		return ix.writeMeta(m)
	}

	// Leaf overflowed: split and propagate the separator upward.
	return ix.splitAndPropagate(path, &m)
}

func insertLeafSorted(n *node, e leafEntry) {
	i := 0
	for i < len(n.leafEntries) {
		c := cmpKey(n.leafEntries[i].key, e.key)
		if c > 0 {
			break
		}
		i++
	}
	n.leafEntries = append(n.leafEntries, leafEntry{})
	copy(n.leafEntries[i+1:], n.leafEntries[i:])
	n.leafEntries[i] = e
}

// splitAndPropagate splits the overflowing leaf (path's last node) and
// walks back up path, splitting internal nodes as needed and creating a
// new root if the existing root itself splits.
func (ix *Index) splitAndPropagate(path []*node, m *meta) error {
	leaf := path[len(path)-1]
	mid := len(leaf.leafEntries) / 2
	rightEntries := append([]leafEntry(nil), leaf.leafEntries[mid:]...)
	leaf.leafEntries = leaf.leafEntries[:mid]

	rightPage := ix.allocatePage(m)
	right := &node{typ: leafNode, page: rightPage, parent: leaf.parent, nextLeaf: leaf.nextLeaf, leafEntries: rightEntries, keyType: ix.keyType}
	leaf.nextLeaf = rightPage

	if err := ix.writeNode(leaf); err != nil {
		return err
	}
	if err := ix.writeNode(right); err != nil {
		return err
	}

	sepKey := rightEntries[0].key
	return ix.insertIntoParent(path, len(path)-1, leaf.page, sepKey, rightPage, m)
}

// insertIntoParent inserts (sepKey -> rightPage) into the parent of
// path[idx], creating a new root if path[idx] has none.
func (ix *Index) insertIntoParent(path []*node, idx int, leftPage uint32, sepKey value.Value, rightPage uint32, m *meta) error {
	if idx == 0 {
		// The node that split had no parent: it was the root. Create a
		// fresh internal root over the two halves.
		newRootPage := ix.allocatePage(m)
		newRoot := &node{
			typ:        internalNode,
			page:       newRootPage,
			parent:     noPage,
			firstChild: leftPage,
			intEntries: []internalEntry{{key: sepKey, child: rightPage}},
			keyType:    ix.keyType,
		}
		if err := ix.writeNode(newRoot); err != nil {
			return err
		}
		m.rootPage = newRootPage
		if err := ix.reparent(leftPage, newRootPage); err != nil {
			return err
		}
		if err := ix.reparent(rightPage, newRootPage); err != nil {
			return err
		}
		return ix.writeMeta(*m)
	}

	parent := path[idx-1]
	i := 0
	for i < len(parent.intEntries) && cmpKey(parent.intEntries[i].key, sepKey) < 0 {
		i++
	}
	parent.intEntries = append(parent.intEntries, internalEntry{})
	copy(parent.intEntries[i+1:], parent.intEntries[i:])
	parent.intEntries[i] = internalEntry{key: sepKey, child: rightPage}

	if _, err := parent.encode(); err == nil {
		if err := ix.writeNode(parent); err != nil {
			return err
		}
		return ix.writeMeta(*m)
	}

	// Parent overflowed too: split it and recurse upward.
	mid := len(parent.intEntries) / 2
	promoted := parent.intEntries[mid].key
	rightChildren := append([]internalEntry(nil), parent.intEntries[mid+1:]...)
	rightFirstChild := parent.intEntries[mid].child
	parent.intEntries = parent.intEntries[:mid]

	rightPageIdx := ix.allocatePage(m)
	rightNode := &node{typ: internalNode, page: rightPageIdx, parent: parent.parent, firstChild: rightFirstChild, intEntries: rightChildren, keyType: ix.keyType}

	if err := ix.writeNode(parent); err != nil {
		return err
	}
	if err := ix.writeNode(rightNode); err != nil {
		return err
	}
	for _, c := range append([]uint32{rightFirstChild}, childrenOf(rightChildren)...) {
		if err := ix.reparent(c, rightPageIdx); err != nil {
			return err
		}
	}

	return ix.insertIntoParent(path, idx-1, parent.page, promoted, rightPageIdx, m)
}

func childrenOf(entries []internalEntry) []uint32 {
	out := make([]uint32, len(entries))
	for i, e := range entries {
		out[i] = e.child
	}
	return out
}

func (ix *Index) reparent(childPage, newParent uint32) error {
	child, err := ix.readNode(childPage)
	if err != nil {
		return err
	}
	child.parent = newParent
	return ix.writeNode(child)
}

// Remove deletes one key→rid association. Overflow-free; it never merges
// underfull nodes back together (not required by spec.md §4.3, which
// constrains only the split path).
func (ix *Index) Remove(key value.Value, rid heap.RID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	path, err := ix.findLeaf(key)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	for i, e := range leaf.leafEntries {
		if cmpKey(e.key, key) == 0 && e.rid == rid {
			leaf.leafEntries = append(leaf.leafEntries[:i], leaf.leafEntries[i+1:]...)
			return ix.writeNode(leaf)
		}
	}
	return errors.New("btree: key/rid not found")
}

// KeyIterator walks every (key, rid) pair across the leaf chain in key
// order, per spec.md §4.3's "scan" operation.
type KeyIterator struct {
	ix   *Index
	leaf *node
	idx  int
	err  error
}

func (ix *Index) Scan() (*KeyIterator, error) {
	m, err := ix.readMeta()
	if err != nil {
		return nil, err
	}
	leaf, err := ix.leftmostLeaf(m)
	if err != nil {
		return nil, err
	}
	return &KeyIterator{ix: ix, leaf: leaf}, nil
}

func (it *KeyIterator) Next() bool {
	for it.leaf != nil {
		if it.idx < len(it.leaf.leafEntries) {
			it.idx++
			return true
		}
		if it.leaf.nextLeaf == noPage {
			it.leaf = nil
			return false
		}
		next, err := it.ix.readNode(it.leaf.nextLeaf)
		if err != nil {
			it.err = err
			it.leaf = nil
			return false
		}
		it.leaf = next
		it.idx = 0
	}
	return false
}

func (it *KeyIterator) Entry() (value.Value, heap.RID) {
	e := it.leaf.leafEntries[it.idx-1]
	return e.key, e.rid
}

func (it *KeyIterator) Err() error { return it.err }
