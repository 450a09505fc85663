package btree

import (
	"github.com/pkg/errors"

	"github.com/cloudsql/storagecore/internal/pageserver"
	"github.com/cloudsql/storagecore/internal/util"
	"github.com/cloudsql/storagecore/internal/value"
)

// Page 0 of every index file is reserved for tree metadata: the current
// root page index, the next free page to allocate, and the indexed key
// type. This keeps the root movable (it changes identity when it splits)
// without requiring the first data page to always be the root.
const metaPage = 0

type meta struct {
	rootPage uint32
	nextFree uint32
	keyType  value.Type
	unique   bool
}

func encodeMeta(m meta) []byte {
	buf := make([]byte, pageserver.PageSize)
	util.PutUint32(buf[0:4], m.rootPage)
	util.PutUint32(buf[4:8], m.nextFree)
	buf[8] = byte(m.keyType)
	if m.unique {
		buf[9] = 1
	}
	return buf
}

func decodeMeta(buf []byte) meta {
	_, root := util.ReadUint32(buf, 0)
	_, next := util.ReadUint32(buf, 4)
	return meta{rootPage: root, nextFree: next, keyType: value.Type(buf[8]), unique: buf[9] == 1}
}

var errKeyExists = errors.New("btree: key already exists with a different rid")
