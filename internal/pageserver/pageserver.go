// Package pageserver implements the page-addressed file I/O layer
// described in spec.md §4.1: it owns a filename→open-file mapping under a
// single data directory and reads/writes fixed-size pages by (filename,
// page index).
package pageserver

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	log "github.com/AlexStocks/log4go"
	"github.com/pkg/errors"
)

// PageSize is the fixed page size for heap and index files, per spec.md §6.
const PageSize = 4096

type openFile struct {
	f *os.File
	// mu serializes individual ReadPage and WritePage calls on this file.
	// It is released between a read and the following write, so a
	// read-modify-write of a page is made atomic by the caller's own lock
	// (heap.Table and btree.Index each hold a mutex across a page update).
	mu sync.Mutex
}

// Server owns the open-file table for a single data directory.
type Server struct {
	dataDir string

	mu    sync.Mutex
	files map[string]*openFile

	pagesRead    uint64
	pagesWritten uint64
	bytesRead    uint64
	bytesWritten uint64
	filesOpened  uint64
}

// Open creates dataDir (mode 0755) if absent and returns a Server rooted
// there, matching StorageManager::open(data_dir) in spec.md §6.
func Open(dataDir string) (*Server, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "pageserver: mkdir %s", dataDir)
	}
	return &Server{
		dataDir: dataDir,
		files:   make(map[string]*openFile),
	}, nil
}

func (s *Server) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// Exists reports whether name exists under the data directory.
func (s *Server) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// OpenFile opens name, creating a zero-length file if it does not exist.
// Re-opening an already-open file is a no-op success, per spec.md §4.1.
func (s *Server) OpenFile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; ok {
		return nil
	}
	f, err := os.OpenFile(s.path(name), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "pageserver: open %s", name)
	}
	s.files[name] = &openFile{f: f}
	atomic.AddUint64(&s.filesOpened, 1)
	log.Debug("pageserver: opened %s", name)
	return nil
}

// Close closes name. The file is removed from the open-files map only on
// success, per spec.md §4.1's retry contract.
func (s *Server) Close(name string) error {
	s.mu.Lock()
	of, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := of.f.Close(); err != nil {
		return errors.Wrapf(err, "pageserver: close %s", name)
	}
	s.mu.Lock()
	delete(s.files, name)
	s.mu.Unlock()
	return nil
}

func (s *Server) lookup(name string) (*openFile, error) {
	s.mu.Lock()
	of, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		if err := s.OpenFile(name); err != nil {
			return nil, err
		}
		s.mu.Lock()
		of = s.files[name]
		s.mu.Unlock()
	}
	return of, nil
}

// ReadPage reads PageSize bytes at page index into buf, which must be at
// least PageSize long. A short read (EOF or truncated tail) zero-fills the
// remainder and still returns success: this is the page-does-not-yet-exist
// contract callers rely on to mean "treat as uninitialized".
func (s *Server) ReadPage(name string, index uint32, buf []byte) error {
	if len(buf) < PageSize {
		return errors.Errorf("pageserver: buffer too small for page (%d < %d)", len(buf), PageSize)
	}
	of, err := s.lookup(name)
	if err != nil {
		return err
	}
	of.mu.Lock()
	defer of.mu.Unlock()

	offset := int64(index) * PageSize
	n, err := of.f.ReadAt(buf[:PageSize], offset)
	if err != nil && n == 0 {
		for i := 0; i < PageSize; i++ {
			buf[i] = 0
		}
		return nil
	}
	for i := n; i < PageSize; i++ {
		buf[i] = 0
	}
	atomic.AddUint64(&s.pagesRead, 1)
	atomic.AddUint64(&s.bytesRead, uint64(n))
	return nil
}

// WritePage writes exactly PageSize bytes of buf to page index and flushes
// the OS-level buffer. It does not fsync; durability is the log manager's
// job per spec.md §4.1.
func (s *Server) WritePage(name string, index uint32, buf []byte) error {
	if len(buf) < PageSize {
		return errors.Errorf("pageserver: buffer too small for page (%d < %d)", len(buf), PageSize)
	}
	of, err := s.lookup(name)
	if err != nil {
		return err
	}
	of.mu.Lock()
	defer of.mu.Unlock()

	offset := int64(index) * PageSize
	n, err := of.f.WriteAt(buf[:PageSize], offset)
	if err != nil {
		return errors.Wrapf(err, "pageserver: write %s page %d", name, index)
	}
	atomic.AddUint64(&s.pagesWritten, 1)
	atomic.AddUint64(&s.bytesWritten, uint64(n))
	return nil
}

// Stats is a point-in-time snapshot of the server's monotonic counters.
type Stats struct {
	PagesRead    uint64
	PagesWritten uint64
	BytesRead    uint64
	BytesWritten uint64
	FilesOpened  uint64
}

func (s *Server) Stats() Stats {
	return Stats{
		PagesRead:    atomic.LoadUint64(&s.pagesRead),
		PagesWritten: atomic.LoadUint64(&s.pagesWritten),
		BytesRead:    atomic.LoadUint64(&s.bytesRead),
		BytesWritten: atomic.LoadUint64(&s.bytesWritten),
		FilesOpened:  atomic.LoadUint64(&s.filesOpened),
	}
}
