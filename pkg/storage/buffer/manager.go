package buffer

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"brin/pkg/common"
	"brin/pkg/storage/page"

	"github.com/sirupsen/logrus"
)

// Manager is the buffer manager for a single relation file. Every page read
// through it is cached until Close; a BRIN index is orders of magnitude
// smaller than the heap it summarizes, so no eviction is attempted.
type Manager struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	nblocks common.BlockNumber
	buffers map[common.BlockNumber]*Buffer

	// extendMu is the relation extension lock
	extendMu sync.Mutex
}

func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size()%page.Size != 0 {
		f.Close()
		return nil, fmt.Errorf("buffer: %s: size %d not page aligned", path, st.Size())
	}
	return &Manager{
		file:    f,
		path:    path,
		nblocks: common.BlockNumber(st.Size() / page.Size),
		buffers: make(map[common.BlockNumber]*Buffer),
	}, nil
}

func (m *Manager) BlockCount() common.BlockNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nblocks
}

// Pin returns the buffer for blk, reading it from disk on first access. The
// buffer is returned pinned and unlocked.
func (m *Manager) Pin(blk common.BlockNumber) (*Buffer, error) {
	m.mu.Lock()
	if blk >= m.nblocks {
		m.mu.Unlock()
		return nil, fmt.Errorf("buffer: block %d beyond relation end %d", blk, m.nblocks)
	}
	if buf, ok := m.buffers[blk]; ok {
		buf.pin()
		m.mu.Unlock()
		return buf, nil
	}
	buf := &Buffer{mgr: m, blk: blk, page: page.New()}
	if _, err := m.file.ReadAt(buf.page, int64(blk)*page.Size); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("buffer: read block %d: %w", blk, err)
	}
	m.buffers[blk] = buf
	buf.pin()
	m.mu.Unlock()
	return buf, nil
}

// Extend appends a zeroed page to the relation and returns its buffer,
// pinned and unlocked. Caller formats the page.
func (m *Manager) Extend() (*Buffer, error) {
	m.extendMu.Lock()
	defer m.extendMu.Unlock()

	m.mu.Lock()
	blk := m.nblocks
	buf := &Buffer{mgr: m, blk: blk, page: page.New()}
	m.buffers[blk] = buf
	m.nblocks++
	buf.pin()
	m.mu.Unlock()

	if _, err := m.file.WriteAt(buf.page, int64(blk)*page.Size); err != nil {
		return nil, fmt.Errorf("buffer: extend to block %d: %w", blk, err)
	}
	return buf, nil
}

func (m *Manager) Unpin(buf *Buffer) { buf.unpin() }

// Flush writes every dirty buffer back and syncs the file.
func (m *Manager) Flush() error {
	m.mu.Lock()
	dirty := make([]*Buffer, 0)
	for _, buf := range m.buffers {
		if buf.IsDirty() {
			dirty = append(dirty, buf)
		}
	}
	m.mu.Unlock()

	for _, buf := range dirty {
		buf.RLock()
		_, err := m.file.WriteAt(buf.page, int64(buf.blk)*page.Size)
		if err == nil {
			atomic.StoreInt32(&buf.dirty, 0)
		}
		buf.RUnlock()
		if err != nil {
			return fmt.Errorf("buffer: flush block %d: %w", buf.blk, err)
		}
	}
	return m.file.Sync()
}

func (m *Manager) Close() error {
	if err := m.Flush(); err != nil {
		logrus.Warnf("buffer: flush on close of %s: %v", m.path, err)
	}
	return m.file.Close()
}
