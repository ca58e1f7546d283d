// Range-keyed tuple sort shared by parallel build workers. Writers Put
// serialized index tuples tagged with their range start block; after Perform,
// Get drains them ordered by range, FIFO within a range.
package tuplesort

import (
	"errors"
	"sync"

	"brin/pkg/common"

	"github.com/google/btree"
)

var ErrNotPerformed = errors.New("tuplesort: sort not performed yet")

type item struct {
	rng common.BlockNumber
	seq uint64
	tup []byte
}

func (it *item) Less(than btree.Item) bool {
	o := than.(*item)
	if it.rng != o.rng {
		return it.rng < o.rng
	}
	return it.seq < o.seq
}

type Sorter struct {
	mu        sync.Mutex
	tree      *btree.BTree
	seq       uint64
	sorted    []*item
	pos       int
	performed bool
}

func New() *Sorter {
	return &Sorter{tree: btree.New(8)}
}

// Put adds one tuple keyed by its range start block. Safe for concurrent use.
func (s *Sorter) Put(rng common.BlockNumber, tup []byte) {
	buf := make([]byte, len(tup))
	copy(buf, tup)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(&item{rng: rng, seq: s.seq, tup: buf})
	s.seq++
}

// Perform finalizes the sort. No Put may run concurrently with or after it.
func (s *Sorter) Perform() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sorted = make([]*item, 0, s.tree.Len())
	s.tree.Ascend(func(i btree.Item) bool {
		s.sorted = append(s.sorted, i.(*item))
		return true
	})
	s.tree.Clear(false)
	s.performed = true
}

// Get returns the next tuple in range order, or ok=false when drained.
func (s *Sorter) Get() (rng common.BlockNumber, tup []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.performed {
		return 0, nil, false, ErrNotPerformed
	}
	if s.pos >= len(s.sorted) {
		return 0, nil, false, nil
	}
	it := s.sorted[s.pos]
	s.pos++
	return it.rng, it.tup, true, nil
}

func (s *Sorter) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.performed {
		return len(s.sorted)
	}
	return s.tree.Len()
}

func (s *Sorter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Clear(false)
	s.sorted = nil
}
