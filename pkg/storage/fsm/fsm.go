// Free-space accounting per relation block, kept as one category byte per
// block. Categories quantize free bytes into 32-byte steps: a recorded value
// rounds down, a request rounds up, so a hit always has enough room.
//
// The map is reconstructed by vacuum from the relation itself, so it is kept
// in memory only; entries lost in a crash reappear after the next cleanup
// pass, same as the on-disk original this models.
package fsm

import (
	"sync"

	"brin/pkg/common"
)

const catStep = 32

type Map struct {
	mu   sync.RWMutex
	cats []uint8
}

func New() *Map {
	return &Map{}
}

func catFloor(free int) uint8 {
	c := free / catStep
	if c > 255 {
		c = 255
	}
	return uint8(c)
}

func catCeil(needed int) uint8 {
	c := (needed + catStep - 1) / catStep
	if c > 255 {
		c = 255
	}
	return uint8(c)
}

// RecordFreeSpace notes that blk has the given number of free bytes.
func (m *Map) RecordFreeSpace(blk common.BlockNumber, free int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for int(blk) >= len(m.cats) {
		m.cats = append(m.cats, 0)
	}
	m.cats[blk] = catFloor(free)
}

// SearchWithFreeSpace returns some block with at least needed free bytes, or
// InvalidBlockNumber if none is known.
func (m *Map) SearchWithFreeSpace(needed int) common.BlockNumber {
	want := catCeil(needed)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for blk, cat := range m.cats {
		if cat >= want {
			return common.BlockNumber(blk)
		}
	}
	return common.InvalidBlockNumber
}

// RecordAndSearch updates the entry for oldBlk and then searches, skipping
// oldBlk. Mirrors the record-and-get step of insert buffer acquisition.
func (m *Map) RecordAndSearch(oldBlk common.BlockNumber, oldFree, needed int) common.BlockNumber {
	m.RecordFreeSpace(oldBlk, oldFree)
	want := catCeil(needed)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for blk, cat := range m.cats {
		if common.BlockNumber(blk) != oldBlk && cat >= want {
			return common.BlockNumber(blk)
		}
	}
	return common.InvalidBlockNumber
}

// Truncate discards entries at and beyond nblocks.
func (m *Map) Truncate(nblocks common.BlockNumber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(nblocks) < len(m.cats) {
		m.cats = m.cats[:nblocks]
	}
}

// Vacuum re-derives any internal summary state. The flat representation has
// none; the method exists to satisfy the collaborator contract so callers can
// keep the original call sites.
func (m *Map) Vacuum() {}

// VacuumRange is the ranged variant of Vacuum.
func (m *Map) VacuumRange(start, end common.BlockNumber) {}
