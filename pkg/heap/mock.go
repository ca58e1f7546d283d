package heap

import (
	"context"
	"sync"

	"brin/pkg/common"
)

type mockRow struct {
	values []common.Datum
	nulls  []bool
}

// MockHeap is an in-memory heap keyed by block number. Rows keep insertion
// order within a block. Safe for concurrent use; summarization tests insert
// while a scan is running.
type MockHeap struct {
	mu     sync.RWMutex
	blocks [][]mockRow
}

func NewMockHeap() *MockHeap {
	return &MockHeap{}
}

// Append places one row on the given block, growing the heap as needed and
// returning the row's TID.
func (h *MockHeap) Append(blk common.BlockNumber, values []common.Datum, nulls []bool) common.ItemPointer {
	h.mu.Lock()
	defer h.mu.Unlock()
	for int(blk) >= len(h.blocks) {
		h.blocks = append(h.blocks, nil)
	}
	vcopy := make([]common.Datum, len(values))
	copy(vcopy, values)
	ncopy := make([]bool, len(nulls))
	copy(ncopy, nulls)
	h.blocks[blk] = append(h.blocks[blk], mockRow{values: vcopy, nulls: ncopy})
	return common.NewItemPointer(blk, common.OffsetNumber(len(h.blocks[blk])))
}

// Grow extends the heap to at least nblocks blocks, all of them rowless.
func (h *MockHeap) Grow(nblocks common.BlockNumber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for common.BlockNumber(len(h.blocks)) < nblocks {
		h.blocks = append(h.blocks, nil)
	}
}

func (h *MockHeap) NumberOfBlocks() common.BlockNumber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return common.BlockNumber(len(h.blocks))
}

func (h *MockHeap) IndexBuildScan(ctx context.Context, cb BuildCallback) (int64, error) {
	return h.IndexBuildRangeScan(ctx, 0, h.NumberOfBlocks(), cb)
}

func (h *MockHeap) IndexBuildRangeScan(ctx context.Context, from, count common.BlockNumber, cb BuildCallback) (int64, error) {
	var delivered int64
	end := from + count
	if n := h.NumberOfBlocks(); end > n {
		end = n
	}
	for blk := from; blk < end; blk++ {
		if err := common.CheckInterrupt(ctx); err != nil {
			return delivered, err
		}
		h.mu.RLock()
		rows := h.blocks[blk]
		h.mu.RUnlock()
		for _, row := range rows {
			if err := cb(blk, row.values, row.nulls); err != nil {
				return delivered, err
			}
			delivered++
		}
	}
	return delivered, nil
}
