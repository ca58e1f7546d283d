package heap

import (
	"context"
	"sync/atomic"

	"brin/pkg/common"
)

// ParallelScan hands out heap blocks to a group of workers, one block per
// request. The cursor is synchronized: it may start at any block of the heap
// and wraps around to cover the rest, so a single worker can observe block
// numbers that jump forward and then backwards past the start point. Build
// callbacks must tolerate both directions.
type ParallelScan struct {
	rel     Relation
	nblocks common.BlockNumber
	start   common.BlockNumber
	cursor  int64
}

func BeginParallelScan(rel Relation, start common.BlockNumber) *ParallelScan {
	nblocks := rel.NumberOfBlocks()
	if nblocks > 0 {
		start = start % nblocks
	} else {
		start = 0
	}
	return &ParallelScan{rel: rel, nblocks: nblocks, start: start}
}

// NextBlock returns the next block to scan, or ok=false when the heap is
// exhausted.
func (ps *ParallelScan) NextBlock() (common.BlockNumber, bool) {
	for {
		cur := atomic.LoadInt64(&ps.cursor)
		if cur >= int64(ps.nblocks) {
			return common.InvalidBlockNumber, false
		}
		if atomic.CompareAndSwapInt64(&ps.cursor, cur, cur+1) {
			return (ps.start + common.BlockNumber(cur)) % ps.nblocks, true
		}
	}
}

// ScanBlock delivers the tuples of a single block to cb. Implemented for any
// Relation that supports range scans.
func ScanBlock(ctx context.Context, rel Relation, blk common.BlockNumber, cb BuildCallback) (int64, error) {
	return rel.IndexBuildRangeScan(ctx, blk, 1, cb)
}
