package brin

import (
	"context"
	"fmt"

	"brin/pkg/common"
	"brin/pkg/heap"
)

// summarizeRangeStart builds the summary for the range starting at
// rangeStart. It returns false when the range is already summarized or lies
// past the end of the heap.
//
// The range stays usable by concurrent scans and inserts throughout: a
// placeholder tuple goes in first, concurrent inserts union into it while
// the heap scan runs, and the final update folds their contributions in
// before clearing the placeholder flag.
func (idx *Index) summarizeRangeStart(ctx context.Context, heapRel heap.Relation,
	rangeStart common.BlockNumber) (bool, error) {
	idx.summarizeMu.Lock()
	defer idx.summarizeMu.Unlock()

	rm, err := idx.initRevmap()
	if err != nil {
		return false, err
	}
	defer rm.release()

	if rangeStart != rm.rangeStart(rangeStart) {
		return false, fmt.Errorf("brin: block %d does not start a range", rangeStart)
	}
	heapBlocks := heapRel.NumberOfBlocks()
	if rangeStart >= heapBlocks {
		return false, nil
	}
	if tup, _, err := rm.getTupleForHeapBlock(ctx, rangeStart); err != nil || tup != nil {
		return false, err
	}

	if err = rm.extend(ctx, rangeStart); err != nil {
		return false, err
	}
	phTup, err := idx.desc.FormPlaceholderTuple(rangeStart)
	if err != nil {
		return false, err
	}
	if _, err = idx.doInsert(ctx, rm, rangeStart, phTup); err != nil {
		return false, err
	}

	// Reread the heap size now that the placeholder is visible. A row whose
	// index insert ran before the placeholder went in was appended before
	// this point, so its block is covered by the scan; anything later finds
	// the placeholder and unions into it.
	heapBlocks = heapRel.NumberOfBlocks()
	scanBlocks := rm.pagesPerRange
	if rangeStart+scanBlocks > heapBlocks {
		scanBlocks = heapBlocks - rangeStart
	}
	acc := NewMemTuple(idx.desc)
	_, err = heapRel.IndexBuildRangeScan(ctx, rangeStart, scanBlocks,
		func(blk common.BlockNumber, values []common.Datum, nulls []bool) error {
			acc.Add(idx.desc, values, nulls)
			return common.CheckInterrupt(ctx)
		})
	if err != nil {
		return false, err
	}

	for {
		if err = common.CheckInterrupt(ctx); err != nil {
			return false, err
		}
		curTup, curTid, err := rm.getTupleForHeapBlock(ctx, rangeStart)
		if err != nil {
			return false, err
		}
		if curTup == nil || !TupleIsPlaceholder(curTup) {
			return false, fmt.Errorf("%w: range at block %d on %s", ErrMissingPlaceholder, rangeStart, idx.name)
		}
		merged, err := idx.desc.DeformTuple(curTup)
		if err != nil {
			return false, err
		}
		idx.desc.Union(merged, acc)
		merged.Placeholder = false
		finalTup, err := idx.desc.FormTuple(merged)
		if err != nil {
			return false, err
		}
		ok, err := idx.doUpdate(ctx, rm, rangeStart, curTid, curTup, finalTup, false)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		// A concurrent insert widened the placeholder under us; reread and
		// fold its additions in too.
	}
}

// summarizeAll summarizes every unsummarized range of the heap. The last,
// partial range is included only on request; vacuum skips it since it is
// still growing.
func (idx *Index) summarizeAll(ctx context.Context, heapRel heap.Relation, includePartial bool) (int64, error) {
	rm, err := idx.initRevmap()
	if err != nil {
		return 0, err
	}
	pagesPerRange := rm.pagesPerRange
	rm.release()

	heapBlocks := heapRel.NumberOfBlocks()
	var done int64
	for start := common.BlockNumber(0); start < heapBlocks; start += pagesPerRange {
		if !includePartial && start+pagesPerRange > heapBlocks {
			break
		}
		ok, err := idx.summarizeRangeStart(ctx, heapRel, start)
		if err != nil {
			return done, err
		}
		if ok {
			done++
		}
	}
	return done, nil
}
