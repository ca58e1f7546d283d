package brin

import (
	"context"

	"brin/pkg/common"
	"brin/pkg/heap"
)

// Insert folds one heap tuple's values into the summary of its page range.
// A range with no summary is left alone; only summarization creates one.
func (idx *Index) Insert(ctx context.Context, heapRel heap.Relation,
	heapTid common.ItemPointer, values []common.Datum, nulls []bool) error {
	if idx.inRecovery() {
		return ErrRecoveryInProgress
	}
	rm, err := idx.initRevmap()
	if err != nil {
		return err
	}
	defer rm.release()

	heapBlk := heapTid.Block
	rangeStart := rm.rangeStart(heapBlk)

	// Crossing into a fresh range means the previous one just filled up and
	// is a candidate for background summarization.
	if idx.opts.Autosummarize && heapBlk > 0 && heapBlk == rangeStart && heapRel != nil {
		prev := rangeStart - rm.pagesPerRange
		tup, _, err := rm.getTupleForHeapBlock(ctx, prev)
		if err != nil {
			return err
		}
		if tup == nil {
			idx.requestAutosummarize(prev, heapRel)
		}
	}

	var failedSamepage common.ItemPointer
	for {
		if err := common.CheckInterrupt(ctx); err != nil {
			return err
		}
		tup, tid, err := rm.getTupleForHeapBlock(ctx, heapBlk)
		if err != nil {
			return err
		}
		if tup == nil {
			return nil
		}
		mt, err := idx.desc.DeformTuple(tup)
		if err != nil {
			return err
		}
		if !mt.Add(idx.desc, values, nulls) {
			// The summary already covers these values.
			return nil
		}
		newTup, err := idx.desc.FormTuple(mt)
		if err != nil {
			return err
		}
		// A page under evacuation refuses in-place rewrites even when the
		// size allows one; after one failed in-place try at the same spot,
		// move the tuple instead.
		samepage := len(newTup) == len(tup) && tid != failedSamepage
		ok, err := idx.doUpdate(ctx, rm, rangeStart, tid, tup, newTup, samepage)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if samepage {
			failedSamepage = tid
		}
		// The tuple moved or changed concurrently. Reread and go again.
	}
}

// InsertCleanup drops per-statement insert state. The descriptor cache entry
// stays; it belongs to the open index.
func (idx *Index) InsertCleanup() {}
