package brin

import (
	"context"

	"brin/pkg/common"
	"brin/pkg/heap"

	"github.com/sirupsen/logrus"
)

// buildState carries the accumulator of the range currently being scanned
// plus a reusable tuple for ranges the scan never visited.
type buildState struct {
	idx            *Index
	rm             *revmap
	pagesPerRange  common.BlockNumber
	currRangeStart common.BlockNumber
	maxRangeStart  common.BlockNumber
	acc            *MemTuple
	emptyTup       []byte
}

func (idx *Index) newBuildState(rm *revmap, heapBlocks common.BlockNumber) (*buildState, error) {
	emptyTup, err := idx.desc.FormPlaceholderTuple(0)
	if err != nil {
		return nil, err
	}
	ppr := rm.pagesPerRange
	return &buildState{
		idx:           idx,
		rm:            rm,
		pagesPerRange: ppr,
		// Round the heap size up so the trailing partial range gets a
		// summary too.
		maxRangeStart: (heapBlocks + ppr - 1) / ppr * ppr,
		acc:           NewMemTuple(idx.desc),
		emptyTup:      emptyTup,
	}, nil
}

// insertEmptyRange writes the reusable never-scanned tuple for a range. Its
// placeholder flag makes every scan include the range, so rows that land
// there later are never missed.
func (st *buildState) insertEmptyRange(ctx context.Context, rangeStart common.BlockNumber) error {
	if err := st.rm.extend(ctx, rangeStart); err != nil {
		return err
	}
	SetTupleHeapBlock(st.emptyTup, rangeStart)
	_, err := st.idx.doInsert(ctx, st.rm, rangeStart, st.emptyTup)
	return err
}

// fillEmptyRanges inserts summaries for the ranges in [from, to) that the
// heap scan skipped entirely.
func (st *buildState) fillEmptyRanges(ctx context.Context, from, to common.BlockNumber) error {
	for blk := from; blk < to; blk += st.pagesPerRange {
		if err := st.insertEmptyRange(ctx, blk); err != nil {
			return err
		}
	}
	return nil
}

// formAndInsert flushes the accumulator as the summary of the current range.
func (st *buildState) formAndInsert(ctx context.Context) error {
	if st.acc.Empty {
		return st.insertEmptyRange(ctx, st.currRangeStart)
	}
	st.acc.HeapBlock = st.currRangeStart
	tup, err := st.idx.desc.FormTuple(st.acc)
	if err != nil {
		return err
	}
	if err = st.rm.extend(ctx, st.currRangeStart); err != nil {
		return err
	}
	_, err = st.idx.doInsert(ctx, st.rm, st.currRangeStart, tup)
	return err
}

// callback folds one heap row into the build, flushing and backfilling when
// the scan crosses into a new range.
func (st *buildState) callback(ctx context.Context) heap.BuildCallback {
	return func(blk common.BlockNumber, values []common.Datum, nulls []bool) error {
		if blk >= st.currRangeStart+st.pagesPerRange {
			if err := st.formAndInsert(ctx); err != nil {
				return err
			}
			next := blk / st.pagesPerRange * st.pagesPerRange
			if err := st.fillEmptyRanges(ctx, st.currRangeStart+st.pagesPerRange, next); err != nil {
				return err
			}
			st.currRangeStart = next
			st.acc.Reset(st.idx.desc)
		}
		st.acc.Add(st.idx.desc, values, nulls)
		return common.CheckInterrupt(ctx)
	}
}

// Build scans the whole heap and writes a summary for every page range.
// The index file must be empty. It returns the number of heap rows scanned.
func (idx *Index) Build(ctx context.Context, heapRel heap.Relation) (int64, error) {
	if err := idx.BuildEmpty(ctx); err != nil {
		return 0, err
	}
	rm, err := idx.initRevmap()
	if err != nil {
		return 0, err
	}
	defer rm.release()

	st, err := idx.newBuildState(rm, heapRel.NumberOfBlocks())
	if err != nil {
		return 0, err
	}
	reltuples, err := heapRel.IndexBuildScan(ctx, st.callback(ctx))
	if err != nil {
		return reltuples, err
	}
	if st.maxRangeStart > 0 {
		if err = st.formAndInsert(ctx); err != nil {
			return reltuples, err
		}
		if err = st.fillEmptyRanges(ctx, st.currRangeStart+st.pagesPerRange, st.maxRangeStart); err != nil {
			return reltuples, err
		}
	}
	logrus.Debugf("brin: built %s: %d heap rows, %d ranges of %d pages",
		idx.name, reltuples, st.maxRangeStart/st.pagesPerRange, st.pagesPerRange)
	return reltuples, nil
}
