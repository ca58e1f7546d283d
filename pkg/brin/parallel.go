package brin

import (
	"context"
	"sync"
	"sync/atomic"

	"brin/pkg/common"
	"brin/pkg/heap"
	"brin/pkg/tuplesort"

	"github.com/panjf2000/ants/v2"
)

// BuildParallel builds the index with several heap-scanning workers. Blocks
// are handed out over a shared scan cursor, each worker accumulates per-range
// summaries and spills them into a shared sort, and the caller's goroutine
// merges the sorted run into the index, unioning partials of the same range
// and backfilling the ranges no worker emitted.
func (idx *Index) BuildParallel(ctx context.Context, heapRel heap.Relation, workers int) (int64, error) {
	if workers <= 1 {
		return idx.Build(ctx, heapRel)
	}
	if err := idx.BuildEmpty(ctx); err != nil {
		return 0, err
	}

	heapBlocks := heapRel.NumberOfBlocks()
	ppr := common.BlockNumber(idx.opts.PagesPerRange)

	sorter := tuplesort.New()
	defer sorter.Close()
	var (
		scanned  int64
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	// Workers pull single blocks off a shared cursor, so a range's rows can
	// be split between workers. Each worker spills a partial summary when
	// its scan crosses a range boundary; the merge below unions partials of
	// the same range.
	ps := heap.BeginParallelScan(heapRel, 0)
	worker := func() {
		defer wg.Done()
		acc := NewMemTuple(idx.desc)
		accRng := common.InvalidBlockNumber
		spill := func() bool {
			if accRng == common.InvalidBlockNumber || acc.Empty {
				return true
			}
			acc.HeapBlock = accRng
			tup, err := idx.desc.FormTuple(acc)
			if err != nil {
				fail(err)
				return false
			}
			sorter.Put(accRng, tup)
			return true
		}
		for {
			if err := common.CheckInterrupt(cctx); err != nil {
				fail(err)
				return
			}
			blk, ok := ps.NextBlock()
			if !ok {
				spill()
				return
			}
			if rng := blk / ppr * ppr; rng != accRng {
				if !spill() {
					return
				}
				acc.Reset(idx.desc)
				accRng = rng
			}
			cnt, err := heap.ScanBlock(cctx, heapRel, blk,
				func(_ common.BlockNumber, values []common.Datum, nulls []bool) error {
					acc.Add(idx.desc, values, nulls)
					return nil
				})
			if err != nil {
				fail(err)
				return
			}
			atomic.AddInt64(&scanned, cnt)
		}
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return 0, err
	}
	defer pool.Release()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		if err = pool.Submit(worker); err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return atomic.LoadInt64(&scanned), firstErr
	}

	rm, err := idx.initRevmap()
	if err != nil {
		return scanned, err
	}
	defer rm.release()
	st, err := idx.newBuildState(rm, heapBlocks)
	if err != nil {
		return scanned, err
	}

	sorter.Perform()
	expect := common.BlockNumber(0)
	flush := func(rangeStart common.BlockNumber, mt *MemTuple) error {
		if err := st.fillEmptyRanges(ctx, expect, rangeStart); err != nil {
			return err
		}
		mt.HeapBlock = rangeStart
		tup, err := idx.desc.FormTuple(mt)
		if err != nil {
			return err
		}
		if err = rm.extend(ctx, rangeStart); err != nil {
			return err
		}
		if _, err = idx.doInsert(ctx, rm, rangeStart, tup); err != nil {
			return err
		}
		expect = rangeStart + ppr
		return nil
	}

	var (
		pending    *MemTuple
		pendingRng common.BlockNumber
	)
	for {
		rng, tup, ok, err := sorter.Get()
		if err != nil {
			return scanned, err
		}
		if !ok {
			break
		}
		mt, err := idx.desc.DeformTuple(tup)
		if err != nil {
			return scanned, err
		}
		if pending != nil && rng == pendingRng {
			idx.desc.Union(pending, mt)
			continue
		}
		if pending != nil {
			if err = flush(pendingRng, pending); err != nil {
				return scanned, err
			}
		}
		pending, pendingRng = mt, rng
	}
	if pending != nil {
		if err = flush(pendingRng, pending); err != nil {
			return scanned, err
		}
	}
	if err = st.fillEmptyRanges(ctx, expect, st.maxRangeStart); err != nil {
		return scanned, err
	}
	return scanned, nil
}
