package brin

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brin/pkg/common"
	"brin/pkg/heap"
	"brin/pkg/storage/page"
	"brin/pkg/wal"

	"github.com/RoaringBitmap/roaring"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
)

func newTestIndex(t *testing.T, name string, ppr int, w wal.Driver) *Index {
	idx, err := Create(t.TempDir(), Config{
		Name:      name,
		Owner:     "tester",
		Attrs:     []Attribute{{Name: "v", Len: 8}},
		Opclasses: []Opclass{MockOpclass{}},
		Options:   Options{PagesPerRange: ppr},
		Wal:       w,
	})
	assert.Nil(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

// fillBlock appends n rows with the given values to one heap block.
func fillBlock(h *heap.MockHeap, blk common.BlockNumber, values ...int64) {
	for _, v := range values {
		h.Append(blk, []common.Datum{MockDatum(v)}, []bool{false})
	}
}

func eqKey(v int64) ScanKey {
	return ScanKey{AttNum: 0, Strategy: Equal, Value: MockDatum(v)}
}

func scanPages(t *testing.T, idx *Index, h heap.Relation, keys ...ScanKey) []uint32 {
	s, err := idx.BeginScan()
	assert.Nil(t, err)
	defer s.EndScan()
	s.Rescan(keys)
	tbm := roaring.New()
	_, err = s.GetBitmap(context.Background(), h, tbm)
	assert.Nil(t, err)
	return tbm.ToArray()
}

func lookupRange(t *testing.T, idx *Index, heapBlk common.BlockNumber) *MemTuple {
	rm, err := idx.initRevmap()
	assert.Nil(t, err)
	defer rm.release()
	tup, _, err := rm.getTupleForHeapBlock(context.Background(), heapBlk)
	assert.Nil(t, err)
	if tup == nil {
		return nil
	}
	mt, err := idx.desc.DeformTuple(tup)
	assert.Nil(t, err)
	return mt
}

func TestSummarizeRangeBasic(t *testing.T) {
	idx := newTestIndex(t, "summ_basic", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)
	assert.Nil(t, lookupRange(t, idx, 0))

	fillBlock(h, 0, 10, 20, 30)
	n, err := idx.SummarizeRange(ctx, AccessContext{User: "tester"}, h, 0)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), n)

	mt := lookupRange(t, idx, 0)
	assert.NotNil(t, mt)
	assert.False(t, mt.Placeholder)
	assert.False(t, mt.Columns[0].AllNulls)
	assert.False(t, mt.Columns[0].HasNulls)
	assert.Equal(t, int64(10), mockDecode(mt.Columns[0].Stored[0]))
	assert.Equal(t, int64(30), mockDecode(mt.Columns[0].Stored[1]))
}

func TestInsertWidensSummary(t *testing.T) {
	idx := newTestIndex(t, "ins_widen", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 10, 20, 30)
	fillBlock(h, 1, 15)
	fillBlock(h, 2, 25)
	fillBlock(h, 3, 12)
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	tid := h.Append(1, []common.Datum{MockDatum(5)}, []bool{false})
	assert.Nil(t, idx.Insert(ctx, h, tid, []common.Datum{MockDatum(5)}, []bool{false}))

	mt := lookupRange(t, idx, 0)
	assert.Equal(t, int64(5), mockDecode(mt.Columns[0].Stored[0]))
	assert.Equal(t, int64(30), mockDecode(mt.Columns[0].Stored[1]))

	assert.Equal(t, []uint32{0, 1, 2, 3}, scanPages(t, idx, h, ScanKey{Strategy: Less, Value: MockDatum(8)}))
	assert.Empty(t, scanPages(t, idx, h, ScanKey{Strategy: Greater, Value: MockDatum(100)}))
}

func TestInsertCoveredValueIsNoop(t *testing.T) {
	idx := newTestIndex(t, "ins_noop", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 10, 30)
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)
	before := lookupRange(t, idx, 0)

	tid := h.Append(0, []common.Datum{MockDatum(20)}, []bool{false})
	assert.Nil(t, idx.Insert(ctx, h, tid, []common.Datum{MockDatum(20)}, []bool{false}))
	after := lookupRange(t, idx, 0)
	assert.Equal(t, before, after)
}

func TestSummarizeNewValuesNothingToDo(t *testing.T) {
	idx := newTestIndex(t, "summ_none", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	// ten full ranges, every block populated
	for blk := common.BlockNumber(0); blk < 40; blk++ {
		fillBlock(h, blk, int64(blk)*100, int64(blk)*100+9)
	}
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	n, err := idx.SummarizeNewValues(ctx, AccessContext{User: "tester"}, h)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBuildNoDataBackfill(t *testing.T) {
	idx := newTestIndex(t, "build_nodata", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	// 17 blocks exist, none hold rows
	h.Grow(17)
	assert.Equal(t, common.BlockNumber(17), h.NumberOfBlocks())

	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	// five summaries, ranges 0..4
	for rng := common.BlockNumber(0); rng < 5; rng++ {
		mt := lookupRange(t, idx, rng*4)
		assert.NotNil(t, mt)
		assert.True(t, mt.Empty)
	}

	all := make([]uint32, 17)
	for i := range all {
		all[i] = uint32(i)
	}
	assert.Equal(t, all, scanPages(t, idx, h, ScanKey{Strategy: Equal, Value: MockDatum(42)}))
	assert.Equal(t, all, scanPages(t, idx, h, ScanKey{SearchNull: true}))
}

func TestScanUnsummarizedTail(t *testing.T) {
	idx := newTestIndex(t, "scan_tail", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	for blk := common.BlockNumber(0); blk < 4; blk++ {
		fillBlock(h, blk, int64(blk))
	}
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	// heap grows past the indexed ranges; those pages always match
	fillBlock(h, 4, 1000)
	assert.Equal(t, []uint32{4}, scanPages(t, idx, h, eqKey(999)))

	n, err := idx.SummarizeNewValues(ctx, AccessContext{User: "tester"}, h)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, scanPages(t, idx, h, eqKey(999)))
	assert.Equal(t, []uint32{4}, scanPages(t, idx, h, eqKey(1000)))
}

func TestScanNullKeys(t *testing.T) {
	idx := newTestIndex(t, "scan_nulls", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 1, 2)
	h.Append(4, []common.Datum{nil}, []bool{true}) // range 1: nulls only
	h.Append(8, []common.Datum{MockDatum(3)}, []bool{false})
	h.Append(8, []common.Datum{nil}, []bool{true}) // range 2: mixed
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	assert.Equal(t, []uint32{4, 5, 6, 7, 8}, scanPages(t, idx, h, ScanKey{SearchNull: true}))
	assert.Equal(t, []uint32{0, 1, 2, 3, 8}, scanPages(t, idx, h, ScanKey{SearchNotNull: true}))
	// a value predicate cannot match an all-nulls range
	assert.Equal(t, []uint32{8}, scanPages(t, idx, h, eqKey(3)))
}

func TestBatchConsistentABI(t *testing.T) {
	idx, err := Create(t.TempDir(), Config{
		Name:      "batch_abi",
		Attrs:     []Attribute{{Name: "v", Len: 8}},
		Opclasses: []Opclass{MockBatchOpclass{}},
		Options:   Options{PagesPerRange: 4},
	})
	assert.Nil(t, err)
	defer idx.Close()
	assert.True(t, idx.desc.batch[0])

	h := heap.NewMockHeap()
	ctx := context.Background()
	fillBlock(h, 0, 10, 20)
	fillBlock(h, 4, 30, 40)
	h.Grow(8)
	_, err = idx.Build(ctx, h)
	assert.Nil(t, err)

	assert.Equal(t, []uint32{0, 1, 2, 3}, scanPages(t, idx, h, eqKey(15)))
	assert.Equal(t, []uint32{4, 5, 6, 7}, scanPages(t, idx, h,
		ScanKey{Strategy: GreaterEqual, Value: MockDatum(30)},
		ScanKey{Strategy: LessEqual, Value: MockDatum(40)}))
	assert.Empty(t, scanPages(t, idx, h, eqKey(25)))
}

func TestSummarizeIdempotent(t *testing.T) {
	idx := newTestIndex(t, "summ_idem", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 7)
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	n, err := idx.SummarizeRange(ctx, AccessContext{User: "tester"}, h, 0)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), n)
}

func TestDesummarizeResummarize(t *testing.T) {
	idx := newTestIndex(t, "desumm", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 10, 20)
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)
	fresh := lookupRange(t, idx, 0)

	acc := AccessContext{User: "tester"}
	assert.Nil(t, idx.DesummarizeRange(ctx, acc, 2))
	assert.Nil(t, lookupRange(t, idx, 0))
	// unsummarized ranges match everything
	assert.Equal(t, []uint32{0}, scanPages(t, idx, h, eqKey(999)))

	// desummarizing again is a no-op
	assert.Nil(t, idx.DesummarizeRange(ctx, acc, 0))

	n, err := idx.SummarizeRange(ctx, acc, h, 0)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), n)
	rebuilt := lookupRange(t, idx, 0)
	assert.Equal(t, fresh.Columns, rebuilt.Columns)
}

func TestOwnership(t *testing.T) {
	idx := newTestIndex(t, "owner", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	_, err := idx.SummarizeNewValues(ctx, AccessContext{User: "stranger"}, h)
	assert.ErrorIs(t, err, ErrNotOwner)
	err = idx.DesummarizeRange(ctx, AccessContext{User: "stranger"}, 0)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = idx.Build(ctx, h)
	assert.Nil(t, err)
	_, err = idx.SummarizeNewValues(ctx, AccessContext{User: "stranger", Superuser: true}, h)
	assert.Nil(t, err)
}

func TestConcurrentSummarizeAndInserts(t *testing.T) {
	idx := newTestIndex(t, "conc_summ", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	for blk := common.BlockNumber(0); blk < 16; blk++ {
		fillBlock(h, blk, int64(blk))
	}
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	// heap grows into range 4 before the index hears about it
	fillBlock(h, 16, 500)

	pool, err := ants.NewPool(2)
	assert.Nil(t, err)
	defer pool.Release()
	var wg sync.WaitGroup
	var insertErr, summErr error

	wg.Add(1)
	assert.Nil(t, pool.Submit(func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			blk := common.BlockNumber(16 + i%4)
			v := int64(500 + i)
			tid := h.Append(blk, []common.Datum{MockDatum(v)}, []bool{false})
			if err := idx.Insert(ctx, h, tid, []common.Datum{MockDatum(v)}, []bool{false}); err != nil {
				insertErr = err
				return
			}
		}
	}))
	wg.Add(1)
	assert.Nil(t, pool.Submit(func() {
		defer wg.Done()
		_, summErr = idx.SummarizeRange(ctx, AccessContext{User: "tester"}, h, 16)
	}))
	wg.Wait()
	assert.Nil(t, insertErr)
	assert.Nil(t, summErr)

	// stragglers not yet covered get folded in here
	_, err = idx.SummarizeNewValues(ctx, AccessContext{User: "tester"}, h)
	assert.Nil(t, err)

	mt := lookupRange(t, idx, 16)
	assert.NotNil(t, mt)
	assert.False(t, mt.Placeholder)
	assert.Equal(t, int64(500), mockDecode(mt.Columns[0].Stored[0]))
	assert.Equal(t, int64(599), mockDecode(mt.Columns[0].Stored[1]))
}

func TestDesummarizeVersusReaders(t *testing.T) {
	idx := newTestIndex(t, "desumm_read", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 10, 20)
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	pool, err := ants.NewPool(3)
	assert.Nil(t, err)
	defer pool.Release()
	var wg sync.WaitGroup
	var readerErr, writerErr error

	for r := 0; r < 2; r++ {
		wg.Add(1)
		assert.Nil(t, pool.Submit(func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s, err := idx.BeginScan()
				if err != nil {
					readerErr = err
					return
				}
				s.Rescan([]ScanKey{eqKey(15)})
				tbm := roaring.New()
				if _, err = s.GetBitmap(ctx, h, tbm); err != nil {
					readerErr = err
					s.EndScan()
					return
				}
				s.EndScan()
			}
		}))
	}
	wg.Add(1)
	assert.Nil(t, pool.Submit(func() {
		defer wg.Done()
		writerErr = idx.DesummarizeRange(ctx, AccessContext{User: "tester"}, 0)
	}))
	wg.Wait()
	assert.Nil(t, readerErr)
	assert.Nil(t, writerErr)
	assert.Nil(t, lookupRange(t, idx, 0))
}

func TestAutosummarize(t *testing.T) {
	idx, err := Create(t.TempDir(), Config{
		Name:      "autosumm",
		Attrs:     []Attribute{{Name: "v", Len: 8}},
		Opclasses: []Opclass{MockOpclass{}},
		Options:   Options{PagesPerRange: 2, Autosummarize: true},
	})
	assert.Nil(t, err)
	defer idx.Close()
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 1)
	fillBlock(h, 1, 2)
	_, err = idx.Build(ctx, h)
	assert.Nil(t, err)

	// range [2,3] fills without the index knowing
	fillBlock(h, 2, 30)
	fillBlock(h, 3, 40)
	// crossing into block 4 queues range [2,3] for background summarization
	tid := h.Append(4, []common.Datum{MockDatum(50)}, []bool{false})
	assert.Nil(t, idx.Insert(ctx, h, tid, []common.Datum{MockDatum(50)}, []bool{false}))

	assert.Eventually(t, func() bool {
		return lookupRange(t, idx, 2) != nil
	}, 5*time.Second, 10*time.Millisecond)
	mt := lookupRange(t, idx, 2)
	assert.Equal(t, int64(30), mockDecode(mt.Columns[0].Stored[0]))
	assert.Equal(t, int64(40), mockDecode(mt.Columns[0].Stored[1]))
}

func TestVacuumRemovesOrphans(t *testing.T) {
	idx := newTestIndex(t, "vacuum", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	fillBlock(h, 0, 10)
	fillBlock(h, 4, 20)
	h.Grow(8)
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	// sever the revmap entry of range 1, stranding its tuple
	rm, err := idx.initRevmap()
	assert.Nil(t, err)
	revBuf, err := rm.lockForUpdate(4)
	assert.Nil(t, err)
	rm.setEntry(revBuf, 4, common.ItemPointer{})
	revBuf.Unlock()
	rm.release()

	removed, err := idx.VacuumCleanup(ctx, h)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), removed)

	// vacuum also resummarized the full range it orphaned
	mt := lookupRange(t, idx, 4)
	assert.NotNil(t, mt)
	assert.Equal(t, int64(20), mockDecode(mt.Columns[0].Stored[0]))

	// nothing left to clean
	removed, err = idx.VacuumCleanup(ctx, h)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), removed)

	assert.Nil(t, idx.BulkDelete(ctx))
}

func TestParallelBuildMatchesSerial(t *testing.T) {
	h := heap.NewMockHeap()
	for blk := common.BlockNumber(0); blk < 30; blk++ {
		if blk%5 == 2 {
			continue // leave holes for backfill
		}
		fillBlock(h, blk, int64(blk)*10, int64(blk)*10+5)
	}
	ctx := context.Background()

	serial := newTestIndex(t, "pbuild_serial", 4, nil)
	nSerial, err := serial.Build(ctx, h)
	assert.Nil(t, err)

	parallel := newTestIndex(t, "pbuild_par", 4, nil)
	nParallel, err := parallel.BuildParallel(ctx, h, 4)
	assert.Nil(t, err)
	assert.Equal(t, nSerial, nParallel)

	probes := []ScanKey{
		eqKey(0), eqKey(105), eqKey(144), eqKey(9999),
		{Strategy: Less, Value: MockDatum(50)},
		{Strategy: Greater, Value: MockDatum(250)},
		{SearchNull: true},
	}
	for _, k := range probes {
		assert.Equal(t,
			scanPages(t, serial, h, k),
			scanPages(t, parallel, h, k))
	}
}

func TestRevmapExtendWithEvacuation(t *testing.T) {
	idx := newTestIndex(t, "revmap_ext", 1, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	// more ranges than one revmap page holds, so block 2 (by then full of
	// summary tuples) must be evacuated and converted
	nRanges := int(revmapEntriesPerPage) + 20
	for blk := 0; blk < nRanges; blk++ {
		fillBlock(h, common.BlockNumber(blk), int64(blk))
	}
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	md, err := idx.metadata()
	assert.Nil(t, err)
	assert.Equal(t, common.BlockNumber(2), md.LastRevmapPage)

	last := int64(nRanges - 1)
	assert.Equal(t, []uint32{uint32(last)}, scanPages(t, idx, h, eqKey(last)))
	assert.Equal(t, []uint32{0}, scanPages(t, idx, h, eqKey(0)))
	assert.Empty(t, scanPages(t, idx, h, eqKey(int64(nRanges)+5)))
}

func TestRecoveryReplaysLog(t *testing.T) {
	w := wal.NewMemDriver()
	idx := newTestIndex(t, "recov_src", 4, w)
	h := heap.NewMockHeap()
	ctx := context.Background()

	for blk := common.BlockNumber(0); blk < 12; blk++ {
		fillBlock(h, blk, int64(blk)*10)
	}
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)
	tid := h.Append(2, []common.Datum{MockDatum(-7)}, []bool{false})
	assert.Nil(t, idx.Insert(ctx, h, tid, []common.Datum{MockDatum(-7)}, []bool{false}))
	assert.Nil(t, idx.DesummarizeRange(ctx, AccessContext{User: "tester"}, 8))

	// rebuild a fresh file purely from the log
	recovered := newTestIndex(t, "recov_dst", 4, nil)
	assert.Nil(t, recovered.Recover(w))

	probes := []ScanKey{eqKey(-7), eqKey(50), eqKey(85), eqKey(9999), {SearchNull: true}}
	for _, k := range probes {
		assert.Equal(t,
			scanPages(t, idx, h, k),
			scanPages(t, recovered, h, k))
	}

	// replay is idempotent
	assert.Nil(t, recovered.Recover(w))
	for _, k := range probes {
		assert.Equal(t,
			scanPages(t, idx, h, k),
			scanPages(t, recovered, h, k))
	}
}

func TestRecoveryPrefix(t *testing.T) {
	w := wal.NewMemDriver()
	idx := newTestIndex(t, "recov_prefix_src", 4, w)
	h := heap.NewMockHeap()
	ctx := context.Background()

	for blk := common.BlockNumber(0); blk < 8; blk++ {
		fillBlock(h, blk, int64(blk))
	}
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	// a crash that loses the log tail must still yield a readable index
	w.TruncateAt(w.Len() / 2)
	recovered := newTestIndex(t, "recov_prefix_dst", 4, nil)
	assert.Nil(t, recovered.Recover(w))

	s, err := recovered.BeginScan()
	assert.Nil(t, err)
	s.Rescan([]ScanKey{eqKey(3)})
	tbm := roaring.New()
	_, err = s.GetBitmap(ctx, h, tbm)
	assert.Nil(t, err)
	s.EndScan()
	// whatever was replayed, the matching page is never missed
	assert.True(t, tbm.Contains(3))
}

func TestVacuumDuringRevmapExtension(t *testing.T) {
	idx := newTestIndex(t, "vacuum_ext", 1, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()

	// fill the first revmap page almost to the brim, then grow the heap
	// past it so the summarize below has to extend and evacuate
	base := int(revmapEntriesPerPage) - 1
	for blk := 0; blk < base; blk++ {
		fillBlock(h, common.BlockNumber(blk), int64(blk))
	}
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)
	nRanges := base + 40
	for blk := base; blk < nRanges; blk++ {
		fillBlock(h, common.BlockNumber(blk), int64(blk))
	}

	pool, err := ants.NewPool(2)
	assert.Nil(t, err)
	defer pool.Release()
	var wg sync.WaitGroup
	var summErr, vacErr error

	wg.Add(1)
	assert.Nil(t, pool.Submit(func() {
		defer wg.Done()
		_, summErr = idx.SummarizeNewValues(ctx, AccessContext{User: "tester"}, h)
	}))
	wg.Add(1)
	assert.Nil(t, pool.Submit(func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			if _, vacErr = idx.VacuumCleanup(ctx, nil); vacErr != nil {
				return
			}
		}
	}))
	wg.Wait()
	assert.Nil(t, summErr)
	assert.Nil(t, vacErr)

	md, err := idx.metadata()
	assert.Nil(t, err)
	assert.Equal(t, common.BlockNumber(2), md.LastRevmapPage)

	last := int64(nRanges - 1)
	assert.Equal(t, []uint32{uint32(last)}, scanPages(t, idx, h, eqKey(last)))

	// a quiesced vacuum finds nothing left behind
	removed, err := idx.VacuumCleanup(ctx, h)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), removed)
}

// wideOpclass stores the latest value verbatim, whatever its size.
type wideOpclass struct{}

func (wideOpclass) OpcInfo(attr Attribute) OpcInfo {
	return OpcInfo{NStored: 1, StoredLens: []int{VarLen}, RegularNulls: true}
}

func (wideOpclass) AddValue(bv *Values, value common.Datum, isNull bool) bool {
	bv.AllNulls = false
	bv.Stored = []common.Datum{append(common.Datum(nil), value...)}
	return true
}

func (wideOpclass) Union(a, b *Values) {
	if len(b.Stored[0]) > len(a.Stored[0]) {
		a.Stored[0] = append(common.Datum(nil), b.Stored[0]...)
	}
}

func (wideOpclass) Consistent(bv *Values, key *ScanKey) bool { return true }

func TestOversizeSummaryRejected(t *testing.T) {
	newWideIndex := func(name string) *Index {
		idx, err := Create(t.TempDir(), Config{
			Name:      name,
			Owner:     "tester",
			Attrs:     []Attribute{{Name: "v", Len: VarLen}},
			Opclasses: []Opclass{wideOpclass{}},
			Options:   Options{PagesPerRange: 1},
		})
		assert.Nil(t, err)
		t.Cleanup(func() { idx.Close() })
		return idx
	}
	ctx := context.Background()
	big := make([]byte, 2*page.Size)

	// widening an existing summary past the page capacity
	idx := newWideIndex("oversize_upd")
	h := heap.NewMockHeap()
	h.Append(0, []common.Datum{common.Datum("small")}, []bool{false})
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)
	tid := h.Append(0, []common.Datum{big}, []bool{false})
	err = idx.Insert(ctx, h, tid, []common.Datum{big}, []bool{false})
	assert.ErrorIs(t, err, ErrOversizeItem)

	// building a summary that was oversized from the start
	idx2 := newWideIndex("oversize_ins")
	h2 := heap.NewMockHeap()
	h2.Append(0, []common.Datum{big}, []bool{false})
	_, err = idx2.Build(ctx, h2)
	assert.ErrorIs(t, err, ErrOversizeItem)
}

func TestRecoveryBlocksOperations(t *testing.T) {
	idx := newTestIndex(t, "recov_gate", 4, nil)
	h := heap.NewMockHeap()
	ctx := context.Background()
	fillBlock(h, 0, 1)
	_, err := idx.Build(ctx, h)
	assert.Nil(t, err)

	acc := AccessContext{User: "tester"}
	atomic.StoreInt32(&idx.recovery, 1)

	tid := h.Append(0, []common.Datum{MockDatum(2)}, []bool{false})
	err = idx.Insert(ctx, h, tid, []common.Datum{MockDatum(2)}, []bool{false})
	assert.ErrorIs(t, err, ErrRecoveryInProgress)
	_, err = idx.BeginScan()
	assert.ErrorIs(t, err, ErrRecoveryInProgress)
	_, err = idx.SummarizeNewValues(ctx, acc, h)
	assert.ErrorIs(t, err, ErrRecoveryInProgress)
	_, err = idx.SummarizeRange(ctx, acc, h, 0)
	assert.ErrorIs(t, err, ErrRecoveryInProgress)
	err = idx.DesummarizeRange(ctx, acc, 0)
	assert.ErrorIs(t, err, ErrRecoveryInProgress)
	_, err = idx.VacuumCleanup(ctx, h)
	assert.ErrorIs(t, err, ErrRecoveryInProgress)
	assert.ErrorIs(t, idx.BulkDelete(ctx), ErrRecoveryInProgress)

	atomic.StoreInt32(&idx.recovery, 0)
	s, err := idx.BeginScan()
	assert.Nil(t, err)
	s.EndScan()
}
