package brin

import (
	"context"

	"brin/pkg/common"
	"brin/pkg/heap"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/sirupsen/logrus"
)

// BulkDelete is a no-op: summaries reference page ranges, never individual
// rows, so deleting heap rows needs no index change.
func (idx *Index) BulkDelete(ctx context.Context) error {
	if idx.inRecovery() {
		return ErrRecoveryInProgress
	}
	return nil
}

// referencedTids collects every index tuple location the revmap points at.
func (idx *Index) referencedTids(rm *revmap) (*roaring64.Bitmap, error) {
	refs := roaring64.New()
	for blk := common.BlockNumber(1); blk <= rm.lastRevmapPage; blk++ {
		buf, err := idx.bufs.Pin(blk)
		if err != nil {
			return nil, err
		}
		buf.RLock()
		p := buf.Page()
		if isRevmapPage(p) {
			for i := common.BlockNumber(0); i < revmapEntriesPerPage; i++ {
				if tid := revmapReadEntry(p, i); tid.IsValid() {
					refs.Add(tid.Key())
				}
			}
		}
		buf.RUnlock()
		idx.bufs.Unpin(buf)
	}
	return refs, nil
}

// pageCleanup refreshes one block's free-space accounting and drops tuples
// the revmap no longer references, the leftovers of summarizations that
// never finished. Returns the number of tuples removed.
func (idx *Index) pageCleanup(rm *revmap, blk common.BlockNumber, refs *roaring64.Bitmap) (int, error) {
	buf, err := idx.bufs.Pin(blk)
	if err != nil {
		return 0, err
	}
	defer idx.bufs.Unpin(buf)

	// Refresh the revmap bound before taking the page lock. An extension
	// holds the metapage lock while locking its candidate page, so the
	// metapage must never be acquired with a page lock held.
	rm.metaBuf.RLock()
	md, err := readMetadata(rm.metaBuf.Page())
	rm.metaBuf.RUnlock()
	if err != nil {
		return 0, err
	}
	rm.lastRevmapPage = md.LastRevmapPage

	buf.Lock()
	defer buf.Unlock()

	p := buf.Page()
	if p.IsNew() {
		// Extended but never formatted, likely by a crash between the
		// extension and its first use.
		initPage(p, PageTypeRegular)
		buf.MarkDirty()
		lsn, err := idx.logRecord(ETInitPage, &initPageRecord{Blk: blk, PageType: PageTypeRegular})
		if err != nil {
			return 0, err
		}
		p.SetLSN(lsn + 1)
		idx.free.RecordFreeSpace(blk, pageFreeSpace(p))
		return 0, nil
	}
	if !isRegularPage(p) {
		return 0, nil
	}

	removed := 0
	for off := common.FirstOffsetNumber; off <= p.MaxOffset(); off++ {
		if !p.IsUsed(off) {
			continue
		}
		tid := common.NewItemPointer(blk, off)
		if refs.Contains(tid.Key()) {
			continue
		}
		// The bitmap is a snapshot; a concurrent update may have moved a
		// live tuple here since. The revmap entry is authoritative, and
		// reading it while holding this page's lock follows the lock order.
		heapBlk := TupleHeapBlock(p.Item(off))
		revBlk := revmapBlockForHeapBlock(rm.pagesPerRange, heapBlk)
		if revBlk > rm.lastRevmapPage {
			// Past the snapshot taken just before the page lock: only a
			// concurrent extension could have put the entry there, so the
			// tuple is live. The next vacuum rechecks it.
			continue
		}
		revBuf, err := rm.getBuffer(revBlk)
		if err != nil {
			return removed, err
		}
		revBuf.RLock()
		cur := revmapReadEntry(revBuf.Page(), revmapEntryIndex(rm.pagesPerRange, heapBlk))
		revBuf.RUnlock()
		if cur == tid {
			continue
		}
		p.DeleteItemNoCompact(off)
		buf.MarkDirty()
		removed++
		lsn, err := idx.logRecord(ETDesummarize, &desummarizeRecord{
			HeapBlk:   heapBlk,
			RevmapBlk: common.InvalidBlockNumber,
			Tid:       tid,
		})
		if err != nil {
			return removed, err
		}
		p.SetLSN(lsn + 1)
	}
	idx.free.RecordFreeSpace(blk, pageFreeSpace(p))
	return removed, nil
}

// VacuumCleanup sweeps the index in physical order, rebuilding free-space
// accounting and removing orphaned tuples, then summarizes any range that
// filled up since the last pass. The trailing partial range is left for a
// later vacuum or autosummarization.
func (idx *Index) VacuumCleanup(ctx context.Context, heapRel heap.Relation) (int64, error) {
	if idx.inRecovery() {
		return 0, ErrRecoveryInProgress
	}
	rm, err := idx.initRevmap()
	if err != nil {
		return 0, err
	}
	defer rm.release()
	refs, err := idx.referencedTids(rm)
	if err != nil {
		return 0, err
	}

	nblocks := idx.bufs.BlockCount()
	var removed int64
	for blk := common.BlockNumber(0); blk < nblocks; blk++ {
		if err := common.CheckInterrupt(ctx); err != nil {
			return removed, err
		}
		n, err := idx.pageCleanup(rm, blk, refs)
		removed += int64(n)
		if err != nil {
			return removed, err
		}
	}
	idx.free.Truncate(nblocks)
	idx.free.Vacuum()
	if removed > 0 {
		logrus.Infof("brin: vacuum removed %d orphan tuples from %s", removed, idx.name)
	}

	if heapRel != nil {
		if _, err := idx.summarizeAll(ctx, heapRel, false); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
