package brin

import (
	"context"
	"fmt"

	"brin/pkg/common"
	"brin/pkg/storage/buffer"
	"brin/pkg/storage/page"
)

func alignItem(n int) int { return (n + 7) &^ 7 }

// canDoSamepageUpdate reports whether the tuple at its current slot can be
// replaced in place. Pages under evacuation never accept the rewrite; the
// tuple has to move off of them.
func canDoSamepageUpdate(p page.Page, origsz, newsz int) bool {
	if pageFlags(p)&EvacuatePage != 0 {
		return false
	}
	return newsz <= origsz || p.ExactFreeSpace() >= alignItem(newsz)-alignItem(origsz)
}

// doInsert places a fresh summary tuple for the range starting at heapBlk
// and points the revmap entry at it. The revmap must already cover heapBlk.
func (idx *Index) doInsert(ctx context.Context, rm *revmap, heapBlk common.BlockNumber, tup []byte) (common.ItemPointer, error) {
	buf, extended, err := idx.getInsertBuffer(ctx, nil, len(tup))
	if err != nil {
		return common.ItemPointer{}, err
	}
	p := buf.Page()
	if extended {
		initPage(p, PageTypeRegular)
	}
	off, err := p.AddItem(tup, common.InvalidOffsetNumber, false)
	if err != nil {
		buf.Unlock()
		idx.bufs.Unpin(buf)
		return common.ItemPointer{}, fmt.Errorf("brin: adding tuple to block %d: %w", buf.Block(), err)
	}
	buf.MarkDirty()
	tid := common.NewItemPointer(buf.Block(), off)

	revBuf, err := rm.lockForUpdate(heapBlk)
	if err != nil {
		buf.Unlock()
		idx.bufs.Unpin(buf)
		return common.ItemPointer{}, err
	}
	rm.setEntry(revBuf, heapBlk, tid)

	lsn, err := idx.logRecord(ETInsert, &insertRecord{
		HeapBlk:   heapBlk,
		RevmapBlk: revBuf.Block(),
		Tid:       tid,
		Tuple:     tup,
	})
	if err == nil {
		p.SetLSN(lsn + 1)
		revBuf.Page().SetLSN(lsn + 1)
	}
	revBuf.Unlock()
	buf.Unlock()
	if extended {
		idx.free.RecordFreeSpace(buf.Block(), pageFreeSpace(p))
	}
	idx.bufs.Unpin(buf)
	if err == nil {
		idx.storeTargetBlock(tid.Block)
	}
	return tid, err
}

// doUpdate replaces the summary tuple at oldTid with newTup. It returns
// false without error when the tuple no longer matches oldTup; the caller
// rereads the range and retries. With the samepage hint no new buffer is
// acquired, and false also means the rewrite did not fit in place.
func (idx *Index) doUpdate(ctx context.Context, rm *revmap, heapBlk common.BlockNumber,
	oldTid common.ItemPointer, oldTup, newTup []byte, samepage bool) (bool, error) {
	newsz := len(newTup)
	if newsz > maxItemSize {
		return false, fmt.Errorf("%w: tuple of %d bytes", ErrOversizeItem, newsz)
	}
	oldBuf, err := idx.bufs.Pin(oldTid.Block)
	if err != nil {
		return false, err
	}
	defer idx.bufs.Unpin(oldBuf)

	var newBuf *buffer.Buffer
	extended := false
	if !samepage {
		// Both pages get locked here, in block order.
		if newBuf, extended, err = idx.getInsertBuffer(ctx, oldBuf, newsz); err != nil {
			return false, err
		}
	} else {
		oldBuf.Lock()
	}

	p := oldBuf.Page()
	if !isRegularPage(p) || !p.IsUsed(oldTid.Offset) || !TuplesEqual(p.Item(oldTid.Offset), oldTup) {
		oldBuf.Unlock()
		return false, idx.discardInsertBuffer(oldBuf, newBuf, extended)
	}

	if canDoSamepageUpdate(p, len(oldTup), newsz) {
		if err = idx.discardInsertBuffer(oldBuf, newBuf, extended); err != nil {
			oldBuf.Unlock()
			return false, err
		}
		if err = p.OverwriteItem(oldTid.Offset, newTup); err != nil {
			oldBuf.Unlock()
			return false, fmt.Errorf("brin: rewriting tuple at %s: %w", oldTid.String(), err)
		}
		oldBuf.MarkDirty()
		lsn, err := idx.logRecord(ETSamepageUpdate, &samepageUpdateRecord{Tid: oldTid, Tuple: newTup})
		if err == nil {
			p.SetLSN(lsn + 1)
		}
		oldBuf.Unlock()
		if err == nil {
			idx.storeTargetBlock(oldTid.Block)
		}
		return err == nil, err
	}

	if newBuf == nil {
		// Caller asked for in-place only and the tuple grew.
		oldBuf.Unlock()
		return false, nil
	}

	newPage := newBuf.Page()
	if extended {
		initPage(newPage, PageTypeRegular)
	}
	newOff, err := newPage.AddItem(newTup, common.InvalidOffsetNumber, false)
	if err != nil {
		oldBuf.Unlock()
		if newBuf != oldBuf {
			newBuf.Unlock()
			idx.bufs.Unpin(newBuf)
		}
		return false, fmt.Errorf("brin: adding tuple to block %d: %w", newBuf.Block(), err)
	}
	newBuf.MarkDirty()
	p.DeleteItemNoCompact(oldTid.Offset)
	oldBuf.MarkDirty()

	newTid := common.NewItemPointer(newBuf.Block(), newOff)
	revBuf, err := rm.lockForUpdate(heapBlk)
	if err != nil {
		oldBuf.Unlock()
		if newBuf != oldBuf {
			newBuf.Unlock()
			idx.bufs.Unpin(newBuf)
		}
		return false, err
	}
	rm.setEntry(revBuf, heapBlk, newTid)

	lsn, err := idx.logRecord(ETUpdate, &insertRecord{
		HeapBlk:   heapBlk,
		RevmapBlk: revBuf.Block(),
		Tid:       newTid,
		OldTid:    oldTid,
		Tuple:     newTup,
	})
	if err == nil {
		p.SetLSN(lsn + 1)
		newPage.SetLSN(lsn + 1)
		revBuf.Page().SetLSN(lsn + 1)
	}
	revBuf.Unlock()
	oldBuf.Unlock()
	if newBuf != oldBuf {
		newBuf.Unlock()
		if extended {
			idx.free.RecordFreeSpace(newBuf.Block(), pageFreeSpace(newPage))
		}
		idx.bufs.Unpin(newBuf)
	}
	if err == nil {
		idx.storeTargetBlock(newTid.Block)
	}
	return err == nil, err
}

// discardInsertBuffer releases a buffer obtained from getInsertBuffer that
// ended up unused. A freshly extended page still needs formatting so later
// searches can use it. oldBuf identifies the shared-lock case where nothing
// separate was acquired.
func (idx *Index) discardInsertBuffer(oldBuf, newBuf *buffer.Buffer, extended bool) error {
	if newBuf == nil || newBuf == oldBuf {
		return nil
	}
	newBuf.Unlock()
	var err error
	if extended {
		err = idx.initializeEmptyNewBuffer(newBuf)
	} else {
		idx.free.RecordFreeSpace(newBuf.Block(), pageFreeSpace(newBuf.Page()))
	}
	idx.bufs.Unpin(newBuf)
	return err
}

// getInsertBuffer finds a page with room for an item of the given size and
// returns it exclusively locked. When oldBuf is given it is locked too, in
// block order, so the caller can move a tuple between the two pages. The
// returned page is unformatted when extended is true.
func (idx *Index) getInsertBuffer(ctx context.Context, oldBuf *buffer.Buffer, itemsz int) (buf *buffer.Buffer, extended bool, err error) {
	if itemsz > maxItemSize {
		return nil, false, fmt.Errorf("%w: tuple of %d bytes", ErrOversizeItem, itemsz)
	}
	oldBlk := common.InvalidBlockNumber
	if oldBuf != nil {
		oldBlk = oldBuf.Block()
	}

	// Try the page the last insert landed on before consulting the
	// free-space map.
	newBlk := idx.loadTargetBlock()
	if newBlk == oldBlk || newBlk >= idx.bufs.BlockCount() {
		newBlk = idx.free.SearchWithFreeSpace(itemsz)
	}
	for {
		if err = common.CheckInterrupt(ctx); err != nil {
			return nil, false, err
		}
		if newBlk == common.InvalidBlockNumber {
			if buf, err = idx.bufs.Extend(); err != nil {
				return nil, false, err
			}
			// The appended block is past every existing one, so the old
			// page locks first.
			if oldBuf != nil {
				oldBuf.Lock()
			}
			buf.Lock()
			return buf, true, nil
		}

		if newBlk == oldBlk {
			oldBuf.Lock()
			buf = oldBuf
		} else {
			if buf, err = idx.bufs.Pin(newBlk); err != nil {
				return nil, false, err
			}
			if oldBuf != nil && oldBlk < newBlk {
				oldBuf.Lock()
				buf.Lock()
			} else {
				buf.Lock()
				if oldBuf != nil {
					oldBuf.Lock()
				}
			}
		}

		p := buf.Page()
		if p.IsNew() {
			// A stale free-space entry can point at a page that was
			// extended but never formatted. Make it usable.
			initPage(p, PageTypeRegular)
			buf.MarkDirty()
		}
		if pageFreeSpace(p) >= itemsz {
			return buf, false, nil
		}

		// Not usable after all. Put the real number in the free-space map
		// and try the next candidate.
		free := pageFreeSpace(p)
		if oldBuf != nil && buf != oldBuf {
			oldBuf.Unlock()
		}
		buf.Unlock()
		if buf != oldBuf {
			idx.bufs.Unpin(buf)
		}
		newBlk = idx.free.RecordAndSearch(newBlk, free, itemsz)
	}
}

// initializeEmptyNewBuffer formats a page that was extended but never used,
// so scans and later inserts treat it as an ordinary empty page.
func (idx *Index) initializeEmptyNewBuffer(buf *buffer.Buffer) error {
	buf.Lock()
	p := buf.Page()
	initPage(p, PageTypeRegular)
	buf.MarkDirty()
	lsn, err := idx.logRecord(ETInitPage, &initPageRecord{Blk: buf.Block(), PageType: PageTypeRegular})
	if err == nil {
		p.SetLSN(lsn + 1)
	}
	free := pageFreeSpace(p)
	buf.Unlock()
	idx.free.RecordFreeSpace(buf.Block(), free)
	return err
}

// evacuatePage moves every live tuple off a page fenced with EvacuatePage so
// it can become a revmap page. buf is pinned, not locked.
func (idx *Index) evacuatePage(ctx context.Context, rm *revmap, buf *buffer.Buffer) error {
	for {
		if err := common.CheckInterrupt(ctx); err != nil {
			return err
		}
		buf.RLock()
		p := buf.Page()
		var off common.OffsetNumber
		var tup []byte
		for i := common.FirstOffsetNumber; i <= p.MaxOffset(); i++ {
			if p.IsUsed(i) {
				off = i
				tup = CopyTuple(p.Item(i))
				break
			}
		}
		buf.RUnlock()
		if off == common.InvalidOffsetNumber {
			return nil
		}
		// A false return means the tuple changed or vanished while
		// unlocked; rescan the page either way.
		tid := common.NewItemPointer(buf.Block(), off)
		if _, err := idx.doUpdate(ctx, rm, TupleHeapBlock(tup), tid, tup, tup, false); err != nil {
			return err
		}
	}
}
