package brin

import (
	"context"
	"encoding/binary"
	"fmt"

	"brin/pkg/common"
	"brin/pkg/storage/buffer"
	"brin/pkg/storage/page"

	"github.com/sirupsen/logrus"
)

// The reverse range map is a contiguous run of pages starting at block 1.
// Each page holds a packed array of item pointers in its content area, one
// per page range, 6 bytes each (block u32 LE, offset u16 LE). An all-zero
// entry means the range is not summarized.
const revmapEntrySize = 6

var revmapEntriesPerPage = func() common.BlockNumber {
	p := page.New()
	page.Init(p, specialSize)
	return common.BlockNumber(len(p.Contents()) / revmapEntrySize)
}()

// revmapBlockForHeapBlock maps a heap block to the revmap page holding its
// range's entry. Block 0 is the metapage, so revmap pages start at 1.
func revmapBlockForHeapBlock(pagesPerRange, heapBlk common.BlockNumber) common.BlockNumber {
	return heapBlk/pagesPerRange/revmapEntriesPerPage + 1
}

func revmapEntryIndex(pagesPerRange, heapBlk common.BlockNumber) common.BlockNumber {
	return heapBlk / pagesPerRange % revmapEntriesPerPage
}

func revmapReadEntry(p page.Page, idx common.BlockNumber) common.ItemPointer {
	e := p.Contents()[idx*revmapEntrySize:]
	return common.ItemPointer{
		Block:  binary.LittleEndian.Uint32(e),
		Offset: binary.LittleEndian.Uint16(e[4:]),
	}
}

func revmapWriteEntry(p page.Page, idx common.BlockNumber, tid common.ItemPointer) {
	e := p.Contents()[idx*revmapEntrySize:]
	binary.LittleEndian.PutUint32(e, tid.Block)
	binary.LittleEndian.PutUint16(e[4:], tid.Offset)
}

// revmap is a per-operation access handle. It keeps the metapage pinned and
// caches the most recently used revmap page pin.
type revmap struct {
	idx            *Index
	pagesPerRange  common.BlockNumber
	lastRevmapPage common.BlockNumber
	metaBuf        *buffer.Buffer
	curBuf         *buffer.Buffer
}

func (idx *Index) initRevmap() (*revmap, error) {
	metaBuf, err := idx.bufs.Pin(metaBlock)
	if err != nil {
		return nil, err
	}
	metaBuf.RLock()
	md, err := readMetadata(metaBuf.Page())
	metaBuf.RUnlock()
	if err != nil {
		idx.bufs.Unpin(metaBuf)
		return nil, err
	}
	return &revmap{
		idx:            idx,
		pagesPerRange:  md.PagesPerRange,
		lastRevmapPage: md.LastRevmapPage,
		metaBuf:        metaBuf,
	}, nil
}

func (rm *revmap) release() {
	if rm.curBuf != nil {
		rm.idx.bufs.Unpin(rm.curBuf)
		rm.curBuf = nil
	}
	rm.idx.bufs.Unpin(rm.metaBuf)
	rm.metaBuf = nil
}

// rangeStart rounds a heap block down to the start of its page range.
func (rm *revmap) rangeStart(heapBlk common.BlockNumber) common.BlockNumber {
	return heapBlk / rm.pagesPerRange * rm.pagesPerRange
}

// getBuffer returns the cached pin for the given revmap block, swapping the
// cache when a different block is asked for. The buffer stays pinned until
// the next call or release.
func (rm *revmap) getBuffer(blk common.BlockNumber) (*buffer.Buffer, error) {
	if rm.curBuf != nil {
		if rm.curBuf.Block() == blk {
			return rm.curBuf, nil
		}
		rm.idx.bufs.Unpin(rm.curBuf)
		rm.curBuf = nil
	}
	buf, err := rm.idx.bufs.Pin(blk)
	if err != nil {
		return nil, err
	}
	rm.curBuf = buf
	return buf, nil
}

// lockForUpdate returns the revmap buffer covering heapBlk, exclusively
// locked. The revmap page must already exist; callers run extend first.
// The revmap page lock is always the last one taken in any mutation.
func (rm *revmap) lockForUpdate(heapBlk common.BlockNumber) (*buffer.Buffer, error) {
	blk := revmapBlockForHeapBlock(rm.pagesPerRange, heapBlk)
	if blk > rm.lastRevmapPage {
		return nil, fmt.Errorf("%w: revmap page %d past last %d", ErrCorruptPage, blk, rm.lastRevmapPage)
	}
	buf, err := rm.getBuffer(blk)
	if err != nil {
		return nil, err
	}
	buf.Lock()
	if !isRevmapPage(buf.Page()) {
		buf.Unlock()
		return nil, fmt.Errorf("%w: block %d is not a revmap page", ErrCorruptPage, blk)
	}
	return buf, nil
}

// setEntry stores the index tuple location for the range containing heapBlk.
// The caller holds the exclusive lock returned by lockForUpdate.
func (rm *revmap) setEntry(buf *buffer.Buffer, heapBlk common.BlockNumber, tid common.ItemPointer) {
	revmapWriteEntry(buf.Page(), revmapEntryIndex(rm.pagesPerRange, heapBlk), tid)
	buf.MarkDirty()
}

// getTupleForHeapBlock returns a copy of the summary tuple for the range
// containing heapBlk, plus its location, or a nil tuple when the range is
// not summarized. Concurrent updates can move the tuple between reading the
// revmap entry and reading the page; the loop chases the move.
func (rm *revmap) getTupleForHeapBlock(ctx context.Context, heapBlk common.BlockNumber) ([]byte, common.ItemPointer, error) {
	blk := revmapBlockForHeapBlock(rm.pagesPerRange, heapBlk)
	if blk > rm.lastRevmapPage {
		// Beyond the revmap: the range was never summarized.
		return nil, common.ItemPointer{}, nil
	}
	idxInPage := revmapEntryIndex(rm.pagesPerRange, heapBlk)
	for {
		if err := common.CheckInterrupt(ctx); err != nil {
			return nil, common.ItemPointer{}, err
		}
		revBuf, err := rm.getBuffer(blk)
		if err != nil {
			return nil, common.ItemPointer{}, err
		}
		revBuf.RLock()
		tid := revmapReadEntry(revBuf.Page(), idxInPage)
		revBuf.RUnlock()
		if !tid.IsValid() {
			return nil, common.ItemPointer{}, nil
		}

		tupBuf, err := rm.idx.bufs.Pin(tid.Block)
		if err != nil {
			return nil, common.ItemPointer{}, err
		}
		tupBuf.RLock()
		p := tupBuf.Page()
		if isRegularPage(p) && p.IsUsed(tid.Offset) {
			item := p.Item(tid.Offset)
			if TupleHeapBlock(item) == rm.rangeStart(heapBlk) {
				tup := make([]byte, len(item))
				copy(tup, item)
				tupBuf.RUnlock()
				rm.idx.bufs.Unpin(tupBuf)
				return tup, tid, nil
			}
		}
		tupBuf.RUnlock()
		rm.idx.bufs.Unpin(tupBuf)
		// The tuple moved underneath us; reread the revmap entry.
	}
}

// extend makes sure the revmap covers heapBlk, growing it one page at a
// time. Growing may require evacuating tuples off the page that must become
// the next revmap page.
func (rm *revmap) extend(ctx context.Context, heapBlk common.BlockNumber) error {
	target := revmapBlockForHeapBlock(rm.pagesPerRange, heapBlk)
	for target > rm.lastRevmapPage {
		if err := common.CheckInterrupt(ctx); err != nil {
			return err
		}
		evacBuf, err := rm.physicalExtend()
		if err != nil {
			return err
		}
		if evacBuf != nil {
			logrus.Infof("brin: evacuating block %d of %s for revmap use",
				evacBuf.Block(), rm.idx.name)
			err = rm.idx.evacuatePage(ctx, rm, evacBuf)
			rm.idx.bufs.Unpin(evacBuf)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// physicalExtend tries to grow the revmap by one page. It returns a pinned
// buffer when the candidate page holds live tuples and must be evacuated
// first; nil on success. The metapage lock covers the whole attempt, so no
// two extensions run concurrently.
func (rm *revmap) physicalExtend() (*buffer.Buffer, error) {
	idx := rm.idx
	rm.metaBuf.Lock()
	defer rm.metaBuf.Unlock()

	md, err := readMetadata(rm.metaBuf.Page())
	if err != nil {
		return nil, err
	}
	if md.LastRevmapPage != rm.lastRevmapPage {
		// Another extension finished while we waited for the lock.
		rm.lastRevmapPage = md.LastRevmapPage
		return nil, nil
	}
	target := md.LastRevmapPage + 1

	var buf *buffer.Buffer
	if target < idx.bufs.BlockCount() {
		if buf, err = idx.bufs.Pin(target); err != nil {
			return nil, err
		}
		buf.Lock()
		p := buf.Page()
		if !p.IsNew() {
			if isRevmapPage(p) {
				buf.Unlock()
				idx.bufs.Unpin(buf)
				return nil, fmt.Errorf("%w: unexpected revmap page at block %d", ErrCorruptPage, target)
			}
			if !isRegularPage(p) {
				buf.Unlock()
				idx.bufs.Unpin(buf)
				return nil, fmt.Errorf("%w: unexpected page type %#x at block %d",
					ErrCorruptPage, pageType(p), target)
			}
			if pageLiveItems(p) > 0 {
				// Fence the page against new insertions and hand it to the
				// caller for evacuation.
				setPageFlags(p, pageFlags(p)|EvacuatePage)
				buf.MarkDirty()
				buf.Unlock()
				return buf, nil
			}
		}
	} else {
		if buf, err = idx.bufs.Extend(); err != nil {
			return nil, err
		}
		if buf.Block() != target {
			// A concurrent relation extension slid a page in between. Format
			// it as an ordinary page and retry from the top.
			err = idx.initializeEmptyNewBuffer(buf)
			idx.bufs.Unpin(buf)
			return nil, err
		}
		buf.Lock()
	}

	p := buf.Page()
	initPage(p, PageTypeRevmap)
	buf.MarkDirty()

	md.LastRevmapPage = target
	writeMetadata(rm.metaBuf.Page(), md)
	rm.metaBuf.MarkDirty()
	rm.lastRevmapPage = target

	lsn, err := idx.logRecord(ETRevmapExtend, &revmapExtendRecord{TargetBlk: target})
	if err == nil {
		p.SetLSN(lsn + 1)
		rm.metaBuf.Page().SetLSN(lsn + 1)
	}
	buf.Unlock()
	idx.bufs.Unpin(buf)
	return nil, err
}

// desummarize removes the summary for the range containing heapBlk. It
// returns false when the index tuple's page lock could not be taken without
// risking deadlock; the caller retries. A range with no summary is a no-op
// success.
func (rm *revmap) desummarize(heapBlk common.BlockNumber) (bool, error) {
	idx := rm.idx
	blk := revmapBlockForHeapBlock(rm.pagesPerRange, heapBlk)
	if blk > rm.lastRevmapPage {
		return true, nil
	}
	idxInPage := revmapEntryIndex(rm.pagesPerRange, heapBlk)

	revBuf, err := rm.getBuffer(blk)
	if err != nil {
		return false, err
	}
	revBuf.Lock()
	tid := revmapReadEntry(revBuf.Page(), idxInPage)
	if !tid.IsValid() {
		revBuf.Unlock()
		return true, nil
	}

	tupBuf, err := idx.bufs.Pin(tid.Block)
	if err != nil {
		revBuf.Unlock()
		return false, err
	}
	// Regular pages order before the revmap page, so only a conditional
	// acquire is safe while holding the revmap lock.
	if !tupBuf.TryLock() {
		revBuf.Unlock()
		idx.bufs.Unpin(tupBuf)
		return false, nil
	}

	p := tupBuf.Page()
	if !p.IsUsed(tid.Offset) || TupleHeapBlock(p.Item(tid.Offset)) != rm.rangeStart(heapBlk) {
		tupBuf.Unlock()
		revBuf.Unlock()
		idx.bufs.Unpin(tupBuf)
		return false, fmt.Errorf("%w: revmap entry for block %d points to unrelated tuple %s",
			ErrCorruptPage, heapBlk, tid.String())
	}

	revmapWriteEntry(revBuf.Page(), idxInPage, common.ItemPointer{})
	revBuf.MarkDirty()
	p.DeleteItemNoCompact(tid.Offset)
	tupBuf.MarkDirty()
	idx.free.RecordFreeSpace(tupBuf.Block(), pageFreeSpace(p))

	lsn, err := idx.logRecord(ETDesummarize, &desummarizeRecord{
		HeapBlk:   rm.rangeStart(heapBlk),
		RevmapBlk: blk,
		Tid:       tid,
	})
	if err == nil {
		p.SetLSN(lsn + 1)
		revBuf.Page().SetLSN(lsn + 1)
	}
	tupBuf.Unlock()
	revBuf.Unlock()
	idx.bufs.Unpin(tupBuf)
	return err == nil, err
}

// pageLiveItems counts the used line pointers of a regular page.
func pageLiveItems(p page.Page) int {
	n := 0
	for off := common.FirstOffsetNumber; off <= p.MaxOffset(); off++ {
		if p.IsUsed(off) {
			n++
		}
	}
	return n
}
