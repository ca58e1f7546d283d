package brin

import (
	"fmt"
	"sync/atomic"

	"brin/pkg/common"
	"brin/pkg/storage/buffer"
	"brin/pkg/wal"

	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/sirupsen/logrus"
)

// Recover replays a log into the index file, then rebuilds the free-space
// map from what the pages ended up holding. Replay is idempotent: each page
// remembers the LSN past the last record applied to it, and records at or
// below it are skipped.
func (idx *Index) Recover(rp wal.Replayer) error {
	if !atomic.CompareAndSwapInt32(&idx.recovery, 0, 1) {
		return ErrRecoveryInProgress
	}
	defer atomic.StoreInt32(&idx.recovery, 0)

	var applied, skipped int64
	err := rp.Replay(func(t entry.Type, lsn uint64, payload []byte) error {
		ok, err := idx.redo(t, lsn, payload)
		if err != nil {
			return fmt.Errorf("brin: redo of record type %d at lsn %d: %w", t, lsn, err)
		}
		if ok {
			applied++
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		return err
	}
	idx.rebuildFreeSpace()
	logrus.Infof("brin: recovered %s: %d records applied, %d skipped", idx.name, applied, skipped)
	return idx.bufs.Flush()
}

func (idx *Index) redo(t walRecordType, lsn uint64, payload []byte) (bool, error) {
	switch t {
	case ETCreateIndex:
		rec := new(createIndexRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return false, err
		}
		return idx.redoCreateIndex(lsn, rec)
	case ETInsert, ETUpdate:
		rec := new(insertRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return false, err
		}
		return idx.redoInsert(lsn, rec)
	case ETSamepageUpdate:
		rec := new(samepageUpdateRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return false, err
		}
		return idx.redoSamepageUpdate(lsn, rec)
	case ETRevmapExtend:
		rec := new(revmapExtendRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return false, err
		}
		return idx.redoRevmapExtend(lsn, rec)
	case ETDesummarize:
		rec := new(desummarizeRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return false, err
		}
		return idx.redoDesummarize(lsn, rec)
	case ETInitPage:
		rec := new(initPageRecord)
		if err := rec.Unmarshal(payload); err != nil {
			return false, err
		}
		return idx.redoInitPage(lsn, rec)
	default:
		return false, fmt.Errorf("unknown record type %d", t)
	}
}

// redoBuffer pins the block, extending the file when the crash predates the
// extension's flush.
func (idx *Index) redoBuffer(blk common.BlockNumber) (*buffer.Buffer, error) {
	for idx.bufs.BlockCount() <= blk {
		buf, err := idx.bufs.Extend()
		if err != nil {
			return nil, err
		}
		idx.bufs.Unpin(buf)
	}
	return idx.bufs.Pin(blk)
}

func (idx *Index) redoCreateIndex(lsn uint64, rec *createIndexRecord) (bool, error) {
	buf, err := idx.redoBuffer(metaBlock)
	if err != nil {
		return false, err
	}
	defer idx.bufs.Unpin(buf)
	buf.Lock()
	defer buf.Unlock()
	p := buf.Page()
	if p.LSN() > lsn {
		return false, nil
	}
	initMetaPage(p, rec.PagesPerRange)
	p.SetLSN(lsn + 1)
	buf.MarkDirty()
	return true, nil
}

func (idx *Index) redoInsert(lsn uint64, rec *insertRecord) (bool, error) {
	applied := false

	buf, err := idx.redoBuffer(rec.Tid.Block)
	if err != nil {
		return false, err
	}
	buf.Lock()
	p := buf.Page()
	if p.LSN() <= lsn {
		if p.IsNew() {
			initPage(p, PageTypeRegular)
		}
		if p.IsUsed(rec.Tid.Offset) {
			err = p.OverwriteItem(rec.Tid.Offset, rec.Tuple)
		} else {
			_, err = p.AddItem(rec.Tuple, rec.Tid.Offset, true)
		}
		if err == nil {
			if rec.OldTid.IsValid() && rec.OldTid.Block == rec.Tid.Block {
				// A move within one page carries both halves in one record.
				p.DeleteItemNoCompact(rec.OldTid.Offset)
			}
			p.SetLSN(lsn + 1)
			buf.MarkDirty()
			applied = true
		}
	}
	buf.Unlock()
	idx.bufs.Unpin(buf)
	if err != nil {
		return applied, err
	}

	if rec.OldTid.IsValid() && rec.OldTid.Block != rec.Tid.Block {
		if buf, err = idx.redoBuffer(rec.OldTid.Block); err != nil {
			return applied, err
		}
		buf.Lock()
		p = buf.Page()
		if p.LSN() <= lsn {
			p.DeleteItemNoCompact(rec.OldTid.Offset)
			p.SetLSN(lsn + 1)
			buf.MarkDirty()
			applied = true
		}
		buf.Unlock()
		idx.bufs.Unpin(buf)
	}

	if buf, err = idx.redoBuffer(rec.RevmapBlk); err != nil {
		return applied, err
	}
	buf.Lock()
	p = buf.Page()
	if p.LSN() <= lsn {
		if p.IsNew() {
			initPage(p, PageTypeRevmap)
		}
		ppr, perr := idx.redoPagesPerRange()
		if perr != nil {
			buf.Unlock()
			idx.bufs.Unpin(buf)
			return applied, perr
		}
		revmapWriteEntry(p, revmapEntryIndex(ppr, rec.HeapBlk), rec.Tid)
		p.SetLSN(lsn + 1)
		buf.MarkDirty()
		applied = true
	}
	buf.Unlock()
	idx.bufs.Unpin(buf)
	return applied, nil
}

// redoPagesPerRange reads the range width off the metapage; replay cannot
// trust the in-memory options since the file is the authority.
func (idx *Index) redoPagesPerRange() (common.BlockNumber, error) {
	md, err := idx.metadata()
	if err != nil {
		return 0, err
	}
	return md.PagesPerRange, nil
}

func (idx *Index) redoSamepageUpdate(lsn uint64, rec *samepageUpdateRecord) (bool, error) {
	buf, err := idx.redoBuffer(rec.Tid.Block)
	if err != nil {
		return false, err
	}
	defer idx.bufs.Unpin(buf)
	buf.Lock()
	defer buf.Unlock()
	p := buf.Page()
	if p.LSN() > lsn {
		return false, nil
	}
	if p.IsUsed(rec.Tid.Offset) {
		err = p.OverwriteItem(rec.Tid.Offset, rec.Tuple)
	} else {
		_, err = p.AddItem(rec.Tuple, rec.Tid.Offset, true)
	}
	if err != nil {
		return false, err
	}
	p.SetLSN(lsn + 1)
	buf.MarkDirty()
	return true, nil
}

func (idx *Index) redoRevmapExtend(lsn uint64, rec *revmapExtendRecord) (bool, error) {
	applied := false

	buf, err := idx.redoBuffer(rec.TargetBlk)
	if err != nil {
		return false, err
	}
	buf.Lock()
	p := buf.Page()
	if p.LSN() <= lsn {
		initPage(p, PageTypeRevmap)
		p.SetLSN(lsn + 1)
		buf.MarkDirty()
		applied = true
	}
	buf.Unlock()
	idx.bufs.Unpin(buf)

	metaBuf, err := idx.redoBuffer(metaBlock)
	if err != nil {
		return applied, err
	}
	defer idx.bufs.Unpin(metaBuf)
	metaBuf.Lock()
	defer metaBuf.Unlock()
	mp := metaBuf.Page()
	if mp.LSN() <= lsn {
		md, err := readMetadata(mp)
		if err != nil {
			return applied, err
		}
		if md.LastRevmapPage < rec.TargetBlk {
			md.LastRevmapPage = rec.TargetBlk
			writeMetadata(mp, md)
		}
		mp.SetLSN(lsn + 1)
		metaBuf.MarkDirty()
		applied = true
	}
	return applied, nil
}

func (idx *Index) redoDesummarize(lsn uint64, rec *desummarizeRecord) (bool, error) {
	applied := false

	if rec.RevmapBlk != common.InvalidBlockNumber {
		buf, err := idx.redoBuffer(rec.RevmapBlk)
		if err != nil {
			return false, err
		}
		buf.Lock()
		p := buf.Page()
		if p.LSN() <= lsn {
			ppr, perr := idx.redoPagesPerRange()
			if perr != nil {
				buf.Unlock()
				idx.bufs.Unpin(buf)
				return false, perr
			}
			revmapWriteEntry(p, revmapEntryIndex(ppr, rec.HeapBlk), common.ItemPointer{})
			p.SetLSN(lsn + 1)
			buf.MarkDirty()
			applied = true
		}
		buf.Unlock()
		idx.bufs.Unpin(buf)
	}

	buf, err := idx.redoBuffer(rec.Tid.Block)
	if err != nil {
		return applied, err
	}
	defer idx.bufs.Unpin(buf)
	buf.Lock()
	defer buf.Unlock()
	p := buf.Page()
	if p.LSN() <= lsn {
		p.DeleteItemNoCompact(rec.Tid.Offset)
		p.SetLSN(lsn + 1)
		buf.MarkDirty()
		applied = true
	}
	return applied, nil
}

func (idx *Index) redoInitPage(lsn uint64, rec *initPageRecord) (bool, error) {
	buf, err := idx.redoBuffer(rec.Blk)
	if err != nil {
		return false, err
	}
	defer idx.bufs.Unpin(buf)
	buf.Lock()
	defer buf.Unlock()
	p := buf.Page()
	if p.LSN() > lsn {
		return false, nil
	}
	initPage(p, rec.PageType)
	p.SetLSN(lsn + 1)
	buf.MarkDirty()
	return true, nil
}

// rebuildFreeSpace reseeds the free-space map from the pages themselves.
func (idx *Index) rebuildFreeSpace() {
	nblocks := idx.bufs.BlockCount()
	for blk := common.BlockNumber(0); blk < nblocks; blk++ {
		buf, err := idx.bufs.Pin(blk)
		if err != nil {
			continue
		}
		buf.RLock()
		if free := pageFreeSpace(buf.Page()); free > 0 {
			idx.free.RecordFreeSpace(blk, free)
		}
		buf.RUnlock()
		idx.bufs.Unpin(buf)
	}
	idx.free.Truncate(nblocks)
}
