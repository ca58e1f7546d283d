package brin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"brin/pkg/common"
	"brin/pkg/heap"
	"brin/pkg/storage/buffer"
	"brin/pkg/storage/fsm"
	"brin/pkg/wal"

	"github.com/sirupsen/logrus"
)

// Config describes an index relation to create or open.
type Config struct {
	Name      string
	Owner     string
	Attrs     []Attribute
	Opclasses []Opclass
	Options   Options
	Wal       wal.Driver
}

// Index is an open block range index relation.
type Index struct {
	name  string
	owner string
	path  string
	bufs  *buffer.Manager
	free  *fsm.Map
	wal   wal.Driver
	desc  *Desc
	opts  Options

	// targetBlk remembers the last block an insert succeeded on; consulted
	// before the free-space map. -1 when unset.
	targetBlk int64

	recovery int32
	closed   int32

	// Serializes range summarization; two summarizers racing on the same
	// range would each insert a placeholder.
	summarizeMu sync.Mutex

	autosumOnce sync.Once
	autosumCh   chan autosumRequest
	autosumWG   sync.WaitGroup
}

type autosumRequest struct {
	rangeStart common.BlockNumber
	heapRel    heap.Relation
}

func newIndex(dir string, cfg Config) (*Index, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	desc, err := lookupDesc(cfg.Name, func() (*Desc, error) {
		return BuildDesc(cfg.Attrs, cfg.Opclasses)
	})
	if err != nil {
		return nil, err
	}
	w := cfg.Wal
	if w == nil {
		w = wal.NewMemDriver()
	}
	path := filepath.Join(dir, cfg.Name+".brin")
	bufs, err := buffer.Open(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		name:      cfg.Name,
		owner:     cfg.Owner,
		path:      path,
		bufs:      bufs,
		free:      fsm.New(),
		wal:       w,
		desc:      desc,
		opts:      cfg.Options,
		targetBlk: -1,
	}
	if cfg.Options.Autosummarize {
		idx.startAutosummarizer()
	}
	return idx, nil
}

// Create opens a brand-new index relation. The file must not already hold
// pages; Build or BuildEmpty writes the metapage.
func Create(dir string, cfg Config) (*Index, error) {
	if st, err := os.Stat(filepath.Join(dir, cfg.Name+".brin")); err == nil && st.Size() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotEmpty, cfg.Name)
	}
	return newIndex(dir, cfg)
}

// Open opens an existing index and validates its metapage.
func Open(dir string, cfg Config) (*Index, error) {
	idx, err := newIndex(dir, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := idx.metadata(); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Name() string { return idx.name }

func (idx *Index) Desc() *Desc { return idx.desc }

func (idx *Index) Close() error {
	if !atomic.CompareAndSwapInt32(&idx.closed, 0, 1) {
		return nil
	}
	idx.stopAutosummarizer()
	dropDesc(idx.name)
	return idx.bufs.Close()
}

// Flush forces dirty pages to disk.
func (idx *Index) Flush() error { return idx.bufs.Flush() }

func (idx *Index) inRecovery() bool { return atomic.LoadInt32(&idx.recovery) == 1 }

// metadata reads the metapage under a shared lock.
func (idx *Index) metadata() (metadata, error) {
	if idx.bufs.BlockCount() == 0 {
		return metadata{}, fmt.Errorf("%w: %s has no metapage", ErrNotBrinIndex, idx.name)
	}
	buf, err := idx.bufs.Pin(metaBlock)
	if err != nil {
		return metadata{}, err
	}
	defer idx.bufs.Unpin(buf)
	buf.RLock()
	defer buf.RUnlock()
	return readMetadata(buf.Page())
}

// BuildEmpty writes just the metapage. The relation must be empty.
func (idx *Index) BuildEmpty(ctx context.Context) error {
	if idx.bufs.BlockCount() != 0 {
		return fmt.Errorf("%w: %s", ErrIndexNotEmpty, idx.name)
	}
	buf, err := idx.bufs.Extend()
	if err != nil {
		return err
	}
	defer idx.bufs.Unpin(buf)
	buf.Lock()
	defer buf.Unlock()
	initMetaPage(buf.Page(), common.BlockNumber(idx.opts.PagesPerRange))
	buf.MarkDirty()

	rec := &createIndexRecord{Version: CurrentVersion, PagesPerRange: common.BlockNumber(idx.opts.PagesPerRange)}
	lsn, err := idx.logRecord(ETCreateIndex, rec)
	if err != nil {
		return err
	}
	buf.Page().SetLSN(lsn + 1)
	return nil
}

func (idx *Index) logRecord(t walRecordType, rec walRecord) (uint64, error) {
	payload, err := rec.Marshal()
	if err != nil {
		return 0, err
	}
	return idx.wal.Append(t, payload)
}

func (idx *Index) loadTargetBlock() common.BlockNumber {
	v := atomic.LoadInt64(&idx.targetBlk)
	if v < 0 {
		return common.InvalidBlockNumber
	}
	return common.BlockNumber(v)
}

func (idx *Index) storeTargetBlock(blk common.BlockNumber) {
	atomic.StoreInt64(&idx.targetBlk, int64(blk))
}

func (idx *Index) startAutosummarizer() {
	idx.autosumCh = make(chan autosumRequest, 64)
	idx.autosumWG.Add(1)
	go func() {
		defer idx.autosumWG.Done()
		for req := range idx.autosumCh {
			ctx := context.Background()
			if _, err := idx.summarizeRangeStart(ctx, req.heapRel, req.rangeStart); err != nil {
				logrus.Warnf("brin: autosummarize of range at block %d on %s: %v",
					req.rangeStart, idx.name, err)
			}
		}
	}()
}

func (idx *Index) stopAutosummarizer() {
	if idx.autosumCh == nil {
		return
	}
	idx.autosumOnce.Do(func() { close(idx.autosumCh) })
	idx.autosumWG.Wait()
}

// requestAutosummarize queues work for the background summarizer; a full
// queue drops the request with a log line, never an error.
func (idx *Index) requestAutosummarize(rangeStart common.BlockNumber, heapRel heap.Relation) {
	if idx.autosumCh == nil {
		return
	}
	select {
	case idx.autosumCh <- autosumRequest{rangeStart: rangeStart, heapRel: heapRel}:
	default:
		logrus.Infof("brin: autosummarize request for range at block %d on %s dropped",
			rangeStart, idx.name)
	}
}
