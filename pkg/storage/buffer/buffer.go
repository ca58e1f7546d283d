package buffer

import (
	"sync"
	"sync/atomic"

	"brin/pkg/common"
	"brin/pkg/storage/page"
)

// Buffer is an in-memory copy of one relation page. The embedded RWMutex is
// the content lock: shared for readers, exclusive for mutators. Pin before
// locking; the pin only prevents the buffer from going away, not concurrent
// access.
type Buffer struct {
	sync.RWMutex
	mgr   *Manager
	blk   common.BlockNumber
	page  page.Page
	pins  int32
	dirty int32
}

func (b *Buffer) Block() common.BlockNumber { return b.blk }

func (b *Buffer) Page() page.Page { return b.page }

func (b *Buffer) MarkDirty() { atomic.StoreInt32(&b.dirty, 1) }

func (b *Buffer) IsDirty() bool { return atomic.LoadInt32(&b.dirty) == 1 }

func (b *Buffer) Pins() int32 { return atomic.LoadInt32(&b.pins) }

func (b *Buffer) pin() { atomic.AddInt32(&b.pins, 1) }

func (b *Buffer) unpin() {
	if atomic.AddInt32(&b.pins, -1) < 0 {
		panic("buffer: unpin without pin")
	}
}
