package wal

import (
	"sync"

	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/jiangxinmeng1/logstore/pkg/store"
)

// Driver is the write-ahead log sink. Append returns the LSN assigned to the
// record; when it returns, the record is durable.
type Driver interface {
	Append(t entry.Type, payload []byte) (uint64, error)
	Close() error
}

// Replayer is implemented by drivers that can iterate their log from the
// start, oldest record first. Recovery runs against this interface.
type Replayer interface {
	Replay(fn func(t entry.Type, lsn uint64, payload []byte) error) error
}

type baseDriver struct {
	sync.Mutex
	impl store.Store
	seq  uint64
	own  bool
}

func NewDriver(dir, name string, cfg *store.StoreCfg) (Driver, error) {
	impl, err := store.NewBaseStore(dir, name, cfg)
	if err != nil {
		return nil, err
	}
	return NewDriverWithStore(impl, true), nil
}

func NewDriverWithStore(impl store.Store, own bool) Driver {
	return &baseDriver{impl: impl, own: own}
}

func (d *baseDriver) Append(t entry.Type, payload []byte) (uint64, error) {
	d.Lock()
	lsn := d.seq
	d.seq++
	d.Unlock()

	e := entry.GetBase()
	e.SetType(t)
	if err := e.Unmarshal(payload); err != nil {
		return 0, err
	}
	e.SetInfo(&entry.Info{CommitId: lsn})
	if _, err := d.impl.AppendEntry(entry.GTCustomizedStart, e); err != nil {
		return 0, err
	}
	e.WaitDone()
	e.Free()
	return lsn, nil
}

func (d *baseDriver) Close() error {
	if d.own {
		return d.impl.Close()
	}
	return nil
}
