package wal

import (
	"sync"

	"github.com/jiangxinmeng1/logstore/pkg/entry"
)

type memRecord struct {
	typ     entry.Type
	lsn     uint64
	payload []byte
}

// MemDriver keeps the log in memory. Used by tests and by recovery
// verification: it implements Replayer.
type MemDriver struct {
	sync.Mutex
	records []memRecord
	seq     uint64
}

func NewMemDriver() *MemDriver {
	return &MemDriver{}
}

func (d *MemDriver) Append(t entry.Type, payload []byte) (uint64, error) {
	d.Lock()
	defer d.Unlock()
	lsn := d.seq
	d.seq++
	buf := make([]byte, len(payload))
	copy(buf, payload)
	d.records = append(d.records, memRecord{typ: t, lsn: lsn, payload: buf})
	return lsn, nil
}

func (d *MemDriver) Close() error { return nil }

// Len reports the next LSN to be assigned.
func (d *MemDriver) Len() uint64 {
	d.Lock()
	defer d.Unlock()
	return d.seq
}

func (d *MemDriver) Replay(fn func(t entry.Type, lsn uint64, payload []byte) error) error {
	d.Lock()
	records := make([]memRecord, len(d.records))
	copy(records, d.records)
	d.Unlock()
	for _, rec := range records {
		if err := fn(rec.typ, rec.lsn, rec.payload); err != nil {
			return err
		}
	}
	return nil
}

// TruncateAt drops every record with LSN >= lsn. Crash-consistency tests use
// it to model a crash between two syncs.
func (d *MemDriver) TruncateAt(lsn uint64) {
	d.Lock()
	defer d.Unlock()
	i := 0
	for ; i < len(d.records); i++ {
		if d.records[i].lsn >= lsn {
			break
		}
	}
	d.records = d.records[:i]
}
