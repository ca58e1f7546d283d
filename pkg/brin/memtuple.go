package brin

import (
	"brin/pkg/common"
)

// Values is the in-memory summary state of one column.
type Values struct {
	AttNum   int
	AllNulls bool
	HasNulls bool
	Stored   []common.Datum
}

// MemTuple is the deserialized form of a summary tuple: per-column values
// plus the range flags. A fresh tuple is empty and all-nulls until the first
// value is folded in.
type MemTuple struct {
	Placeholder bool
	Empty       bool
	HeapBlock   common.BlockNumber
	Columns     []Values
}

// NewMemTuple returns an initialized accumulator for the descriptor.
func NewMemTuple(d *Desc) *MemTuple {
	mt := &MemTuple{Columns: make([]Values, d.NumAttrs())}
	mt.Reset(d)
	return mt
}

// Reset reinitializes the accumulator for a new range.
func (mt *MemTuple) Reset(d *Desc) {
	mt.Placeholder = false
	mt.Empty = true
	mt.HeapBlock = 0
	for i := range mt.Columns {
		mt.Columns[i] = Values{AttNum: i, AllNulls: true}
	}
}

// Add folds one heap row into the accumulator, returning whether any column
// summary changed. Null handling for regular-nulls opclasses happens here so
// AddValue never sees a null for them.
func (mt *MemTuple) Add(d *Desc, values []common.Datum, nulls []bool) bool {
	modified := false
	if mt.Empty {
		mt.Empty = false
		modified = true
	}
	for i := range d.Attrs {
		bv := &mt.Columns[i]
		if d.Info[i].RegularNulls && nulls[i] {
			if !bv.HasNulls {
				bv.HasNulls = true
				modified = true
			}
			continue
		}
		if d.Opclasses[i].AddValue(bv, values[i], nulls[i]) {
			modified = true
		}
	}
	return modified
}

// Union merges b into a so that a summarizes the union of both ranges.
// The Empty flag lets a placeholder that never saw a row be told apart from
// a range whose every value was null.
func (d *Desc) Union(a, b *MemTuple) {
	if b.Empty {
		return
	}
	if a.Empty {
		a.Empty = false
		for i := range a.Columns {
			copyValues(&a.Columns[i], &b.Columns[i])
		}
		return
	}
	for i := range d.Attrs {
		ca, cb := &a.Columns[i], &b.Columns[i]
		if cb.HasNulls && !ca.HasNulls {
			ca.HasNulls = true
		}
		if cb.AllNulls {
			// b's rows were all null
			if !ca.AllNulls {
				ca.HasNulls = true
			}
			continue
		}
		if ca.AllNulls {
			// a's rows were all null, adopt b's values
			copyValues(ca, cb)
			ca.HasNulls = true
			continue
		}
		d.Opclasses[i].Union(ca, cb)
	}
}

func copyValues(dst, src *Values) {
	dst.AllNulls = src.AllNulls
	dst.HasNulls = dst.HasNulls || src.HasNulls
	dst.Stored = make([]common.Datum, len(src.Stored))
	for i, v := range src.Stored {
		dst.Stored[i] = append(common.Datum(nil), v...)
	}
}
