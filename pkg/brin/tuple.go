package brin

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"brin/pkg/common"
)

// On-disk tuple layout:
//
//	+----------------+------+----------+-------------------------+
//	| heap block u32 | info | reserved | [null bitmap] [datums]  |
//	+----------------+------+----------+-------------------------+
//
// info low 5 bits hold the byte offset of the datum area; the null bitmap is
// present only when the has-nulls bit is set and holds two bits per column:
// the all-nulls half first, then the has-nulls half, both with 1 meaning the
// flag is set. Datums are packed in column order, each column contributing
// its opclass-defined number of stored values; fixed-length values raw,
// variable-length ones with a 2-byte length prefix.
const (
	tupleHdrSize = 6

	infoOffsetMask  = 0x1F
	infoEmptyMask   = 0x20
	infoPlaceholder = 0x40
	infoHasNulls    = 0x80
)

// FormTuple serializes mt for the range starting at mt.HeapBlock.
func (d *Desc) FormTuple(mt *MemTuple) ([]byte, error) {
	natts := d.NumAttrs()
	anyNulls := false
	for i := range mt.Columns {
		if mt.Columns[i].AllNulls || mt.Columns[i].HasNulls {
			anyNulls = true
			break
		}
	}
	bitmapLen := 0
	if anyNulls {
		bitmapLen = (2*natts + 7) / 8
	}
	dataOff := tupleHdrSize + bitmapLen
	if dataOff > infoOffsetMask {
		return nil, fmt.Errorf("brin: %d indexed columns exceed tuple header capacity", natts)
	}

	var buf bytes.Buffer
	var hdr [tupleHdrSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], mt.HeapBlock)
	info := uint8(dataOff)
	if anyNulls {
		info |= infoHasNulls
	}
	if mt.Placeholder {
		info |= infoPlaceholder
	}
	if mt.Empty {
		info |= infoEmptyMask
	}
	hdr[4] = info
	buf.Write(hdr[:])

	if anyNulls {
		bitmap := make([]byte, bitmapLen)
		for i := range mt.Columns {
			if mt.Columns[i].AllNulls {
				bitmap[i/8] |= 1 << (i % 8)
			}
			if mt.Columns[i].HasNulls {
				j := natts + i
				bitmap[j/8] |= 1 << (j % 8)
			}
		}
		buf.Write(bitmap)
	}

	for i := range d.Attrs {
		bv := &mt.Columns[i]
		if bv.AllNulls {
			continue
		}
		info := d.Info[i]
		if len(bv.Stored) != info.NStored {
			return nil, fmt.Errorf("brin: column %q holds %d stored values, expected %d",
				d.Attrs[i].Name, len(bv.Stored), info.NStored)
		}
		for j, v := range bv.Stored {
			if l := info.StoredLens[j]; l == VarLen {
				var sz [2]byte
				binary.LittleEndian.PutUint16(sz[:], uint16(len(v)))
				buf.Write(sz[:])
				buf.Write(v)
			} else {
				if len(v) != l {
					return nil, fmt.Errorf("brin: column %q stored value %d is %d bytes, expected %d",
						d.Attrs[i].Name, j, len(v), l)
				}
				buf.Write(v)
			}
		}
	}
	return buf.Bytes(), nil
}

// FormPlaceholderTuple builds the tuple inserted at the start of
// summarization and reused for empty-range backfill: no values, every column
// all-nulls, placeholder and empty flags set.
func (d *Desc) FormPlaceholderTuple(heapBlk common.BlockNumber) ([]byte, error) {
	mt := NewMemTuple(d)
	mt.HeapBlock = heapBlk
	mt.Placeholder = true
	return d.FormTuple(mt)
}

// SetTupleHeapBlock rewrites the range header of a serialized tuple in place.
// Backfill reuses one empty tuple this way.
func SetTupleHeapBlock(tup []byte, heapBlk common.BlockNumber) {
	binary.LittleEndian.PutUint32(tup[0:], heapBlk)
}

// TupleHeapBlock reads the range start block from a serialized tuple.
func TupleHeapBlock(tup []byte) common.BlockNumber {
	return binary.LittleEndian.Uint32(tup[0:])
}

// TupleIsPlaceholder reads the placeholder flag without a full deform.
func TupleIsPlaceholder(tup []byte) bool {
	return tup[4]&infoPlaceholder != 0
}

// DeformTuple reverses FormTuple. Offsets are never cached: columns store
// varying numbers of datums of varying widths, so the decoder walks columns
// in order.
func (d *Desc) DeformTuple(tup []byte) (*MemTuple, error) {
	if len(tup) < tupleHdrSize {
		return nil, fmt.Errorf("%w: tuple of %d bytes", ErrCorruptPage, len(tup))
	}
	natts := d.NumAttrs()
	mt := NewMemTuple(d)
	mt.HeapBlock = binary.LittleEndian.Uint32(tup[0:])
	info := tup[4]
	mt.Placeholder = info&infoPlaceholder != 0
	mt.Empty = info&infoEmptyMask != 0
	dataOff := int(info & infoOffsetMask)
	if dataOff < tupleHdrSize || dataOff > len(tup) {
		return nil, fmt.Errorf("%w: bad tuple data offset %d", ErrCorruptPage, dataOff)
	}

	if info&infoHasNulls != 0 {
		bitmap := tup[tupleHdrSize:dataOff]
		if len(bitmap) < (2*natts+7)/8 {
			return nil, fmt.Errorf("%w: null bitmap truncated", ErrCorruptPage)
		}
		for i := 0; i < natts; i++ {
			mt.Columns[i].AllNulls = bitmap[i/8]&(1<<(i%8)) != 0
			j := natts + i
			mt.Columns[i].HasNulls = bitmap[j/8]&(1<<(j%8)) != 0
		}
	} else {
		for i := 0; i < natts; i++ {
			mt.Columns[i].AllNulls = false
		}
	}

	pos := dataOff
	for i := 0; i < natts; i++ {
		bv := &mt.Columns[i]
		if bv.AllNulls {
			continue
		}
		opcinfo := d.Info[i]
		bv.Stored = make([]common.Datum, opcinfo.NStored)
		for j := 0; j < opcinfo.NStored; j++ {
			l := opcinfo.StoredLens[j]
			if l == VarLen {
				if pos+2 > len(tup) {
					return nil, fmt.Errorf("%w: varlena length truncated", ErrCorruptPage)
				}
				l = int(binary.LittleEndian.Uint16(tup[pos:]))
				pos += 2
			}
			if pos+l > len(tup) {
				return nil, fmt.Errorf("%w: datum overruns tuple", ErrCorruptPage)
			}
			bv.Stored[j] = append(common.Datum(nil), tup[pos:pos+l]...)
			pos += l
		}
	}
	return mt, nil
}

// TuplesEqual reports whether two serialized tuples have identical byte
// images. Used to detect concurrent modification of the old tuple during an
// update.
func TuplesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// CopyTuple detaches a tuple from the page it was read off.
func CopyTuple(tup []byte) []byte {
	return append([]byte(nil), tup...)
}
