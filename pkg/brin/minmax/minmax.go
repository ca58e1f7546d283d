// Package minmax provides summaries that keep the smallest and largest
// value seen in each page range. Any ordered type works; implementations
// are provided for int64 and raw byte strings.
package minmax

import (
	"bytes"
	"encoding/binary"

	"brin/pkg/brin"
	"brin/pkg/common"
)

const (
	slotMin = 0
	slotMax = 1
)

func clone(d common.Datum) common.Datum {
	return append(common.Datum(nil), d...)
}

// EncodeInt64 renders v in the fixed 8-byte column encoding.
func EncodeInt64(v int64) common.Datum {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func DecodeInt64(d common.Datum) int64 {
	return int64(binary.LittleEndian.Uint64(d))
}

// Int64 is the min/max opclass for 8-byte signed integers.
type Int64 struct{}

func (Int64) OpcInfo(attr brin.Attribute) brin.OpcInfo {
	return brin.OpcInfo{
		NStored:      2,
		StoredLens:   []int{8, 8},
		RegularNulls: true,
	}
}

func (Int64) AddValue(bv *brin.Values, value common.Datum, isNull bool) bool {
	if bv.AllNulls || len(bv.Stored) == 0 {
		bv.AllNulls = false
		bv.Stored = []common.Datum{clone(value), clone(value)}
		return true
	}
	v := DecodeInt64(value)
	modified := false
	if v < DecodeInt64(bv.Stored[slotMin]) {
		bv.Stored[slotMin] = clone(value)
		modified = true
	}
	if v > DecodeInt64(bv.Stored[slotMax]) {
		bv.Stored[slotMax] = clone(value)
		modified = true
	}
	return modified
}

func (Int64) Union(a, b *brin.Values) {
	if DecodeInt64(b.Stored[slotMin]) < DecodeInt64(a.Stored[slotMin]) {
		a.Stored[slotMin] = clone(b.Stored[slotMin])
	}
	if DecodeInt64(b.Stored[slotMax]) > DecodeInt64(a.Stored[slotMax]) {
		a.Stored[slotMax] = clone(b.Stored[slotMax])
	}
}

func (Int64) Consistent(bv *brin.Values, key *brin.ScanKey) bool {
	min := DecodeInt64(bv.Stored[slotMin])
	max := DecodeInt64(bv.Stored[slotMax])
	k := DecodeInt64(key.Value)
	switch key.Strategy {
	case brin.Less:
		return min < k
	case brin.LessEqual:
		return min <= k
	case brin.Equal:
		return min <= k && k <= max
	case brin.GreaterEqual:
		return max >= k
	case brin.Greater:
		return max > k
	}
	return true
}

// Bytes is the min/max opclass for variable-length byte strings, ordered
// lexicographically.
type Bytes struct{}

func (Bytes) OpcInfo(attr brin.Attribute) brin.OpcInfo {
	return brin.OpcInfo{
		NStored:      2,
		StoredLens:   []int{brin.VarLen, brin.VarLen},
		RegularNulls: true,
	}
}

func (Bytes) AddValue(bv *brin.Values, value common.Datum, isNull bool) bool {
	if bv.AllNulls || len(bv.Stored) == 0 {
		bv.AllNulls = false
		bv.Stored = []common.Datum{clone(value), clone(value)}
		return true
	}
	modified := false
	if bytes.Compare(value, bv.Stored[slotMin]) < 0 {
		bv.Stored[slotMin] = clone(value)
		modified = true
	}
	if bytes.Compare(value, bv.Stored[slotMax]) > 0 {
		bv.Stored[slotMax] = clone(value)
		modified = true
	}
	return modified
}

func (Bytes) Union(a, b *brin.Values) {
	if bytes.Compare(b.Stored[slotMin], a.Stored[slotMin]) < 0 {
		a.Stored[slotMin] = clone(b.Stored[slotMin])
	}
	if bytes.Compare(b.Stored[slotMax], a.Stored[slotMax]) > 0 {
		a.Stored[slotMax] = clone(b.Stored[slotMax])
	}
}

func (Bytes) Consistent(bv *brin.Values, key *brin.ScanKey) bool {
	cmin := bytes.Compare(bv.Stored[slotMin], key.Value)
	cmax := bytes.Compare(bv.Stored[slotMax], key.Value)
	switch key.Strategy {
	case brin.Less:
		return cmin < 0
	case brin.LessEqual:
		return cmin <= 0
	case brin.Equal:
		return cmin <= 0 && cmax >= 0
	case brin.GreaterEqual:
		return cmax >= 0
	case brin.Greater:
		return cmax > 0
	}
	return true
}
