package brin

import (
	"encoding/binary"

	"brin/pkg/common"
)

// MockDatum renders an int64 in the encoding MockOpclass expects.
func MockDatum(v int64) common.Datum {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func mockDecode(d common.Datum) int64 {
	return int64(binary.LittleEndian.Uint64(d))
}

// MockOpclass keeps the smallest and largest int64 seen per range. Test
// helper; the real implementations live under their own packages.
type MockOpclass struct{}

func (MockOpclass) OpcInfo(attr Attribute) OpcInfo {
	return OpcInfo{NStored: 2, StoredLens: []int{8, 8}, RegularNulls: true}
}

func (MockOpclass) AddValue(bv *Values, value common.Datum, isNull bool) bool {
	if bv.AllNulls || len(bv.Stored) == 0 {
		bv.AllNulls = false
		bv.Stored = []common.Datum{
			append(common.Datum(nil), value...),
			append(common.Datum(nil), value...),
		}
		return true
	}
	v := mockDecode(value)
	modified := false
	if v < mockDecode(bv.Stored[0]) {
		bv.Stored[0] = append(common.Datum(nil), value...)
		modified = true
	}
	if v > mockDecode(bv.Stored[1]) {
		bv.Stored[1] = append(common.Datum(nil), value...)
		modified = true
	}
	return modified
}

func (MockOpclass) Union(a, b *Values) {
	if mockDecode(b.Stored[0]) < mockDecode(a.Stored[0]) {
		a.Stored[0] = append(common.Datum(nil), b.Stored[0]...)
	}
	if mockDecode(b.Stored[1]) > mockDecode(a.Stored[1]) {
		a.Stored[1] = append(common.Datum(nil), b.Stored[1]...)
	}
}

func (MockOpclass) Consistent(bv *Values, key *ScanKey) bool {
	min := mockDecode(bv.Stored[0])
	max := mockDecode(bv.Stored[1])
	k := mockDecode(key.Value)
	switch key.Strategy {
	case Less:
		return min < k
	case LessEqual:
		return min <= k
	case Equal:
		return min <= k && k <= max
	case GreaterEqual:
		return max >= k
	case Greater:
		return max > k
	}
	return true
}

// MockBatchOpclass is MockOpclass behind the all-keys-at-once ABI.
type MockBatchOpclass struct {
	MockOpclass
}

func (oc MockBatchOpclass) ConsistentBatch(bv *Values, keys []*ScanKey) bool {
	for _, k := range keys {
		if !oc.Consistent(bv, k) {
			return false
		}
	}
	return true
}
