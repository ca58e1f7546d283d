package bloom

import (
	"context"
	"fmt"
	"testing"

	"brin/pkg/brin"
	"brin/pkg/common"
	"brin/pkg/heap"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
)

func TestGeometry(t *testing.T) {
	oc := Default()
	assert.Equal(t, DefaultValuesPerRange, oc.valuesPerRange)
	assert.True(t, oc.nBits >= 8)
	assert.True(t, oc.nHashes >= 1)

	// bad parameters fall back to the defaults
	fallback := New(-1, 3.0)
	assert.Equal(t, oc.nBits, fallback.nBits)
	assert.Equal(t, oc.nHashes, fallback.nHashes)

	// a larger capacity needs a larger filter
	big := New(1024, DefaultFalsePositiveRate)
	assert.True(t, big.nBits > oc.nBits)
}

func TestNoFalseNegatives(t *testing.T) {
	oc := New(64, 0.01)
	bv := &brin.Values{AllNulls: true}
	for i := 0; i < 64; i++ {
		oc.AddValue(bv, []byte(fmt.Sprintf("member-%d", i)), false)
	}
	assert.False(t, bv.AllNulls)
	for i := 0; i < 64; i++ {
		key := &brin.ScanKey{Strategy: brin.Equal, Value: []byte(fmt.Sprintf("member-%d", i))}
		assert.True(t, oc.ConsistentBatch(bv, []*brin.ScanKey{key}))
	}
}

func TestFalsePositiveRate(t *testing.T) {
	oc := New(64, 0.01)
	bv := &brin.Values{AllNulls: true}
	for i := 0; i < 64; i++ {
		oc.AddValue(bv, []byte(fmt.Sprintf("member-%d", i)), false)
	}
	hits := 0
	const probes = 1000
	for i := 0; i < probes; i++ {
		key := &brin.ScanKey{Strategy: brin.Equal, Value: []byte(fmt.Sprintf("absent-%d", i))}
		if oc.ConsistentBatch(bv, []*brin.ScanKey{key}) {
			hits++
		}
	}
	// configured for 1%; anything near that is fine, an order of magnitude
	// off means the hashing is broken
	assert.Less(t, hits, probes/10)
}

func TestNonEqualityNeverRefutes(t *testing.T) {
	oc := Default()
	bv := &brin.Values{AllNulls: true}
	oc.AddValue(bv, []byte("only"), false)
	for _, s := range []brin.Strategy{brin.Less, brin.LessEqual, brin.GreaterEqual, brin.Greater} {
		key := &brin.ScanKey{Strategy: s, Value: []byte("whatever")}
		assert.True(t, oc.ConsistentBatch(bv, []*brin.ScanKey{key}))
	}
}

func TestUnion(t *testing.T) {
	oc := New(64, 0.01)
	a := &brin.Values{AllNulls: true}
	b := &brin.Values{AllNulls: true}
	oc.AddValue(a, []byte("left"), false)
	oc.AddValue(b, []byte("right"), false)

	oc.Union(a, b)
	for _, v := range []string{"left", "right"} {
		key := &brin.ScanKey{Strategy: brin.Equal, Value: []byte(v)}
		assert.True(t, oc.ConsistentBatch(a, []*brin.ScanKey{key}))
	}
}

func TestUnionMismatchedGeometrySaturates(t *testing.T) {
	a := &brin.Values{AllNulls: true}
	b := &brin.Values{AllNulls: true}
	New(64, 0.01).AddValue(a, []byte("left"), false)
	New(1024, 0.01).AddValue(b, []byte("right"), false)

	oc := New(64, 0.01)
	oc.Union(a, b)
	// saturated filter admits everything
	for i := 0; i < 100; i++ {
		key := &brin.ScanKey{Strategy: brin.Equal, Value: []byte(fmt.Sprintf("any-%d", i))}
		assert.True(t, oc.ConsistentBatch(a, []*brin.ScanKey{key}))
	}
}

func TestIndexScan(t *testing.T) {
	idx, err := brin.Create(t.TempDir(), brin.Config{
		Name:      "bloom_scan",
		Attrs:     []brin.Attribute{{Name: "tag", Len: brin.VarLen}},
		Opclasses: []brin.Opclass{Default()},
		Options:   brin.Options{PagesPerRange: 2},
	})
	assert.Nil(t, err)
	defer idx.Close()

	h := heap.NewMockHeap()
	for blk := common.BlockNumber(0); blk < 8; blk++ {
		for row := 0; row < 4; row++ {
			h.Append(blk, []common.Datum{[]byte(fmt.Sprintf("tag-%d-%d", blk, row))}, []bool{false})
		}
	}
	ctx := context.Background()
	_, err = idx.Build(ctx, h)
	assert.Nil(t, err)

	s, err := idx.BeginScan()
	assert.Nil(t, err)
	defer s.EndScan()

	// "tag-5-2" lives on block 5, range [4,5]; the filter may admit other
	// ranges but never drops the right one
	s.Rescan([]brin.ScanKey{{Strategy: brin.Equal, Value: []byte("tag-5-2")}})
	tbm := roaring.New()
	_, err = s.GetBitmap(ctx, h, tbm)
	assert.Nil(t, err)
	assert.True(t, tbm.Contains(4))
	assert.True(t, tbm.Contains(5))
}
