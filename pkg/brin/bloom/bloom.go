// Package bloom provides a summary that keeps a bloom filter of the hashed
// values in each page range. It supports equality predicates only, which
// makes it useful for columns whose values do not correlate with heap order.
package bloom

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"brin/pkg/brin"
	"brin/pkg/common"
)

const (
	DefaultValuesPerRange    = 128
	DefaultFalsePositiveRate = 0.01

	// filter layout: u16 LE hash count, u32 LE bit count, bitmap
	filterHdrSize = 6
)

// Opclass summarizes a column as a per-range bloom filter. The zero value is
// not usable; construct with New.
type Opclass struct {
	valuesPerRange    int
	falsePositiveRate float64
	nBits             uint32
	nHashes           uint16
}

func New(valuesPerRange int, falsePositiveRate float64) *Opclass {
	if valuesPerRange <= 0 {
		valuesPerRange = DefaultValuesPerRange
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = DefaultFalsePositiveRate
	}
	n := float64(valuesPerRange)
	nBits := uint32(math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if nBits < 8 {
		nBits = 8
	}
	nHashes := uint16(math.Round(float64(nBits) / n * math.Ln2))
	if nHashes < 1 {
		nHashes = 1
	}
	return &Opclass{
		valuesPerRange:    valuesPerRange,
		falsePositiveRate: falsePositiveRate,
		nBits:             nBits,
		nHashes:           nHashes,
	}
}

func Default() *Opclass { return New(DefaultValuesPerRange, DefaultFalsePositiveRate) }

func (oc *Opclass) OpcInfo(attr brin.Attribute) brin.OpcInfo {
	return brin.OpcInfo{
		NStored:      1,
		StoredLens:   []int{brin.VarLen},
		RegularNulls: true,
	}
}

func (oc *Opclass) newFilter() common.Datum {
	f := make(common.Datum, filterHdrSize+(oc.nBits+7)/8)
	binary.LittleEndian.PutUint16(f, oc.nHashes)
	binary.LittleEndian.PutUint32(f[2:], oc.nBits)
	return f
}

// hashPair derives the two double-hashing seeds for a value.
func hashPair(value common.Datum) (uint32, uint32) {
	h := fnv.New64a()
	h.Write(value)
	sum := h.Sum64()
	h1 := uint32(sum >> 32)
	h2 := uint32(sum)
	if h2%2 == 0 {
		// An even step can cycle through only part of the bit space.
		h2++
	}
	return h1, h2
}

func filterAdd(f common.Datum, value common.Datum) bool {
	nHashes := binary.LittleEndian.Uint16(f)
	nBits := binary.LittleEndian.Uint32(f[2:])
	bits := f[filterHdrSize:]
	h1, h2 := hashPair(value)
	modified := false
	for i := uint32(0); i < uint32(nHashes); i++ {
		bit := (h1 + i*h2) % nBits
		if bits[bit/8]&(1<<(bit%8)) == 0 {
			bits[bit/8] |= 1 << (bit % 8)
			modified = true
		}
	}
	return modified
}

func filterContains(f common.Datum, value common.Datum) bool {
	nHashes := binary.LittleEndian.Uint16(f)
	nBits := binary.LittleEndian.Uint32(f[2:])
	bits := f[filterHdrSize:]
	h1, h2 := hashPair(value)
	for i := uint32(0); i < uint32(nHashes); i++ {
		bit := (h1 + i*h2) % nBits
		if bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

func (oc *Opclass) AddValue(bv *brin.Values, value common.Datum, isNull bool) bool {
	if bv.AllNulls || len(bv.Stored) == 0 {
		bv.AllNulls = false
		bv.Stored = []common.Datum{oc.newFilter()}
		filterAdd(bv.Stored[0], value)
		return true
	}
	return filterAdd(bv.Stored[0], value)
}

// Union merges b's filter into a's by ORing the bitmaps. Both sides come
// from the same opclass configuration, so the geometries match.
func (oc *Opclass) Union(a, b *brin.Values) {
	fa, fb := a.Stored[0], b.Stored[0]
	if len(fa) != len(fb) {
		// Mismatched geometry; saturate so the summary stays conservative.
		for i := filterHdrSize; i < len(fa); i++ {
			fa[i] = 0xFF
		}
		return
	}
	for i := filterHdrSize; i < len(fa); i++ {
		fa[i] |= fb[i]
	}
}

// ConsistentBatch answers all keys at once. Only equality can be refuted by
// a bloom filter; any other strategy keeps the range in play.
func (oc *Opclass) ConsistentBatch(bv *brin.Values, keys []*brin.ScanKey) bool {
	for _, k := range keys {
		if k.Strategy != brin.Equal {
			continue
		}
		if !filterContains(bv.Stored[0], k.Value) {
			return false
		}
	}
	return true
}
