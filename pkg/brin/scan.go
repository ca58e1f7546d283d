package brin

import (
	"context"

	"brin/pkg/common"
	"brin/pkg/heap"

	"github.com/RoaringBitmap/roaring"
)

// Scanner is one bitmap index scan. It is reusable across Rescan calls and
// not safe for concurrent use; run one Scanner per querying goroutine.
type Scanner struct {
	idx *Index
	rm  *revmap

	// keys partitioned by attribute at Rescan time
	keys       [][]*ScanKey
	nullKeys   [][]*ScanKey
	anyRegular bool
}

// BeginScan prepares a scan with no keys; every range matches until Rescan
// installs a predicate.
func (idx *Index) BeginScan() (*Scanner, error) {
	if idx.inRecovery() {
		return nil, ErrRecoveryInProgress
	}
	rm, err := idx.initRevmap()
	if err != nil {
		return nil, err
	}
	return &Scanner{
		idx:      idx,
		rm:       rm,
		keys:     make([][]*ScanKey, idx.desc.NumAttrs()),
		nullKeys: make([][]*ScanKey, idx.desc.NumAttrs()),
	}, nil
}

// Rescan replaces the scan keys. Keys are partitioned per attribute once so
// the per-range loop only touches attributes that have predicates.
func (s *Scanner) Rescan(keys []ScanKey) {
	for i := range s.keys {
		s.keys[i] = nil
		s.nullKeys[i] = nil
	}
	s.anyRegular = false
	for i := range keys {
		k := &keys[i]
		if k.AttNum < 0 || k.AttNum >= len(s.keys) {
			continue
		}
		if k.IsNullKey() {
			s.nullKeys[k.AttNum] = append(s.nullKeys[k.AttNum], k)
		} else {
			s.keys[k.AttNum] = append(s.keys[k.AttNum], k)
			s.anyRegular = true
		}
	}
}

func (s *Scanner) EndScan() {
	if s.rm != nil {
		s.rm.release()
		s.rm = nil
	}
}

// checkNullKeys applies IS NULL / IS NOT NULL predicates against a column
// summary. IS NULL needs some null in the range; IS NOT NULL needs some
// value, which only an all-nulls column rules out.
func checkNullKeys(bv *Values, nullKeys []*ScanKey) bool {
	for _, k := range nullKeys {
		if k.SearchNull && !bv.AllNulls && !bv.HasNulls {
			return false
		}
		if k.SearchNotNull && bv.AllNulls {
			return false
		}
	}
	return true
}

// rangeMatches evaluates the scan keys against one deformed summary.
func (s *Scanner) rangeMatches(mt *MemTuple) bool {
	d := s.idx.desc
	for attno := 0; attno < d.NumAttrs(); attno++ {
		if len(s.keys[attno]) == 0 && len(s.nullKeys[attno]) == 0 {
			continue
		}
		bv := &mt.Columns[attno]
		keys := s.keys[attno]
		if d.Info[attno].RegularNulls {
			if !checkNullKeys(bv, s.nullKeys[attno]) {
				return false
			}
			if len(keys) == 0 {
				continue
			}
			// A column that is entirely null cannot satisfy a value
			// predicate.
			if bv.AllNulls {
				return false
			}
		} else if len(s.nullKeys[attno]) > 0 {
			// The opclass asked to see null keys itself.
			keys = append(append([]*ScanKey{}, keys...), s.nullKeys[attno]...)
		}
		if d.batch[attno] {
			if !d.Opclasses[attno].(BatchConsistent).ConsistentBatch(bv, keys) {
				return false
			}
		} else {
			oc := d.Opclasses[attno].(KeyConsistent)
			for _, k := range keys {
				if !oc.Consistent(bv, k) {
					return false
				}
			}
		}
	}
	return true
}

// GetBitmap adds every heap page that might hold matching rows to tbm and
// returns a loose row estimate, ten per emitted page. Unsummarized and
// placeholder ranges always match; the summaries cannot speak for them.
func (s *Scanner) GetBitmap(ctx context.Context, heapRel heap.Relation, tbm *roaring.Bitmap) (int64, error) {
	nblocks := heapRel.NumberOfBlocks()
	ppr := s.rm.pagesPerRange
	var totalPages int64

	addRange := func(start common.BlockNumber) {
		end := start + ppr
		if end > nblocks {
			end = nblocks
		}
		for b := start; b < end; b++ {
			tbm.Add(b)
		}
		totalPages += int64(end - start)
	}

	for heapBlk := common.BlockNumber(0); heapBlk < nblocks; heapBlk += ppr {
		if err := common.CheckInterrupt(ctx); err != nil {
			return totalPages * 10, err
		}
		tup, _, err := s.rm.getTupleForHeapBlock(ctx, heapBlk)
		if err != nil {
			return totalPages * 10, err
		}
		if tup == nil || TupleIsPlaceholder(tup) {
			addRange(heapBlk)
			continue
		}
		mt, err := s.idx.desc.DeformTuple(tup)
		if err != nil {
			return totalPages * 10, err
		}
		if mt.Empty && s.anyRegular {
			continue
		}
		if s.rangeMatches(mt) {
			addRange(heapBlk)
		}
	}
	return totalPages * 10, nil
}
