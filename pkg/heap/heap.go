// The heap access contract consumed by index build and summarization. The
// heap itself is an external collaborator; this package pins down the scan
// surface the index needs and ships an in-memory implementation for tests
// and embedding.
package heap

import (
	"context"

	"brin/pkg/common"
)

// BuildCallback receives one heap tuple during an index build scan. blk is
// the heap block holding the tuple. Values and nulls are per indexed column.
type BuildCallback func(blk common.BlockNumber, values []common.Datum, nulls []bool) error

// Relation is the part of a heap the index engine consumes. Scans run in
// "any visible" mode: in-progress rows are delivered, since summaries must
// cover them.
type Relation interface {
	NumberOfBlocks() common.BlockNumber

	// IndexBuildScan scans the whole heap in physical block order.
	// Returns the number of tuples delivered.
	IndexBuildScan(ctx context.Context, cb BuildCallback) (int64, error)

	// IndexBuildRangeScan scans blocks [from, from+count), clamped to the
	// relation end.
	IndexBuildRangeScan(ctx context.Context, from, count common.BlockNumber, cb BuildCallback) (int64, error)
}
