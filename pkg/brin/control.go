package brin

import (
	"context"
	"fmt"

	"brin/pkg/common"
	"brin/pkg/heap"
)

// AllBlockRanges asks the range maintenance calls to process every range.
const AllBlockRanges = common.InvalidBlockNumber

// AccessContext identifies the caller of a maintenance operation. Owner
// checks compare its User against the index owner; a Superuser bypasses
// them.
type AccessContext struct {
	User      string
	Superuser bool
}

func (idx *Index) checkOwner(acc AccessContext) error {
	if acc.Superuser || idx.owner == "" || acc.User == idx.owner {
		return nil
	}
	return fmt.Errorf("%w: %q must own index %s", ErrNotOwner, acc.User, idx.name)
}

// SummarizeNewValues summarizes every unsummarized range, the trailing
// partial one included. Returns the number of ranges summarized.
func (idx *Index) SummarizeNewValues(ctx context.Context, acc AccessContext, heapRel heap.Relation) (int64, error) {
	return idx.SummarizeRange(ctx, acc, heapRel, AllBlockRanges)
}

// SummarizeRange summarizes the range containing heapBlk, or every range
// when given AllBlockRanges. Already-summarized ranges count zero.
func (idx *Index) SummarizeRange(ctx context.Context, acc AccessContext, heapRel heap.Relation,
	heapBlk common.BlockNumber) (int64, error) {
	if err := idx.checkOwner(acc); err != nil {
		return 0, err
	}
	if idx.inRecovery() {
		return 0, ErrRecoveryInProgress
	}
	if heapBlk == AllBlockRanges {
		return idx.summarizeAll(ctx, heapRel, true)
	}
	rm, err := idx.initRevmap()
	if err != nil {
		return 0, err
	}
	rangeStart := rm.rangeStart(heapBlk)
	rm.release()
	ok, err := idx.summarizeRangeStart(ctx, heapRel, rangeStart)
	if err != nil {
		return 0, err
	}
	if ok {
		return 1, nil
	}
	return 0, nil
}

// DesummarizeRange removes the summary of the range containing heapBlk, so
// the next summarization rebuilds it from the heap. Removing a summary a
// concurrent insert is updating just retries until the insert finishes.
func (idx *Index) DesummarizeRange(ctx context.Context, acc AccessContext, heapBlk common.BlockNumber) error {
	if err := idx.checkOwner(acc); err != nil {
		return err
	}
	if idx.inRecovery() {
		return ErrRecoveryInProgress
	}
	rm, err := idx.initRevmap()
	if err != nil {
		return err
	}
	defer rm.release()
	for {
		if err := common.CheckInterrupt(ctx); err != nil {
			return err
		}
		done, err := rm.desummarize(heapBlk)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
