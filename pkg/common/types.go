package common

import (
	"context"
	"fmt"
	"math"
)

// BlockNumber identifies a page within a relation file.
type BlockNumber = uint32

const (
	InvalidBlockNumber BlockNumber = math.MaxUint32
	MaxBlockNumber     BlockNumber = math.MaxUint32 - 1
)

// OffsetNumber identifies a line pointer slot within a page. Slots are
// numbered from 1; zero is invalid.
type OffsetNumber = uint16

const (
	InvalidOffsetNumber OffsetNumber = 0
	FirstOffsetNumber   OffsetNumber = 1
)

// ItemPointer locates a physical tuple: (block, line pointer offset).
// The zero value is the invalid pointer; block 0 of an index is always the
// metapage, so (0,0) can never address a real tuple.
type ItemPointer struct {
	Block  BlockNumber
	Offset OffsetNumber
}

func NewItemPointer(blk BlockNumber, off OffsetNumber) ItemPointer {
	return ItemPointer{Block: blk, Offset: off}
}

func (ip ItemPointer) IsValid() bool {
	return !(ip.Block == 0 && ip.Offset == InvalidOffsetNumber)
}

func (ip ItemPointer) String() string {
	return fmt.Sprintf("(%d,%d)", ip.Block, ip.Offset)
}

// Key packs the pointer into a 64-bit value usable as a bitmap member.
func (ip ItemPointer) Key() uint64 {
	return uint64(ip.Block)<<16 | uint64(ip.Offset)
}

// Datum is one column value in its opclass-defined byte encoding. Nil is not
// meaningful as a value; null-ness travels in separate flags.
type Datum []byte

// CheckInterrupt is the cancellation probe called once per iteration by every
// looping operation (summarize retry, evacuation, scans).
func CheckInterrupt(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
