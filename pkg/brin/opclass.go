package brin

import (
	"brin/pkg/common"
)

// Attribute describes one indexed column. Len is the fixed byte length of
// values of the column's type, or VarLen for variable-length values.
type Attribute struct {
	Name string
	Len  int
}

// VarLen marks a variable-length attribute or stored datum.
const VarLen = -1

// OpcInfo is what an opclass reports about its stored representation for one
// attribute.
type OpcInfo struct {
	// NStored is the number of datums kept per column in a summary tuple.
	NStored int
	// StoredLens gives the byte length of each stored datum, VarLen for
	// variable-length ones. Must have NStored entries.
	StoredLens []int
	// RegularNulls asks the engine to track null flags and answer
	// IS [NOT] NULL keys itself; AddValue is then never called with a null.
	RegularNulls bool
}

// Opclass is the pluggable per-column summarization strategy. An opclass must
// additionally implement KeyConsistent or BatchConsistent (or both); which
// one is recorded when the descriptor is built.
type Opclass interface {
	OpcInfo(attr Attribute) OpcInfo

	// AddValue folds one heap value into the column summary and reports
	// whether the summary changed. With RegularNulls set the engine strips
	// nulls first.
	AddValue(bv *Values, value common.Datum, isNull bool) bool

	// Union merges b into a. Both hold stored values (the engine resolves
	// null-flag-only merges before calling).
	Union(a, b *Values)
}

// KeyConsistent answers one scan key at a time; the engine short-circuits on
// the first false.
type KeyConsistent interface {
	Consistent(bv *Values, key *ScanKey) bool
}

// BatchConsistent answers all keys for an attribute in one call.
type BatchConsistent interface {
	ConsistentBatch(bv *Values, keys []*ScanKey) bool
}

// Strategy numbers for scan keys.
type Strategy int16

const (
	Less Strategy = iota + 1
	LessEqual
	Equal
	GreaterEqual
	Greater
)

// ScanKey is one predicate over an indexed attribute. AttNum is 0-based.
// A key with SearchNull or SearchNotNull set carries no value.
type ScanKey struct {
	AttNum        int
	Strategy      Strategy
	Value         common.Datum
	SearchNull    bool
	SearchNotNull bool
}

func (k *ScanKey) IsNullKey() bool { return k.SearchNull || k.SearchNotNull }
